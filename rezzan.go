package rezzan

import (
	"os"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/Teemperor/ReZZan/config"
	"github.com/Teemperor/ReZZan/heap"
	"github.com/Teemperor/ReZZan/intercept"
	"github.com/Teemperor/ReZZan/stats"
)

var (
	initOnce sync.Once
	initErr  error
	theHeap  *heap.Heap
	theOpts  config.Options
	counters stats.Counters
)

// Init lazily constructs the process-wide heap from the REZZAN_*
// environment variables. It is safe to call Init explicitly to surface a
// configuration error early; every other exported function calls it
// automatically on first use.
func Init() error {
	initOnce.Do(func() {
		opts, err := config.Load()
		if err != nil {
			initErr = err
			return
		}
		theOpts = opts
		theHeap, initErr = heap.New(heap.Config{
			PoolBytes:           opts.PoolBytes,
			Mode:                opts.Mode,
			Populate:            opts.Populate,
			QuarantineThreshold: opts.QuarantineBytes,
			Disabled:            opts.Disabled,
			Checks:              opts.Checks,
		})
	})
	return initErr
}

func mustInit() *heap.Heap {
	if err := Init(); err != nil {
		panic(err)
	}
	return theHeap
}

// Malloc allocates n bytes and returns their address. It never returns
// an address that fails to satisfy the request; startup or arena
// exhaustion failures panic rather than returning a nil-equivalent,
// since a caller with no error return path (the C ABI this mirrors) has
// no way to check for one anyway.
func Malloc(n uint64) uintptr {
	h := mustInit()
	addr, err := h.Allocate(n)
	if err != nil {
		panic(err)
	}
	counters.RecordAllocate(n)
	return addr
}

// Free releases a capsule previously returned by Malloc, Calloc or
// Realloc. Freeing the zero address is a no-op, matching free(NULL).
func Free(addr uintptr) {
	h := mustInit()
	if addr == 0 {
		return
	}
	if err := h.Release(addr); err != nil {
		// With the sanitizer enabled, a safety violation already trapped
		// inside Release, so reaching here means Trap was swapped out
		// (tests only). A disabled heap returns an error for an unknown
		// pointer without trapping.
		return
	}
	counters.RecordFree()
}

// Realloc resizes a capsule, preserving its contents up to the smaller
// of the old and new sizes. Realloc(0, n) behaves like Malloc(n);
// Realloc(addr, 0) behaves like Free(addr).
func Realloc(addr uintptr, newSize uint64) uintptr {
	h := mustInit()
	if addr == 0 {
		return Malloc(newSize)
	}
	if newSize == 0 {
		Free(addr)
		return 0
	}
	newAddr, err := h.Resize(addr, newSize)
	if err != nil {
		panic(err)
	}
	counters.RecordAllocate(newSize)
	counters.RecordFree()
	return newAddr
}

// Calloc allocates space for count elements of size bytes each,
// zero-initialized, and panics if count*size overflows.
func Calloc(count, size uint64) uintptr {
	h := mustInit()
	if count != 0 && size > (^uint64(0))/count {
		panic(errors.Newf("calloc: %d * %d overflows", count, size))
	}
	addr, err := h.ZeroedAllocate(count, size)
	if err != nil {
		panic(err)
	}
	counters.RecordAllocate(count * size)
	return addr
}

// UsableSize returns the number of bytes available through addr, or 0 if
// addr is not a live capsule base.
func UsableSize(addr uintptr) uint64 {
	h := mustInit()
	n, err := h.UsableSize(addr)
	if err != nil {
		return 0
	}
	return n
}

// Stats returns a snapshot of lifetime allocation counters.
func Stats() stats.Snapshot {
	h := mustInit()
	return counters.Snapshot(h.CarvedBytes(), h.QuarantinedBytes())
}

// Snprintf formats args into dst, checking dst's bound against the
// redzone; it never checks the argument bytes of a CString %s argument,
// matching REZZAN_PRINTF's opt-in scope which applies only to Printf.
func Snprintf(dst uintptr, size uint64, format string, args ...interface{}) uint64 {
	h := mustInit()
	return intercept.Snprintf(h, dst, size, format, args...)
}

// Printf formats args and writes the result to stdout. A CString %s
// argument's bytes are checked against the redzone only when the process
// was started with REZZAN_PRINTF set.
func Printf(format string, args ...interface{}) (int, error) {
	h := mustInit()
	return intercept.Printf(h, theOpts.Printf, format, args...)
}

// FlushStats prints the REZZAN_STATS report to stderr if the process was
// started with REZZAN_STATS set, and is a no-op otherwise. cmd/cshim
// registers this with atexit so a program linked against the shim gets
// the report without having to call into Go itself.
func FlushStats() {
	if initErr != nil || !theOpts.Stats {
		return
	}
	Stats().WriteReport(os.Stderr)
}
