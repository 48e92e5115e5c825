package arena

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

const (
	// UnitBytes is the size of one allocation unit: two 8-byte tokens.
	UnitBytes = 16

	// GrowthChunkBytes is the minimum amount of fresh backing memory
	// committed each time the arena needs to grow, mirroring the
	// original's 32 KiB growth increment.
	GrowthChunkBytes = 1 << 15
)

// Arena is a contiguous, fixed-base virtual region carved into
// UnitBytes-sized units on demand. Two monotone high-water marks track
// its state: mappedUpto (how much backing memory has been committed) and
// bump (how much has ever been handed out). Arena is not safe for
// concurrent use; callers serialize access with their own lock (see
// package heap).
type Arena struct {
	mem        []byte
	base       uintptr
	poolUnits  uint64
	mappedUpto uint64
	bump       uint64
	pageSize   uint64
	populate   bool
}

// New reserves a poolBytes-sized address range and returns an Arena backed
// by it. No memory is actually committed (readable/writable) until Carve
// grows into it. poolBytes must be page-aligned and large enough to hold
// at least one growth chunk.
func New(poolBytes uint64, populate bool) (*Arena, error) {
	pageSize := uint64(unix.Getpagesize())
	if poolBytes%pageSize != 0 {
		return nil, errors.Newf(
			"invalid pool size (%d); must be divisible by the page size (%d)",
			poolBytes, pageSize)
	}
	if poolBytes < GrowthChunkBytes {
		return nil, errors.Newf(
			"invalid pool size (%d); must exceed one growth chunk (%d)",
			poolBytes, uint64(GrowthChunkBytes))
	}

	mem, err := unix.Mmap(-1, 0, int(poolBytes), unix.PROT_NONE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, errors.Wrap(err, "failed to reserve memory pool")
	}

	return &Arena{
		mem:       mem,
		base:      uintptr(unsafe.Pointer(&mem[0])),
		poolUnits: poolBytes / UnitBytes,
		pageSize:  pageSize,
		populate:  populate,
	}, nil
}

// Base returns the arena's fixed base address.
func (a *Arena) Base() uintptr { return a.base }

// Bump returns the number of units ever handed out by Carve.
func (a *Arena) Bump() uint64 { return a.bump }

// Owns reports whether p falls inside the arena's reserved address range.
// This needs no lock: the bounds are fixed at construction time.
func (a *Arena) Owns(p uintptr) bool {
	return p >= a.base && p < a.base+uintptr(a.poolUnits*UnitBytes)
}

// Carve hands out unitCount fresh units, growing the backing mapping first
// if necessary, and returns the base address of the new region. Carving
// never returns recycled memory.
func (a *Arena) Carve(unitCount uint64) (uintptr, error) {
	if a.bump+unitCount > a.poolUnits {
		return 0, errors.Newf(
			"out of memory: arena exhausted (%d of %d units requested)",
			a.bump+unitCount, a.poolUnits)
	}

	if a.bump+unitCount > a.mappedUpto {
		if err := a.grow(a.bump + unitCount); err != nil {
			return 0, err
		}
	}

	base := a.base + uintptr(a.bump*UnitBytes)
	a.bump += unitCount
	return base, nil
}

// grow extends mappedUpto to cover at least upto units, in increments of
// at least one growth chunk, rounded up to a whole number of pages.
func (a *Arena) grow(upto uint64) error {
	needed := upto - a.mappedUpto
	growthUnits := uint64(GrowthChunkBytes / UnitBytes)
	if needed < growthUnits {
		needed = growthUnits
	}
	target := a.mappedUpto + needed

	unitsPerPage := a.pageSize / UnitBytes
	if rem := target % unitsPerPage; rem != 0 {
		target += unitsPerPage - rem
	}
	if target > a.poolUnits {
		target = a.poolUnits
	}

	start := a.mappedUpto * UnitBytes
	end := target * UnitBytes
	if err := unix.Mprotect(a.mem[start:end], unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return errors.Wrap(err, "failed to grow memory pool")
	}
	if a.populate {
		// Touch the first byte of every newly committed page to force
		// the kernel to fault it in immediately rather than lazily.
		for off := start; off < end; off += a.pageSize {
			a.mem[off] = a.mem[off]
		}
	}
	a.mappedUpto = target
	return nil
}
