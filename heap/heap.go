package heap

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/Teemperor/ReZZan/arena"
	"github.com/Teemperor/ReZZan/check"
	"github.com/Teemperor/ReZZan/quarantine"
	"github.com/Teemperor/ReZZan/token"
)

// Config is the set of parameters New builds a Heap from.
type Config struct {
	// PoolBytes is the size of the arena's reserved address range.
	PoolBytes uint64
	// Mode selects the token encoding.
	Mode token.Mode
	// Populate eagerly faults in newly committed arena pages instead of
	// leaving that to the first touch.
	Populate bool
	// QuarantineThreshold is the delayed-reuse threshold in bytes:
	// quarantined regions are only handed back out once total
	// quarantine usage exceeds it.
	QuarantineThreshold uint64
	// Disabled bypasses the sanitizer entirely: every allocation is
	// delegated to Go's own allocator instead of the arena.
	Disabled bool
	// Checks enables the expensive post-allocation self-check mode:
	// every Allocate re-derives and re-verifies the capsule it just
	// built instead of trusting its own bookkeeping.
	Checks bool
}

// Heap is the top-level allocator: a fixed-address arena, a nonce page,
// and a quarantine, all guarded by a single mutex. Every exported method
// is safe for concurrent use.
//
// When disabled, Heap bypasses the arena, quarantine and token machinery
// entirely and delegates straight to Go's own allocator; this is the
// rendition of "pass everything through to host allocator" for a
// process that has no other host allocator to fall back to.
type Heap struct {
	mu         sync.Mutex
	page       *token.Page
	arena      *arena.Arena
	quarantine *quarantine.Quarantine

	quarantineThreshold uint64
	checks              bool
	disabled            bool
	passthrough         map[uintptr][]byte
}

// New builds a Heap from cfg. Unit 0 of the arena is reserved and both of
// its tokens are poisoned as a permanent sentinel capsule: every real
// capsule's base sentinel check (see Release) depends on the word before
// it always being a legitimate token, including the very first capsule
// ever carved.
func New(cfg Config) (*Heap, error) {
	h := &Heap{
		quarantineThreshold: cfg.QuarantineThreshold,
		checks:              cfg.Checks,
		disabled:            cfg.Disabled,
	}
	if cfg.Disabled {
		h.passthrough = make(map[uintptr][]byte)
		return h, nil
	}

	page, err := token.NewPage(cfg.Mode)
	if err != nil {
		return nil, err
	}
	a, err := arena.New(cfg.PoolBytes, cfg.Populate)
	if err != nil {
		return nil, err
	}
	h.page = page
	h.arena = a
	h.quarantine = quarantine.New()

	sentinel, err := a.Carve(1)
	if err != nil {
		return nil, err
	}
	token.Set(h.page, sentinel, 0)
	token.Set(h.page, sentinel+token.TokenBytes, 0)
	return h, nil
}

// Page returns the heap's nonce page, for callers (interceptors, cshim)
// that need to run Check themselves against raw pointers not obtained
// through Allocate. It is nil when the heap is disabled.
func (h *Heap) Page() *token.Page { return h.page }

// Enabled reports whether the heap is running the sanitizer, as opposed
// to delegating straight to the host allocator.
func (h *Heap) Enabled() bool { return !h.disabled }

// Owns reports whether addr belongs to this heap. When disabled, that
// means addr is a live passthrough allocation; otherwise it means addr
// falls inside the arena's address range, whether or not it is a live
// capsule base.
func (h *Heap) Owns(addr uintptr) bool {
	if h.disabled {
		h.mu.Lock()
		_, ok := h.passthrough[addr]
		h.mu.Unlock()
		return ok
	}
	return h.arena.Owns(addr)
}

// CarvedBytes returns the total number of bytes ever carved from the
// arena, including all redzone overhead. It never decreases.
func (h *Heap) CarvedBytes() uint64 {
	if h.disabled {
		return 0
	}
	return h.arena.Bump() * arena.UnitBytes
}

// QuarantinedBytes returns the number of bytes currently sitting in
// quarantine, awaiting reuse.
func (h *Heap) QuarantinedBytes() uint64 {
	if h.disabled {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.quarantine.Units() * arena.UnitBytes
}

// Allocate reserves a capsule able to hold n live bytes and returns its
// base address. A request for zero bytes is rounded up to one, matching
// malloc's guarantee of a unique, freeable, non-nil pointer.
func (h *Heap) Allocate(n uint64) (uintptr, error) {
	if h.disabled {
		return h.passthroughAllocate(n)
	}
	if n == 0 {
		n = 1
	}
	totalBytes := n + token.TokenBytes
	unitCount := (totalBytes + arena.UnitBytes - 1) / arena.UnitBytes
	// The trailing token's boundary field records how many bytes of the
	// payload's own last word are live; 0 is the aligned special case
	// meaning the whole word is live.
	liveBoundary := token.Boundary(n % token.TokenBytes)

	h.mu.Lock()
	var base uintptr
	var ok bool
	if h.quarantine.Units()*arena.UnitBytes > h.quarantineThreshold {
		base, ok = h.quarantine.TryAllocate(unitCount)
	}
	if !ok {
		var err error
		base, err = h.arena.Carve(unitCount)
		if err != nil {
			h.mu.Unlock()
			return 0, err
		}
	}
	totalRegion := uintptr(unitCount * arena.UnitBytes)
	sentinelWord := base + totalRegion - token.TokenBytes
	firstTokenWord := (base + uintptr(n) + token.TokenBytes - 1) &^ (token.TokenBytes - 1)
	if firstTokenWord == sentinelWord {
		token.Set(h.page, sentinelWord, liveBoundary)
	} else {
		token.Set(h.page, sentinelWord, 0)
	}
	h.mu.Unlock()

	// The rest of the redzone, and the payload itself, touch only units
	// nobody else can reference yet, so it is safe to write unlocked.
	if firstTokenWord != sentinelWord {
		token.Set(h.page, firstTokenWord, liveBoundary)
		for w := sentinelWord - token.TokenBytes; w > firstTokenWord; w -= token.TokenBytes {
			token.Set(h.page, w, 0)
		}
	}
	// A capsule reused out of quarantine has its whole range poisoned
	// from the release that put it there; a fresh arena carve is
	// already zero. Either way, every payload word must be cleared so a
	// leftover poison pattern from a prior tenant can't be
	// misidentified as live redzone.
	for w := base; w < firstTokenWord; w += token.TokenBytes {
		token.ZeroToken(w)
	}

	if h.checks {
		h.selfCheckCapsule(base, n, unitCount)
	}
	return base, nil
}

// ZeroedAllocate is Allocate for a zero-initialized capsule of count*size
// bytes, matching calloc's contract. Allocate already zeroes every
// payload word as part of clearing leftover quarantine poison, so no
// additional zeroing pass is needed here; when the heap's expensive
// self-check mode is enabled, the region is re-scanned byte-by-byte to
// confirm that guarantee actually held.
func (h *Heap) ZeroedAllocate(count, size uint64) (uintptr, error) {
	n := count * size
	addr, err := h.Allocate(n)
	if err != nil {
		return 0, err
	}
	if h.checks && !h.disabled {
		h.selfCheckZeroed(addr, n)
	}
	return addr, nil
}

// selfCheckCapsule re-derives a freshly built capsule's structure from
// scratch and traps if anything about it disagrees with what Allocate
// just wrote: the base is unit-aligned, the payload fits its unit count,
// the word before the base is a legitimate sentinel, every payload word
// reads as live, and every redzone word up to the capsule's own trailing
// sentinel reads as poisoned. This is REZZAN_CHECKS's expensive
// post-allocation self-check.
func (h *Heap) selfCheckCapsule(base uintptr, n, unitCount uint64) {
	if (base-h.arena.Base())%arena.UnitBytes != 0 {
		check.Fail("self-check: capsule base is not unit-aligned", base, 0)
	}
	if n >= unitCount*arena.UnitBytes {
		check.Fail("self-check: payload does not fit its unit count", base, n)
	}
	if !token.Test(h.page, base-token.TokenBytes) {
		check.Fail("self-check: word preceding capsule base is not poisoned", base-token.TokenBytes, 0)
	}

	firstTokenWord := (base + uintptr(n) + token.TokenBytes - 1) &^ (token.TokenBytes - 1)
	end := base + uintptr(unitCount*arena.UnitBytes)
	for w := base; w < firstTokenWord; w += token.TokenBytes {
		if token.Test(h.page, w) {
			check.Fail("self-check: live payload word reads as poisoned", w, token.TokenBytes)
		}
	}
	for w := firstTokenWord; w < end; w += token.TokenBytes {
		if !token.Test(h.page, w) {
			check.Fail("self-check: redzone word is not poisoned", w, token.TokenBytes)
		}
	}
}

// selfCheckZeroed re-scans a freshly zeroed capsule byte-by-byte to
// confirm every byte is actually zero.
func (h *Heap) selfCheckZeroed(addr uintptr, n uint64) {
	for _, b := range unsafeBytes(addr, n) {
		if b != 0 {
			check.Fail("self-check: calloc region is not all-zero", addr, n)
			return
		}
	}
}

// liveWords counts the number of consecutive non-poisoned 8-byte words
// starting at addr, stopping at (and not counting) the first poisoned
// word it finds.
func (h *Heap) liveWords(addr uintptr) (uint64, error) {
	limit := h.arena.Base() + uintptr(h.arena.Bump()*arena.UnitBytes)
	var words uint64
	for w := addr; w < limit; w += token.TokenBytes {
		if token.Test(h.page, w) {
			return words, nil
		}
		words++
	}
	return 0, errors.New("corrupt heap: capsule has no trailing token")
}

// capsuleUnits walks forward from a capsule base to its trailing token
// and returns the capsule's total unit count.
func (h *Heap) capsuleUnits(addr uintptr) (uint64, error) {
	words, err := h.liveWords(addr)
	if err != nil {
		return 0, err
	}
	totalBytes := (words + 1) * token.TokenBytes
	return (totalBytes + arena.UnitBytes - 1) / arena.UnitBytes, nil
}

// UsableSize returns the number of bytes available to the caller through
// addr: the count of consecutive non-poisoned words starting at addr,
// times 8. A partially live last word is counted whole, so this may
// exceed the size originally requested by up to 7 bytes of alignment
// slack; the token words of the capsule's redzone are never counted.
func (h *Heap) UsableSize(addr uintptr) (uint64, error) {
	if h.disabled {
		h.mu.Lock()
		buf, ok := h.passthrough[addr]
		h.mu.Unlock()
		if !ok {
			return 0, errors.New("not a live capsule")
		}
		return uint64(len(buf)), nil
	}
	if !h.arena.Owns(addr) {
		return 0, errors.New("not a live capsule")
	}
	words, err := h.liveWords(addr)
	if err != nil {
		return 0, err
	}
	return words * token.TokenBytes, nil
}

// Release quarantines a previously allocated capsule. It traps
// immediately, via check.Fail, if addr is not a live capsule base owned
// by this heap.
func (h *Heap) Release(addr uintptr) error {
	if h.disabled {
		return h.passthroughRelease(addr)
	}
	if !h.arena.Owns(addr) {
		check.Fail("free of pointer not owned by this heap", addr, 0)
		return errors.New("bad free")
	}
	if (addr-h.arena.Base())%arena.UnitBytes != 0 {
		check.Fail("free of pointer not at a capsule base", addr, 0)
		return errors.New("bad free")
	}
	if !token.Test(h.page, addr-token.TokenBytes) {
		check.Fail("free of pointer that does not point to object base", addr, 0)
		return errors.New("bad free")
	}
	if token.Test(h.page, addr) {
		check.Fail("double free or free of invalid pointer", addr, 0)
		return errors.New("bad free")
	}

	units, err := h.capsuleUnits(addr)
	if err != nil {
		check.Fail("free of corrupted capsule", addr, 0)
		return err
	}

	// Poison the whole capsule, not just its redzone: the payload itself
	// must read as poisoned from this point on, or a use-after-free
	// through the caller's now-dangling pointer would go undetected
	// until the region happens to be carved out again. Nothing else can
	// reach these addresses until Insert below makes them eligible for
	// reuse, so this is safe to do unlocked.
	end := addr + uintptr(units*arena.UnitBytes)
	for w := addr; w < end; w += token.TokenBytes {
		token.Set(h.page, w, 0)
	}

	h.mu.Lock()
	h.quarantine.Insert(addr, units)
	h.mu.Unlock()
	return nil
}

// Resize allocates a new capsule of newSize bytes, copies over the
// lesser of the old usable size and newSize, and releases the original
// capsule.
func (h *Heap) Resize(addr uintptr, newSize uint64) (uintptr, error) {
	oldUsable, err := h.UsableSize(addr)
	if err != nil {
		return 0, err
	}

	newAddr, err := h.Allocate(newSize)
	if err != nil {
		return 0, err
	}

	toCopy := oldUsable
	if newSize < toCopy {
		toCopy = newSize
	}
	if toCopy > 0 {
		src := unsafeBytes(addr, toCopy)
		dst := unsafeBytes(newAddr, toCopy)
		copy(dst, src)
	}

	if err := h.Release(addr); err != nil {
		return 0, err
	}
	return newAddr, nil
}

// CheckAccess reports whether [addr, addr+n) overlaps any poisoned byte.
// A disabled heap runs no checks at all, since it never poisons anything.
func (h *Heap) CheckAccess(addr uintptr, n uint64) bool {
	if h.disabled {
		return false
	}
	return check.Check(h.page, addr, n)
}

// passthroughAllocate serves an allocation from Go's own allocator. The
// backing slice is kept alive by h.passthrough for as long as the
// pointer is live; Go's collector never moves a heap-allocated byte
// slice's backing array, so the address handed out here stays valid
// until passthroughRelease drops the reference.
func (h *Heap) passthroughAllocate(n uint64) (uintptr, error) {
	if n == 0 {
		n = 1
	}
	buf := make([]byte, n)
	addr := unsafeAddr(&buf[0])

	h.mu.Lock()
	h.passthrough[addr] = buf
	h.mu.Unlock()
	return addr, nil
}

func (h *Heap) passthroughRelease(addr uintptr) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.passthrough[addr]; !ok {
		return errors.New("bad free: pointer not allocated by this heap")
	}
	delete(h.passthrough, addr)
	return nil
}
