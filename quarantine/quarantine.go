package quarantine

import (
	"math/bits"

	"github.com/Teemperor/ReZZan/arena"
)

const (
	// NumClasses is the number of size-classed FIFO buckets.
	NumClasses = 20

	// ScanDepth bounds how many entries of a bucket TryAllocate inspects
	// before giving up on that bucket, keeping allocation O(1) instead of
	// O(quarantine size).
	ScanDepth = 8

	noNode = int32(-1)
)

// Class returns the size class a region of the given unit count falls
// into: min(19, floor(log2(units))+1).
func Class(units uint64) int {
	if units == 0 {
		units = 1
	}
	c := bits.Len64(units)
	if c > NumClasses-1 {
		c = NumClasses - 1
	}
	return c
}

// node is one quarantined region. Nodes are metadata only -- addr/units
// describe a range inside the arena, never memory owned by the node
// itself -- so node structs are recycled independently of the ranges they
// describe.
type node struct {
	addr  uintptr
	units uint64
	next  int32
}

// Quarantine holds released-but-not-yet-reusable regions in size-classed
// FIFO lists. It is not safe for concurrent use; callers serialize access
// with their own lock (see package heap).
type Quarantine struct {
	heads [NumClasses]int32
	tails [NumClasses]int32
	pool  []node
	free  int32 // head of the recycled-node freelist, or noNode
	count uint64
	units uint64
}

// New returns an empty Quarantine.
func New() *Quarantine {
	q := &Quarantine{free: noNode}
	for i := range q.heads {
		q.heads[i] = noNode
		q.tails[i] = noNode
	}
	return q
}

// Count returns the number of regions currently quarantined.
func (q *Quarantine) Count() uint64 { return q.count }

// Units returns the total number of units currently quarantined.
func (q *Quarantine) Units() uint64 { return q.units }

func (q *Quarantine) allocNode(addr uintptr, units uint64, next int32) int32 {
	if q.free != noNode {
		idx := q.free
		q.free = q.pool[idx].next
		q.pool[idx] = node{addr: addr, units: units, next: next}
		return idx
	}
	q.pool = append(q.pool, node{addr: addr, units: units, next: next})
	return int32(len(q.pool) - 1)
}

func (q *Quarantine) releaseNode(idx int32) {
	q.pool[idx] = node{next: q.free}
	q.free = idx
}

// Insert appends a newly released region to the back of its size class's
// FIFO list. Back-insertion maximizes a region's residency time before
// reuse, maximizing the chance that a stale access into it is caught.
func (q *Quarantine) Insert(addr uintptr, units uint64) {
	class := Class(units)
	idx := q.allocNode(addr, units, noNode)
	if q.tails[class] == noNode {
		q.heads[class] = idx
	} else {
		q.pool[q.tails[class]].next = idx
	}
	q.tails[class] = idx
	q.count++
	q.units += units
}

// insertFront pushes a split residual onto the front of its size class's
// list. LIFO reuse of a residual (rather than FIFO, as for a freshly
// released region) favors cache locality, since the residual was just
// touched a moment ago by the split that produced it.
func (q *Quarantine) insertFront(addr uintptr, units uint64) {
	class := Class(units)
	idx := q.allocNode(addr, units, q.heads[class])
	q.heads[class] = idx
	if q.tails[class] == noNode {
		q.tails[class] = idx
	}
	q.count++
	q.units += units
}

// TryAllocate looks for a quarantined region able to satisfy a request of
// the given unit count. It first scans up to ScanDepth entries of the
// exact size class, then falls back to the front entry of every larger
// class in turn, smallest first, until one is found or every class has
// been checked. A region strictly larger than requested is split: the
// trailing unitCount units (the high end of the capsule) are returned to
// the caller, preserving the low boundary's existing poison pattern, and
// the low residual is reinserted at the front of its own size class's
// list.
//
// TryAllocate reports ok=false if no quarantined region can satisfy the
// request.
func (q *Quarantine) TryAllocate(unitCount uint64) (addr uintptr, ok bool) {
	class := Class(unitCount)

	if addr, ok := q.scanClass(class, unitCount, ScanDepth); ok {
		return addr, true
	}
	for c := class + 1; c < NumClasses; c++ {
		if addr, ok := q.scanClass(c, unitCount, 1); ok {
			return addr, true
		}
	}
	return 0, false
}

// scanClass walks up to depth entries of heads[class] looking for the
// first region with units >= unitCount, unlinks it, splits off any
// residual, and returns the high-end base address the caller should use.
func (q *Quarantine) scanClass(class int, unitCount uint64, depth int) (uintptr, bool) {
	var prev int32 = noNode
	cur := q.heads[class]
	for i := 0; cur != noNode && i < depth; i++ {
		n := q.pool[cur]
		if n.units >= unitCount {
			q.unlink(class, prev, cur)
			q.count--
			q.units -= n.units

			addr := n.addr
			if n.units > unitCount {
				residualUnits := n.units - unitCount
				addr = n.addr + uintptr(residualUnits*arena.UnitBytes)
				q.insertFront(n.addr, residualUnits)
			}
			return addr, true
		}
		prev = cur
		cur = n.next
	}
	return 0, false
}

func (q *Quarantine) unlink(class int, prev, cur int32) {
	next := q.pool[cur].next
	if prev == noNode {
		q.heads[class] = next
	} else {
		q.pool[prev].next = next
	}
	if q.tails[class] == cur {
		q.tails[class] = prev
	}
	q.releaseNode(cur)
}
