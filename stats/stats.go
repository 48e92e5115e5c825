package stats

import (
	"fmt"
	"io"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Counters accumulates lifetime allocator activity. The zero value is
// ready to use.
type Counters struct {
	allocations uint64
	frees       uint64
}

// RecordAllocate records a successful allocation.
func (c *Counters) RecordAllocate(n uint64) {
	atomic.AddUint64(&c.allocations, 1)
}

// RecordFree records a successful release.
func (c *Counters) RecordFree() {
	atomic.AddUint64(&c.frees, 1)
}

// Snapshot is a point-in-time copy of a Counters, plus process- and
// heap-level figures pulled in at the moment it is taken. RSSKiB,
// PageFaults() (the sum of the two fault fields), CarvedBytes and
// QuarantinedBytes are the four figures the on-exit report prints.
type Snapshot struct {
	Allocations uint64
	Frees       uint64
	Live        uint64

	// RSSKiB and the fault counts come straight from getrusage(2) and
	// are only as fresh as the last syscall; they are not tracked
	// incrementally like the counters above.
	RSSKiB          int64
	MinorPageFaults int64
	MajorPageFaults int64

	// CarvedBytes is the total number of bytes ever carved from the
	// arena; QuarantinedBytes is how much of that is currently sitting
	// in quarantine awaiting reuse.
	CarvedBytes      uint64
	QuarantinedBytes uint64
}

// PageFaults returns the combined minor and major page fault count.
func (s Snapshot) PageFaults() int64 { return s.MinorPageFaults + s.MajorPageFaults }

// Snapshot reads the counters and the current resource usage, combining
// them with carvedBytes and quarantinedBytes (supplied by the caller,
// since Counters has no visibility into the heap's arena or quarantine).
// Because each field is loaded independently, Live can be off by one
// under concurrent activity; it is meant for diagnostics, not for
// correctness-critical bookkeeping.
func (c *Counters) Snapshot(carvedBytes, quarantinedBytes uint64) Snapshot {
	allocs := atomic.LoadUint64(&c.allocations)
	frees := atomic.LoadUint64(&c.frees)
	s := Snapshot{
		Allocations:      allocs,
		Frees:            frees,
		Live:             allocs - frees,
		CarvedBytes:      carvedBytes,
		QuarantinedBytes: quarantinedBytes,
	}

	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err == nil {
		s.RSSKiB = ru.Maxrss
		s.MinorPageFaults = ru.Minflt
		s.MajorPageFaults = ru.Majflt
	}
	return s
}

// WriteReport writes the four REZZAN_STATS lines: peak resident set size
// in KiB, total page faults, total bytes ever carved from the arena, and
// quarantined bytes at exit.
func (s Snapshot) WriteReport(w io.Writer) {
	fmt.Fprintf(w, "rezzan: peak resident set size: %d KiB\n", s.RSSKiB)
	fmt.Fprintf(w, "rezzan: page faults: %d\n", s.PageFaults())
	fmt.Fprintf(w, "rezzan: bytes carved from arena: %d\n", s.CarvedBytes)
	fmt.Fprintf(w, "rezzan: bytes quarantined at exit: %d\n", s.QuarantinedBytes)
}
