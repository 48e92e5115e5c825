// Package stats tracks lifetime allocator counters -- allocations and
// frees -- behind atomic counters so callers can take a snapshot without
// holding the heap's lock.
package stats
