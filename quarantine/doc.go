// Package quarantine implements delayed reuse of released capsules.
//
// Freed memory is never handed back to a caller immediately: it sits in one
// of 20 size-classed FIFO buckets until an allocation request takes it.
// Regions are never evicted; they leave the quarantine only through
// TryAllocate, which package heap calls only once total quarantine usage
// exceeds its configured threshold.
// This widens the window in which a use-after-free access still lands on
// poisoned, unmapped-from-reuse memory instead of silently succeeding
// against a live allocation.
package quarantine
