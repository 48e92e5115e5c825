// Package heap ties the token, arena, check and quarantine packages
// together into the allocate/release/resize surface every instrumented
// entry point is built on.
//
// A capsule is a payload followed by a redzone: enough trailing token
// words to guarantee at least one poisoned word past the last live byte,
// plus, in 61-bit mode, a boundary-tagged word shared between the
// payload's tail and the start of the redzone. Heap.Allocate lays this
// out; Heap.Release verifies the pointer it is handed is a genuine,
// currently-live capsule base before quarantining it.
package heap
