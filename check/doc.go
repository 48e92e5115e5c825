// Package check implements the poisoned-byte-range predicate at the heart
// of every instrumented access, and the fatal trap taken when it fires.
//
// Checking an [addr, addr+n) range means walking the tokens that guard it
// and asking whether any lie inside the requested range while still
// holding a valid poison value. The 61-bit encoding additionally allows a
// check that ends partway into the payload's last word to use the boundary
// field of the token after that word to tell live payload bytes from
// redzone bytes within it.
package check
