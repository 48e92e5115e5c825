package token

import (
	"sync/atomic"
	"unsafe"
)

// TokenBytes is the width in bytes of a single token / poison word.
const TokenBytes = 8

// Mode selects how a token slot is encoded.
type Mode uint8

const (
	Mode64 Mode = 64
	Mode61 Mode = 61
)

// Boundary records, in 61-bit mode, how many bytes of the word
// immediately before a token's own word are still live payload: exactly
// payload-length mod 8. A boundary of 0 is a special case meaning the
// entire preceding word (all 8 bytes) is live, i.e. the payload ended
// exactly on a word boundary.
type Boundary uint8

func slot(addr uintptr) *uint64 {
	return (*uint64)(unsafe.Pointer(addr))
}

// SetToken64 writes a 64-bit-mode poison word at addr. The store is a
// single atomic 8-byte write so a concurrent instrumented reader never
// observes a torn value.
func SetToken64(p *Page, addr uintptr) {
	atomic.StoreUint64(slot(addr), -p.nonce)
}

// TestToken64 reports whether addr currently holds a 64-bit-mode poison
// word.
func TestToken64(p *Page, addr uintptr) bool {
	v := atomic.LoadUint64(slot(addr))
	return v+p.nonce == 0
}

// SetToken61 writes a 61-bit-mode poison word at addr, encoding boundary
// in its low 3 bits.
func SetToken61(p *Page, addr uintptr, boundary Boundary) {
	v := (-p.nonce &^ 7) ^ uint64(boundary&7)
	atomic.StoreUint64(slot(addr), v)
}

// TestToken61 reports whether addr currently holds a 61-bit-mode poison
// word, ignoring the boundary field.
func TestToken61(p *Page, addr uintptr) bool {
	v := atomic.LoadUint64(slot(addr))
	return (v&^7)+p.nonce == 0
}

// ZeroToken stores a plain zero at addr. Zero is never a valid token for a
// nonzero nonce, so this marks the slot as live (non-poisoned) payload.
func ZeroToken(addr uintptr) {
	atomic.StoreUint64(slot(addr), 0)
}

// BoundaryAt returns the low 3 bits currently stored at addr.
func BoundaryAt(addr uintptr) Boundary {
	return Boundary(atomic.LoadUint64(slot(addr)) & 7)
}

// Set writes a valid token at addr using p's configured mode.
func Set(p *Page, addr uintptr, boundary Boundary) {
	switch p.mode {
	case Mode61:
		SetToken61(p, addr, boundary)
	case Mode64:
		SetToken64(p, addr)
	}
}

// Test reports whether addr currently holds a valid token under p's
// configured mode.
func Test(p *Page, addr uintptr) bool {
	switch p.mode {
	case Mode61:
		return TestToken61(p, addr)
	case Mode64:
		return TestToken64(p, addr)
	}
	return false
}
