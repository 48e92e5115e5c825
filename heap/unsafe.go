package heap

import "unsafe"

// unsafeBytes views n bytes of heap memory starting at addr as a Go
// byte slice. addr always originates from this package's own arena or
// from a passthrough allocation the heap keeps alive, so the pointer is
// valid for the lifetime of the returned slice.
func unsafeBytes(addr uintptr, n uint64) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(n))
}

// unsafeAddr returns the address of a live byte as a uintptr.
func unsafeAddr(b *byte) uintptr {
	return uintptr(unsafe.Pointer(b))
}
