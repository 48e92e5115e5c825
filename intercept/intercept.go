package intercept

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/Teemperor/ReZZan/check"
	"github.com/Teemperor/ReZZan/heap"
)

// CString marks a variadic argument to Snprintf/Printf as a NUL-terminated
// string read through a raw heap address rather than an already-materialized
// Go string, so its %s argument checking has something to check.
type CString uintptr

// wcharBytes is the width, in bytes, of a wchar_t on the platforms this
// checker targets.
const wcharBytes = 4

func bytesView(addr uintptr, n uint64) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(n))
}

func byteAt(addr uintptr) byte {
	return *(*byte)(unsafe.Pointer(addr))
}

func setByte(addr uintptr, v byte) {
	*(*byte)(unsafe.Pointer(addr)) = v
}

func wordAt(addr uintptr) uint32 {
	return *(*uint32)(unsafe.Pointer(addr))
}

// Memcpy copies n bytes from src to dst after verifying neither range
// overlaps a redzone. It does not itself check that the two ranges are
// disjoint, matching the contract of the routine it replaces.
func Memcpy(h *heap.Heap, dst, src uintptr, n uint64) uintptr {
	if h.CheckAccess(dst, n) {
		check.Fail("memcpy: destination overlaps redzone", dst, n)
	}
	if h.CheckAccess(src, n) {
		check.Fail("memcpy: source overlaps redzone", src, n)
	}
	copy(bytesView(dst, n), bytesView(src, n))
	return dst
}

// Memmove copies n bytes from src to dst, tolerating overlap, after the
// same redzone checks as Memcpy.
func Memmove(h *heap.Heap, dst, src uintptr, n uint64) uintptr {
	if h.CheckAccess(dst, n) {
		check.Fail("memmove: destination overlaps redzone", dst, n)
	}
	if h.CheckAccess(src, n) {
		check.Fail("memmove: source overlaps redzone", src, n)
	}
	// Go's builtin copy is defined to work correctly on overlapping
	// slices sharing the same backing array.
	copy(bytesView(dst, n), bytesView(src, n))
	return dst
}

// Strlen returns the length of the NUL-terminated string at s, checking
// each byte in turn as it is read so that an unterminated buffer traps
// at the first byte past its live range instead of scanning off into
// unrelated memory.
func Strlen(h *heap.Heap, s uintptr) uint64 {
	var n uint64
	for {
		addr := s + uintptr(n)
		if h.CheckAccess(addr, 1) {
			check.Fail("strlen: read past end of buffer", addr, 1)
		}
		if byteAt(addr) == 0 {
			return n
		}
		n++
	}
}

// Strnlen is Strlen bounded to at most maxLen bytes.
func Strnlen(h *heap.Heap, s uintptr, maxLen uint64) uint64 {
	var n uint64
	for n < maxLen {
		addr := s + uintptr(n)
		if h.CheckAccess(addr, 1) {
			check.Fail("strnlen: read past end of buffer", addr, 1)
		}
		if byteAt(addr) == 0 {
			return n
		}
		n++
	}
	return maxLen
}

// Strcpy copies src, including its terminating NUL, to dst.
func Strcpy(h *heap.Heap, dst, src uintptr) uintptr {
	n := Strlen(h, src) + 1
	return Memcpy(h, dst, src, n)
}

// Strcat appends src, including its terminating NUL, to the end of dst.
func Strcat(h *heap.Heap, dst, src uintptr) uintptr {
	dstLen := Strlen(h, dst)
	Strcpy(h, dst+uintptr(dstLen), src)
	return dst
}

// Strncpy copies at most n bytes of src into dst, NUL-padding any
// remainder, matching the standard routine's (surprising) fixed-width
// semantics.
func Strncpy(h *heap.Heap, dst, src uintptr, n uint64) uintptr {
	copied := Strnlen(h, src, n)
	if copied > 0 {
		Memcpy(h, dst, src, copied)
	}
	if pad := n - copied; pad > 0 {
		padAddr := dst + uintptr(copied)
		if h.CheckAccess(padAddr, pad) {
			check.Fail("strncpy: NUL padding overlaps redzone", padAddr, pad)
		}
		buf := bytesView(padAddr, pad)
		for i := range buf {
			buf[i] = 0
		}
	}
	return dst
}

// Strncat appends at most n bytes of src to the end of dst and always
// NUL-terminates the result.
func Strncat(h *heap.Heap, dst, src uintptr, n uint64) uintptr {
	dstLen := Strlen(h, dst)
	copyLen := Strnlen(h, src, n)
	if copyLen > 0 {
		Memcpy(h, dst+uintptr(dstLen), src, copyLen)
	}
	termAddr := dst + uintptr(dstLen) + uintptr(copyLen)
	if h.CheckAccess(termAddr, 1) {
		check.Fail("strncat: terminator overlaps redzone", termAddr, 1)
	}
	setByte(termAddr, 0)
	return dst
}

// WMemcpy is Memcpy for count wide characters instead of bytes.
func WMemcpy(h *heap.Heap, dst, src uintptr, count uint64) uintptr {
	return Memcpy(h, dst, src, count*wcharBytes)
}

// WcsLen is Strlen for a NUL-terminated wide-character string.
func WcsLen(h *heap.Heap, s uintptr) uint64 {
	var n uint64
	for {
		addr := s + uintptr(n*wcharBytes)
		if h.CheckAccess(addr, wcharBytes) {
			check.Fail("wcslen: read past end of buffer", addr, wcharBytes)
		}
		if wordAt(addr) == 0 {
			return n
		}
		n++
	}
}

// Wcscpy copies src, including its terminating wide NUL, to dst.
func Wcscpy(h *heap.Heap, dst, src uintptr) uintptr {
	n := WcsLen(h, src) + 1
	return Memcpy(h, dst, src, n*wcharBytes)
}

// materializeCStringArgs replaces every CString argument with the Go
// string it names, so fmt can format it, optionally checking each byte
// against the redzone as it is read. Every other argument passes through
// unchanged.
func materializeCStringArgs(h *heap.Heap, checkArgs bool, args []interface{}) []interface{} {
	resolved := make([]interface{}, len(args))
	for i, a := range args {
		s, ok := a.(CString)
		if !ok {
			resolved[i] = a
			continue
		}
		addr := uintptr(s)
		var n uint64
		if checkArgs {
			n = Strlen(h, addr)
		} else {
			n = rawStrlen(addr)
		}
		resolved[i] = string(bytesView(addr, n))
	}
	return resolved
}

// rawStrlen finds a CString's length without running it past the checker,
// matching snprintf's contract of delegating its format layer unchecked.
func rawStrlen(addr uintptr) uint64 {
	var n uint64
	for byteAt(addr+uintptr(n)) != 0 {
		n++
	}
	return n
}

// Snprintf formats args per format, writing at most size-1 bytes plus a
// terminating NUL into dst, and returns the length the fully formatted
// string would have occupied without truncation (matching snprintf's
// return value). Only the destination range actually written is checked
// against the redzone; the format layer itself, including any CString
// %s argument, is delegated unchecked.
func Snprintf(h *heap.Heap, dst uintptr, size uint64, format string, args ...interface{}) uint64 {
	out := fmt.Sprintf(format, materializeCStringArgs(h, false, args)...)
	full := uint64(len(out))
	if size == 0 {
		return full
	}

	n := full
	if n > size-1 {
		n = size - 1
	}
	if h.CheckAccess(dst, n+1) {
		check.Fail("snprintf: destination overlaps redzone", dst, n+1)
	}
	buf := bytesView(dst, n+1)
	copy(buf, out[:n])
	buf[n] = 0
	return full
}

// Printf formats args per format and writes the result to stdout. It has
// no destination buffer of its own to overrun; its only injectable
// surface is a %s argument reading past the end of a CString, so that
// argument's bytes are only checked against the redzone when checkArgs
// is true, matching REZZAN_PRINTF's opt-in scope.
func Printf(h *heap.Heap, checkArgs bool, format string, args ...interface{}) (int, error) {
	return fmt.Fprintf(os.Stdout, format, materializeCStringArgs(h, checkArgs, args)...)
}
