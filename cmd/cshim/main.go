// Command cshim builds a C-callable shared or static library exposing
// rezzan's allocator through the standard malloc/free/realloc/calloc
// signatures, for linking into a C or C++ program in place of its libc
// allocator.
//
// Build with:
//
//	go build -buildmode=c-shared -o librezzan.so ./cmd/cshim
package main

/*
#include <stddef.h>
#include <stdlib.h>

extern void goFlushStats();

static void registerFlushStats() {
	atexit(goFlushStats);
}
*/
import "C"

import (
	"unsafe"

	"github.com/Teemperor/ReZZan"
)

//export goFlushStats
func goFlushStats() {
	rezzan.FlushStats()
}

func init() {
	C.registerFlushStats()
}

//export rezzan_malloc
func rezzan_malloc(n C.size_t) unsafe.Pointer {
	return unsafe.Pointer(rezzan.Malloc(uint64(n)))
}

//export rezzan_free
func rezzan_free(p unsafe.Pointer) {
	rezzan.Free(uintptr(p))
}

//export rezzan_realloc
func rezzan_realloc(p unsafe.Pointer, n C.size_t) unsafe.Pointer {
	return unsafe.Pointer(rezzan.Realloc(uintptr(p), uint64(n)))
}

//export rezzan_calloc
func rezzan_calloc(count, size C.size_t) unsafe.Pointer {
	return unsafe.Pointer(rezzan.Calloc(uint64(count), uint64(size)))
}

//export rezzan_malloc_usable_size
func rezzan_malloc_usable_size(p unsafe.Pointer) C.size_t {
	return C.size_t(rezzan.UsableSize(uintptr(p)))
}

func main() {}
