package rezzan

import (
	"os"
	"testing"
	"unsafe"

	"github.com/Teemperor/ReZZan/check"
	"github.com/Teemperor/ReZZan/config"
)

func unsafeBytesForTest(addr uintptr, n uint64) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(n))
}

func expectTrap(t *testing.T, fn func()) {
	t.Helper()
	prev := check.Trap
	trapped := false
	check.Trap = func() { trapped = true; panic("rezzan trap") }
	defer func() {
		check.Trap = prev
		recover()
		if !trapped {
			t.Fatal("expected fn to trigger a trap")
		}
	}()
	fn()
}

func TestMain(m *testing.M) {
	for _, name := range config.Vars {
		os.Unsetenv(name)
	}
	os.Exit(m.Run())
}

func TestMallocFreeRoundTrip(t *testing.T) {
	p := Malloc(64)
	if p == 0 {
		t.Fatal("Malloc returned a nil pointer")
	}
	Free(p)
}

func TestCallocZeroesMemory(t *testing.T) {
	p := Calloc(8, 4)
	buf := unsafeBytesForTest(p, 32)
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0", i, b)
		}
	}
	Free(p)
}

func TestReallocGrowsAndPreservesContent(t *testing.T) {
	p := Malloc(4)
	copy(unsafeBytesForTest(p, 4), []byte("abcd"))
	p2 := Realloc(p, 8)
	if string(unsafeBytesForTest(p2, 4)) != "abcd" {
		t.Fatalf("Realloc lost content: got %q", unsafeBytesForTest(p2, 4))
	}
	Free(p2)
}

func TestReallocZeroSizeFrees(t *testing.T) {
	p := Malloc(8)
	if got := Realloc(p, 0); got != 0 {
		t.Fatalf("Realloc(p, 0) = %#x, want 0", got)
	}
	expectTrap(t, func() { Free(p) })
}

func TestFreeNilIsNoOp(t *testing.T) {
	Free(0)
}

func TestUsableSizeOfInvalidPointerIsZero(t *testing.T) {
	if got := UsableSize(1); got != 0 {
		t.Fatalf("UsableSize(1) = %d, want 0", got)
	}
}

func TestStatsTrackAllocationsAndFrees(t *testing.T) {
	before := Stats()
	p := Malloc(16)
	Free(p)
	after := Stats()
	if after.Allocations <= before.Allocations {
		t.Fatal("Stats().Allocations should increase after Malloc")
	}
	if after.Frees <= before.Frees {
		t.Fatal("Stats().Frees should increase after Free")
	}
}
