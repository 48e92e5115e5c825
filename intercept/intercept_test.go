package intercept

import (
	"io"
	"os"
	"testing"

	"github.com/Teemperor/ReZZan/check"
	"github.com/Teemperor/ReZZan/heap"
	"github.com/Teemperor/ReZZan/token"
)

func newTestHeap(t *testing.T) *heap.Heap {
	t.Helper()
	h, err := heap.New(heap.Config{PoolBytes: 1 << 20, Mode: token.Mode61})
	if err != nil {
		t.Fatalf("heap.New: %v", err)
	}
	return h
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

func writeCString(h *heap.Heap, s string) uintptr {
	addr, err := h.Allocate(uint64(len(s) + 1))
	if err != nil {
		panic(err)
	}
	buf := bytesView(addr, uint64(len(s)+1))
	copy(buf, s)
	buf[len(s)] = 0
	return addr
}

func TestMemcpyRoundTrip(t *testing.T) {
	h := newTestHeap(t)
	src, err := h.Allocate(8)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	dst, err := h.Allocate(8)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	copy(bytesView(src, 8), []byte("12345678"))

	Memcpy(h, dst, src, 8)
	if string(bytesView(dst, 8)) != "12345678" {
		t.Fatalf("Memcpy did not copy the expected bytes: got %q", bytesView(dst, 8))
	}
}

func TestMemcpyPastEndTraps(t *testing.T) {
	h := newTestHeap(t)
	src, err := h.Allocate(8)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	dst, err := h.Allocate(8)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	expectTrap(t, func() { Memcpy(h, dst, src, 9) })
}

func TestStrlen(t *testing.T) {
	h := newTestHeap(t)
	s := writeCString(h, "hello")
	if got := Strlen(h, s); got != 5 {
		t.Fatalf("Strlen = %d, want 5", got)
	}
}

func TestStrlenUnterminatedTraps(t *testing.T) {
	h := newTestHeap(t)
	addr, err := h.Allocate(4)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	buf := bytesView(addr, 4)
	for i := range buf {
		buf[i] = 'a'
	}
	expectTrap(t, func() { Strlen(h, addr) })
}

func TestStrcpy(t *testing.T) {
	h := newTestHeap(t)
	src := writeCString(h, "copy me")
	dst, err := h.Allocate(uint64(len("copy me") + 1))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	Strcpy(h, dst, src)
	got := bytesView(dst, uint64(len("copy me")+1))
	if string(got[:len(got)-1]) != "copy me" || got[len(got)-1] != 0 {
		t.Fatalf("Strcpy result = %q", got)
	}
}

func TestStrcat(t *testing.T) {
	h := newTestHeap(t)
	dst, err := h.Allocate(32)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	buf := bytesView(dst, 32)
	copy(buf, "foo")
	buf[3] = 0
	src := writeCString(h, "bar")

	Strcat(h, dst, src)
	if got := Strlen(h, dst); got != 6 {
		t.Fatalf("Strlen(dst) after Strcat = %d, want 6", got)
	}
}

func TestStrncpyPadsWithNUL(t *testing.T) {
	h := newTestHeap(t)
	src := writeCString(h, "ab")
	dst, err := h.Allocate(5)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	buf := bytesView(dst, 5)
	for i := range buf {
		buf[i] = 'x'
	}

	Strncpy(h, dst, src, 5)
	want := []byte{'a', 'b', 0, 0, 0}
	got := bytesView(dst, 5)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Strncpy result = %v, want %v", got, want)
		}
	}
}

func TestWcsLenAndWMemcpy(t *testing.T) {
	h := newTestHeap(t)
	addr, err := h.Allocate(4 * 4) // 3 wide chars + terminator
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	setWord := func(offset uint64, v uint32) {
		buf := bytesView(addr+uintptr(offset), 4)
		buf[0] = byte(v)
		buf[1] = byte(v >> 8)
		buf[2] = byte(v >> 16)
		buf[3] = byte(v >> 24)
	}
	setWord(0, 'a')
	setWord(4, 'b')
	setWord(8, 'c')
	setWord(12, 0)

	if got := WcsLen(h, addr); got != 3 {
		t.Fatalf("WcsLen = %d, want 3", got)
	}

	dst, err := h.Allocate(4 * 4)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	WMemcpy(h, dst, addr, 4)
	if !equalBytes(bytesView(dst, 16), bytesView(addr, 16)) {
		t.Fatal("WMemcpy did not copy all wide characters including the terminator")
	}
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	prev := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = prev }()

	fn()
	w.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return string(out)
}

func TestSnprintfTruncatesAndReturnsFullLength(t *testing.T) {
	h := newTestHeap(t)
	dst, err := h.Allocate(4)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	full := Snprintf(h, dst, 4, "%s", "hello")
	if full != 5 {
		t.Fatalf("full length = %d, want 5", full)
	}
	got := bytesView(dst, 4)
	if string(got[:3]) != "hel" || got[3] != 0 {
		t.Fatalf("truncated output = %q, want \"hel\\x00\"", got)
	}
}

func TestSnprintfDestinationOverflowTraps(t *testing.T) {
	h := newTestHeap(t)
	dst, err := h.Allocate(4)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	expectTrap(t, func() { Snprintf(h, dst, 64, "%s", "this does not fit in four bytes") })
}

func TestSnprintfNeverChecksCStringArgumentBytes(t *testing.T) {
	h := newTestHeap(t)
	dst, err := h.Allocate(64)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	// A 4-byte capsule filled with 'a': its terminator is the zeroed slack
	// byte just past the live range, so the checked Strlen path would trap
	// on it (see TestPrintfCheckedCStringUnterminatedTraps) while the
	// unchecked scan stops there.
	s, err := h.Allocate(4)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	copy(bytesView(s, 4), "aaaa")

	// Snprintf's format layer is delegated, so the argument is read
	// without a redzone check and still materializes in the output.
	Snprintf(h, dst, 64, "value=%s", CString(s))
	got := bytesView(dst, 11)
	if string(got[:10]) != "value=aaaa" || got[10] != 0 {
		t.Fatalf("Snprintf output = %q, want \"value=aaaa\\x00\"", got)
	}
}

func TestPrintfMaterializesCStringArgument(t *testing.T) {
	h := newTestHeap(t)
	s := writeCString(h, "world")

	out := captureStdout(t, func() {
		if _, err := Printf(h, false, "hello %s\n", CString(s)); err != nil {
			t.Fatalf("Printf: %v", err)
		}
	})
	if out != "hello world\n" {
		t.Fatalf("Printf output = %q, want %q", out, "hello world\n")
	}
}

func TestPrintfCheckedCStringUnterminatedTraps(t *testing.T) {
	h := newTestHeap(t)
	addr, err := h.Allocate(4)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	buf := bytesView(addr, 4)
	for i := range buf {
		buf[i] = 'a'
	}
	expectTrap(t, func() { Printf(h, true, "%s", CString(addr)) })
}

func equalBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
