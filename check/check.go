package check

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/Teemperor/ReZZan/token"
)

// osPageSize is the host page size, read once at startup: the page after
// the arena's last committed one is left inaccessible, so the
// trailing-word lookahead in Check must never cross onto a new page.
var osPageSize = unix.Getpagesize()

func pageSize() int { return osPageSize }

// Trap is invoked when a check fails and the process must die
// unconditionally. It is a self-delivered SIGILL rather than a panic: a
// delivered signal cannot be intercepted by a deferred recover, matching
// the requirement that a safety violation is never converted into a
// return value or a recoverable exception. Tests that need to observe a
// failed check without killing the test binary substitute their own
// function here.
var Trap = func() {
	_ = unix.Kill(unix.Getpid(), unix.SIGILL)
}

// isTerminal reports whether f is attached to a character device. The
// corpus this project is grown from carries no isatty or terminal-color
// library, so diagnostic coloring is gated on this stdlib check instead
// of a third-party one.
func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// Report writes a one-line diagnostic describing a safety violation to
// stderr, colored red when stderr is a terminal.
func Report(kind string, addr uintptr, size uint64) {
	msg := fmt.Sprintf("rezzan: %s at address %#x, size %d\n", kind, addr, size)
	if isTerminal(os.Stderr) {
		msg = "\x1b[31;1m" + msg + "\x1b[0m"
	}
	fmt.Fprint(os.Stderr, msg)
}

// Fail reports a violation and traps. Callers never return from Fail in
// production; the indirection through Trap exists purely for tests.
func Fail(kind string, addr uintptr, size uint64) {
	Report(kind, addr, size)
	Trap()
}

// Check reports whether any byte in [base, base+n) is poisoned under
// page's token encoding.
//
// The range need not be token-aligned: a memcpy or string routine can
// start or end mid-payload. Check widens the scan down to the enclosing
// 8-byte words and tests each one for a valid token; any word that
// carries one is entirely redzone, so an access touching it at all is a
// violation.
//
// In 61-bit mode, if the range's end does not fall on a word boundary,
// one further check runs against the word immediately after the range:
// if that word holds a valid token, its boundary field records how many
// bytes of the range's own last (partial) word are live payload, and the
// access is a violation iff it reaches past that many bytes into the
// word. A boundary of 0 means the whole preceding word is live and never
// trips this check. An access that ends exactly on a word boundary skips
// this step entirely -- it never reads a byte the boundary field
// describes, so there is nothing byte-accurate left to check there. The
// lookahead is also skipped whenever the next word would fall on a fresh
// page: a legitimately sized access ending on the last mapped word before
// an unmapped guard page must not read past it.
func Check(page *token.Page, base uintptr, n uint64) bool {
	if n == 0 {
		return false
	}
	start := base
	end := base + uintptr(n)

	wordStart := start &^ (token.TokenBytes - 1)
	wordEnd := (end + token.TokenBytes - 1) &^ (token.TokenBytes - 1)

	for w := wordStart; w < wordEnd; w += token.TokenBytes {
		if token.Test(page, w) {
			return true
		}
	}

	if page.Mode() != token.Mode61 {
		return false
	}
	endDelta := uintptr(end) & (token.TokenBytes - 1)
	if endDelta == 0 {
		return false
	}
	if wordEnd%uintptr(pageSize()) == 0 {
		return false
	}
	if !token.Test(page, wordEnd) {
		return false
	}
	boundary := token.BoundaryAt(wordEnd)
	return boundary != 0 && uintptr(boundary) < endDelta
}
