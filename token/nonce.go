package token

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// Page is the read-only page holding the process-lifetime nonce.
//
// The original runtime pins this page at a literal low virtual address so
// its hand-written token routines can use a literal-address load instead
// of a GOT-relative one. Go has no GOT to avoid and no inline-assembly
// requirement here, so Page instead lets the OS choose the mapping address
// and treats whatever comes back as fixed for the remainder of the
// process's life -- the invariant that matters (one read-only page,
// reachable without a lock, for the program's whole lifetime) still holds.
type Page struct {
	mem   []byte
	nonce uint64
	mode  Mode
}

// NewPage maps and initializes a fresh nonce page for the given mode.
// Failure to map memory or to read entropy is always returned as an error;
// callers on the startup path are expected to treat it as fatal.
func NewPage(mode Mode) (*Page, error) {
	if mode != Mode61 && mode != Mode64 {
		return nil, errors.Newf("invalid nonce size (%d); must be one of {61,64}", mode)
	}

	mem, err := unix.Mmap(-1, 0, unix.Getpagesize(), unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, errors.Wrap(err, "failed to map nonce page")
	}

	var buf [TokenBytes]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, errors.Wrap(err, "failed to read random nonce")
	}
	nonce := binary.LittleEndian.Uint64(buf[:])
	if mode == Mode61 {
		// Force the boundary field's bits to zero so a zero boundary
		// (meaning "8 bytes live") is a valid encoding.
		nonce &^= 7
	}
	binary.LittleEndian.PutUint64(mem[:TokenBytes], nonce)

	if err := unix.Mprotect(mem, unix.PROT_READ); err != nil {
		return nil, errors.Wrap(err, "failed to protect nonce page")
	}
	return &Page{mem: mem, nonce: nonce, mode: mode}, nil
}

// Nonce returns the process secret backing this page.
func (p *Page) Nonce() uint64 { return p.nonce }

// Mode returns the token encoding this page was created with.
func (p *Page) Mode() Mode { return p.mode }
