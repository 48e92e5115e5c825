// Package arena implements the fixed-address memory pool that backs every
// instrumented allocation. The pool's full address range is reserved with
// a single anonymous mapping at construction time; growth only extends the
// range that is actually readable/writable, via Mprotect, in page-aligned
// chunks. Carving never returns recycled memory -- that is the
// quarantine package's job.
package arena
