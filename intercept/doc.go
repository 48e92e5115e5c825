// Package intercept provides poison-checked equivalents of the bulk
// memory and C-string routines a native allocator normally leaves
// uninstrumented: copies, moves, length scans and bounded string
// operations. Each function validates the byte range it is about to
// touch against a heap's tokens before doing the underlying work, so a
// redzone violation is caught at the point of access rather than
// silently succeeding. The one exception is a CString argument to
// Snprintf, or to Printf without argument checking, which is read
// unchecked.
package intercept
