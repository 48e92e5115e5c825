// Package rezzan wires together the pieces of a nonce-poisoning heap
// safety sanitizer: a fixed-base arena (package arena), a size-classed
// quarantine of recently-freed capsules (package quarantine), an 8-byte
// token scheme guarding every capsule's redzones (package token), a byte-
// range access checker (package check), and instrumented replacements for
// the common bulk/string memory routines (package intercept).
//
// # Overview
//
// Every allocation returned by Malloc is followed by at least one 8-byte
// word of redzone filled with a value derived from a per-process secret
// nonce. The intercept package's routines refuse to read or write through
// any word carrying that value, so an out-of-bounds access, a
// use-after-free, or a double-free is caught at the byte the violation
// happens rather than corrupting unrelated memory silently.
//
// # Basic usage
//
//	p := rezzan.Malloc(64)
//	defer rezzan.Free(p)
//
// Allocation failures and configuration errors panic rather than
// returning an error value: the C ABI this mirrors has no error return
// path for malloc/free, so a caller that could check one is never on the
// other end of these calls anyway.
//
// # Configuration
//
// The REZZAN_* environment variables are read once, lazily, on first use
// (see package config for the full table). Call rezzan.Stats at any
// point to read a snapshot of lifetime allocation counters, or
// rezzan.FlushStats to print the REZZAN_STATS on-exit report on demand.
//
// # Non-goals
//
// This package cannot intercept a foreign C program's own malloc/free
// calls the way the LD_PRELOAD-based original does — Go has no ELF symbol
// interposition surface, and the Go runtime bootstraps through its own
// allocator before any user code could run in its place. Programs that
// need a C-callable surface should build ./cmd/cshim instead, which
// exports cgo-callable wrappers over this package's API as a shared or
// static library.
package rezzan
