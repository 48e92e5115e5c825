// Package token implements the nonce-derived poison word: the single
// 8-byte value written into every redzone slot managed by the allocator.
//
// A token is derived from a per-process secret (the nonce) drawn from the
// OS random source at startup and held in a read-only Page. Two encodings
// are supported: a 64-bit mode where a slot equals the two's-complement
// negation of the nonce, and a 61-bit mode that steals the low 3 bits of
// the slot to record a boundary field, trading 3 bits of nonce entropy for
// byte-accurate trailing-overflow detection.
package token
