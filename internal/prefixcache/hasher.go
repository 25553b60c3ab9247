// Package prefixcache implements the Prefix-Cache Accountant (spec §4.5):
// a cumulative hash over the prompt prefix, breakpoints emitted at
// cache_control markers, and a lookup/create algorithm against an external
// key-value store that reconstructs the cache_read/cache_creation/uncached
// token breakdown the Anthropic-style dialect expects.
//
// Grounded on the teacher's internal/cache/exact.go for the key-value store
// client lifecycle and fail-open error handling; the cumulative hasher
// itself has no teacher analogue since the source's accountant grew a
// string buffer instead (spec §9 re-architecture note), so it takes its
// incremental "hash so far" snapshots from hash.Hash's non-consuming Sum
// over crypto/sha256, without reimplementing SHA-256; a Clone built on
// crypto/sha256's BinaryMarshaler support is provided alongside.
package prefixcache

import (
	"crypto/sha256"
	"encoding"
	"encoding/hex"
	"hash"
)

// CumulativeHasher is an incremental hash that can snapshot its current
// digest without being consumed (Sum), and can be cloned by round-tripping
// through encoding.BinaryMarshaler, which crypto/sha256's Hash
// implementation supports (Clone).
type CumulativeHasher struct {
	h hash.Hash
}

// NewCumulativeHasher returns an empty hasher.
func NewCumulativeHasher() *CumulativeHasher {
	return &CumulativeHasher{h: sha256.New()}
}

// Write feeds more prefix bytes into the running hash.
func (c *CumulativeHasher) Write(p []byte) {
	_, _ = c.h.Write(p)
}

// Sum returns the hex-encoded digest of everything written so far, without
// consuming the hasher — later Write calls continue from the same state.
func (c *CumulativeHasher) Sum() string {
	return hex.EncodeToString(c.h.Sum(nil))
}

// Clone returns an independent hasher carrying the same intermediate state,
// so the caller can keep accumulating on the original while freezing a
// breakpoint's state elsewhere. Not currently exercised by the accountant
// (Sum() alone suffices, since Sum never mutates state) but kept as the
// primitive the spec calls for.
func (c *CumulativeHasher) Clone() (*CumulativeHasher, error) {
	marshaler, ok := c.h.(encoding.BinaryMarshaler)
	if !ok {
		return nil, errNotCloneable
	}
	state, err := marshaler.MarshalBinary()
	if err != nil {
		return nil, err
	}
	clone := sha256.New()
	unmarshaler, ok := clone.(encoding.BinaryUnmarshaler)
	if !ok {
		return nil, errNotCloneable
	}
	if err := unmarshaler.UnmarshalBinary(state); err != nil {
		return nil, err
	}
	return &CumulativeHasher{h: clone}, nil
}

var errNotCloneable = cloneError("prefixcache: hash.Hash implementation does not support cloning")

type cloneError string

func (e cloneError) Error() string { return string(e) }
