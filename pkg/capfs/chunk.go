// Package capfs defines the core data model shared by every CAPFS
// component: chunks, content hashes, file keys and recipes (spec.md §3).
package capfs

import (
	"crypto/sha1"
	"encoding/hex"
)

// ChunkSize is the fixed size of a chunk in bytes (spec.md §3, design default).
// It is a build-time constant rather than a runtime option: recipes, hash
// caches and CAS filenames are all indexed by chunk number under this size,
// and changing it invalidates any on-disk state computed under a different
// value.
const ChunkSize = 16 * 1024

// HashLen is the length in bytes of a content hash (spec.md §3: SHA-1, 20 bytes).
const HashLen = sha1.Size

// Hash identifies a chunk by the digest of its content. The all-zero Hash is
// the sentinel "zero chunk" value and is never looked up on disk.
type Hash [HashLen]byte

// ZeroHash is the sentinel denoting an all-zero chunk. It is a value, not a
// collision: digest(zeroes) happens not to matter because CAPFS special-cases
// it before ever touching storage.
var ZeroHash Hash

// IsZero reports whether h is the zero-chunk sentinel.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// String renders the hash as lowercase hex, e.g. for log lines.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns the hash as a byte slice.
func (h Hash) Bytes() []byte {
	return h[:]
}

// HashFromBytes parses a HashLen-byte slice into a Hash. It panics if b is
// the wrong length; callers reading fixed-width records should slice exactly
// HashLen bytes before calling this.
func HashFromBytes(b []byte) Hash {
	if len(b) != HashLen {
		panic("capfs: wrong-length hash")
	}
	var h Hash
	copy(h[:], b)
	return h
}

// Digest computes the content hash of a chunk. A chunk that is entirely
// zero bytes always digests to ZeroHash regardless of its SHA-1 value,
// per the zero-elision invariant (spec.md §4.A, A2).
func Digest(chunk []byte) Hash {
	if isAllZero(chunk) {
		return ZeroHash
	}
	sum := sha1.Sum(chunk)
	return Hash(sum)
}

func isAllZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// ZeroChunk returns a freshly allocated, zero-filled chunk of ChunkSize bytes,
// synthesized client-side with no disk access (spec.md §4.A GET, §4.G step 4).
func ZeroChunk() []byte {
	return make([]byte, ChunkSize)
}

// NumChunks returns N = ceil(size / ChunkSize), the chunk count for a file of
// the given byte size (spec.md §3, Recipe).
func NumChunks(size int64) int64 {
	if size <= 0 {
		return 0
	}
	return (size + ChunkSize - 1) / ChunkSize
}

// ChunkRange returns the half-open chunk index range [begin, end) covering the
// byte range [off, off+length).
func ChunkRange(off, length int64) (begin, end int64) {
	if length <= 0 {
		return off / ChunkSize, off / ChunkSize
	}
	begin = off / ChunkSize
	end = (off + length - 1) / ChunkSize + 1
	return begin, end
}
