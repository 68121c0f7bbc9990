package capfs

// MaxHashes is the wire cap on the number of hashes carried in a single
// gethashes/wcommit/CAS request (spec.md §4.B, §4.F). Larger ranges are
// chopped into windows transparently by the caller.
const MaxHashes = 1024

// BitsPerLong bounds the number of concurrent client callback channels a
// single manager tracks per file: the CallbackSet is a bitmap this wide
// (spec.md §3, CallbackSet).
const BitsPerLong = 64

// DefaultHCacheCount is the design-default bound on hash-cache entries
// (spec.md §4.C): 131072 entries * 20 bytes/hash ≈ 2.5 MiB.
const DefaultHCacheCount = 131072
