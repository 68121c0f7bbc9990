package capfs

// Recipe is the ordered sequence of chunk hashes that constitutes a file's
// content (spec.md §3). R[i] is either ZeroHash or the content hash of chunk
// i on the CAS store. A Recipe has no gaps: every index in [0, len(R)) is
// defined (invariant I4).
type Recipe []Hash

// Clone returns an independent copy of the recipe slice.
func (r Recipe) Clone() Recipe {
	if r == nil {
		return nil
	}
	out := make(Recipe, len(r))
	copy(out, r)
	return out
}

// Slice returns the sub-recipe covering chunk indices [begin, begin+count),
// padding with ZeroHash for any index at or beyond len(r) (a write past the
// previously-committed EOF observes those chunks as unallocated, i.e. zero —
// see spec.md §9 open question 1 and §4.F wcommit).
func (r Recipe) Slice(begin, count int64) Recipe {
	out := make(Recipe, count)
	for i := int64(0); i < count; i++ {
		idx := begin + i
		if idx >= 0 && idx < int64(len(r)) {
			out[i] = r[idx]
		}
	}
	return out
}

// Equal reports whether two recipes hold identical hashes in the same order.
func (r Recipe) Equal(other Recipe) bool {
	if len(r) != len(other) {
		return false
	}
	for i := range r {
		if r[i] != other[i] {
			return false
		}
	}
	return true
}

// MarshalBinary concatenates the recipe into HASHLEN-byte records, the exact
// on-disk layout of the manager's hashes file (spec.md §4.D).
func (r Recipe) MarshalBinary() []byte {
	out := make([]byte, len(r)*HashLen)
	for i, h := range r {
		copy(out[i*HashLen:], h[:])
	}
	return out
}

// RecipeFromBinary parses the binary hashes-file layout back into a Recipe.
func RecipeFromBinary(b []byte) Recipe {
	n := len(b) / HashLen
	out := make(Recipe, n)
	for i := 0; i < n; i++ {
		out[i] = HashFromBytes(b[i*HashLen : (i+1)*HashLen])
	}
	return out
}
