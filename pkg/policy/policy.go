// Package policy implements the consistency-policy adapter (spec.md §4.H):
// a closed enumeration of named policies, each decoded into three booleans.
// The original source (client/plugin.c, client/plugins/*.c) loads these as
// dlopen'd shared-object plugins; per spec.md §9 design notes ("The
// consistency-policy plugins in the source are not a plugin system worth
// preserving — they are a closed enumeration") we represent the whole thing
// as a Go value type instead.
package policy

import "fmt"

// Name identifies a consistency policy by its wire name.
type Name string

const (
	Posix         Name = "posix"
	Session       Name = "session"
	Immutable     Name = "immutable"
	Transactional Name = "transactional"
	Force         Name = "force"
	PVFS          Name = "pvfs"

	// The "o" prefix additionally requests a full-file hash prefetch at
	// open time (spec.md §4.H).
	OPosix         Name = "oposix"
	OSession       Name = "osession"
	OImmutable     Name = "oimmutable"
	OTransactional Name = "otransactional"
	OForce         Name = "oforce"
	OPVFS          Name = "opvfs"
)

// Flags is the decoding of a Name: the three booleans of the spec.md §4.H
// table, plus PrefetchOnOpen for the "o"-prefixed variants.
type Flags struct {
	ForceCommit      bool
	DesireCoherence  bool
	DelayCommit      bool
	PrefetchOnOpen   bool
}

var table = map[Name]Flags{
	Posix:         {ForceCommit: false, DesireCoherence: true, DelayCommit: false},
	Session:       {ForceCommit: true, DesireCoherence: true, DelayCommit: true},
	Immutable:     {ForceCommit: true, DesireCoherence: true, DelayCommit: true},
	Transactional: {ForceCommit: false, DesireCoherence: true, DelayCommit: true},
	Force:         {ForceCommit: true, DesireCoherence: true, DelayCommit: false},
	PVFS:          {ForceCommit: true, DesireCoherence: false, DelayCommit: false},
}

// base strips a leading "o" prefetch variant down to its base policy name.
func base(n Name) (Name, bool) {
	switch n {
	case OPosix:
		return Posix, true
	case OSession:
		return Session, true
	case OImmutable:
		return Immutable, true
	case OTransactional:
		return Transactional, true
	case OForce:
		return Force, true
	case OPVFS:
		return PVFS, true
	default:
		return n, false
	}
}

// Decode looks up the three booleans for a named policy, per spec.md §4.H.
// It returns an error for any name outside the closed enumeration.
func Decode(n Name) (Flags, error) {
	if b, prefetch := base(n); prefetch {
		f, ok := table[b]
		if !ok {
			return Flags{}, fmt.Errorf("policy: unknown base policy %q", b)
		}
		f.PrefetchOnOpen = true
		return f, nil
	}
	f, ok := table[n]
	if !ok {
		return Flags{}, fmt.Errorf("policy: unknown policy %q", n)
	}
	return f, nil
}

// MustDecode is Decode but panics on an unknown name; useful for compiled-in
// defaults where the name is a constant above.
func MustDecode(n Name) Flags {
	f, err := Decode(n)
	if err != nil {
		panic(err)
	}
	return f
}
