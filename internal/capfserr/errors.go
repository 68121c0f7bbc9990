// Package capfserr implements the error taxonomy of spec.md §7 as a closed
// set of sentinel errors, each tagged with the POSIX-style wire code the RPC
// transport serializes it to. Call sites wrap a sentinel with
// github.com/pkg/errors (the same idiom the teacher's backends use, e.g.
// backend/hasher/kv.go, backend/sia/sia.go) so that errors.Cause still
// recovers the sentinel for errors.Is / Code comparisons after it has
// travelled through several layers.
package capfserr

import (
	"errors"
)

// Sentinel is a taxonomy entry: a stable identity plus its wire code.
type Sentinel struct {
	msg  string
	code string
}

func (s *Sentinel) Error() string { return s.msg }

// Code returns the POSIX-style wire status this sentinel serializes to.
func (s *Sentinel) Code() string { return s.code }

var (
	// ErrTransport covers "cannot reach peer" / decode failure (spec.md §7 Transport).
	ErrTransport = &Sentinel{"capfs: transport error", "EREMOTEIO"}
	// ErrTimeout covers RPC deadline expiry.
	ErrTimeout = &Sentinel{"capfs: timed out", "ETIMEDOUT"}
	// ErrConnRefused covers immediate connection refusal.
	ErrConnRefused = &Sentinel{"capfs: connection refused", "ECONNREFUSED"}
	// ErrProtocol covers version mismatch / unknown opcode / malformed payload.
	ErrProtocol = &Sentinel{"capfs: protocol error", "EINVAL"}
	// ErrPermission covers a failed uid/gid/mode check.
	ErrPermission = &Sentinel{"capfs: permission denied", "EACCES"}
	// ErrNotExist covers no such file/handle/hash.
	ErrNotExist = &Sentinel{"capfs: no such entry", "ENOENT"}
	// ErrExist covers a conflicting create (e.g. O_EXCL on an existing name).
	ErrExist = &Sentinel{"capfs: entry exists", "EEXIST"}
	// ErrAgain is the wcommit CAS-miss conflict status; the caller retries
	// with the returned current_hashes (spec.md §4.F, §8 property 5).
	ErrAgain = &Sentinel{"capfs: wcommit conflict, retry", "EAGAIN"}
	// ErrNoMemory covers out-of-memory.
	ErrNoMemory = &Sentinel{"capfs: out of memory", "ENOMEM"}
	// ErrNoSpace covers disk-full.
	ErrNoSpace = &Sentinel{"capfs: no space left", "ENOSPC"}
	// ErrTamper covers a PUT whose content does not hash to the supplied key.
	ErrTamper = &Sentinel{"capfs: chunk content does not match hash", "ETAMPER"}
	// ErrNotEmpty covers rmdir on a non-empty directory.
	ErrNotEmpty = &Sentinel{"capfs: directory not empty", "ENOTEMPTY"}
	// ErrNotDir / ErrIsDir cover type mismatches in path resolution.
	ErrNotDir = &Sentinel{"capfs: not a directory", "ENOTDIR"}
	ErrIsDir  = &Sentinel{"capfs: is a directory", "EISDIR"}
)

// all lists every sentinel, used by the wire layer to map codes back to
// errors when decoding a remote status.
var all = []*Sentinel{
	ErrTransport, ErrTimeout, ErrConnRefused, ErrProtocol, ErrPermission,
	ErrNotExist, ErrExist, ErrAgain, ErrNoMemory, ErrNoSpace, ErrTamper,
	ErrNotEmpty, ErrNotDir, ErrIsDir,
}

// FromCode maps a wire status code back to its sentinel, or ErrProtocol if
// the code is unrecognized (a peer running a newer/older taxonomy).
func FromCode(code string) error {
	for _, s := range all {
		if s.code == code {
			return s
		}
	}
	return ErrProtocol
}

// Code extracts the wire status code from err, unwrapping any
// github.com/pkg/errors / stdlib wrapping to find the underlying sentinel.
// Errors outside the taxonomy report "EIO".
func Code(err error) string {
	if err == nil {
		return ""
	}
	var s *Sentinel
	if errors.As(err, &s) {
		return s.code
	}
	return "EIO"
}

// Retryable reports whether the transport layer should recover err locally
// with one reconnect-and-retry (spec.md §7 propagation policy), as opposed to
// surfacing it to the caller.
func Retryable(err error) bool {
	switch Code(err) {
	case ErrTransport.code, ErrTimeout.code, ErrConnRefused.code:
		return true
	default:
		return false
	}
}
