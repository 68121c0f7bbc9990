// Package casstore implements the content-addressable data server (spec.md
// §4.A): PUT/GET/STATFS/REMOVEALL of hash-named chunks under a two-level
// fan-out directory. It is grounded on the teacher's backend/local (local
// disk I/O idioms: filepath.Join layout, os.MkdirAll, atomic rename-into-place
// writes) and backend/cache/storage_persistent.go (bolt-backed bookkeeping of
// what is on disk), adapted from "cache a remote" to "be the canonical store".
package casstore

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/mnv104/capfs-sub000/internal/capfserr"
	"github.com/mnv104/capfs-sub000/internal/layout"
	"github.com/mnv104/capfs-sub000/internal/logx"
	"github.com/mnv104/capfs-sub000/internal/metrics"
	"github.com/mnv104/capfs-sub000/pkg/capfs"
)

// Store is a data server's chunk store rooted at a local directory.
type Store struct {
	root    string
	workers int
	metrics *metrics.DataServer // nil if the caller did not wire metrics
}

// Open returns a Store over root, which must already be (or become, via
// Init) a managed data directory. root is not created here: a data server
// refuses to serve out of an accidentally mounted path (spec.md A3).
func Open(root string, workers int) *Store {
	if workers <= 0 {
		workers = 1
	}
	return &Store{root: root, workers: workers}
}

// SetMetrics attaches a counter set the store increments as it serves
// PUT/GET traffic.
func (s *Store) SetMetrics(m *metrics.DataServer) {
	s.metrics = m
}

// Init creates root if needed and writes the .capfsiod sentinel, marking it
// as a managed data directory. It is idempotent: calling it on an
// already-initialized root is a no-op.
func Init(root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return errors.Wrapf(err, "casstore: mkdir %s", root)
	}
	if layout.HasSentinel(root, layout.CapfsiodName) {
		return nil
	}
	return layout.WriteSentinel(root, layout.CapfsiodName)
}

// pathFor returns the two-level fan-out path for a hash: the first two hex
// characters name a subdirectory, the next two a nested subdirectory, and
// the remaining characters the filename (spec.md §4.A: "a deterministic
// two-level base-64-ish directory hash").
func (s *Store) pathFor(h capfs.Hash) string {
	hx := hex.EncodeToString(h[:])
	return filepath.Join(s.root, hx[0:2], hx[2:4], hx[4:])
}

// ChunkStatus is the per-chunk outcome of a PUT or GET.
type ChunkStatus struct {
	Hash capfs.Hash
	Err  error
}

// Put writes each (hashes[i], blocks[i]) pair to disk. Writes are idempotent:
// PUT of a hash that already exists on disk does not re-read or compare the
// incoming bytes (content = key, so concurrent PUTs of the same hash
// converge by construction — spec.md A1). The zero chunk is never persisted
// (A2); PUTs of ZeroHash succeed trivially. Returns one status per input
// chunk and the number of bytes actually written to disk.
func (s *Store) Put(ctx context.Context, hashes []capfs.Hash, blocks [][]byte) ([]ChunkStatus, int64, error) {
	if len(hashes) != len(blocks) {
		return nil, 0, errors.New("casstore: hashes/blocks length mismatch")
	}
	statuses := make([]ChunkStatus, len(hashes))
	totals := make([]int64, len(hashes))
	runPool(len(hashes), s.workers, func(i int) {
		n, err := s.putOne(hashes[i], blocks[i])
		statuses[i] = ChunkStatus{Hash: hashes[i], Err: err}
		totals[i] = n
	})
	var total int64
	for _, n := range totals {
		total += n
	}
	return statuses, total, nil
}

func (s *Store) putOne(h capfs.Hash, data []byte) (int64, error) {
	if h.IsZero() {
		if s.metrics != nil {
			s.metrics.ZeroChunks.Inc()
		}
		return 0, nil
	}
	if got := capfs.Digest(data); got != h {
		logx.Errorf(s, "put: content for %s actually hashes to %s", h, got)
		return 0, capfserr.ErrTamper
	}
	path := s.pathFor(h)
	if _, err := os.Stat(path); err == nil {
		return 0, nil // idempotent: already stored, bytes = content = key
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, errors.Wrapf(err, "casstore: mkdir for %s", h)
	}
	// Random suffix so two racing PUTs of the same hash (same content,
	// different callers) never share a temp file.
	tmp := path + ".tmp." + uuid.New().String()
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, errors.Wrapf(err, "casstore: create temp for %s", h)
	}
	n, werr := f.Write(data)
	cerr := f.Close()
	if werr != nil {
		os.Remove(tmp)
		return 0, errors.Wrapf(werr, "casstore: write %s", h)
	}
	if cerr != nil {
		os.Remove(tmp)
		return 0, errors.Wrapf(cerr, "casstore: close %s", h)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return 0, errors.Wrapf(err, "casstore: rename into place %s", h)
	}
	if s.metrics != nil {
		s.metrics.PutBytes.Add(float64(n))
	}
	return int64(n), nil
}

// Get reads each chunk named by hashes. ZeroHash is synthesized in memory
// with no disk access (spec.md §4.A GET, §8 property 2). Returns one status
// per input and the concatenated data (status-failed entries contribute no
// bytes).
func (s *Store) Get(ctx context.Context, hashes []capfs.Hash) ([]ChunkStatus, []byte, error) {
	statuses := make([]ChunkStatus, len(hashes))
	chunks := make([][]byte, len(hashes))
	runPool(len(hashes), s.workers, func(i int) {
		data, err := s.getOne(hashes[i])
		statuses[i] = ChunkStatus{Hash: hashes[i], Err: err}
		chunks[i] = data
	})
	var out []byte
	for i, data := range chunks {
		if statuses[i].Err == nil {
			out = append(out, data...)
		}
	}
	return statuses, out, nil
}

func (s *Store) getOne(h capfs.Hash) ([]byte, error) {
	if h.IsZero() {
		if s.metrics != nil {
			s.metrics.ZeroChunks.Inc()
		}
		return capfs.ZeroChunk(), nil
	}
	path := s.pathFor(h)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			if s.metrics != nil {
				s.metrics.GetMisses.Inc()
			}
			return nil, capfserr.ErrNotExist
		}
		return nil, errors.Wrapf(err, "casstore: stat %s", h)
	}
	if s.metrics != nil {
		s.metrics.GetHits.Inc()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "casstore: read %s", h)
	}
	return data, nil
}

// FSStat is the result of STATFS (spec.md §4.A).
type FSStat struct {
	TotalBytes uint64
	FreeBytes  uint64
	UsedBytes  uint64
}

// Statfs reports filesystem usage of the backing data directory.
func (s *Store) Statfs(ctx context.Context) (FSStat, error) {
	u, err := disk.UsageWithContext(ctx, s.root)
	if err != nil {
		return FSStat{}, errors.Wrapf(err, "casstore: statfs %s", s.root)
	}
	return FSStat{TotalBytes: u.Total, FreeBytes: u.Free, UsedBytes: u.Used}, nil
}

// RemoveAllReport is the outcome of a REMOVEALL traversal.
type RemoveAllReport struct {
	FilesRemoved  int
	DirsSkipped   []string
	Errors        []error
}

// RemoveAll performs a breadth-first traversal of dir (by default the store
// root) and unlinks every regular file under a directory that contains the
// .capfsiod sentinel, including the store's own two-level fan-out
// subdirectories beneath it; other directories without the sentinel are
// skipped and reported, never emptied (spec.md §4.A REMOVEALL, A3). Errors during
// traversal are aggregated; the first-invocation failure (the initial stat of
// dir itself) is fatal. The caller is responsible for serializing this
// against live PUT/GET traffic — the store does not lock against it
// (spec.md §4.A concurrency note).
func (s *Store) RemoveAll(ctx context.Context, dir string) (RemoveAllReport, error) {
	return s.removeAll(ctx, dir, false)
}

// Fsck performs the same traversal as RemoveAll but never unlinks anything:
// it only reports what a REMOVEALL would have done (files that would be
// removed, directories that would be skipped for lacking a sentinel). This
// backs capfsctl fsck's report-only mode.
func (s *Store) Fsck(ctx context.Context, dir string) (RemoveAllReport, error) {
	return s.removeAll(ctx, dir, true)
}

func (s *Store) removeAll(ctx context.Context, dir string, dryRun bool) (RemoveAllReport, error) {
	if dir == "" {
		dir = s.root
	}
	if !layout.HasSentinel(dir, layout.CapfsiodName) {
		return RemoveAllReport{}, errors.Errorf("casstore: %s is not a managed data directory (no %s)", dir, layout.CapfsiodName)
	}
	report := RemoveAllReport{}
	// The store's own two-level fan-out subdirectories (see pathFor) belong
	// to the managed directory and carry no sentinel of their own.
	isFanout := func(p string) bool {
		_, err := hex.DecodeString(filepath.Base(p))
		return len(filepath.Base(p)) == 2 && err == nil
	}
	root := filepath.Clean(dir)
	queue := []string{dir}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		parent := filepath.Dir(cur)
		fanout := isFanout(cur) && (parent == root || (isFanout(parent) && filepath.Dir(parent) == root))
		if cur != dir && !fanout && !layout.HasSentinel(cur, layout.CapfsiodName) {
			report.DirsSkipped = append(report.DirsSkipped, cur)
			continue
		}
		entries, err := os.ReadDir(cur)
		if err != nil {
			report.Errors = append(report.Errors, errors.Wrapf(err, "casstore: readdir %s", cur))
			continue
		}
		for _, e := range entries {
			full := filepath.Join(cur, e.Name())
			if e.IsDir() {
				queue = append(queue, full)
				continue
			}
			if e.Name() == layout.CapfsiodName {
				continue
			}
			if dryRun {
				report.FilesRemoved++
				continue
			}
			if err := os.Remove(full); err != nil {
				report.Errors = append(report.Errors, errors.Wrapf(err, "casstore: remove %s", full))
				continue
			}
			report.FilesRemoved++
		}
	}
	return report, nil
}

// Ping is a liveness check for the wire ping RPC (spec.md §6).
func (s *Store) Ping(ctx context.Context) error {
	_, err := os.Stat(s.root)
	return err
}
