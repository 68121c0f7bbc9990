// Package casclient implements the client-side fan-out half of the
// content-addressable data protocol (spec.md §4.B): partition a batch of
// chunk hashes by destination data server, dispatch one request per server
// in parallel, and wait for all to complete. It is grounded on the
// teacher's backend/raid3/helpers.go (errgroup.WithContext fan-out across
// several backend destinations with per-goroutine error capture) and
// backend/sia/sia.go (one REST client instance per remote host, optionally
// cached).
package casclient

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/mnv104/capfs-sub000/internal/pacer"
	"github.com/mnv104/capfs-sub000/pkg/capfs"
	"github.com/mnv104/capfs-sub000/pkg/casstore"
)

// maxAttempts bounds the per-peer retry loop a job's PUT/GET runs through
// before giving up and surfacing the last error (spec.md §5 retry/backoff
// note: outbound RPCs retry a bounded number of times, not indefinitely).
const maxAttempts = 3

// DataServer is the per-peer RPC stub a Dialer hands back: PUT and GET
// against one data server's CAS store (spec.md §6 client<->data server
// RPCs). The wire-level client implementing this against net/rpc lives in
// the wire package; this interface lets the fan-out logic here be tested
// without a real transport.
type DataServer interface {
	Put(ctx context.Context, hashes []capfs.Hash, blocks [][]byte) ([]casstore.ChunkStatus, int64, error)
	Get(ctx context.Context, hashes []capfs.Hash) ([]casstore.ChunkStatus, []byte, error)
	Close() error
}

// Dialer opens a DataServer stub for addr.
type Dialer interface {
	Dial(ctx context.Context, addr string) (DataServer, error)
}

// Job is one server's share of a larger PUT or GET: the hashes routed to
// server Addr and, for a PUT, the corresponding chunk payloads.
type Job struct {
	Addr   string
	Hashes []capfs.Hash
	Blocks [][]byte // nil for a Get job
}

// JobResult is the outcome of one Job.
type JobResult struct {
	Addr     string
	Statuses []casstore.ChunkStatus
	Data     []byte
	Err      error
}

// Client fans out PUT/GET jobs across data servers.
type Client struct {
	dialer       Dialer
	cacheHandles bool

	mu     sync.Mutex
	conns  map[string]DataServer
	pacers map[string]*pacer.Pacer
}

// New returns a Client that dials peers through dialer. cacheHandles
// mirrors the deployment flag of spec.md §5: when true, a successfully
// dialed peer connection is reused by later jobs against the same address;
// when false, each job dials fresh. New has no default of its own: callers
// pass the flag explicitly.
func New(dialer Dialer, cacheHandles bool) *Client {
	return &Client{
		dialer: dialer, cacheHandles: cacheHandles,
		conns:  make(map[string]DataServer),
		pacers: make(map[string]*pacer.Pacer),
	}
}

// pacerFor returns (creating if needed) the backoff pacer tracking one
// peer's recent call health.
func (c *Client) pacerFor(addr string) *pacer.Pacer {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pacers[addr]
	if !ok {
		p = pacer.NewDefault()
		c.pacers[addr] = p
	}
	return p
}

func (c *Client) dial(ctx context.Context, addr string) (DataServer, error) {
	if !c.cacheHandles {
		return c.dialer.Dial(ctx, addr)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[addr]; ok {
		return conn, nil
	}
	conn, err := c.dialer.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	c.conns[addr] = conn
	return conn, nil
}

// discard drops a cached connection for addr, so the next dial reconnects
// (spec.md §5 "Cancellation and timeouts": on expiry the cached handle for
// that peer is discarded).
func (c *Client) discard(addr string) {
	if !c.cacheHandles {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conns, addr)
}

// chopWindows splits hashes/blocks into windows of at most capfs.MaxHashes
// entries (spec.md §4.B: "requests exceeding the wire cap are chopped into
// windows transparently").
func chopWindows(hashes []capfs.Hash, blocks [][]byte) [][2]int {
	var windows [][2]int
	for i := 0; i < len(hashes); i += capfs.MaxHashes {
		end := i + capfs.MaxHashes
		if end > len(hashes) {
			end = len(hashes)
		}
		windows = append(windows, [2]int{i, end})
	}
	if len(windows) == 0 {
		windows = [][2]int{{0, 0}}
	}
	return windows
}

// Put dispatches each job's PUT to its destination server in parallel and
// waits for all to complete (spec.md §4.B). A transport error on one
// server's job is captured on that job's JobResult and does not cancel the
// others.
func (c *Client) Put(ctx context.Context, jobs []Job) ([]JobResult, error) {
	results := make([]JobResult, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	for i := range jobs {
		i := i
		g.Go(func() error {
			results[i] = c.putOne(gctx, jobs[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (c *Client) putOne(ctx context.Context, job Job) JobResult {
	p := c.pacerFor(job.Addr)
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			p.Sleep()
		}
		conn, err := c.dial(ctx, job.Addr)
		if err != nil {
			lastErr = errors.Wrapf(err, "casclient: dial %s", job.Addr)
			p.Fail()
			continue
		}
		var statuses []casstore.ChunkStatus
		var total int64
		failed := false
		for _, w := range chopWindows(job.Hashes, job.Blocks) {
			st, n, err := conn.Put(ctx, job.Hashes[w[0]:w[1]], job.Blocks[w[0]:w[1]])
			if err != nil {
				c.discard(job.Addr)
				lastErr = errors.Wrapf(err, "casclient: put to %s", job.Addr)
				p.Fail()
				failed = true
				break
			}
			statuses = append(statuses, st...)
			total += n
		}
		if !failed {
			p.Success()
			return JobResult{Addr: job.Addr, Statuses: statuses}
		}
	}
	return JobResult{Addr: job.Addr, Err: lastErr}
}

// Get dispatches each job's GET to its source server in parallel and waits
// for all to complete. Reads are intolerant of partial success (spec.md
// §4.B): the caller here is expected to treat any non-nil Err on a
// JobResult as a failure of the whole read.
func (c *Client) Get(ctx context.Context, jobs []Job) ([]JobResult, error) {
	results := make([]JobResult, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	for i := range jobs {
		i := i
		g.Go(func() error {
			results[i] = c.getOne(gctx, jobs[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (c *Client) getOne(ctx context.Context, job Job) JobResult {
	p := c.pacerFor(job.Addr)
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			p.Sleep()
		}
		conn, err := c.dial(ctx, job.Addr)
		if err != nil {
			lastErr = errors.Wrapf(err, "casclient: dial %s", job.Addr)
			p.Fail()
			continue
		}
		var statuses []casstore.ChunkStatus
		var data []byte
		failed := false
		for _, w := range chopWindows(job.Hashes, nil) {
			st, d, err := conn.Get(ctx, job.Hashes[w[0]:w[1]])
			if err != nil {
				c.discard(job.Addr)
				lastErr = errors.Wrapf(err, "casclient: get from %s", job.Addr)
				p.Fail()
				failed = true
				break
			}
			statuses = append(statuses, st...)
			data = append(data, d...)
		}
		if !failed {
			p.Success()
			return JobResult{Addr: job.Addr, Statuses: statuses, Data: data}
		}
	}
	return JobResult{Addr: job.Addr, Err: lastErr}
}

// Partition groups chunk indices [begin, end) by data server according to
// server(i), the (chunk_index -> server_index) mapping derived from a
// file's striping parameters (spec.md §4.G step 3).
func Partition(begin, end int64, addrs []string, server func(chunkIndex int64) int) map[string][]int64 {
	out := make(map[string][]int64)
	for i := begin; i < end; i++ {
		idx := server(i)
		if idx < 0 || idx >= len(addrs) {
			continue
		}
		addr := addrs[idx]
		out[addr] = append(out[addr], i)
	}
	return out
}
