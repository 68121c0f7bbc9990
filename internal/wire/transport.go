package wire

import (
	"context"
	"net"
	"net/rpc"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mnv104/capfs-sub000/internal/capfserr"
	"github.com/mnv104/capfs-sub000/internal/logx"
)

// Serve registers svc under name and accepts connections on addr until the
// listener is closed, serving each connection on its own goroutine
// (grounded on the chunkserver accept loop: net.Listen + go rpcs.ServeConn
// per accepted conn).
func Serve(addr string, name string, svc interface{}) (net.Listener, error) {
	server := rpc.NewServer()
	if err := server.RegisterName(name, svc); err != nil {
		return nil, errors.Wrapf(err, "wire: register %s", name)
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "wire: listen %s", addr)
	}
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return // listener closed
			}
			go func() {
				server.ServeConn(conn)
				conn.Close()
			}()
		}
	}()
	return l, nil
}

// Conn wraps a net/rpc client with the timeout/reconnect discipline of
// spec.md §5: every call carries a deadline, and a timed-out or failed call
// discards the underlying connection so the caller's next attempt reconnects
// fresh rather than reusing a possibly wedged socket.
type Conn struct {
	addr    string
	timeout time.Duration

	mu     sync.Mutex
	client *rpc.Client
}

// Dial opens a net/rpc connection to addr with the given per-call timeout.
func Dial(addr string, timeout time.Duration) (*Conn, error) {
	client, err := rpc.Dial("tcp", addr)
	if err != nil {
		return nil, capfserr.ErrConnRefused
	}
	return &Conn{addr: addr, timeout: timeout, client: client}, nil
}

// Call invokes serviceMethod with a deadline, translating timeouts and
// transport failures into the capfserr taxonomy (spec.md §7 Transport). A
// timed-out or failed call discards the underlying rpc.Client and redials
// before returning, so the next Call on this Conn never reuses a wedged
// socket (spec.md §5 discard-and-reconnect).
func (c *Conn) Call(ctx context.Context, serviceMethod string, args, reply interface{}) error {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	call := client.Go(serviceMethod, args, reply, make(chan *rpc.Call, 1))
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case <-call.Done:
		if call.Error != nil {
			c.reconnect(client)
			return errors.Wrapf(capfserr.ErrTransport, "wire: %s: %v", serviceMethod, call.Error)
		}
		return nil
	case <-timer.C:
		logx.Errorf(c.addr, "rpc %s timed out after %s", serviceMethod, c.timeout)
		c.reconnect(client)
		return capfserr.ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reconnect discards client (if it's still the Conn's current one) and
// dials a fresh rpc.Client in its place. Best-effort: if the redial fails,
// the Conn keeps the closed client, so the next Call fails fast against it
// and retries reconnecting rather than silently reusing the dead socket.
func (c *Conn) reconnect(stale *rpc.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != stale {
		return // another call already reconnected
	}
	stale.Close()
	fresh, err := rpc.Dial("tcp", c.addr)
	if err != nil {
		logx.Errorf(c.addr, "rpc reconnect failed: %v", err)
		return
	}
	c.client = fresh
}

// Close releases the underlying connection. The caller's next Dial to the
// same address opens a fresh one (spec.md §5: discard-and-reconnect).
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client.Close()
}
