package ipc

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
)

var (
	// ErrChannelClosed reports that the control channel reached end-of-stream
	// before a descriptor arrived, which means the peer died before the
	// handoff completed.
	ErrChannelClosed = errors.New("control channel closed before descriptor transfer")

	// ErrUnsupported reports that the platform has no native mechanism for
	// transferring descriptors between processes.
	ErrUnsupported = errors.New("descriptor transfer is not supported on this platform")
)

// reloadRequest is the single control byte a worker writes to ask for its own
// restart. The supervisor treats any inbound byte as a request, so the value
// itself is not load-bearing.
const reloadRequest byte = '1'

// Event is a condition observed on a control channel.
type Event uint8

const (
	// EventReloadRequest indicates the peer wrote the restart byte.
	EventReloadRequest Event = iota + 1
	// EventClosed indicates the peer closed its end of the channel.
	EventClosed
)

// Control is one endpoint of the supervisor/worker control channel. The
// supervisor owns one end and the worker process inherits the other. Exactly
// one descriptor-handoff message crosses the channel, supervisor to worker,
// before any other traffic.
type Control struct {
	conn      *net.UnixConn
	closeOnce sync.Once
	closeErr  error
}

// NewControl wraps an established unix stream connection.
func NewControl(conn *net.UnixConn) *Control {
	return &Control{conn: conn}
}

// FromFile derives a Control from an inherited descriptor, as found by a
// worker process at the fd number announced in its environment. The original
// file is duplicated by the net package and may be closed by the caller.
func FromFile(f *os.File) (*Control, error) {
	conn, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("control channel from fd %d: %w", f.Fd(), err)
	}
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("control channel from fd %d: not a unix stream socket", f.Fd())
	}
	return &Control{conn: uc}, nil
}

// RequestReload writes the restart byte. Called by the worker-side proxy; the
// supervisor observes it as EventReloadRequest and ends the current cycle.
func (c *Control) RequestReload() error {
	if _, err := c.conn.Write([]byte{reloadRequest}); err != nil {
		return fmt.Errorf("request reload: %w", err)
	}
	return nil
}

// Events starts a background reader and returns a channel that delivers the
// first condition observed on the endpoint, then closes. A byte from the peer
// surfaces as EventReloadRequest; end-of-stream or a local Close surfaces as
// EventClosed. One condition is enough for both consumers: the supervisor ends
// its cycle on either kind, and the worker-side watcher only ever sees
// EventClosed because no traffic flows supervisor-to-worker after the handoff.
func (c *Control) Events() <-chan Event {
	ch := make(chan Event, 1)
	go func() {
		defer close(ch)
		buf := make([]byte, 1)
		for {
			n, err := c.conn.Read(buf)
			if n > 0 {
				ch <- EventReloadRequest
				return
			}
			if err != nil {
				ch <- EventClosed
				return
			}
		}
	}()
	return ch
}

// Close releases the endpoint. Safe to call repeatedly; the peer observes
// end-of-stream.
func (c *Control) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
