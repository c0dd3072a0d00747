package realtime

import (
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/mahaj/presence-chat/pkg/model"
)

// fakeConn stands in for a websocket. Reads block until Close; writes either
// succeed immediately or, with blockWrites, hang until the write deadline.
type fakeConn struct {
	mu            sync.Mutex
	closed        chan struct{}
	closeOnce     sync.Once
	writeDeadline time.Time
	blockWrites   bool
	failWrites    bool
	writes        int
}

func newFakeConn(blockWrites bool) *fakeConn {
	return &fakeConn{closed: make(chan struct{}), blockWrites: blockWrites}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	<-c.closed
	return 0, nil, net.ErrClosed
}

func (c *fakeConn) WriteMessage(int, []byte) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	c.mu.Lock()
	deadline := c.writeDeadline
	if c.failWrites {
		c.mu.Unlock()
		return errors.New("broken pipe")
	}
	if !c.blockWrites {
		c.writes++
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	select {
	case <-c.closed:
		return net.ErrClosed
	case <-time.After(time.Until(deadline)):
		return os.ErrDeadlineExceeded
	}
}

func (c *fakeConn) SetReadLimit(int64)                {}
func (c *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (c *fakeConn) SetPongHandler(func(string) error) {}
func (c *fakeConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	c.writeDeadline = t
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

type recordingMirror struct {
	mu    sync.Mutex
	edges []string
}

func (m *recordingMirror) Online(user model.UserID)  { m.record("+" + string(user)) }
func (m *recordingMirror) Offline(user model.UserID) { m.record("-" + string(user)) }

func (m *recordingMirror) record(edge string) {
	m.mu.Lock()
	m.edges = append(m.edges, edge)
	m.mu.Unlock()
}

func (m *recordingMirror) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.edges...)
}
