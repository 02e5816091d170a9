package rews

import (
	"context"
	"errors"
	"sync"

	"github.com/formcanvas/sheetsync/pkg/connection"
)

var errDropped = errors.New("dropped")

// mockConn is an in-memory connection.Conn.
type mockConn struct {
	connectErr error

	mu     sync.Mutex
	sent   [][]byte
	doneCh chan struct{}
	once   sync.Once
	err    error
	closed bool
}

var _ connection.Conn = (*mockConn)(nil)

func newMockConn() *mockConn {
	return &mockConn{doneCh: make(chan struct{})}
}

func (m *mockConn) Connect(context.Context) error {
	return m.connectErr
}

func (m *mockConn) Send(_ context.Context, frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return connection.ErrClosed
	}
	m.sent = append(m.sent, frame)
	return nil
}

func (m *mockConn) Close(context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.end(connection.ErrClosed)
	return nil
}

func (m *mockConn) Done() <-chan struct{} {
	return m.doneCh
}

func (m *mockConn) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.err
}

func (m *mockConn) IsClosed() bool {
	select {
	case <-m.doneCh:
		return true
	default:
		return false
	}
}

// drop simulates the server going away.
func (m *mockConn) drop() {
	m.end(errDropped)
}

func (m *mockConn) end(err error) {
	m.once.Do(func() {
		m.mu.Lock()
		m.err = err
		m.mu.Unlock()
		close(m.doneCh)
	})
}

func (m *mockConn) sentFrames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, len(m.sent))
	for i, f := range m.sent {
		out[i] = string(f)
	}
	return out
}

func (m *mockConn) wasClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closed
}

// factory hands out scripted connections in order.
type factory struct {
	mu    sync.Mutex
	conns []*mockConn
	made  []*mockConn
	err   error
}

func (f *factory) next(context.Context) (*mockConn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	var c *mockConn
	if len(f.conns) > 0 {
		c, f.conns = f.conns[0], f.conns[1:]
	} else {
		c = newMockConn()
	}
	f.made = append(f.made, c)
	return c, nil
}

func (f *factory) madeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.made)
}

func (f *factory) conn(i int) *mockConn {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.made[i]
}
