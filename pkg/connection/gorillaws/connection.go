// Package gorillaws is the default transport, built on gorilla/websocket.
package gorillaws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/formcanvas/sheetsync/pkg/connection"
	"github.com/formcanvas/sheetsync/pkg/logger"
)

// DefaultDialer is the gorilla default dialer with compression enabled.
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
}

type Connection struct {
	cfg connection.Config

	Dialer *gorilla.Dialer

	conn *gorilla.Conn
	// connLock serialises writes and guards conn. It is not held while reading.
	connLock sync.Mutex

	// connCloseCh is closed once the session ends. It stops Send from writing
	// to a connection that is going away.
	connCloseCh    chan struct{}
	closeOnce      sync.Once
	connCloseError error
	errLock        sync.Mutex

	logger logger.Logger
}

var _ connection.Conn = (*Connection)(nil)

func New(cfg *connection.Config) *Connection {
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	dialer := *DefaultDialer
	if cfg.HandshakeTimeout > 0 {
		dialer.HandshakeTimeout = cfg.HandshakeTimeout
	}

	c := *cfg
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = connection.DefaultWriteTimeout
	}

	return &Connection{
		cfg:         c,
		Dialer:      &dialer,
		connCloseCh: make(chan struct{}),
		logger:      log,
	}
}

// Connect dials the endpoint and starts delivering frames to the configured
// FrameHandler.
func (c *Connection) Connect(ctx context.Context) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	if c.IsClosed() {
		return connection.ErrClosed
	}

	conn, res, err := c.Dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		return fmt.Errorf("gorillaws: dial %s: %w", c.cfg.URL, err)
	}
	defer res.Body.Close()

	c.connLock.Lock()
	if c.conn != nil {
		c.connLock.Unlock()
		_ = conn.Close()
		return errors.New("gorillaws: already connected")
	}
	c.conn = conn
	c.connLock.Unlock()

	go c.readLoop(conn)

	return nil
}

func (c *Connection) Done() <-chan struct{} {
	return c.connCloseCh
}

func (c *Connection) Err() error {
	c.errLock.Lock()
	defer c.errLock.Unlock()

	return c.connCloseError
}

// IsClosed reports whether the session ended. A closed Connection cannot be
// reopened; create a new one to reconnect.
func (c *Connection) IsClosed() bool {
	select {
	case <-c.connCloseCh:
		return true
	default:
		return false
	}
}

func (c *Connection) Send(ctx context.Context, frame []byte) error {
	select {
	case <-c.connCloseCh:
		return fmt.Errorf("%w: %v", connection.ErrClosed, c.Err())
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	c.connLock.Lock()
	defer c.connLock.Unlock()

	if c.conn == nil {
		return connection.ErrNotConnected
	}

	deadline, ok := ctx.Deadline()
	if !ok && c.cfg.WriteTimeout > 0 {
		deadline = time.Now().Add(c.cfg.WriteTimeout)
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}

	err := c.conn.WriteMessage(gorilla.TextMessage, frame)
	if err != nil {
		c.closeWithError(err)
		_ = c.conn.Close()
	}
	return err
}

// Close sends a close frame and closes the socket.
//
// The context bounds the close frame write. If it expires first, the socket is
// closed anyway without waiting for the write.
func (c *Connection) Close(ctx context.Context) error {
	if c.IsClosed() {
		return nil
	}
	c.closeWithError(connection.ErrClosed)

	c.connLock.Lock()
	defer c.connLock.Unlock()

	conn := c.conn
	if conn == nil {
		return nil
	}

	// Phase 1: tell the server we are leaving.
	writeErr := make(chan error, 1)
	go func() {
		deadline, ok := ctx.Deadline()
		if !ok {
			deadline = time.Now().Add(c.cfg.WriteTimeout)
		}
		if err := conn.SetWriteDeadline(deadline); err != nil {
			writeErr <- err
			return
		}
		writeErr <- conn.WriteMessage(gorilla.CloseMessage, gorilla.FormatCloseMessage(connection.CloseMessageCode, ""))
	}()

	select {
	case err := <-writeErr:
		if err != nil {
			c.logger.Error("gorillaws: failed to write close message", "error", err)
		}
	case <-ctx.Done():
	}

	// Phase 2: release the socket regardless of how phase 1 went. The read
	// loop may already have closed it after the server's close reply.
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (c *Connection) closeWithError(err error) {
	c.closeOnce.Do(func() {
		c.errLock.Lock()
		c.connCloseError = err
		c.errLock.Unlock()
		close(c.connCloseCh)
	})
}

func (c *Connection) readLoop(conn *gorilla.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !c.IsClosed() {
				c.logger.Info("gorillaws: connection lost", "error", err)
			}
			c.closeWithError(err)
			_ = conn.Close()
			return
		}
		c.deliver(data)
	}
}

// deliver runs the frame handler, keeping a panic from ending the read loop.
func (c *Connection) deliver(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("gorillaws: frame handler panicked", "panic", r)
		}
	}()
	c.cfg.OnFrame(data)
}
