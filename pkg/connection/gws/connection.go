// Package gws is an alternate transport built on lxzan/gws.
package gws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/lxzan/gws"

	"github.com/formcanvas/sheetsync/pkg/connection"
	"github.com/formcanvas/sheetsync/pkg/logger"
)

type Connection struct {
	cfg connection.Config

	conn     *gws.Conn
	connLock sync.Mutex

	connCloseCh    chan struct{}
	closeOnce      sync.Once
	connCloseError error
	errLock        sync.Mutex

	logger logger.Logger
}

var _ connection.Conn = (*Connection)(nil)

// websocketHandler receives gws callbacks. gws calls OnMessage from the read
// loop goroutine one frame at a time, which keeps delivery in order.
type websocketHandler struct {
	gws.BuiltinEventHandler
	conn *Connection
}

func (h *websocketHandler) OnClose(_ *gws.Conn, err error) {
	if !h.conn.IsClosed() {
		h.conn.logger.Info("gws: connection lost", "error", err)
	}
	if err == nil {
		err = connection.ErrClosed
	}
	h.conn.closeWithError(err)
}

func (h *websocketHandler) OnPing(socket *gws.Conn, payload []byte) {
	_ = socket.WritePong(payload)
}

// OnMessage copies the payload because gws recycles the message buffer.
func (h *websocketHandler) OnMessage(_ *gws.Conn, message *gws.Message) {
	defer message.Close()
	h.conn.deliver(append([]byte(nil), message.Bytes()...))
}

func New(cfg *connection.Config) *Connection {
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	c := *cfg
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = connection.DefaultWriteTimeout
	}

	return &Connection{
		cfg:         c,
		connCloseCh: make(chan struct{}),
		logger:      log,
	}
}

// Connect performs the handshake and starts the gws read loop. The handshake
// is bounded by the earlier of ctx's deadline and the configured timeout.
func (c *Connection) Connect(ctx context.Context) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	if c.IsClosed() {
		return connection.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	timeout := c.cfg.HandshakeTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); timeout <= 0 || remaining < timeout {
			timeout = remaining
		}
	}

	option := &gws.ClientOption{
		Addr:             c.cfg.URL,
		RequestHeader:    c.cfg.Header.Clone(),
		HandshakeTimeout: timeout,
		PermessageDeflate: gws.PermessageDeflate{
			Enabled: true,
		},
	}

	socket, res, err := gws.NewClient(&websocketHandler{conn: c}, option)
	if err != nil {
		return fmt.Errorf("gws: dial %s: %w", c.cfg.URL, err)
	}
	if res != nil && res.Body != nil {
		_ = res.Body.Close()
	}

	c.connLock.Lock()
	if c.conn != nil {
		c.connLock.Unlock()
		_ = socket.NetConn().Close()
		return errors.New("gws: already connected")
	}
	c.conn = socket
	c.connLock.Unlock()

	go socket.ReadLoop()

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
	if !ok {
		deadline = time.Now().Add(c.cfg.WriteTimeout)
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}

	return c.conn.WriteMessage(gws.OpcodeText, frame)
}

func (c *Connection) Close(ctx context.Context) error {
	if c.IsClosed() {
		return nil
	}
	c.closeWithError(connection.ErrClosed)

	c.connLock.Lock()
	defer c.connLock.Unlock()

	if c.conn == nil {
		return nil
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.cfg.WriteTimeout)
	}
	if err := c.conn.SetWriteDeadline(deadline); err == nil {
		// WriteClose also closes the socket.
		err := c.conn.WriteClose(connection.CloseMessageCode, nil)
		if err == nil {
			return nil
		}
		c.logger.Error("gws: failed to write close message", "error", err)
	}

	if err := c.conn.NetConn().Close(); err != nil && !errors.Is(err, net.ErrClosed) {
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

func (c *Connection) deliver(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("gws: frame handler panicked", "panic", r)
		}
	}()
	c.cfg.OnFrame(data)
}
