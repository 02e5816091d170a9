// Package connection defines the WebSocket transport used to talk to the agent
// server. Implementations live in the gorillaws and gws subpackages; rews
// supervises one of them and reconnects when it is lost.
package connection

import (
	"context"
)

// FrameHandler receives every inbound text or binary frame. Implementations
// call it from a single goroutine, in arrival order, and wait for it to return
// before reading the next frame.
type FrameHandler func(frame []byte)

// Conn is one WebSocket session. A Conn can be connected once; after it is
// lost or closed a new Conn must be created.
type Conn interface {
	Connect(ctx context.Context) error
	// Send writes one text frame. It fails with ErrNotConnected before
	// Connect and with ErrClosed after the session ended.
	Send(ctx context.Context, frame []byte) error
	Close(ctx context.Context) error
	// Done is closed when the session ends, for any reason.
	Done() <-chan struct{}
	// Err reports why the session ended. It is nil while the session is open.
	Err() error
	IsClosed() bool
}
