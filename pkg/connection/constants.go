package connection

import (
	"errors"
	"time"
)

const (
	// CloseMessageCode is the status code sent in a normal close frame.
	CloseMessageCode = 1000

	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
)

const (
	WebsocketScheme       = "ws"
	SecureWebsocketScheme = "wss"
)

var (
	ErrNotConnected   = errors.New("not connected")
	ErrClosed         = errors.New("connection closed")
	ErrNoURL          = errors.New("connection URL is not set")
	ErrInvalidURL     = errors.New("invalid connection URL")
	ErrNoFrameHandler = errors.New("frame handler is not set")
)
