package connection

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/formcanvas/sheetsync/pkg/logger"
)

// Config holds what a transport needs to dial the agent endpoint.
type Config struct {
	// URL is the absolute ws:// or wss:// endpoint, query included.
	URL string
	// Header is sent with the opening handshake, e.g. Origin.
	Header http.Header

	HandshakeTimeout time.Duration
	// WriteTimeout bounds a Send whose context has no deadline.
	WriteTimeout time.Duration

	OnFrame FrameHandler
	Logger  logger.Logger
}

// NewConfig creates a Config for rawURL with default timeouts.
// It is not absolutely necessary to create a Config using this function, but
// it fills in every field a transport relies on.
func NewConfig(rawURL string, onFrame FrameHandler) *Config {
	if onFrame == nil {
		onFrame = func([]byte) {}
	}
	return &Config{
		URL:              rawURL,
		Header:           http.Header{},
		HandshakeTimeout: DefaultHandshakeTimeout,
		WriteTimeout:     DefaultWriteTimeout,
		OnFrame:          onFrame,
		Logger:           logger.Nop(),
	}
}

// Validate reports a missing or non-WebSocket URL.
func (c *Config) Validate() error {
	if c.URL == "" {
		return ErrNoURL
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != WebsocketScheme && u.Scheme != SecureWebsocketScheme {
		return fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	if c.OnFrame == nil {
		return ErrNoFrameHandler
	}
	return nil
}
