package sheetsync

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/formcanvas/sheetsync/pkg/dispatch"
	"github.com/formcanvas/sheetsync/pkg/logger"
	"github.com/formcanvas/sheetsync/pkg/protocol"
	"github.com/formcanvas/sheetsync/pkg/task"
)

type Transport string

const (
	TransportGorilla Transport = "gorilla"
	TransportGWS     Transport = "gws"
)

const (
	DefaultReconnectDelay = 3 * time.Second
	DefaultTaskTimeout    = task.DefaultTimeout
)

// Config configures a Client.
type Config struct {
	// Endpoint is an absolute ws/wss URL or a path resolved against Origin.
	Endpoint string
	// Origin is the page origin, e.g. https://sheets.example.com. It is also
	// sent as the Origin header of the handshake.
	Origin string
	// ClientID identifies this client to the server. New generates one when empty.
	ClientID string

	Transport Transport

	// ReconnectDelay is the fixed delay between reconnection attempts.
	ReconnectDelay time.Duration
	// MaxReconnectAttempts bounds the attempts per outage. 0 retries forever.
	MaxReconnectAttempts int
	// Backoff switches from a fixed delay to exponential backoff starting at
	// ReconnectDelay.
	Backoff bool

	// HeartbeatInterval is the ping period. 0 disables heartbeats.
	HeartbeatInterval time.Duration

	// TaskBaseURL is the http base for task uploads. When empty it is derived
	// from the resolved endpoint.
	TaskBaseURL string
	TaskTimeout time.Duration

	Logger   logger.Logger
	Notifier dispatch.Notifier
	// OnEvent is called with every inbound event after it was applied.
	OnEvent func(protocol.Event)
}

// DefaultConfig returns a Config for endpoint with default settings.
func DefaultConfig(endpoint string) Config {
	return Config{
		Endpoint:       endpoint,
		Transport:      TransportGorilla,
		ReconnectDelay: DefaultReconnectDelay,
		TaskTimeout:    DefaultTaskTimeout,
	}
}

// Validate reports configuration errors. It does not modify c.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return ErrNoEndpoint
	}
	switch c.Transport {
	case "", TransportGorilla, TransportGWS:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTransport, c.Transport)
	}
	if c.ReconnectDelay < 0 {
		return fmt.Errorf("%w: negative reconnect delay %v", ErrInvalidConfig, c.ReconnectDelay)
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("%w: negative max reconnect attempts %d", ErrInvalidConfig, c.MaxReconnectAttempts)
	}
	if c.HeartbeatInterval < 0 {
		return fmt.Errorf("%w: negative heartbeat interval %v", ErrInvalidConfig, c.HeartbeatInterval)
	}
	if c.TaskTimeout < 0 {
		return fmt.Errorf("%w: negative task timeout %v", ErrInvalidConfig, c.TaskTimeout)
	}
	return nil
}

// withDefaults fills in the zero fields.
func (c Config) withDefaults() Config {
	if c.ClientID == "" {
		c.ClientID = uuid.NewString()
	}
	if c.Transport == "" {
		c.Transport = TransportGorilla
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.TaskTimeout == 0 {
		c.TaskTimeout = DefaultTaskTimeout
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
	if c.Notifier == nil {
		c.Notifier = dispatch.NopNotifier{}
	}
	return c
}
