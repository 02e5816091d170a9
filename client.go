package sheetsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/formcanvas/sheetsync/pkg/connection"
	"github.com/formcanvas/sheetsync/pkg/connection/gorillaws"
	"github.com/formcanvas/sheetsync/pkg/connection/gws"
	"github.com/formcanvas/sheetsync/pkg/connection/rews"
	"github.com/formcanvas/sheetsync/pkg/dispatch"
	"github.com/formcanvas/sheetsync/pkg/logger"
	"github.com/formcanvas/sheetsync/pkg/protocol"
	"github.com/formcanvas/sheetsync/pkg/store"
	"github.com/formcanvas/sheetsync/pkg/task"
)

// Client owns one store and keeps it in sync with the agent server.
type Client struct {
	cfg   Config
	url   string
	store *store.Store

	dispatcher *dispatch.Dispatcher
	conn       *rews.Connection[connection.Conn]
	tasks      *task.Client

	heartbeatOnce sync.Once
	stopOnce      sync.Once
	heartbeatStop chan struct{}
	heartbeatDone chan struct{}

	log logger.Logger
}

// New creates a Client for cfg with a fresh store. It does not connect.
func New(cfg Config) (*Client, error) {
	return NewWithStore(cfg, store.New(store.WithLogger(cfg.Logger)))
}

// NewWithStore creates a Client that syncs s, e.g. a store restored with
// ImportTables.
func NewWithStore(cfg Config, s *store.Store) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	wsURL, err := ResolveURL(cfg.Endpoint, cfg.Origin, cfg.ClientID)
	if err != nil {
		return nil, err
	}

	taskURL := cfg.TaskBaseURL
	if taskURL == "" {
		if taskURL, err = taskBaseURL(wsURL); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
		}
	}
	tasks := task.New(taskURL, cfg.Logger)
	tasks.Timeout = cfg.TaskTimeout

	opts := []dispatch.Option{
		dispatch.WithLogger(cfg.Logger),
		dispatch.WithNotifier(cfg.Notifier),
	}
	if cfg.OnEvent != nil {
		opts = append(opts, dispatch.WithObserver(cfg.OnEvent))
	}

	c := &Client{
		cfg:           cfg,
		url:           wsURL,
		store:         s,
		dispatcher:    dispatch.New(s, opts...),
		tasks:         tasks,
		heartbeatStop: make(chan struct{}),
		heartbeatDone: make(chan struct{}),
		log:           cfg.Logger,
	}

	c.conn = rews.New(c.newConn, newRetryer(cfg), cfg.Logger)
	c.conn.OnConnect = c.onConnect
	c.conn.OnDisconnect = c.onDisconnect

	return c, nil
}

func newRetryer(cfg Config) rews.Retryer {
	if !cfg.Backoff {
		return rews.NewFixedDelayRetryer(cfg.ReconnectDelay, cfg.MaxReconnectAttempts)
	}
	r := rews.NewExponentialBackoffRetryer()
	r.InitialDelay = cfg.ReconnectDelay
	if r.MaxDelay < r.InitialDelay {
		r.MaxDelay = r.InitialDelay
	}
	r.MaxRetries = cfg.MaxReconnectAttempts
	return r
}

func (c *Client) newConn(context.Context) (connection.Conn, error) {
	conf := connection.NewConfig(c.url, c.dispatcher.HandleFrame)
	conf.Logger = c.log
	if c.cfg.Origin != "" {
		conf.Header = http.Header{"Origin": []string{c.cfg.Origin}}
	}

	switch c.cfg.Transport {
	case TransportGWS:
		return gws.New(conf), nil
	default:
		return gorillaws.New(conf), nil
	}
}

func (c *Client) onConnect(ctx context.Context, reconnect bool) {
	c.store.SetConnected(true)
	if !reconnect {
		c.log.Info("sheetsync: connected", "url", c.url)
		return
	}

	c.log.Info("sheetsync: reconnected, pushing state", "url", c.url)
	if err := c.Resync(ctx); err != nil {
		c.log.Warn("sheetsync: sync_state failed", "error", err)
	}
}

func (c *Client) onDisconnect(err error) {
	c.store.SetConnected(false)
	c.log.Warn("sheetsync: disconnected", "error", err)
}

// Connect opens the session and starts reconnecting on loss. A failure of the
// initial connection is returned and not retried.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.conn.Connect(ctx); err != nil {
		return err
	}

	if c.cfg.HeartbeatInterval > 0 {
		c.heartbeatOnce.Do(func() {
			go c.heartbeat(c.cfg.HeartbeatInterval)
		})
	}
	return nil
}

// Close stops reconnecting and closes the session. The store keeps its state.
func (c *Client) Close(ctx context.Context) error {
	c.heartbeatOnce.Do(func() {
		close(c.heartbeatDone)
	})
	c.stopOnce.Do(func() {
		close(c.heartbeatStop)
	})
	<-c.heartbeatDone

	err := c.conn.Close(ctx)
	c.store.SetConnected(false)
	return err
}

func (c *Client) heartbeat(interval time.Duration) {
	defer close(c.heartbeatDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.heartbeatStop:
			return
		case <-ticker.C:
		}

		if c.conn.State() != rews.StateConnected {
			continue
		}
		if err := c.send(context.Background(), protocol.NewPing(c.cfg.ClientID)); err != nil && !errors.Is(err, connection.ErrNotConnected) {
			c.log.Debug("sheetsync: ping failed", "error", err)
		}
	}
}

func (c *Client) send(ctx context.Context, env protocol.Envelope) error {
	frame, err := protocol.Encode(env)
	if err != nil {
		return fmt.Errorf("sheetsync: encode %s: %w", env.Type, err)
	}
	return c.conn.Send(ctx, frame)
}

// SendChat sends a chat message with the current tables and active table as
// context. It fails with connection.ErrNotConnected while disconnected.
func (c *Client) SendChat(ctx context.Context, content string) error {
	snap := c.store.Snapshot()
	return c.send(ctx, protocol.NewChat(c.cfg.ClientID, content, snap.Tables, snap.ActiveTableID))
}

// Resync pushes a full snapshot of all tables with sync_state. It is sent
// automatically after every reconnect.
func (c *Client) Resync(ctx context.Context) error {
	return c.send(ctx, protocol.NewSyncState(c.cfg.ClientID, c.store.Snapshot().Tables))
}

// SubmitTask uploads a file for processing. Rows it produces stream into the
// store over the session; tableID may be empty to let the server pick one.
func (c *Client) SubmitTask(ctx context.Context, typ task.Type, tableID, fileName string, file io.Reader) (*task.Response, error) {
	return c.tasks.Submit(ctx, task.Request{
		Type:     typ,
		ClientID: c.cfg.ClientID,
		TableID:  tableID,
		FileName: fileName,
		File:     file,
	})
}

// Store returns the store this client writes to.
func (c *Client) Store() *store.Store {
	return c.store
}

func (c *Client) ClientID() string {
	return c.cfg.ClientID
}

// URL returns the resolved WebSocket URL.
func (c *Client) URL() string {
	return c.url
}

func (c *Client) State() rews.State {
	return c.conn.State()
}
