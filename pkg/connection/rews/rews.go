// Package rews keeps a WebSocket session alive. It wraps a connection.Conn
// factory, watches the live session and replaces it when it is lost.
//
// The initial Connect call reports failures to the caller; they usually mean
// misconfiguration. Every loss after that is retried according to the Retryer.
package rews

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/formcanvas/sheetsync/pkg/connection"
	"github.com/formcanvas/sheetsync/pkg/logger"
)

// DefaultDelay is the fixed reconnection delay used when no Retryer is set.
const DefaultDelay = 3 * time.Second

type Connection[C connection.Conn] struct {
	// NewFunc creates a fresh, unconnected session. It is called for the
	// initial connection and for every reconnection attempt.
	NewFunc func(context.Context) (C, error)

	Retryer Retryer

	// OnConnect runs after every successful connection, with reconnect set to
	// false the first time. It may call Send.
	OnConnect func(ctx context.Context, reconnect bool)
	// OnDisconnect runs when an established session is lost.
	OnDisconnect func(err error)

	conn    C
	hasConn bool
	connMu  sync.RWMutex

	state   State
	stateMu sync.Mutex

	// loopCtx is cancelled by Close to abort a reconnection in progress.
	loopCtx    context.Context
	loopCancel context.CancelFunc
	// reconnLoopCloseCh is closed when the reconnection loop returns.
	reconnLoopCloseCh chan struct{}
	once              sync.Once

	logger logger.Logger
}

func New[C connection.Conn](newConn func(context.Context) (C, error), retryer Retryer, log logger.Logger) *Connection[C] {
	if retryer == nil {
		retryer = NewFixedDelayRetryer(DefaultDelay, 0)
	}
	if log == nil {
		log = logger.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Connection[C]{
		NewFunc:           newConn,
		Retryer:           retryer,
		state:             StateDisconnected,
		loopCtx:           ctx,
		loopCancel:        cancel,
		reconnLoopCloseCh: make(chan struct{}),
		logger:            log,
	}
}

func (arws *Connection[C]) transitionTo(newState State) error {
	arws.stateMu.Lock()
	defer arws.stateMu.Unlock()

	if err := arws.state.validateTransitionTo(newState); err != nil {
		return err
	}

	arws.state = newState
	arws.logger.Debug("rews.Connection state transitioned", "new_state", newState)

	return nil
}

func (arws *Connection[C]) State() State {
	arws.stateMu.Lock()
	defer arws.stateMu.Unlock()

	return arws.state
}

func (arws *Connection[C]) IsClosed() bool {
	return arws.State() == StateClosed
}

// Connect establishes the first session and starts the reconnection loop.
func (arws *Connection[C]) Connect(ctx context.Context) error {
	if err := arws.connect(ctx, false); err != nil {
		return err
	}

	arws.once.Do(func() {
		arws.logger.Debug("rews.Connection is starting reconnection loop")
		go arws.reconnectionLoop()
	})

	return nil
}

func (arws *Connection[C]) connect(ctx context.Context, reconnect bool) error {
	if err := arws.transitionTo(StateConnecting); err != nil {
		return err
	}

	conn, err := arws.NewFunc(ctx)
	if err == nil {
		err = conn.Connect(ctx)
	}
	if err != nil {
		if stateErr := arws.transitionTo(StateDisconnected); stateErr != nil {
			arws.logger.Debug("rews.Connection stopped connecting", "error", stateErr)
		}
		return fmt.Errorf("rews.Connection failed to connect: %w", err)
	}

	arws.connMu.Lock()
	arws.conn = conn
	arws.hasConn = true
	arws.connMu.Unlock()

	if err := arws.transitionTo(StateConnected); err != nil {
		// Close won the race.
		_ = conn.Close(ctx)
		return err
	}

	if arws.OnConnect != nil {
		arws.OnConnect(ctx, reconnect)
	}

	return nil
}

func (arws *Connection[C]) current() (C, bool) {
	arws.connMu.RLock()
	defer arws.connMu.RUnlock()

	var zero C
	if arws.State() != StateConnected {
		return zero, false
	}
	return arws.conn, true
}

// Send writes frame to the live session. It fails with
// connection.ErrNotConnected while disconnected; frames are not queued.
func (arws *Connection[C]) Send(ctx context.Context, frame []byte) error {
	conn, ok := arws.current()
	if !ok {
		return connection.ErrNotConnected
	}
	return conn.Send(ctx, frame)
}

// Close stops the reconnection loop and closes the live session.
//
// Once this function returns, the reconnection loop is guaranteed to have
// stopped. The underlying socket is closed within the bounds of ctx.
func (arws *Connection[C]) Close(ctx context.Context) error {
	if err := arws.transitionTo(StateClosing); err != nil {
		return fmt.Errorf("rews.Connection is already closing or closed: %w", err)
	}

	defer func() {
		if err := arws.transitionTo(StateClosed); err != nil {
			arws.logger.Error("BUG: rews.Connection failed to transition to closed state", "error", err)
		}
	}()

	// Either the loop is running and closes the channel on exit, or it never
	// started and never will.
	arws.loopCancel()
	arws.once.Do(func() {
		close(arws.reconnLoopCloseCh)
	})
	<-arws.reconnLoopCloseCh

	arws.connMu.RLock()
	conn, has := arws.conn, arws.hasConn
	arws.connMu.RUnlock()

	if !has {
		return nil
	}
	return conn.Close(ctx)
}

func (arws *Connection[C]) reconnectionLoop() {
	defer close(arws.reconnLoopCloseCh)

	for {
		arws.connMu.RLock()
		conn := arws.conn
		arws.connMu.RUnlock()

		select {
		case <-arws.loopCtx.Done():
			return
		case <-conn.Done():
		}

		err := conn.Err()
		if stateErr := arws.transitionTo(StateDisconnected); stateErr != nil {
			// Closing.
			return
		}
		arws.logger.Info("rews.Connection lost the connection", "error", err)
		if arws.OnDisconnect != nil {
			arws.OnDisconnect(err)
		}

		if !arws.retry() {
			return
		}
	}
}

// retry reconnects until it succeeds, the Retryer gives up, or Close is called.
func (arws *Connection[C]) retry() bool {
	var lastErr error
	for attempt := 0; ; attempt++ {
		delay, ok := arws.Retryer.NextDelay(attempt, lastErr)
		if !ok {
			arws.logger.Error("rews.Connection gave up reconnecting", "attempts", attempt, "error", lastErr)
			return false
		}

		arws.logger.Debug("rews.Connection is waiting before reconnecting", "delay", delay, "attempt", attempt)
		select {
		case <-arws.loopCtx.Done():
			return false
		case <-time.After(delay):
		}

		arws.logger.Info("rews.Connection is attempting to reconnect", "attempt", attempt)
		if err := arws.connect(arws.loopCtx, true); err != nil {
			arws.logger.Warn("rews.Connection failed to reconnect", "error", err)
			lastErr = err
			continue
		}

		arws.Retryer.Reset()
		arws.logger.Info("rews.Connection reconnected")
		return true
	}
}
