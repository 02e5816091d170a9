package gws

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/buger/jsonparser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formcanvas/sheetsync/internal/fakeagent"
	"github.com/formcanvas/sheetsync/pkg/connection"
	"github.com/formcanvas/sheetsync/pkg/protocol"
)

type frames struct {
	mu    sync.Mutex
	types []string
}

func (f *frames) handle(frame []byte) {
	typ, _ := jsonparser.GetString(frame, "type")
	f.mu.Lock()
	f.types = append(f.types, typ)
	f.mu.Unlock()
}

func (f *frames) get() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.types...)
}

func setup(t *testing.T) (*fakeagent.Server, *Connection, *frames) {
	t.Helper()

	srv := fakeagent.NewServer("127.0.0.1:0")
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		_ = srv.Stop()
	})

	got := &frames{}
	conn := New(connection.NewConfig(srv.WebSocketURL()+"/agent?client_id=c1", got.handle))
	require.NoError(t, conn.Connect(context.Background()))
	t.Cleanup(func() {
		_ = conn.Close(context.Background())
	})
	return srv, conn, got
}

func TestConnectionRoundTrip(t *testing.T) {
	srv, conn, got := setup(t)

	require.Eventually(t, func() bool {
		return len(got.get()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"connection_ack"}, got.get())

	ping, err := protocol.Encode(protocol.NewPing("c1"))
	require.NoError(t, err)
	require.NoError(t, conn.Send(context.Background(), ping))

	require.Eventually(t, func() bool {
		return len(got.get()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "pong", got.get()[1])
	assert.Len(t, srv.ReceivedOfType(protocol.Ping), 1)
}

func TestConnectionDeliversInOrder(t *testing.T) {
	srv, _, got := setup(t)

	require.Eventually(t, func() bool {
		return srv.Connections() == 1
	}, 2*time.Second, 10*time.Millisecond)

	want := []string{"connection_ack"}
	for i := 0; i < 20; i++ {
		typ := protocol.RowComplete
		if i%2 == 1 {
			typ = protocol.CellUpdate
		}
		_, err := srv.Push("c1", typ, map[string]any{"table_id": "t", "i": i})
		require.NoError(t, err)
		want = append(want, string(typ))
	}

	require.Eventually(t, func() bool {
		return len(got.get()) == len(want)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, want, got.get())
}

func TestConnectionLost(t *testing.T) {
	srv, conn, _ := setup(t)
	require.Eventually(t, func() bool {
		return srv.Connections() == 1
	}, 2*time.Second, 10*time.Millisecond)

	srv.DropConnections()

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done was not closed after the server dropped the connection")
	}
	assert.True(t, conn.IsClosed())
	assert.Error(t, conn.Err())
	assert.ErrorIs(t, conn.Send(context.Background(), []byte("{}")), connection.ErrClosed)
}

func TestConnectionClose(t *testing.T) {
	srv, conn, _ := setup(t)
	require.Eventually(t, func() bool {
		return srv.Connections() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close(context.Background()))
	assert.True(t, conn.IsClosed())
	assert.ErrorIs(t, conn.Err(), connection.ErrClosed)
	assert.NoError(t, conn.Close(context.Background()))

	require.Eventually(t, func() bool {
		return srv.Connections() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConnectInvalidURL(t *testing.T) {
	conn := New(connection.NewConfig("http://localhost/agent", nil))
	assert.ErrorIs(t, conn.Connect(context.Background()), connection.ErrInvalidURL)

	conn = New(connection.NewConfig("", nil))
	assert.ErrorIs(t, conn.Connect(context.Background()), connection.ErrNoURL)
}

func TestConnectRefused(t *testing.T) {
	srv := fakeagent.NewServer("127.0.0.1:0")
	require.NoError(t, srv.Start())
	addr := srv.WebSocketURL()
	require.NoError(t, srv.Stop())

	conn := New(connection.NewConfig(addr+"/agent?client_id=c1", nil))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, conn.Connect(ctx))
}
