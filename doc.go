// Package sheetsync keeps a client-side set of editable sheets in sync with an
// agent server over a WebSocket event channel.
//
// The client's [store.Store] is the source of truth. The server is stateless:
// it streams rows, corrections and tool calls for tables the client owns, and
// after every reconnect the client pushes a full snapshot with a sync_state
// message so the server can resume with context.
//
// # Components
//
// A [Client] wires together:
//
//   - a [store.Store], the single-writer table state,
//   - a [dispatch.Dispatcher], which maps inbound events to store mutations,
//   - a reconnecting session from [github.com/formcanvas/sheetsync/pkg/connection/rews]
//     over one of two transports,
//   - a [task.Client] for file uploads to POST /task/submit.
//
// # Transports
//
// The default transport is built on gorilla/websocket
// ([github.com/formcanvas/sheetsync/pkg/connection/gorillaws]). Set
// Config.Transport to TransportGWS to use lxzan/gws instead
// ([github.com/formcanvas/sheetsync/pkg/connection/gws]).
//
// # Conflict policy
//
// Server writes (cell_update, tool_call update_cell) are applied as-is. The
// server sends uncertain corrections as calibration_note events, which attach
// advisory text to a row and never change cell values.
//
// # Endpoints
//
// Config.Endpoint may be an absolute ws:// or wss:// URL, or a path resolved
// against Config.Origin as a browser would resolve it against the page origin.
// The client appends /agent and its client_id, see [ResolveURL].
package sheetsync
