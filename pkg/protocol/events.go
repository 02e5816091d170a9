// Package protocol defines the closed set of messages exchanged with the agent
// server over the WebSocket channel.
//
// Every frame has the envelope
//
//	{"type": string, "client_id": string, "timestamp": ISO8601, "data": object}
//
// Decode turns an inbound frame into one of the typed events below. Unknown
// types decode to UnknownEvent so callers can log and drop them.
package protocol

import (
	"github.com/formcanvas/sheetsync/pkg/models"
)

type EventType string

// Inbound event types.
const (
	ConnectionAck   EventType = "connection_ack"
	TaskStart       EventType = "task_start"
	TaskFinish      EventType = "task_finish"
	NodeStart       EventType = "node_start"
	NodeFinish      EventType = "node_finish"
	RowComplete     EventType = "row_complete"
	TableReplace    EventType = "table_replace"
	TableCreate     EventType = "table_create"
	TableDelete     EventType = "table_delete"
	CellUpdate      EventType = "cell_update"
	CalibrationNote EventType = "calibration_note"
	TableMetadata   EventType = "table_metadata"
	ToolCall        EventType = "tool_call"
	ChatMessage     EventType = "chat_message"
	Error           EventType = "error"
	Pong            EventType = "pong"
)

// Outbound event types.
const (
	Chat      EventType = "chat"
	SyncState EventType = "sync_state"
	Ping      EventType = "ping"
)

// Header carries the envelope fields shared by every inbound event.
type Header struct {
	Type      EventType `json:"-"`
	ClientID  string    `json:"-"`
	Timestamp string    `json:"-"`
}

// Event is implemented by every decoded inbound message.
type Event interface {
	EventHeader() Header
}

func (h Header) EventHeader() Header { return h }

type ConnectionAckEvent struct {
	Header
	Status string `json:"status"`
}

type TaskStartEvent struct {
	Header
	TaskID   string `json:"task_id"`
	TaskType string `json:"task_type"`
	TableID  string `json:"table_id"`
}

type TaskFinishEvent struct {
	Header
	TaskID  string `json:"task_id"`
	TableID string `json:"table_id"`
	// Success is nil when the server did not report an outcome.
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

// Failed reports whether the server explicitly marked the task unsuccessful.
func (e TaskFinishEvent) Failed() bool {
	return e.Success != nil && !*e.Success
}

// NodeEvent is a pipeline progress marker (node_start, node_finish). It is
// diagnostic only.
type NodeEvent struct {
	Header
	TaskID string `json:"task_id"`
	Node   string `json:"node"`
}

type RowCompleteEvent struct {
	Header
	TableID string     `json:"table_id"`
	Row     models.Row `json:"row"`
}

type TableReplaceEvent struct {
	Header
	TableID  string         `json:"table_id"`
	Rows     []models.Row   `json:"rows"`
	Schema   models.Schema  `json:"schema"`
	Metadata map[string]any `json:"metadata"`
}

type TableCreateEvent struct {
	Header
	TableID  string           `json:"table_id"`
	Title    string           `json:"title"`
	Schema   models.Schema    `json:"schema"`
	Rows     []models.Row     `json:"rows"`
	Position *models.Position `json:"position"`
	Metadata map[string]any   `json:"metadata"`
}

type TableDeleteEvent struct {
	Header
	TableID string `json:"table_id"`
}

type CellUpdateEvent struct {
	Header
	TableID  string `json:"table_id"`
	RowIndex int    `json:"row_index"`
	// ColKey is read from col_key, or from key when col_key is absent.
	ColKey string `json:"col_key"`
	Value  any    `json:"value"`
}

type CalibrationNoteEvent struct {
	Header
	TableID  string          `json:"table_id"`
	RowIndex int             `json:"row_index"`
	Note     string          `json:"note"`
	Severity models.Severity `json:"severity"`
}

type TableMetadataEvent struct {
	Header
	TableID string
	Fields  map[string]any
}

type ToolCallEvent struct {
	Header
	Command Command
}

type ChatMessageEvent struct {
	Header
	Role        string `json:"role"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
}

type ErrorEvent struct {
	Header
	Code int
	// Message is the best-effort text extracted with ErrorMessage.
	Message string
	Payload map[string]any
}

type PongEvent struct {
	Header
}

// UnknownEvent is any well-formed frame whose type is not listed above.
type UnknownEvent struct {
	Header
	Data []byte
}
