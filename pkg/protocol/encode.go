package protocol

import (
	"time"

	"github.com/formcanvas/sheetsync/pkg/models"
)

// Envelope is an outbound frame.
type Envelope struct {
	Type      EventType `json:"type"`
	ClientID  string    `json:"client_id"`
	Timestamp string    `json:"timestamp"`
	Data      any       `json:"data"`
}

// ChatContext is the state snapshot attached to every chat message.
type ChatContext struct {
	Tables        map[string]models.Table `json:"tables"`
	ActiveTableID *string                 `json:"activeTableId"`
}

type ChatPayload struct {
	Content string      `json:"content"`
	Context ChatContext `json:"context"`
}

// SyncStatePayload is the full snapshot pushed after every reconnect.
type SyncStatePayload struct {
	Tables map[string]models.Table `json:"tables"`
}

// NewEnvelope stamps data with the current UTC time.
func NewEnvelope(typ EventType, clientID string, data any) Envelope {
	return Envelope{
		Type:      typ,
		ClientID:  clientID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Data:      data,
	}
}

// Encode marshals an outbound envelope. A nil Data is sent as an empty object.
func Encode(env Envelope) ([]byte, error) {
	if env.Data == nil {
		env.Data = struct{}{}
	}
	return wire.Marshal(env)
}

// NewChat builds a chat envelope. A nil tables map is sent as {}.
func NewChat(clientID, content string, tables map[string]models.Table, activeTableID *string) Envelope {
	if tables == nil {
		tables = map[string]models.Table{}
	}
	return NewEnvelope(Chat, clientID, ChatPayload{
		Content: content,
		Context: ChatContext{Tables: tables, ActiveTableID: activeTableID},
	})
}

// NewSyncState builds a sync_state envelope. A nil tables map is sent as {}.
func NewSyncState(clientID string, tables map[string]models.Table) Envelope {
	if tables == nil {
		tables = map[string]models.Table{}
	}
	return NewEnvelope(SyncState, clientID, SyncStatePayload{Tables: tables})
}

func NewPing(clientID string) Envelope {
	return NewEnvelope(Ping, clientID, nil)
}
