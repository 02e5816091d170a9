package protocol

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/buger/jsonparser"

	"github.com/formcanvas/sheetsync/internal/codec"
	"github.com/formcanvas/sheetsync/pkg/models"
)

var ErrProtocol = errors.New("protocol error")

// ProtocolError reports an inbound frame that could not be turned into an event.
// It matches ErrProtocol with errors.Is.
type ProtocolError struct {
	Reason string
	Frame  []byte
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s: %v", e.Reason, e.Err)
	}
	return "protocol: " + e.Reason
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

var (
	wire        = codec.New()
	emptyObject = []byte("{}")
)

// Decode parses one inbound frame.
//
// A frame that is not a JSON object, has no type, or carries a payload that does
// not match its type fails with *ProtocolError. A well-formed frame of an
// unrecognised type returns UnknownEvent and no error.
func Decode(frame []byte) (Event, error) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 || trimmed[0] != '{' || !codec.Valid(trimmed) {
		return nil, &ProtocolError{Reason: "malformed frame", Frame: frame}
	}

	typ, err := jsonparser.GetString(trimmed, "type")
	if err != nil || typ == "" {
		return nil, &ProtocolError{Reason: "missing type", Frame: frame}
	}

	h := Header{Type: EventType(typ)}
	h.ClientID, _ = jsonparser.GetString(trimmed, "client_id")
	h.Timestamp, _ = jsonparser.GetString(trimmed, "timestamp")

	data, dataType, _, err := jsonparser.Get(trimmed, "data")
	switch {
	case (dataType == jsonparser.NotExist || dataType == jsonparser.Null) && h.Type == Error:
		data = flatPayload(trimmed)
	case dataType == jsonparser.NotExist || dataType == jsonparser.Null:
		data = emptyObject
	case err != nil:
		return nil, &ProtocolError{Reason: "unreadable data", Frame: frame, Err: err}
	case dataType != jsonparser.Object:
		return nil, &ProtocolError{Reason: "data is not an object", Frame: frame}
	}

	ev, err := decodeData(h, data)
	if err != nil {
		return nil, &ProtocolError{Reason: "invalid " + typ + " payload", Frame: frame, Err: err}
	}
	return ev, nil
}

// flatPayload returns the top-level object without its header keys. Error
// frames written by the agent's socket handler carry code and message at the
// top level instead of under data.
func flatPayload(frame []byte) []byte {
	out := append([]byte(nil), frame...)
	for _, key := range []string{"type", "client_id", "timestamp", "data"} {
		out = jsonparser.Delete(out, key)
	}
	return out
}

func decodeData(h Header, data []byte) (Event, error) {
	switch h.Type {
	case ConnectionAck:
		return decodeInto(data, ConnectionAckEvent{Header: h})

	case TaskStart:
		return decodeInto(data, TaskStartEvent{Header: h})

	case TaskFinish:
		return decodeInto(data, TaskFinishEvent{Header: h})

	case NodeStart, NodeFinish:
		return decodeInto(data, NodeEvent{Header: h})

	case RowComplete:
		return decodeInto(data, RowCompleteEvent{Header: h})

	case TableReplace:
		return decodeInto(data, TableReplaceEvent{Header: h})

	case TableCreate:
		return decodeInto(data, TableCreateEvent{Header: h})

	case TableDelete:
		return decodeInto(data, TableDeleteEvent{Header: h})

	case CellUpdate:
		ev := CellUpdateEvent{Header: h}
		if err := wire.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		if ev.ColKey == "" {
			ev.ColKey, _ = jsonparser.GetString(data, "key")
		}
		return ev, nil

	case CalibrationNote:
		ev := CalibrationNoteEvent{Header: h}
		if err := wire.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		ev.Severity = models.ParseSeverity(string(ev.Severity))
		return ev, nil

	case TableMetadata:
		return decodeMetadata(h, data)

	case ToolCall:
		tool, err := jsonparser.GetString(data, "tool")
		if err != nil || tool == "" {
			return nil, errors.New("missing tool")
		}
		params, dataType, _, err := jsonparser.Get(data, "params")
		if dataType == jsonparser.NotExist || dataType == jsonparser.Null {
			params = emptyObject
		} else if err != nil {
			return nil, err
		}
		cmd, err := ParseCommand(tool, params)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", tool, err)
		}
		return ToolCallEvent{Header: h, Command: cmd}, nil

	case ChatMessage:
		return decodeInto(data, ChatMessageEvent{Header: h})

	case Error:
		ev := ErrorEvent{Header: h}
		if err := wire.Unmarshal(data, &ev.Payload); err != nil {
			return nil, err
		}
		if code, err := jsonparser.GetInt(data, "code"); err == nil {
			ev.Code = int(code)
		}
		ev.Message = ErrorMessage(ev.Payload)
		return ev, nil

	case Pong:
		return PongEvent{Header: h}, nil

	default:
		return UnknownEvent{Header: h, Data: data}, nil
	}
}

func decodeInto[T Event](data []byte, ev T) (Event, error) {
	if err := wire.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// decodeMetadata reads data.metadata when present, otherwise every key except table_id.
func decodeMetadata(h Header, data []byte) (Event, error) {
	var raw map[string]any
	if err := wire.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	ev := TableMetadataEvent{Header: h}
	ev.TableID, _ = raw["table_id"].(string)

	if nested, ok := raw["metadata"].(map[string]any); ok {
		ev.Fields = nested
		return ev, nil
	}
	delete(raw, "table_id")
	ev.Fields = raw
	return ev, nil
}
