// Package dispatch applies inbound protocol events to a store.
//
// The Dispatcher decides which Store mutations each event triggers. It never
// returns errors to the transport: frames it cannot apply are logged and
// dropped, and a panicking handler is recovered so the next frame is still
// processed.
//
// Server writes (cell_update, tool_call update_cell) are applied as trusted
// writes. Uncertain corrections arrive as calibration_note and never touch
// cell values.
package dispatch

import (
	"errors"

	"github.com/formcanvas/sheetsync/pkg/logger"
	"github.com/formcanvas/sheetsync/pkg/models"
	"github.com/formcanvas/sheetsync/pkg/protocol"
	"github.com/formcanvas/sheetsync/pkg/store"
)

// ErrNoTarget is logged when a tool call names no table and none is active.
var ErrNoTarget = errors.New("tool call has no target table")

type Dispatcher struct {
	store    *store.Store
	notifier Notifier
	observe  func(protocol.Event)
	log      logger.Logger
}

type Option func(*Dispatcher)

func WithNotifier(n Notifier) Option {
	return func(d *Dispatcher) {
		d.notifier = n
	}
}

func WithLogger(l logger.Logger) Option {
	return func(d *Dispatcher) {
		d.log = l
	}
}

// WithObserver registers fn to be called with every event after it was applied.
func WithObserver(fn func(protocol.Event)) Option {
	return func(d *Dispatcher) {
		d.observe = fn
	}
}

func New(s *store.Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:    s,
		notifier: NopNotifier{},
		log:      logger.Nop(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// HandleFrame decodes frame and dispatches the result. Malformed frames are
// logged and dropped.
func (d *Dispatcher) HandleFrame(frame []byte) {
	ev, err := protocol.Decode(frame)
	if err != nil {
		d.log.Warn("dispatch: dropping frame", "error", err)
		return
	}
	d.Dispatch(ev)
}

// Dispatch applies one event to the store.
func (d *Dispatcher) Dispatch(ev protocol.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("dispatch: handler panicked", "type", ev.EventHeader().Type, "panic", r)
		}
	}()

	d.apply(ev)

	if d.observe != nil {
		d.observe(ev)
	}
}

func (d *Dispatcher) apply(ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.ConnectionAckEvent:
		d.store.SetConnected(true)

	case protocol.TableCreateEvent:
		d.onTableCreate(e)

	case protocol.RowCompleteEvent:
		d.onRowComplete(e)

	case protocol.TableReplaceEvent:
		d.onTableReplace(e)

	case protocol.CellUpdateEvent:
		d.check(e, d.store.UpdateCell(e.TableID, e.RowIndex, e.ColKey, e.Value))

	case protocol.CalibrationNoteEvent:
		note := models.CalibrationNote{Note: e.Note, Severity: e.Severity}
		d.check(e, d.store.SetCalibrationNote(e.TableID, e.RowIndex, note))

	case protocol.TableMetadataEvent:
		d.check(e, d.store.UpdateMetadata(e.TableID, e.Fields))

	case protocol.ToolCallEvent:
		d.onToolCall(e.Command)

	case protocol.TaskStartEvent:
		d.log.Info("dispatch: task started", "task_id", e.TaskID, "task_type", e.TaskType, "table_id", e.TableID)
		if e.TableID != "" {
			d.check(e, d.store.SetStreaming(e.TableID, true))
		}

	case protocol.TaskFinishEvent:
		d.onTaskFinish(e)

	case protocol.TableDeleteEvent:
		// Tables are only removed by the user.
		d.log.Info("dispatch: ignoring table_delete", "table_id", e.TableID)

	case protocol.ChatMessageEvent:
		d.notify(Notification{
			Kind:        KindChat,
			Role:        e.Role,
			Message:     e.Content,
			ContentType: e.ContentType,
		})

	case protocol.ErrorEvent:
		d.log.Warn("dispatch: server error", "code", e.Code, "message", e.Message)
		d.notify(Notification{Kind: KindError, Code: e.Code, Message: e.Message})

	case protocol.NodeEvent:
		d.log.Debug("dispatch: pipeline node", "type", e.Type, "task_id", e.TaskID, "node", e.Node)

	case protocol.PongEvent:
		d.log.Debug("dispatch: pong")

	case protocol.UnknownEvent:
		d.log.Warn("dispatch: unknown event type", "type", e.Type)

	default:
		d.log.Warn("dispatch: unhandled event", "type", ev.EventHeader().Type)
	}
}

func (d *Dispatcher) onTableCreate(e protocol.TableCreateEvent) {
	position := models.DefaultPosition
	if e.Position != nil {
		position = *e.Position
	}

	id := d.store.CreateTable(store.CreateOptions{
		ID:       e.TableID,
		Title:    e.Title,
		Schema:   e.Schema,
		Rows:     e.Rows,
		Position: &position,
		Metadata: e.Metadata,
		Origin:   store.OriginServer,
	})
	d.check(e, d.store.SetStreaming(id, true))
}

// onRowComplete creates a streaming table for an unknown id before appending.
func (d *Dispatcher) onRowComplete(e protocol.RowCompleteEvent) {
	if e.TableID == "" {
		d.log.Warn("dispatch: row_complete without table_id")
		return
	}

	if !d.store.Has(e.TableID) {
		d.store.CreateTable(store.CreateOptions{
			ID:     e.TableID,
			Title:  models.ImportedTitle,
			Origin: store.OriginServer,
		})
		d.check(e, d.store.SetStreaming(e.TableID, true))
		d.log.Debug("dispatch: created table for first row", "table_id", e.TableID)
	}

	d.check(e, d.store.AppendRow(e.TableID, e.Row))
}

func (d *Dispatcher) onTableReplace(e protocol.TableReplaceEvent) {
	if err := d.store.ReplaceRows(e.TableID, e.Rows, e.Schema); err != nil {
		d.check(e, err)
		return
	}
	if len(e.Metadata) > 0 {
		d.check(e, d.store.UpdateMetadata(e.TableID, e.Metadata))
	}
}

func (d *Dispatcher) onTaskFinish(e protocol.TaskFinishEvent) {
	d.log.Info("dispatch: task finished", "task_id", e.TaskID, "table_id", e.TableID, "failed", e.Failed())
	if e.TableID != "" {
		d.check(e, d.store.SetStreaming(e.TableID, false))
	}
	if e.Failed() {
		d.notify(Notification{Kind: KindTaskFailed, TaskID: e.TaskID, Message: e.Message})
	}
}

// check logs a mutation the store refused. The event is dropped, not retried.
func (d *Dispatcher) check(ev protocol.Event, err error) {
	if err == nil {
		return
	}
	d.log.Warn("dispatch: update dropped", "type", ev.EventHeader().Type, "error", err)
}

func (d *Dispatcher) notify(n Notification) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("dispatch: notifier panicked", "kind", n.Kind, "panic", r)
		}
	}()
	d.notifier.Notify(n)
}
