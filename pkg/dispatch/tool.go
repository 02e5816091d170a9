package dispatch

import (
	"github.com/formcanvas/sheetsync/pkg/models"
	"github.com/formcanvas/sheetsync/pkg/protocol"
	"github.com/formcanvas/sheetsync/pkg/store"
)

// onToolCall runs an agent command. Commands that edit an existing table
// resolve their target as params.table_id, falling back to the active table.
func (d *Dispatcher) onToolCall(cmd protocol.Command) {
	switch c := cmd.(type) {
	case protocol.CreateTableCommand:
		d.createTable(c)

	case protocol.UpdateCellCommand:
		id, ok := d.target(c)
		if !ok {
			return
		}
		d.toolResult(c, d.store.UpdateCell(id, c.RowIndex, c.ColKey, c.Value))

	case protocol.AddRowCommand:
		id, ok := d.target(c)
		if !ok {
			return
		}
		if c.Position != nil {
			d.toolResult(c, d.store.InsertRow(id, *c.Position, c.Row))
			return
		}
		_, err := d.store.AddRow(id, c.Row)
		d.toolResult(c, err)

	case protocol.DeleteRowCommand:
		id, ok := d.target(c)
		if !ok {
			return
		}
		d.toolResult(c, d.store.DeleteRowSigned(id, c.RowIndex))

	case protocol.UnknownCommand:
		d.log.Info("dispatch: ignoring unknown tool", "tool", c.Name)

	default:
		d.log.Warn("dispatch: unhandled tool", "tool", cmd.Tool())
	}
}

// createTable behaves like table_create except that the table is not marked
// streaming: an agent-built table is complete when the call arrives and no
// task_finish will follow to clear the flag. Rows are only replaced on an
// existing id when the call carries rows.
func (d *Dispatcher) createTable(c protocol.CreateTableCommand) {
	metadata := c.Metadata
	if c.Template != "" {
		metadata = make(map[string]any, len(c.Metadata)+1)
		for k, v := range c.Metadata {
			metadata[k] = v
		}
		metadata["template"] = c.Template
	}

	position := models.DefaultPosition
	id := d.store.CreateTable(store.CreateOptions{
		ID:       c.TableID,
		Title:    c.Title,
		Schema:   c.Schema,
		Rows:     c.Rows,
		Position: &position,
		Metadata: metadata,
		Origin:   store.OriginServer,
	})
	d.log.Info("dispatch: tool created table", "table_id", id)
}

func (d *Dispatcher) target(cmd protocol.Command) (string, bool) {
	if id := cmd.TargetTable(); id != "" {
		return id, true
	}
	if id := d.store.ActiveTableID(); id != "" {
		return id, true
	}
	d.log.Warn("dispatch: tool call dropped", "tool", cmd.Tool(), "error", ErrNoTarget)
	return "", false
}

func (d *Dispatcher) toolResult(cmd protocol.Command, err error) {
	if err != nil {
		d.log.Warn("dispatch: tool call dropped", "tool", cmd.Tool(), "error", err)
		return
	}
	d.log.Debug("dispatch: tool applied", "tool", cmd.Tool())
}
