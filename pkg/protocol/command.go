package protocol

import (
	"fmt"

	"github.com/buger/jsonparser"

	"github.com/formcanvas/sheetsync/pkg/models"
)

// Tool names a tool_call command.
type Tool string

const (
	ToolCreateTable Tool = "create_table"
	ToolUpdateCell  Tool = "update_cell"
	ToolAddRow      Tool = "add_row"
	ToolDeleteRow   Tool = "delete_row"
)

// Command is a decoded tool_call. The set of implementations is closed:
// CreateTableCommand, UpdateCellCommand, AddRowCommand, DeleteRowCommand and
// UnknownCommand.
type Command interface {
	Tool() Tool
	// TargetTable is params.table_id, or "" when the agent omitted it.
	TargetTable() string
	command()
}

type CreateTableCommand struct {
	TableID  string         `json:"table_id"`
	Title    string         `json:"title"`
	Template string         `json:"template"`
	Schema   models.Schema  `json:"schema"`
	Rows     []models.Row   `json:"rows"`
	Metadata map[string]any `json:"metadata"`
}

type UpdateCellCommand struct {
	TableID  string `json:"table_id"`
	RowIndex int    `json:"row_index"`
	ColKey   string `json:"col_key"`
	Value    any    `json:"value"`
}

type AddRowCommand struct {
	TableID string     `json:"table_id"`
	Row     models.Row `json:"data"`
	// Position inserts the row at that index instead of appending it.
	Position *int `json:"position"`
}

type DeleteRowCommand struct {
	TableID string `json:"table_id"`
	// RowIndex counts from the end when negative: -1 is the last row.
	RowIndex int `json:"row_index"`
}

// UnknownCommand keeps a tool this client does not implement.
type UnknownCommand struct {
	Name    string
	TableID string
	Params  map[string]any
}

func (CreateTableCommand) Tool() Tool { return ToolCreateTable }
func (UpdateCellCommand) Tool() Tool  { return ToolUpdateCell }
func (AddRowCommand) Tool() Tool      { return ToolAddRow }
func (DeleteRowCommand) Tool() Tool   { return ToolDeleteRow }
func (c UnknownCommand) Tool() Tool   { return Tool(c.Name) }

func (c CreateTableCommand) TargetTable() string { return c.TableID }
func (c UpdateCellCommand) TargetTable() string  { return c.TableID }
func (c AddRowCommand) TargetTable() string      { return c.TableID }
func (c DeleteRowCommand) TargetTable() string   { return c.TableID }
func (c UnknownCommand) TargetTable() string     { return c.TableID }

func (CreateTableCommand) command() {}
func (UpdateCellCommand) command()  {}
func (AddRowCommand) command()      {}
func (DeleteRowCommand) command()   {}
func (UnknownCommand) command()     {}

// ParseCommand decodes the params object of a tool_call for the named tool.
func ParseCommand(tool string, params []byte) (Command, error) {
	if len(params) == 0 {
		params = emptyObject
	}

	switch Tool(tool) {
	case ToolCreateTable:
		var c CreateTableCommand
		if err := wire.Unmarshal(params, &c); err != nil {
			return nil, err
		}
		if c.Rows == nil {
			if err := unmarshalKey(params, "data", &c.Rows); err != nil {
				return nil, err
			}
		}
		return c, nil

	case ToolUpdateCell:
		var c UpdateCellCommand
		if err := wire.Unmarshal(params, &c); err != nil {
			return nil, err
		}
		if err := requireKey(params, "row_index"); err != nil {
			return nil, err
		}
		if c.ColKey == "" {
			c.ColKey, _ = jsonparser.GetString(params, "key")
		}
		if c.ColKey == "" {
			return nil, fmt.Errorf("missing col_key")
		}
		return c, nil

	case ToolAddRow:
		var c AddRowCommand
		if err := wire.Unmarshal(params, &c); err != nil {
			return nil, err
		}
		if c.Row == nil {
			if err := unmarshalKey(params, "row", &c.Row); err != nil {
				return nil, err
			}
		}
		return c, nil

	case ToolDeleteRow:
		var c DeleteRowCommand
		if err := wire.Unmarshal(params, &c); err != nil {
			return nil, err
		}
		if err := requireKey(params, "row_index"); err != nil {
			return nil, err
		}
		return c, nil

	default:
		c := UnknownCommand{Name: tool}
		if err := wire.Unmarshal(params, &c.Params); err != nil {
			return nil, err
		}
		c.TableID, _ = jsonparser.GetString(params, "table_id")
		return c, nil
	}
}

func requireKey(data []byte, key string) error {
	_, dataType, _, err := jsonparser.Get(data, key)
	if dataType == jsonparser.NotExist || dataType == jsonparser.Null {
		return fmt.Errorf("missing %s", key)
	}
	return err
}

// unmarshalKey decodes data[key] into dst when the key holds a non-null value.
func unmarshalKey(data []byte, key string, dst any) error {
	value, dataType, _, err := jsonparser.Get(data, key)
	if dataType == jsonparser.NotExist || dataType == jsonparser.Null {
		return nil
	}
	if err != nil {
		return err
	}
	return wire.Unmarshal(value, dst)
}
