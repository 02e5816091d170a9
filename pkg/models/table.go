package models

import (
	"errors"
	"fmt"
)

// ColumnType is the value kind of a column.
type ColumnType string

const (
	ColumnText   ColumnType = "text"
	ColumnNumber ColumnType = "number"
	ColumnDate   ColumnType = "date"
)

// ParseColumnType maps unknown or empty types to ColumnText.
func ParseColumnType(s string) ColumnType {
	switch ColumnType(s) {
	case ColumnNumber:
		return ColumnNumber
	case ColumnDate:
		return ColumnDate
	default:
		return ColumnText
	}
}

// Column describes one field of a table.
type Column struct {
	Key   string     `json:"key"`
	Title string     `json:"title"`
	Type  ColumnType `json:"type"`
	Width int        `json:"width,omitempty"`
}

// Schema is the ordered column list of a table. Keys are unique.
type Schema []Column

var (
	ErrEmptyColumnKey     = errors.New("column key is empty")
	ErrDuplicateColumnKey = errors.New("duplicate column key")
)

// Validate reports the first empty or duplicated key.
func (s Schema) Validate() error {
	seen := make(map[string]struct{}, len(s))
	for i, c := range s {
		if c.Key == "" {
			return fmt.Errorf("column %d: %w", i, ErrEmptyColumnKey)
		}
		if _, ok := seen[c.Key]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateColumnKey, c.Key)
		}
		seen[c.Key] = struct{}{}
	}
	return nil
}

// Has reports whether key is a column of s.
func (s Schema) Has(key string) bool {
	for _, c := range s {
		if c.Key == key {
			return true
		}
	}
	return false
}

func (s Schema) Keys() []string {
	keys := make([]string, len(s))
	for i, c := range s {
		keys[i] = c.Key
	}
	return keys
}

// Normalize fills in missing titles and types. Later duplicates of a key are dropped.
func (s Schema) Normalize() Schema {
	out := make(Schema, 0, len(s))
	seen := make(map[string]struct{}, len(s))
	for _, c := range s {
		if c.Key == "" {
			continue
		}
		if _, ok := seen[c.Key]; ok {
			continue
		}
		seen[c.Key] = struct{}{}
		if c.Title == "" {
			c.Title = c.Key
		}
		c.Type = ParseColumnType(string(c.Type))
		out = append(out, c)
	}
	return out
}

func (s Schema) Clone() Schema {
	if s == nil {
		return nil
	}
	out := make(Schema, len(s))
	copy(out, s)
	return out
}

// Row maps column keys to scalar cell values. A row has no identity beyond its index.
type Row map[string]any

func (r Row) Clone() Row {
	if r == nil {
		return Row{}
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Position is where the sheet sits on the canvas.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// DefaultPosition is used when a table_create omits position.
var DefaultPosition = Position{X: 100, Y: 100}

// Table is one editable sheet.
//
// CalibrationNotes keys are always valid indices into Rows.
type Table struct {
	ID               string                  `json:"id"`
	Title            string                  `json:"title"`
	Schema           Schema                  `json:"schema"`
	Rows             []Row                   `json:"rows"`
	Metadata         map[string]any          `json:"metadata"`
	CalibrationNotes map[int]CalibrationNote `json:"calibrationNotes"`
	IsStreaming      bool                    `json:"isStreaming"`
	Position         *Position               `json:"position,omitempty"`
}

// Clone returns a copy that shares no mutable state with t.
func (t Table) Clone() Table {
	out := t
	out.Schema = t.Schema.Clone()
	out.Rows = CloneRows(t.Rows)
	out.Metadata = cloneMap(t.Metadata)
	out.CalibrationNotes = make(map[int]CalibrationNote, len(t.CalibrationNotes))
	for k, v := range t.CalibrationNotes {
		out.CalibrationNotes[k] = v
	}
	if t.Position != nil {
		p := *t.Position
		out.Position = &p
	}
	return out
}

func CloneRows(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
