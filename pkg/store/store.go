// Package store holds the authoritative client-side state of every sheet.
//
// A Store is the single writer: streamed rows, agent tool calls and user edits
// all mutate tables through its methods. Each method is synchronous and atomic;
// listeners registered with [Store.Subscribe] observe committed changes only, in
// commit order.
package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/formcanvas/sheetsync/internal/rand"
	"github.com/formcanvas/sheetsync/pkg/logger"
	"github.com/formcanvas/sheetsync/pkg/models"
)

var (
	ErrTableNotFound = errors.New("table not found")
	ErrRowOutOfRange = errors.New("row index out of range")
)

// Origin tells CreateTable who asked for the table.
type Origin int

const (
	// OriginUser tables are seeded with one default row so editors never show an empty grid.
	OriginUser Origin = iota
	// OriginServer tables start empty and are filled by streamed rows.
	OriginServer
)

// CreateOptions configures CreateTable. Zero values select defaults.
type CreateOptions struct {
	ID       string
	Title    string
	Schema   models.Schema
	Rows     []models.Row
	Position *models.Position
	Metadata map[string]any
	Origin   Origin
}

// Snapshot is the serialisable view of the whole store.
type Snapshot struct {
	Tables        map[string]models.Table `json:"tables"`
	ActiveTableID *string                 `json:"activeTableId"`
}

type Store struct {
	mu            sync.RWMutex
	tables        map[string]*models.Table
	order         []string
	activeTableID string
	connected     bool

	notifier
}

type Option func(*Store)

// WithLogger sets the logger used to report listener panics. A nil logger is ignored.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		tables:   make(map[string]*models.Table),
		notifier: newNotifier(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// mutate runs fn under the write lock and, when it succeeds, publishes the
// changes it returns.
func (s *Store) mutate(fn func() ([]Change, error)) error {
	s.mu.Lock()
	changes, err := fn()
	if err == nil {
		s.enqueue(changes...)
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.flush()
	return nil
}

// table must be called with s.mu held.
func (s *Store) table(id string) (*models.Table, error) {
	t, ok := s.tables[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, id)
	}
	return t, nil
}

func checkRow(t *models.Table, rowIndex int) error {
	if rowIndex < 0 || rowIndex >= len(t.Rows) {
		return fmt.Errorf("%w: table %s has %d rows, got %d", ErrRowOutOfRange, t.ID, len(t.Rows), rowIndex)
	}
	return nil
}

// CreateTable adds a table and makes it active. It returns the table id, which
// is allocated when opts.ID is empty.
//
// Creating a table whose id already exists updates that record in place: title,
// schema and position are replaced when given, rows are replaced (dropping
// notes) only when opts.Rows is non-nil, and metadata is shallow-merged.
func (s *Store) CreateTable(opts CreateOptions) string {
	id := opts.ID
	if id == "" {
		id = rand.NewTableID()
	}

	_ = s.mutate(func() ([]Change, error) {
		if existing, ok := s.tables[id]; ok {
			s.mergeExisting(existing, opts)
		} else {
			s.tables[id] = newTable(id, opts)
			s.order = append(s.order, id)
		}
		s.activeTableID = id
		return []Change{
			{Kind: TableCreated, TableID: id},
			{Kind: ActiveTableChanged, TableID: id},
		}, nil
	})

	return id
}

func newTable(id string, opts CreateOptions) *models.Table {
	schema := opts.Schema.Normalize()
	if len(schema) == 0 {
		schema = models.DefaultSchema()
	}

	title := opts.Title
	if title == "" {
		title = models.DefaultTitle
	}

	var rows []models.Row
	switch {
	case opts.Rows != nil:
		rows = models.CloneRows(opts.Rows)
	case opts.Origin == OriginUser:
		rows = []models.Row{models.DefaultRowFor(schema)}
	default:
		rows = []models.Row{}
	}

	t := &models.Table{
		ID:               id,
		Title:            title,
		Schema:           schema,
		Rows:             rows,
		Metadata:         make(map[string]any, len(opts.Metadata)),
		CalibrationNotes: make(map[int]models.CalibrationNote),
	}
	for k, v := range opts.Metadata {
		t.Metadata[k] = v
	}
	if opts.Position != nil {
		p := *opts.Position
		t.Position = &p
	}
	return t
}

func (s *Store) mergeExisting(t *models.Table, opts CreateOptions) {
	if opts.Title != "" {
		t.Title = opts.Title
	}
	if schema := opts.Schema.Normalize(); len(schema) > 0 {
		t.Schema = schema
	}
	if opts.Position != nil {
		p := *opts.Position
		t.Position = &p
	}
	if opts.Rows != nil {
		t.Rows = models.CloneRows(opts.Rows)
		t.CalibrationNotes = make(map[int]models.CalibrationNote)
	}
	for k, v := range opts.Metadata {
		t.Metadata[k] = v
	}
}

// RemoveTable deletes a table. Removing the active table clears the active pointer.
func (s *Store) RemoveTable(id string) error {
	return s.mutate(func() ([]Change, error) {
		if _, err := s.table(id); err != nil {
			return nil, err
		}
		delete(s.tables, id)
		for i, v := range s.order {
			if v == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}

		changes := []Change{{Kind: TableRemoved, TableID: id}}
		if s.activeTableID == id {
			s.activeTableID = ""
			changes = append(changes, Change{Kind: ActiveTableChanged})
		}
		return changes, nil
	})
}

// AppendRow pushes row to the end of the table.
func (s *Store) AppendRow(id string, row models.Row) error {
	return s.mutate(func() ([]Change, error) {
		t, err := s.table(id)
		if err != nil {
			return nil, err
		}
		t.Rows = append(t.Rows, row.Clone())
		return []Change{{Kind: RowAppended, TableID: id, RowIndex: len(t.Rows) - 1}}, nil
	})
}

// ReplaceRows overwrites all rows, and the schema when schema is non-empty.
// Every calibration note is discarded: notes are not mapped across a replace.
func (s *Store) ReplaceRows(id string, rows []models.Row, schema models.Schema) error {
	return s.mutate(func() ([]Change, error) {
		t, err := s.table(id)
		if err != nil {
			return nil, err
		}
		t.Rows = models.CloneRows(rows)
		if normalized := schema.Normalize(); len(normalized) > 0 {
			t.Schema = normalized
		}
		t.CalibrationNotes = make(map[int]models.CalibrationNote)
		return []Change{{Kind: RowsReplaced, TableID: id}}, nil
	})
}

// UpdateCell sets one cell. It fails with ErrRowOutOfRange when no row exists at rowIndex.
func (s *Store) UpdateCell(id string, rowIndex int, key string, value any) error {
	return s.mutate(func() ([]Change, error) {
		t, err := s.table(id)
		if err != nil {
			return nil, err
		}
		if err := checkRow(t, rowIndex); err != nil {
			return nil, err
		}
		if t.Rows[rowIndex] == nil {
			t.Rows[rowIndex] = models.Row{}
		}
		t.Rows[rowIndex][key] = value
		return []Change{{Kind: CellUpdated, TableID: id, RowIndex: rowIndex, Key: key}}, nil
	})
}

// AddRow appends a row built from the schema defaults overlaid with row, and
// returns its index. A nil row yields DefaultRowFor(schema).
func (s *Store) AddRow(id string, row models.Row) (int, error) {
	var index int
	err := s.mutate(func() ([]Change, error) {
		t, err := s.table(id)
		if err != nil {
			return nil, err
		}
		t.Rows = append(t.Rows, withDefaults(t.Schema, row))
		index = len(t.Rows) - 1
		return []Change{{Kind: RowAdded, TableID: id, RowIndex: index}}, nil
	})
	return index, err
}

// InsertRow places a row at rowIndex (0 <= rowIndex <= len(rows)) and moves
// every note at or after rowIndex down by one.
func (s *Store) InsertRow(id string, rowIndex int, row models.Row) error {
	return s.mutate(func() ([]Change, error) {
		t, err := s.table(id)
		if err != nil {
			return nil, err
		}
		if rowIndex < 0 || rowIndex > len(t.Rows) {
			return nil, fmt.Errorf("%w: insert at %d into %d rows", ErrRowOutOfRange, rowIndex, len(t.Rows))
		}
		t.Rows = append(t.Rows, nil)
		copy(t.Rows[rowIndex+1:], t.Rows[rowIndex:])
		t.Rows[rowIndex] = withDefaults(t.Schema, row)
		t.CalibrationNotes = shiftNotesAfterInsert(t.CalibrationNotes, rowIndex)
		return []Change{{Kind: RowAdded, TableID: id, RowIndex: rowIndex}}, nil
	})
}

// DeleteRow removes the row at rowIndex. A note on that row is dropped and
// notes on later rows move up by one.
func (s *Store) DeleteRow(id string, rowIndex int) error {
	return s.deleteRow(id, rowIndex, false)
}

// DeleteRowSigned is DeleteRow where a negative rowIndex counts from the end
// of the table, so -1 is the last row. The index is resolved under the same
// lock as the delete.
func (s *Store) DeleteRowSigned(id string, rowIndex int) error {
	return s.deleteRow(id, rowIndex, true)
}

func (s *Store) deleteRow(id string, rowIndex int, signed bool) error {
	return s.mutate(func() ([]Change, error) {
		t, err := s.table(id)
		if err != nil {
			return nil, err
		}
		if signed && rowIndex < 0 {
			rowIndex += len(t.Rows)
		}
		if err := checkRow(t, rowIndex); err != nil {
			return nil, err
		}
		t.Rows = append(t.Rows[:rowIndex], t.Rows[rowIndex+1:]...)
		t.CalibrationNotes = shiftNotesAfterDelete(t.CalibrationNotes, rowIndex)
		return []Change{{Kind: RowDeleted, TableID: id, RowIndex: rowIndex}}, nil
	})
}

// UpdateSchema replaces the column list. Existing cell values are kept.
func (s *Store) UpdateSchema(id string, schema models.Schema) error {
	return s.mutate(func() ([]Change, error) {
		t, err := s.table(id)
		if err != nil {
			return nil, err
		}
		t.Schema = schema.Normalize()
		return []Change{{Kind: SchemaUpdated, TableID: id}}, nil
	})
}

// UpdateMetadata shallow-merges fields into the table metadata.
func (s *Store) UpdateMetadata(id string, fields map[string]any) error {
	return s.mutate(func() ([]Change, error) {
		t, err := s.table(id)
		if err != nil {
			return nil, err
		}
		for k, v := range fields {
			t.Metadata[k] = v
		}
		return []Change{{Kind: MetadataUpdated, TableID: id}}, nil
	})
}

// SetCalibrationNote attaches note to an existing row, replacing any previous note.
func (s *Store) SetCalibrationNote(id string, rowIndex int, note models.CalibrationNote) error {
	return s.mutate(func() ([]Change, error) {
		t, err := s.table(id)
		if err != nil {
			return nil, err
		}
		if err := checkRow(t, rowIndex); err != nil {
			return nil, err
		}
		if note.Severity == "" {
			note.Severity = models.SeverityWarning
		}
		t.CalibrationNotes[rowIndex] = note
		return []Change{{Kind: NoteSet, TableID: id, RowIndex: rowIndex}}, nil
	})
}

// ClearCalibrationNote removes the note on rowIndex. Clearing a row without a note is a no-op.
func (s *Store) ClearCalibrationNote(id string, rowIndex int) error {
	return s.mutate(func() ([]Change, error) {
		t, err := s.table(id)
		if err != nil {
			return nil, err
		}
		if _, ok := t.CalibrationNotes[rowIndex]; !ok {
			return nil, nil
		}
		delete(t.CalibrationNotes, rowIndex)
		return []Change{{Kind: NoteCleared, TableID: id, RowIndex: rowIndex}}, nil
	})
}

func (s *Store) SetStreaming(id string, streaming bool) error {
	return s.mutate(func() ([]Change, error) {
		t, err := s.table(id)
		if err != nil {
			return nil, err
		}
		if t.IsStreaming == streaming {
			return nil, nil
		}
		t.IsStreaming = streaming
		return []Change{{Kind: StreamingChanged, TableID: id}}, nil
	})
}

func (s *Store) SetConnected(connected bool) {
	_ = s.mutate(func() ([]Change, error) {
		if s.connected == connected {
			return nil, nil
		}
		s.connected = connected
		return []Change{{Kind: ConnectionChanged}}, nil
	})
}

// SetActiveTable points the session at id. An empty id clears the pointer.
func (s *Store) SetActiveTable(id string) error {
	return s.mutate(func() ([]Change, error) {
		if id != "" {
			if _, err := s.table(id); err != nil {
				return nil, err
			}
		}
		if s.activeTableID == id {
			return nil, nil
		}
		s.activeTableID = id
		return []Change{{Kind: ActiveTableChanged, TableID: id}}, nil
	})
}

// ClearAll drops every table and the active pointer. Connection state is kept.
func (s *Store) ClearAll() {
	_ = s.mutate(func() ([]Change, error) {
		s.tables = make(map[string]*models.Table)
		s.order = nil
		s.activeTableID = ""
		return []Change{{Kind: Cleared}}, nil
	})
}

// ImportTables replaces the whole table set with tables. Notes that do not
// point at an existing row are dropped. The active pointer survives only if
// its table is part of the import.
func (s *Store) ImportTables(tables []models.Table) {
	_ = s.mutate(func() ([]Change, error) {
		s.tables = make(map[string]*models.Table, len(tables))
		s.order = make([]string, 0, len(tables))
		for _, in := range tables {
			if in.ID == "" {
				continue
			}
			t := sanitize(in)
			if _, dup := s.tables[t.ID]; !dup {
				s.order = append(s.order, t.ID)
			}
			s.tables[t.ID] = &t
		}
		if _, ok := s.tables[s.activeTableID]; !ok {
			s.activeTableID = ""
		}
		return []Change{{Kind: Imported}}, nil
	})
}

func sanitize(in models.Table) models.Table {
	t := in.Clone()
	if t.Schema = t.Schema.Normalize(); len(t.Schema) == 0 {
		t.Schema = models.DefaultSchema()
	}
	for k := range t.CalibrationNotes {
		if k < 0 || k >= len(t.Rows) {
			delete(t.CalibrationNotes, k)
		}
	}
	return t
}

// Table returns a copy of the table with the given id.
func (s *Store) Table(id string) (models.Table, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[id]
	if !ok {
		return models.Table{}, false
	}
	return t.Clone(), true
}

func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.tables[id]
	return ok
}

// Tables returns copies of all tables in creation order.
func (s *Store) Tables() []models.Table {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Table, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tables[id].Clone())
	}
	return out
}

// ActiveTableID returns "" when no table is active.
func (s *Store) ActiveTableID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.activeTableID
}

func (s *Store) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.connected
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{Tables: make(map[string]models.Table, len(s.tables))}
	for id, t := range s.tables {
		snap.Tables[id] = t.Clone()
	}
	if s.activeTableID != "" {
		active := s.activeTableID
		snap.ActiveTableID = &active
	}
	return snap
}
