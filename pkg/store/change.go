package store

import (
	"sync"

	"github.com/formcanvas/sheetsync/pkg/logger"
)

type ChangeKind string

const (
	TableCreated       ChangeKind = "table_created"
	TableRemoved       ChangeKind = "table_removed"
	RowAppended        ChangeKind = "row_appended"
	RowsReplaced       ChangeKind = "rows_replaced"
	CellUpdated        ChangeKind = "cell_updated"
	RowAdded           ChangeKind = "row_added"
	RowDeleted         ChangeKind = "row_deleted"
	SchemaUpdated      ChangeKind = "schema_updated"
	MetadataUpdated    ChangeKind = "metadata_updated"
	NoteSet            ChangeKind = "note_set"
	NoteCleared        ChangeKind = "note_cleared"
	StreamingChanged   ChangeKind = "streaming_changed"
	ConnectionChanged  ChangeKind = "connection_changed"
	ActiveTableChanged ChangeKind = "active_table_changed"
	Cleared            ChangeKind = "cleared"
	Imported           ChangeKind = "imported"
)

// Change describes one committed mutation. Version increases by one per change.
type Change struct {
	Version  uint64
	Kind     ChangeKind
	TableID  string
	RowIndex int
	Key      string
}

type Listener func(Change)

// notifier delivers changes to listeners in version order. Changes are queued
// while the store write lock is held and drained after it is released, so a
// listener may read from or write to the store. Writes made from a listener are
// delivered after the current batch.
type notifier struct {
	mu        sync.Mutex
	version   uint64
	pending   []Change
	draining  bool
	listeners map[uint64]Listener
	nextID    uint64

	log logger.Logger
}

func newNotifier() notifier {
	return notifier{listeners: make(map[uint64]Listener), log: logger.Nop()}
}

// Subscribe registers fn and returns a function that removes it.
func (n *notifier) Subscribe(fn Listener) (unsubscribe func()) {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.listeners[id] = fn
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.listeners, id)
			n.mu.Unlock()
		})
	}
}

// Version returns the version of the latest committed change.
func (n *notifier) Version() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.version
}

func (n *notifier) enqueue(changes ...Change) {
	if len(changes) == 0 {
		return
	}

	n.mu.Lock()
	for _, c := range changes {
		n.version++
		c.Version = n.version
		n.pending = append(n.pending, c)
	}
	n.mu.Unlock()
}

func (n *notifier) flush() {
	n.mu.Lock()
	if n.draining {
		n.mu.Unlock()
		return
	}
	n.draining = true

	for len(n.pending) > 0 {
		batch := n.pending
		n.pending = nil
		listeners := make([]Listener, 0, len(n.listeners))
		for id := uint64(0); id < n.nextID; id++ {
			if fn, ok := n.listeners[id]; ok {
				listeners = append(listeners, fn)
			}
		}
		n.mu.Unlock()

		for _, c := range batch {
			for _, fn := range listeners {
				n.deliver(fn, c)
			}
		}

		n.mu.Lock()
	}

	n.draining = false
	n.mu.Unlock()
}

func (n *notifier) deliver(fn Listener, c Change) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Error("store: listener panicked", "kind", c.Kind, "table_id", c.TableID, "panic", r)
		}
	}()
	fn(c)
}
