package main

import (
	"fmt"
	"io"
	"sync"
	"text/tabwriter"

	"github.com/formcanvas/sheetsync/internal/codec"
	"github.com/formcanvas/sheetsync/pkg/dispatch"
	"github.com/formcanvas/sheetsync/pkg/protocol"
	"github.com/formcanvas/sheetsync/pkg/store"
)

// printer serialises output from the transport goroutine and the command.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) event(ev protocol.Event) {
	h := ev.EventHeader()
	switch e := ev.(type) {
	case protocol.RowCompleteEvent:
		p.printf("%s table=%s row=%v\n", h.Type, e.TableID, e.Row)
	case protocol.CellUpdateEvent:
		p.printf("%s table=%s row=%d col=%s value=%v\n", h.Type, e.TableID, e.RowIndex, e.ColKey, e.Value)
	case protocol.CalibrationNoteEvent:
		p.printf("%s table=%s row=%d severity=%s note=%q\n", h.Type, e.TableID, e.RowIndex, e.Severity, e.Note)
	case protocol.TaskStartEvent:
		p.printf("%s task=%s table=%s\n", h.Type, e.TaskID, e.TableID)
	case protocol.TaskFinishEvent:
		p.printf("%s task=%s table=%s failed=%t\n", h.Type, e.TaskID, e.TableID, e.Failed())
	case protocol.ToolCallEvent:
		p.printf("%s tool=%s table=%s\n", h.Type, e.Command.Tool(), e.Command.TargetTable())
	case protocol.PongEvent:
	default:
		p.printf("%s\n", h.Type)
	}
}

func (p *printer) notify(n dispatch.Notification) {
	switch n.Kind {
	case dispatch.KindChat:
		p.printf("[%s] %s\n", n.Role, n.Message)
	default:
		p.printf("! %s: %s\n", n.Kind, n.Message)
	}
}

func (p *printer) tables(s *store.Store) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tROWS\tNOTES\tSTREAMING")
	for _, t := range s.Tables() {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%t\n", t.ID, t.Title, len(t.Rows), len(t.CalibrationNotes), t.IsStreaming)
	}
	_ = tw.Flush()
}

func (p *printer) json(s *store.Store) error {
	b, err := codec.New().Marshal(s.Snapshot())
	if err != nil {
		return err
	}
	p.printf("%s\n", b)
	return nil
}
