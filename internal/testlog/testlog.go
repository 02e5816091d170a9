// Package testlog records log output for assertions in tests.
package testlog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/formcanvas/sheetsync/pkg/logger"
)

// Handler is a slog.Handler that records each message as
// "[index] LEVEL: message key=value ...", without the timestamp, so the output
// is deterministic.
type Handler struct {
	rec   *recorder
	attrs []slog.Attr
	group string
}

type recorder struct {
	mu    sync.Mutex
	lines []string
}

func NewHandler() *Handler {
	return &Handler{rec: &recorder{}}
}

// New returns a Logger and the Handler recording what it writes.
func New() (logger.Logger, *Handler) {
	h := NewHandler()
	return logger.New(h), h
}

func (h *Handler) Enabled(context.Context, slog.Level) bool {
	return true
}

//nolint:gocritic
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder
	for _, a := range h.attrs {
		writeAttr(&sb, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&sb, h.group, a)
		return true
	})

	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()

	line := fmt.Sprintf("[%d] %s: %s%s", len(h.rec.lines), r.Level, r.Message, sb.String())
	h.rec.lines = append(h.rec.lines, line)
	return nil
}

func writeAttr(sb *strings.Builder, group string, a slog.Attr) {
	key := a.Key
	if group != "" {
		key = group + "." + key
	}
	fmt.Fprintf(sb, " %s=%v", key, a.Value.Any())
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := *h
	out.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	out.attrs = append(out.attrs, h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		out.attrs = append(out.attrs, a)
	}
	return &out
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	out := *h
	if h.group != "" {
		out.group = h.group + "." + name
	} else {
		out.group = name
	}
	return &out
}

// Lines returns a copy of every recorded line.
func (h *Handler) Lines() []string {
	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()

	out := make([]string, len(h.rec.lines))
	copy(out, h.rec.lines)
	return out
}

// Contains reports whether any recorded line contains substr.
func (h *Handler) Contains(substr string) bool {
	for _, l := range h.Lines() {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

func (h *Handler) String() string {
	return strings.Join(h.Lines(), "\n")
}
