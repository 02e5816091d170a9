// Package logger defines the leveled, key/value logging contract used by every
// sheetsync component, plus adapters for log/slog and zerolog.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/rs/zerolog"
)

const (
	permission = 0664
)

// Logger is satisfied by all adapters in this package.
// Args are alternating key/value pairs, as in log/slog.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
}

// SlogHandler adapts a slog.Handler to Logger.
type SlogHandler struct {
	logger *slog.Logger
}

// New returns a Logger writing records to h.
func New(h slog.Handler) *SlogHandler {
	return &SlogHandler{logger: slog.New(h)}
}

func (handler *SlogHandler) Error(msg string, args ...any) {
	handler.logger.Error(msg, args...)
}

func (handler *SlogHandler) Warn(msg string, args ...any) {
	handler.logger.Warn(msg, args...)
}

func (handler *SlogHandler) Info(msg string, args ...any) {
	handler.logger.Info(msg, args...)
}

func (handler *SlogHandler) Debug(msg string, args ...any) {
	handler.logger.Debug(msg, args...)
}

// ZerologHandler adapts a zerolog.Logger to Logger.
type ZerologHandler struct {
	logger zerolog.Logger
}

// NewZerolog returns a Logger backed by l.
func NewZerolog(l zerolog.Logger) *ZerologHandler {
	return &ZerologHandler{logger: l}
}

// FromPath opens (or creates) path in append mode and returns a zerolog-backed
// Logger writing JSON lines to it. The caller owns the returned file.
func FromPath(path string, level zerolog.Level) (*ZerologHandler, *os.File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	l := zerolog.New(zerolog.SyncWriter(f)).Level(level).With().Timestamp().Logger()
	return NewZerolog(l), f, nil
}

// Console returns a human-readable zerolog Logger writing to w.
func Console(w io.Writer, level zerolog.Level) *ZerologHandler {
	l := zerolog.New(zerolog.ConsoleWriter{Out: w}).Level(level).With().Timestamp().Logger()
	return NewZerolog(l)
}

func (handler *ZerologHandler) Error(msg string, args ...any) {
	handler.logger.Error().Fields(args).Msg(msg)
}

func (handler *ZerologHandler) Warn(msg string, args ...any) {
	handler.logger.Warn().Fields(args).Msg(msg)
}

func (handler *ZerologHandler) Info(msg string, args ...any) {
	handler.logger.Info().Fields(args).Msg(msg)
}

func (handler *ZerologHandler) Debug(msg string, args ...any) {
	handler.logger.Debug().Fields(args).Msg(msg)
}

type nop struct{}

func (nop) Error(string, ...any) {}
func (nop) Warn(string, ...any)  {}
func (nop) Info(string, ...any)  {}
func (nop) Debug(string, ...any) {}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return nop{}
}
