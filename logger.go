package gpucopy

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/gpucopy/kernel"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false so callers skip formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for gpucopy and its sub-packages.
// By default gpucopy produces no log output. Pass nil to disable logging
// again.
//
// Log levels used by gpucopy:
//   - [slog.LevelDebug]: per-step diagnostics (handles, sizes, plan)
//   - [slog.LevelInfo]: device selection and verification results
//   - [slog.LevelWarn]: non-fatal issues (input already equal, dump failed)
//
// Example:
//
//	gpucopy.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
	kernel.SetLogger(l)
}

// Logger returns the current logger used by gpucopy.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// loggerSetter is implemented by driver instances that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

// propagateLogger passes the current logger to inst if it accepts one.
func propagateLogger(inst any) {
	if ls, ok := inst.(loggerSetter); ok {
		ls.SetLogger(Logger())
	}
}
