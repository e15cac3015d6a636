// Package logging is a thin wrapper over log/slog carrying the extra
// severities rclone's fs/log package defines (Notice, Critical, Alert,
// Emergency alongside the stdlib Debug/Info/Warn/Error), plus a
// Trace helper for entry/exit tracing in the style of
// backend/archive/squashfs/squashfs.go's
// `defer log.Trace(f, "dir=%q", dir)("entries=%v, err=%v", &entries, &err)`.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// Extra severities, numbered the way slog reserves space between its
// four built-in levels (multiples of 4), matching fs.SlogLevelNotice /
// fs.SlogLevelCritical / fs.SlogLevelAlert / fs.SlogLevelEmergency.
const (
	LevelNotice    = slog.LevelInfo + 2
	LevelCritical  = slog.LevelError + 4
	LevelAlert     = slog.LevelError + 8
	LevelEmergency = slog.LevelError + 12
)

func levelName(l slog.Level) string {
	switch l {
	case LevelNotice:
		return "NOTICE"
	case LevelCritical:
		return "CRITICAL"
	case LevelAlert:
		return "ALERT"
	case LevelEmergency:
		return "EMERGENCY"
	default:
		return l.String()
	}
}

// logger starts out writing nowhere: a library package shouldn't print to
// a caller's stderr before the caller has decided it wants logging at all.
// cmd/cp2 calls SetLevel (Debug under --verbose, Info otherwise) to install
// the real handler.
var logger = slog.New(noopHandler{})

// SetLevel installs a real stderr handler at minimum level l, replacing
// the no-op default.
func SetLevel(l slog.Level) {
	logger = slog.New(newTextHandler(os.Stderr, l))
}

// noopHandler discards every record; it is the logger's state until a
// caller opts into real output via SetLevel.
type noopHandler struct{}

func (noopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (noopHandler) Handle(context.Context, slog.Record) error { return nil }
func (noopHandler) WithAttrs([]slog.Attr) slog.Handler        { return noopHandler{} }
func (noopHandler) WithGroup(string) slog.Handler             { return noopHandler{} }

func log(l slog.Level, object any, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if object != nil {
		msg = fmt.Sprintf("%v: %s", object, msg)
	}
	logger.Log(context.Background(), l, msg)
}

// Debugf logs at Debug level, about object (may be nil).
func Debugf(object any, format string, args ...any) { log(slog.LevelDebug, object, format, args...) }

// Infof logs at Info level.
func Infof(object any, format string, args ...any) { log(slog.LevelInfo, object, format, args...) }

// Noticef logs at Notice level (between Info and Warn).
func Noticef(object any, format string, args ...any) { log(LevelNotice, object, format, args...) }

// Logf is an alias for Noticef, matching the corpus's fs.Logf (the
// "always shown unless -q" level).
func Logf(object any, format string, args ...any) { Noticef(object, format, args...) }

// Errorf logs at Error level.
func Errorf(object any, format string, args ...any) { log(slog.LevelError, object, format, args...) }

// Trace logs entry to an operation and returns a function that, called
// with the result values, logs the exit. Mirrors
// backend/archive/squashfs/squashfs.go's use of log.Trace.
func Trace(object any, format string, args ...any) func(exitFormat string, exitArgs ...any) {
	Debugf(object, ">"+format, args...)
	return func(exitFormat string, exitArgs ...any) {
		Debugf(object, "<"+exitFormat, exitArgs...)
	}
}

// textHandler is a minimal slog.Handler writing "LEVEL: message" lines,
// small compared to the corpus's OutputHandler (which supports JSON,
// multiple outputs, and several header formats) because this engine has
// no CLI surface for log formatting choices beyond --verbose.
type textHandler struct {
	w     *os.File
	level slog.Level
}

func newTextHandler(w *os.File, level slog.Level) *textHandler {
	return &textHandler{w: w, level: level}
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	_, err := fmt.Fprintf(h.w, "%-9s: %s\n", levelName(r.Level), r.Message)
	return err
}

func (h *textHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *textHandler) WithGroup(_ string) slog.Handler      { return h }
