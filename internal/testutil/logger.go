package testutil

import (
	"context"
	"log/slog"
	"sync"
)

// TestLogger captures slog records for assertions.
type TestLogger struct {
	mu      sync.Mutex
	entries []LogEntry
}

type LogEntry struct {
	Level   slog.Level
	Message string
	Fields  map[string]any
}

func NewTestLogger() *TestLogger {
	return &TestLogger{entries: make([]LogEntry, 0)}
}

// Logger returns a *slog.Logger that writes to this TestLogger
func (l *TestLogger) Logger() *slog.Logger {
	return slog.New(&captureHandler{sink: l})
}

func (l *TestLogger) append(entry LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

func (l *TestLogger) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LogEntry(nil), l.entries...)
}

// Find returns the entries logged with msg.
func (l *TestLogger) Find(msg string) []LogEntry {
	var out []LogEntry
	for _, e := range l.Entries() {
		if e.Message == msg {
			out = append(out, e)
		}
	}
	return out
}

// HasLevel reports whether anything was logged at level.
func (l *TestLogger) HasLevel(level slog.Level) bool {
	for _, e := range l.Entries() {
		if e.Level == level {
			return true
		}
	}
	return false
}

func (l *TestLogger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = l.entries[:0]
}

// captureHandler flattens attributes, including those added with With,
// into the entry's field map. Groups are ignored.
type captureHandler struct {
	sink  *TestLogger
	attrs []slog.Attr
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		fields[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		fields[a.Key] = a.Value.Any()
		return true
	})
	h.sink.append(LogEntry{Level: r.Level, Message: r.Message, Fields: fields})
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &captureHandler{sink: h.sink, attrs: merged}
}

func (h *captureHandler) WithGroup(string) slog.Handler { return h }
