// Package mocklogger provides a recording slog.Handler for tests. Records
// are kept with their attributes so assertions can inspect structured output
// (header redaction, execution IDs, counters) without parsing rendered text.
package mocklogger

import (
	"context"
	"log/slog"
	"sync"
)

// Record is one captured log call with its resolved attributes.
type Record struct {
	Level   slog.Level
	Message string
	Attrs   map[string]slog.Value
}

// Handler collects every record it handles. Safe for concurrent use.
type Handler struct {
	mu      sync.Mutex
	base    []slog.Attr
	records []Record
}

var _ slog.Handler = (*Handler)(nil)

// New returns a handler and a logger writing to it.
func New() (*Handler, *slog.Logger) {
	h := &Handler{}
	return h, slog.New(h)
}

func (h *Handler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	rec := Record{
		Level:   r.Level,
		Message: r.Message,
		Attrs:   make(map[string]slog.Value, r.NumAttrs()+len(h.base)),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, a := range h.base {
		rec.Attrs[a.Key] = a.Value.Resolve()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.Attrs[a.Key] = a.Value.Resolve()
		return true
	})
	h.records = append(h.records, rec)
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	// Derived loggers keep writing into this handler's sink so tests only
	// ever inspect one place.
	return &chained{parent: h, base: append(append([]slog.Attr{}, h.base...), attrs...)}
}

func (h *Handler) WithGroup(_ string) slog.Handler { return h }

// Records returns a copy of everything captured so far.
func (h *Handler) Records() []Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Record, len(h.records))
	copy(out, h.records)
	return out
}

// Messages returns the captured messages in order.
func (h *Handler) Messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.records))
	for i, r := range h.records {
		out[i] = r.Message
	}
	return out
}

// Attr returns the named attribute from the first record with the given
// message.
func (h *Handler) Attr(message, key string) (slog.Value, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.records {
		if r.Message == message {
			v, ok := r.Attrs[key]
			return v, ok
		}
	}
	return slog.Value{}, false
}

// Reset drops all captured records.
func (h *Handler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = nil
}

// chained routes records from a WithAttrs-derived logger back to the root
// handler so tests only ever inspect one sink.
type chained struct {
	parent *Handler
	base   []slog.Attr
}

func (c *chained) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (c *chained) Handle(ctx context.Context, r slog.Record) error {
	for _, a := range c.base {
		r.AddAttrs(a)
	}
	return c.parent.Handle(ctx, r)
}

func (c *chained) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &chained{parent: c.parent, base: append(append([]slog.Attr{}, c.base...), attrs...)}
}

func (c *chained) WithGroup(_ string) slog.Handler { return c }
