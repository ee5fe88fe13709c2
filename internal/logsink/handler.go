package logsink

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Handler returns a slog.Handler that renders records as
// "message key=value ..." and queues them on the sink.
func (s *Sink) Handler() slog.Handler {
	return &handler{sink: s}
}

type handler struct {
	sink   *Sink
	prefix string // dotted group path, with trailing dot
	attrs  string // pre-rendered WithAttrs output
}

func slogLevel(l Level) slog.Level { return slog.Level(l) }

func (h *handler) Enabled(_ context.Context, l slog.Level) bool {
	s := h.sink
	return !s.inert && !s.disabled.Load() && FromSlog(l) >= s.cfg.MinLevel
}

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Message)
	b.WriteString(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&b, h.prefix, a)
		return true
	})

	ts := r.Time
	if ts.IsZero() {
		ts = h.sink.now()
	}
	h.sink.enqueue(Record{Time: ts, Level: FromSlog(r.Level), Message: b.String()})
	return nil
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	var b strings.Builder
	b.WriteString(h.attrs)
	for _, a := range attrs {
		appendAttr(&b, h.prefix, a)
	}
	h2 := *h
	h2.attrs = b.String()
	return &h2
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.prefix = h.prefix + name + "."
	return &h2
}

func appendAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p = prefix + a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			appendAttr(b, p, ga)
		}
		return
	}

	b.WriteByte(' ')
	b.WriteString(prefix)
	b.WriteString(a.Key)
	b.WriteByte('=')
	b.WriteString(formatValue(a.Value))
}

func formatValue(v slog.Value) string {
	var s string
	switch v.Kind() {
	case slog.KindString:
		s = v.String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindDuration:
		return v.Duration().String()
	default:
		s = v.String()
	}
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
