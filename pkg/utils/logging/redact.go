package logging

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
)

// Redactor removes sensitive spans from text. *pii.Scrubber satisfies it.
type Redactor interface {
	Scrub(text string) string
}

// redactHandler is the last PII enforcement point: nothing reaches the
// writer without passing through the redactor. Error values are left to
// clog.GoerrHook, so goerr values must never carry conversation text.
type redactHandler struct {
	next     slog.Handler
	redactor Redactor
}

func (h *redactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *redactHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, h.redactor.Scrub(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *redactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = h.redactAttr(a)
	}
	return &redactHandler{next: h.next.WithAttrs(redacted), redactor: h.redactor}
}

func (h *redactHandler) WithGroup(name string) slog.Handler {
	return &redactHandler{next: h.next.WithGroup(name), redactor: h.redactor}
}

func (h *redactHandler) redactAttr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, h.redactor.Scrub(v.String()))
	case slog.KindGroup:
		group := v.Group()
		attrs := make([]any, len(group))
		for i, ga := range group {
			attrs[i] = h.redactAttr(ga)
		}
		return slog.Group(a.Key, attrs...)
	case slog.KindAny:
		switch x := v.Any().(type) {
		case error:
			return a
		case []string:
			out := make([]string, len(x))
			for i, s := range x {
				out[i] = h.redactor.Scrub(s)
			}
			return slog.Any(a.Key, out)
		case fmt.Stringer:
			if rv := reflect.ValueOf(x); rv.Kind() == reflect.Pointer && rv.IsNil() {
				return a
			}
			return slog.String(a.Key, h.redactor.Scrub(x.String()))
		default:
			// named string types such as model.UserID
			if rv := reflect.ValueOf(x); rv.Kind() == reflect.String {
				return slog.String(a.Key, h.redactor.Scrub(rv.String()))
			}
		}
	}
	return slog.Attr{Key: a.Key, Value: v}
}
