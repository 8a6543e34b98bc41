package log

import (
	"context"
	"io"
	"log/slog"
)

type attrsKeyT struct{}

var attrsKey attrsKeyT

// ContextHandler is a slog.Handler which appends attributes stored in the
// context via ContextAttrs to every record. The engine stamps board/unit
// identity once per cycle and every nested log call carries it.
type ContextHandler struct {
	slog.Handler
}

func (h ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if a, ok := ctx.Value(attrsKey).([]slog.Attr); ok {
		r.AddAttrs(a...)
	}
	return h.Handler.Handle(ctx, r)
}

// ContextAttrs returns a context carrying attrs in addition to any
// attributes already present. The parent's slice is copied, never appended
// to in place, so sibling contexts derived from one parent cannot clobber
// each other's attributes through a shared backing array.
func ContextAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	existing, _ := ctx.Value(attrsKey).([]slog.Attr)
	a := make([]slog.Attr, 0, len(existing)+len(attrs))
	a = append(a, existing...)
	a = append(a, attrs...)
	return context.WithValue(ctx, attrsKey, a)
}

// New builds a JSON logger writing to w. Verbose enables debug level.
func New(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	base := slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource: false,
		Level:     level,
	})
	return slog.New(ContextHandler{Handler: base})
}
