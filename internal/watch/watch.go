// Package watch turns file activity in the boards directory into board
// configuration events. It is the single subscription path for hot reload:
// the production coordinator is its only consumer.
package watch

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/prodline/prodline/internal/bibstore"
)

// EventType classifies a board configuration change.
type EventType int

const (
	Added EventType = iota
	Changed
	Removed
)

func (t EventType) String() string {
	switch t {
	case Added:
		return "added"
	case Changed:
		return "changed"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is one board configuration change notification.
type Event struct {
	Type  EventType
	Board string
}

// debounceWindow coalesces editor write bursts for one board file.
const debounceWindow = 200 * time.Millisecond

// Watcher observes a boards directory and emits Events.
type Watcher struct {
	fsw    *fsnotify.Watcher
	events chan Event

	// last event per board, for debouncing identical repeats
	seen map[string]lastEvent
}

type lastEvent struct {
	typ EventType
	at  time.Time
}

func New(dir string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return &Watcher{
		fsw:    fsw,
		events: make(chan Event, 16),
		seen:   make(map[string]lastEvent),
	}, nil
}

// Events returns the channel delivering board configuration events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Run translates filesystem notifications until ctx is cancelled. The events
// channel is closed on return.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.events)
	defer func() {
		_ = w.fsw.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.translate(ctx, ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.WarnContext(ctx, "watcher error", "error", err)
		}
	}
}

func (w *Watcher) translate(ctx context.Context, ev fsnotify.Event) {
	board := bibstore.BoardID(ev.Name)
	if board == "" {
		return
	}

	var typ EventType
	switch {
	case ev.Op.Has(fsnotify.Create):
		typ = Added
	case ev.Op.Has(fsnotify.Write):
		typ = Changed
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		typ = Removed
	default:
		return
	}

	now := time.Now()
	if last, ok := w.seen[board]; ok && last.typ == typ && now.Sub(last.at) < debounceWindow {
		return
	}
	w.seen[board] = lastEvent{typ: typ, at: now}

	slog.DebugContext(ctx, "board configuration event", "board", board, "event", typ.String())
	select {
	case w.events <- Event{Type: typ, Board: board}:
	case <-ctx.Done():
	}
}
