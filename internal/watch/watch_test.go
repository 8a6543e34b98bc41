package watch_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prodline/prodline/internal/watch"

	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, dir string) (<-chan watch.Event, context.CancelFunc) {
	t.Helper()
	w, err := watch.New(dir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	go w.Run(ctx)
	return w.Events(), cancel
}

func waitFor(t *testing.T, events <-chan watch.Event, want watch.Event) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "events channel closed while waiting for %v", want)
			if ev == want {
				return
			}
			// unrelated event (e.g. an extra Changed after Create), keep going
		case <-deadline:
			t.Fatalf("timeout waiting for event %+v", want)
		}
	}
}

func TestWatcherAddChangeRemove(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	events, cancel := collect(t, dir)
	defer cancel()

	path := filepath.Join(dir, "bib-001.yaml")
	require.NoError(t, os.WriteFile(path, []byte("id: bib-001\n"), 0o644))
	waitFor(t, events, watch.Event{Type: watch.Added, Board: "bib-001"})

	// give the debounce window time to expire
	time.Sleep(250 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("id: bib-001\n# changed\n"), 0o644))
	waitFor(t, events, watch.Event{Type: watch.Changed, Board: "bib-001"})

	require.NoError(t, os.Remove(path))
	waitFor(t, events, watch.Event{Type: watch.Removed, Board: "bib-001"})
}

func TestWatcherIgnoresNonBoardFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	events, cancel := collect(t, dir)
	defer cancel()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bib-002.yaml"), []byte("id: bib-002\n"), 0o644))

	// the .txt file must not surface; the first event seen is the board add
	waitFor(t, events, watch.Event{Type: watch.Added, Board: "bib-002"})
}

func TestWatcherClosesOnCancel(t *testing.T) {
	t.Parallel()

	events, cancel := collect(t, t.TempDir())
	cancel()

	select {
	case _, ok := <-events:
		require.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("events channel not closed after cancel")
	}
}
