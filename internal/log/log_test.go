package log_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/prodline/prodline/internal/log"

	"github.com/stretchr/testify/require"
)

func TestContextAttrsAppendedToRecords(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := log.New(&buf, false)

	ctx := log.ContextAttrs(context.Background(),
		slog.String("board", "bib-001"),
		slog.String("unit", "uut-1"),
	)
	logger.InfoContext(ctx, "hello")

	line := buf.String()
	require.Contains(t, line, `"board":"bib-001"`)
	require.Contains(t, line, `"unit":"uut-1"`)
	require.Contains(t, line, `"msg":"hello"`)
}

func TestContextAttrsSiblingsAreIsolated(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := log.New(&buf, false)

	root := log.ContextAttrs(context.Background(), slog.String("board", "bib-001"))
	parent := log.ContextAttrs(root,
		slog.String("unit", "uut-1"),
		slog.String("port", "COM3"),
	)

	// two siblings derived from the same parent; creating the second must
	// not leak its attribute into the first
	first := log.ContextAttrs(parent, slog.String("cmd", "ATZ"))
	second := log.ContextAttrs(parent, slog.String("cmd", "EXIT"))

	logger.InfoContext(first, "first")
	logger.InfoContext(second, "second")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], `"cmd":"ATZ"`)
	require.NotContains(t, lines[0], "EXIT")
	require.Contains(t, lines[1], `"cmd":"EXIT"`)
	require.Contains(t, lines[1], `"board":"bib-001"`)
}

func TestVerboseEnablesDebug(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log.New(&buf, false).Debug("quiet")
	require.Empty(t, buf.String())

	log.New(&buf, true).Debug("loud")
	require.Contains(t, buf.String(), `"msg":"loud"`)
}
