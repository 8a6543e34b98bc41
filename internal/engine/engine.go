// Package engine executes board configurations: one concurrent production
// cycle per unit, fanned out per board, coordinated across the boards
// directory with hot reload. Cycles share the port pool, the protocol
// registry, and one trigger service; everything else is per-cycle state.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/prodline/prodline/internal/model"
	"github.com/prodline/prodline/internal/parallel"
	"github.com/prodline/prodline/internal/pool"
	"github.com/prodline/prodline/internal/protocol"
	"github.com/prodline/prodline/internal/trigger"
)

// Engine holds the shared resources of all production cycles.
type Engine struct {
	pool     *pool.Manager
	registry *protocol.Registry
	triggers trigger.Service
	sessions *SessionTable

	// stopGrace bounds the stop sequence of a cycle whose parent context
	// is already cancelled.
	stopGrace time.Duration
}

func New(pm *pool.Manager, registry *protocol.Registry, triggers trigger.Service, stopGrace time.Duration) *Engine {
	if stopGrace <= 0 {
		stopGrace = model.DefaultShutdownGrace
	}
	return &Engine{
		pool:      pm,
		registry:  registry,
		triggers:  triggers,
		sessions:  NewSessionTable(),
		stopGrace: stopGrace,
	}
}

// Sessions exposes the active session table for status reporting.
func (e *Engine) Sessions() *SessionTable {
	return e.sessions
}

// Triggers exposes the trigger service for the manual operator hooks.
func (e *Engine) Triggers() trigger.Service {
	return e.triggers
}

// BoardRun is one execution of one board configuration: every unit gets its
// own cycle, all cycles run concurrently.
type BoardRun struct {
	board  model.BoardConfig
	cycles []*Cycle
}

// Board prepares a run for cfg. The run is inert until Run is called; Status
// is valid immediately and reports PhaseNotStarted for every unit.
func (e *Engine) Board(cfg model.BoardConfig) *BoardRun {
	run := &BoardRun{board: cfg}
	for _, unit := range cfg.Units {
		run.cycles = append(run.cycles, &Cycle{
			engine: e,
			board:  cfg.ID,
			unit:   unit,
		})
	}
	return run
}

// ID returns the board id this run executes.
func (r *BoardRun) ID() string {
	return r.board.ID
}

// Run executes every unit cycle concurrently and blocks until all of them
// reached a terminal phase. Results come back in unit order.
func (r *BoardRun) Run(ctx context.Context) []CycleResult {
	slog.InfoContext(ctx, "board execution started",
		"board", r.board.ID, "units", len(r.cycles))

	results := parallel.Run(ctx, len(r.cycles), r.cycles, func(ctx context.Context, c *Cycle) CycleResult {
		return c.Run(ctx)
	})

	for _, res := range results {
		slog.InfoContext(ctx, "unit cycle finished",
			"board", res.Board,
			"unit", res.Unit,
			"outcome", res.Outcome.String(),
			"iterations", res.TestIterations,
			"error", res.Err,
		)
	}
	return results
}

// Status returns the current phase of every unit of this run.
func (r *BoardRun) Status() map[string]model.UnitPhase {
	out := make(map[string]model.UnitPhase, len(r.cycles))
	for _, c := range r.cycles {
		out[c.unit.ID] = c.Phase()
	}
	return out
}
