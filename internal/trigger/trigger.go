// Package trigger abstracts the start/stop/critical-failure signal source of
// a unit. The simulation backend derives signals from configured delays and
// probabilities; a physical backend would read real signal lines behind the
// same contract. Evaluation never fails the caller: a backend that cannot
// read its source logs the problem and reports "condition not met".
package trigger

import (
	"context"
	"fmt"

	"github.com/prodline/prodline/internal/model"
)

// Service evaluates trigger conditions for units. Implementations keep any
// per-unit state they need between calls; End releases it.
type Service interface {
	// WaitForStart blocks until the unit's start condition fires, the
	// configured start timeout elapses, or ctx is cancelled. True means
	// the unit may start.
	WaitForStart(ctx context.Context, board, unit string, cfg model.TriggerConfig) bool

	// ShouldStop reports whether the stop condition currently holds. A
	// unit with no stop trigger configured never stops automatically;
	// that is policy, not an error.
	ShouldStop(ctx context.Context, board, unit string, cfg model.TriggerConfig) bool

	// CriticalFailure reports whether the critical-failure condition
	// fired for this check.
	CriticalFailure(ctx context.Context, board, unit string, cfg model.TriggerConfig) bool

	// ForceStop and ForceCritical are the manual operator hooks: they
	// latch the respective condition for the unit until End.
	ForceStop(board, unit string)
	ForceCritical(board, unit string)

	// End drops the per-unit state once its cycle reached a terminal
	// phase.
	End(board, unit string)
}

// New resolves a trigger mode to its backend. Only simulation exists today;
// the capability is decided here, at configuration time, not by a failing
// branch in the hot path.
func New(mode string) (Service, error) {
	switch mode {
	case model.TriggerModeSimulation:
		return NewSim(), nil
	default:
		return nil, fmt.Errorf("trigger mode %q has no backend", mode)
	}
}
