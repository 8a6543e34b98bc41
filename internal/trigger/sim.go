package trigger

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/prodline/prodline/internal/model"
)

type unitKey struct {
	board string
	unit  string
}

type unitState struct {
	startedAt     time.Time
	forceStop     bool
	forceCritical bool
}

// Sim is the simulation trigger backend. Signals are derived purely from the
// unit's configured delays and probabilities plus the per-unit timestamp of
// the last start transition.
type Sim struct {
	mu    sync.Mutex
	units map[unitKey]*unitState

	// chance is injectable for deterministic tests
	chance func() float64
}

func NewSim() *Sim {
	return &Sim{
		units:  make(map[unitKey]*unitState),
		chance: rand.Float64,
	}
}

// WithChance replaces the probability source. For tests.
func (s *Sim) WithChance(f func() float64) *Sim {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chance = f
	return s
}

func (s *Sim) state(board, unit string) *unitState {
	key := unitKey{board: board, unit: unit}
	st, ok := s.units[key]
	if !ok {
		st = &unitState{}
		s.units[key] = st
	}
	return st
}

func (s *Sim) WaitForStart(ctx context.Context, board, unit string, cfg model.TriggerConfig) bool {
	delay := scale(cfg.StartDelay, cfg.SpeedMultiplier)
	timeout := cfg.StartTimeout
	if timeout <= 0 {
		timeout = model.DefaultStartTimeout
	}
	if delay > timeout {
		slog.DebugContext(ctx, "start trigger beyond timeout",
			"board", board, "unit", unit, "delay", delay, "timeout", timeout)
		// the signal would fire after the bound; wait out the bound so the
		// caller observes a start timeout, not an instant failure
		delay = timeout + time.Millisecond
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	}
	if delay > timeout {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(board, unit).startedAt = time.Now()
	return true
}

func (s *Sim) ShouldStop(ctx context.Context, board, unit string, cfg model.TriggerConfig) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(board, unit)
	if st.forceStop {
		return true
	}
	if cfg.StopAfter <= 0 {
		// no stop trigger configured: run until externally cancelled
		return false
	}
	if st.startedAt.IsZero() {
		return false
	}
	return time.Since(st.startedAt) >= scale(cfg.StopAfter, cfg.SpeedMultiplier)
}

func (s *Sim) CriticalFailure(ctx context.Context, board, unit string, cfg model.TriggerConfig) bool {
	s.mu.Lock()
	st := s.state(board, unit)
	forced := st.forceCritical
	chance := s.chance
	s.mu.Unlock()

	if forced {
		slog.ErrorContext(ctx, "critical failure forced", "board", board, "unit", unit)
		return true
	}
	if cfg.CriticalProbability <= 0 {
		return false
	}
	if chance() < cfg.CriticalProbability {
		slog.ErrorContext(ctx, "simulated critical failure fired",
			"board", board, "unit", unit, "probability", cfg.CriticalProbability)
		return true
	}
	return false
}

func (s *Sim) ForceStop(board, unit string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(board, unit).forceStop = true
}

func (s *Sim) ForceCritical(board, unit string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(board, unit).forceCritical = true
}

func (s *Sim) End(board, unit string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.units, unitKey{board: board, unit: unit})
}

// scale shrinks a configured duration by the simulation speed multiplier.
func scale(d time.Duration, multiplier float64) time.Duration {
	if multiplier <= 0 || multiplier == 1 {
		return d
	}
	return time.Duration(float64(d) / multiplier)
}
