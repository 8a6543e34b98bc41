package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prodline/prodline/internal/log"
	"github.com/prodline/prodline/internal/model"
	"github.com/prodline/prodline/internal/pool"
	"github.com/prodline/prodline/internal/protocol"
)

// Cycle is one unit production cycle: wait for the start trigger, reserve a
// port, open a session, drive the start sequence, loop the test sequence, and
// always finish with the stop sequence once resources were acquired.
type Cycle struct {
	engine *Engine
	board  string
	unit   model.UnitConfig

	phase atomic.Int32
}

// CycleResult is the terminal record of one cycle.
type CycleResult struct {
	Board   string
	Unit    string
	Outcome model.Outcome

	// TestIterations counts completed test-sequence executions.
	TestIterations int

	Start *model.SequenceResult
	Stop  *model.SequenceResult

	// Err is set for cycles abandoned before start.
	Err error
}

// Phase returns the current lifecycle phase. Safe for concurrent reads while
// the cycle runs.
func (c *Cycle) Phase() model.UnitPhase {
	return model.UnitPhase(c.phase.Load())
}

func (c *Cycle) setPhase(ctx context.Context, p model.UnitPhase) {
	c.phase.Store(int32(p))
	slog.InfoContext(ctx, "unit phase", "phase", p.String())
}

// Run executes the cycle until a terminal phase. Cancellation of ctx during
// the wait or test phases routes through the stop phase; the stop sequence
// itself runs under a detached grace context so an already-cancelled parent
// cannot skip it.
func (c *Cycle) Run(ctx context.Context) CycleResult {
	ctx = log.ContextAttrs(ctx,
		slog.String("board", c.board),
		slog.String("unit", c.unit.ID),
	)
	result := CycleResult{Board: c.board, Unit: c.unit.ID}
	defer c.engine.triggers.End(c.board, c.unit.ID)

	if len(c.unit.Ports) == 0 {
		result.Outcome = model.OutcomeAbandonedBeforeStart
		result.Err = fmt.Errorf("unit %s/%s: %w: no ports", c.board, c.unit.ID, model.ErrInvalidConfig)
		c.setPhase(ctx, model.PhaseStopped)
		return result
	}
	// the first port is the active one the cycle drives
	port := c.unit.Ports[0]

	c.setPhase(ctx, model.PhaseWaitingForStart)
	if !c.engine.triggers.WaitForStart(ctx, c.board, c.unit.ID, c.unit.Trigger) {
		slog.WarnContext(ctx, "start trigger did not fire, abandoning cycle")
		result.Outcome = model.OutcomeAbandonedBeforeStart
		result.Err = errors.New("start trigger did not fire")
		c.setPhase(ctx, model.PhaseStopped)
		return result
	}

	c.setPhase(ctx, model.PhaseStarting)
	clientID := c.board + "/" + c.unit.ID
	preference, portName := port.Preference()
	reservation, err := c.engine.pool.Reserve(ctx, pool.Criteria{
		Preference: preference,
		PortName:   portName,
		Duration:   port.Reservation,
	}, clientID)
	if err != nil {
		slog.ErrorContext(ctx, "port reservation failed, abandoning cycle",
			"preference", preference.String(), "error", err)
		result.Outcome = model.OutcomeAbandonedBeforeStart
		result.Err = fmt.Errorf("reserving port: %w", err)
		c.setPhase(ctx, model.PhaseStopped)
		return result
	}
	ctx = log.ContextAttrs(ctx, slog.String("port", reservation.Port))

	session, err := c.engine.registry.Open(ctx, port.Protocol, reservation.Port, protocol.PortSettings{
		Speed:       port.Speed,
		DataPattern: port.DataPattern,
		ReadTimeout: port.ReadTimeout,
	})
	if err != nil {
		slog.ErrorContext(ctx, "opening session failed, abandoning cycle",
			"protocol", port.Protocol, "error", err)
		c.engine.pool.Release(reservation.ID, clientID)
		result.Outcome = model.OutcomeAbandonedBeforeStart
		result.Err = err
		c.setPhase(ctx, model.PhaseStopped)
		return result
	}

	c.engine.sessions.put(c.board, c.unit.ID, 0, session, reservation)
	start := protocol.RunSequence(ctx, session, port.Start)
	result.Start = &start
	startOK := start.Success()
	critical := start.Critical
	slog.InfoContext(ctx, "start sequence finished",
		"succeeded", start.Succeeded, "total", start.Total, "duration", start.Duration)

	if startOK && !critical {
		c.setPhase(ctx, model.PhaseTesting)
		critical = c.testLoop(ctx, session, port, &result)
	}

	c.setPhase(ctx, model.PhaseStopping)
	// The grace context survives parent cancellation: the stop sequence runs
	// exactly once no matter how the cycle got here.
	graceCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.engine.stopGrace)
	defer cancel()
	stop := protocol.RunSequence(graceCtx, session, port.Stop)
	result.Stop = &stop
	slog.InfoContext(ctx, "stop sequence finished",
		"succeeded", stop.Succeeded, "total", stop.Total, "duration", stop.Duration)
	if err := session.Close(); err != nil && !errors.Is(err, protocol.ErrSessionClosed) {
		slog.WarnContext(ctx, "closing session", "error", err)
	}
	c.engine.sessions.remove(c.board, c.unit.ID, 0)
	c.engine.pool.Release(reservation.ID, clientID)

	if critical {
		result.Outcome = model.OutcomeCriticalFailure
		c.setPhase(ctx, model.PhaseCriticalFailure)
	} else {
		result.Outcome = model.OutcomeStoppedNormally
		c.setPhase(ctx, model.PhaseStopped)
	}
	return result
}

// testLoop runs test iterations until a stop condition, cancellation, or a
// critical failure. It reports whether the loop ended critically.
func (c *Cycle) testLoop(ctx context.Context, session protocol.Session, port model.PortConfig, result *CycleResult) bool {
	interval := testInterval(c.unit.Trigger)

	for {
		test := protocol.RunSequence(ctx, session, port.Test)
		if ctx.Err() != nil {
			return false
		}
		result.TestIterations++
		if test.Critical {
			slog.ErrorContext(ctx, "critical command failure, entering emergency stop",
				"iteration", result.TestIterations)
			return true
		}
		if c.engine.triggers.CriticalFailure(ctx, c.board, c.unit.ID, c.unit.Trigger) {
			return true
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}

		if c.engine.triggers.ShouldStop(ctx, c.board, c.unit.ID, c.unit.Trigger) {
			slog.InfoContext(ctx, "stop trigger fired", "iterations", result.TestIterations)
			return false
		}
	}
}

// testInterval applies the speed multiplier and the interval floor.
func testInterval(cfg model.TriggerConfig) time.Duration {
	interval := cfg.TestInterval
	if interval <= 0 {
		interval = model.DefaultTestInterval
	}
	if cfg.SpeedMultiplier > 0 && cfg.SpeedMultiplier != 1 {
		interval = time.Duration(float64(interval) / cfg.SpeedMultiplier)
	}
	if interval < model.MinTestInterval {
		interval = model.MinTestInterval
	}
	return interval
}
