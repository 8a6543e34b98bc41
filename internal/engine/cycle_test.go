package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prodline/prodline/internal/engine"
	"github.com/prodline/prodline/internal/model"
	"github.com/prodline/prodline/internal/pool"
	"github.com/prodline/prodline/internal/protocol"
	"github.com/prodline/prodline/internal/protocol/dummy"
	"github.com/prodline/prodline/internal/trigger"

	"github.com/stretchr/testify/require"
)

func testPorts(n int) []pool.PortInfo {
	infos := make([]pool.PortInfo, 0, n)
	names := []string{"COM3", "COM4", "COM5", "COM6"}
	for i := range n {
		infos = append(infos, pool.PortInfo{Name: names[i], Device: "0403:6001"})
	}
	return infos
}

func newEngine(opener *dummy.Opener, ports []pool.PortInfo) *engine.Engine {
	registry := protocol.NewRegistry()
	registry.Register(dummy.Name, opener)
	return engine.New(pool.NewManager(ports), registry, trigger.NewSim(), time.Second)
}

func dummyPort() model.PortConfig {
	return model.PortConfig{
		Protocol: model.ProtocolDummy,
		Start: model.CommandSequence{
			{Send: "ATZ", Expect: "OK"},
			{Send: "INIT_RS232", Expect: "READY"},
		},
		Test: model.CommandSequence{
			{Send: "TEST", Expect: "PASS", Critical: true},
		},
		Stop: model.CommandSequence{
			{Send: "EXIT", Expect: "BYE"},
		},
	}
}

func unitCfg(id string, trig model.TriggerConfig) model.UnitConfig {
	trig.Mode = model.TriggerModeSimulation
	if trig.SpeedMultiplier == 0 {
		trig.SpeedMultiplier = 1
	}
	return model.UnitConfig{ID: id, Trigger: trig, Ports: []model.PortConfig{dummyPort()}}
}

func boardCfg(id string, units ...model.UnitConfig) model.BoardConfig {
	return model.BoardConfig{ID: id, Units: units}
}

func TestCycleFullLifecycle(t *testing.T) {
	t.Parallel()

	opener := dummy.New()
	eng := newEngine(opener, testPorts(1))

	unit := unitCfg("uut-1", model.TriggerConfig{
		StartDelay:   20 * time.Millisecond,
		StartTimeout: time.Second,
		StopAfter:    250 * time.Millisecond,
		TestInterval: 100 * time.Millisecond,
	})
	run := eng.Board(boardCfg("bib-001", unit))

	results := run.Run(t.Context())
	require.Len(t, results, 1)
	res := results[0]

	require.Equal(t, model.OutcomeStoppedNormally, res.Outcome)
	require.NoError(t, res.Err)
	require.Equal(t, 1, opener.CountSent("ATZ"))
	require.Equal(t, 1, opener.CountSent("INIT_RS232"))
	require.Equal(t, 1, opener.CountSent("EXIT"))
	require.GreaterOrEqual(t, res.TestIterations, 2)
	require.LessOrEqual(t, res.TestIterations, 4)
	require.Equal(t, res.TestIterations, opener.CountSent("TEST"))

	require.Equal(t, map[string]model.UnitPhase{"uut-1": model.PhaseStopped}, run.Status())
	require.Zero(t, eng.Sessions().Len())
}

func TestCycleCriticalProbability(t *testing.T) {
	t.Parallel()

	opener := dummy.New()
	eng := newEngine(opener, testPorts(1))

	unit := unitCfg("uut-1", model.TriggerConfig{
		StartTimeout:        time.Second,
		CriticalProbability: 1,
		TestInterval:        100 * time.Millisecond,
	})
	results := eng.Board(boardCfg("bib-001", unit)).Run(t.Context())

	res := results[0]
	require.Equal(t, model.OutcomeCriticalFailure, res.Outcome)
	// the critical check fires right after the first iteration; the stop
	// sequence still runs exactly once
	require.Equal(t, 1, res.TestIterations)
	require.Equal(t, 1, opener.CountSent("TEST"))
	require.Equal(t, 1, opener.CountSent("EXIT"))
}

func TestCycleCriticalCommandMarker(t *testing.T) {
	t.Parallel()

	opener := dummy.New().Script("TEST", "FAIL")
	eng := newEngine(opener, testPorts(1))

	unit := unitCfg("uut-1", model.TriggerConfig{
		StartTimeout: time.Second,
		StopAfter:    time.Hour,
		TestInterval: 100 * time.Millisecond,
	})
	results := eng.Board(boardCfg("bib-001", unit)).Run(t.Context())

	res := results[0]
	require.Equal(t, model.OutcomeCriticalFailure, res.Outcome)
	require.Equal(t, 1, opener.CountSent("TEST"))
	require.Equal(t, 1, opener.CountSent("EXIT"))
}

func TestCycleRunsUntilCancelled(t *testing.T) {
	t.Parallel()

	opener := dummy.New()
	eng := newEngine(opener, testPorts(1))

	// no stop trigger: the unit tests until externally cancelled
	unit := unitCfg("uut-1", model.TriggerConfig{
		StartTimeout: time.Second,
		TestInterval: 100 * time.Millisecond,
	})
	run := eng.Board(boardCfg("bib-001", unit))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan []engine.CycleResult, 1)
	go func() { done <- run.Run(ctx) }()

	require.Eventually(t, func() bool {
		return opener.CountSent("TEST") >= 2
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	results := <-done
	res := results[0]
	require.Equal(t, model.OutcomeStoppedNormally, res.Outcome)
	require.Equal(t, 1, opener.CountSent("EXIT"))
	require.Zero(t, eng.Sessions().Len())
}

func TestCycleStartTriggerTimeout(t *testing.T) {
	t.Parallel()

	opener := dummy.New()
	eng := newEngine(opener, testPorts(1))

	unit := unitCfg("uut-1", model.TriggerConfig{
		StartDelay:   time.Hour,
		StartTimeout: 50 * time.Millisecond,
	})
	results := eng.Board(boardCfg("bib-001", unit)).Run(t.Context())

	res := results[0]
	require.Equal(t, model.OutcomeAbandonedBeforeStart, res.Outcome)
	require.Error(t, res.Err)
	require.Empty(t, opener.Log())
}

func TestCycleOpenFailureAbandons(t *testing.T) {
	t.Parallel()

	opener := dummy.New().FailOpen("COM3", errors.New("device busy"))
	eng := newEngine(opener, testPorts(1))

	unit := unitCfg("uut-1", model.TriggerConfig{StartTimeout: time.Second})
	results := eng.Board(boardCfg("bib-001", unit)).Run(t.Context())

	res := results[0]
	require.Equal(t, model.OutcomeAbandonedBeforeStart, res.Outcome)
	require.Error(t, res.Err)

	// reservation was released on the abandon path
	for _, status := range eng.Sessions().Snapshot() {
		t.Fatalf("unexpected active session %+v", status)
	}
}

func TestBoardRunsOutOfPorts(t *testing.T) {
	t.Parallel()

	opener := dummy.New()
	eng := newEngine(opener, testPorts(3))

	// three units hold their port until cancelled, the fourth cannot
	// reserve within the bounded wait
	hold := model.TriggerConfig{StartTimeout: time.Second, TestInterval: 100 * time.Millisecond}
	run := eng.Board(boardCfg("bib-001",
		unitCfg("uut-1", hold),
		unitCfg("uut-2", hold),
		unitCfg("uut-3", hold),
		unitCfg("uut-4", hold),
	))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan []engine.CycleResult, 1)
	go func() { done <- run.Run(ctx) }()

	require.Eventually(t, func() bool {
		abandoned := 0
		for _, phase := range run.Status() {
			if phase == model.PhaseStopped {
				abandoned++
			}
		}
		return abandoned == 1
	}, 5*time.Second, 20*time.Millisecond)
	cancel()

	results := <-done
	abandoned := 0
	stopped := 0
	for _, res := range results {
		switch res.Outcome {
		case model.OutcomeAbandonedBeforeStart:
			abandoned++
			require.ErrorIs(t, res.Err, pool.ErrNoPortAvailable)
		case model.OutcomeStoppedNormally:
			stopped++
		default:
			t.Fatalf("unexpected outcome %s for %s", res.Outcome, res.Unit)
		}
	}
	require.Equal(t, 1, abandoned)
	require.Equal(t, 3, stopped)
	require.Equal(t, 3, opener.CountSent("EXIT"))
	require.Zero(t, eng.Sessions().Len())
}

func TestSessionTableTracksActiveCycles(t *testing.T) {
	t.Parallel()

	opener := dummy.New()
	eng := newEngine(opener, testPorts(2))

	hold := model.TriggerConfig{StartTimeout: time.Second, TestInterval: 100 * time.Millisecond}
	run := eng.Board(boardCfg("bib-001", unitCfg("uut-1", hold), unitCfg("uut-2", hold)))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan []engine.CycleResult, 1)
	go func() { done <- run.Run(ctx) }()

	require.Eventually(t, func() bool {
		return eng.Sessions().Len() == 2
	}, 2*time.Second, 10*time.Millisecond)

	entries := eng.Sessions().Snapshot()
	require.Len(t, entries, 2)
	require.Equal(t, "bib-001", entries[0].Board)
	require.Equal(t, "uut-1", entries[0].Unit)
	require.Equal(t, "uut-2", entries[1].Unit)
	require.NotEmpty(t, entries[0].SessionID)
	require.True(t, entries[0].Reservation.Active)

	cancel()
	<-done
	require.Zero(t, eng.Sessions().Len())
}
