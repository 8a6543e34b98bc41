package model

// UnitPhase is the lifecycle state of one unit production cycle. It is
// monotonic within a cycle: Testing loops internally but the phase value
// never regresses.
type UnitPhase int32

const (
	PhaseNotStarted UnitPhase = iota
	PhaseWaitingForStart
	PhaseStarting
	PhaseTesting
	PhaseStopping
	PhaseStopped
	PhaseCriticalFailure
)

func (p UnitPhase) String() string {
	switch p {
	case PhaseNotStarted:
		return "not_started"
	case PhaseWaitingForStart:
		return "waiting_for_start"
	case PhaseStarting:
		return "starting"
	case PhaseTesting:
		return "testing"
	case PhaseStopping:
		return "stopping"
	case PhaseStopped:
		return "stopped"
	case PhaseCriticalFailure:
		return "critical_failure"
	default:
		return "unknown"
	}
}

// Terminal reports whether the phase is final for the cycle.
func (p UnitPhase) Terminal() bool {
	return p == PhaseStopped || p == PhaseCriticalFailure
}

// Outcome is the final result of one unit production cycle.
type Outcome int

const (
	// OutcomeStoppedNormally - the cycle ran and its stop phase completed.
	OutcomeStoppedNormally Outcome = iota
	// OutcomeCriticalFailure - a critical command marker or the trigger
	// service's critical check ended the cycle.
	OutcomeCriticalFailure
	// OutcomeAbandonedBeforeStart - the cycle never acquired resources:
	// the start trigger did not fire or no port could be reserved.
	OutcomeAbandonedBeforeStart
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStoppedNormally:
		return "stopped"
	case OutcomeCriticalFailure:
		return "critical_failure"
	case OutcomeAbandonedBeforeStart:
		return "abandoned_before_start"
	default:
		return "unknown"
	}
}
