package model

import "time"

// Enum helpers.
const (
	TriggerModeSimulation = "simulation"

	ProtocolRS232 = "rs232"
	ProtocolDummy = "dummy"

	// DeviceAny and DeviceMultiPort are the recognized device preference
	// keywords; any other value names one specific port.
	DeviceAny       = "any"
	DeviceMultiPort = "multiport"

	// MinTestInterval is the floor for the delay between test iterations.
	MinTestInterval = 100 * time.Millisecond
)

// BoardConfig is one board under test. Loaded once per board id and
// immutable for the duration of one execution.
type BoardConfig struct {
	ID    string
	Units []UnitConfig
}

// UnitConfig is one independently testable unit of a board.
type UnitConfig struct {
	ID      string
	Trigger TriggerConfig
	Ports   []PortConfig
}

// TriggerConfig parameterizes the start/stop/critical signal source of one
// unit. Only the simulation mode has a backend today; the schema rejects
// anything else at load time.
type TriggerConfig struct {
	Mode string

	// StartDelay is how long after cycle begin the simulated start signal
	// fires. StartTimeout bounds the wait (zero means a backend default).
	StartDelay   time.Duration
	StartTimeout time.Duration

	// StopAfter elapsed since the unit started makes the stop condition
	// true. Zero means no stop trigger is configured: the unit runs until
	// externally cancelled. That is policy, not an error.
	StopAfter time.Duration

	// CriticalProbability is the chance, per check, that the simulated
	// critical failure condition fires.
	CriticalProbability float64

	// SpeedMultiplier scales simulated delays and the test interval.
	// 2.0 runs twice as fast. Defaults to 1.
	SpeedMultiplier float64

	// TestInterval is the pause between test iterations before scaling.
	TestInterval time.Duration
}

// DevicePreference is the port matching criterion derived from PortConfig.
type DevicePreference int

const (
	PreferAny DevicePreference = iota
	PreferMultiPortDevice
	PreferNamedPort
)

func (p DevicePreference) String() string {
	switch p {
	case PreferAny:
		return "any"
	case PreferMultiPortDevice:
		return "multiport"
	case PreferNamedPort:
		return "named"
	default:
		return "unknown"
	}
}

// PortConfig describes one communication channel of a unit and the three
// command sequences driven over it.
type PortConfig struct {
	Protocol string

	// Device is the raw preference string from the configuration:
	// "any", "multiport", or an explicit port name.
	Device string

	Speed       int
	DataPattern string // e.g. "n81"
	ReadTimeout time.Duration
	Reservation time.Duration

	Start CommandSequence
	Test  CommandSequence
	Stop  CommandSequence
}

// Preference interprets the Device field.
func (p PortConfig) Preference() (DevicePreference, string) {
	switch p.Device {
	case "", DeviceAny:
		return PreferAny, ""
	case DeviceMultiPort:
		return PreferMultiPortDevice, ""
	default:
		return PreferNamedPort, p.Device
	}
}

// Command is one command/expected-response exchange.
type Command struct {
	Send    string
	Expect  string // regexp matched against the response, empty accepts any
	Timeout time.Duration
	Retries int

	// Critical marks the command as emergency-relevant: a validation
	// failure on it flags the whole sequence result critical and stops
	// the test loop immediately.
	Critical bool
}

// CommandSequence is an ordered list of commands executed as one phase step.
type CommandSequence []Command
