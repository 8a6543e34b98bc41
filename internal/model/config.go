package model

import (
	"fmt"
	"io"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx       *cue.Context
	boardSchema  cue.Value
	configSchema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	boardSchema = compiled.LookupPath(cue.ParsePath("#Board"))
	if boardSchema.Err() != nil {
		panic(boardSchema.Err())
	}
	configSchema = compiled.LookupPath(cue.ParsePath("#Config"))
	if configSchema.Err() != nil {
		panic(configSchema.Err())
	}
}

// Defaults applied while compiling raw configuration files.
const (
	DefaultStartTimeout  = 30 * time.Second
	DefaultTestInterval  = time.Second
	DefaultCommandTime   = 2 * time.Second
	DefaultReadTimeout   = 2 * time.Second
	DefaultReservation   = 30 * time.Minute
	DefaultStatusEvery   = 5 * time.Second
	DefaultShutdownGrace = 30 * time.Second
	DefaultSpeed         = 115200
)

// Raw file shapes. Durations stay strings here; the CUE schema constrains
// their format and Compile parses them exactly once.

type boardFile struct {
	ID    string     `json:"id"`
	Units []unitFile `json:"units"`
}

type unitFile struct {
	ID      string      `json:"id"`
	Trigger triggerFile `json:"trigger"`
	Ports   []portFile  `json:"ports"`
}

type triggerFile struct {
	Mode                string   `json:"mode"`
	StartDelay          string   `json:"startDelay,omitempty"`
	StartTimeout        string   `json:"startTimeout,omitempty"`
	StopAfter           string   `json:"stopAfter,omitempty"`
	CriticalProbability *float64 `json:"criticalProbability,omitempty"`
	SpeedMultiplier     *float64 `json:"speedMultiplier,omitempty"`
	TestInterval        string   `json:"testInterval,omitempty"`
}

type portFile struct {
	Protocol    string        `json:"protocol"`
	Device      string        `json:"device,omitempty"`
	Speed       *int          `json:"speed,omitempty"`
	DataPattern string        `json:"dataPattern,omitempty"`
	ReadTimeout string        `json:"readTimeout,omitempty"`
	Reservation string        `json:"reservation,omitempty"`
	Start       []commandFile `json:"start"`
	Test        []commandFile `json:"test"`
	Stop        []commandFile `json:"stop"`
}

type commandFile struct {
	Send     string `json:"send"`
	Expect   string `json:"expect,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
	Retries  *int   `json:"retries,omitempty"`
	Critical *bool  `json:"critical,omitempty"`
}

// LoadBoard validates YAML from r against the #Board CUE schema and compiles
// it into an engine-ready BoardConfig.
func LoadBoard(r io.Reader) (BoardConfig, error) {
	var raw boardFile
	if err := decode(r, "board.yaml", boardSchema, &raw); err != nil {
		return BoardConfig{}, err
	}
	return compileBoard(raw)
}

func decode(r io.Reader, name string, schema cue.Value, out any) error {
	yamlFile, err := yaml.Extract(name, r)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if err := unified.Decode(out); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func compileBoard(raw boardFile) (BoardConfig, error) {
	board := BoardConfig{ID: raw.ID, Units: make([]UnitConfig, 0, len(raw.Units))}
	for _, u := range raw.Units {
		unit, err := compileUnit(u)
		if err != nil {
			return BoardConfig{}, fmt.Errorf("board %s: %w", raw.ID, err)
		}
		board.Units = append(board.Units, unit)
	}
	return board, nil
}

func compileUnit(raw unitFile) (UnitConfig, error) {
	trigger, err := compileTrigger(raw.Trigger)
	if err != nil {
		return UnitConfig{}, fmt.Errorf("unit %s: %w", raw.ID, err)
	}

	unit := UnitConfig{
		ID:      raw.ID,
		Trigger: trigger,
		Ports:   make([]PortConfig, 0, len(raw.Ports)),
	}
	for i, p := range raw.Ports {
		port, err := compilePort(p)
		if err != nil {
			return UnitConfig{}, fmt.Errorf("unit %s port %d: %w", raw.ID, i, err)
		}
		unit.Ports = append(unit.Ports, port)
	}
	return unit, nil
}

func compileTrigger(raw triggerFile) (TriggerConfig, error) {
	t := TriggerConfig{
		Mode:                raw.Mode,
		CriticalProbability: deref(raw.CriticalProbability),
		SpeedMultiplier:     1,
		TestInterval:        DefaultTestInterval,
	}
	if raw.SpeedMultiplier != nil {
		t.SpeedMultiplier = *raw.SpeedMultiplier
	}

	var err error
	if t.StartDelay, err = duration(raw.StartDelay, 0); err != nil {
		return t, fmt.Errorf("startDelay: %w", err)
	}
	if t.StartTimeout, err = duration(raw.StartTimeout, DefaultStartTimeout); err != nil {
		return t, fmt.Errorf("startTimeout: %w", err)
	}
	if t.StopAfter, err = duration(raw.StopAfter, 0); err != nil {
		return t, fmt.Errorf("stopAfter: %w", err)
	}
	if t.TestInterval, err = duration(raw.TestInterval, DefaultTestInterval); err != nil {
		return t, fmt.Errorf("testInterval: %w", err)
	}
	return t, nil
}

func compilePort(raw portFile) (PortConfig, error) {
	p := PortConfig{
		Protocol:    raw.Protocol,
		Device:      raw.Device,
		Speed:       DefaultSpeed,
		DataPattern: raw.DataPattern,
	}
	if raw.Speed != nil {
		p.Speed = *raw.Speed
	}

	var err error
	if p.ReadTimeout, err = duration(raw.ReadTimeout, DefaultReadTimeout); err != nil {
		return p, fmt.Errorf("readTimeout: %w", err)
	}
	if p.Reservation, err = duration(raw.Reservation, DefaultReservation); err != nil {
		return p, fmt.Errorf("reservation: %w", err)
	}

	if p.Start, err = compileSequence(raw.Start); err != nil {
		return p, fmt.Errorf("start: %w", err)
	}
	if p.Test, err = compileSequence(raw.Test); err != nil {
		return p, fmt.Errorf("test: %w", err)
	}
	if p.Stop, err = compileSequence(raw.Stop); err != nil {
		return p, fmt.Errorf("stop: %w", err)
	}
	return p, nil
}

func compileSequence(raw []commandFile) (CommandSequence, error) {
	seq := make(CommandSequence, 0, len(raw))
	for i, c := range raw {
		timeout, err := duration(c.Timeout, DefaultCommandTime)
		if err != nil {
			return nil, fmt.Errorf("command %d timeout: %w", i, err)
		}
		seq = append(seq, Command{
			Send:     c.Send,
			Expect:   c.Expect,
			Timeout:  timeout,
			Retries:  deref(c.Retries),
			Critical: deref(c.Critical),
		})
	}
	return seq, nil
}

func duration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return d, nil
}

func deref[T any](pt *T) T {
	var zero T
	if pt == nil {
		return zero
	}
	return *pt
}
