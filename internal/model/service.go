package model

import (
	"fmt"
	"io"
	"time"
)

// Config is the compiled service configuration (prodline.yaml).
type Config struct {
	Version       int
	BoardsDir     string
	Pool          PoolConfig
	StatusEvery   time.Duration
	StatusCron    string
	ShutdownGrace time.Duration
	Verbose       bool
}

// PoolConfig seeds the port reservation manager.
type PoolConfig struct {
	// Autodetect enumerates the host's serial ports in addition to the
	// statically configured ones.
	Autodetect bool
	Ports      []StaticPort
}

// StaticPort is one statically declared physical port. Ports sharing a
// non-empty Serial belong to the same multi-port device.
type StaticPort struct {
	Name   string `json:"name"`
	Device string `json:"device,omitempty"`
	Serial string `json:"serial,omitempty"`
}

type configFile struct {
	Version int    `json:"version"`
	Boards  string `json:"boards"`
	Pool    struct {
		Autodetect *bool        `json:"autodetect,omitempty"`
		Ports      []StaticPort `json:"ports,omitempty"`
	} `json:"pool"`
	Status *struct {
		Every string `json:"every,omitempty"`
		Cron  string `json:"cron,omitempty"`
	} `json:"status,omitempty"`
	ShutdownGrace string `json:"shutdownGrace,omitempty"`
	Verbose       *bool  `json:"verbose,omitempty"`
}

// LoadConfig validates YAML from r against the #Config CUE schema and
// compiles it into a Config.
func LoadConfig(r io.Reader) (Config, error) {
	var raw configFile
	if err := decode(r, "prodline.yaml", configSchema, &raw); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Version:   raw.Version,
		BoardsDir: raw.Boards,
		Pool: PoolConfig{
			Autodetect: deref(raw.Pool.Autodetect),
			Ports:      raw.Pool.Ports,
		},
		Verbose: deref(raw.Verbose),
	}

	var err error
	every, cron := "", ""
	if raw.Status != nil {
		every, cron = raw.Status.Every, raw.Status.Cron
	}
	if cfg.StatusEvery, err = duration(every, DefaultStatusEvery); err != nil {
		return Config{}, fmt.Errorf("status.every: %w", err)
	}
	cfg.StatusCron = cron

	if cfg.ShutdownGrace, err = duration(raw.ShutdownGrace, DefaultShutdownGrace); err != nil {
		return Config{}, fmt.Errorf("shutdownGrace: %w", err)
	}
	return cfg, nil
}

// DefaultConfig is the configuration written when no prodline.yaml exists.
func DefaultConfig() map[string]any {
	return map[string]any{
		"version": 0,
		"boards":  "boards",
		"pool": map[string]any{
			"autodetect": true,
		},
	}
}
