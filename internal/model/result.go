package model

import "time"

// CommandResult is the outcome of executing one command, after retries.
type CommandResult struct {
	Send     string
	Success  bool
	Response string
	Duration time.Duration
	Attempts int
	Err      error

	// Critical is set when a failed command carried the critical marker.
	Critical bool
}

// SequenceResult aggregates the results of one command sequence.
type SequenceResult struct {
	Results   []CommandResult
	Total     int
	Succeeded int
	Critical  bool
	Duration  time.Duration
}

// Success reports whether every command of the sequence succeeded. An empty
// sequence is successful.
func (r SequenceResult) Success() bool {
	return r.Succeeded == r.Total
}
