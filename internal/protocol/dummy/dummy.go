// Package dummy is the scripted in-memory protocol backend. It answers the
// classic UUT command set without hardware and is both the simulation
// backend and the test double for the engine.
package dummy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prodline/prodline/internal/protocol"
)

// Name under which the backend registers.
const Name = "dummy"

// UnknownResponse is returned for commands missing from the script.
const UnknownResponse = "ERROR: Unknown command"

// DefaultScript mirrors the standard dummy-UUT command set.
func DefaultScript() map[string]string {
	return map[string]string{
		"ATZ":         "OK",
		"INIT_RS232":  "READY",
		"AT+STATUS":   "STATUS_OK",
		"RUN_TEST_1":  "PASS",
		"TEST":        "PASS",
		"AT+QUIT":     "GOODBYE",
		"STOP_RS232":  "BYE",
		"EXIT":        "BYE",
		"AT+SHUTDOWN": "SHUTDOWN_OK",
	}
}

// Exchange records one command sent through a dummy session.
type Exchange struct {
	Port string
	Send string
}

// Opener creates scripted sessions. The zero value is not usable; use New.
type Opener struct {
	mu      sync.Mutex
	script  map[string]string
	latency time.Duration
	openErr map[string]error
	failing map[string]int // send -> remaining failures to inject
	log     []Exchange
}

func New() *Opener {
	return &Opener{
		script:  DefaultScript(),
		openErr: make(map[string]error),
		failing: make(map[string]int),
	}
}

// WithLatency makes every exchange take at least d.
func (o *Opener) WithLatency(d time.Duration) *Opener {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.latency = d
	return o
}

// Script sets the response for one command.
func (o *Opener) Script(send, response string) *Opener {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.script[send] = response
	return o
}

// FailOpen makes Open on portName return err.
func (o *Opener) FailOpen(portName string, err error) *Opener {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.openErr[portName] = err
	return o
}

// FailNext makes the next n exchanges of send answer with UnknownResponse,
// regardless of the script. Used to exercise retry budgets.
func (o *Opener) FailNext(send string, n int) *Opener {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failing[send] = n
	return o
}

// Log returns every command exchanged through this opener, in order.
func (o *Opener) Log() []Exchange {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Exchange(nil), o.log...)
}

// CountSent returns how many times send was exchanged.
func (o *Opener) CountSent(send string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, e := range o.log {
		if e.Send == send {
			n++
		}
	}
	return n
}

func (o *Opener) Open(_ context.Context, portName string, _ protocol.PortSettings) (protocol.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.openErr[portName]; err != nil {
		return nil, err
	}
	return &session{
		id:     uuid.New().String(),
		port:   portName,
		opener: o,
	}, nil
}

type session struct {
	id     string
	port   string
	opener *Opener

	mu     sync.Mutex
	closed bool
}

func (s *session) ID() string       { return s.id }
func (s *session) Protocol() string { return Name }
func (s *session) Port() string     { return s.port }

func (s *session) Exchange(ctx context.Context, send string, timeout time.Duration) (string, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return "", protocol.ErrSessionClosed
	}

	o := s.opener
	o.mu.Lock()
	o.log = append(o.log, Exchange{Port: s.port, Send: send})
	latency := o.latency
	response, known := o.script[send]
	if n := o.failing[send]; n > 0 {
		o.failing[send] = n - 1
		known = false
	}
	o.mu.Unlock()

	if latency > 0 {
		if timeout > 0 && latency > timeout {
			return "", fmt.Errorf("timeout after %s waiting for %q", timeout, send)
		}
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if !known {
		return UnknownResponse, nil
	}
	return response, nil
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return protocol.ErrSessionClosed
	}
	s.closed = true
	return nil
}
