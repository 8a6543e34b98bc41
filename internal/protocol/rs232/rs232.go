// Package rs232 is the serial protocol backend. Commands are sent as
// CRLF-terminated lines and the response is the next LF-terminated line,
// the framing the standard UUT firmware speaks.
package rs232

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.bug.st/serial"

	"github.com/prodline/prodline/internal/protocol"
)

// Name under which the backend registers.
const Name = "rs232"

const readSlice = 50 * time.Millisecond

// Opener opens real serial ports.
type Opener struct{}

func New() Opener {
	return Opener{}
}

func (Opener) Open(_ context.Context, portName string, cfg protocol.PortSettings) (protocol.Session, error) {
	mode, err := mode(cfg)
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", portName, err)
	}

	return &session{
		id:          uuid.New().String(),
		portName:    portName,
		port:        port,
		readTimeout: cfg.ReadTimeout,
	}, nil
}

func mode(cfg protocol.PortSettings) (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: cfg.Speed,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	pattern := strings.ToLower(cfg.DataPattern)
	if pattern == "" {
		return mode, nil
	}
	if len(pattern) != 3 {
		return nil, fmt.Errorf("invalid data pattern %q", cfg.DataPattern)
	}

	switch pattern[0] {
	case 'n':
		mode.Parity = serial.NoParity
	case 'e':
		mode.Parity = serial.EvenParity
	case 'o':
		mode.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("invalid parity in data pattern %q", cfg.DataPattern)
	}

	switch pattern[1] {
	case '7':
		mode.DataBits = 7
	case '8':
		mode.DataBits = 8
	default:
		return nil, fmt.Errorf("invalid data bits in data pattern %q", cfg.DataPattern)
	}

	switch pattern[2] {
	case '1':
		mode.StopBits = serial.OneStopBit
	case '2':
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("invalid stop bits in data pattern %q", cfg.DataPattern)
	}
	return mode, nil
}

type session struct {
	id          string
	portName    string
	readTimeout time.Duration

	mu     sync.Mutex
	port   serial.Port
	closed bool
}

func (s *session) ID() string       { return s.id }
func (s *session) Protocol() string { return Name }
func (s *session) Port() string     { return s.portName }

func (s *session) Exchange(ctx context.Context, send string, timeout time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", protocol.ErrSessionClosed
	}

	if timeout <= 0 {
		timeout = s.readTimeout
	}
	deadline := time.Now().Add(timeout)

	if _, err := s.port.Write([]byte(send + "\r\n")); err != nil {
		return "", fmt.Errorf("writing %q: %w", send, err)
	}

	// read one LF-terminated line in short slices so cancellation and the
	// command deadline are both honored
	if err := s.port.SetReadTimeout(readSlice); err != nil {
		return "", fmt.Errorf("setting read timeout: %w", err)
	}

	var line []byte
	buf := make([]byte, 256)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("timeout after %s waiting for response to %q", timeout, send)
		}

		n, err := s.port.Read(buf)
		if err != nil {
			return "", fmt.Errorf("reading response to %q: %w", send, err)
		}
		line = append(line, buf[:n]...)
		if idx := bytes.IndexByte(line, '\n'); idx >= 0 {
			return strings.TrimRight(string(line[:idx]), "\r"), nil
		}
	}
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return protocol.ErrSessionClosed
	}
	s.closed = true
	return s.port.Close()
}
