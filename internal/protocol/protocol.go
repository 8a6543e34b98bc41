// Package protocol defines the command/response contract the production
// cycle drives over a reserved port, and the registry resolving protocol
// names to implementations. The engine is protocol-agnostic: adding a
// protocol is one Register call, the cycle logic never changes.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrUnknownProtocol = errors.New("unknown protocol")
	ErrSessionClosed   = errors.New("session closed")
)

// Session is one open communication channel speaking one protocol. A
// session is owned by exactly one production cycle and closed exactly once.
type Session interface {
	ID() string
	Protocol() string
	Port() string

	// Exchange sends one command and returns the device response. The
	// timeout bounds the whole exchange.
	Exchange(ctx context.Context, send string, timeout time.Duration) (string, error)

	Close() error
}

// Opener creates sessions for one protocol.
type Opener interface {
	Open(ctx context.Context, portName string, cfg PortSettings) (Session, error)
}

// PortSettings is the channel parameterization an Opener needs.
type PortSettings struct {
	Speed       int
	DataPattern string
	ReadTimeout time.Duration
}

// Registry maps protocol names to openers.
type Registry struct {
	mu      sync.RWMutex
	openers map[string]Opener
}

func NewRegistry() *Registry {
	return &Registry{openers: make(map[string]Opener)}
}

func (r *Registry) Register(name string, opener Opener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openers[name] = opener
}

// Open resolves the protocol name and opens a session on portName.
func (r *Registry) Open(ctx context.Context, protocol, portName string, cfg PortSettings) (Session, error) {
	r.mu.RLock()
	opener, ok := r.openers[protocol]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProtocol, protocol)
	}

	session, err := opener.Open(ctx, portName, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening %s session on %s: %w", protocol, portName, err)
	}
	return session, nil
}

// Protocols lists the registered protocol names, sorted.
func (r *Registry) Protocols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.openers))
	for name := range r.openers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
