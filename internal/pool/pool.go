// Package pool owns the table of physical communication ports and hands out
// exclusive reservations against it. All reserve/release traffic is
// serialized on one mutex; a released port is visible to the very next
// Reserve call.
package pool

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prodline/prodline/internal/model"
)

var ErrNoPortAvailable = errors.New("no port available")

const (
	// DefaultWait bounds how long Reserve polls for a free matching port.
	DefaultWait  = time.Second
	pollInterval = 25 * time.Millisecond
)

// PortInfo describes one physical port. Ports sharing a non-empty Serial
// belong to one multi-port device (an FT4232 exposes four of them under a
// single USB serial number).
type PortInfo struct {
	Name   string
	Device string
	Serial string
}

// Reservation is an exclusive, time-bounded claim on one port.
type Reservation struct {
	ID        string
	Port      string
	ClientID  string
	CreatedAt time.Time
	Expiry    time.Time
	Active    bool
}

// Criteria selects which ports satisfy a reservation request.
type Criteria struct {
	Preference model.DevicePreference
	PortName   string // required port name for PreferNamedPort

	// Duration of the reservation; zero falls back to the model default.
	Duration time.Duration
	// Wait bounds the reserve attempt; zero falls back to DefaultWait.
	Wait time.Duration
}

type portState struct {
	info PortInfo
	res  *Reservation
}

// Manager is the port reservation manager.
type Manager struct {
	mu    sync.Mutex
	ports map[string]*portState
	names []string       // stable first-fit order
	multi map[string]int // serial -> number of ports on that device
}

func NewManager(infos []PortInfo) *Manager {
	m := &Manager{
		ports: make(map[string]*portState, len(infos)),
		multi: make(map[string]int),
	}
	for _, info := range infos {
		if _, ok := m.ports[info.Name]; ok {
			continue
		}
		m.ports[info.Name] = &portState{info: info}
		m.names = append(m.names, info.Name)
		if info.Serial != "" {
			m.multi[info.Serial]++
		}
	}
	sort.Strings(m.names)
	return m
}

// Reserve allocates a free port matching criteria for clientID. It polls
// within the bounded wait and returns ErrNoPortAvailable when nothing
// matched in time, or the context error on cancellation.
func (m *Manager) Reserve(ctx context.Context, criteria Criteria, clientID string) (Reservation, error) {
	wait := criteria.Wait
	if wait <= 0 {
		wait = DefaultWait
	}
	deadline := time.Now().Add(wait)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if res, ok := m.tryReserve(ctx, criteria, clientID); ok {
			return res, nil
		}
		if time.Now().After(deadline) {
			return Reservation{}, ErrNoPortAvailable
		}
		select {
		case <-ctx.Done():
			return Reservation{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Manager) tryReserve(ctx context.Context, criteria Criteria, clientID string) (Reservation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, name := range m.names {
		state := m.ports[name]
		if state.res != nil {
			if now.Before(state.res.Expiry) {
				continue
			}
			slog.WarnContext(ctx, "reservation expired, reclaiming port",
				"port", name,
				"reservation", state.res.ID,
				"client", state.res.ClientID,
			)
			state.res = nil
		}
		if !m.matches(state.info, criteria) {
			continue
		}

		duration := criteria.Duration
		if duration <= 0 {
			duration = model.DefaultReservation
		}
		res := &Reservation{
			ID:        uuid.New().String(),
			Port:      name,
			ClientID:  clientID,
			CreatedAt: now,
			Expiry:    now.Add(duration),
			Active:    true,
		}
		state.res = res
		slog.DebugContext(ctx, "port reserved",
			"port", name,
			"reservation", res.ID,
			"client", clientID,
			"preference", criteria.Preference.String(),
		)
		return *res, true
	}
	return Reservation{}, false
}

func (m *Manager) matches(info PortInfo, criteria Criteria) bool {
	switch criteria.Preference {
	case model.PreferAny:
		return true
	case model.PreferMultiPortDevice:
		return info.Serial != "" && m.multi[info.Serial] > 1
	case model.PreferNamedPort:
		return info.Name == criteria.PortName
	default:
		return false
	}
}

// Release frees the reservation. Releasing an unknown or already-released
// reservation is a no-op returning false, never an error.
func (m *Manager) Release(reservationID, clientID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, state := range m.ports {
		if state.res == nil || state.res.ID != reservationID {
			continue
		}
		if state.res.ClientID != clientID {
			slog.Warn("release refused: client mismatch",
				"port", state.info.Name,
				"reservation", reservationID,
				"owner", state.res.ClientID,
				"client", clientID,
			)
			return false
		}
		state.res.Active = false
		state.res = nil
		return true
	}
	return false
}

// PortStatus is a point-in-time view of one port for status output.
type PortStatus struct {
	PortInfo
	Reserved bool
	ClientID string
}

// Snapshot returns the current port table in first-fit order.
func (m *Manager) Snapshot() []PortStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]PortStatus, 0, len(m.names))
	for _, name := range m.names {
		state := m.ports[name]
		status := PortStatus{PortInfo: state.info}
		if state.res != nil {
			status.Reserved = true
			status.ClientID = state.res.ClientID
		}
		out = append(out, status)
	}
	return out
}
