package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/prodline/prodline/internal/pool"
	"github.com/prodline/prodline/internal/protocol"
)

type sessionKey struct {
	board string
	unit  string
	port  int
}

// SessionEntry ties one open session to the cycle that owns it and the
// reservation backing it. Entries exist only between the start and stop
// phases of a cycle.
type SessionEntry struct {
	Board     string
	Unit      string
	PortIndex int

	Port        string
	Protocol    string
	SessionID   string
	Reservation pool.Reservation
	OpenedAt    time.Time
}

// SessionTable is the table of currently active sessions. Each cycle inserts
// its entry after a successful open and removes it during the stop phase;
// status reporting reads snapshots.
type SessionTable struct {
	mu      sync.Mutex
	entries map[sessionKey]SessionEntry
}

func NewSessionTable() *SessionTable {
	return &SessionTable{entries: make(map[sessionKey]SessionEntry)}
}

func (t *SessionTable) put(board, unit string, portIndex int, s protocol.Session, res pool.Reservation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[sessionKey{board: board, unit: unit, port: portIndex}] = SessionEntry{
		Board:       board,
		Unit:        unit,
		PortIndex:   portIndex,
		Port:        s.Port(),
		Protocol:    s.Protocol(),
		SessionID:   s.ID(),
		Reservation: res,
		OpenedAt:    time.Now(),
	}
}

func (t *SessionTable) remove(board, unit string, portIndex int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, sessionKey{board: board, unit: unit, port: portIndex})
}

// Len returns the number of active sessions.
func (t *SessionTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Snapshot returns the active sessions ordered by board, unit, port index.
func (t *SessionTable) Snapshot() []SessionEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]SessionEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Board != out[j].Board {
			return out[i].Board < out[j].Board
		}
		if out[i].Unit != out[j].Unit {
			return out[i].Unit < out[j].Unit
		}
		return out[i].PortIndex < out[j].PortIndex
	})
	return out
}
