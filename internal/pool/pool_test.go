package pool_test

import (
	"sync"
	"testing"
	"time"

	"github.com/prodline/prodline/internal/model"
	"github.com/prodline/prodline/internal/pool"

	"github.com/stretchr/testify/require"
)

func testPorts() []pool.PortInfo {
	return []pool.PortInfo{
		{Name: "COM6", Device: "FT232R", Serial: "A700ABCD"},
		{Name: "COM11", Device: "FT4232HL", Serial: "A10NE0XR"},
		{Name: "COM12", Device: "FT4232HL", Serial: "A10NE0XR"},
		{Name: "COM13", Device: "FT4232HL", Serial: "A10NE0XR"},
	}
}

func TestReserveRelease(t *testing.T) {
	t.Parallel()

	m := pool.NewManager(testPorts())

	res, err := m.Reserve(t.Context(), pool.Criteria{Wait: 50 * time.Millisecond}, "client-1")
	require.NoError(t, err)
	require.True(t, res.Active)
	require.NotEmpty(t, res.ID)
	require.Equal(t, "COM11", res.Port) // first-fit in sorted order

	require.True(t, m.Release(res.ID, "client-1"))
	// idempotent: second release is a no-op returning false
	require.False(t, m.Release(res.ID, "client-1"))
	require.False(t, m.Release("no-such-reservation", "client-1"))
}

func TestReserveExclusive(t *testing.T) {
	t.Parallel()

	m := pool.NewManager([]pool.PortInfo{{Name: "COM6"}})
	criteria := pool.Criteria{Wait: 50 * time.Millisecond}

	res, err := m.Reserve(t.Context(), criteria, "client-1")
	require.NoError(t, err)

	_, err = m.Reserve(t.Context(), criteria, "client-2")
	require.ErrorIs(t, err, pool.ErrNoPortAvailable)

	// release makes the port immediately visible to the next Reserve
	require.True(t, m.Release(res.ID, "client-1"))
	res2, err := m.Reserve(t.Context(), criteria, "client-2")
	require.NoError(t, err)
	require.Equal(t, "COM6", res2.Port)
}

func TestReservePreferences(t *testing.T) {
	t.Parallel()

	m := pool.NewManager(testPorts())

	multi, err := m.Reserve(t.Context(), pool.Criteria{
		Preference: model.PreferMultiPortDevice,
		Wait:       50 * time.Millisecond,
	}, "c")
	require.NoError(t, err)
	require.Contains(t, []string{"COM11", "COM12", "COM13"}, multi.Port)

	named, err := m.Reserve(t.Context(), pool.Criteria{
		Preference: model.PreferNamedPort,
		PortName:   "COM6",
		Wait:       50 * time.Millisecond,
	}, "c")
	require.NoError(t, err)
	require.Equal(t, "COM6", named.Port)

	// a single-port device never satisfies the multi-port preference
	single := pool.NewManager([]pool.PortInfo{{Name: "COM6", Device: "FT232R", Serial: "A700ABCD"}})
	_, err = single.Reserve(t.Context(), pool.Criteria{
		Preference: model.PreferMultiPortDevice,
		Wait:       50 * time.Millisecond,
	}, "c")
	require.ErrorIs(t, err, pool.ErrNoPortAvailable)
}

func TestReserveWaitsForRelease(t *testing.T) {
	t.Parallel()

	m := pool.NewManager([]pool.PortInfo{{Name: "COM6"}})

	res, err := m.Reserve(t.Context(), pool.Criteria{Wait: 50 * time.Millisecond}, "holder")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		got, err := m.Reserve(t.Context(), pool.Criteria{Wait: 2 * time.Second}, "waiter")
		require.NoError(t, err)
		require.Equal(t, "COM6", got.Port)
	}()

	time.Sleep(100 * time.Millisecond)
	require.True(t, m.Release(res.ID, "holder"))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("waiter never obtained the released port")
	}
}

func TestNoTwoActiveReservationsPerPort(t *testing.T) {
	t.Parallel()

	ports := testPorts()
	m := pool.NewManager(ports)

	var mu sync.Mutex
	held := make(map[string]string) // port -> client

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func(client string) {
			defer wg.Done()
			for range 25 {
				res, err := m.Reserve(t.Context(), pool.Criteria{Wait: time.Second}, client)
				if err != nil {
					continue
				}
				mu.Lock()
				owner, taken := held[res.Port]
				require.False(t, taken, "port %s already held by %s", res.Port, owner)
				held[res.Port] = client
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				delete(held, res.Port)
				mu.Unlock()
				require.True(t, m.Release(res.ID, client))
			}
		}("client-" + string(rune('a'+i)))
	}
	wg.Wait()

	for _, s := range m.Snapshot() {
		require.False(t, s.Reserved)
	}
}

func TestReleaseClientMismatch(t *testing.T) {
	t.Parallel()

	m := pool.NewManager([]pool.PortInfo{{Name: "COM6"}})
	res, err := m.Reserve(t.Context(), pool.Criteria{Wait: 50 * time.Millisecond}, "owner")
	require.NoError(t, err)

	require.False(t, m.Release(res.ID, "intruder"))
	require.True(t, m.Release(res.ID, "owner"))
}

func TestExpiredReservationReclaimed(t *testing.T) {
	t.Parallel()

	m := pool.NewManager([]pool.PortInfo{{Name: "COM6"}})

	_, err := m.Reserve(t.Context(), pool.Criteria{
		Duration: 20 * time.Millisecond,
		Wait:     50 * time.Millisecond,
	}, "sloppy")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	res, err := m.Reserve(t.Context(), pool.Criteria{Wait: 50 * time.Millisecond}, "next")
	require.NoError(t, err)
	require.Equal(t, "COM6", res.Port)
	require.Equal(t, "next", res.ClientID)
}

func TestSnapshotAndMerge(t *testing.T) {
	t.Parallel()

	m := pool.NewManager(testPorts())
	res, err := m.Reserve(t.Context(), pool.Criteria{
		Preference: model.PreferNamedPort,
		PortName:   "COM12",
		Wait:       50 * time.Millisecond,
	}, "c")
	require.NoError(t, err)

	snap := m.Snapshot()
	require.Len(t, snap, 4)
	for _, s := range snap {
		require.Equal(t, s.Name == res.Port, s.Reserved)
	}

	static := pool.FromStatic([]model.StaticPort{{Name: "COM6", Device: "override"}})
	merged := pool.Merge(static, testPorts())
	require.Len(t, merged, 4)
	require.Equal(t, "override", merged[0].Device)
}
