package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/prodline/prodline/internal/model"
	"github.com/prodline/prodline/internal/watch"
)

// BoardSource delivers board configurations by id. *bibstore.Store is the
// production implementation.
type BoardSource interface {
	Discover() ([]string, error)
	Load(boardID string) (model.BoardConfig, error)
}

// CoordinatorConfig parameterizes the production coordinator.
type CoordinatorConfig struct {
	// StatusEvery is the period of the status report job. StatusCron, when
	// set, takes precedence. Both empty disables the job.
	StatusEvery time.Duration
	StatusCron  string

	// ShutdownGrace bounds how long a removed or restarting board may take
	// to wind down its cycles.
	ShutdownGrace time.Duration
}

// Coordinator runs one board execution per discovered board configuration
// and keeps the set of executions in sync with the boards directory.
type Coordinator struct {
	engine *Engine
	source BoardSource
	cfg    CoordinatorConfig

	mu     sync.Mutex
	boards map[string]*boardHandle
}

type boardHandle struct {
	run    *BoardRun
	cancel context.CancelFunc
	done   chan struct{}
}

func NewCoordinator(engine *Engine, source BoardSource, cfg CoordinatorConfig) *Coordinator {
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = model.DefaultShutdownGrace
	}
	return &Coordinator{
		engine: engine,
		source: source,
		cfg:    cfg,
		boards: make(map[string]*boardHandle),
	}
}

// Run discovers and starts every board, then reacts to configuration events
// until ctx is cancelled. On cancellation every board execution is wound
// down within the shutdown grace before Run returns.
func (c *Coordinator) Run(ctx context.Context, events <-chan watch.Event) error {
	ids, err := c.source.Discover()
	if err != nil {
		return fmt.Errorf("discovering boards: %w", err)
	}
	slog.InfoContext(ctx, "boards discovered", "count", len(ids))
	for _, id := range ids {
		c.startBoard(ctx, id)
	}

	scheduler, err := c.newStatusScheduler(ctx)
	if err != nil {
		return err
	}
	if scheduler != nil {
		scheduler.Start()
		defer func() {
			if err := scheduler.Shutdown(); err != nil {
				slog.WarnContext(ctx, "stopping status scheduler", "error", err)
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			c.shutdown(ctx)
			return nil

		case ev, ok := <-events:
			if !ok {
				// watcher gone; keep running the boards until cancelled
				events = nil
				continue
			}
			c.handle(ctx, ev)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, ev watch.Event) {
	slog.InfoContext(ctx, "board configuration event",
		"board", ev.Board, "event", ev.Type.String())

	switch ev.Type {
	case watch.Added, watch.Changed:
		// a board already executing keeps running on its original
		// configuration; the event only matters when no execution holds
		// the id
		c.startBoard(ctx, ev.Board)
	case watch.Removed:
		c.stopBoard(ctx, ev.Board)
	}
}

// startBoard loads the configuration and launches a run unless one is
// already active for the id. A load failure skips this board only.
func (c *Coordinator) startBoard(ctx context.Context, id string) {
	c.mu.Lock()
	if _, running := c.boards[id]; running {
		c.mu.Unlock()
		slog.DebugContext(ctx, "board already executing, ignoring", "board", id)
		return
	}
	c.mu.Unlock()

	board, err := c.source.Load(id)
	if err != nil {
		slog.ErrorContext(ctx, "loading board configuration failed",
			"board", id, "error", err, "details", model.CueErrDetails(err))
		return
	}

	bctx, cancel := context.WithCancel(ctx)
	handle := &boardHandle{
		run:    c.engine.Board(board),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	if _, running := c.boards[id]; running {
		c.mu.Unlock()
		cancel()
		return
	}
	c.boards[id] = handle
	c.mu.Unlock()

	go func() {
		defer cancel()
		handle.run.Run(bctx)
		close(handle.done)
		c.release(id, handle)
	}()
}

// stopBoard cancels a running execution and waits for it within the
// shutdown grace. Unknown ids are a no-op.
func (c *Coordinator) stopBoard(ctx context.Context, id string) {
	c.mu.Lock()
	handle, ok := c.boards[id]
	c.mu.Unlock()
	if !ok {
		return
	}

	handle.cancel()
	select {
	case <-handle.done:
	case <-time.After(c.cfg.ShutdownGrace):
		slog.WarnContext(ctx, "board did not stop within grace", "board", id)
	}
	c.release(id, handle)
}

// release drops the handle if it is still the registered one for id.
func (c *Coordinator) release(id string, handle *boardHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.boards[id] == handle {
		delete(c.boards, id)
	}
}

// shutdown winds down every board execution, bounded by one shared grace.
func (c *Coordinator) shutdown(ctx context.Context) {
	c.mu.Lock()
	handles := make(map[string]*boardHandle, len(c.boards))
	for id, h := range c.boards {
		handles[id] = h
	}
	c.mu.Unlock()

	slog.InfoContext(ctx, "shutting down", "boards", len(handles))
	for _, h := range handles {
		h.cancel()
	}

	deadline := time.After(c.cfg.ShutdownGrace)
	for id, h := range handles {
		select {
		case <-h.done:
			c.release(id, h)
		case <-deadline:
			slog.WarnContext(ctx, "board did not stop within grace", "board", id)
		}
	}
}

// Status reports the unit phases of every active board execution.
func (c *Coordinator) Status() map[string]map[string]model.UnitPhase {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]map[string]model.UnitPhase, len(c.boards))
	for id, h := range c.boards {
		out[id] = h.run.Status()
	}
	return out
}

// ForceStop latches the stop condition for one unit.
func (c *Coordinator) ForceStop(board, unit string) {
	c.engine.triggers.ForceStop(board, unit)
}

// ForceCritical latches the critical-failure condition for one unit.
func (c *Coordinator) ForceCritical(board, unit string) {
	c.engine.triggers.ForceCritical(board, unit)
}

func (c *Coordinator) newStatusScheduler(ctx context.Context) (gocron.Scheduler, error) {
	var job gocron.JobDefinition
	switch {
	case c.cfg.StatusCron != "":
		if err := ParseCron(c.cfg.StatusCron); err != nil {
			return nil, fmt.Errorf("parsing status.cron: %w", err)
		}
		job = gocron.CronJob(c.cfg.StatusCron, false)
	case c.cfg.StatusEvery > 0:
		job = gocron.DurationJob(c.cfg.StatusEvery)
	default:
		return nil, nil
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		job,
		gocron.NewTask(func() { c.reportStatus(ctx) }),
	)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("initializing status job: %w", err), s.Shutdown())
	}
	return s, nil
}

func (c *Coordinator) reportStatus(ctx context.Context) {
	status := c.Status()
	phases := make(map[string]string)
	for board, units := range status {
		for unit, phase := range units {
			phases[board+"/"+unit] = phase.String()
		}
	}
	slog.InfoContext(ctx, "production status",
		"boards", len(status),
		"active_sessions", c.engine.sessions.Len(),
		"units", phases,
	)
}
