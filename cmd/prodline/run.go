package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/prodline/prodline/internal/bibstore"
	"github.com/prodline/prodline/internal/engine"
	"github.com/prodline/prodline/internal/log"
	"github.com/prodline/prodline/internal/model"
	"github.com/prodline/prodline/internal/pool"
	"github.com/prodline/prodline/internal/protocol"
	"github.com/prodline/prodline/internal/protocol/dummy"
	"github.com/prodline/prodline/internal/protocol/rs232"
	"github.com/prodline/prodline/internal/trigger"
	"github.com/prodline/prodline/internal/watch"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func doRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	attrs := slog.Group("prodline",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	if config.StatusCron != "" {
		if err := engine.ParseCron(config.StatusCron); err != nil {
			return fmt.Errorf("parsing status.cron: %w", err)
		}
	}

	store, err := bibstore.New(config.BoardsDir)
	if err != nil {
		return err
	}

	infos, err := poolPorts()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		return fmt.Errorf("no communication ports: configure pool.ports or enable pool.autodetect")
	}
	slog.InfoContext(ctx, "port pool initialized", "ports", len(infos))

	registry := protocol.NewRegistry()
	registry.Register(rs232.Name, rs232.New())
	registry.Register(dummy.Name, dummy.New())

	eng := engine.New(pool.NewManager(infos), registry, trigger.NewSim(), config.ShutdownGrace)
	coordinator := engine.NewCoordinator(eng, store, engine.CoordinatorConfig{
		StatusEvery:   config.StatusEvery,
		StatusCron:    config.StatusCron,
		ShutdownGrace: config.ShutdownGrace,
	})

	watcher, err := watch.New(store.Dir())
	if err != nil {
		return fmt.Errorf("watching %s: %w", store.Dir(), err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		watcher.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return coordinator.Run(ctx, watcher.Events())
	})
	return g.Wait()
}

func doCheck(cmd *cobra.Command, args []string) error {
	store, err := bibstore.New(config.BoardsDir)
	if err != nil {
		return err
	}
	ids, err := store.Discover()
	if err != nil {
		return err
	}

	if config.StatusCron != "" {
		if err := engine.ParseCron(config.StatusCron); err != nil {
			return fmt.Errorf("status.cron: %w", err)
		}
	}

	failed := 0
	for _, id := range ids {
		board, err := store.Load(id)
		if err != nil {
			failed++
			fmt.Printf("%s: INVALID\n", id)
			for _, d := range model.CueErrDetails(err) {
				fmt.Printf("  %s\n", d)
			}
			continue
		}
		fmt.Printf("%s: OK (%d units)\n", board.ID, len(board.Units))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d board files invalid", failed, len(ids))
	}
	fmt.Printf("config %s and %d board files valid\n", configPath, len(ids))
	return nil
}

func doPorts(cmd *cobra.Command, args []string) error {
	infos, err := poolPorts()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "PORT\tDEVICE\tSERIAL")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%s\n", info.Name, info.Device, info.Serial)
	}
	return w.Flush()
}

func doStatus(cmd *cobra.Command, args []string) error {
	store, err := bibstore.New(config.BoardsDir)
	if err != nil {
		return err
	}
	ids, err := store.Discover()
	if err != nil {
		return err
	}

	fmt.Printf("boards (%s):\n", store.Dir())
	for _, id := range ids {
		board, err := store.Load(id)
		if err != nil {
			fmt.Printf("  %s: invalid (%v)\n", id, err)
			continue
		}
		for _, unit := range board.Units {
			fmt.Printf("  %s/%s: trigger=%s ports=%d\n",
				board.ID, unit.ID, unit.Trigger.Mode, len(unit.Ports))
		}
	}

	infos, err := poolPorts()
	if err != nil {
		return err
	}
	manager := pool.NewManager(infos)
	fmt.Printf("pool (%d ports):\n", len(infos))
	for _, status := range manager.Snapshot() {
		fmt.Printf("  %s device=%s serial=%s\n", status.Name, status.Device, status.Serial)
	}
	return nil
}

// poolPorts combines the statically configured ports with the autodetected
// ones, statics winning on name collisions.
func poolPorts() ([]pool.PortInfo, error) {
	static := pool.FromStatic(config.Pool.Ports)
	if !config.Pool.Autodetect {
		return static, nil
	}

	detected, err := pool.Enumerate()
	if err != nil {
		if len(static) == 0 {
			return nil, fmt.Errorf("enumerating serial ports: %w", err)
		}
		slog.Warn("serial port enumeration failed, using static ports only", "error", err)
		return static, nil
	}
	return pool.Merge(static, detected), nil
}
