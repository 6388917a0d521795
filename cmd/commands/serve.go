package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v3"

	"github.com/taskloop/taskloop/internal/config"
	"github.com/taskloop/taskloop/internal/engine"
	"github.com/taskloop/taskloop/internal/events"
	"github.com/taskloop/taskloop/internal/gateway"
	"github.com/taskloop/taskloop/internal/models"
	"github.com/taskloop/taskloop/internal/store"
	"github.com/taskloop/taskloop/internal/tools"
)

// NewServeCommand returns the serve subcommand.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the taskloop gateway server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
		},
		Action: runServe,
	}
}

// runtime bundles everything both the gateway and the MCP transport need.
type runtime struct {
	cfg      *config.Config
	bus      *events.Bus
	executor *engine.Executor
	handler  *gateway.TaskHandler
	registry *tools.Registry
	closers  []func()
}

func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

func loadConfig(cmd *cli.Command) *config.Config {
	if cmd.Bool("debug") {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	configPath := cmd.String("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Warn("config not found, using defaults", "path", configPath, "error", err)
		cfg = config.Defaults()
	}
	return cfg
}

// buildRuntime wires config into the running system: bus, model registry,
// tool registry and scheduler, sqlite store, executor, task handler.
func buildRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	rt := &runtime{cfg: cfg}

	rt.bus = events.NewBus(cfg.Events.BufferSize)
	rt.closers = append(rt.closers, rt.bus.Close)

	modelRegistry := models.NewRegistry(cfg.Models)

	toolRegistry, err := tools.Setup(ctx, cfg.Tools)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("setup tools: %w", err)
	}
	rt.registry = toolRegistry
	slog.Info("tools loaded", "names", toolRegistry.Names())

	toolInfos, err := toolRegistry.Infos(ctx)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("tool infos: %w", err)
	}

	sqliteStore, err := store.Open(cfg.Store.Path, cfg.Store.ArchiveDir)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	rt.closers = append(rt.closers, func() { sqliteStore.Close() })

	var taskStore store.Store = sqliteStore
	if cfg.Store.ReadOnly {
		taskStore = &store.NoopStore{Inner: sqliteStore}
		slog.Info("store is read-only, checkpoints disabled")
	}

	sessions := func(ctx context.Context, settings config.AgentSettings) (engine.Session, error) {
		cm, err := modelRegistry.Resolve(ctx, settings.Provider)
		if err != nil {
			return nil, err
		}
		return engine.NewModelSession(cm, toolInfos, settings.SystemPrompt)
	}

	rt.executor = engine.NewExecutor(engine.ExecutorConfig{
		Sessions:  sessions,
		Scheduler: tools.NewPoolScheduler(toolRegistry),
		Store:     taskStore,
		Defaults:  cfg.Agent,
		Logger:    slog.Default(),
	})

	rt.handler = gateway.NewTaskHandler(rt.executor, rt.bus, slog.Default())
	return rt, nil
}

func runServe(_ context.Context, cmd *cli.Command) error {
	cfg := loadConfig(cmd)

	if cmd.IsSet("host") {
		cfg.Gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Gateway.Port = int(cmd.Int("port"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	card, err := gateway.LoadCard(cfg.Gateway.CardPath, rt.registry.Names())
	if err != nil {
		return err
	}

	server := gateway.NewServer(rt.bus, rt.handler, card, cfg.Gateway.Host, cfg.Gateway.Port)

	// Periodic sweep dropping checkpointed terminal tasks from memory.
	if cfg.Store.EvictSchedule != "" {
		c := cron.New()
		if _, err := c.AddFunc(cfg.Store.EvictSchedule, func() {
			rt.executor.Evict(context.Background())
		}); err != nil {
			return fmt.Errorf("evict schedule: %w", err)
		}
		c.Start()
		defer c.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
