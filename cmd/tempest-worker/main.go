// Package main implements the tempest worker binary. A worker claims
// pending triggers from the control plane, executes their recipes, and
// keeps the heartbeat alive while work runs. It can also carry the
// stale trigger reaper and the group janitor.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/tempest-orch/tempest/pkg/dispatch"
	"github.com/tempest-orch/tempest/pkg/executor"
	"github.com/tempest-orch/tempest/pkg/reaper"
	"github.com/tempest-orch/tempest/pkg/store"
	"github.com/tempest-orch/tempest/pkg/telemetry"
	"github.com/tempest-orch/tempest/pkg/worker"
)

func main() {
	var (
		configPath   = flag.String("config", "", "worker config file (YAML)")
		databasePath = flag.String("db", "tempest.db", "control-plane database path")
	)
	flag.Parse()

	cfg := worker.Default()
	if *configPath != "" {
		loaded, err := worker.Load(*configPath)
		if err != nil {
			os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
			os.Exit(1)
		}
		cfg = loaded
	}
	if cfg.Database == "" {
		cfg.Database = *databasePath
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	log, err := telemetry.NewLogger(cfg.Logging)
	if err != nil {
		os.Stderr.WriteString("failed to create logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("worker failed")
	}
}

func run(cfg worker.Config, log *telemetry.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received interrupt signal, shutting down...")
		cancel()
	}()

	s, err := store.NewSQLiteStore(store.Config{Path: cfg.Database})
	if err != nil {
		return err
	}
	if err := s.Init(ctx); err != nil {
		return err
	}
	defer s.Close()

	if cfg.Metrics.Enabled {
		go func() {
			if err := telemetry.ServeMetrics(cfg.Metrics); err != nil {
				log.WithError(err).Error("metrics endpoint failed")
			}
		}()
	}

	runner := worker.NewRecipeRunner(s, log)
	dispatcher := dispatch.NewDispatcher(s, log)

	loops := []*executor.Loop{
		executor.NewLoop(
			executor.NewTriggerExecutor(s, runner.Run, log, executor.TriggerExecutorConfig{
				TriggerName:       cfg.TriggerName,
				HeartbeatInterval: cfg.HeartbeatInterval,
			}),
			log,
			executor.WithPollInterval(cfg.PollInterval),
			executor.WithErrorBackoff(cfg.ErrorBackoff),
		),
		executor.NewLoop(
			dispatch.NewObserver(s, dispatcher, log),
			log,
			executor.WithPollInterval(cfg.PollInterval),
			executor.WithErrorBackoff(cfg.ErrorBackoff),
		),
	}

	if cfg.Reap {
		loops = append(loops,
			executor.NewLoop(
				reaper.NewStaleTriggerReaper(s, log, cfg.StalenessWindow, 0),
				log,
				executor.WithPollInterval(reaper.DefaultInterval),
				executor.WithErrorBackoff(cfg.ErrorBackoff),
			),
			executor.NewLoop(
				reaper.NewGroupJanitor(s, log),
				log,
				executor.WithPollInterval(reaper.DefaultJanitorInterval),
				executor.WithErrorBackoff(cfg.ErrorBackoff),
			),
		)
	}

	var wg sync.WaitGroup
	for _, loop := range loops {
		wg.Add(1)
		go func(l *executor.Loop) {
			defer wg.Done()
			l.Run(ctx)
		}(loop)
	}
	wg.Wait()

	return ctx.Err()
}
