package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/vcon-dev/vcon-server-sub001/internal/adapter"
	"github.com/vcon-dev/vcon-server-sub001/internal/api"
	"github.com/vcon-dev/vcon-server-sub001/internal/config"
	"github.com/vcon-dev/vcon-server-sub001/internal/httpx"
	"github.com/vcon-dev/vcon-server-sub001/internal/link"
	"github.com/vcon-dev/vcon-server-sub001/internal/metrics"
	"github.com/vcon-dev/vcon-server-sub001/internal/pipeline"
	"github.com/vcon-dev/vcon-server-sub001/internal/queue"
	"github.com/vcon-dev/vcon-server-sub001/internal/storage"
	"github.com/vcon-dev/vcon-server-sub001/internal/store"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline daemon",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	doc, err := config.Load(cfgPath)
	if err != nil {
		// Fail-safe: an unreadable or invalid config aborts without
		// mutating anything already stored.
		return fmt.Errorf("load config: %w", err)
	}

	level := slog.LevelInfo
	if doc.Settings.LogLevel == "debug" {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(config.ExpandPath(doc.Settings.DBPath))
	if err != nil {
		return err
	}
	defer db.Close()

	recordStore, err := store.New(db, doc.Settings.DefaultTTL(), logger)
	if err != nil {
		return err
	}
	queues, err := queue.New(db, logger)
	if err != nil {
		return err
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	httpClient := httpx.SharedClient(30 * time.Second)

	// Registries: every implementation is registered at startup and
	// resolved by name from the stored definitions.
	links := link.NewRegistry(logger)
	links.Register("tag", link.NewTag(recordStore, logger))
	links.Register("sampler", link.NewSampler(recordStore, logger))
	links.Register("webhook", link.NewWebhook(recordStore, httpClient, logger))
	links.Register("slack", link.NewSlackNotify(recordStore, logger))

	storages := storage.NewRegistry(logger)
	sqliteBackend := storage.NewSQLite(logger)
	defer sqliteBackend.Close()
	storages.Register("sqlite", sqliteBackend)
	storages.Register("file", storage.NewFile(logger))

	adapters := adapter.NewRegistry(logger)
	adapters.Register("webhook", adapter.NewWebhookFactory(recordStore, queues, logger))

	distributor := pipeline.NewDistributor(recordStore, adapters, logger)
	if err := distributor.Apply(ctx, doc); err != nil {
		return fmt.Errorf("distribute config: %w", err)
	}
	if err := distributor.StartAdapters(ctx, doc); err != nil {
		return fmt.Errorf("start adapters: %w", err)
	}

	executor := pipeline.NewExecutor(recordStore, links, logger)
	runner := pipeline.NewRunner(executor, recordStore, queues, pipeline.RetryPolicy{
		MaxAttempts: doc.Settings.RetryMaxAttempts,
		Backoff:     doc.Settings.RetryBackoff,
		Base:        doc.Settings.RetryBase(),
	}, doc.Settings.DLQTTL(), m, logger)

	var wg sync.WaitGroup
	for _, chain := range doc.Chains {
		if !chain.Enabled {
			logger.Info("chain disabled, skipping", "chain", chain.Name)
			continue
		}
		workers := chain.Workers
		if workers <= 0 {
			workers = 1
		}
		for _, ingress := range chain.IngressLists {
			for i := 0; i < workers; i++ {
				w := pipeline.NewWorker(pipeline.WorkerConfig{
					Chain:      chain,
					Ingress:    ingress,
					Runner:     runner,
					Store:      recordStore,
					Queue:      queues,
					Storages:   storages,
					PopTimeout: doc.Settings.PopTimeout(),
					Metrics:    m,
					Logger:     logger,
				})
				wg.Add(1)
				go func() {
					defer wg.Done()
					w.Run(ctx)
				}()
			}
		}
	}

	for _, target := range doc.Settings.Followers {
		f := pipeline.NewFollower(target, recordStore, queues, httpClient,
			doc.Settings.TickInterval(), m, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.Run(ctx)
		}()
	}

	janitor := pipeline.NewJanitor(recordStore,
		time.Duration(doc.Settings.SweepIntervalSeconds)*time.Second, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		janitor.Run(ctx)
	}()

	if doc.Settings.API.Enabled {
		server := api.NewServer(api.Config{
			Host:   doc.Settings.API.Host,
			Port:   doc.Settings.API.Port,
			Token:  doc.Settings.API.Token,
			Store:  recordStore,
			Queue:  queues,
			Logger: logger,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Start(ctx); err != nil {
				logger.Error("api server failed", "error", err)
				stop()
			}
		}()
	}

	logger.Info("vconserver running", "chains", len(doc.Chains), "followers", len(doc.Settings.Followers))
	<-ctx.Done()
	logger.Info("shutting down")
	wg.Wait()
	return nil
}

// exportFromStore opens the configured database and rebuilds the
// configuration document from its namespaced keys.
func exportFromStore(cfgPath string) (*config.Document, error) {
	doc, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open(config.ExpandPath(doc.Settings.DBPath))
	if err != nil {
		return nil, err
	}
	defer db.Close()

	recordStore, err := store.New(db, doc.Settings.DefaultTTL(), logger)
	if err != nil {
		return nil, err
	}
	adapters := adapter.NewRegistry(logger)
	distributor := pipeline.NewDistributor(recordStore, adapters, logger)
	return distributor.Export(context.Background())
}
