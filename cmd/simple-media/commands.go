package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/api"
	"github.com/tendant/simple-media/pkg/simplemedia/config"
	"github.com/tendant/simple-media/pkg/simplemedia/engine"
	"github.com/tendant/simple-media/pkg/simplemedia/lease"
	"github.com/tendant/simple-media/pkg/simplemedia/metrics"
	"github.com/tendant/simple-media/pkg/simplemedia/objectkey"
	"github.com/tendant/simple-media/pkg/simplemedia/pipeline"
	"github.com/tendant/simple-media/pkg/simplemedia/queue"
	"github.com/tendant/simple-media/pkg/simplemedia/scheduler"
	"github.com/tendant/simple-media/pkg/simplemedia/transcode"
	"github.com/tendant/simple-media/pkg/simplemedia/upload"
)

const shutdownTimeout = 10 * time.Second

// runtime holds everything built from the configuration.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	repo     simplemedia.Repository
	store    simplemedia.ObjectStore
	lease    lease.Lease
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	closers  []func()
}

func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger}

	repo, closeRepo, err := cfg.BuildRepository(ctx)
	if err != nil {
		return nil, fmt.Errorf("build repository: %w", err)
	}
	rt.repo = repo
	rt.closers = append(rt.closers, closeRepo)

	store, err := cfg.BuildObjectStore(ctx)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("build object store: %w", err)
	}
	rt.store = store

	l, closeLease, err := cfg.BuildLease()
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("build lease: %w", err)
	}
	rt.lease = l
	rt.closers = append(rt.closers, closeLease)

	if cfg.Metrics.Enabled {
		rt.registry = prometheus.NewRegistry()
		rt.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m, err := metrics.New(rt.registry)
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		rt.metrics = m
	}
	return rt, nil
}

func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

func (rt *runtime) engine() (*engine.Engine, error) {
	categories, err := rt.cfg.Categories()
	if err != nil {
		return nil, err
	}
	p := rt.cfg.Pipeline
	handlers := pipeline.DefaultRegistry(rt.repo, transcode.NewCommandRunner(), rt.cfg.TranscodeSettings())
	return engine.New(rt.repo, rt.store, handlers, engine.Options{
		Workers:       p.Workers,
		QueueCapacity: p.QueueCapacity,
		BatchSize:     p.BatchSize,
		PollInterval:  p.PollInterval,
		InitialDelay:  p.InitialDelay,
		WorkerPause:   p.WorkerPause,
		Categories:    categories,
		StagingRoot:   p.StagingRoot,
		Keys:          objectkey.NewDefaultGenerator(),
		Lease:         rt.lease,
		Metrics:       rt.metrics,
		Logger:        rt.logger,
	}), nil
}

func (rt *runtime) router() http.Handler {
	coordinator := upload.NewCoordinator(rt.store,
		upload.WithPresignExpiry(rt.cfg.Upload.PresignExpiry),
		upload.WithMetrics(rt.metrics),
		upload.WithLogger(rt.logger),
	)
	uploads := upload.NewService(rt.repo, rt.store, coordinator,
		upload.WithChunkSize(rt.cfg.Upload.ChunkSize),
		upload.WithMaxUploadSize(rt.cfg.Upload.MaxSize),
		upload.WithServiceLogger(rt.logger),
	)

	opts := api.Options{Logger: rt.logger, Checks: map[string]api.ReadinessCheck{}}
	if pinger, ok := rt.repo.(interface{ Ping(context.Context) error }); ok {
		opts.Checks["database"] = pinger.Ping
	}
	if rt.registry != nil {
		opts.Metrics = promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{})
	}
	return api.NewRouter(rt.repo, uploads, opts)
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	var noEngine bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run the transcode engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			rt, err := build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer rt.close()

			var eng *engine.Engine
			if !noEngine {
				if eng, err = rt.engine(); err != nil {
					return err
				}
			}

			server := &http.Server{
				Addr:              ":" + cfg.Server.Port,
				Handler:           rt.router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logger.Info("http server starting", "port", cfg.Server.Port, "storage_backend", cfg.Storage.Backend)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				logger.Info("shutting down http server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			})
			if eng != nil {
				g.Go(func() error { return eng.Run(gctx) })
			}
			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&noEngine, "no-engine", false, "serve the API only")
	return cmd
}

func newWorkerCmd(flags *rootFlags) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the scheduler and the transcode workers without the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			rt, err := build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer rt.close()

			eng, err := rt.engine()
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			if rt.registry != nil && metricsAddr != "" {
				server := &http.Server{
					Addr:              metricsAddr,
					Handler:           promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}),
					ReadHeaderTimeout: 10 * time.Second,
				}
				g.Go(func() error {
					if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return fmt.Errorf("metrics server: %w", err)
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
					defer cancel()
					return server.Shutdown(shutdownCtx)
				})
			}
			g.Go(func() error { return eng.Run(gctx) })
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address for the /metrics listener (empty disables)")
	return cmd
}

func newScanCmd(flags *rootFlags) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one scheduler pass and print what it found",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			rt, err := build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer rt.close()

			categories, err := cfg.Categories()
			if err != nil {
				return err
			}
			// the pass never blocks on a full queue
			q := queue.New(cfg.Pipeline.BatchSize*len(categories), queue.WithMetrics(rt.metrics))
			s := scheduler.New(rt.repo, q, scheduler.Options{
				Categories: categories,
				BatchSize:  cfg.Pipeline.BatchSize,
				Lease:      rt.lease,
				DryRun:     dryRun,
				Logger:     logger,
			})
			result, err := s.RunOnce(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list eligible items without enqueueing them")
	return cmd
}

func newSweepCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove leftover staging directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			if err := pipeline.SweepStaging(cfg.Pipeline.StagingRoot); err != nil {
				return err
			}
			logger.Info("staging swept", "staging_root", cfg.Pipeline.StagingRoot)
			fmt.Fprintln(cmd.OutOrStdout(), "swept", cfg.Pipeline.StagingRoot)
			return nil
		},
	}
}
