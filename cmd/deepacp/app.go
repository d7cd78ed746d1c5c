package main

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/m4xw311/deepacp/agent/acp"
	"github.com/m4xw311/deepacp/checkpoint"
	"github.com/m4xw311/deepacp/config"
	"github.com/m4xw311/deepacp/errors"
	"github.com/m4xw311/deepacp/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// app holds what every subcommand shares: configuration, logging, the
// checkpoint store and the metrics registry.
type app struct {
	cfg         *config.Config
	logger      *zap.Logger
	checkpoints checkpoint.Store
	factory     acp.EngineFactory
	registry    *prometheus.Registry
	metrics     *acp.Metrics
	metricsAddr string
}

func wireApp(v *viper.Viper) (*app, error) {
	logPath := v.GetString(keyLogFile)
	if logPath == "" && v.GetBool(keyTrace) {
		logPath = logging.DefaultTraceFile
	}
	logger, err := logging.New(logPath, v.GetBool(keyTrace))
	if err != nil {
		return nil, err
	}

	var cfg *config.Config
	if path := v.GetString(keyConfig); path != "" {
		cfg, err = config.LoadConfigFile(path)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return nil, err
	}

	store, err := checkpoint.Open(cfg.Checkpoint.Backend, cfg.Checkpoint.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening checkpoint store")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	logger.Info("deepacp starting",
		zap.String("version", version),
		zap.Int("agents", len(cfg.Agents)),
		zap.String("checkpoint_backend", cfg.Checkpoint.Backend))

	return &app{
		cfg:         cfg,
		logger:      logger,
		checkpoints: store,
		factory:     acp.DefaultEngineFactory(cfg, store, logger),
		registry:    registry,
		metrics:     acp.NewMetrics(registry),
		metricsAddr: v.GetString(keyMetricsAddr),
	}, nil
}

// newServer builds a Server for one client connection.
func (a *app) newServer() *acp.Server {
	return acp.NewServer(acp.Options{
		Config:      a.cfg,
		Factory:     a.factory,
		Checkpoints: a.checkpoints,
		Logger:      a.logger,
		Metrics:     a.metrics,
		Version:     version,
	})
}

// run executes fn next to the metrics endpoint. The endpoint is shut down
// once fn returns.
func (a *app) run(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if a.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
		a.serveHTTP(ctx, g, &http.Server{Addr: a.metricsAddr, Handler: mux}, "metrics")
	}

	g.Go(func() error {
		defer cancel()
		return fn(ctx)
	})
	return g.Wait()
}

// serveHTTP runs srv in g until ctx is done.
func (a *app) serveHTTP(ctx context.Context, g *errgroup.Group, srv *http.Server, name string) {
	g.Go(func() error {
		a.logger.Info("http listener started", zap.String("listener", name), zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.Wrapf(err, "%s listener", name)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func (a *app) Close() error {
	var result *multierror.Error
	if err := a.checkpoints.Close(); err != nil {
		result = multierror.Append(result, errors.Wrapf(err, "closing checkpoint store"))
	}
	_ = a.logger.Sync()
	return result.ErrorOrNil()
}
