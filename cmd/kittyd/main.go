package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kitties/pkg/config"
	"kitties/pkg/events"
	"kitties/pkg/metrics"
	"kitties/pkg/randomness"
	"kitties/pkg/rpc"
	"kitties/pkg/runtime"
	"kitties/pkg/staterepository"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config-path", "", "Path to a JSON configuration file")
	dataPath := flag.String("data-path", "", "Path to the data directory (empty keeps state in memory)")
	socketPath := flag.String("socket", "", "Unix socket to serve on")
	quicAddr := flag.String("quic-addr", "", "UDP address to serve QUIC on")
	metricsAddr := flag.String("metrics-addr", "", "HTTP address to serve metrics on")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		config.Exitf("Failed to load config: %v", err)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "data-path":
			cfg.DataPath = *dataPath
		case "socket":
			cfg.SocketPath = *socketPath
		case "quic-addr":
			cfg.QUICAddr = *quicAddr
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
	if err := cfg.Validate(); err != nil {
		config.Exitf("Invalid config: %v", err)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		config.Exitf("Failed to build logger: %v", err)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("kittyd stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	var (
		repo *staterepository.PebbleStateRepository
		err  error
	)
	if cfg.DataPath == "" {
		logger.Warn("no data path configured, state is kept in memory")
		repo, err = staterepository.NewMemoryStateRepository()
	} else {
		repo, err = staterepository.NewPebbleStateRepository(cfg.DataPath)
	}
	if err != nil {
		return err
	}
	defer repo.Close()

	seed, err := cfg.Seed()
	if err != nil {
		return err
	}
	source, err := randomness.NewSource(cfg.RandomnessMode, seed)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	rt := runtime.New(repo, source,
		runtime.WithLogger(logger),
		runtime.WithMetrics(metrics.New(reg)),
		runtime.WithEmitter(events.LogEmitter{Logger: logger}),
	)
	server := rpc.NewServer(rt, logger)

	g, ctx := errgroup.WithContext(ctx)

	if cfg.SocketPath != "" {
		g.Go(func() error {
			return server.ServeUnix(ctx, cfg.SocketPath)
		})
	}

	if cfg.QUICAddr != "" {
		key, err := cfg.NodeKey()
		if err != nil {
			return err
		}
		g.Go(func() error {
			return server.ServeQUIC(ctx, cfg.QUICAddr, key)
		})
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		httpServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			logger.Info("serving metrics", "addr", cfg.MetricsAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}
