// Command syncd runs the synchronization broker: it loads configuration,
// opens the configured storage backend, and serves the engine's
// Prometheus metrics until told to stop. The publish/fetch/ack/fail/sync
// operations themselves are exposed through internal/engine.Engine, which
// callers embed directly — syncd has no built-in transport (spec §1).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/syncbroker/syncd/internal/config"
	"github.com/syncbroker/syncd/internal/engine"
	"github.com/syncbroker/syncd/internal/idgen"
	"github.com/syncbroker/syncd/internal/logging"
	"github.com/syncbroker/syncd/internal/metrics"
	"github.com/syncbroker/syncd/internal/store"
	"github.com/syncbroker/syncd/internal/store/docstore"
	"github.com/syncbroker/syncd/internal/store/sqlstore"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
)

func main() {
	configFile := ""
	for i, arg := range os.Args[1:] {
		if arg == "-config" || arg == "--config" {
			if i+2 < len(os.Args) {
				configFile = os.Args[i+2]
			}
		}
	}

	if err := run(configFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logging.Setup(cfg.LogLevel)
	log.WithFields(logrus.Fields{"version": version, "commit": commit}).Info("starting syncd")

	st, err := openStore(cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("failed to open storage backend: %w", err)
	}
	defer st.Close()

	m := metrics.New()
	// The engine has no transport of its own (spec §1): syncd's job ends
	// at constructing it over the configured backend and exposing its
	// metrics. A transport adapter embeds engine.New the same way.
	engine.New(st, idgen.New(), engine.WithLogger(log.WithField("component", "engine")), engine.WithMetrics(m))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
		log.Info("received shutdown signal")
		cancel()
	}()

	return serveMetrics(ctx, cfg.MetricsAddr, m, log)
}

func openStore(cfg config.StorageConfig, log *logrus.Logger) (store.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return store.NewMemStore(), nil
	case "sqlite":
		return sqlstore.Open(cfg.DSN, log)
	case "badger":
		return docstore.Open(docstore.Options{DataDir: cfg.DSN, Logger: log})
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics, log *logrus.Logger) error {
	if addr == "" {
		<-ctx.Done()
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("serving metrics")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	}
}
