package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Mindburn-Labs/tracker-postaction/pkg/api"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/artifacts"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/bus"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/catalog"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/config"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/executor"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/observability"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/postaction/builtin"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/runtime/sandbox"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/trigger"
)

const shutdownTimeout = 15 * time.Second

func runServer(stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: invalid configuration:\n%v\n", err)
		return 2
	}
	logger := newLogger(cfg, os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		return 1
	}
	return 0
}

// deps is everything serve and eval share.
type deps struct {
	catalog   api.CatalogSource
	watcher   *catalog.Watcher
	executor  *executor.Executor
	sandbox   *sandbox.WASISandbox
	telemetry *observability.Provider
}

func (d *deps) close(ctx context.Context) {
	if d.sandbox != nil {
		_ = d.sandbox.Close(ctx)
	}
	if d.telemetry != nil {
		_ = d.telemetry.Shutdown(ctx)
	}
}

// buildDeps wires catalog, sandbox and executor. A missing catalog file
// falls back to the built-in default catalog unless watch is requested.
func buildDeps(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*deps, error) {
	d := &deps{}
	tel, err := observability.New(ctx, cfg.Observability(version), logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	d.telemetry = tel

	reg := builtin.Registry()
	ev, err := trigger.NewEvaluator()
	if err != nil {
		return nil, err
	}
	chk := catalog.Checker{Builtins: reg, Conditions: ev}

	switch _, statErr := os.Stat(cfg.CatalogPath); {
	case cfg.CatalogWatch:
		w, err := catalog.NewWatcher(cfg.CatalogPath, chk, logger)
		if err != nil {
			return nil, err
		}
		d.watcher = w
		d.catalog = w
	case errors.Is(statErr, os.ErrNotExist):
		logger.Warn("catalog file not found, serving built-in defaults", "path", cfg.CatalogPath)
		d.catalog = api.StaticCatalog{Catalog: catalog.Default(reg)}
	default:
		c, err := catalog.LoadFile(cfg.CatalogPath, chk)
		if err != nil {
			return nil, err
		}
		d.catalog = api.StaticCatalog{Catalog: c}
	}

	store, err := artifacts.NewStore(ctx, cfg.ModuleStore)
	if err != nil {
		return nil, fmt.Errorf("module store: %w", err)
	}
	d.sandbox = sandbox.NewWASISandbox(store, cfg.Sandbox(), logger)

	d.executor, err = executor.New(executor.Options{
		Builtins:  reg,
		Runner:    d.sandbox,
		Trigger:   ev,
		Telemetry: tel,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	d, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		d.close(shutdownCtx)
	}()

	if d.watcher != nil {
		go func() {
			if err := d.watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("catalog watcher stopped", "error", err)
			}
		}()
	}

	var limiter api.LimiterStore
	if cfg.RedisAddr != "" {
		limiter = api.NewRedisLimiterStore(cfg.RedisAddr, cfg.RedisPassword, 0)
		logger.Info("rate limiter: redis", "addr", cfg.RedisAddr)
	} else {
		mem := api.NewMemoryLimiterStore(0)
		go mem.RunSweeper(ctx)
		limiter = mem
	}
	if cfg.AuthDisabled {
		logger.Warn("authentication disabled")
	}

	srv := api.NewServer(api.ServerOptions{
		Catalog:      d.catalog,
		Evaluator:    d.executor,
		Logger:       logger,
		Limiter:      limiter,
		Policy:       api.RatePolicy{RPS: cfg.RateLimitRPS, Burst: cfg.RateLimitBurst},
		Validator:    api.NewJWTValidator(cfg.JWTSecret),
		AuthDisabled: cfg.AuthDisabled,
		Version:      version,
	})

	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("postactiond"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()
		svc := bus.NewService(d.catalog, d.executor, bus.Options{
			Queue:   cfg.NATSQueue,
			Timeout: cfg.SandboxTimeout * 2,
			Logger:  logger,
		})
		if err := svc.Start(nc); err != nil {
			return err
		}
		defer func() { _ = svc.Stop() }()
	}

	httpSrv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           srv,
		ReadHeaderTimeout: api.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", httpSrv.Addr, "version", version)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
