package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/syncproxy/config"
	"github.com/angeloszaimis/syncproxy/internal/backend"
	"github.com/angeloszaimis/syncproxy/internal/handler"
	"github.com/angeloszaimis/syncproxy/internal/httpserver"
	"github.com/angeloszaimis/syncproxy/internal/metrics"
	"github.com/angeloszaimis/syncproxy/internal/supervisor"
	"github.com/angeloszaimis/syncproxy/internal/syncgate"
	"github.com/angeloszaimis/syncproxy/internal/watchdog"
	"github.com/angeloszaimis/syncproxy/pkg/logger"
)

const metricsBufferSize = 1024

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Proxy stopped with error", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	durations, err := cfg.ParseDurations()
	if err != nil {
		return fmt.Errorf("invalid duration in config: %w", err)
	}

	collector := metrics.NewCollector(metricsBufferSize, log)
	collector.Start(ctx)

	sup := supervisor.New(log, supervisor.Config{
		Command:    cfg.Backend.Command,
		Host:       cfg.Backend.Host,
		Port:       cfg.Backend.Port,
		ContentDir: cfg.Backend.ContentDir,
		StopGrace:  durations.StopGrace,
	}, collector)
	defer func() {
		if err := sup.Shutdown(); err != nil {
			log.Error("Failed to stop backend", slog.Any("err", err))
		}
	}()

	if err := sup.Start(); err != nil {
		log.Error("Failed to start backend, watchdog will retry", slog.Any("err", err))
	}

	syncer, err := createSyncer(cfg.Sync)
	if err != nil {
		return err
	}
	gate := syncgate.New(log, syncer, sup, durations.SyncMinInterval, durations.SyncTimeout, collector)

	target := backend.New(backendURL(cfg.Backend.Port), backend.Options{
		MaxAttempts:    cfg.Proxy.MaxAttempts,
		RetryDelay:     durations.RetryDelay,
		AttemptTimeout: durations.AttemptTimeout,
	}, log)

	forwardHandler := handler.NewForwardHandler(log, gate, target, cfg.Proxy.MaxBodyBytes, collector)

	srv, err := httpserver.New("proxy", cfg.Server.Address, forwardHandler, log,
		httpserver.WithReadTimeout(0),
		httpserver.WithWriteTimeout(requestBudget(durations, cfg.Proxy.MaxAttempts)))
	if err != nil {
		return fmt.Errorf("failed to create proxy server: %w", err)
	}

	servers := []*httpserver.Server{srv}

	if cfg.Admin.Address != "" {
		admin, err := httpserver.New("admin", cfg.Admin.Address, setupAdminRouter(collector, sup), log)
		if err != nil {
			return fmt.Errorf("failed to create admin server: %w", err)
		}
		servers = append(servers, admin)
	}

	group, groupCtx := errgroup.WithContext(ctx)

	for _, s := range servers {
		group.Go(s.Start)
		group.Go(func() error {
			<-groupCtx.Done()
			return s.Shutdown(context.Background())
		})
	}

	group.Go(func() error {
		watchdog.Run(groupCtx, sup, durations.WatchdogInterval, log)
		return nil
	})

	log.Info("Proxy started",
		slog.String("addr", cfg.Server.Address),
		slog.String("backend", target.URL().String()),
		slog.String("sync_driver", cfg.Sync.Driver))

	err = group.Wait()
	log.Info("Shutting down gracefully...")
	return err
}

func createSyncer(cfg config.SyncConfig) (syncgate.Syncer, error) {
	switch cfg.Driver {
	case config.SyncDriverExec:
		return syncgate.NewCommandSyncer(cfg.RepoPath, cfg.Command, cfg.UpToDateMarkers), nil
	case config.SyncDriverGoGit:
		return syncgate.NewRepositorySyncer(cfg.RepoPath, cfg.Remote), nil
	default:
		return nil, fmt.Errorf("%w: %q", syncgate.ErrUnknownDriver, cfg.Driver)
	}
}

// backendURL targets the loopback interface whatever address the backend
// binds, since the backend always runs on this host.
func backendURL(port int) *url.URL {
	return &url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort("localhost", strconv.Itoa(port)),
	}
}

// requestBudget bounds how long one proxied request may take: a sync, a
// restart, then every delivery attempt with the delays between them.
func requestBudget(d config.Durations, maxAttempts int) time.Duration {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	budget := d.SyncTimeout + d.StopGrace
	budget += time.Duration(maxAttempts) * d.AttemptTimeout
	budget += time.Duration(maxAttempts-1) * d.RetryDelay

	return budget
}
