package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gogama/reconnx"

	"github.com/angeloszaimis/balancir/config"
	"github.com/angeloszaimis/balancir/internal/connector"
	"github.com/angeloszaimis/balancir/internal/distributor"
	"github.com/angeloszaimis/balancir/internal/handler"
	"github.com/angeloszaimis/balancir/internal/httpserver"
	"github.com/angeloszaimis/balancir/internal/metrics"
	"github.com/angeloszaimis/balancir/internal/monitor"
	"github.com/angeloszaimis/balancir/internal/strategy"
	"github.com/angeloszaimis/balancir/pkg/logger"
)

const (
	metricsBufferSize = 1000
	shutdownTimeout   = 10 * time.Second
)

var errNoBackends = errors.New("no usable backends configured")

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	collector := metrics.NewCollector(metricsBufferSize, logger.Component(log, "metrics"))
	collector.Start(ctx)

	dist, mon, err := buildBalancer(cfg, log, collector)
	if err != nil {
		log.Error("Failed to build balancer", slog.Any("err", err))
		os.Exit(1)
	}

	mon.Start(ctx)
	defer mon.Stop()

	router := setupRouter(
		handler.NewLoadBalancerHandler(logger.Component(log, "handler"), dist),
		handler.NewAdminHandler(logger.Component(log, "admin"), mon, dist),
		collector,
		cfg.Strategy.Type,
	)

	srv, err := httpserver.New(cfg.Server.Address, router, httpserver.Options{})
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)

	go func() {
		log.Info("Load balancer listening",
			slog.String("address", srv.Addr()),
			slog.String("strategy", cfg.Strategy.Type))
		srvErrCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error starting load balancer", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

// buildBalancer wires the distributor and monitor together and registers
// every configured backend. collector may be nil.
func buildBalancer(cfg *config.Config, log *slog.Logger, collector *metrics.Collector) (*distributor.Distributor, *monitor.ConnectionMonitor, error) {
	strat, err := strategy.New(cfg.Strategy.Type)
	if err != nil {
		return nil, nil, err
	}

	dist := distributor.New(strat, logger.Component(log, "distributor"))

	mon, err := monitor.New(dist, monitorConfig(cfg), logger.Component(log, "monitor"))
	if err != nil {
		return nil, nil, fmt.Errorf("monitor: %w", err)
	}
	dist.SetTracker(mon)

	if collector != nil {
		dist.SetCollector(collector)
		mon.SetCollector(collector)
	}

	connectors, err := initializeConnectors(cfg, log)
	if err != nil {
		return nil, nil, err
	}

	for i, c := range connectors {
		if err := dist.AddConnector(c, cfg.Backends[i].Weight); err != nil {
			return nil, nil, fmt.Errorf("backend %s: %w", c.ID(), err)
		}
	}

	return dist, mon, nil
}

// initializeConnectors builds one HTTP connector per backend, all sharing a
// single client. Any unparsable URL fails the whole set.
func initializeConnectors(cfg *config.Config, log *slog.Logger) ([]*connector.HTTPConnector, error) {
	client := connector.NewClient(connector.ClientOptions{
		Timeout: cfg.ClientTimeout(),
		Retry:   cfg.Client.Retry,
		Latency: latencyConfig(cfg.Client.Latency),
		Logger:  logger.Component(log, "reconnx"),
	})

	connectors := make([]*connector.HTTPConnector, 0, len(cfg.Backends))

	for _, b := range cfg.Backends {
		u, err := url.Parse(b.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			log.Error("Failed to parse URL", slog.String("url", b.URL))
			return nil, fmt.Errorf("backend %q: invalid url", b.URL)
		}
		connectors = append(connectors, connector.NewHTTP(u, client))
	}

	if len(connectors) == 0 {
		return nil, errNoBackends
	}

	return connectors, nil
}

func monitorConfig(cfg *config.Config) monitor.Config {
	return monitor.Config{
		PollingInterval: cfg.PollingInterval(),
		PingPath:        cfg.Monitor.PingPath,
		Threshold: monitor.Threshold{
			RequiredSuccesses: cfg.Monitor.ReviveThreshold.RequiredSuccesses,
			WindowSize:        cfg.Monitor.ReviveThreshold.WindowSize,
		},
		DefaultWeight:       cfg.Monitor.DefaultWeight,
		MaxConcurrentProbes: cfg.Monitor.MaxConcurrentProbes,
	}
}

func latencyConfig(l config.LatencyConfig) reconnx.MachineConfig {
	return reconnx.MachineConfig{
		HistoryLen:    l.HistoryLen,
		RecentLen:     l.RecentLen,
		AbsoluteMax:   l.AbsoluteMax,
		PercentMax:    l.PercentMax,
		ClosingStreak: l.ClosingStreak,
		ClosingMax:    l.ClosingMax,
		RestingMax:    l.RestingMax,
	}
}
