package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/angeloszaimis/prefix-proxy/config"
	"github.com/angeloszaimis/prefix-proxy/internal/circuitbreaker"
	"github.com/angeloszaimis/prefix-proxy/internal/connector"
	"github.com/angeloszaimis/prefix-proxy/internal/handler"
	"github.com/angeloszaimis/prefix-proxy/internal/httpserver"
	"github.com/angeloszaimis/prefix-proxy/internal/metrics"
	"github.com/angeloszaimis/prefix-proxy/internal/pipeline"
	"github.com/angeloszaimis/prefix-proxy/internal/routetable"
	"github.com/angeloszaimis/prefix-proxy/pkg/logger"
)

const metricsEventBuffer = 1024

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	table, err := buildTable(cfg)
	if err != nil {
		log.Error("Failed to build route table", slog.Any("err", err))
		os.Exit(1)
	}
	tables := routetable.NewHolder(table)

	d, err := parseDurations(cfg)
	if err != nil {
		log.Error("Failed to parse configured durations", slog.Any("err", err))
		os.Exit(1)
	}

	breakers := circuitbreaker.NewRegistry(cfg.Breaker.Threshold, d.breakerReset)

	conn := connector.New(connector.Config{
		ConnectTimeout:   d.connect,
		PoolEnabled:      cfg.Pool.Enabled,
		MaxIdlePerTarget: cfg.Pool.MaxIdlePerTarget,
		IdleLifetime:     d.idleLifetime,
	}, breakers, log)
	defer conn.Close()

	collector := metrics.NewCollector(metricsEventBuffer, log)
	collector.Start(ctx)

	fwd := pipeline.New(tables, conn, pipeline.Config{
		IdleReadTimeout: d.idleRead,
		TotalTimeout:    d.total,
	}, log)

	proxyHandler := handler.NewProxyHandler(log, fwd, collector)

	srv, err := httpserver.New(cfg.Server.Address, setupRouter(proxyHandler, collector))
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	config.Watch(log, func(newCfg *config.Config) {
		newTable, err := buildTable(newCfg)
		if err != nil {
			log.Error("Reload rejected: route table build failed", slog.Any("err", err))
			return
		}
		tables.Swap(newTable)
		log.Info("Route table reloaded", slog.Int("routes", newTable.Len()))
	})

	srvErrCh := make(chan error, 1)

	go func() {
		srvErrCh <- srv.Start()
	}()

	log.Info("Proxy started",
		slog.String("address", cfg.Server.Address),
		slog.Int("routes", table.Len()))

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error starting proxy", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

func buildTable(cfg *config.Config) (*routetable.Table, error) {
	entries := make([]routetable.Entry, 0, len(cfg.Routes))

	for _, route := range cfg.Routes {
		entries = append(entries, routetable.Entry{
			Prefix:      route.Prefix,
			Addr:        route.Addr,
			StripPrefix: route.StripPrefix,
		})
	}

	return routetable.BuildEntries(entries)
}

type durations struct {
	connect      time.Duration
	idleRead     time.Duration
	total        time.Duration
	idleLifetime time.Duration
	breakerReset time.Duration
}

func parseDurations(cfg *config.Config) (durations, error) {
	var d durations
	var err error

	if d.connect, err = time.ParseDuration(cfg.Timeouts.Connect); err != nil {
		return d, err
	}
	if d.idleRead, err = time.ParseDuration(cfg.Timeouts.IdleRead); err != nil {
		return d, err
	}
	if d.total, err = time.ParseDuration(cfg.Timeouts.Total); err != nil {
		return d, err
	}
	if d.idleLifetime, err = time.ParseDuration(cfg.Pool.IdleLifetime); err != nil {
		return d, err
	}
	if d.breakerReset, err = time.ParseDuration(cfg.Breaker.ResetTimeout); err != nil {
		return d, err
	}

	return d, nil
}
