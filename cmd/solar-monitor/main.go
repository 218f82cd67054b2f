package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"

	httpapi "github.com/i474232898/solar-monitor/internal/api/http"
	"github.com/i474232898/solar-monitor/internal/config"
	"github.com/i474232898/solar-monitor/internal/metrics"
	"github.com/i474232898/solar-monitor/internal/scheduler"
	"github.com/i474232898/solar-monitor/internal/sink"
	"github.com/i474232898/solar-monitor/internal/store"
	"github.com/i474232898/solar-monitor/internal/telemetry"
	"github.com/i474232898/solar-monitor/internal/telemetry/sources"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "solar-monitor: %v\n", err)
		os.Exit(1)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.AppConfig, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srcs, err := buildSources(cfg)
	if err != nil {
		return err
	}

	out, err := openSink(ctx, cfg, srcs, log)
	if err != nil {
		for _, src := range srcs {
			if c, ok := src.(io.Closer); ok {
				_ = c.Close()
			}
		}
		return err
	}

	// In-memory cycle history with configured retention.
	history := store.NewMemoryStore(cfg.History, cfg.HistoryAge)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	poller := telemetry.NewPoller(srcs, out,
		telemetry.WithSeparator(cfg.Separator),
		telemetry.WithLogger(log),
		telemetry.WithObservers(history, m),
	)
	defer func() {
		if err := poller.Close(); err != nil {
			log.Warn("error closing poller", "error", err)
		}
	}()

	if cfg.Listen != "" {
		app := newApp(history, registry)
		go func() {
			if err := app.Listen(cfg.Listen); err != nil {
				log.Error("status api stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := app.ShutdownWithContext(shutdownCtx); err != nil {
				log.Warn("error during shutdown", "error", err)
			}
		}()
		log.Info("status api listening", "addr", cfg.Listen)
	}

	log.Info("starting poll loop",
		"interval", cfg.Interval,
		"sink", cfg.Sink,
		"sources", len(srcs),
	)
	if err := scheduler.New(cfg.Interval, poller, log).Run(ctx); err != nil {
		return err
	}
	log.Info("stopped by user")
	return nil
}

func buildSources(cfg *config.AppConfig) ([]telemetry.Source, error) {
	var srcs []telemetry.Source

	if cfg.Device.Enabled {
		regs, err := registerMap(cfg.Device.Registers)
		if err != nil {
			return nil, err
		}
		srcs = append(srcs, sources.NewModbus(sources.ModbusConfig{
			Host:     cfg.Device.Host,
			Port:     cfg.Device.Port,
			DeviceID: byte(cfg.Device.ID),
			Timeout:  cfg.Device.Timeout,
			Map:      regs,
		}))
	}

	if cfg.Weather.Enabled {
		// Shared HTTP client for outbound weather calls.
		httpClient := &http.Client{Timeout: cfg.Weather.HTTPTimeout}
		srcs = append(srcs, sources.NewOpenMeteo(httpClient, sources.OpenMeteoConfig{
			Latitude:  cfg.Weather.Latitude,
			Longitude: cfg.Weather.Longitude,
			Timezone:  cfg.Weather.Timezone,
			Variables: cfg.Weather.Variables,
			CacheTTL:  cfg.Weather.CacheTTL,
		}))
	}

	return srcs, nil
}

func registerMap(path string) (sources.RegisterMap, error) {
	if path == "" {
		return sources.DefaultRegisterMap()
	}
	return sources.LoadRegisterMap(path)
}

func openSink(ctx context.Context, cfg *config.AppConfig, srcs []telemetry.Source, log *slog.Logger) (telemetry.Sink, error) {
	switch cfg.Sink {
	case config.SinkInflux:
		return sink.OpenInflux(sink.InfluxConfig{
			Host:        cfg.Influx.Host,
			Port:        cfg.Influx.Port,
			Username:    cfg.Influx.User,
			Password:    cfg.Influx.Password,
			Database:    cfg.Influx.Database,
			Measurement: cfg.Influx.Measurement,
			Tags:        cfg.Influx.Tags,
			Timeout:     cfg.Influx.Timeout,
		}, log)
	default:
		bootstrap := func(ctx context.Context) (telemetry.FlatRecord, error) {
			rec, statuses := telemetry.Collect(ctx, srcs, cfg.Separator)
			available := telemetry.AvailableSources(statuses)
			log.Info("initial reading for CSV header", "available", available, "fields", rec.Len())
			if len(available) == 0 {
				errs := make([]error, 0, len(statuses))
				for _, st := range statuses {
					errs = append(errs, st.Err)
				}
				return telemetry.FlatRecord{}, errors.Join(errs...)
			}
			return rec, nil
		}
		return sink.OpenCSV(ctx, cfg.Output, bootstrap, log)
	}
}

func newApp(history httpapi.History, gatherer prometheus.Gatherer) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "solar-monitor",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "solar-monitor",
		})
	})

	httpapi.RegisterRoutes(app, history, gatherer)
	return app
}
