package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"gatepass/internal/alert"
	"gatepass/internal/crowd/aggregator"
	"gatepass/internal/pass/codec"
	"gatepass/internal/pass/payment"
	"gatepass/internal/pass/penalty"
	"gatepass/internal/pass/registry"
	"gatepass/internal/pass/registry/metrics"
	"gatepass/internal/pass/store"
	"gatepass/internal/platform/config"
	"gatepass/internal/platform/httpserver"
	"gatepass/internal/platform/kafka"
	"gatepass/internal/platform/logger"
	"gatepass/internal/platform/otel"
	"gatepass/internal/platform/redis"
	"gatepass/internal/platform/scheduler"
	"gatepass/internal/sensor/ingest"
	httptransport "gatepass/internal/transport/http"
	"gatepass/pkg/clock"
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal packages; everything here is construction order and
// shutdown order.
func main() {
	cfg := config.FromEnv()
	log := logger.New(logger.Config{
		Level:   cfg.Server.LogLevel,
		Service: "gatepass",
	})

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Setup(ctx, "gatepass", cfg.Otel.Endpoint)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("trace flush failed", "error", err)
		}
	}()

	clk := clock.NewSystem()
	reg := prometheus.DefaultRegisterer

	// Persistence. No DSN means in-memory, which is enough for one gate
	// station or local development.
	var (
		passes    store.PassStore
		penalties store.PenaltyStore
	)
	if cfg.Postgres.DSN != "" {
		db, err := store.Open(ctx, cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer db.Close()
		if err := store.EnsureSchema(ctx, db); err != nil {
			return fmt.Errorf("postgres schema: %w", err)
		}
		passes = store.NewPostgresPassStore(db)
		penalties = store.NewPostgresPenaltyStore(db)
		log.Info("using postgres stores")
	} else {
		passes = store.NewMemoryPassStore()
		penalties = store.NewMemoryPenaltyStore()
		log.Info("using in-memory stores")
	}

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	var alertStore alert.OpenAlertStore
	if redisClient != nil {
		defer redisClient.Close()
		alertStore = alert.NewRedisOpenAlertStore(redisClient)
		log.Info("using redis open-alert store")
	} else {
		alertStore = alert.NewMemoryOpenAlertStore()
	}

	service := registry.NewService(
		registry.Config{
			BasePrice:            cfg.Passes.BasePrice,
			DefaultSurge:         cfg.Passes.DefaultSurge,
			DefaultDuration:      cfg.Passes.DefaultDuration,
			EntryGraceWindow:     cfg.Passes.EntryGraceWindow,
			CancellationGrace:    cfg.Passes.CancellationGrace,
			ExtensionRatePerHour: cfg.Passes.ExtensionRatePerHour,
			TentFlatFee:          cfg.Passes.TentFlatFee,
		},
		passes,
		penalties,
		codec.New(cfg.Passes.MaxTokenAge),
		penalty.NewCalculator(cfg.Passes.PenaltyRatePerHour),
		payment.AlwaysApprove{},
		clk,
		log.With("component", "registry"),
		metrics.New(reg),
	)

	agg := aggregator.New(
		aggregator.Config{
			Window:          cfg.Crowd.Window,
			DefaultCapacity: cfg.Crowd.DefaultCapacity,
			ZoneCapacities:  cfg.Crowd.ZoneCapacities,
			RiskThreshold:   cfg.Crowd.RiskThreshold,
			HealthThreshold: cfg.Crowd.HealthThreshold,
		},
		clk,
		log.With("component", "aggregator"),
		aggregator.NewMetrics(reg),
	)

	gateway := ingest.NewGateway(agg, clk, log.With("component", "ingest"), ingest.NewMetrics(reg))

	alertSinks := []alert.Sink{alert.NewLogSink(log.With("component", "alerts"))}

	// Kafka is optional. With brokers configured, readings also arrive over
	// the readings topic and alert events fan out to the alerts topic.
	var ingestConsumer *ingest.Consumer
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(cfg.Kafka)
		if err != nil {
			return fmt.Errorf("kafka producer: %w", err)
		}
		defer producer.Close()
		if err := kafka.EnsureTopics(ctx, producer, cfg.Kafka.ReadingsTopic, cfg.Kafka.AlertsTopic); err != nil {
			return fmt.Errorf("kafka topics: %w", err)
		}
		alertSinks = append(alertSinks, alert.NewKafkaSink(producer, cfg.Kafka.AlertsTopic))

		consumerClient, err := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.ReadingsTopic)
		if err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
		defer consumerClient.Close()
		ingestConsumer = ingest.NewConsumer(consumerClient, gateway, log.With("component", "ingest-consumer"))
		log.Info("kafka enabled", "brokers", cfg.Kafka.Brokers)
	}

	engine := alert.NewEngine(
		alert.Config{
			HighDensity:       cfg.Alerts.HighDensity,
			CriticalDensity:   cfg.Alerts.CriticalDensity,
			BottleneckRisk:    cfg.Alerts.BottleneckRisk,
			VenueCapacity:     cfg.Alerts.VenueCapacity,
			ResolvedRetention: cfg.Alerts.ResolvedRetention,
		},
		agg,
		service,
		alertStore,
		log.With("component", "alerts"),
		alert.NewMetrics(reg),
		alertSinks...,
	)

	passHandler := httptransport.NewPassHandler(service, clk, log.With("component", "http"))
	sensorHandler := httptransport.NewSensorHandler(gateway, log.With("component", "http"))
	crowdHandler := httptransport.NewCrowdHandler(agg, engine, log.With("component", "http"))

	router := httptransport.NewRouter(httptransport.RouterConfig{
		JWTSigningKey: cfg.Auth.JWTSigningKey,
		AdminRole:     "staff",
	}, passHandler, sensorHandler, crowdHandler, log)

	srv := httpserver.New(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	crowdLoop := scheduler.NewLoop("crowd-tick", cfg.Crowd.TickBudget, agg.Tick, log)
	g.Go(func() error {
		return ignoreCancel(crowdLoop.Run(gctx, scheduler.NewTicker(cfg.Crowd.TickInterval)))
	})

	alertLoop := scheduler.NewLoop("alert-eval", cfg.Alerts.TickBudget, engine.Evaluate, log)
	g.Go(func() error {
		return ignoreCancel(alertLoop.Run(gctx, scheduler.NewTicker(cfg.Alerts.TickInterval)))
	})

	sweepLoop := scheduler.NewLoop("expiry-sweep", cfg.Crowd.TickBudget, func(ctx context.Context, now time.Time) error {
		result, err := service.ExpirySweep(ctx, now)
		if err != nil {
			return err
		}
		if result.Expired > 0 {
			log.Info("expiry sweep", "scanned", result.Scanned, "expired", result.Expired)
		}
		return nil
	}, log)
	g.Go(func() error {
		return ignoreCancel(sweepLoop.Run(gctx, scheduler.NewTicker(cfg.Passes.SweepInterval)))
	})

	if ingestConsumer != nil {
		g.Go(func() error {
			return ignoreCancel(ingestConsumer.Run(gctx))
		})
	}

	return g.Wait()
}

// ignoreCancel maps context cancellation to a clean exit so a normal shutdown
// does not surface as an error from the errgroup.
func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
