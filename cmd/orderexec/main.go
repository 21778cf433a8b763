package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/tarigelamin1997/tradesense-sub003/internal/audit"
	"github.com/tarigelamin1997/tradesense-sub003/internal/config"
	"github.com/tarigelamin1997/tradesense-sub003/internal/coordinator"
	"github.com/tarigelamin1997/tradesense-sub003/internal/events"
	"github.com/tarigelamin1997/tradesense-sub003/internal/fees"
	"github.com/tarigelamin1997/tradesense-sub003/internal/gateway"
	"github.com/tarigelamin1997/tradesense-sub003/internal/handlers"
	"github.com/tarigelamin1997/tradesense-sub003/internal/ledger"
	"github.com/tarigelamin1997/tradesense-sub003/internal/position"
	"github.com/tarigelamin1997/tradesense-sub003/internal/rate"
	"github.com/tarigelamin1997/tradesense-sub003/internal/risk"
	"github.com/tarigelamin1997/tradesense-sub003/internal/storage"
	"github.com/tarigelamin1997/tradesense-sub003/libs/health"
	"github.com/tarigelamin1997/tradesense-sub003/libs/httpmiddleware"
	"github.com/tarigelamin1997/tradesense-sub003/libs/logging"
	"github.com/tarigelamin1997/tradesense-sub003/libs/metrics"
	"github.com/tarigelamin1997/tradesense-sub003/libs/trace"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("TRADESENSE_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)

	shutdownTracer, err := trace.InitTracer(cfg.App.ServiceName, cfg.App.Env)
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	pipelineMetrics := coordinator.NewMetrics(registry)
	ready := health.NewManager(false)

	store, pool, err := buildStore(cfg, logger)
	if err != nil {
		logger.Error("storage init failed", "error", err)
		os.Exit(1)
	}
	if pool != nil {
		defer pool.Close()
	}

	capital := ledger.New(store, logging.ForComponent(logger, "ledger"))
	positions := position.NewManager(store, logging.ForComponent(logger, "position"))
	recorder := audit.NewRecorder(store, logging.ForComponent(logger, "audit"))
	defer recorder.Close()

	riskLimits := risk.Limits{
		InstrumentBlocked:  decimal.NewFromFloat(cfg.Risk.InstrumentBlocked),
		InstrumentElevated: decimal.NewFromFloat(cfg.Risk.InstrumentElevated),
		AccountGross:       decimal.NewFromFloat(cfg.Risk.AccountGross),
	}
	assessor := risk.NewAssessor(store, riskLimits, logging.ForComponent(logger, "risk"))

	schedule := buildFees(cfg)

	bus := events.NewBus(logging.ForComponent(logger, "events"))
	var producer *events.SyncProducer
	if len(cfg.Kafka.Brokers) > 0 {
		producerMetrics := events.NewProducerMetrics(registry)
		producer, err = events.NewSyncProducer(cfg.Kafka.Brokers, logger, producerMetrics)
		if err != nil {
			logger.Error("kafka producer init failed", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		bus.Subscribe(events.NewKafkaSubscriber(producer, cfg.Kafka.TransitionTopic, logger))
	}
	bus.Seal()

	venue, stream := buildGateway(cfg, logger)

	coord := coordinator.New(
		assessor,
		capital,
		positions,
		recorder,
		store,
		schedule,
		venue,
		bus,
		logging.ForComponent(logger, "coordinator"),
		pipelineMetrics,
		coordinator.Config{
			SubmitTimeout:   cfg.Gateway.SubmitTimeout,
			SubmitAttempts:  cfg.Gateway.SubmitAttempts,
			ConfirmAttempts: cfg.Gateway.ConfirmAttempts,
			MaxConcurrent:   cfg.Gateway.MaxConcurrent,
		},
	)

	reportCtx, reportCancel := context.WithCancel(context.Background())
	defer reportCancel()
	if stream != nil {
		stream.Start(reportCtx)
		defer stream.Stop()
		go coord.ConsumeReports(reportCtx, stream.Reports)
	}

	limiter := buildLimiter(cfg)

	handler := handlers.New(coord, limiter, logger)
	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	handler.Register(router)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ready.SetReady(true)

	go func() {
		logger.Info("order-exec http starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	waitForShutdown(httpServer, ready, reportCancel, logger)
}

// buildStore returns a postgres-backed store when a DSN is configured and an
// in-memory store otherwise. The pool is nil for the in-memory case.
func buildStore(cfg *config.Config, logger *slog.Logger) (storage.AccountStore, *pgxpool.Pool, error) {
	if cfg.Postgres.DSN == "" {
		logger.Warn("no postgres dsn configured, using in-memory store")
		return storage.NewMemory(), nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return storage.NewPostgres(pool), pool, nil
}

func buildGateway(cfg *config.Config, logger *slog.Logger) (gateway.Gateway, *gateway.ReportStream) {
	if strings.ToLower(cfg.Gateway.Provider) == "alpaca" {
		venue := gateway.NewAlpacaGateway(
			cfg.Gateway.APIKey,
			cfg.Gateway.APISecret,
			cfg.Gateway.BaseURL,
			logging.ForComponent(logger, "gateway"),
		)
		var stream *gateway.ReportStream
		if cfg.Gateway.StreamURL != "" {
			stream = gateway.NewReportStream(cfg.Gateway.StreamURL, logging.ForComponent(logger, "gateway-stream"))
		}
		return venue, stream
	}
	logger.Warn("using simulated venue gateway")
	return gateway.NewSimulator(), nil
}

func buildFees(cfg *config.Config) *fees.Schedule {
	if len(cfg.Fees.Tiers) == 0 {
		return fees.DefaultSchedule()
	}
	tiers := make([]fees.Tier, 0, len(cfg.Fees.Tiers))
	for _, tier := range cfg.Fees.Tiers {
		tiers = append(tiers, fees.Tier{
			MinNotional: decimal.NewFromFloat(tier.MinNotional),
			Bps:         tier.Bps,
		})
	}
	return fees.NewSchedule(tiers, decimal.NewFromFloat(cfg.Fees.MinCommission))
}

func buildLimiter(cfg *config.Config) rate.Limiter {
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return rate.NewRedisLimiter(client, cfg.RateLimit.Limit, cfg.RateLimit.Window, "")
	}
	return rate.NewMemory(cfg.RateLimit.Limit, cfg.RateLimit.Window)
}

func waitForShutdown(httpServer *http.Server, ready *health.Manager, cancel context.CancelFunc, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown started")
	ready.SetReady(false)
	cancel()

	ctx, cancelTimeout := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelTimeout()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}
