package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"labhub/internal/config"
	"labhub/internal/driver"
	"labhub/internal/httpapi"
	"labhub/internal/ingest"
	"labhub/internal/mqtt"
	"labhub/internal/observability"
	"labhub/internal/ratelimit"
	"labhub/internal/realtime"
	"labhub/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to yaml config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	config.SetupLogging(cfg.LogLevel)

	if strings.TrimSpace(cfg.JWTSecret) == "" {
		slog.Error("missing required config", "key", "LABHUB_JWT_SECRET")
		os.Exit(1)
	}

	db, err := openDB(cfg)
	if err != nil {
		slog.Error("db connect failed", "driver", cfg.DB.Driver, "error", err)
		os.Exit(1)
	}
	repo, err := store.New(db)
	if err != nil {
		slog.Error("db migrate failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, metricsHandler, tracer := observability.Setup(cfg.Tracing.OTLPEndpoint)
	defer shutdownTracing()

	drivers := driver.NewRegistry(driver.NewLabDevice(), driver.NewPressureGauge(), driver.NewMockDevice())

	hub := realtime.NewHub()
	hub.OnClientCount(func(n int) { observability.LiveClients.Set(float64(n)) })

	mq, err := mqtt.Connect(cfg.MQTT.BrokerURL, cfg.MQTT.ClientID)
	if err != nil {
		slog.Error("mqtt connect failed", "error", err)
		os.Exit(1)
	}
	defer mq.Close()

	ing := ingest.New(cfg.MQTT.TelemetryPrefix, hub, repo)
	ing.OnPoint(observability.IngestedPoints.Inc)
	if err := mq.Subscribe(ing.SubscriptionTopic(), func(m mqtt.Message) {
		ing.Handle(ctx, m.Topic(), m.Payload())
	}); err != nil {
		slog.Error("mqtt subscribe failed", "topic", ing.SubscriptionTopic(), "error", err)
		os.Exit(1)
	}
	slog.Info("telemetry ingest subscribed", "topic", ing.SubscriptionTopic())

	opts := httpapi.RouterOptions{
		JWTSecret:      cfg.JWTSecret,
		MetricsHandler: metricsHandler,
		Metrics:        observability.Middleware(tracer),
	}
	if cfg.RateLimit.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
		limiter := ratelimit.New(rdb, "labhub", ratelimit.LimiterConfig{RPS: cfg.RateLimit.RPS, Burst: cfg.RateLimit.Burst})
		opts.RateLimit = limiter.Middleware(ratelimit.KeyByUserOrIP)
	}

	srv := httpapi.NewServer(repo, drivers, hub, cfg.JWTSecret, time.Duration(cfg.TokenTTLMinutes)*time.Minute)
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httpapi.NewRouter(srv, opts),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("labhub listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
			cancel()
		}
	}()

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case <-ctx.Done():
	}
	slog.Info("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	cancel()
}

func openDB(cfg *config.Config) (*gorm.DB, error) {
	if cfg.DB.Driver == "postgres" {
		return store.OpenPostgres(cfg.DB.User, cfg.DB.Password, cfg.DB.DBName, cfg.DB.Host, cfg.DB.Port, cfg.DB.SSLMode)
	}
	return store.OpenSQLite(cfg.DB.Path)
}
