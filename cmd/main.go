/*
Package main is the entry point for the HZ Realtime presence and broadcast service.

It loads configuration, initializes the global logging system, builds the connection hub,
the optional Postgres presence sink and NATS bridge consumer, and runs every long-lived
service under a supervisor tree until SIGINT or SIGTERM is received.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"hzrealtime/internal/app/bridge"
	"hzrealtime/internal/app/chat"
	"hzrealtime/internal/app/db"
	"hzrealtime/internal/app/presence"
	"hzrealtime/internal/configs"
	"hzrealtime/internal/handler"
	"hzrealtime/internal/pkg/limiter"
	"hzrealtime/internal/pkg/logx"
	"hzrealtime/internal/supervisor"
)

func main() {
	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "WARN: Failed to read .env: %v\n", err)
	}

	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logx.InitGlobalLogger(cfg.IsDevelopment())
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Dur("heartbeat_timeout", cfg.HeartbeatTimeout).
		Int("max_connections", cfg.MaxConnections).
		Bool("bridge_auth", cfg.BridgeSecret != "").
		Bool("persistence", cfg.DatabaseURL != "").
		Bool("nats", cfg.NATSURL != "").
		Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := chat.NewHub(chat.HubConfig{MaxConnections: cfg.MaxConnections}, presence.NewTracker())

	svc := bridge.NewService(hub)

	tree := supervisor.NewTree(supervisor.TreeConfig{ShutdownTimeout: cfg.ShutdownTimeout})

	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logx.Fatal(err, "Failed to connect to the presence database")
		}
		defer pool.Close()

		store := db.NewPresenceStore(pool)

		// Rows left online by a previous process describe connections that no longer exist.
		n, err := store.MarkAllOffline(ctx)
		if err != nil {
			logx.Fatal(err, "Failed to reset stale presence rows")
		}
		logx.Info("Stale presence rows reset", "rows", n)

		sink := presence.NewSink(store, 0)
		hub.SetRecorder(sink)
		svc.SetLastKnown(store)
		tree.AddCore(sink)
	}

	tree.AddCore(chat.NewMonitor(hub, chat.MonitorConfig{
		Timeout:  cfg.HeartbeatTimeout,
		Grace:    cfg.HeartbeatGrace,
		Interval: cfg.HeartbeatInterval,
	}))

	if cfg.NATSURL != "" {
		tree.AddEdge(bridge.NewConsumer(svc, bridge.ConsumerConfig{
			URL:           cfg.NATSURL,
			SubjectPrefix: cfg.NATSSubjectPrefix,
			Name:          "hzrealtime",
		}))
	}

	connectLimiter := limiter.NewIPRateLimiter(rate.Limit(cfg.ConnectRate), cfg.ConnectBurst)
	defer connectLimiter.Stop()

	router := handler.Router(&handler.AppDeps{
		Hub:            hub,
		Bridge:         svc,
		Config:         cfg,
		ConnectLimiter: connectLimiter,
	})

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	// No WriteTimeout: upgraded websocket connections manage their own write deadlines.
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	tree.AddEdge(supervisor.NewHTTPService(server, cfg.ShutdownTimeout))

	logx.Info(fmt.Sprintf("HZ Realtime starting on http://localhost%s", serverAddr))

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logx.Error(err, "Supervisor tree stopped unexpectedly")
	}

	logx.Info("Received shutdown signal. Closing client connections...")
	hub.Shutdown()

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		for _, s := range report {
			logx.Warn("Service did not stop in time", "service", s.Name)
		}
	}

	logx.Info("Server gracefully stopped.")
}
