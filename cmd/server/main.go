package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vedran77/nebula/internal/auth"
	"github.com/vedran77/nebula/internal/config"
	"github.com/vedran77/nebula/internal/database"
	"github.com/vedran77/nebula/internal/logging"
	"github.com/vedran77/nebula/internal/realtime"
	"github.com/vedran77/nebula/internal/realtime/pgnotify"
	"github.com/vedran77/nebula/internal/realtime/redisbus"
	"github.com/vedran77/nebula/internal/repository/postgres"
	"github.com/vedran77/nebula/internal/transport/http/handlers"
	"github.com/vedran77/nebula/internal/transport/http/middleware"
	"github.com/vedran77/nebula/internal/transport/ws"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	pool, err := database.Connect(ctx, cfg)
	if err != nil {
		logger.Error("connecting to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		logger.Error("migrating database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Change feed and broadcast channels
	listener := pgnotify.New(pool, logger)
	defer listener.Close()

	var channels realtime.Broadcaster = listener.Bus
	if rb, err := redisbus.Connect(ctx, cfg.RedisURL, logger); err != nil {
		logger.Warn("redis unavailable, broadcast channels stay in process", "error", err)
	} else {
		defer rb.Close()
		channels = rb
	}

	// Gateway
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	hub := ws.NewHub(ws.HubConfig{
		Feed:          listener,
		Channels:      channels,
		Logger:        logger,
		Metrics:       ws.NewMetrics(reg),
		BroadcastRate: float64(cfg.BroadcastRate),
	})
	issuer := auth.NewTokenIssuer(cfg.JWTSecret, cfg.SessionTTL)
	authHandler := handlers.NewAuthHandler(postgres.NewAccountRepo(pool), postgres.NewProfileRepo(pool), issuer, logger)

	// Routes
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "ok"}`))
	})
	mux.HandleFunc("POST /auth/signup", authHandler.SignUp)
	mux.HandleFunc("POST /auth/token", authHandler.SignIn)
	mux.Handle("GET /auth/me", middleware.Auth(issuer)(http.HandlerFunc(authHandler.Me)))
	mux.Handle("GET /realtime", middleware.Auth(issuer)(ws.ServeWS(hub)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return listener.Run(ctx)
	})
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
