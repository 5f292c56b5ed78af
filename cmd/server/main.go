package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/saudabook/recon-engine/internal/config"
	"github.com/saudabook/recon-engine/internal/db"
	"github.com/saudabook/recon-engine/internal/ledger"
	"github.com/saudabook/recon-engine/internal/metrics"
	"github.com/saudabook/recon-engine/internal/recalc"
	"github.com/saudabook/recon-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)

		if err := db.RunMigrations(context.Background(), pool); err != nil {
			slog.Error("migrations failed", "err", err)
			os.Exit(1)
		}

		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL.String())
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Recalculation orchestrator ---
	orch := recalc.NewOrchestrator(st, nil)

	// --- WebSocket hub ---
	wsHub := ledger.NewWSHub()
	go wsHub.Run()

	// --- Ledger service ---
	svc := ledger.NewService(st, orch, nil, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"recon-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for ledger-change events.
		r.Get("/ws", wsHub.HandleWS)

		// Contract entry.
		r.Post("/contracts", svc.CreateContract)
		r.Get("/contracts", svc.ListContracts)
		r.Get("/contracts/{contractID}", svc.GetContract)
		r.Delete("/contracts/{contractID}", svc.DeleteContract)

		// Loading deliveries.
		r.Post("/contracts/{contractID}/deliveries", svc.CreateDelivery)
		r.Get("/contracts/{contractID}/deliveries", svc.ListDeliveries)
		r.Get("/contracts/{contractID}/pending", svc.GetPending)

		// Stock reporting.
		r.Get("/stock", svc.GetStock)
		r.Get("/stock/parties", svc.GetStockPartyBreakdown)
		r.Post("/stock/recalculate", svc.RecalculateStock)

		// Profit and loss.
		r.Get("/pnl/settled", svc.GetSettledPnl)
		r.Post("/pnl/settled/generate", svc.GenerateSettledPnl)
		r.Get("/pnl/future", svc.GetFuturePnl)
		r.Post("/pnl/recalculate", svc.RecalculateAllPnl)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("recon-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down recon-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("recon-engine stopped")
}
