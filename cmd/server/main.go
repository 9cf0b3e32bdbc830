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
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/crowdmix/bid-engine/internal/bid"
	"github.com/crowdmix/bid-engine/internal/board"
	"github.com/crowdmix/bid-engine/internal/config"
	"github.com/crowdmix/bid-engine/internal/ledger"
	"github.com/crowdmix/bid-engine/internal/metrics"
	"github.com/crowdmix/bid-engine/internal/model"
	"github.com/crowdmix/bid-engine/internal/store"
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
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.InitSchema(context.Background()); err != nil {
			slog.Error("schema init failed", "err", err)
			os.Exit(1)
		}
		st = pg
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
			slog.Info("Redis cache enabled")
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

	// --- Core components ---
	lg := ledger.New(st)

	// The hub and engine reference each other: the engine notifies the hub
	// of committed changes, the hub serves snapshots from the engine. The
	// closure breaks the construction cycle; nothing notifies before the
	// server starts.
	var hub *bid.Hub
	engine := board.New(st, board.Options{
		HistoryLimit:   cfg.HistoryLimit,
		DedupeCapacity: cfg.DedupeCapacity,
		Notify: func(change model.SongEntryChange) {
			hub.Publish(change)
		},
	})
	hub = bid.NewHub(engine)

	svc := bid.NewService(st, lg, engine, cfg.ApplyAttempts, cfg.ApplyBackoff)

	// Drain the ledger audit stream into the log for external reporting
	// to scrape. A real deployment would forward these to a pipeline.
	go func() {
		for ev := range lg.AuditEvents() {
			slog.Info("audit",
				"kind", ev.Kind,
				"user", ev.UserID,
				"bid_id", ev.BidID,
				"amount", ev.Amount,
				"balance", ev.Balance,
			)
		}
	}()

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"bid-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time leaderboard updates.
		r.Get("/ws", hub.HandleWS)

		// Bidding.
		r.Post("/bids", svc.HandlePlaceBid)

		// Leaderboard reads: full snapshot, or delta poll with ?since=N.
		r.Get("/events/{eventID}/leaderboard", svc.HandleLeaderboard)

		// Event lifecycle (external collaborator).
		r.Post("/events/{eventID}/open", svc.HandleOpenEvent)
		r.Post("/events/{eventID}/close", svc.HandleCloseEvent)
		r.Post("/events/{eventID}/songs/remove", svc.HandleRemoveSong)

		// Balances and bid history.
		r.Get("/users/{userID}/balance", svc.HandleGetBalance)
		r.Post("/users/{userID}/credit", svc.HandleCredit)
		r.Get("/users/{userID}/bids", svc.HandleListUserBids)
	})

	// --- Server ---
	// No blanket request timeout middleware: /api/v1/ws is long-lived.
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("bid-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down bid-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("bid-engine stopped")
}
