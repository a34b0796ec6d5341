// Package main is the entry point for the evetabi contract API server.
// It wires the settlement engine to Postgres, the optional Redis mirror,
// the WebSocket hub and the background sweep.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/evetabi/contract/internal/api"
	rediscache "github.com/evetabi/contract/internal/cache/redis"
	"github.com/evetabi/contract/internal/config"
	"github.com/evetabi/contract/internal/notify"
	"github.com/evetabi/contract/internal/repository"
	"github.com/evetabi/contract/internal/scheduler"
	"github.com/evetabi/contract/internal/service"
	"github.com/evetabi/contract/internal/ws"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
)

func main() {
	// ── 1. Logger ─────────────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting evetabi contract server", "env", cfg.Server.Env, "port", cfg.Server.Port)

	// ── 2. Database ───────────────────────────────────────────────────────────
	db, err := sqlx.Connect("postgres", cfg.DB.DSN)
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	if err = db.Ping(); err != nil {
		logger.Error("database ping failed", "err", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	// ── 3. Migrations ─────────────────────────────────────────────────────────
	if err = runMigrations(db, cfg.DB.MigrationsDir); err != nil {
		logger.Error("migrations failed", "err", err)
		os.Exit(1)
	}
	logger.Info("migrations applied")

	// ── 4. Root context + signal handling ─────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 5. Redis (optional) ───────────────────────────────────────────────────
	priceSvc := service.NewPriceService(cfg)
	senders := []notify.Sender{}
	var locker scheduler.Locker

	if cfg.Redis.Enabled() {
		rc, err := rediscache.New(ctx, cfg.Redis)
		if err != nil {
			logger.Error("redis connection failed", "err", err)
			os.Exit(1)
		}
		defer rc.Close()

		priceSvc.SetMirror(rediscache.NewPriceCache(rc, time.Minute))
		locker = rediscache.NewLockManager(rc)
		senders = append(senders, rediscache.NewBus(rc))
		logger.Info("redis connected", "addr", cfg.Redis.Addr)
	} else {
		logger.Warn("REDIS_ADDR not set: sweep lock and price mirror disabled (single replica only)")
	}

	// ── 6. WebSocket hub + announcements ──────────────────────────────────────
	hub := ws.NewHub([]byte(cfg.JWT.AccessSecret), cfg.Server.AllowedOrigins, logger)
	go hub.Run(ctx)
	logger.Info("websocket hub started")

	senders = append(senders, hub)
	if cfg.Settlement.AnnounceWebhook != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.Settlement.AnnounceWebhook, cfg.Settlement.AnnounceTimeout))
	}
	announcer := notify.NewNotifier(logger, senders...)

	// ── 7. Repositories ───────────────────────────────────────────────────────
	positionRepo := repository.NewPositionRepository(db)
	walletRepo := repository.NewWalletRepository(db)
	sessionRepo := repository.NewSessionControlRepository(db)

	// ── 8. Services ───────────────────────────────────────────────────────────
	authSvc := service.NewAuthService(cfg)

	positionSvc := service.NewPositionService(db, positionRepo, walletRepo, cfg, logger)
	positionSvc.SetAnnouncer(announcer)

	settlementSvc := service.NewSettlementService(db, positionRepo, walletRepo, sessionRepo, cfg, logger)
	settlementSvc.SetAnnouncer(announcer)

	// ── 9. Scheduler ──────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(settlementSvc, positionRepo, priceSvc, locker, hub, cfg, logger)
	sched.Start(ctx)

	// ── 10. HTTP Router ───────────────────────────────────────────────────────
	router := api.SetupRouter(api.RouterDeps{
		AuthSvc:       authSvc,
		PositionSvc:   positionSvc,
		SettlementSvc: settlementSvc,
		Hub:           hub,
		Cfg:           cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── 11. Start server ──────────────────────────────────────────────────────
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
			stop() // trigger graceful shutdown
		}
	}()

	// ── 12. Graceful shutdown ─────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received, draining connections…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "err", err)
	}

	db.Close()
	logger.Info("server stopped cleanly")
}

// runMigrations reads all *.sql files from dir, sorted by name, and executes
// them sequentially.  Idempotent: SQL files should use IF NOT EXISTS / ON CONFLICT.
func runMigrations(db *sqlx.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("runMigrations: read dir %q: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("runMigrations: read %q: %w", f, err)
		}
		if _, err = db.Exec(string(data)); err != nil {
			return fmt.Errorf("runMigrations: exec %q: %w", f, err)
		}
		slog.Info("migration applied", "file", filepath.Base(f))
	}
	return nil
}
