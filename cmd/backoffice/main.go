// Package main is the entry point for the evetabi contract back-office
// server. Runs on port 8081 and exposes the override queue, position
// overview and manual close to operators.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evetabi/contract/internal/backoffice"
	rediscache "github.com/evetabi/contract/internal/cache/redis"
	"github.com/evetabi/contract/internal/config"
	"github.com/evetabi/contract/internal/notify"
	"github.com/evetabi/contract/internal/repository"
	"github.com/evetabi/contract/internal/service"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

func main() {
	// ── Logger ────────────────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting evetabi backoffice server",
		"env", cfg.Server.Env, "port", cfg.Server.BackofficePort)

	// ── Database ──────────────────────────────────────────────────────────────
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

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Announcements ─────────────────────────────────────────────────────────
	// Manual closes reach players through the Redis bus or the external
	// socket server; the backoffice has no websocket clients of its own.
	priceSvc := service.NewPriceService(cfg)
	var senders []notify.Sender
	if cfg.Redis.Enabled() {
		rc, err := rediscache.New(ctx, cfg.Redis)
		if err != nil {
			logger.Error("redis connection failed", "err", err)
			os.Exit(1)
		}
		defer rc.Close()
		priceSvc.SetMirror(rediscache.NewPriceCache(rc, time.Minute))
		senders = append(senders, rediscache.NewBus(rc))
	}
	if cfg.Settlement.AnnounceWebhook != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.Settlement.AnnounceWebhook, cfg.Settlement.AnnounceTimeout))
	}

	// ── Repositories ──────────────────────────────────────────────────────────
	positionRepo := repository.NewPositionRepository(db)
	walletRepo := repository.NewWalletRepository(db)
	sessionRepo := repository.NewSessionControlRepository(db)

	// ── Services ──────────────────────────────────────────────────────────────
	authSvc := service.NewAuthService(cfg)
	settlementSvc := service.NewSettlementService(db, positionRepo, walletRepo, sessionRepo, cfg, logger)
	settlementSvc.SetAnnouncer(notify.NewNotifier(logger, senders...))

	// ── Router ────────────────────────────────────────────────────────────────
	router := backoffice.SetupBackofficeRouter(backoffice.BackofficeDeps{
		AuthSvc:      authSvc,
		Positions:    positionRepo,
		Transactions: walletRepo,
		Queue:        sessionRepo,
		Settlement:   settlementSvc,
		Prices:       priceSvc,
		Hub:          nil, // backoffice does not directly serve WS
		Cfg:          cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.BackofficePort,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── Start ─────────────────────────────────────────────────────────────────
	go func() {
		logger.Info("backoffice http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("backoffice server error", "err", err)
			stop()
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("backoffice shutdown error", "err", err)
	}

	db.Close()
	logger.Info("backoffice server stopped cleanly")
}
