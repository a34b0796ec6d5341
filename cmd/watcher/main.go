// Package main runs the client notifier for one user: it polls the public
// API, settles that user's expired positions against the live price and
// prints each result once its countdown has elapsed.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/evetabi/contract/internal/config"
	"github.com/evetabi/contract/internal/domain"
	"github.com/evetabi/contract/internal/notifier"
	"github.com/evetabi/contract/internal/service"
	"github.com/google/uuid"
)

func main() {
	// ── Logger ────────────────────────────────────────────────────────────────
	cfg := config.Get()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	// ── Token ─────────────────────────────────────────────────────────────────
	token := cfg.Notifier.Token
	if token == "" {
		if cfg.Notifier.UserID == "" || cfg.JWT.AccessSecret == "" {
			logger.Error("set NOTIFIER_TOKEN, or NOTIFIER_USER_ID with JWT_ACCESS_SECRET")
			os.Exit(1)
		}
		userID, err := uuid.Parse(cfg.Notifier.UserID)
		if err != nil {
			logger.Error("invalid NOTIFIER_USER_ID", "err", err)
			os.Exit(1)
		}
		token, err = service.NewAuthService(cfg).IssueAccessToken(userID, domain.RoleUser)
		if err != nil {
			logger.Error("token issue failed", "err", err)
			os.Exit(1)
		}
	}

	// ── Notifier ──────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// reveals arrive from the poll loop and from timer goroutines
	var outMu sync.Mutex
	out := json.NewEncoder(os.Stdout)
	n := notifier.New(
		notifier.NewAPIClient(cfg.Notifier.APIBaseURL, token, cfg.Server.ReadTimeout),
		service.NewPriceService(cfg),
		cfg.Notifier,
		func(r notifier.Reveal) {
			outMu.Lock()
			defer outMu.Unlock()
			_ = out.Encode(r)
		},
		logger,
	)

	logger.Info("watching positions", "api", cfg.Notifier.APIBaseURL, "symbol", cfg.Notifier.Symbol)
	n.Run(ctx)
}
