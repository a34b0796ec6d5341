// Package scheduler runs the background goroutines of the settlement engine:
//  1. sweepLoop – settles expired positions of every symbol on an interval.
//  2. priceLoop – pushes the aggregated price of each configured symbol to WS clients.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/evetabi/contract/internal/config"
	"github.com/evetabi/contract/internal/domain"
	"github.com/evetabi/contract/internal/service"
	"github.com/evetabi/contract/internal/ws"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	sweepLockKey     = "sweep:global"
	maxParallelSweep = 4
)

// ──────────────────────────────────────────────────────────────────────────────
// Dependencies, declared as interfaces so the loops can be driven by fakes
// ──────────────────────────────────────────────────────────────────────────────

// WsHub defines the broadcast operations the Scheduler needs from the WebSocket
// hub.
type WsHub interface {
	BroadcastPriceUpdate(msg ws.PriceUpdateMessage)
}

// Sweeper settles expired positions. Implemented by service.SettlementService.
type Sweeper interface {
	SettleExpired(ctx context.Context, scope service.SweepScope, currentPrice decimal.Decimal) (*service.SweepResult, error)
}

// SymbolLister reports the symbols that have expired OPEN positions.
// Implemented by repository.PositionRepository.
type SymbolLister interface {
	DistinctExpiredSymbols(ctx context.Context, now time.Time) ([]string, error)
}

// PriceSource returns the current aggregated price of a symbol.
// Implemented by service.PriceService.
type PriceSource interface {
	GetWeightedPrice(ctx context.Context, symbol string) (decimal.Decimal, []domain.PriceSource, error)
}

// Locker grants a cluster-wide lock. Implemented by the Redis LockManager;
// nil means a single replica and no locking.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// ──────────────────────────────────────────────────────────────────────────────
// Scheduler
// ──────────────────────────────────────────────────────────────────────────────

// Scheduler runs the sweep and price loops. Call Start(ctx) once from main();
// cancel the context to shut it down.
type Scheduler struct {
	sweeper Sweeper
	symbols SymbolLister
	prices  PriceSource
	locker  Locker
	hub     WsHub
	cfg     *config.Config
	logger  *slog.Logger
}

// NewScheduler creates a Scheduler. locker and hub may be nil.
func NewScheduler(
	sweeper Sweeper,
	symbols SymbolLister,
	prices PriceSource,
	locker Locker,
	hub WsHub,
	cfg *config.Config,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		sweeper: sweeper,
		symbols: symbols,
		prices:  prices,
		locker:  locker,
		hub:     hub,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "scheduler")),
	}
}

// Start launches the background goroutines. It returns immediately; all
// loops run until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.sweepLoop(ctx)
	if s.hub != nil {
		go s.priceLoop(ctx)
	}
	s.logger.Info("scheduler started",
		"sweep_interval", s.cfg.Settlement.SweepInterval,
		"symbols", s.cfg.Price.Symbols)
}

// ──────────────────────────────────────────────────────────────────────────────
// sweepLoop
// ──────────────────────────────────────────────────────────────────────────────

// sweepLoop runs a global sweep every SweepInterval.
func (s *Scheduler) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Settlement.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweepLoop: shutting down")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce settles every symbol that has expired positions, each with its
// own freshly aggregated price. When a Locker is configured and another
// replica holds the sweep lock, the tick is skipped.
func (s *Scheduler) SweepOnce(ctx context.Context) {
	defer s.recoverAndLog("sweep")

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, sweepLockKey, s.cfg.Settlement.SweepLockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.Debug("sweep lock held elsewhere, skipping tick")
			return
		}
		if err != nil {
			s.logger.Warn("sweep lock unavailable, skipping tick", "err", err)
			return
		}
		defer release()
	}

	symbols, err := s.symbols.DistinctExpiredSymbols(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error("sweep: list symbols", "err", err)
		return
	}
	if len(symbols) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(maxParallelSweep)
	for _, symbol := range symbols {
		g.Go(func() error {
			s.sweepSymbol(ctx, symbol)
			return nil
		})
	}
	_ = g.Wait()
}

// sweepSymbol prices and sweeps one symbol. A symbol without a usable price
// is left for the next tick.
func (s *Scheduler) sweepSymbol(ctx context.Context, symbol string) {
	defer s.recoverAndLog("sweep:" + symbol)

	price, _, err := s.prices.GetWeightedPrice(ctx, symbol)
	if err != nil {
		s.logger.Warn("sweep: no price, symbol deferred", "symbol", symbol, "err", err)
		return
	}

	res, err := s.sweeper.SettleExpired(ctx, service.SweepScope{Symbol: symbol}, price)
	if err != nil {
		s.logger.Error("sweep: SettleExpired", "symbol", symbol, "err", err)
		return
	}
	if len(res.Failures) > 0 {
		s.logger.Warn("sweep: partial batch failure",
			"symbol", symbol, "settled", len(res.Settled), "failed", len(res.Failures))
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// priceLoop
// ──────────────────────────────────────────────────────────────────────────────

// priceLoop broadcasts a PriceUpdateMessage per configured symbol on every
// BroadcastInterval tick.
func (s *Scheduler) priceLoop(ctx context.Context) {
	interval := s.cfg.Price.BroadcastInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("priceLoop: shutting down")
			return
		case <-ticker.C:
			for _, symbol := range s.cfg.Price.Symbols {
				s.broadcastPrice(ctx, symbol)
			}
		}
	}
}

// broadcastPrice is the inner body of priceLoop, extracted so that the
// defer/recover catches panics per symbol.
func (s *Scheduler) broadcastPrice(ctx context.Context, symbol string) {
	defer s.recoverAndLog("price:" + symbol)

	price, _, err := s.prices.GetWeightedPrice(ctx, symbol)
	if err != nil {
		s.logger.Debug("priceLoop: price fetch failed", "symbol", symbol, "err", err)
		return
	}
	s.hub.BroadcastPriceUpdate(ws.PriceUpdateMessage{
		Type:      ws.MsgTypePriceUpdate,
		Symbol:    domain.NormalizeSymbol(symbol),
		Price:     price,
		Timestamp: time.Now().UTC(),
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Panic recovery
// ──────────────────────────────────────────────────────────────────────────────

// recoverAndLog is deferred inside each unit of work to catch unexpected
// panics, log them, and allow the scheduler to continue running.
func (s *Scheduler) recoverAndLog(loop string) {
	if r := recover(); r != nil {
		s.logger.Error("PANIC recovered in scheduler loop",
			"loop", loop, "panic", r)
	}
}
