// Package notifier polls the public API as one user, settles that user's
// expired positions and reveals each closed position's result once its
// countdown has run out.
package notifier

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/evetabi/contract/internal/config"
	"github.com/evetabi/contract/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// handlingFeeRate is the display-only fee shown on a reveal (0.1 %).
var handlingFeeRate = decimal.RequireFromString("0.001")

// API is the subset of the public API the notifier calls.
// Implemented by *APIClient.
type API interface {
	SettleUser(ctx context.Context, symbol string, price decimal.Decimal) (int, error)
	ListClosed(ctx context.Context, limit int) ([]domain.PositionResponse, error)
}

// PriceSource supplies the price the user is currently looking at.
// Implemented by service.PriceService.
type PriceSource interface {
	GetWeightedPrice(ctx context.Context, symbol string) (decimal.Decimal, []domain.PriceSource, error)
}

// Reveal is the result view shown to the user for one closed position.
type Reveal struct {
	PositionID    uuid.UUID       `json:"positionId"`
	Symbol        string          `json:"symbol"`
	Side          domain.Side     `json:"side"`
	Amount        decimal.Decimal `json:"amount"`
	EntryPrice    decimal.Decimal `json:"entryPrice"`
	ExitPrice     decimal.Decimal `json:"exitPrice"`
	Duration      int             `json:"duration"`
	Profitability decimal.Decimal `json:"profitability"`
	ActualProfit  decimal.Decimal `json:"actualProfit"`
	Result        domain.Result   `json:"result"`
	HandlingFee   decimal.Decimal `json:"handlingFee"`
	CreatedAt     time.Time       `json:"createdAt"`
	ClosedAt      time.Time       `json:"closedAt"`
}

// NewReveal builds the reveal view. A missing exit price falls back to the
// entry price and a missing result to LOSS.
func NewReveal(p domain.PositionResponse) Reveal {
	r := Reveal{
		PositionID:    p.ID,
		Symbol:        p.Symbol,
		Side:          p.Side,
		Amount:        p.Amount,
		EntryPrice:    p.EntryPrice,
		ExitPrice:     p.EntryPrice,
		Duration:      p.Duration,
		Profitability: p.Profitability,
		Result:        domain.ResultLoss,
		HandlingFee:   p.Amount.Mul(handlingFeeRate),
		CreatedAt:     p.CreatedAt,
		ClosedAt:      p.CreatedAt,
	}
	if p.ExitPrice != nil {
		r.ExitPrice = *p.ExitPrice
	}
	if p.ActualProfit != nil {
		r.ActualProfit = *p.ActualProfit
	}
	if p.Result != nil && p.Result.IsValid() {
		r.Result = *p.Result
	}
	if p.ClosedAt != nil {
		r.ClosedAt = *p.ClosedAt
	}
	return r
}

// Notifier is the per-session poll/reveal loop. Each position id is revealed
// at most once and never before createdAt + duration.
type Notifier struct {
	api      API
	prices   PriceSource // optional; nil skips the settle step
	clock    Clock
	cfg      config.NotifierConfig
	onReveal func(Reveal)
	logger   *slog.Logger

	checking atomic.Bool

	mu       sync.Mutex
	revealed map[uuid.UUID]struct{}
	timers   map[uuid.UUID]Timer
	closed   bool
}

// New creates a Notifier. onReveal is called from the poll goroutine or a
// timer goroutine, never concurrently for the same position.
func New(api API, prices PriceSource, cfg config.NotifierConfig, onReveal func(Reveal), logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = 90 * time.Second
	}
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = 30
	}
	return &Notifier{
		api:      api,
		prices:   prices,
		clock:    realClock{},
		cfg:      cfg,
		onReveal: onReveal,
		logger:   logger.With(slog.String("component", "notifier")),
		revealed: make(map[uuid.UUID]struct{}),
		timers:   make(map[uuid.UUID]Timer),
	}
}

// SetClock replaces the wall clock.
func (n *Notifier) SetClock(c Clock) { n.clock = c }

// Run polls until ctx is cancelled, then cancels every scheduled reveal.
func (n *Notifier) Run(ctx context.Context) {
	defer n.Close()

	n.logger.Info("notifier started", "interval", n.cfg.PollInterval, "symbol", n.cfg.Symbol)

	n.tickLogged(ctx)
	ticker := time.NewTicker(n.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			n.logger.Info("notifier stopped")
			return
		case <-ticker.C:
			n.tickLogged(ctx)
		}
	}
}

func (n *Notifier) tickLogged(ctx context.Context) {
	if err := n.Tick(ctx); err != nil {
		n.logger.Warn("poll failed", "err", err)
	}
}

// Tick runs one poll: settle the user's expired positions when a price is
// known, then reveal at most one due position and schedule reveals for
// positions that closed early. Overlapping calls are skipped.
func (n *Notifier) Tick(ctx context.Context) error {
	if !n.checking.CompareAndSwap(false, true) {
		return nil
	}
	defer n.checking.Store(false)

	// ── 1. Settle ─────────────────────────────────────────────────────────────
	if n.prices != nil {
		price, _, err := n.prices.GetWeightedPrice(ctx, n.cfg.Symbol)
		switch {
		case err != nil:
			n.logger.Debug("no price, settle skipped", "symbol", n.cfg.Symbol, "err", err)
		case price.IsPositive():
			if settled, err := n.api.SettleUser(ctx, n.cfg.Symbol, price); err != nil {
				n.logger.Warn("settle-user failed", "err", err)
			} else if settled > 0 {
				n.logger.Debug("settled own positions", "count", settled)
			}
		}
	}

	// ── 2. Fetch recently closed ─────────────────────────────────────────────
	positions, err := n.api.ListClosed(ctx, n.cfg.FetchLimit)
	if err != nil {
		return err
	}
	sort.SliceStable(positions, func(i, j int) bool {
		return closedAt(positions[i]).After(closedAt(positions[j]))
	})

	// ── 3. Reveal / schedule ─────────────────────────────────────────────────
	now := n.clock.Now()
	var due *Reveal

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	for _, p := range positions {
		if _, seen := n.revealed[p.ID]; seen {
			continue
		}
		endsAt := p.CreatedAt.Add(time.Duration(p.Duration) * time.Second)
		expired := !endsAt.After(now)
		recent := p.ClosedAt != nil && !p.ClosedAt.Before(now.Add(-n.cfg.RecentWindow))

		if expired && recent {
			n.revealed[p.ID] = struct{}{}
			if t, ok := n.timers[p.ID]; ok {
				t.Stop()
				delete(n.timers, p.ID)
			}
			r := NewReveal(p)
			due = &r
			break
		}

		if !expired && recent {
			if _, pending := n.timers[p.ID]; !pending {
				n.timers[p.ID] = n.clock.AfterFunc(endsAt.Sub(now), n.scheduledReveal(p))
			}
		}
	}
	n.mu.Unlock()

	if due != nil {
		n.emit(*due)
	}
	return nil
}

// scheduledReveal returns the timer callback for p. It re-checks the seen
// set when it fires since a poll may have revealed p in the meantime.
func (n *Notifier) scheduledReveal(p domain.PositionResponse) func() {
	return func() {
		n.mu.Lock()
		delete(n.timers, p.ID)
		_, seen := n.revealed[p.ID]
		if seen || n.closed {
			n.mu.Unlock()
			return
		}
		n.revealed[p.ID] = struct{}{}
		n.mu.Unlock()

		n.emit(NewReveal(p))
	}
}

func (n *Notifier) emit(r Reveal) {
	n.logger.Info("position revealed",
		"position_id", r.PositionID,
		"result", r.Result,
		"actual_profit", r.ActualProfit,
	)
	if n.onReveal != nil {
		n.onReveal(r)
	}
}

// Pending returns how many reveals are scheduled.
func (n *Notifier) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.timers)
}

// Close cancels all scheduled reveals. The Notifier reveals nothing after Close.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, t := range n.timers {
		t.Stop()
		delete(n.timers, id)
	}
	n.closed = true
}

func closedAt(p domain.PositionResponse) time.Time {
	if p.ClosedAt == nil {
		return time.Time{}
	}
	return *p.ClosedAt
}
