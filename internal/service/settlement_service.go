package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/evetabi/contract/internal/config"
	"github.com/evetabi/contract/internal/domain"
	"github.com/evetabi/contract/internal/metrics"
	"github.com/evetabi/contract/internal/notify"
	"github.com/evetabi/contract/internal/repository"
	"github.com/evetabi/contract/internal/ws"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// SweepScope narrows a settlement sweep. The zero value settles every
// expired position.
type SweepScope struct {
	UserID *uuid.UUID
	Symbol string
}

// SweepResult reports what one sweep did. Failures are positions that were
// selected but could not be closed; they stay OPEN for the next sweep.
type SweepResult struct {
	Settled  []domain.SettledPosition
	Failures []domain.SettlementFailure
}

// SweepStats is the summary of the most recent sweep, shown on the admin
// dashboard.
type SweepStats struct {
	At       time.Time     `json:"at"`
	Scope    string        `json:"scope"`
	Settled  int           `json:"settled"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"durationNs"`
}

// closeOptions selects the differences between a sweep close and a manual
// close. Both run the same transaction.
type closeOptions struct {
	skipLocked bool
	forced     *domain.Result
	txType     domain.TxType
	actor      string
}

// expiredLister selects the positions a sweep visits.
// Implemented by repository.PositionRepository.
type expiredLister interface {
	ListExpiredOpen(ctx context.Context, f domain.PositionFilter, now time.Time) ([]*domain.Position, error)
}

// closeFunc settles one position in its own transaction.
type closeFunc func(ctx context.Context, id uuid.UUID, exit decimal.Decimal, opts closeOptions) (*domain.Position, domain.Settlement, error)

// SettlementService closes expired positions and credits their outcome.
type SettlementService struct {
	db           *sqlx.DB
	expired      expiredLister
	closeOne     closeFunc
	positionRepo *repository.PositionRepository
	walletRepo   *repository.WalletRepository
	sessionRepo  *repository.SessionControlRepository
	cfg          *config.SettlementConfig
	announcer    Announcer
	logger       *slog.Logger

	mu   sync.RWMutex
	last SweepStats
}

// NewSettlementService creates a SettlementService.
func NewSettlementService(
	db *sqlx.DB,
	positionRepo *repository.PositionRepository,
	walletRepo *repository.WalletRepository,
	sessionRepo *repository.SessionControlRepository,
	cfg *config.Config,
	logger *slog.Logger,
) *SettlementService {
	s := &SettlementService{
		db:           db,
		expired:      positionRepo,
		positionRepo: positionRepo,
		walletRepo:   walletRepo,
		sessionRepo:  sessionRepo,
		cfg:          &cfg.Settlement,
		logger:       logger.With(slog.String("component", "settlement")),
	}
	s.closeOne = s.settleOne
	return s
}

// SetAnnouncer injects the real-time notifier post-construction.
func (s *SettlementService) SetAnnouncer(a Announcer) { s.announcer = a }

// LastSweep returns the stats of the most recent global sweep. Per-user
// sweeps are only counted in metrics.
func (s *SettlementService) LastSweep() SweepStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// ──────────────────────────────────────────────────────────────────────────────
// SettleExpired — sweep
// ──────────────────────────────────────────────────────────────────────────────

// SettleExpired closes every OPEN position in scope whose expiry has passed,
// each in its own transaction, using currentPrice as the exit price.
//
// A position being closed by a concurrent sweep is skipped silently. Any
// other per-position error is logged, counted and returned in Failures;
// the sweep carries on with the next position.
func (s *SettlementService) SettleExpired(ctx context.Context, scope SweepScope, currentPrice decimal.Decimal) (*SweepResult, error) {
	if !currentPrice.IsPositive() {
		return nil, &domain.ValidationError{Field: "currentPrice", Reason: "must be a positive number"}
	}
	scope.Symbol = domain.NormalizeSymbol(scope.Symbol)
	label := scopeLabel(scope)
	start := time.Now()

	expired, err := s.expired.ListExpiredOpen(ctx, domain.PositionFilter{
		UserID: scope.UserID,
		Symbol: scope.Symbol,
		Limit:  s.cfg.SweepBatchLimit,
	}, start.UTC())
	if err != nil {
		return nil, fmt.Errorf("settlement_service.SettleExpired: list: %w", err)
	}

	result := &SweepResult{Settled: make([]domain.SettledPosition, 0, len(expired))}
	for _, p := range expired {
		if ctx.Err() != nil {
			break
		}
		pos, st, err := s.closeOne(ctx, p.ID, currentPrice, closeOptions{
			skipLocked: true,
			txType:     domain.TxPositionSettle,
			actor:      "sweep",
		})
		if errors.Is(err, domain.ErrPositionNotOpen) {
			// closed or held by another settler
			continue
		}
		if err != nil {
			f := domain.SettlementFailure{PositionID: p.ID, Err: err}
			result.Failures = append(result.Failures, f)
			metrics.SettlementFailures.WithLabelValues(metrics.Retryable(f.Retryable())).Inc()
			s.logger.Error("settle position failed",
				"position_id", p.ID, "user_id", p.UserID, "retryable", f.Retryable(), "err", err)
			continue
		}
		result.Settled = append(result.Settled, domain.SettledPosition{
			ID:           pos.ID,
			Symbol:       pos.Symbol,
			Side:         pos.Side,
			Result:       st.Result,
			ActualProfit: st.ActualProfit,
		})
	}

	elapsed := time.Since(start)
	metrics.SweepDuration.WithLabelValues(label).Observe(elapsed.Seconds())
	if scope.UserID == nil {
		s.mu.Lock()
		s.last = SweepStats{
			At:       start.UTC(),
			Scope:    label,
			Settled:  len(result.Settled),
			Failed:   len(result.Failures),
			Duration: elapsed,
		}
		s.mu.Unlock()
	}

	if len(expired) > 0 {
		s.logger.Info("sweep complete",
			"scope", label, "symbol", scope.Symbol, "selected", len(expired),
			"settled", len(result.Settled), "failed", len(result.Failures), "took", elapsed)
	}
	return result, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// CloseManually — backoffice close
// ──────────────────────────────────────────────────────────────────────────────

// CloseManually closes one OPEN position now, whether or not it has expired.
//
// With forced set the outcome is that result and the override queue is left
// untouched. Otherwise the outcome is decided exactly as in a sweep. Unlike a
// sweep, a manual close waits for a concurrent settler's row lock and then
// reports ErrPositionNotOpen if that settler closed it.
func (s *SettlementService) CloseManually(ctx context.Context, id uuid.UUID, exitPrice decimal.Decimal, forced *domain.Result, actor string) (*domain.Position, error) {
	if !exitPrice.IsPositive() {
		return nil, &domain.ValidationError{Field: "exitPrice", Reason: "must be a positive number"}
	}
	if forced != nil && !forced.IsValid() {
		return nil, &domain.ValidationError{Field: "result", Reason: "must be WIN or LOSS"}
	}

	if _, err := s.positionRepo.GetByID(ctx, id); err != nil {
		return nil, fmt.Errorf("settlement_service.CloseManually: %w", err)
	}

	pos, _, err := s.settleOne(ctx, id, exitPrice, closeOptions{
		forced: forced,
		txType: domain.TxPositionManual,
		actor:  actor,
	})
	if err != nil {
		return nil, fmt.Errorf("settlement_service.CloseManually: %w", err)
	}
	return pos, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// settleOne — one position, one transaction
// ──────────────────────────────────────────────────────────────────────────────

// settleOne decides, credits and closes a single position atomically. The
// returned position reflects the CLOSED row.
func (s *SettlementService) settleOne(ctx context.Context, id uuid.UUID, exit decimal.Decimal, opts closeOptions) (*domain.Position, domain.Settlement, error) {
	var st domain.Settlement

	// ── 1. Begin transaction with a bounded statement time ───────────────────
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, st, fmt.Errorf("settlement_service.settleOne: begin tx: %w", repository.Classify(err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if ms := s.cfg.StatementTimeout.Milliseconds(); ms > 0 {
		if _, err = tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", ms)); err != nil {
			return nil, st, fmt.Errorf("settlement_service.settleOne: statement timeout: %w", repository.Classify(err))
		}
	}

	// ── 2. Lock the OPEN row ─────────────────────────────────────────────────
	var pos *domain.Position
	if pos, err = s.positionRepo.LockOpen(ctx, tx, id, opts.skipLocked); err != nil {
		return nil, st, err
	}
	now := time.Now().UTC().Truncate(time.Microsecond)

	// ── 3. Decide the outcome ────────────────────────────────────────────────
	var (
		outcome domain.Result
		source  domain.OutcomeSource
	)
	claim := func() (*domain.SessionControl, error) {
		return s.sessionRepo.ClaimNext(ctx, tx, pos.ID, now)
	}
	if outcome, source, err = decideOutcome(pos, exit, opts.forced, claim); err != nil {
		return nil, st, fmt.Errorf("settlement_service.settleOne: claim override: %w", err)
	}

	// ── 4. Money ─────────────────────────────────────────────────────────────
	st = domain.ComputeSettlement(pos, outcome, exit, s.cfg.FeeRate, now)
	st.Source = source

	// ── 5. Credit wallet (created if absent) ─────────────────────────────────
	key := domain.WalletKey{UserID: pos.UserID, Asset: s.cfg.Asset}
	var entry domain.LedgerEntry
	if entry, err = s.walletRepo.Credit(ctx, tx, key, st.Credit); err != nil {
		return nil, st, fmt.Errorf("settlement_service.settleOne: credit: %w", err)
	}

	// ── 6. Close the row ─────────────────────────────────────────────────────
	if err = s.positionRepo.Close(ctx, tx, pos.ID, st); err != nil {
		return nil, st, err
	}

	// ── 7. Audit log ─────────────────────────────────────────────────────────
	ref := pos.ID
	txn := &domain.Transaction{
		ID:            uuid.New(),
		WalletID:      entry.WalletID,
		Type:          opts.txType,
		Amount:        st.Credit,
		BalanceBefore: entry.BalanceBefore,
		BalanceAfter:  entry.BalanceAfter,
		RefID:         &ref,
		Description:   fmt.Sprintf("%s %s (%s by %s)", st.Result, pos.Symbol, st.Source, opts.actor),
		CreatedAt:     now,
	}
	if err = s.walletRepo.LogTransaction(ctx, tx, txn); err != nil {
		return nil, st, fmt.Errorf("settlement_service.settleOne: log tx: %w", err)
	}

	// ── 8. Commit ────────────────────────────────────────────────────────────
	if err = tx.Commit(); err != nil {
		return nil, st, fmt.Errorf("settlement_service.settleOne: commit: %w", repository.Classify(err))
	}

	closed := *pos
	closed.Status = domain.PositionClosed
	closed.ExitPrice = &st.ExitPrice
	closed.Result = &st.Result
	closed.ActualProfit = &st.ActualProfit
	closed.ClosedAt = &st.ClosedAt

	metrics.Settlements.WithLabelValues(string(st.Result), string(st.Source)).Inc()
	if st.Source == domain.SourceOverride {
		metrics.OverrideClaims.Inc()
	}
	s.logger.Info("position settled",
		"position_id", closed.ID, "user_id", closed.UserID, "result", st.Result,
		"source", st.Source, "exit_price", st.ExitPrice, "credit", st.Credit, "actor", opts.actor)

	go s.postSettleAsync(closed, st)

	return &closed, st, nil
}

// postSettleAsync pushes the result to the owner's live connections.
func (s *SettlementService) postSettleAsync(pos domain.Position, st domain.Settlement) {
	if s.announcer == nil {
		return
	}
	timeout := s.cfg.AnnounceTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.announcer.Notify(ctx, notify.EventPositionSettled, ws.NewPositionSettledMessage(&pos, st)); err != nil {
		s.logger.Warn("settlement push failed", "position_id", pos.ID, "err", err)
	}
}

// decideOutcome picks the result of a close. A forced result is used as is
// and leaves the queue alone; otherwise the next pending override is
// claimed, and with none pending the price move decides.
func decideOutcome(
	pos *domain.Position,
	exit decimal.Decimal,
	forced *domain.Result,
	claim func() (*domain.SessionControl, error),
) (domain.Result, domain.OutcomeSource, error) {
	if forced != nil {
		return *forced, domain.SourceManual, nil
	}
	sc, err := claim()
	switch {
	case err == nil:
		return sc.Final, domain.SourceOverride, nil
	case errors.Is(err, domain.ErrNoSessionControl):
		return domain.DecideByPrice(pos.Side, pos.EntryPrice, exit), domain.SourcePrice, nil
	default:
		return "", "", err
	}
}

func scopeLabel(scope SweepScope) string {
	if scope.UserID != nil {
		return "user"
	}
	return "global"
}
