package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/evetabi/contract/internal/config"
	"github.com/evetabi/contract/internal/domain"
	"github.com/evetabi/contract/internal/metrics"
	"github.com/evetabi/contract/internal/notify"
	"github.com/evetabi/contract/internal/repository"
	"github.com/evetabi/contract/internal/ws"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ──────────────────────────────────────────────────────────────────────────────
// Interfaces injected into the services to avoid import cycles
// ──────────────────────────────────────────────────────────────────────────────

// Announcer delivers best-effort real-time events. Implemented by
// notify.Notifier.
type Announcer interface {
	Notify(ctx context.Context, event string, payload any) error
}

const (
	defaultListLimit = 30
	maxListLimit     = 100
)

// ──────────────────────────────────────────────────────────────────────────────
// PositionService
// ──────────────────────────────────────────────────────────────────────────────

// PositionService opens positions and serves a user's position history.
// Opening debits the stake and inserts the OPEN row in one transaction.
type PositionService struct {
	db           *sqlx.DB
	positionRepo *repository.PositionRepository
	walletRepo   *repository.WalletRepository
	cfg          *config.SettlementConfig
	announcer    Announcer // injected after the notifier is built
	logger       *slog.Logger
}

// NewPositionService creates a PositionService.
func NewPositionService(
	db *sqlx.DB,
	positionRepo *repository.PositionRepository,
	walletRepo *repository.WalletRepository,
	cfg *config.Config,
	logger *slog.Logger,
) *PositionService {
	return &PositionService{
		db:           db,
		positionRepo: positionRepo,
		walletRepo:   walletRepo,
		cfg:          &cfg.Settlement,
		logger:       logger.With(slog.String("component", "position")),
	}
}

// SetAnnouncer injects the real-time notifier post-construction.
func (s *PositionService) SetAnnouncer(a Announcer) { s.announcer = a }

// ──────────────────────────────────────────────────────────────────────────────
// Open
// ──────────────────────────────────────────────────────────────────────────────

// Open validates the request, checks the user holds no other OPEN position,
// debits the stake and writes the OPEN row, all inside one transaction.
//
// The wallet row lock is taken first, so concurrent opens for one user
// serialize on it and the open-position check cannot race. After commit
// the new position is announced asynchronously.
func (s *PositionService) Open(ctx context.Context, req domain.OpenPositionRequest) (*domain.Position, error) {
	// ── 1. Input validation ──────────────────────────────────────────────────
	req.Symbol = domain.NormalizeSymbol(req.Symbol)
	if err := req.Validate(); err != nil {
		metrics.OpenRejections.WithLabelValues("validation").Inc()
		return nil, err
	}
	if limit := domain.MaxProfitabilityFor(s.cfg.FeeRate); req.Profitability.GreaterThan(limit) {
		metrics.OpenRejections.WithLabelValues("validation").Inc()
		return nil, &domain.ValidationError{
			Field:  "profitability",
			Reason: "must not exceed " + limit.Truncate(2).String() + " at the current fee rate",
		}
	}
	if s.cfg.EnforceSchedule && s.cfg.Schedule != nil {
		if err := s.cfg.Schedule.Check(req.Duration, req.Profitability); err != nil {
			metrics.OpenRejections.WithLabelValues("validation").Inc()
			return nil, err
		}
	}

	key := domain.WalletKey{UserID: req.UserID, Asset: s.cfg.Asset}
	now := time.Now().UTC().Truncate(time.Microsecond)

	// ── 2. Begin transaction ─────────────────────────────────────────────────
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("position_service.Open: begin tx: %w", repository.Classify(err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// ── 3. Lock wallet (created with zero balance if absent) ─────────────────
	if _, err = s.walletRepo.Lock(ctx, tx, key); err != nil {
		return nil, fmt.Errorf("position_service.Open: lock wallet: %w", err)
	}

	// ── 4. One open position per user ────────────────────────────────────────
	var hasOpen bool
	if hasOpen, err = s.positionRepo.HasOpenForUser(ctx, tx, req.UserID); err != nil {
		return nil, fmt.Errorf("position_service.Open: check open: %w", err)
	}
	if hasOpen {
		err = domain.ErrOpenPositionExists
		metrics.OpenRejections.WithLabelValues("conflict").Inc()
		return nil, err
	}

	// ── 5. Debit stake ───────────────────────────────────────────────────────
	var entry domain.LedgerEntry
	if entry, err = s.walletRepo.Debit(ctx, tx, key, req.Amount); err != nil {
		if errors.Is(err, domain.ErrInsufficientBalance) {
			metrics.OpenRejections.WithLabelValues("balance").Inc()
		}
		return nil, fmt.Errorf("position_service.Open: debit: %w", err)
	}

	// ── 6. Persist the position ──────────────────────────────────────────────
	expected := domain.ExpectedProfitFor(req.Amount, req.Profitability)
	pos := &domain.Position{
		ID:             uuid.New(),
		UserID:         req.UserID,
		Symbol:         req.Symbol,
		Side:           req.Side,
		EntryPrice:     req.CurrentPrice,
		Amount:         req.Amount,
		Duration:       req.Duration,
		Profitability:  req.Profitability,
		ExpectedProfit: expected,
		ExpectedPayout: req.Amount.Add(expected),
		Status:         domain.PositionOpen,
		ExpiresAt:      now.Add(time.Duration(req.Duration) * time.Second),
		CreatedAt:      now,
	}
	if err = s.positionRepo.Create(ctx, tx, pos); err != nil {
		if errors.Is(err, domain.ErrOpenPositionExists) {
			metrics.OpenRejections.WithLabelValues("conflict").Inc()
		}
		return nil, fmt.Errorf("position_service.Open: create: %w", err)
	}

	// ── 7. Audit log ─────────────────────────────────────────────────────────
	ref := pos.ID
	txn := &domain.Transaction{
		ID:            uuid.New(),
		WalletID:      entry.WalletID,
		Type:          domain.TxPositionOpen,
		Amount:        req.Amount.Neg(),
		BalanceBefore: entry.BalanceBefore,
		BalanceAfter:  entry.BalanceAfter,
		RefID:         &ref,
		Description:   fmt.Sprintf("%s %s %ds", pos.Side, pos.Symbol, pos.Duration),
		CreatedAt:     now,
	}
	if err = s.walletRepo.LogTransaction(ctx, tx, txn); err != nil {
		return nil, fmt.Errorf("position_service.Open: log tx: %w", err)
	}

	// ── 8. Commit ────────────────────────────────────────────────────────────
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("position_service.Open: commit: %w", repository.Classify(err))
	}

	metrics.PositionsOpened.WithLabelValues(string(pos.Side)).Inc()
	s.logger.Info("position opened",
		"position_id", pos.ID, "user_id", pos.UserID, "symbol", pos.Symbol,
		"side", pos.Side, "amount", pos.Amount, "duration", pos.Duration)

	// ── 9. Async announcement ────────────────────────────────────────────────
	go s.postOpenAsync(*pos)

	return pos, nil
}

// postOpenAsync announces a new position. It has its own timeout, is never
// retried and cannot affect the committed open.
func (s *PositionService) postOpenAsync(pos domain.Position) {
	if s.announcer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.announceTimeout())
	defer cancel()

	if err := s.announcer.Notify(ctx, notify.EventPositionOpened, ws.NewPositionOpenedMessage(&pos)); err != nil {
		s.logger.Warn("position announcement failed", "position_id", pos.ID, "err", err)
	}
}

func (s *PositionService) announceTimeout() time.Duration {
	if s.cfg.AnnounceTimeout > 0 {
		return s.cfg.AnnounceTimeout
	}
	return 5 * time.Second
}

// ──────────────────────────────────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────────────────────────────────

// List returns the user's positions newest first. An empty status lists
// both; limit defaults to 30 and is capped at 100.
func (s *PositionService) List(ctx context.Context, userID uuid.UUID, status domain.PositionStatus, limit int) ([]*domain.Position, error) {
	if status != "" && !status.IsValid() {
		return nil, &domain.ValidationError{Field: "status", Reason: "must be OPEN or CLOSED"}
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	positions, err := s.positionRepo.ListByUser(ctx, userID, status, limit)
	if err != nil {
		return nil, fmt.Errorf("position_service.List: %w", err)
	}
	return positions, nil
}

// Get returns one of the user's positions. Another user's position is
// reported as not found.
func (s *PositionService) Get(ctx context.Context, userID, id uuid.UUID) (*domain.Position, error) {
	p, err := s.positionRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("position_service.Get: %w", err)
	}
	if p.UserID != userID {
		return nil, domain.ErrPositionNotFound
	}
	return p, nil
}

// Balance returns the caller's available balance in the engine's asset.
// A user without a wallet row has a zero balance.
func (s *PositionService) Balance(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	w, err := s.walletRepo.GetByKey(ctx, domain.WalletKey{UserID: userID, Asset: s.cfg.Asset})
	if errors.Is(err, domain.ErrWalletNotFound) {
		return &domain.Wallet{UserID: userID, Asset: s.cfg.Asset}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("position_service.Balance: %w", err)
	}
	return w, nil
}
