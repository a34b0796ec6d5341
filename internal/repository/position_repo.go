package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/evetabi/contract/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// PositionRepository handles all database operations for Positions.
type PositionRepository struct {
	db *sqlx.DB
}

// NewPositionRepository creates a new PositionRepository.
func NewPositionRepository(db *sqlx.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// Create inserts a new OPEN position inside an existing transaction.
// A concurrent open for the same user that slipped past HasOpenForUser is
// caught by the partial unique index and reported as ErrOpenPositionExists.
func (r *PositionRepository) Create(ctx context.Context, tx *sqlx.Tx, p *domain.Position) error {
	query := `
		INSERT INTO positions
			(id, user_id, symbol, side, entry_price, amount, duration, profitability,
			 expected_profit, expected_payout, status, expires_at, created_at)
		VALUES
			(:id, :user_id, :symbol, :side, :entry_price, :amount, :duration, :profitability,
			 :expected_profit, :expected_payout, :status, :expires_at, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, p); err != nil {
		return fmt.Errorf("position_repo.Create: %w", classify(err))
	}
	return nil
}

// HasOpenForUser reports whether the user holds any OPEN position, whatever
// the symbol. Must run in the same transaction as the insert it guards.
func (r *PositionRepository) HasOpenForUser(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (bool, error) {
	var exists bool
	err := tx.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM positions WHERE user_id = $1 AND status = 'OPEN')`,
		userID)
	if err != nil {
		return false, fmt.Errorf("position_repo.HasOpenForUser: %w", classify(err))
	}
	return exists, nil
}

// GetByID fetches a position by its primary key.
func (r *PositionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Position, error) {
	var p domain.Position
	err := r.db.GetContext(ctx, &p, `SELECT * FROM positions WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPositionNotFound
		}
		return nil, fmt.Errorf("position_repo.GetByID: %w", classify(err))
	}
	return &p, nil
}

// ListExpiredOpen returns OPEN positions whose expiry is at or before now,
// oldest expiry first. UserID and Symbol in f narrow the scope; Limit caps
// the batch (0 = no cap).
func (r *PositionRepository) ListExpiredOpen(ctx context.Context, f domain.PositionFilter, now time.Time) ([]*domain.Position, error) {
	where := []string{`status = 'OPEN'`, `expires_at <= $1`}
	args := []any{now}

	if f.UserID != nil {
		args = append(args, *f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Symbol != "" {
		args = append(args, f.Symbol)
		where = append(where, fmt.Sprintf("symbol = $%d", len(args)))
	}

	query := `SELECT * FROM positions WHERE ` + strings.Join(where, " AND ") + ` ORDER BY expires_at ASC, id ASC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var positions []*domain.Position
	if err := r.db.SelectContext(ctx, &positions, query, args...); err != nil {
		return nil, fmt.Errorf("position_repo.ListExpiredOpen: %w", classify(err))
	}
	return positions, nil
}

// DistinctExpiredSymbols returns the symbols that have at least one expired
// OPEN position. The scheduler sweeps each of them with its own price.
func (r *PositionRepository) DistinctExpiredSymbols(ctx context.Context, now time.Time) ([]string, error) {
	var symbols []string
	err := r.db.SelectContext(ctx, &symbols, `
		SELECT DISTINCT symbol
		FROM positions
		WHERE status = 'OPEN' AND expires_at <= $1
		ORDER BY symbol`,
		now)
	if err != nil {
		return nil, fmt.Errorf("position_repo.DistinctExpiredSymbols: %w", classify(err))
	}
	return symbols, nil
}

// LockOpen takes the row lock on an OPEN position inside tx.
//
// With skipLocked a row held by another settler is skipped instead of waited
// for; both that case and an already CLOSED row return ErrPositionNotOpen.
func (r *PositionRepository) LockOpen(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, skipLocked bool) (*domain.Position, error) {
	query := `SELECT * FROM positions WHERE id = $1 AND status = 'OPEN' FOR UPDATE`
	if skipLocked {
		query += ` SKIP LOCKED`
	}

	var p domain.Position
	if err := tx.GetContext(ctx, &p, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPositionNotOpen
		}
		return nil, fmt.Errorf("position_repo.LockOpen: %w", classify(err))
	}
	return &p, nil
}

// Close writes the settlement outputs and flips the row to CLOSED. The
// status guard makes the transition happen at most once.
func (r *PositionRepository) Close(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, s domain.Settlement) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE positions
		SET status        = 'CLOSED',
		    exit_price    = $1,
		    result        = $2,
		    actual_profit = $3,
		    closed_at     = $4
		WHERE id = $5 AND status = 'OPEN'`,
		s.ExitPrice, string(s.Result), s.ActualProfit, s.ClosedAt, id)
	if err != nil {
		return fmt.Errorf("position_repo.Close: %w", classify(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrPositionNotOpen
	}
	return nil
}

// ListByUser returns a user's positions, newest first. CLOSED lists are
// ordered by close time so the most recently settled come first.
func (r *PositionRepository) ListByUser(ctx context.Context, userID uuid.UUID, status domain.PositionStatus, limit int) ([]*domain.Position, error) {
	var (
		positions []*domain.Position
		err       error
	)
	switch status {
	case domain.PositionClosed:
		err = r.db.SelectContext(ctx, &positions, `
			SELECT * FROM positions
			WHERE user_id = $1 AND status = 'CLOSED'
			ORDER BY closed_at DESC, created_at DESC
			LIMIT $2`,
			userID, limit)
	case domain.PositionOpen:
		err = r.db.SelectContext(ctx, &positions, `
			SELECT * FROM positions
			WHERE user_id = $1 AND status = 'OPEN'
			ORDER BY created_at DESC
			LIMIT $2`,
			userID, limit)
	default:
		err = r.db.SelectContext(ctx, &positions, `
			SELECT * FROM positions
			WHERE user_id = $1
			ORDER BY created_at DESC
			LIMIT $2`,
			userID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("position_repo.ListByUser: %w", classify(err))
	}
	return positions, nil
}

// List returns positions for the back-office, newest first.
func (r *PositionRepository) List(ctx context.Context, f domain.PositionFilter) ([]*domain.Position, error) {
	where, args := adminFilter(f)
	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(`SELECT * FROM positions %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args))

	var positions []*domain.Position
	if err := r.db.SelectContext(ctx, &positions, query, args...); err != nil {
		return nil, fmt.Errorf("position_repo.List: %w", classify(err))
	}
	return positions, nil
}

// Count returns the number of positions matching f (Limit/Offset ignored).
func (r *PositionRepository) Count(ctx context.Context, f domain.PositionFilter) (int, error) {
	where, args := adminFilter(f)
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM positions `+where, args...); err != nil {
		return 0, fmt.Errorf("position_repo.Count: %w", classify(err))
	}
	return n, nil
}

func adminFilter(f domain.PositionFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if f.UserID != nil {
		args = append(args, *f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Symbol != "" {
		args = append(args, f.Symbol)
		where = append(where, fmt.Sprintf("symbol = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(where) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(where, " AND "), args
}
