package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/evetabi/contract/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// SessionControlRepository stores the override queue.
type SessionControlRepository struct {
	db *sqlx.DB
}

// NewSessionControlRepository creates a new SessionControlRepository.
func NewSessionControlRepository(db *sqlx.DB) *SessionControlRepository {
	return &SessionControlRepository{db: db}
}

// Enqueue appends count entries forcing result, in order, in one
// transaction. created_at uses clock_timestamp() so entries inserted in the
// same transaction still get distinct, increasing times.
func (r *SessionControlRepository) Enqueue(ctx context.Context, result domain.Result, count int, createdBy string) ([]*domain.SessionControl, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("session_control_repo.Enqueue: begin: %w", classify(err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var by *string
	if createdBy != "" {
		by = &createdBy
	}

	out := make([]*domain.SessionControl, 0, count)
	for i := 0; i < count; i++ {
		var sc domain.SessionControl
		err = tx.GetContext(ctx, &sc, `
			INSERT INTO session_controls (id, final, required, created_at, created_by)
			VALUES ($1, $2, TRUE, clock_timestamp(), $3)
			RETURNING *`,
			uuid.New(), string(result), by)
		if err != nil {
			return nil, fmt.Errorf("session_control_repo.Enqueue: insert: %w", classify(err))
		}
		out = append(out, &sc)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("session_control_repo.Enqueue: commit: %w", classify(err))
	}
	return out, nil
}

// ClaimNext consumes the earliest pending entry inside the caller's
// transaction and records which position used it.
//
// Entries locked by another in-flight settlement are skipped rather than
// waited for, so two sweeps never claim the same entry. If the holder rolls
// back, its entry returns to the queue after a later one may already have
// been used. Returns ErrNoSessionControl when nothing claimable is pending.
func (r *SessionControlRepository) ClaimNext(ctx context.Context, tx *sqlx.Tx, positionID uuid.UUID, now time.Time) (*domain.SessionControl, error) {
	var sc domain.SessionControl
	err := tx.GetContext(ctx, &sc, `
		SELECT * FROM session_controls
		WHERE required
		ORDER BY created_at ASC, id ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNoSessionControl
		}
		return nil, fmt.Errorf("session_control_repo.ClaimNext select: %w", classify(err))
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE session_controls
		SET required = FALSE, consumed_at = $1, position_id = $2
		WHERE id = $3 AND required`,
		now, positionID, sc.ID)
	if err != nil {
		return nil, fmt.Errorf("session_control_repo.ClaimNext update: %w", classify(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrNoSessionControl
	}

	sc.Required = false
	sc.ConsumedAt = &now
	sc.PositionID = &positionID
	return &sc, nil
}

// Cancel removes a pending entry. Consumed entries are history and stay.
func (r *SessionControlRepository) Cancel(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM session_controls WHERE id = $1 AND required`, id)
	if err != nil {
		return fmt.Errorf("session_control_repo.Cancel: %w", classify(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrSessionControlNotFound
	}
	return nil
}

// List returns queue entries in consumption order. pendingOnly hides
// consumed entries.
func (r *SessionControlRepository) List(ctx context.Context, pendingOnly bool, limit, offset int) ([]*domain.SessionControl, error) {
	query := `SELECT * FROM session_controls`
	if pendingOnly {
		query += ` WHERE required`
	}
	query += ` ORDER BY created_at ASC, id ASC LIMIT $1 OFFSET $2`

	var entries []*domain.SessionControl
	if err := r.db.SelectContext(ctx, &entries, query, limit, offset); err != nil {
		return nil, fmt.Errorf("session_control_repo.List: %w", classify(err))
	}
	return entries, nil
}

// CountPending returns the number of unconsumed entries.
func (r *SessionControlRepository) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM session_controls WHERE required`); err != nil {
		return 0, fmt.Errorf("session_control_repo.CountPending: %w", classify(err))
	}
	return n, nil
}
