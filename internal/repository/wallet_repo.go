package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evetabi/contract/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// WalletRepository is the wallet ledger: debit/credit primitives over the
// available balance plus the audit trail. Mutating methods take the caller's
// transaction and never open one of their own.
type WalletRepository struct {
	db *sqlx.DB
}

// NewWalletRepository creates a new WalletRepository.
func NewWalletRepository(db *sqlx.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

// GetByKey fetches the wallet for (user, asset).
func (r *WalletRepository) GetByKey(ctx context.Context, key domain.WalletKey) (*domain.Wallet, error) {
	var w domain.Wallet
	err := r.db.GetContext(ctx, &w,
		`SELECT * FROM wallets WHERE user_id = $1 AND asset = $2`,
		key.UserID, key.Asset)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, fmt.Errorf("wallet_repo.GetByKey: %w", classify(err))
	}
	return &w, nil
}

// Lock creates the wallet with a zero balance if it is absent, then takes
// its row lock for the rest of tx.
func (r *WalletRepository) Lock(ctx context.Context, tx *sqlx.Tx, key domain.WalletKey) (*domain.Wallet, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wallets (user_id, asset, available)
		VALUES ($1, $2, 0)
		ON CONFLICT (user_id, asset) DO NOTHING`,
		key.UserID, key.Asset)
	if err != nil {
		return nil, fmt.Errorf("wallet_repo.Lock ensure: %w", classify(err))
	}

	var w domain.Wallet
	err = tx.GetContext(ctx, &w,
		`SELECT * FROM wallets WHERE user_id = $1 AND asset = $2 FOR UPDATE`,
		key.UserID, key.Asset)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, fmt.Errorf("wallet_repo.Lock select: %w", classify(err))
	}
	return &w, nil
}

// Debit subtracts amount from available inside tx. Returns
// ErrInsufficientBalance, with nothing written, when available < amount.
func (r *WalletRepository) Debit(ctx context.Context, tx *sqlx.Tx, key domain.WalletKey, amount decimal.Decimal) (domain.LedgerEntry, error) {
	w, err := r.Lock(ctx, tx, key)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	if w.Available.LessThan(amount) {
		return domain.LedgerEntry{}, domain.ErrInsufficientBalance
	}
	return r.apply(ctx, tx, w, amount.Neg(), "Debit")
}

// Credit adds amount to available inside tx, creating the wallet if absent.
func (r *WalletRepository) Credit(ctx context.Context, tx *sqlx.Tx, key domain.WalletKey, amount decimal.Decimal) (domain.LedgerEntry, error) {
	w, err := r.Lock(ctx, tx, key)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	return r.apply(ctx, tx, w, amount, "Credit")
}

func (r *WalletRepository) apply(ctx context.Context, tx *sqlx.Tx, w *domain.Wallet, delta decimal.Decimal, op string) (domain.LedgerEntry, error) {
	var after decimal.Decimal
	err := tx.GetContext(ctx, &after, `
		UPDATE wallets
		SET available = available + $1, updated_at = now()
		WHERE id = $2
		RETURNING available`,
		delta, w.ID)
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("wallet_repo.%s update: %w", op, classify(err))
	}
	return domain.LedgerEntry{
		WalletID:      w.ID,
		BalanceBefore: w.Available,
		BalanceAfter:  after,
	}, nil
}

// LogTransaction inserts an audit record into wallet_transactions inside a transaction.
func (r *WalletRepository) LogTransaction(ctx context.Context, tx *sqlx.Tx, txn *domain.Transaction) error {
	query := `
		INSERT INTO wallet_transactions
			(id, wallet_id, type, amount, balance_before, balance_after, ref_id, description, created_at)
		VALUES
			(:id, :wallet_id, :type, :amount, :balance_before, :balance_after, :ref_id, :description, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, txn); err != nil {
		return fmt.Errorf("wallet_repo.LogTransaction: %w", classify(err))
	}
	return nil
}

// GetTransactions returns the audit rows that reference one position.
func (r *WalletRepository) GetTransactions(ctx context.Context, positionID uuid.UUID) ([]*domain.Transaction, error) {
	var txns []*domain.Transaction
	err := r.db.SelectContext(ctx, &txns, `
		SELECT * FROM wallet_transactions
		WHERE ref_id = $1
		ORDER BY created_at ASC`,
		positionID)
	if err != nil {
		return nil, fmt.Errorf("wallet_repo.GetTransactions: %w", classify(err))
	}
	return txns, nil
}
