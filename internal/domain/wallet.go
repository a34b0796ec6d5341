package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultAsset is the wallet asset positions are staked in.
const DefaultAsset = "USDT"

// WalletKey identifies one wallet row.
type WalletKey struct {
	UserID uuid.UUID
	Asset  string
}

// Wallet holds a user's balance for one asset. The engine only ever reads and
// writes Available; Locked is owned by the deposit/withdraw side.
type Wallet struct {
	ID        uuid.UUID       `json:"id"         db:"id"`
	UserID    uuid.UUID       `json:"user_id"    db:"user_id"`
	Asset     string          `json:"asset"      db:"asset"`
	Available decimal.Decimal `json:"available"  db:"available"`
	Locked    decimal.Decimal `json:"locked"     db:"locked"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Key returns the (user, asset) pair of w.
func (w *Wallet) Key() WalletKey {
	return WalletKey{UserID: w.UserID, Asset: w.Asset}
}

// ──────────────────────────────────────────────────────────────────────────────
// Transaction
// ──────────────────────────────────────────────────────────────────────────────

// TxType enumerates wallet transaction types for auditing.
type TxType string

const (
	TxPositionOpen   TxType = "position_open"
	TxPositionSettle TxType = "position_settle"
	TxPositionManual TxType = "position_close_manual"
)

// Transaction is an immutable audit record for every balance change made by
// the engine.
type Transaction struct {
	ID            uuid.UUID       `json:"id"             db:"id"`
	WalletID      uuid.UUID       `json:"wallet_id"      db:"wallet_id"`
	Type          TxType          `json:"type"           db:"type"`
	Amount        decimal.Decimal `json:"amount"         db:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before" db:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"  db:"balance_after"`
	RefID         *uuid.UUID      `json:"ref_id"         db:"ref_id"` // position ID
	Description   string          `json:"description"    db:"description"`
	CreatedAt     time.Time       `json:"created_at"     db:"created_at"`
}

// LedgerEntry is what Debit and Credit report back to the caller so it can
// write the audit row without re-reading the wallet.
type LedgerEntry struct {
	WalletID      uuid.UUID
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
}
