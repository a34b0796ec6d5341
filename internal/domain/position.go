package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// Side is the direction a position bets on.
type Side string

const (
	SideBuyUp   Side = "BUY_UP"
	SideBuyDown Side = "BUY_DOWN"
)

// IsValid reports whether s is one of the two supported sides.
func (s Side) IsValid() bool {
	return s == SideBuyUp || s == SideBuyDown
}

// PositionStatus is the lifecycle state of a position. CLOSED is terminal.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// IsValid reports whether s is a known status.
func (s PositionStatus) IsValid() bool {
	return s == PositionOpen || s == PositionClosed
}

// Result is the settled outcome of a position.
type Result string

const (
	ResultWin  Result = "WIN"
	ResultLoss Result = "LOSS"
)

// IsValid reports whether r is WIN or LOSS.
func (r Result) IsValid() bool {
	return r == ResultWin || r == ResultLoss
}

// ──────────────────────────────────────────────────────────────────────────────
// Position
// ──────────────────────────────────────────────────────────────────────────────

// Position is one binary contract opened by a user against a stake.
// The settlement columns are NULL until the position is closed.
type Position struct {
	ID             uuid.UUID        `json:"id"              db:"id"`
	UserID         uuid.UUID        `json:"user_id"         db:"user_id"`
	Symbol         string           `json:"symbol"          db:"symbol"`
	Side           Side             `json:"side"            db:"side"`
	EntryPrice     decimal.Decimal  `json:"entry_price"     db:"entry_price"`
	Amount         decimal.Decimal  `json:"amount"          db:"amount"`
	Duration       int              `json:"duration"        db:"duration"` // seconds
	Profitability  decimal.Decimal  `json:"profitability"   db:"profitability"`
	ExpectedProfit decimal.Decimal  `json:"expected_profit" db:"expected_profit"`
	ExpectedPayout decimal.Decimal  `json:"expected_payout" db:"expected_payout"`
	Status         PositionStatus   `json:"status"          db:"status"`
	ExitPrice      *decimal.Decimal `json:"exit_price"      db:"exit_price"`
	Result         *Result          `json:"result"          db:"result"`
	ActualProfit   *decimal.Decimal `json:"actual_profit"   db:"actual_profit"`
	ExpiresAt      time.Time        `json:"expires_at"      db:"expires_at"`
	CreatedAt      time.Time        `json:"created_at"      db:"created_at"`
	ClosedAt       *time.Time       `json:"closed_at"       db:"closed_at"`
}

// IsOpen returns true while the position still awaits settlement.
func (p *Position) IsOpen() bool {
	return p.Status == PositionOpen
}

// IsExpired reports whether the position's countdown has elapsed at now.
func (p *Position) IsExpired(now time.Time) bool {
	return !p.ExpiresAt.After(now)
}

// ExpectedProfitFor returns amount × profitability / 100.
func ExpectedProfitFor(amount, profitability decimal.Decimal) decimal.Decimal {
	return amount.Mul(profitability).Div(hundred)
}

var hundred = decimal.NewFromInt(100)

// ──────────────────────────────────────────────────────────────────────────────
// OpenPositionRequest — value object used by PositionService
// ──────────────────────────────────────────────────────────────────────────────

// OpenPositionRequest carries the inputs for opening a position.
type OpenPositionRequest struct {
	UserID        uuid.UUID
	Symbol        string
	Side          Side
	Amount        decimal.Decimal
	Duration      int
	CurrentPrice  decimal.Decimal
	Profitability decimal.Decimal
}

// Validate rejects requests that must never reach storage.
func (r OpenPositionRequest) Validate() error {
	switch {
	case r.UserID == uuid.Nil:
		return &ValidationError{Field: "user_id", Reason: "is required"}
	case r.Symbol == "":
		return &ValidationError{Field: "symbol", Reason: "is required"}
	case !r.Side.IsValid():
		return &ValidationError{Field: "side", Reason: "must be BUY_UP or BUY_DOWN"}
	case !r.Amount.IsPositive():
		return &ValidationError{Field: "amount", Reason: "must be greater than 0"}
	case r.Duration <= 0:
		return &ValidationError{Field: "duration", Reason: "must be a positive number of seconds"}
	case r.Duration > MaxDuration:
		return &ValidationError{Field: "duration", Reason: "must not exceed 30 days"}
	case !r.CurrentPrice.IsPositive():
		return &ValidationError{Field: "currentPrice", Reason: "must be greater than 0"}
	case !r.Profitability.IsPositive():
		return &ValidationError{Field: "profitability", Reason: "must be greater than 0"}
	case r.Profitability.GreaterThan(MaxProfitability):
		return &ValidationError{Field: "profitability", Reason: "must not exceed 99"}
	}
	return nil
}

// MaxDuration is the longest countdown in seconds a position may run.
const MaxDuration = 30 * 24 * 60 * 60

// MaxProfitability is the highest percentage a position may be opened with
// under any fee rate.
var MaxProfitability = decimal.NewFromInt(99)

// MaxProfitabilityFor caps profitability so a LOSS never credits a negative
// amount: profitability × (1 + feeRate) must stay within 100.
func MaxProfitabilityFor(feeRate decimal.Decimal) decimal.Decimal {
	limit := hundred.Div(decimal.NewFromInt(1).Add(feeRate))
	if limit.GreaterThan(MaxProfitability) {
		return MaxProfitability
	}
	return limit
}

// ──────────────────────────────────────────────────────────────────────────────
// API views
// ──────────────────────────────────────────────────────────────────────────────

// PositionResponse is the client-facing view of a position.
type PositionResponse struct {
	ID             uuid.UUID        `json:"id"`
	Symbol         string           `json:"symbol"`
	Side           Side             `json:"side"`
	EntryPrice     decimal.Decimal  `json:"entryPrice"`
	Amount         decimal.Decimal  `json:"amount"`
	Duration       int              `json:"duration"`
	Profitability  decimal.Decimal  `json:"profitability"`
	ExpectedProfit decimal.Decimal  `json:"expectedProfit"`
	ExpectedPayout decimal.Decimal  `json:"expectedPayout"`
	Status         PositionStatus   `json:"status"`
	ExitPrice      *decimal.Decimal `json:"exitPrice,omitempty"`
	Result         *Result          `json:"result,omitempty"`
	ActualProfit   *decimal.Decimal `json:"actualProfit,omitempty"`
	ExpiresAt      time.Time        `json:"expiresAt"`
	CreatedAt      time.Time        `json:"createdAt"`
	ClosedAt       *time.Time       `json:"closedAt,omitempty"`
}

// ToResponse converts a Position to its API response form.
func (p *Position) ToResponse() PositionResponse {
	return PositionResponse{
		ID:             p.ID,
		Symbol:         p.Symbol,
		Side:           p.Side,
		EntryPrice:     p.EntryPrice,
		Amount:         p.Amount,
		Duration:       p.Duration,
		Profitability:  p.Profitability,
		ExpectedProfit: p.ExpectedProfit,
		ExpectedPayout: p.ExpectedPayout,
		Status:         p.Status,
		ExitPrice:      p.ExitPrice,
		Result:         p.Result,
		ActualProfit:   p.ActualProfit,
		ExpiresAt:      p.ExpiresAt,
		CreatedAt:      p.CreatedAt,
		ClosedAt:       p.ClosedAt,
	}
}

// SettledPosition is the compact summary returned by a per-user sweep.
type SettledPosition struct {
	ID           uuid.UUID       `json:"id"`
	Symbol       string          `json:"symbol"`
	Side         Side            `json:"side"`
	Result       Result          `json:"result"`
	ActualProfit decimal.Decimal `json:"actualProfit"`
}

// PositionFilter narrows list and sweep queries. Zero values mean "any".
type PositionFilter struct {
	UserID *uuid.UUID
	Symbol string
	Status PositionStatus
	Limit  int
	Offset int
}
