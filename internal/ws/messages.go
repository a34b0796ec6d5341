// Package ws holds WebSocket message types and the Hub implementation.
// messages.go defines all message structs pushed to connected clients.
package ws

import (
	"time"

	"github.com/evetabi/contract/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MsgType identifies the kind of WS message so clients can switch on it.
type MsgType string

const (
	MsgTypePriceUpdate     MsgType = "price_update"
	MsgTypePositionOpened  MsgType = "contract:new-position-internal"
	MsgTypePositionSettled MsgType = "contract:position-settled"
	MsgTypeError           MsgType = "error"
)

// Addressed is implemented by messages meant for a single user's
// connections rather than every client.
type Addressed interface {
	Recipient() uuid.UUID
}

// ──────────────────────────────────────────────────────────────────────────────
// PriceUpdateMessage — sent on every price refresh.
// ──────────────────────────────────────────────────────────────────────────────

// PriceUpdateMessage carries the aggregated price of one symbol.
type PriceUpdateMessage struct {
	Type      MsgType         `json:"type"`
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// PositionOpenedMessage — announced after an open commits.
// ──────────────────────────────────────────────────────────────────────────────

// PositionOpenedMessage is the new-position announcement.
type PositionOpenedMessage struct {
	Type       MsgType         `json:"type"`
	PositionID uuid.UUID       `json:"positionId"`
	UserID     uuid.UUID       `json:"userId"`
	Symbol     string          `json:"symbol"`
	Side       domain.Side     `json:"side"`
	Amount     decimal.Decimal `json:"amount"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// NewPositionOpenedMessage builds the announcement for p.
func NewPositionOpenedMessage(p *domain.Position) PositionOpenedMessage {
	return PositionOpenedMessage{
		Type:       MsgTypePositionOpened,
		PositionID: p.ID,
		UserID:     p.UserID,
		Symbol:     p.Symbol,
		Side:       p.Side,
		Amount:     p.Amount,
		CreatedAt:  p.CreatedAt,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// PositionSettledMessage — pushed to the owner after a close commits.
// ──────────────────────────────────────────────────────────────────────────────

// PositionSettledMessage tells a user one of their positions closed.
type PositionSettledMessage struct {
	Type         MsgType         `json:"type"`
	PositionID   uuid.UUID       `json:"positionId"`
	UserID       uuid.UUID       `json:"userId"`
	Symbol       string          `json:"symbol"`
	Side         domain.Side     `json:"side"`
	Result       domain.Result   `json:"result"`
	ExitPrice    decimal.Decimal `json:"exitPrice"`
	ActualProfit decimal.Decimal `json:"actualProfit"`
	ClosedAt     time.Time       `json:"closedAt"`
}

// Recipient implements Addressed.
func (m PositionSettledMessage) Recipient() uuid.UUID { return m.UserID }

// NewPositionSettledMessage builds the settled push for p closed by s.
func NewPositionSettledMessage(p *domain.Position, s domain.Settlement) PositionSettledMessage {
	return PositionSettledMessage{
		Type:         MsgTypePositionSettled,
		PositionID:   p.ID,
		UserID:       p.UserID,
		Symbol:       p.Symbol,
		Side:         p.Side,
		Result:       s.Result,
		ExitPrice:    s.ExitPrice,
		ActualProfit: s.ActualProfit,
		ClosedAt:     s.ClosedAt,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// ErrorMessage — sent to a single client on a non-fatal error.
// ──────────────────────────────────────────────────────────────────────────────

// ErrorMessage is sent directly to one client (not broadcast).
type ErrorMessage struct {
	Type    MsgType `json:"type"`
	Code    string  `json:"code"`
	Message string  `json:"message"`
}
