package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionControl is one entry of the override queue. While Required is true
// the entry is pending; the next settlement to claim it uses Final instead of
// comparing prices and flips Required to false.
type SessionControl struct {
	ID         uuid.UUID  `json:"id"          db:"id"`
	Final      Result     `json:"final"       db:"final"`
	Required   bool       `json:"required"    db:"required"`
	CreatedAt  time.Time  `json:"created_at"  db:"created_at"`
	ConsumedAt *time.Time `json:"consumed_at" db:"consumed_at"`
	PositionID *uuid.UUID `json:"position_id" db:"position_id"` // position that consumed it
	CreatedBy  *string    `json:"created_by"  db:"created_by"`
}

// IsPending reports whether the entry can still be claimed.
func (s *SessionControl) IsPending() bool {
	return s.Required
}
