package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a payout.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCanceled   Status = "CANCELED"
)

// ErrPayoutNotFound is returned by stores when no payout exists for an ID.
var ErrPayoutNotFound = errors.New("payout not found")

// SupportedCurrencies is the closed set of currencies payouts can be issued in.
var SupportedCurrencies = map[string]struct{}{
	"USD": {},
	"EUR": {},
	"RUB": {},
}

// Recipient details length bounds enforced at creation time.
const (
	RecipientMinLength = 5
	RecipientMaxLength = 1024
)

// MaxAmount is the exclusive upper bound for payout amounts (NUMERIC(12,2)).
var MaxAmount = decimal.New(1, 10) // 10^10

// Payout is a money-transfer request. Amount, currency and recipient details
// are immutable after creation; status moves only along the edges in
// statusTransitions.
type Payout struct {
	ID               uuid.UUID       `json:"id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	RecipientDetails string          `json:"recipient_details"`
	Description      string          `json:"description"`
	Status           Status          `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

var statusTransitions = map[Status]map[Status]struct{}{
	StatusPending: {
		StatusProcessing: {},
		StatusCanceled:   {},
	},
	StatusProcessing: {
		StatusCompleted: {},
		StatusFailed:    {},
	},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCanceled:  {},
}

// IsTransitionAllowed reports whether a payout may move from one status to
// another. It is total: unknown or terminal source statuses yield false.
func IsTransitionAllowed(from, to Status) bool {
	next, ok := statusTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// IsTerminal reports whether a status has no outgoing transitions.
func IsTerminal(s Status) bool {
	return len(statusTransitions[s]) == 0
}

// ValidStatus reports whether s is one of the five known statuses.
func ValidStatus(s Status) bool {
	_, ok := statusTransitions[s]
	return ok
}
