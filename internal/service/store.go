package service

import (
	"context"
	"time"

	"github.com/SVKNL/payout-service/internal/domain"
	"github.com/google/uuid"
)

// Tx is the set of queries available inside a transactional boundary.
// GetPayoutForUpdate must block concurrent for-update reads of the same ID
// until the boundary closes; that lock keeps the two worker phases race-free
// against duplicate invocations and external status edits.
type Tx interface {
	GetPayoutForUpdate(ctx context.Context, id uuid.UUID) (*domain.Payout, error)
	UpdatePayoutStatus(ctx context.Context, id uuid.UUID, status domain.Status) (int64, error)
	UpdatePayoutDescription(ctx context.Context, id uuid.UUID, description string) (int64, error)
}

// Store defines the data access contract required by the payout service and
// the transition processor.
type Store interface {
	RunInTx(ctx context.Context, fn func(tx Tx) error) error

	CreatePayout(ctx context.Context, p *domain.Payout) error
	GetPayout(ctx context.Context, id uuid.UUID) (*domain.Payout, error)
	ListPayouts(ctx context.Context, limit, offset int32) ([]domain.Payout, error)
	DeletePayout(ctx context.Context, id uuid.UUID) (int64, error)

	// FailStaleProcessing moves payouts stuck in PROCESSING since before the
	// cutoff to FAILED and reports how many rows were touched.
	FailStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error)
}
