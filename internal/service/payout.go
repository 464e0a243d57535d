package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/SVKNL/payout-service/internal/domain"
	"github.com/SVKNL/payout-service/internal/observability"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrInvalidAmount       = errors.New("amount must be positive with at most two decimal places")
	ErrAmountTooLarge      = errors.New("amount exceeds the supported range")
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	ErrInvalidRecipient    = fmt.Errorf("recipient details must be between %d and %d characters", domain.RecipientMinLength, domain.RecipientMaxLength)
	ErrStatusManaged       = errors.New("status is managed by the system")
	ErrImmutableField      = errors.New("field cannot be updated")
	ErrInvalidTransition   = errors.New("invalid status transition")
)

// ErrPayoutNotFound mirrors the store sentinel for callers of this package.
var ErrPayoutNotFound = domain.ErrPayoutNotFound

// EnqueueFunc hands a freshly persisted payout to the transition worker. It
// must only be called after the insert is committed and visible.
type EnqueueFunc func(id uuid.UUID)

// PayoutService handles payout CRUD and external status edits.
type PayoutService struct {
	store   Store
	enqueue EnqueueFunc
}

func NewPayoutService(store Store, enqueue EnqueueFunc) *PayoutService {
	return &PayoutService{store: store, enqueue: enqueue}
}

// CreatePayoutRequest holds the client-supplied fields for a new payout.
type CreatePayoutRequest struct {
	Amount           decimal.Decimal
	Currency         string
	RecipientDetails string
	Description      string
	Status           domain.Status // optional; anything other than PENDING is rejected
}

// Validate applies the creation-time field rules before any record is
// persisted.
func (r CreatePayoutRequest) Validate() error {
	if r.Amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if r.Amount.Exponent() < -2 {
		return ErrInvalidAmount
	}
	if !r.Amount.LessThan(domain.MaxAmount) {
		return ErrAmountTooLarge
	}
	if _, ok := domain.SupportedCurrencies[r.Currency]; !ok {
		return ErrUnsupportedCurrency
	}
	if len(r.RecipientDetails) < domain.RecipientMinLength || len(r.RecipientDetails) > domain.RecipientMaxLength {
		return ErrInvalidRecipient
	}
	if r.Status != "" && r.Status != domain.StatusPending {
		return ErrStatusManaged
	}
	return nil
}

// CreatePayout validates and persists a new PENDING payout, then schedules
// one transition worker invocation for it.
func (s *PayoutService) CreatePayout(ctx context.Context, req CreatePayoutRequest) (*domain.Payout, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	payout := &domain.Payout{
		ID:               uuid.New(),
		Amount:           req.Amount,
		Currency:         req.Currency,
		RecipientDetails: req.RecipientDetails,
		Description:      req.Description,
		Status:           domain.StatusPending,
	}
	if err := s.store.CreatePayout(ctx, payout); err != nil {
		return nil, fmt.Errorf("create payout: %w", err)
	}

	// The insert above is durable at this point, so the worker cannot race a
	// not-yet-visible record.
	if s.enqueue != nil {
		s.enqueue(payout.ID)
	}
	zap.L().Info("payout created",
		zap.String("payout_id", payout.ID.String()),
		zap.String("currency", payout.Currency),
		zap.String("amount", payout.Amount.String()),
	)
	return payout, nil
}

// GetPayout retrieves a payout by ID.
func (s *PayoutService) GetPayout(ctx context.Context, id uuid.UUID) (*domain.Payout, error) {
	payout, err := s.store.GetPayout(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrPayoutNotFound) {
			return nil, ErrPayoutNotFound
		}
		return nil, fmt.Errorf("get payout: %w", err)
	}
	return payout, nil
}

// ListPayouts returns payouts ordered by creation time, newest first.
func (s *PayoutService) ListPayouts(ctx context.Context, limit, offset int32) ([]domain.Payout, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	payouts, err := s.store.ListPayouts(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	return payouts, nil
}

// UpdatePayoutRequest carries a partial edit. Nil fields are untouched.
type UpdatePayoutRequest struct {
	Status      *domain.Status
	Description *string
}

// UpdatePayout applies an externally validated edit under the record lock.
// Status changes are restricted to the legal-edge set; everything else on the
// entity is immutable here.
func (s *PayoutService) UpdatePayout(ctx context.Context, id uuid.UUID, req UpdatePayoutRequest) (*domain.Payout, error) {
	if req.Status != nil && !domain.ValidStatus(*req.Status) {
		return nil, ErrInvalidTransition
	}

	err := s.store.RunInTx(ctx, func(tx Tx) error {
		current, err := tx.GetPayoutForUpdate(ctx, id)
		if err != nil {
			return err
		}

		if req.Status != nil && *req.Status != current.Status {
			if !domain.IsTransitionAllowed(current.Status, *req.Status) {
				return ErrInvalidTransition
			}
			rows, err := tx.UpdatePayoutStatus(ctx, id, *req.Status)
			if err != nil {
				return fmt.Errorf("update payout status: %w", err)
			}
			if err := requireExactlyOne(rows, "update payout status"); err != nil {
				return err
			}
			observability.IncrementPayoutTransition(string(current.Status), string(*req.Status))
		}

		if req.Description != nil {
			rows, err := tx.UpdatePayoutDescription(ctx, id, *req.Description)
			if err != nil {
				return fmt.Errorf("update payout description: %w", err)
			}
			if err := requireExactlyOne(rows, "update payout description"); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrPayoutNotFound) {
			return nil, ErrPayoutNotFound
		}
		return nil, err
	}

	return s.GetPayout(ctx, id)
}

// DeletePayout removes a payout record.
func (s *PayoutService) DeletePayout(ctx context.Context, id uuid.UUID) error {
	rows, err := s.store.DeletePayout(ctx, id)
	if err != nil {
		return fmt.Errorf("delete payout: %w", err)
	}
	if rows == 0 {
		return ErrPayoutNotFound
	}
	return nil
}

func requireExactlyOne(rows int64, operation string) error {
	if rows != 1 {
		return fmt.Errorf("%s affected %d rows", operation, rows)
	}
	return nil
}
