package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SVKNL/payout-service/internal/domain"
	"github.com/SVKNL/payout-service/internal/observability"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultSettlementDelay = 2 * time.Second

// Sleeper pauses between the claim and settle phases. Tests substitute a
// zero-delay implementation.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Processor advances a single payout through its lifecycle in two locked
// phases: claim (PENDING -> PROCESSING) and settle (PROCESSING -> COMPLETED),
// separated by a settlement delay that stands in for the external rail call.
// It is safe to invoke concurrently and repeatedly for the same ID; losers of
// the row lock observe a mismatched status and no-op.
type Processor struct {
	store       Store
	settleDelay time.Duration
	sleeper     Sleeper
}

func NewProcessor(store Store) *Processor {
	return &Processor{
		store:       store,
		settleDelay: defaultSettlementDelay,
		sleeper:     timerSleeper{},
	}
}

// WithSettlementDelay sets the pause between the claim and settle phases.
func (p *Processor) WithSettlementDelay(d time.Duration) *Processor {
	if d >= 0 {
		p.settleDelay = d
	}
	return p
}

// WithSleeper substitutes the inter-phase sleeper.
func (p *Processor) WithSleeper(s Sleeper) *Processor {
	if s != nil {
		p.sleeper = s
	}
	return p
}

// ProcessPayout drives one payout from PENDING to COMPLETED. A missing record
// or a status that no longer matches the expected phase input resolves to a
// clean no-op; only transient store failures surface as errors, which the
// scheduling layer retries.
func (p *Processor) ProcessPayout(ctx context.Context, id uuid.UUID) error {
	claimed, err := p.advanceLocked(ctx, id, domain.StatusPending, domain.StatusProcessing)
	if err != nil {
		if errors.Is(err, domain.ErrPayoutNotFound) {
			zap.L().Warn("payout not found", zap.String("payout_id", id.String()))
			return nil
		}
		return fmt.Errorf("claim payout %s: %w", id, err)
	}
	if !claimed {
		// Already processed, canceled, or a duplicate invocation.
		return nil
	}

	// Settlement latency simulation. No lock is held here, so neither this
	// record nor any other is blocked while we wait.
	if err := p.sleeper.Sleep(ctx, p.settleDelay); err != nil {
		return fmt.Errorf("settlement delay interrupted for payout %s: %w", id, err)
	}

	settled, err := p.advanceLocked(ctx, id, domain.StatusProcessing, domain.StatusCompleted)
	if err != nil {
		if errors.Is(err, domain.ErrPayoutNotFound) {
			zap.L().Warn("payout vanished before settlement", zap.String("payout_id", id.String()))
			return nil
		}
		return fmt.Errorf("settle payout %s: %w", id, err)
	}
	if settled {
		zap.L().Info("payout completed", zap.String("payout_id", id.String()))
	}
	return nil
}

// advanceLocked is the guarded transition both phases share: read the current
// status under an exclusive row lock, write next only if it equals expected,
// otherwise abort the phase without error.
func (p *Processor) advanceLocked(ctx context.Context, id uuid.UUID, expected, next domain.Status) (bool, error) {
	applied := false
	err := p.store.RunInTx(ctx, func(tx Tx) error {
		payout, err := tx.GetPayoutForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if payout.Status != expected {
			zap.L().Debug("payout transition skipped",
				zap.String("payout_id", id.String()),
				zap.String("status", string(payout.Status)),
				zap.String("expected", string(expected)),
			)
			return nil
		}

		rows, err := tx.UpdatePayoutStatus(ctx, id, next)
		if err != nil {
			return fmt.Errorf("update payout status: %w", err)
		}
		if err := requireExactlyOne(rows, "update payout status"); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if applied {
		observability.IncrementPayoutTransition(string(expected), string(next))
	}
	return applied, nil
}
