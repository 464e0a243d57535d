package worker

import (
	"context"
	"time"

	"github.com/SVKNL/payout-service/internal/observability"
	"github.com/SVKNL/payout-service/internal/service"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	defaultReaperSchedule = "@every 1m"
	defaultStaleAfter     = 5 * time.Minute
)

// Reaper periodically fails payouts stuck in PROCESSING, the state a payout
// is left in when an invocation died between the claim and settle phases and
// its retries were exhausted. PROCESSING -> FAILED is a legal edge, so the
// record ends in a terminal state operators can act on.
type Reaper struct {
	store      service.Store
	schedule   string
	staleAfter time.Duration
	cron       *cron.Cron
}

func NewReaper(store service.Store) *Reaper {
	return &Reaper{
		store:      store,
		schedule:   defaultReaperSchedule,
		staleAfter: defaultStaleAfter,
	}
}

// WithSchedule sets the cron spec the sweep runs on.
func (r *Reaper) WithSchedule(spec string) *Reaper {
	if spec != "" {
		r.schedule = spec
	}
	return r
}

// WithStaleAfter sets how long a payout may sit in PROCESSING before it is
// considered stuck.
func (r *Reaper) WithStaleAfter(d time.Duration) *Reaper {
	if d > 0 {
		r.staleAfter = d
	}
	return r
}

// Start schedules the sweep and returns; Stop tears it down.
func (r *Reaper) Start(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(r.schedule, func() {
		r.RunOnce(ctx)
	})
	if err != nil {
		return err
	}
	c.Start()
	r.cron = c
	zap.L().Info("stale payout reaper started",
		zap.String("schedule", r.schedule),
		zap.Duration("stale_after", r.staleAfter),
	)
	return nil
}

// RunOnce executes a single sweep.
func (r *Reaper) RunOnce(ctx context.Context) {
	cutoff := time.Now().Add(-r.staleAfter)
	n, err := r.store.FailStaleProcessing(ctx, cutoff)
	if err != nil {
		zap.L().Error("stale payout sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		observability.AddStaleFailed(n)
		zap.L().Warn("failed stale processing payouts", zap.Int64("count", n))
	}
}

// Stop halts the schedule and waits for a running sweep to finish.
func (r *Reaper) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}
