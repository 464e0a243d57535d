package worker

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/SVKNL/payout-service/internal/observability"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultWorkers     = 4
	defaultQueueSize   = 256
	defaultMaxAttempts = 3
)

// PayoutProcessor advances one payout; it is the unit of work the dispatcher
// schedules.
type PayoutProcessor interface {
	ProcessPayout(ctx context.Context, id uuid.UUID) error
}

// Dispatcher fans payout IDs out to a fixed pool of goroutines, wrapping the
// processor's pure logic with the retry policy: up to maxAttempts attempts
// with exponential backoff, then dead-letter. Duplicate enqueues for the same
// ID are harmless; the processor's locking makes the loser a no-op.
type Dispatcher struct {
	processor   PayoutProcessor
	queue       chan uuid.UUID
	workers     int
	maxAttempts int
	backoff     BackoffConfig
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

func NewDispatcher(processor PayoutProcessor) *Dispatcher {
	return &Dispatcher{
		processor:   processor,
		queue:       make(chan uuid.UUID, defaultQueueSize),
		workers:     defaultWorkers,
		maxAttempts: defaultMaxAttempts,
		backoff:     DefaultBackoff(),
		stopCh:      make(chan struct{}),
	}
}

// WithWorkers sets the goroutine pool size.
func (d *Dispatcher) WithWorkers(n int) *Dispatcher {
	if n > 0 {
		d.workers = n
	}
	return d
}

// WithQueueSize sets the pending queue capacity.
func (d *Dispatcher) WithQueueSize(n int) *Dispatcher {
	if n > 0 {
		d.queue = make(chan uuid.UUID, n)
	}
	return d
}

// WithMaxAttempts sets the retry ceiling per invocation.
func (d *Dispatcher) WithMaxAttempts(n int) *Dispatcher {
	if n > 0 {
		d.maxAttempts = n
	}
	return d
}

// WithBackoff sets the retry delay curve.
func (d *Dispatcher) WithBackoff(cfg BackoffConfig) *Dispatcher {
	d.backoff = cfg
	return d
}

// Enqueue schedules one transition worker invocation for a payout. It never
// blocks; when the queue is full the ID is dropped with an error log, leaving
// the record in PENDING for operational follow-up.
func (d *Dispatcher) Enqueue(id uuid.UUID) {
	select {
	case d.queue <- id:
		observability.SetQueueDepth(len(d.queue))
	default:
		zap.L().Error("payout queue full, dropping invocation", zap.String("payout_id", id.String()))
		observability.IncrementDeadLetter()
	}
}

// Start launches the worker pool and blocks until the context is canceled or
// Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	zap.L().Info("payout dispatcher starting",
		zap.Int("workers", d.workers),
		zap.Int("queue_size", cap(d.queue)),
		zap.Int("max_attempts", d.maxAttempts),
	)

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.workLoop(ctx)
	}
	d.wg.Wait()
}

func (d *Dispatcher) workLoop(ctx context.Context) {
	defer d.wg.Done()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case id := <-d.queue:
			observability.SetQueueDepth(len(d.queue))
			d.process(ctx, id, rng)
		}
	}
}

// process runs one invocation through the retry policy.
func (d *Dispatcher) process(ctx context.Context, id uuid.UUID, rng *rand.Rand) {
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		err := d.processor.ProcessPayout(ctx, id)
		if err == nil {
			observability.IncrementWorkerAttempt("success")
			return
		}
		if ctx.Err() != nil {
			zap.L().Warn("payout invocation canceled", zap.String("payout_id", id.String()), zap.Error(err))
			return
		}

		observability.IncrementWorkerAttempt("retry")
		if attempt == d.maxAttempts {
			break
		}
		delay := NextDelay(attempt, d.backoff, rng)
		zap.L().Warn("payout invocation failed, retrying",
			zap.String("payout_id", id.String()),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		case <-d.stopCh:
			timer.Stop()
			return
		}
	}

	// Retries exhausted: abandon the invocation and surface it to operators.
	// The record stays in whatever status it last reached.
	observability.IncrementDeadLetter()
	zap.L().Error("payout invocation abandoned after max attempts",
		zap.String("payout_id", id.String()),
		zap.Int("attempts", d.maxAttempts),
	)
}

// Stop signals the pool to drain and exit.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})
}

// Run starts the dispatcher in a goroutine and returns a stop function.
func (d *Dispatcher) Run(ctx context.Context) func() {
	go d.Start(ctx)
	return d.Stop
}
