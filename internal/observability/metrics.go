package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpDurationHistogram *prometheus.HistogramVec
	payoutTransitionCount *prometheus.CounterVec
	workerAttemptCounter  *prometheus.CounterVec
	deadLetterCounter     prometheus.Counter
	queueDepthGauge       prometheus.Gauge
	staleFailedCounter    prometheus.Counter
	idempotencyCounter    *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		payoutTransitionCount = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payout_status_transitions_total",
			Help: "Committed payout status transitions",
		}, []string{"from", "to"})

		workerAttemptCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payout_worker_attempts_total",
			Help: "Transition worker attempt outcomes",
		}, []string{"result"})

		deadLetterCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payout_worker_dead_letters_total",
			Help: "Payout invocations abandoned after exhausting retries",
		})

		queueDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "payout_worker_queue_depth",
			Help: "Payout IDs currently waiting in the dispatch queue",
		})

		staleFailedCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payout_stale_processing_failed_total",
			Help: "Payouts moved from stale PROCESSING to FAILED by the reaper",
		})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		prometheus.MustRegister(
			httpDurationHistogram,
			payoutTransitionCount,
			workerAttemptCounter,
			deadLetterCounter,
			queueDepthGauge,
			staleFailedCounter,
			idempotencyCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementPayoutTransition(from, to string) {
	if payoutTransitionCount == nil {
		return
	}
	payoutTransitionCount.WithLabelValues(from, to).Inc()
}

func IncrementWorkerAttempt(result string) {
	if workerAttemptCounter == nil {
		return
	}
	workerAttemptCounter.WithLabelValues(result).Inc()
}

func IncrementDeadLetter() {
	if deadLetterCounter == nil {
		return
	}
	deadLetterCounter.Inc()
}

func SetQueueDepth(depth int) {
	if queueDepthGauge == nil {
		return
	}
	queueDepthGauge.Set(float64(depth))
}

func AddStaleFailed(n int64) {
	if staleFailedCounter == nil {
		return
	}
	staleFailedCounter.Add(float64(n))
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}
