package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/deliveryscore/pkg/db"
)

const (
	ScoringOutcomeApplied       = "applied"
	ScoringOutcomeNotQualifying = "not_qualifying"
	ScoringOutcomeAlreadyScored = "already_scored"
	ScoringOutcomeMissing       = "missing"
	ScoringOutcomeFailed        = "failed"
)

const (
	ScoringReasonDeadlineExceeded     = "deadline_exceeded"
	ScoringReasonDBLockTimeout        = "db_lock_timeout"
	ScoringReasonSerializationFailure = "serialization_failure"
	ScoringReasonDeadlock             = "deadlock"
	ScoringReasonBusy                 = "busy"
	ScoringReasonUniqueViolation      = "unique_violation"
	ScoringReasonUnknown              = "unknown"
)

const (
	LockResourceShipment = "shipment"
	LockResourceCustomer = "customer"
)

const (
	JobReconcile = "reconcile"
)

// ScoringMetrics captures scoring coordinator and reconcile health signals.
type ScoringMetrics struct {
	attempts         *prometheus.CounterVec
	retries          *prometheus.CounterVec
	applyDuration    prometheus.Observer
	dbLockWait       *prometheus.HistogramVec
	jobRuns          *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	jobErrors        *prometheus.CounterVec
	reconcileDrift   *prometheus.GaugeVec
	reconcileRepairs prometheus.Counter
	lockWaitObserver map[string]prometheus.Observer
}

var (
	scoringMetricsOnce sync.Once
	scoringMetrics     *ScoringMetrics
)

// ScoringWithConfig returns the singleton scoring metrics registry using config labels.
func ScoringWithConfig(cfg Config) *ScoringMetrics {
	scoringMetricsOnce.Do(func() {
		scoringMetrics = newScoringMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return scoringMetrics
}

// NewScoringMetricsForRegistry builds an unshared instance bound to registerer.
func NewScoringMetricsForRegistry(registerer prometheus.Registerer) *ScoringMetrics {
	return newScoringMetrics(registerer, Config{ServiceName: "deliveryscore", Environment: "test"})
}

func newScoringMetrics(registerer prometheus.Registerer, cfg Config) *ScoringMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "deliveryscore"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "deliveryscore_scoring_attempts_total",
		Help:        "Scoring coordinator invocations by outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "deliveryscore_scoring_retries_total",
		Help:        "Scoring transactions retried after a transient database failure.",
		ConstLabels: constLabels,
	}, []string{"reason"})
	applyDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "deliveryscore_scoring_duration_seconds",
		Help:        "End to end scoring latency including retries.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		ConstLabels: constLabels,
	})
	dbLockWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "deliveryscore_db_lock_wait_seconds",
		Help:        "Row lock wait time for SELECT FOR UPDATE on scoring rows.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		ConstLabels: constLabels,
	}, []string{"resource"})
	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "deliveryscore_job_runs_total",
		Help:        "Background job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "deliveryscore_job_duration_seconds",
		Help:        "Background job latency.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "deliveryscore_job_errors_total",
		Help:        "Background job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	reconcileDrift := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "deliveryscore_reconcile_drift",
		Help:        "Customers and shipments found out of sync with the score journal in the last reconcile run.",
		ConstLabels: constLabels,
	}, []string{"kind"})
	reconcileRepairs := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "deliveryscore_reconcile_repairs_total",
		Help:        "Customer scores rewritten from the journal.",
		ConstLabels: constLabels,
	})

	registerer.MustRegister(
		attempts,
		retries,
		applyDuration,
		dbLockWait,
		jobRuns,
		jobDuration,
		jobErrors,
		reconcileDrift,
		reconcileRepairs,
	)

	return &ScoringMetrics{
		attempts:         attempts,
		retries:          retries,
		applyDuration:    applyDuration,
		dbLockWait:       dbLockWait,
		jobRuns:          jobRuns,
		jobDuration:      jobDuration,
		jobErrors:        jobErrors,
		reconcileDrift:   reconcileDrift,
		reconcileRepairs: reconcileRepairs,
		lockWaitObserver: map[string]prometheus.Observer{
			LockResourceShipment: dbLockWait.WithLabelValues(LockResourceShipment),
			LockResourceCustomer: dbLockWait.WithLabelValues(LockResourceCustomer),
		},
	}
}

// IncAttempt counts a finished scoring call by outcome.
func (m *ScoringMetrics) IncAttempt(outcome string) {
	if m == nil || m.attempts == nil {
		return
	}
	m.attempts.WithLabelValues(outcome).Inc()
}

// IncRetry counts a retried scoring transaction.
func (m *ScoringMetrics) IncRetry(err error) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.WithLabelValues(ClassifyScoringReason(err)).Inc()
}

// ObserveScoringDuration records total time spent in the coordinator.
func (m *ScoringMetrics) ObserveScoringDuration(duration time.Duration) {
	if m == nil || m.applyDuration == nil {
		return
	}
	m.applyDuration.Observe(duration.Seconds())
}

// ObserveDBLockWait records lock wait time for SELECT FOR UPDATE work.
func (m *ScoringMetrics) ObserveDBLockWait(resource string, duration time.Duration) {
	if m == nil {
		return
	}
	if observer, ok := m.lockWaitObserver[resource]; ok {
		observer.Observe(duration.Seconds())
		return
	}
	m.dbLockWait.WithLabelValues(resource).Observe(duration.Seconds())
}

// IncJobRun increments the run counter for a background job.
func (m *ScoringMetrics) IncJobRun(job string) {
	if m == nil || m.jobRuns == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

// ObserveJobDuration records background job latency.
func (m *ScoringMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil || m.jobDuration == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// IncJobError increments the job error counter with classification.
func (m *ScoringMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil || m.jobErrors == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyScoringReason(err)).Inc()
}

// SetReconcileDrift publishes the drift found by the last reconcile run.
func (m *ScoringMetrics) SetReconcileDrift(kind string, count int) {
	if m == nil || m.reconcileDrift == nil {
		return
	}
	m.reconcileDrift.WithLabelValues(kind).Set(float64(count))
}

// AddReconcileRepairs counts customer rows rewritten by reconcile.
func (m *ScoringMetrics) AddReconcileRepairs(count int) {
	if m == nil || count <= 0 || m.reconcileRepairs == nil {
		return
	}
	m.reconcileRepairs.Add(float64(count))
}

// ClassifyScoringReason maps scoring errors to low-cardinality reasons.
// Retryable reasons come from db.TransientKind so the labels follow the
// retry set.
func ClassifyScoringReason(err error) string {
	if err == nil {
		return ScoringReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ScoringReasonDeadlineExceeded
	}
	switch db.TransientKind(err) {
	case db.TransientSerialization:
		return ScoringReasonSerializationFailure
	case db.TransientDeadlock:
		return ScoringReasonDeadlock
	case db.TransientLockTimeout:
		return ScoringReasonDBLockTimeout
	case db.TransientBusy:
		return ScoringReasonBusy
	}
	if db.IsDuplicateKeyErr(err) {
		return ScoringReasonUniqueViolation
	}
	return ScoringReasonUnknown
}
