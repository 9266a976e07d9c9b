package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifyScoringReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: ScoringReasonDeadlineExceeded},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: ScoringReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: ScoringReasonSerializationFailure},
		{name: "pg_deadlock", err: fmt.Errorf("lock customer: %w", &pgconn.PgError{Code: "40P01"}), want: ScoringReasonDeadlock},
		{name: "mysql_deadlock", err: &mysql.MySQLError{Number: 1213}, want: ScoringReasonDeadlock},
		{name: "mysql_lock_wait_timeout", err: &mysql.MySQLError{Number: 1205}, want: ScoringReasonDBLockTimeout},
		{name: "mysql_duplicate", err: &mysql.MySQLError{Number: 1062}, want: ScoringReasonUniqueViolation},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: ScoringReasonUniqueViolation},
		{name: "sqlite_busy", err: errors.New("database is locked (5) (SQLITE_BUSY)"), want: ScoringReasonBusy},
		{name: "unknown", err: errors.New("boom"), want: ScoringReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyScoringReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestScoringMetricsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newScoringMetrics(registry, Config{
		ServiceName: "deliveryscore",
		Environment: "test",
	})

	metrics.IncAttempt(ScoringOutcomeApplied)
	metrics.IncAttempt(ScoringOutcomeApplied)
	metrics.IncAttempt(ScoringOutcomeAlreadyScored)
	metrics.IncRetry(&pgconn.PgError{Code: "40P01"})
	metrics.SetReconcileDrift("score", 4)
	metrics.AddReconcileRepairs(2)
	metrics.ObserveDBLockWait(LockResourceShipment, 5*time.Millisecond)

	if got := testutil.ToFloat64(metrics.attempts.WithLabelValues(ScoringOutcomeApplied)); got != 2 {
		t.Fatalf("expected 2 applied attempts, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.retries.WithLabelValues(ScoringReasonDeadlock)); got != 1 {
		t.Fatalf("expected 1 deadlock retry, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.reconcileDrift.WithLabelValues("score")); got != 4 {
		t.Fatalf("expected drift 4, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.reconcileRepairs); got != 2 {
		t.Fatalf("expected 2 repairs, got %v", got)
	}
	if got := testutil.CollectAndCount(metrics.dbLockWait); got != 2 {
		t.Fatalf("expected 2 lock wait series, got %d", got)
	}
}

func TestNilScoringMetricsIsNoop(t *testing.T) {
	var m *ScoringMetrics
	m.IncAttempt(ScoringOutcomeApplied)
	m.IncRetry(errors.New("x"))
	m.ObserveDBLockWait(LockResourceCustomer, time.Second)
	m.IncJobError(JobReconcile, errors.New("x"))
}
