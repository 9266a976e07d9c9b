package reconcile

import (
	"context"
	"time"

	obscontext "github.com/smallbiznis/deliveryscore/internal/observability/context"
	obslogger "github.com/smallbiznis/deliveryscore/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/deliveryscore/internal/observability/metrics"
	"go.uber.org/zap"
)

type jobRun struct {
	runID          string
	batchSize      int
	startedAt      time.Time
	processedCount int
	errorCount     int
}

func (r *jobRun) AddProcessed(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.processedCount += count
}

func (r *jobRun) IncError() {
	if r == nil {
		return
	}
	r.errorCount++
}

func (r *Reconciler) startRun(ctx context.Context, batchSize int) (context.Context, *jobRun) {
	if ctx == nil {
		ctx = context.Background()
	}
	run := &jobRun{
		runID:     r.genID.Generate().String(),
		batchSize: batchSize,
		startedAt: r.clock.Now(),
	}
	return obscontext.WithActor(ctx, "system", "reconcile"), run
}

func (r *Reconciler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, r.log)
}

func (r *Reconciler) logJobStart(ctx context.Context, run *jobRun) {
	r.logger(ctx).Info("reconcile.job.start",
		zap.String("job", obsmetrics.JobReconcile),
		zap.String("run_id", run.runID),
		zap.Int("batch_size", run.batchSize),
	)
}

func (r *Reconciler) logJobFinish(ctx context.Context, run *jobRun, report Report, err error) {
	fields := []zap.Field{
		zap.String("job", obsmetrics.JobReconcile),
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", r.clock.Now().Sub(run.startedAt).Milliseconds()),
		zap.Int("processed_count", run.processedCount),
		zap.Int("error_count", run.errorCount),
		zap.Int("drifted", len(report.Drifts)),
		zap.Int("repaired", report.Repaired),
		zap.Int("scored_without_journal", len(report.ScoredWithoutJournal)),
		zap.Int("journaled_without_score", len(report.JournaledWithoutScore)),
		zap.Int("delta_mismatches", len(report.DeltaMismatches)),
		zap.Int("terminal_unscored", len(report.TerminalUnscored)),
	}
	if err != nil {
		r.logger(ctx).Error("reconcile.job.finish", append(fields, zap.Error(err))...)
		return
	}
	if !report.Clean() {
		r.logger(ctx).Warn("reconcile.job.finish", fields...)
		return
	}
	r.logger(ctx).Info("reconcile.job.finish", fields...)
}
