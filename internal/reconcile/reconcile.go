package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/deliveryscore/internal/clock"
	"github.com/smallbiznis/deliveryscore/internal/config"
	customerdomain "github.com/smallbiznis/deliveryscore/internal/customer/domain"
	ledgerdomain "github.com/smallbiznis/deliveryscore/internal/ledger/domain"
	"github.com/smallbiznis/deliveryscore/internal/lock"
	obsmetrics "github.com/smallbiznis/deliveryscore/internal/observability/metrics"
	shipmentdomain "github.com/smallbiznis/deliveryscore/internal/shipment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	DriftKindScore                 = "score"
	DriftKindScoredWithoutJournal  = "scored_without_journal"
	DriftKindJournaledWithoutScore = "journaled_without_score"
	DriftKindDeltaMismatch         = "delta_mismatch"
	DriftKindTerminalUnscored      = "terminal_unscored"
)

// Drift is one customer whose stored score disagrees with its journal.
type Drift struct {
	TenantID   snowflake.ID `json:"tenant_id"`
	CustomerID snowflake.ID `json:"customer_id"`
	Stored     int          `json:"stored"`
	Journal    int          `json:"journal"`
	Repaired   bool         `json:"repaired"`
}

type Report struct {
	Customers             int            `json:"customers"`
	Drifts                []Drift        `json:"drifts"`
	Repaired              int            `json:"repaired"`
	ScoredWithoutJournal  []snowflake.ID `json:"scored_without_journal"`
	JournaledWithoutScore []snowflake.ID `json:"journaled_without_score"`
	DeltaMismatches       []snowflake.ID `json:"delta_mismatches"`
	TerminalUnscored      []snowflake.ID `json:"terminal_unscored"`
}

// Clean reports whether the run found nothing out of sync.
func (r Report) Clean() bool {
	return len(r.Drifts) == 0 &&
		len(r.ScoredWithoutJournal) == 0 &&
		len(r.JournaledWithoutScore) == 0 &&
		len(r.DeltaMismatches) == 0 &&
		len(r.TerminalUnscored) == 0
}

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	Config         *config.ScoringConfigHolder `optional:"true"`
	Locker         *lock.Locker                `optional:"true"`
	CustomerRepo   customerdomain.Repository
	LedgerRepo     ledgerdomain.Repository
	ShipmentRepo   shipmentdomain.Repository
	ObsMetrics     *obsmetrics.Metrics        `optional:"true"`
	ScoringMetrics *obsmetrics.ScoringMetrics `optional:"true"`
}

// Reconciler re-derives customer scores from the journal. The journal is
// never written; only customers.delivery_score is repaired.
type Reconciler struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	config         *config.ScoringConfigHolder
	locker         *lock.Locker
	customerRepo   customerdomain.Repository
	ledgerRepo     ledgerdomain.Repository
	shipmentRepo   shipmentdomain.Repository
	obsMetrics     *obsmetrics.Metrics
	scoringMetrics *obsmetrics.ScoringMetrics
}

func New(p Params) *Reconciler {
	return &Reconciler{
		db:             p.DB,
		log:            p.Log.Named("reconcile"),
		genID:          p.GenID,
		clock:          p.Clock,
		config:         p.Config,
		locker:         p.Locker,
		customerRepo:   p.CustomerRepo,
		ledgerRepo:     p.LedgerRepo,
		shipmentRepo:   p.ShipmentRepo,
		obsMetrics:     p.ObsMetrics,
		scoringMetrics: p.ScoringMetrics,
	}
}

// Run walks every customer once. It keeps going past per-customer failures
// and returns them joined.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	cfg := r.config.Current().Reconcile
	ctx, run := r.startRun(ctx, cfg.BatchSize)
	r.logJobStart(ctx, run)
	r.scoringMetrics.IncJobRun(obsmetrics.JobReconcile)

	report, err := r.run(ctx, cfg, run)

	r.scoringMetrics.ObserveJobDuration(obsmetrics.JobReconcile, r.clock.Now().Sub(run.startedAt))
	if err != nil {
		r.scoringMetrics.IncJobError(obsmetrics.JobReconcile, err)
	}
	r.publishDrift(ctx, report)
	r.logJobFinish(ctx, run, report, err)
	return report, err
}

func (r *Reconciler) run(ctx context.Context, cfg config.ReconcileSection, run *jobRun) (Report, error) {
	report := Report{}
	var jobErr error
	var after snowflake.ID

	for {
		if err := ctx.Err(); err != nil {
			return report, errors.Join(jobErr, err)
		}

		rows, err := r.customerRepo.ListScoresAfter(ctx, r.db, after, cfg.BatchSize)
		if err != nil {
			return report, errors.Join(jobErr, fmt.Errorf("list customers: %w", err))
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			drift, found, err := r.checkCustomer(ctx, row, cfg.Repair)
			if err != nil {
				run.IncError()
				jobErr = errors.Join(jobErr, err)
				r.logger(ctx).Warn("reconcile customer failed",
					zap.String("tenant_id", row.TenantID.String()),
					zap.String("customer_id", row.ID.String()),
					zap.Error(err),
				)
				continue
			}
			if found {
				report.Drifts = append(report.Drifts, drift)
				if drift.Repaired {
					report.Repaired++
				}
			}
		}
		report.Customers += len(rows)
		run.AddProcessed(len(rows))
		after = rows[len(rows)-1].ID
		if len(rows) < cfg.BatchSize {
			break
		}
	}

	if err := r.checkShipments(ctx, cfg, &report); err != nil {
		jobErr = errors.Join(jobErr, err)
	}
	return report, jobErr
}

// checkCustomer compares the stored score with the journal without locks and
// confirms any mismatch under the customer row lock, so a scoring commit that
// lands between the two reads is not reported.
func (r *Reconciler) checkCustomer(ctx context.Context, row customerdomain.ScoreRow, repair bool) (Drift, bool, error) {
	balance, err := r.ledgerRepo.SumByCustomer(ctx, r.db, row.TenantID, row.ID)
	if err != nil {
		return Drift{}, false, fmt.Errorf("sum journal for customer %s: %w", row.ID, err)
	}
	if balance.Total == row.DeliveryScore {
		return Drift{}, false, nil
	}

	drift := Drift{TenantID: row.TenantID, CustomerID: row.ID}
	found, err := r.confirmCustomer(ctx, repair, &drift)
	if err != nil {
		return Drift{}, false, fmt.Errorf("confirm customer %s: %w", row.ID, err)
	}
	if !found {
		return Drift{}, false, nil
	}

	log := r.logger(ctx).With(
		zap.String("tenant_id", row.TenantID.String()),
		zap.String("customer_id", row.ID.String()),
	)
	if drift.Repaired {
		log.Info("customer score repaired from journal",
			zap.Int("previous", drift.Stored),
			zap.Int("score", drift.Journal),
		)
	} else {
		log.Warn("customer score drifted from journal",
			zap.Int("stored", drift.Stored),
			zap.Int("journal", drift.Journal),
		)
	}
	return drift, true, nil
}

// confirmCustomer re-reads the score and the journal sum under the customer
// row lock and, when repair is set, writes the sum back in the same
// transaction. It reports whether the drift held.
func (r *Reconciler) confirmCustomer(ctx context.Context, repair bool, drift *Drift) (bool, error) {
	found := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		customer, err := r.customerRepo.LockByID(ctx, tx, drift.TenantID, drift.CustomerID)
		if err != nil {
			return err
		}
		if customer == nil {
			return nil
		}
		balance, err := r.ledgerRepo.SumByCustomer(ctx, tx, drift.TenantID, drift.CustomerID)
		if err != nil {
			return err
		}
		drift.Stored = customer.DeliveryScore
		drift.Journal = balance.Total
		if drift.Stored == drift.Journal {
			return nil
		}
		found = true
		if !repair {
			return nil
		}
		if err := r.customerRepo.SetScore(ctx, tx, drift.TenantID, drift.CustomerID, balance.Total); err != nil {
			return err
		}
		drift.Repaired = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// checkShipments reports shipments whose scored marker and journal row
// disagree, and terminal shipments scoring never reached. These are never
// repaired automatically.
func (r *Reconciler) checkShipments(ctx context.Context, cfg config.ReconcileSection, report *Report) error {
	cutoff := r.clock.Now().Add(-cfg.UnscoredGrace)
	terminalUnscored := func(ctx context.Context, db *gorm.DB, limit int) ([]shipmentdomain.Shipment, error) {
		return r.shipmentRepo.ListTerminalUnscored(ctx, db, cutoff, limit)
	}

	checks := []struct {
		kind string
		list func(context.Context, *gorm.DB, int) ([]shipmentdomain.Shipment, error)
		dest *[]snowflake.ID
	}{
		{DriftKindScoredWithoutJournal, r.shipmentRepo.ListScoredWithoutJournal, &report.ScoredWithoutJournal},
		{DriftKindJournaledWithoutScore, r.shipmentRepo.ListJournaledWithoutScore, &report.JournaledWithoutScore},
		{DriftKindDeltaMismatch, r.shipmentRepo.ListDeltaMismatches, &report.DeltaMismatches},
		{DriftKindTerminalUnscored, terminalUnscored, &report.TerminalUnscored},
	}

	var errs error
	for _, check := range checks {
		shipments, err := check.list(ctx, r.db, cfg.BatchSize)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("check %s: %w", check.kind, err))
			continue
		}
		for _, shipment := range shipments {
			*check.dest = append(*check.dest, shipment.ID)
			r.logger(ctx).Warn("shipment out of sync with journal",
				zap.String("kind", check.kind),
				zap.String("tenant_id", shipment.TenantID.String()),
				zap.String("shipment_id", shipment.ID.String()),
			)
		}
	}
	return errs
}

func (r *Reconciler) publishDrift(ctx context.Context, report Report) {
	counts := map[string]int{
		DriftKindScore:                 len(report.Drifts),
		DriftKindScoredWithoutJournal:  len(report.ScoredWithoutJournal),
		DriftKindJournaledWithoutScore: len(report.JournaledWithoutScore),
		DriftKindDeltaMismatch:         len(report.DeltaMismatches),
		DriftKindTerminalUnscored:      len(report.TerminalUnscored),
	}
	for kind, count := range counts {
		r.scoringMetrics.SetReconcileDrift(kind, count)
		if count > 0 {
			r.obsMetrics.RecordReconcileDrift(ctx, kind, count)
		}
	}
	r.scoringMetrics.AddReconcileRepairs(report.Repaired)
}
