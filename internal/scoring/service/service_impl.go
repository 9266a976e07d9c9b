package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/deliveryscore/internal/clock"
	"github.com/smallbiznis/deliveryscore/internal/config"
	customerdomain "github.com/smallbiznis/deliveryscore/internal/customer/domain"
	"github.com/smallbiznis/deliveryscore/internal/events"
	ledgerdomain "github.com/smallbiznis/deliveryscore/internal/ledger/domain"
	"github.com/smallbiznis/deliveryscore/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/deliveryscore/internal/observability/metrics"
	"github.com/smallbiznis/deliveryscore/internal/observability/tracing"
	scoringdomain "github.com/smallbiznis/deliveryscore/internal/scoring/domain"
	shipmentdomain "github.com/smallbiznis/deliveryscore/internal/shipment/domain"
	"github.com/smallbiznis/deliveryscore/pkg/db"
	"github.com/smallbiznis/deliveryscore/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// errRollback aborts the scoring transaction without reporting a failure.
var errRollback = errors.New("scoring: rollback")

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	Config         *config.ScoringConfigHolder `optional:"true"`
	ShipmentRepo   shipmentdomain.Repository
	CustomerRepo   customerdomain.Repository
	LedgerRepo     ledgerdomain.Repository
	Publisher      events.Publisher           `optional:"true"`
	ObsMetrics     *obsmetrics.Metrics        `optional:"true"`
	ScoringMetrics *obsmetrics.ScoringMetrics `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	config         *config.ScoringConfigHolder
	shipmentRepo   shipmentdomain.Repository
	customerRepo   customerdomain.Repository
	ledgerRepo     ledgerdomain.Repository
	publisher      events.Publisher
	obsMetrics     *obsmetrics.Metrics
	scoringMetrics *obsmetrics.ScoringMetrics
	tracer         trace.Tracer
	newBackOff     func() backoff.BackOff
}

func NewService(p Params) scoringdomain.Service {
	return newService(p)
}

func newService(p Params) *Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("scoring.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		config:         p.Config,
		shipmentRepo:   p.ShipmentRepo,
		customerRepo:   p.CustomerRepo,
		ledgerRepo:     p.LedgerRepo,
		publisher:      p.Publisher,
		obsMetrics:     p.ObsMetrics,
		scoringMetrics: p.ScoringMetrics,
		tracer:         otel.Tracer("deliveryscore/scoring"),
		newBackOff:     defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 25 * time.Millisecond
	b.MaxInterval = time.Second
	return b
}

type applyResult struct {
	outcome    string
	customerID snowflake.ID
	newScore   int
}

func (s *Service) OnStatusChanged(ctx context.Context, change scoringdomain.StatusChange) error {
	if change.TenantID == 0 {
		return scoringdomain.ErrInvalidTenant
	}
	if change.ShipmentID == 0 {
		return scoringdomain.ErrInvalidShipment
	}

	transition, err := shipmentdomain.NewTransition(change.OldStatus, change.NewStatus)
	if err != nil {
		return err
	}
	if !transition.Qualifies() {
		s.scoringMetrics.IncAttempt(obsmetrics.ScoringOutcomeNotQualifying)
		return nil
	}

	if change.CorrelationID != "" {
		ctx = correlation.ContextWithCorrelationID(ctx, change.CorrelationID)
	}
	log := logger.WithTenant(logger.WithContext(ctx, s.log), change.TenantID.String()).With(
		zap.String("shipment_id", change.ShipmentID.String()),
		zap.String("old_status", string(change.OldStatus)),
		zap.String("new_status", string(change.NewStatus)),
	)

	delta, ok := transition.Delta()
	if !ok {
		log.Warn("terminal status has no score delta, skipping")
		s.scoringMetrics.IncAttempt(obsmetrics.ScoringOutcomeNotQualifying)
		s.obsMetrics.RecordScoringSkipped(ctx, obsmetrics.ScoringOutcomeNotQualifying)
		return nil
	}

	ctx, span := s.tracer.Start(ctx, "scoring.OnStatusChanged", trace.WithAttributes(tracing.SafeAttributes(
		attribute.String("tenant_id", change.TenantID.String()),
		attribute.String("shipment_id", change.ShipmentID.String()),
		attribute.String("scoring.reason", string(change.NewStatus)),
	)...))
	defer span.End()

	start := time.Now()
	attempts := 0
	result, err := backoff.Retry(ctx, func() (applyResult, error) {
		attempts++
		res, err := s.applyOnce(ctx, change, delta)
		if err != nil && !db.IsTransientErr(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	},
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(uint(s.maxAttempts())),
		backoff.WithNotify(func(err error, wait time.Duration) {
			s.scoringMetrics.IncRetry(err)
			log.Warn("retrying scoring transaction",
				zap.Int("attempt", attempts),
				zap.Duration("backoff", wait),
				zap.String("reason", obsmetrics.ClassifyScoringReason(err)),
				zap.Error(err),
			)
		}),
	)
	s.scoringMetrics.ObserveScoringDuration(time.Since(start))
	span.SetAttributes(tracing.SafeAttributes(attribute.Int("scoring.attempts", attempts))...)

	if err != nil {
		reason := obsmetrics.ClassifyScoringReason(err)
		s.scoringMetrics.IncAttempt(obsmetrics.ScoringOutcomeFailed)
		s.obsMetrics.RecordScoringFailure(ctx, reason)
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "scoring failed")
		log.Error("scoring failed", zap.Int("attempts", attempts), zap.String("reason", reason), zap.Error(err))
		return fmt.Errorf("score shipment %s: %w", change.ShipmentID, err)
	}

	s.scoringMetrics.IncAttempt(result.outcome)
	span.SetAttributes(tracing.SafeAttributes(attribute.String("scoring.outcome", result.outcome))...)

	switch result.outcome {
	case obsmetrics.ScoringOutcomeApplied:
	case obsmetrics.ScoringOutcomeAlreadyScored:
		log.Debug("shipment already scored")
		s.obsMetrics.RecordScoringSkipped(ctx, result.outcome)
		return nil
	default:
		s.obsMetrics.RecordScoringSkipped(ctx, result.outcome)
		return nil
	}

	s.obsMetrics.RecordScoreApplied(ctx, string(change.NewStatus), delta)
	log.Info("score applied",
		zap.String("customer_id", result.customerID.String()),
		zap.Int("delta", delta),
		zap.Int("new_score", result.newScore),
	)

	s.publish(ctx, log, events.ScoreApplied{
		ShipmentID:    change.ShipmentID,
		CustomerID:    result.customerID,
		TenantID:      change.TenantID,
		Delta:         delta,
		Reason:        string(change.NewStatus),
		NewScore:      result.newScore,
		CorrelationID: correlation.Resolve(ctx, change.CorrelationID),
		OccurredAt:    s.clock.Now(),
	})
	return nil
}

// applyOnce runs one locked scoring transaction. Locks are always taken on
// the shipment row first and the customer row second.
func (s *Service) applyOnce(ctx context.Context, change scoringdomain.StatusChange, delta int) (applyResult, error) {
	var result applyResult
	log := logger.WithContext(ctx, s.log)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lockStart := time.Now()
		shipment, err := s.shipmentRepo.LockByID(ctx, tx, change.TenantID, change.ShipmentID)
		s.scoringMetrics.ObserveDBLockWait(obsmetrics.LockResourceShipment, time.Since(lockStart))
		if err != nil {
			return fmt.Errorf("lock shipment: %w", err)
		}
		if shipment == nil {
			log.Warn("shipment vanished before scoring",
				zap.String("tenant_id", change.TenantID.String()),
				zap.String("shipment_id", change.ShipmentID.String()),
			)
			result.outcome = obsmetrics.ScoringOutcomeMissing
			return errRollback
		}
		if shipment.IsScored() {
			result.outcome = obsmetrics.ScoringOutcomeAlreadyScored
			return errRollback
		}

		lockStart = time.Now()
		customer, err := s.customerRepo.LockByID(ctx, tx, shipment.TenantID, shipment.CustomerID)
		s.scoringMetrics.ObserveDBLockWait(obsmetrics.LockResourceCustomer, time.Since(lockStart))
		if err != nil {
			return fmt.Errorf("lock customer: %w", err)
		}
		if customer == nil {
			log.Warn("customer vanished before scoring",
				zap.String("tenant_id", shipment.TenantID.String()),
				zap.String("shipment_id", shipment.ID.String()),
				zap.String("customer_id", shipment.CustomerID.String()),
			)
			result.outcome = obsmetrics.ScoringOutcomeMissing
			return errRollback
		}

		newScore, err := s.customerRepo.IncrementScore(ctx, tx, customer.TenantID, customer.ID, delta)
		if err != nil {
			return fmt.Errorf("increment score: %w", err)
		}

		now := s.clock.Now()
		marked, err := s.shipmentRepo.MarkScored(ctx, tx, shipment.TenantID, shipment.ID, delta, now)
		if err != nil {
			return fmt.Errorf("mark shipment scored: %w", err)
		}
		if !marked {
			result.outcome = obsmetrics.ScoringOutcomeAlreadyScored
			return errRollback
		}

		if err := s.ledgerRepo.UpsertScored(ctx, tx, &ledgerdomain.Entry{
			ID:         s.genID.Generate(),
			ShipmentID: shipment.ID,
			CustomerID: customer.ID,
			TenantID:   customer.TenantID,
			Delta:      delta,
			Reason:     string(change.NewStatus),
			CreatedAt:  now,
		}); err != nil {
			return fmt.Errorf("upsert journal: %w", err)
		}

		result = applyResult{
			outcome:    obsmetrics.ScoringOutcomeApplied,
			customerID: customer.ID,
			newScore:   newScore,
		}
		return nil
	})
	if errors.Is(err, errRollback) {
		return result, nil
	}
	if err != nil {
		return applyResult{}, err
	}
	return result, nil
}

func (s *Service) publish(ctx context.Context, log *zap.Logger, event events.ScoreApplied) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Warn("failed to publish score applied event", zap.Error(err))
	}
}

func (s *Service) maxAttempts() int {
	attempts := s.config.Current().Scoring.MaxAttempts
	if attempts < 1 {
		return 1
	}
	return attempts
}
