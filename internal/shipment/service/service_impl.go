package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/deliveryscore/internal/clock"
	customerdomain "github.com/smallbiznis/deliveryscore/internal/customer/domain"
	"github.com/smallbiznis/deliveryscore/internal/observability/logger"
	scoringdomain "github.com/smallbiznis/deliveryscore/internal/scoring/domain"
	"github.com/smallbiznis/deliveryscore/internal/shipment/domain"
	"github.com/smallbiznis/deliveryscore/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         domain.Repository
	CustomerRepo customerdomain.Repository
	Scoring      scoringdomain.Service
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	repo         domain.Repository
	customerRepo customerdomain.Repository
	scoring      scoringdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("shipment.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		customerRepo: p.CustomerRepo,
		scoring:      p.Scoring,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateShipmentRequest) (domain.Shipment, error) {
	if req.TenantID == 0 {
		return domain.Shipment{}, domain.ErrInvalidTenant
	}
	if req.CustomerID == 0 {
		return domain.Shipment{}, domain.ErrInvalidCustomer
	}

	customer, err := s.customerRepo.FindByID(ctx, s.db, req.TenantID, req.CustomerID)
	if err != nil {
		return domain.Shipment{}, err
	}
	if customer == nil {
		return domain.Shipment{}, domain.ErrInvalidCustomer
	}

	now := s.clock.Now()
	shipment := domain.Shipment{
		ID:             s.genID.Generate(),
		TenantID:       req.TenantID,
		CustomerID:     req.CustomerID,
		TrackingNumber: strings.TrimSpace(req.TrackingNumber),
		Courier:        strings.TrimSpace(req.Courier),
		Status:         domain.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Insert(ctx, s.db, &shipment); err != nil {
		return domain.Shipment{}, err
	}
	return shipment, nil
}

func (s *Service) GetByID(ctx context.Context, tenantID, id snowflake.ID) (domain.Shipment, error) {
	if tenantID == 0 {
		return domain.Shipment{}, domain.ErrInvalidTenant
	}
	if id == 0 {
		return domain.Shipment{}, domain.ErrInvalidID
	}

	item, err := s.repo.FindByID(ctx, s.db, tenantID, id)
	if err != nil {
		return domain.Shipment{}, err
	}
	if item == nil {
		return domain.Shipment{}, domain.ErrNotFound
	}
	return *item, nil
}

// ChangeStatus commits the new status, then hands the transition to scoring.
// A scoring failure is logged and never undoes or fails the status change.
func (s *Service) ChangeStatus(ctx context.Context, req domain.ChangeStatusRequest) (domain.Shipment, error) {
	if req.TenantID == 0 {
		return domain.Shipment{}, domain.ErrInvalidTenant
	}
	if req.ShipmentID == 0 {
		return domain.Shipment{}, domain.ErrInvalidID
	}
	next, err := domain.ParseStatus(req.Status)
	if err != nil {
		return domain.Shipment{}, err
	}

	ctx = correlation.ContextWithCorrelationID(ctx, req.CorrelationID)
	log := logger.WithContext(ctx, s.log)

	var (
		shipment domain.Shipment
		previous domain.Status
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.repo.LockByID(ctx, tx, req.TenantID, req.ShipmentID)
		if err != nil {
			return err
		}
		if locked == nil {
			return domain.ErrNotFound
		}

		shipment = *locked
		previous = locked.Status
		if previous == next {
			return nil
		}

		now := s.clock.Now()
		if err := s.repo.UpdateStatus(ctx, tx, req.TenantID, req.ShipmentID, next, now); err != nil {
			return err
		}
		shipment.Status = next
		shipment.UpdatedAt = now
		return nil
	})
	if err != nil {
		return domain.Shipment{}, err
	}
	if previous == next {
		return shipment, nil
	}

	log.Info("shipment status changed",
		zap.String("shipment_id", shipment.ID.String()),
		zap.String("from", previous.String()),
		zap.String("to", next.String()),
	)

	if s.scoring == nil {
		return shipment, nil
	}
	scoreErr := s.scoring.OnStatusChanged(ctx, scoringdomain.StatusChange{
		TenantID:      req.TenantID,
		ShipmentID:    req.ShipmentID,
		OldStatus:     previous,
		NewStatus:     next,
		CorrelationID: req.CorrelationID,
	})
	if scoreErr != nil {
		log.Error("scoring after status change failed",
			zap.String("shipment_id", shipment.ID.String()),
			zap.Error(scoreErr),
		)
	}

	return s.reload(ctx, shipment), nil
}

// reload picks up scored_at and scored_delta written by scoring; it falls
// back to the committed copy when the read fails.
func (s *Service) reload(ctx context.Context, shipment domain.Shipment) domain.Shipment {
	fresh, err := s.repo.FindByID(ctx, s.db, shipment.TenantID, shipment.ID)
	if err != nil || fresh == nil {
		return shipment
	}
	return *fresh
}
