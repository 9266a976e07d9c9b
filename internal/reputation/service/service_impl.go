package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/deliveryscore/internal/config"
	customerdomain "github.com/smallbiznis/deliveryscore/internal/customer/domain"
	"github.com/smallbiznis/deliveryscore/internal/reputation/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Config       *config.ScoringConfigHolder `optional:"true"`
	CustomerRepo customerdomain.Repository
	Repo         domain.Repository
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	config       *config.ScoringConfigHolder
	customerRepo customerdomain.Repository
	repo         domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("reputation.service"),
		config:       p.Config,
		customerRepo: p.CustomerRepo,
		repo:         p.Repo,
	}
}

// CustomerScore reads the stored tenant score without locking; it may lag a
// scoring transaction that is still in flight.
func (s *Service) CustomerScore(ctx context.Context, tenantID, customerID snowflake.ID) (domain.CustomerReputation, error) {
	if tenantID == 0 {
		return domain.CustomerReputation{}, domain.ErrInvalidTenant
	}
	if customerID == 0 {
		return domain.CustomerReputation{}, domain.ErrInvalidCustomer
	}

	customer, err := s.customerRepo.FindByID(ctx, s.db, tenantID, customerID)
	if err != nil {
		return domain.CustomerReputation{}, err
	}
	if customer == nil {
		return domain.CustomerReputation{}, domain.ErrNotFound
	}

	outcomes, err := s.repo.CountOutcomesByCustomer(ctx, s.db, tenantID, customerID)
	if err != nil {
		return domain.CustomerReputation{}, err
	}

	cfg := s.config.Current().Scoring
	return domain.CustomerReputation{
		CustomerID:     customer.ID,
		TenantID:       customer.TenantID,
		Score:          customer.DeliveryScore,
		Classification: domain.Classify(customer.DeliveryScore),
		IsRisky:        domain.IsRisky(customer.DeliveryScore, cfg.RiskyThreshold),
		SuccessRate:    domain.EstimateSuccessRate(outcomes.Delivered, outcomes.Completed()),
	}, nil
}

// GlobalScore recomputes the cross-tenant score from shipment outcomes on
// every call. Nothing is cached.
func (s *Service) GlobalScore(ctx context.Context, globalID uuid.UUID) (domain.GlobalReputation, error) {
	if globalID == uuid.Nil {
		return domain.GlobalReputation{}, domain.ErrInvalidGlobalID
	}

	global, err := s.customerRepo.FindGlobalByID(ctx, s.db, globalID)
	if err != nil {
		return domain.GlobalReputation{}, err
	}
	if global == nil {
		return domain.GlobalReputation{}, domain.ErrNotFound
	}

	outcomes, err := s.repo.CountOutcomesByGlobalCustomer(ctx, s.db, globalID)
	if err != nil {
		return domain.GlobalReputation{}, err
	}
	linked, err := s.repo.CountLinkedCustomers(ctx, s.db, globalID)
	if err != nil {
		return domain.GlobalReputation{}, err
	}

	minCompleted := int64(s.config.Current().Scoring.GlobalMinCompleted)
	rate := domain.EstimateSuccessRateWithMin(outcomes.Delivered, outcomes.Completed(), minCompleted)
	score := int(outcomes.Delivered - outcomes.Unsuccessful)

	return domain.GlobalReputation{
		GlobalCustomerID: global.ID,
		LinkedCustomers:  linked,
		Score:            score,
		HasEnoughData:    rate.HasEnoughData,
		Classification:   domain.Classify(score),
		SuccessRate:      rate,
	}, nil
}
