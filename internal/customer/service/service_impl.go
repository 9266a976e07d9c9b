package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/deliveryscore/internal/clock"
	"github.com/smallbiznis/deliveryscore/internal/customer/domain"
	"github.com/smallbiznis/deliveryscore/internal/customer/masking"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("customer.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// Create inserts a tenant customer with a zero score and links it to the
// global identity derived from its contact details.
func (s *Service) Create(ctx context.Context, req domain.CreateCustomerRequest) (domain.Customer, error) {
	if req.TenantID == 0 {
		return domain.Customer{}, domain.ErrInvalidTenant
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Customer{}, domain.ErrInvalidName
	}

	email := strings.TrimSpace(req.Email)
	if email != "" && !strings.Contains(email, "@") {
		return domain.Customer{}, domain.ErrInvalidEmail
	}
	phone := strings.TrimSpace(req.Phone)
	if email == "" && phone == "" {
		return domain.Customer{}, domain.ErrInvalidContact
	}

	now := s.clock.Now()
	customer := domain.Customer{
		ID:        s.genID.Generate(),
		TenantID:  req.TenantID,
		Name:      name,
		Email:     email,
		Phone:     phone,
		Metadata:  datatypes.JSONMap{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if fingerprint := domain.Fingerprint(email, phone); fingerprint != "" {
			global := domain.GlobalCustomer{
				ID:          domain.GlobalIDFor(fingerprint),
				Fingerprint: fingerprint,
				CreatedAt:   now,
			}
			if err := s.repo.EnsureGlobalCustomer(ctx, tx, &global); err != nil {
				return err
			}
			customer.GlobalCustomerID = &global.ID
		}
		return s.repo.Insert(ctx, tx, &customer)
	})
	if err != nil {
		return domain.Customer{}, err
	}

	s.log.Debug("customer created",
		zap.String("tenant_id", customer.TenantID.String()),
		zap.String("customer_id", customer.ID.String()),
		zap.String("email", masking.MaskEmail(customer.Email)),
		zap.String("phone", masking.MaskPhone(customer.Phone)),
		zap.Any("metadata", masking.MaskMetadata(map[string]any(customer.Metadata))),
		zap.Bool("global_linked", customer.GlobalCustomerID != nil),
	)
	return customer, nil
}

func (s *Service) GetByID(ctx context.Context, tenantID, id snowflake.ID) (domain.Customer, error) {
	if tenantID == 0 {
		return domain.Customer{}, domain.ErrInvalidTenant
	}
	if id == 0 {
		return domain.Customer{}, domain.ErrInvalidID
	}

	item, err := s.repo.FindByID(ctx, s.db, tenantID, id)
	if err != nil {
		return domain.Customer{}, err
	}
	if item == nil {
		return domain.Customer{}, domain.ErrNotFound
	}
	return *item, nil
}
