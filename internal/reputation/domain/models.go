package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Outcomes counts finished shipments. Unsuccessful covers returned and cancelled.
type Outcomes struct {
	Delivered    int64
	Unsuccessful int64
}

func (o Outcomes) Completed() int64 {
	return o.Delivered + o.Unsuccessful
}

type CustomerReputation struct {
	CustomerID     snowflake.ID   `json:"customer_id"`
	TenantID       snowflake.ID   `json:"tenant_id"`
	Score          int            `json:"score"`
	Classification Classification `json:"classification"`
	IsRisky        bool           `json:"is_risky"`
	SuccessRate    SuccessRate    `json:"success_rate"`
}

// GlobalReputation is an advisory cross-tenant view and never the source of
// truth for a tenant's score.
type GlobalReputation struct {
	GlobalCustomerID uuid.UUID      `json:"global_customer_id"`
	LinkedCustomers  int64          `json:"linked_customers"`
	Score            int            `json:"score"`
	HasEnoughData    bool           `json:"has_enough_data"`
	Classification   Classification `json:"classification"`
	SuccessRate      SuccessRate    `json:"success_rate"`
}

type Repository interface {
	CountOutcomesByCustomer(ctx context.Context, db *gorm.DB, tenantID, customerID snowflake.ID) (Outcomes, error)
	CountOutcomesByGlobalCustomer(ctx context.Context, db *gorm.DB, globalID uuid.UUID) (Outcomes, error)
	CountLinkedCustomers(ctx context.Context, db *gorm.DB, globalID uuid.UUID) (int64, error)
}

type Service interface {
	CustomerScore(ctx context.Context, tenantID, customerID snowflake.ID) (CustomerReputation, error)
	GlobalScore(ctx context.Context, globalID uuid.UUID) (GlobalReputation, error)
}

var (
	ErrInvalidTenant   = errors.New("invalid_tenant")
	ErrInvalidCustomer = errors.New("invalid_customer")
	ErrInvalidGlobalID = errors.New("invalid_global_customer_id")
	ErrNotFound        = errors.New("not_found")
)
