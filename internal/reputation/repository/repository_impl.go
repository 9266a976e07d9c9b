package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/deliveryscore/internal/reputation/domain"
	shipmentdomain "github.com/smallbiznis/deliveryscore/internal/shipment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const outcomeColumns = `COUNT(CASE WHEN s.status = ? THEN 1 END) AS delivered,
	COUNT(CASE WHEN s.status IN (?, ?) THEN 1 END) AS unsuccessful`

func outcomeArgs() []any {
	return []any{
		shipmentdomain.StatusDelivered,
		shipmentdomain.StatusReturned,
		shipmentdomain.StatusCancelled,
	}
}

func (r *repo) CountOutcomesByCustomer(ctx context.Context, db *gorm.DB, tenantID, customerID snowflake.ID) (domain.Outcomes, error) {
	var outcomes domain.Outcomes
	err := db.WithContext(ctx).
		Table("shipments AS s").
		Select(outcomeColumns, outcomeArgs()...).
		Where("s.tenant_id = ? AND s.customer_id = ?", tenantID, customerID).
		Scan(&outcomes).Error
	if err != nil {
		return domain.Outcomes{}, err
	}
	return outcomes, nil
}

// CountOutcomesByGlobalCustomer aggregates across every tenant.
func (r *repo) CountOutcomesByGlobalCustomer(ctx context.Context, db *gorm.DB, globalID uuid.UUID) (domain.Outcomes, error) {
	var outcomes domain.Outcomes
	err := db.WithContext(ctx).
		Table("shipments AS s").
		Select(outcomeColumns, outcomeArgs()...).
		Joins("JOIN customers c ON c.id = s.customer_id AND c.tenant_id = s.tenant_id").
		Where("c.global_customer_id = ?", globalID).
		Scan(&outcomes).Error
	if err != nil {
		return domain.Outcomes{}, err
	}
	return outcomes, nil
}

func (r *repo) CountLinkedCustomers(ctx context.Context, db *gorm.DB, globalID uuid.UUID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Table("customers").
		Where("global_customer_id = ?", globalID).
		Count(&count).Error
	return count, err
}
