package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/deliveryscore/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	// UpsertScored inserts the entry, or when a row for the shipment already
	// exists, rewrites only its customer_id and tenant_id.
	UpsertScored(ctx context.Context, db *gorm.DB, entry *Entry) error
	FindByShipment(ctx context.Context, db *gorm.DB, shipmentID snowflake.ID) (*Entry, error)
	SumByCustomer(ctx context.Context, db *gorm.DB, tenantID, customerID snowflake.ID) (Balance, error)
	ListByCustomer(ctx context.Context, db *gorm.DB, tenantID, customerID snowflake.ID, page pagination.Pagination) ([]*Entry, error)
}
