package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/deliveryscore/internal/ledger/domain"
	"github.com/smallbiznis/deliveryscore/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) UpsertScored(ctx context.Context, db *gorm.DB, entry *domain.Entry) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "shipment_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"customer_id", "tenant_id"}),
		}).
		Create(entry).Error
}

func (r *repo) FindByShipment(ctx context.Context, db *gorm.DB, shipmentID snowflake.ID) (*domain.Entry, error) {
	var entry domain.Entry
	err := db.WithContext(ctx).
		Where("shipment_id = ?", shipmentID).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repo) SumByCustomer(ctx context.Context, db *gorm.DB, tenantID, customerID snowflake.ID) (domain.Balance, error) {
	var balance domain.Balance
	err := db.WithContext(ctx).
		Model(&domain.Entry{}).
		Select("COALESCE(SUM(delta), 0) AS total, COUNT(*) AS entries").
		Where("tenant_id = ? AND customer_id = ?", tenantID, customerID).
		Scan(&balance).Error
	if err != nil {
		return domain.Balance{}, err
	}
	return balance, nil
}

// ListByCustomer returns up to page.Limit()+1 entries, newest first, so the
// caller can tell whether another page exists.
func (r *repo) ListByCustomer(ctx context.Context, db *gorm.DB, tenantID, customerID snowflake.ID, page pagination.Pagination) ([]*domain.Entry, error) {
	cursor, err := pagination.DecodeCursor(page.PageToken)
	if err != nil {
		return nil, err
	}

	stmt := db.WithContext(ctx).
		Model(&domain.Entry{}).
		Where("tenant_id = ? AND customer_id = ?", tenantID, customerID)
	if cursor != nil {
		createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return nil, pagination.ErrInvalidPageToken
		}
		id, err := strconv.ParseInt(cursor.ID, 10, 64)
		if err != nil {
			return nil, pagination.ErrInvalidPageToken
		}
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)", createdAt, createdAt, id)
	}

	var entries []*domain.Entry
	err = stmt.
		Order("created_at desc, id desc").
		Limit(page.Limit() + 1).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
