package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/deliveryscore/internal/shipment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, shipment *domain.Shipment) error {
	return db.WithContext(ctx).Create(shipment).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*domain.Shipment, error) {
	var shipment domain.Shipment
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Take(&shipment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &shipment, nil
}

func (r *repo) LockByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*domain.Shipment, error) {
	var shipment domain.Shipment
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Take(&shipment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &shipment, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID, status domain.Status, at time.Time) error {
	result := db.WithContext(ctx).
		Model(&domain.Shipment{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		UpdateColumns(map[string]any{
			"status":     status,
			"updated_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *repo) MarkScored(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID, delta int, at time.Time) (bool, error) {
	result := db.WithContext(ctx).
		Model(&domain.Shipment{}).
		Where("tenant_id = ? AND id = ? AND scored_at IS NULL", tenantID, id).
		UpdateColumns(map[string]any{
			"scored_at":    at,
			"scored_delta": delta,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) ListScoredWithoutJournal(ctx context.Context, db *gorm.DB, limit int) ([]domain.Shipment, error) {
	var shipments []domain.Shipment
	err := db.WithContext(ctx).
		Where("scored_at IS NOT NULL").
		Where("NOT EXISTS (SELECT 1 FROM delivery_score_journal j WHERE j.shipment_id = shipments.id)").
		Order("id asc").
		Limit(limit).
		Find(&shipments).Error
	if err != nil {
		return nil, err
	}
	return shipments, nil
}

func (r *repo) ListJournaledWithoutScore(ctx context.Context, db *gorm.DB, limit int) ([]domain.Shipment, error) {
	var shipments []domain.Shipment
	err := db.WithContext(ctx).
		Where("scored_at IS NULL").
		Where("EXISTS (SELECT 1 FROM delivery_score_journal j WHERE j.shipment_id = shipments.id)").
		Order("id asc").
		Limit(limit).
		Find(&shipments).Error
	if err != nil {
		return nil, err
	}
	return shipments, nil
}

func (r *repo) ListDeltaMismatches(ctx context.Context, db *gorm.DB, limit int) ([]domain.Shipment, error) {
	var shipments []domain.Shipment
	err := db.WithContext(ctx).
		Where("scored_delta IS NOT NULL").
		Where("EXISTS (SELECT 1 FROM delivery_score_journal j WHERE j.shipment_id = shipments.id AND j.delta <> shipments.scored_delta)").
		Order("id asc").
		Limit(limit).
		Find(&shipments).Error
	if err != nil {
		return nil, err
	}
	return shipments, nil
}

func (r *repo) ListTerminalUnscored(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]domain.Shipment, error) {
	var shipments []domain.Shipment
	err := db.WithContext(ctx).
		Where("status IN ?", domain.TerminalStatuses()).
		Where("scored_at IS NULL AND updated_at < ?", cutoff).
		Where("NOT EXISTS (SELECT 1 FROM delivery_score_journal j WHERE j.shipment_id = shipments.id)").
		Order("id asc").
		Limit(limit).
		Find(&shipments).Error
	if err != nil {
		return nil, err
	}
	return shipments, nil
}
