package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/deliveryscore/internal/customer/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, customer *domain.Customer) error {
	return db.WithContext(ctx).Create(customer).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*domain.Customer, error) {
	var customer domain.Customer
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Take(&customer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func (r *repo) LockByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*domain.Customer, error) {
	var customer domain.Customer
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Take(&customer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func (r *repo) IncrementScore(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID, delta int) (int, error) {
	result := db.WithContext(ctx).
		Model(&domain.Customer{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		UpdateColumn("delivery_score", gorm.Expr("delivery_score + ?", delta))
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, domain.ErrNotFound
	}

	var score int
	err := db.WithContext(ctx).
		Model(&domain.Customer{}).
		Select("delivery_score").
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Scan(&score).Error
	if err != nil {
		return 0, err
	}
	return score, nil
}

func (r *repo) SetScore(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID, score int) error {
	result := db.WithContext(ctx).
		Model(&domain.Customer{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		UpdateColumn("delivery_score", score)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *repo) ListScoresAfter(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]domain.ScoreRow, error) {
	var rows []domain.ScoreRow
	err := db.WithContext(ctx).
		Model(&domain.Customer{}).
		Select("id, tenant_id, delivery_score").
		Where("id > ?", afterID).
		Order("id asc").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) EnsureGlobalCustomer(ctx context.Context, db *gorm.DB, global *domain.GlobalCustomer) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(global).Error
}

func (r *repo) FindGlobalByID(ctx context.Context, db *gorm.DB, id uuid.UUID) (*domain.GlobalCustomer, error) {
	var global domain.GlobalCustomer
	err := db.WithContext(ctx).
		Where("id = ?", id).
		Take(&global).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &global, nil
}
