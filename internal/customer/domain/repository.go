package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, customer *Customer) error
	FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*Customer, error)
	// LockByID takes an exclusive row lock. It returns nil, nil when the row is gone.
	LockByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*Customer, error)
	// IncrementScore adds delta without running model hooks and returns the
	// stored score. Callers must hold the row lock.
	IncrementScore(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID, delta int) (int, error)
	SetScore(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID, score int) error
	ListScoresAfter(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]ScoreRow, error)

	EnsureGlobalCustomer(ctx context.Context, db *gorm.DB, global *GlobalCustomer) error
	FindGlobalByID(ctx context.Context, db *gorm.DB, id uuid.UUID) (*GlobalCustomer, error)
}
