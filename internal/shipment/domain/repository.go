package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, shipment *Shipment) error
	FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*Shipment, error)
	// LockByID takes an exclusive row lock. It returns nil, nil when the row is gone.
	LockByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*Shipment, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID, status Status, at time.Time) error
	// MarkScored sets scored_at and scored_delta once. It reports false when
	// the row was already scored.
	MarkScored(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID, delta int, at time.Time) (bool, error)
	ListScoredWithoutJournal(ctx context.Context, db *gorm.DB, limit int) ([]Shipment, error)
	ListJournaledWithoutScore(ctx context.Context, db *gorm.DB, limit int) ([]Shipment, error)
	ListDeltaMismatches(ctx context.Context, db *gorm.DB, limit int) ([]Shipment, error)
	// ListTerminalUnscored returns terminal shipments last updated before
	// cutoff that have neither a scored marker nor a journal row.
	ListTerminalUnscored(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]Shipment, error)
}
