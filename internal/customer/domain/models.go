package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Customer struct {
	ID               snowflake.ID      `gorm:"primaryKey" json:"id"`
	TenantID         snowflake.ID      `gorm:"not null;index" json:"tenant_id"`
	Name             string            `gorm:"type:varchar(255);not null" json:"name"`
	Email            string            `gorm:"type:varchar(255)" json:"email,omitempty"`
	Phone            string            `gorm:"type:varchar(32)" json:"phone,omitempty"`
	DeliveryScore    int               `gorm:"not null;default:0" json:"delivery_score"`
	GlobalCustomerID *uuid.UUID        `gorm:"type:varchar(36);index" json:"global_customer_id,omitempty"`
	Metadata         datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt        time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time         `gorm:"not null" json:"updated_at"`
}

func (Customer) TableName() string {
	return "customers"
}

// GlobalCustomer groups tenant-scoped customers that share a contact fingerprint.
type GlobalCustomer struct {
	ID          uuid.UUID `gorm:"type:varchar(36);primaryKey" json:"id"`
	Fingerprint string    `gorm:"type:varchar(64);not null;uniqueIndex" json:"-"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
}

func (GlobalCustomer) TableName() string {
	return "global_customers"
}

// ScoreRow is the projection used when walking customers for reconciliation.
type ScoreRow struct {
	ID            snowflake.ID
	TenantID      snowflake.ID
	DeliveryScore int
}
