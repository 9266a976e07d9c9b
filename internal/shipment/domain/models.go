package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Shipment struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID       snowflake.ID `gorm:"not null;index:idx_shipments_tenant_customer" json:"tenant_id"`
	CustomerID     snowflake.ID `gorm:"not null;index:idx_shipments_tenant_customer" json:"customer_id"`
	TrackingNumber string       `gorm:"type:varchar(64)" json:"tracking_number,omitempty"`
	Courier        string       `gorm:"type:varchar(64)" json:"courier,omitempty"`
	Status         Status       `gorm:"type:varchar(32);not null" json:"status"`
	ScoredAt       *time.Time   `json:"scored_at,omitempty"`
	ScoredDelta    *int         `json:"scored_delta,omitempty"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"not null" json:"updated_at"`
}

func (Shipment) TableName() string {
	return "shipments"
}

// IsScored reports whether the scoring coordinator already applied a delta.
func (s Shipment) IsScored() bool {
	return s.ScoredAt != nil
}
