package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Entry is the journal row recording the one score delta applied for a shipment.
// Delta, Reason and CreatedAt are write-once; only CustomerID and TenantID may be
// corrected, and only through the upsert path.
type Entry struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	ShipmentID snowflake.ID `gorm:"not null;uniqueIndex:ux_delivery_score_journal_shipment" json:"shipment_id"`
	CustomerID snowflake.ID `gorm:"not null;index:idx_delivery_score_journal_customer" json:"customer_id"`
	TenantID   snowflake.ID `gorm:"not null;index:idx_delivery_score_journal_customer" json:"tenant_id"`
	Delta      int          `gorm:"not null" json:"delta"`
	Reason     string       `gorm:"type:varchar(32);not null" json:"reason"`
	CreatedAt  time.Time    `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (Entry) TableName() string { return "delivery_score_journal" }

// Balance is the journal-derived view of one customer's score.
type Balance struct {
	Total   int   `json:"total"`
	Entries int64 `json:"entries"`
}
