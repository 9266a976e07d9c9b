package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	shipmentdomain "github.com/smallbiznis/deliveryscore/internal/shipment/domain"
)

// StatusChange describes a status update that has already been committed.
type StatusChange struct {
	TenantID      snowflake.ID
	ShipmentID    snowflake.ID
	OldStatus     shipmentdomain.Status
	NewStatus     shipmentdomain.Status
	CorrelationID string
}

type Service interface {
	// OnStatusChanged applies the score delta for a qualifying transition
	// exactly once per shipment. Repeated calls are no-ops.
	OnStatusChanged(ctx context.Context, change StatusChange) error
}

var (
	ErrInvalidTenant   = errors.New("invalid_tenant")
	ErrInvalidShipment = errors.New("invalid_shipment")
)
