package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreateShipmentRequest struct {
	TenantID       snowflake.ID
	CustomerID     snowflake.ID
	TrackingNumber string
	Courier        string
}

type ChangeStatusRequest struct {
	TenantID      snowflake.ID
	ShipmentID    snowflake.ID
	Status        string
	CorrelationID string
}

type Service interface {
	Create(context.Context, CreateShipmentRequest) (Shipment, error)
	GetByID(ctx context.Context, tenantID, id snowflake.ID) (Shipment, error)
	ChangeStatus(context.Context, ChangeStatusRequest) (Shipment, error)
}

var (
	ErrInvalidTenant   = errors.New("invalid_tenant")
	ErrInvalidCustomer = errors.New("invalid_customer")
	ErrInvalidID       = errors.New("invalid_id")
	ErrInvalidStatus   = errors.New("invalid_status")
	ErrNotFound        = errors.New("not_found")
)
