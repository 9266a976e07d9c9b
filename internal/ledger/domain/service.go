package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/deliveryscore/pkg/db/pagination"
)

type ListEntriesRequest struct {
	TenantID   snowflake.ID
	CustomerID snowflake.ID
	PageToken  string
	PageSize   int
}

type ListEntriesResponse struct {
	pagination.PageInfo
	Entries []Entry `json:"entries"`
}

type Service interface {
	History(context.Context, ListEntriesRequest) (ListEntriesResponse, error)
	Balance(ctx context.Context, tenantID, customerID snowflake.ID) (Balance, error)
}

var (
	ErrInvalidTenant   = errors.New("invalid_tenant")
	ErrInvalidCustomer = errors.New("invalid_customer")
)
