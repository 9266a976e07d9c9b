package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/deliveryscore/internal/ledger/domain"
	"github.com/smallbiznis/deliveryscore/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo ledgerdomain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo ledgerdomain.Repository
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("ledger.service"),
		repo: p.Repo,
	}
}

// History pages through a customer's journal, newest first.
func (s *Service) History(ctx context.Context, req ledgerdomain.ListEntriesRequest) (ledgerdomain.ListEntriesResponse, error) {
	if req.TenantID == 0 {
		return ledgerdomain.ListEntriesResponse{}, ledgerdomain.ErrInvalidTenant
	}
	if req.CustomerID == 0 {
		return ledgerdomain.ListEntriesResponse{}, ledgerdomain.ErrInvalidCustomer
	}

	page := pagination.Pagination{PageToken: req.PageToken, PageSize: req.PageSize}
	limit := page.Limit()

	items, err := s.repo.ListByCustomer(ctx, s.db, req.TenantID, req.CustomerID, page)
	if err != nil {
		return ledgerdomain.ListEntriesResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, limit, func(entry *ledgerdomain.Entry) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        entry.ID.String(),
			CreatedAt: entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if len(items) > limit {
		items = items[:limit]
	}

	entries := make([]ledgerdomain.Entry, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		entries = append(entries, *item)
	}

	resp := ledgerdomain.ListEntriesResponse{Entries: entries}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) Balance(ctx context.Context, tenantID, customerID snowflake.ID) (ledgerdomain.Balance, error) {
	if tenantID == 0 {
		return ledgerdomain.Balance{}, ledgerdomain.ErrInvalidTenant
	}
	if customerID == 0 {
		return ledgerdomain.Balance{}, ledgerdomain.ErrInvalidCustomer
	}
	return s.repo.SumByCustomer(ctx, s.db, tenantID, customerID)
}
