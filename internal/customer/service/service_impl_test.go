package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/deliveryscore/internal/clock"
	"github.com/smallbiznis/deliveryscore/internal/customer/domain"
	"github.com/smallbiznis/deliveryscore/internal/customer/repository"
	"github.com/smallbiznis/deliveryscore/internal/dbtest"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupCustomers(t *testing.T) (domain.Service, *gorm.DB) {
	t.Helper()
	node, err := snowflake.NewNode(3)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	db := dbtest.Open(t)
	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
	return svc, db
}

func TestCreateCustomerStartsAtZero(t *testing.T) {
	svc, _ := setupCustomers(t)

	customer, err := svc.Create(context.Background(), domain.CreateCustomerRequest{
		TenantID: 5,
		Name:     "  Dina ",
		Email:    "dina@example.com",
		Phone:    "+62 812-0000-111",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	assert.Equal(t, "Dina", customer.Name)
	assert.Equal(t, 0, customer.DeliveryScore)
	if customer.GlobalCustomerID == nil {
		t.Fatalf("expected global customer link")
	}
	assert.Equal(t, domain.GlobalIDFor(domain.Fingerprint("DINA@example.com", "628120000111")), *customer.GlobalCustomerID)

	loaded, err := svc.GetByID(context.Background(), 5, customer.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	assert.Equal(t, customer.ID, loaded.ID)
}

func TestCreateCustomerValidation(t *testing.T) {
	svc, _ := setupCustomers(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.CreateCustomerRequest{Name: "x", Email: "x@example.com"})
	assert.True(t, errors.Is(err, domain.ErrInvalidTenant))

	_, err = svc.Create(ctx, domain.CreateCustomerRequest{TenantID: 1, Email: "x@example.com"})
	assert.True(t, errors.Is(err, domain.ErrInvalidName))

	_, err = svc.Create(ctx, domain.CreateCustomerRequest{TenantID: 1, Name: "x", Email: "not-an-email"})
	assert.True(t, errors.Is(err, domain.ErrInvalidEmail))

	_, err = svc.Create(ctx, domain.CreateCustomerRequest{TenantID: 1, Name: "x"})
	assert.True(t, errors.Is(err, domain.ErrInvalidContact))
}

func TestSameContactSharesGlobalIdentity(t *testing.T) {
	svc, db := setupCustomers(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, domain.CreateCustomerRequest{TenantID: 1, Name: "A", Email: "same@example.com"})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := svc.Create(ctx, domain.CreateCustomerRequest{TenantID: 2, Name: "B", Email: "SAME@example.com"})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	assert.Equal(t, *first.GlobalCustomerID, *second.GlobalCustomerID)

	var globals int64
	if err := db.Model(&domain.GlobalCustomer{}).Count(&globals).Error; err != nil {
		t.Fatalf("count globals: %v", err)
	}
	assert.Equal(t, int64(1), globals)
}

func TestGetByIDIsTenantScoped(t *testing.T) {
	svc, _ := setupCustomers(t)
	customer, err := svc.Create(context.Background(), domain.CreateCustomerRequest{TenantID: 1, Name: "A", Phone: "0812"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = svc.GetByID(context.Background(), 2, customer.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
