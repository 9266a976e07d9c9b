package service

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v5"
	"github.com/golang/mock/gomock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/deliveryscore/internal/clock"
	"github.com/smallbiznis/deliveryscore/internal/config"
	customerdomain "github.com/smallbiznis/deliveryscore/internal/customer/domain"
	customerrepo "github.com/smallbiznis/deliveryscore/internal/customer/repository"
	"github.com/smallbiznis/deliveryscore/internal/dbtest"
	"github.com/smallbiznis/deliveryscore/internal/events"
	eventsmock "github.com/smallbiznis/deliveryscore/internal/events/mock"
	ledgerdomain "github.com/smallbiznis/deliveryscore/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/deliveryscore/internal/ledger/repository"
	obsmetrics "github.com/smallbiznis/deliveryscore/internal/observability/metrics"
	scoringdomain "github.com/smallbiznis/deliveryscore/internal/scoring/domain"
	shipmentdomain "github.com/smallbiznis/deliveryscore/internal/shipment/domain"
	shipmentrepo "github.com/smallbiznis/deliveryscore/internal/shipment/repository"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var testTenant = snowflake.ID(7001)

type fixture struct {
	svc       *Service
	db        *gorm.DB
	node      *snowflake.Node
	clock     *clock.FakeClock
	shipments shipmentdomain.Repository
	customers customerdomain.Repository
	ledger    ledgerdomain.Repository
	registry  *prometheus.Registry
}

func setupScoring(t *testing.T, publisher events.Publisher, shipments shipmentdomain.Repository) *fixture {
	t.Helper()

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	db := dbtest.Open(t)
	if shipments == nil {
		shipments = shipmentrepo.Provide()
	}
	registry := prometheus.NewRegistry()
	fakeClock := clock.NewFakeClock(time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC))

	svc := newService(Params{
		DB:             db,
		Log:            zap.NewNop(),
		GenID:          node,
		Clock:          fakeClock,
		Config:         config.NewStaticScoringConfigHolder(config.DefaultScoringConfig()),
		ShipmentRepo:   shipments,
		CustomerRepo:   customerrepo.Provide(),
		LedgerRepo:     ledgerrepo.Provide(),
		Publisher:      publisher,
		ScoringMetrics: obsmetrics.NewScoringMetricsForRegistry(registry),
	})
	svc.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	return &fixture{
		svc:       svc,
		db:        db,
		node:      node,
		clock:     fakeClock,
		shipments: shipmentrepo.Provide(),
		customers: customerrepo.Provide(),
		ledger:    ledgerrepo.Provide(),
		registry:  registry,
	}
}

func (f *fixture) seedCustomer(t *testing.T) customerdomain.Customer {
	t.Helper()
	now := f.clock.Now()
	customer := customerdomain.Customer{
		ID:        f.node.Generate(),
		TenantID:  testTenant,
		Name:      "Customer",
		Email:     "customer@example.com",
		Metadata:  datatypes.JSONMap{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := f.customers.Insert(context.Background(), f.db, &customer); err != nil {
		t.Fatalf("insert customer: %v", err)
	}
	return customer
}

func (f *fixture) seedShipment(t *testing.T, customerID snowflake.ID, status shipmentdomain.Status) shipmentdomain.Shipment {
	t.Helper()
	now := f.clock.Now()
	shipment := shipmentdomain.Shipment{
		ID:         f.node.Generate(),
		TenantID:   testTenant,
		CustomerID: customerID,
		Status:     status,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := f.shipments.Insert(context.Background(), f.db, &shipment); err != nil {
		t.Fatalf("insert shipment: %v", err)
	}
	return shipment
}

func (f *fixture) score(t *testing.T, customerID snowflake.ID) int {
	t.Helper()
	customer, err := f.customers.FindByID(context.Background(), f.db, testTenant, customerID)
	if err != nil || customer == nil {
		t.Fatalf("load customer: %v", err)
	}
	return customer.DeliveryScore
}

func (f *fixture) journalCount(t *testing.T, shipmentID snowflake.ID) int64 {
	t.Helper()
	var count int64
	if err := f.db.Model(&ledgerdomain.Entry{}).Where("shipment_id = ?", shipmentID).Count(&count).Error; err != nil {
		t.Fatalf("count journal: %v", err)
	}
	return count
}

func (f *fixture) change(t *testing.T, shipmentID snowflake.ID, from, to shipmentdomain.Status) {
	t.Helper()
	err := f.svc.OnStatusChanged(context.Background(), scoringdomain.StatusChange{
		TenantID:   testTenant,
		ShipmentID: shipmentID,
		OldStatus:  from,
		NewStatus:  to,
	})
	if err != nil {
		t.Fatalf("on status changed %s -> %s: %v", from, to, err)
	}
}

func TestPendingToDeliveredAddsOne(t *testing.T) {
	f := setupScoring(t, nil, nil)
	customer := f.seedCustomer(t)
	shipment := f.seedShipment(t, customer.ID, shipmentdomain.StatusPending)

	f.change(t, shipment.ID, shipmentdomain.StatusPending, shipmentdomain.StatusDelivered)

	entry, err := f.ledger.FindByShipment(context.Background(), f.db, shipment.ID)
	if err != nil || entry == nil {
		t.Fatalf("expected journal entry, got %v (%v)", entry, err)
	}
	assert.Equal(t, 1, entry.Delta)
	assert.Equal(t, "delivered", entry.Reason)
	assert.Equal(t, customer.ID, entry.CustomerID)
	assert.Equal(t, testTenant, entry.TenantID)
	assert.Equal(t, 1, f.score(t, customer.ID))

	stored, err := f.shipments.FindByID(context.Background(), f.db, testTenant, shipment.ID)
	if err != nil || stored == nil {
		t.Fatalf("load shipment: %v", err)
	}
	if stored.ScoredAt == nil || stored.ScoredDelta == nil {
		t.Fatalf("expected shipment to be marked scored")
	}
	assert.Equal(t, 1, *stored.ScoredDelta)
}

func TestInTransitToReturnedSubtractsOne(t *testing.T) {
	f := setupScoring(t, nil, nil)
	customer := f.seedCustomer(t)
	shipment := f.seedShipment(t, customer.ID, shipmentdomain.StatusInTransit)

	f.change(t, shipment.ID, shipmentdomain.StatusInTransit, shipmentdomain.StatusReturned)

	entry, err := f.ledger.FindByShipment(context.Background(), f.db, shipment.ID)
	if err != nil || entry == nil {
		t.Fatalf("expected journal entry, got %v (%v)", entry, err)
	}
	assert.Equal(t, -1, entry.Delta)
	assert.Equal(t, "returned", entry.Reason)
	assert.Equal(t, -1, f.score(t, customer.ID))
}

func TestTerminalCorrectionIsNotRescored(t *testing.T) {
	f := setupScoring(t, nil, nil)
	customer := f.seedCustomer(t)
	shipment := f.seedShipment(t, customer.ID, shipmentdomain.StatusPending)

	f.change(t, shipment.ID, shipmentdomain.StatusPending, shipmentdomain.StatusDelivered)
	before, err := f.ledger.FindByShipment(context.Background(), f.db, shipment.ID)
	if err != nil || before == nil {
		t.Fatalf("expected journal entry: %v", err)
	}

	f.clock.Advance(time.Hour)
	f.change(t, shipment.ID, shipmentdomain.StatusDelivered, shipmentdomain.StatusCancelled)

	after, err := f.ledger.FindByShipment(context.Background(), f.db, shipment.ID)
	if err != nil || after == nil {
		t.Fatalf("expected journal entry: %v", err)
	}
	assert.Equal(t, int64(1), f.journalCount(t, shipment.ID))
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, 1, after.Delta)
	assert.Equal(t, "delivered", after.Reason)
	assert.True(t, before.CreatedAt.Equal(after.CreatedAt))
	assert.Equal(t, 1, f.score(t, customer.ID))
}

func TestTerminalToTerminalOnUnscoredShipmentIsNoop(t *testing.T) {
	f := setupScoring(t, nil, nil)
	customer := f.seedCustomer(t)
	shipment := f.seedShipment(t, customer.ID, shipmentdomain.StatusDelivered)

	f.change(t, shipment.ID, shipmentdomain.StatusDelivered, shipmentdomain.StatusCancelled)

	assert.Equal(t, int64(0), f.journalCount(t, shipment.ID))
	assert.Equal(t, 0, f.score(t, customer.ID))
}

func TestNonQualifyingTransitionTakesNoAction(t *testing.T) {
	f := setupScoring(t, nil, nil)
	customer := f.seedCustomer(t)
	shipment := f.seedShipment(t, customer.ID, shipmentdomain.StatusPending)

	f.change(t, shipment.ID, shipmentdomain.StatusPending, shipmentdomain.StatusInTransit)
	f.change(t, shipment.ID, shipmentdomain.StatusInTransit, shipmentdomain.StatusFailed)

	assert.Equal(t, int64(0), f.journalCount(t, shipment.ID))
	assert.Equal(t, 0, f.score(t, customer.ID))
}

func TestFailedThenCancelledScores(t *testing.T) {
	f := setupScoring(t, nil, nil)
	customer := f.seedCustomer(t)
	shipment := f.seedShipment(t, customer.ID, shipmentdomain.StatusFailed)

	f.change(t, shipment.ID, shipmentdomain.StatusFailed, shipmentdomain.StatusCancelled)

	assert.Equal(t, int64(1), f.journalCount(t, shipment.ID))
	assert.Equal(t, -1, f.score(t, customer.ID))
}

func TestUnknownStatusIsRejected(t *testing.T) {
	f := setupScoring(t, nil, nil)
	err := f.svc.OnStatusChanged(context.Background(), scoringdomain.StatusChange{
		TenantID:   testTenant,
		ShipmentID: 1,
		OldStatus:  shipmentdomain.StatusPending,
		NewStatus:  "lost",
	})
	assert.ErrorIs(t, err, shipmentdomain.ErrInvalidStatus)
}

func TestRepeatedCallIsIdempotent(t *testing.T) {
	f := setupScoring(t, nil, nil)
	customer := f.seedCustomer(t)
	shipment := f.seedShipment(t, customer.ID, shipmentdomain.StatusPending)

	f.change(t, shipment.ID, shipmentdomain.StatusPending, shipmentdomain.StatusDelivered)
	f.change(t, shipment.ID, shipmentdomain.StatusPending, shipmentdomain.StatusDelivered)

	assert.Equal(t, int64(1), f.journalCount(t, shipment.ID))
	assert.Equal(t, 1, f.score(t, customer.ID))
	series, err := testutil.GatherAndCount(f.registry, "deliveryscore_scoring_attempts_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	// applied once, then already_scored once
	assert.Equal(t, 2, series)
}

func TestConcurrentCallsScoreOnce(t *testing.T) {
	f := setupScoring(t, nil, nil)
	customer := f.seedCustomer(t)
	shipment := f.seedShipment(t, customer.ID, shipmentdomain.StatusPending)

	const workers = 12
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.svc.OnStatusChanged(context.Background(), scoringdomain.StatusChange{
				TenantID:   testTenant,
				ShipmentID: shipment.ID,
				OldStatus:  shipmentdomain.StatusPending,
				NewStatus:  shipmentdomain.StatusDelivered,
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent scoring: %v", err)
		}
	}

	assert.Equal(t, int64(1), f.journalCount(t, shipment.ID))
	assert.Equal(t, 1, f.score(t, customer.ID))
}

func TestConcurrentShipmentsForOneCustomerAllApply(t *testing.T) {
	f := setupScoring(t, nil, nil)
	customer := f.seedCustomer(t)

	const shipments = 8
	ids := make([]snowflake.ID, 0, shipments)
	for i := 0; i < shipments; i++ {
		ids = append(ids, f.seedShipment(t, customer.ID, shipmentdomain.StatusOutForDelivery).ID)
	}

	var wg sync.WaitGroup
	errs := make(chan error, shipments)
	for _, id := range ids {
		wg.Add(1)
		go func(id snowflake.ID) {
			defer wg.Done()
			errs <- f.svc.OnStatusChanged(context.Background(), scoringdomain.StatusChange{
				TenantID:   testTenant,
				ShipmentID: id,
				OldStatus:  shipmentdomain.StatusOutForDelivery,
				NewStatus:  shipmentdomain.StatusDelivered,
			})
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent scoring: %v", err)
		}
	}

	assert.Equal(t, shipments, f.score(t, customer.ID))
}

func TestVanishedShipmentIsIgnored(t *testing.T) {
	f := setupScoring(t, nil, nil)

	err := f.svc.OnStatusChanged(context.Background(), scoringdomain.StatusChange{
		TenantID:   testTenant,
		ShipmentID: f.node.Generate(),
		OldStatus:  shipmentdomain.StatusPending,
		NewStatus:  shipmentdomain.StatusDelivered,
	})
	assert.NoError(t, err)

	var count int64
	f.db.Model(&ledgerdomain.Entry{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestVanishedCustomerRollsBack(t *testing.T) {
	f := setupScoring(t, nil, nil)
	shipment := f.seedShipment(t, f.node.Generate(), shipmentdomain.StatusPending)

	f.change(t, shipment.ID, shipmentdomain.StatusPending, shipmentdomain.StatusDelivered)

	assert.Equal(t, int64(0), f.journalCount(t, shipment.ID))
	stored, err := f.shipments.FindByID(context.Background(), f.db, testTenant, shipment.ID)
	if err != nil || stored == nil {
		t.Fatalf("load shipment: %v", err)
	}
	assert.Nil(t, stored.ScoredAt)
}

func TestOtherTenantCannotScoreShipment(t *testing.T) {
	f := setupScoring(t, nil, nil)
	customer := f.seedCustomer(t)
	shipment := f.seedShipment(t, customer.ID, shipmentdomain.StatusPending)

	err := f.svc.OnStatusChanged(context.Background(), scoringdomain.StatusChange{
		TenantID:   testTenant + 1,
		ShipmentID: shipment.ID,
		OldStatus:  shipmentdomain.StatusPending,
		NewStatus:  shipmentdomain.StatusDelivered,
	})
	assert.NoError(t, err)
	assert.Equal(t, int64(0), f.journalCount(t, shipment.ID))
	assert.Equal(t, 0, f.score(t, customer.ID))
}

func TestEventPublishedOnceAfterCommit(t *testing.T) {
	ctrl := gomock.NewController(t)
	publisher := eventsmock.NewMockPublisher(ctrl)
	f := setupScoring(t, publisher, nil)
	customer := f.seedCustomer(t)
	shipment := f.seedShipment(t, customer.ID, shipmentdomain.StatusPending)

	publisher.EXPECT().
		Publish(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, event events.ScoreApplied) error {
			// the write is already visible outside the scoring transaction
			stored, err := f.customers.FindByID(ctx, f.db, testTenant, customer.ID)
			if err != nil || stored == nil {
				t.Fatalf("load customer in publisher: %v", err)
			}
			assert.Equal(t, 1, stored.DeliveryScore)
			assert.Equal(t, shipment.ID, event.ShipmentID)
			assert.Equal(t, customer.ID, event.CustomerID)
			assert.Equal(t, testTenant, event.TenantID)
			assert.Equal(t, 1, event.Delta)
			assert.Equal(t, "delivered", event.Reason)
			assert.Equal(t, 1, event.NewScore)
			assert.Equal(t, "cid-42", event.CorrelationID)
			return nil
		}).
		Times(1)

	change := scoringdomain.StatusChange{
		TenantID:      testTenant,
		ShipmentID:    shipment.ID,
		OldStatus:     shipmentdomain.StatusPending,
		NewStatus:     shipmentdomain.StatusDelivered,
		CorrelationID: "cid-42",
	}
	if err := f.svc.OnStatusChanged(context.Background(), change); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if err := f.svc.OnStatusChanged(context.Background(), change); err != nil {
		t.Fatalf("second call: %v", err)
	}
}

func TestPublishFailureDoesNotFailScoring(t *testing.T) {
	ctrl := gomock.NewController(t)
	publisher := eventsmock.NewMockPublisher(ctrl)
	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(errors.New("broker down"))

	f := setupScoring(t, publisher, nil)
	customer := f.seedCustomer(t)
	shipment := f.seedShipment(t, customer.ID, shipmentdomain.StatusPending)

	f.change(t, shipment.ID, shipmentdomain.StatusPending, shipmentdomain.StatusDelivered)
	assert.Equal(t, 1, f.score(t, customer.ID))
}

type flakyShipments struct {
	shipmentdomain.Repository

	mu       sync.Mutex
	calls    int
	failures int
	err      error
}

func (r *flakyShipments) LockByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*shipmentdomain.Shipment, error) {
	r.mu.Lock()
	r.calls++
	fail := r.failures < 0 || r.calls <= r.failures
	r.mu.Unlock()
	if fail {
		return nil, r.err
	}
	return r.Repository.LockByID(ctx, db, tenantID, id)
}

func (r *flakyShipments) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// staleShipments hands out a locked row with scored_at cleared, as if the
// lock returned a copy read before a concurrent commit.
type staleShipments struct {
	shipmentdomain.Repository
}

func (r *staleShipments) LockByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*shipmentdomain.Shipment, error) {
	shipment, err := r.Repository.LockByID(ctx, db, tenantID, id)
	if shipment != nil {
		shipment.ScoredAt = nil
		shipment.ScoredDelta = nil
	}
	return shipment, err
}

func TestStaleLockedShipmentIsGuardedByMarkScored(t *testing.T) {
	f := setupScoring(t, nil, &staleShipments{Repository: shipmentrepo.Provide()})
	customer := f.seedCustomer(t)
	shipment := f.seedShipment(t, customer.ID, shipmentdomain.StatusPending)

	f.change(t, shipment.ID, shipmentdomain.StatusPending, shipmentdomain.StatusDelivered)
	f.change(t, shipment.ID, shipmentdomain.StatusPending, shipmentdomain.StatusDelivered)

	assert.Equal(t, 1, f.score(t, customer.ID))
	assert.Equal(t, int64(1), f.journalCount(t, shipment.ID))
	series, err := testutil.GatherAndCount(f.registry, "deliveryscore_scoring_attempts_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	// applied once, then already_scored once
	assert.Equal(t, 2, series)
}

func TestTransientErrorIsRetried(t *testing.T) {
	flaky := &flakyShipments{
		Repository: shipmentrepo.Provide(),
		failures:   1,
		err:        &pgconn.PgError{Code: "40P01"},
	}
	f := setupScoring(t, nil, flaky)
	customer := f.seedCustomer(t)
	shipment := f.seedShipment(t, customer.ID, shipmentdomain.StatusPending)

	f.change(t, shipment.ID, shipmentdomain.StatusPending, shipmentdomain.StatusDelivered)

	assert.Equal(t, 2, flaky.Calls())
	assert.Equal(t, 1, f.score(t, customer.ID))
	assert.Equal(t, int64(1), f.journalCount(t, shipment.ID))
	series, err := testutil.GatherAndCount(f.registry, "deliveryscore_scoring_retries_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if series != 1 {
		t.Fatalf("expected one retry series, got %d", series)
	}
}

func TestRetriesAreBounded(t *testing.T) {
	flaky := &flakyShipments{
		Repository: shipmentrepo.Provide(),
		failures:   -1,
		err:        errors.New("database is locked"),
	}
	f := setupScoring(t, nil, flaky)
	customer := f.seedCustomer(t)
	shipment := f.seedShipment(t, customer.ID, shipmentdomain.StatusPending)

	err := f.svc.OnStatusChanged(context.Background(), scoringdomain.StatusChange{
		TenantID:   testTenant,
		ShipmentID: shipment.ID,
		OldStatus:  shipmentdomain.StatusPending,
		NewStatus:  shipmentdomain.StatusDelivered,
	})
	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	assert.Equal(t, config.DefaultScoringConfig().Scoring.MaxAttempts, flaky.Calls())
	assert.Equal(t, 0, f.score(t, customer.ID))
}

func TestPermanentErrorIsNotRetried(t *testing.T) {
	boom := errors.New("connection refused")
	flaky := &flakyShipments{
		Repository: shipmentrepo.Provide(),
		failures:   -1,
		err:        boom,
	}
	f := setupScoring(t, nil, flaky)

	err := f.svc.OnStatusChanged(context.Background(), scoringdomain.StatusChange{
		TenantID:   testTenant,
		ShipmentID: f.node.Generate(),
		OldStatus:  shipmentdomain.StatusPending,
		NewStatus:  shipmentdomain.StatusDelivered,
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, flaky.Calls())
}

func TestScoreMatchesJournalAfterRandomHistory(t *testing.T) {
	f := setupScoring(t, nil, nil)
	rng := rand.New(rand.NewSource(42))

	customers := []customerdomain.Customer{f.seedCustomer(t), f.seedCustomer(t), f.seedCustomer(t)}
	paths := [][]shipmentdomain.Status{
		{shipmentdomain.StatusPending, shipmentdomain.StatusInTransit, shipmentdomain.StatusDelivered, shipmentdomain.StatusCancelled},
		{shipmentdomain.StatusPending, shipmentdomain.StatusFailed, shipmentdomain.StatusReturned},
		{shipmentdomain.StatusPickedUp, shipmentdomain.StatusCancelled, shipmentdomain.StatusDelivered},
		{shipmentdomain.StatusPending, shipmentdomain.StatusOutForDelivery},
	}

	for i := 0; i < 30; i++ {
		customer := customers[rng.Intn(len(customers))]
		path := paths[rng.Intn(len(paths))]
		shipment := f.seedShipment(t, customer.ID, path[0])
		for step := 1; step < len(path); step++ {
			f.change(t, shipment.ID, path[step-1], path[step])
			if rng.Intn(3) == 0 {
				// replay the same transition
				f.change(t, shipment.ID, path[step-1], path[step])
			}
		}
	}

	for _, customer := range customers {
		balance, err := f.ledger.SumByCustomer(context.Background(), f.db, testTenant, customer.ID)
		if err != nil {
			t.Fatalf("sum journal: %v", err)
		}
		assert.Equal(t, balance.Total, f.score(t, customer.ID), "customer %s", customer.ID)
	}
}
