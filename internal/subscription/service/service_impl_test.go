package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/juftlik/tolov/internal/clock"
	ledgerdomain "github.com/juftlik/tolov/internal/ledger/domain"
	subscriptiondomain "github.com/juftlik/tolov/internal/subscription/domain"
)

var activationNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestActivateFromTransactionCreatesOneMonthPeriod(t *testing.T) {
	svc := setupSubscriptionService(t)

	sub, err := svc.ActivateFromTransaction(context.Background(), activationRequest("tx-1"))
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if sub.Status != subscriptiondomain.StatusActive {
		t.Fatalf("expected active, got %s", sub.Status)
	}
	if !sub.CurrentPeriodStart.Equal(activationNow) {
		t.Fatalf("expected period start %v, got %v", activationNow, sub.CurrentPeriodStart)
	}
	if want := activationNow.AddDate(0, 1, 0); !sub.CurrentPeriodEnd.Equal(want) {
		t.Fatalf("expected period end %v, got %v", want, sub.CurrentPeriodEnd)
	}
}

func TestActivateFromTransactionIsIdempotent(t *testing.T) {
	svc := setupSubscriptionService(t)

	first, err := svc.ActivateFromTransaction(context.Background(), activationRequest("tx-1"))
	if err != nil {
		t.Fatalf("first activation: %v", err)
	}
	replay, err := svc.ActivateFromTransaction(context.Background(), activationRequest("tx-1"))
	if err != nil {
		t.Fatalf("replayed activation: %v", err)
	}
	if replay.ID != first.ID {
		t.Fatalf("replay created a second subscription: %d vs %d", first.ID, replay.ID)
	}
	if !replay.CurrentPeriodEnd.Equal(first.CurrentPeriodEnd) {
		t.Fatalf("replay moved the period end")
	}
}

func TestConcurrentActivationsShareOneSubscription(t *testing.T) {
	svc := setupSubscriptionService(t)

	const deliveries = 8
	ids := make(chan snowflake.ID, deliveries)
	errs := make(chan error, deliveries)

	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub, err := svc.ActivateFromTransaction(context.Background(), activationRequest("tx-1"))
			if err != nil {
				errs <- err
				return
			}
			ids <- sub.ID
		}()
	}
	wg.Wait()
	close(ids)
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent activation: %v", err)
	}

	var canonical snowflake.ID
	for id := range ids {
		if canonical == 0 {
			canonical = id
		}
		if id != canonical {
			t.Fatalf("concurrent activations created different subscriptions: %d and %d", canonical, id)
		}
	}

	sub, err := svc.FindByProviderRef(context.Background(), "payme", "tx-1")
	if err != nil {
		t.Fatalf("find subscription: %v", err)
	}
	if want := activationNow.AddDate(0, 1, 0); !sub.CurrentPeriodEnd.Equal(want) {
		t.Fatalf("expected period end %v, got %v", want, sub.CurrentPeriodEnd)
	}
}

func TestActivateFromTransactionRejectsIncompleteRequest(t *testing.T) {
	svc := setupSubscriptionService(t)

	req := activationRequest("tx-1")
	req.Transaction = nil
	if _, err := svc.ActivateFromTransaction(context.Background(), req); !errors.Is(err, subscriptiondomain.ErrInvalidActivation) {
		t.Fatalf("expected ErrInvalidActivation, got %v", err)
	}

	req = activationRequest("tx-1")
	req.PlanID = 0
	if _, err := svc.ActivateFromTransaction(context.Background(), req); !errors.Is(err, subscriptiondomain.ErrInvalidActivation) {
		t.Fatalf("expected ErrInvalidActivation, got %v", err)
	}
}

func TestExtendPeriodFromLapsedPeriodStartsAtNow(t *testing.T) {
	svc, impl := setupSubscriptionServiceImpl(t)

	sub, err := svc.ActivateFromTransaction(context.Background(), activationRequest("tx-1"))
	if err != nil {
		t.Fatalf("activate: %v", err)
	}

	// Move the clock well past the period end, then extend.
	later := activationNow.AddDate(0, 3, 0)
	impl.clock = clock.Fixed(later)
	if err := svc.ExtendPeriod(context.Background(), sub.ID, 1); err != nil {
		t.Fatalf("extend: %v", err)
	}

	extended, err := svc.FindByProviderRef(context.Background(), "payme", "tx-1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !extended.CurrentPeriodStart.Equal(later) {
		t.Fatalf("expected lapsed extension to start at now, got %v", extended.CurrentPeriodStart)
	}
	if want := later.AddDate(0, 1, 0); !extended.CurrentPeriodEnd.Equal(want) {
		t.Fatalf("expected period end %v, got %v", want, extended.CurrentPeriodEnd)
	}
}

func TestExtendPeriodStacksOnUnexpiredPeriod(t *testing.T) {
	svc := setupSubscriptionService(t)

	sub, err := svc.ActivateFromTransaction(context.Background(), activationRequest("tx-1"))
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := svc.ExtendPeriod(context.Background(), sub.ID, 1); err != nil {
		t.Fatalf("extend: %v", err)
	}

	extended, err := svc.FindByProviderRef(context.Background(), "payme", "tx-1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if want := activationNow.AddDate(0, 2, 0); !extended.CurrentPeriodEnd.Equal(want) {
		t.Fatalf("expected stacked period end %v, got %v", want, extended.CurrentPeriodEnd)
	}
}

func TestMarkPastDueOnlyDowngradesActive(t *testing.T) {
	svc := setupSubscriptionService(t)

	sub, err := svc.ActivateFromTransaction(context.Background(), activationRequest("tx-1"))
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := svc.Cancel(context.Background(), sub.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := svc.MarkPastDue(context.Background(), sub.ID); err != nil {
		t.Fatalf("mark past due: %v", err)
	}

	reloaded, err := svc.FindByProviderRef(context.Background(), "payme", "tx-1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Status != subscriptiondomain.StatusCanceled {
		t.Fatalf("expected canceled row untouched, got %s", reloaded.Status)
	}
}

func TestFindActiveByUserIncludesPastDue(t *testing.T) {
	svc := setupSubscriptionService(t)

	sub, err := svc.ActivateFromTransaction(context.Background(), activationRequest("tx-1"))
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := svc.MarkPastDue(context.Background(), sub.ID); err != nil {
		t.Fatalf("mark past due: %v", err)
	}
	if _, err := svc.FindActiveByUser(context.Background(), sub.UserID); err != nil {
		t.Fatalf("expected past due subscription to count as current: %v", err)
	}

	if err := svc.Cancel(context.Background(), sub.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := svc.FindActiveByUser(context.Background(), sub.UserID); !errors.Is(err, subscriptiondomain.ErrNoActiveSubscription) {
		t.Fatalf("expected ErrNoActiveSubscription, got %v", err)
	}
}

func TestChangePlanUnknownSubscription(t *testing.T) {
	svc := setupSubscriptionService(t)

	if err := svc.ChangePlan(context.Background(), 12345, 777); !errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func activationRequest(providerTxnID string) subscriptiondomain.ActivationRequest {
	return subscriptiondomain.ActivationRequest{
		Transaction: &ledgerdomain.Transaction{
			ID:                    snowflake.ID(900),
			UserID:                42,
			Provider:              "payme",
			ProviderTransactionID: providerTxnID,
			Kind:                  ledgerdomain.KindSubscription,
			Amount:                500000,
			Currency:              "UZS",
			Status:                ledgerdomain.StatusSucceeded,
		},
		UserID:       42,
		PlanID:       7,
		PeriodMonths: 1,
	}
}

func setupSubscriptionService(t *testing.T) subscriptiondomain.Service {
	t.Helper()
	svc, _ := setupSubscriptionServiceImpl(t)
	return svc
}

func setupSubscriptionServiceImpl(t *testing.T) (subscriptiondomain.Service, *Service) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	// sqlite locks the whole database per writer; a single connection keeps
	// concurrent tests serialized at the pool instead of failing with busy.
	sqlDB.SetMaxOpenConns(1)
	if err := db.Exec(
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id INTEGER PRIMARY KEY,
			user_id BIGINT NOT NULL,
			plan_id BIGINT NOT NULL,
			provider TEXT NOT NULL,
			provider_subscription_id TEXT NOT NULL,
			status TEXT NOT NULL,
			current_period_start DATETIME NOT NULL,
			current_period_end DATETIME NOT NULL,
			cancel_at_period_end BOOLEAN NOT NULL DEFAULT FALSE,
			canceled_at DATETIME,
			metadata TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
	).Error; err != nil {
		t.Fatalf("create subscriptions: %v", err)
	}
	if err := db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_subscriptions_provider_sub
		 ON subscriptions (provider, provider_subscription_id)`,
	).Error; err != nil {
		t.Fatalf("create unique index: %v", err)
	}

	node, err := snowflake.NewNode(2)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	impl := &Service{
		db:    db,
		log:   zap.NewNop(),
		genID: node,
		clock: clock.Fixed(activationNow),
	}
	return impl, impl
}
