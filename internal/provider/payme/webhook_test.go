package payme

import (
	"context"
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/juftlik/tolov/internal/clock"
	"github.com/juftlik/tolov/internal/config"
	ledgerdomain "github.com/juftlik/tolov/internal/ledger/domain"
	ledgerservice "github.com/juftlik/tolov/internal/ledger/service"
	subscriptionservice "github.com/juftlik/tolov/internal/subscription/service"
	userrepository "github.com/juftlik/tolov/internal/user/repository"
)

const (
	testUserID = 42
	testPlanID = 7
)

func TestCheckPerformTransactionIsSideEffectFree(t *testing.T) {
	adapter, db := setupPaymeAdapter(t)

	result := adapter.HandleWebhook(context.Background(), []byte(fmt.Sprintf(
		`{"id":1,"method":"CheckPerformTransaction","params":{"amount":500000,"account":{"user_id":"%d","plan_id":"%d"}}}`,
		testUserID, testPlanID,
	)))

	resp := rpcResponseOf(t, result.Response)
	if resp.Error != nil {
		t.Fatalf("expected allow, got error %+v", resp.Error)
	}
	allow := resp.Result.(map[string]any)["allow"]
	if allow != true {
		t.Fatalf("expected allow=true, got %v", allow)
	}

	var count int64
	if err := db.Table("payment_transactions").Count(&count).Error; err != nil {
		t.Fatalf("count transactions: %v", err)
	}
	if count != 0 {
		t.Fatalf("check must not create ledger rows, found %d", count)
	}
}

func TestCheckPerformTransactionUnknownUser(t *testing.T) {
	adapter, _ := setupPaymeAdapter(t)

	result := adapter.HandleWebhook(context.Background(), []byte(
		`{"id":2,"method":"CheckPerformTransaction","params":{"amount":500000,"account":{"user_id":"999999"}}}`,
	))

	resp := rpcResponseOf(t, result.Response)
	if resp.Error == nil || resp.Error.Code != codeUserNotFound {
		t.Fatalf("expected code %d, got %+v", codeUserNotFound, resp.Error)
	}
}

func TestCreateTransactionReplaysPendingRow(t *testing.T) {
	adapter, _ := setupPaymeAdapter(t)

	first := rpcResponseOf(t, adapter.HandleWebhook(context.Background(), createPayload("payme-tx-1")).Response)
	if first.Error != nil {
		t.Fatalf("create failed: %+v", first.Error)
	}
	firstResult := first.Result.(map[string]any)
	if firstResult["state"] != stateCreated {
		t.Fatalf("expected state %d, got %v", stateCreated, firstResult["state"])
	}

	replay := rpcResponseOf(t, adapter.HandleWebhook(context.Background(), createPayload("payme-tx-1")).Response)
	if replay.Error != nil {
		t.Fatalf("replayed create failed: %+v", replay.Error)
	}
	replayResult := replay.Result.(map[string]any)
	if replayResult["transaction"] != firstResult["transaction"] {
		t.Fatalf("replay answered a different transaction id")
	}
}

func TestPerformTransactionActivatesOnce(t *testing.T) {
	adapter, _ := setupPaymeAdapter(t)

	if resp := rpcResponseOf(t, adapter.HandleWebhook(context.Background(), createPayload("payme-tx-1")).Response); resp.Error != nil {
		t.Fatalf("create failed: %+v", resp.Error)
	}

	perform := rpcResponseOf(t, adapter.HandleWebhook(context.Background(), performPayload("payme-tx-1")).Response)
	if perform.Error != nil {
		t.Fatalf("perform failed: %+v", perform.Error)
	}
	if perform.Result.(map[string]any)["state"] != statePerformed {
		t.Fatalf("expected state %d, got %v", statePerformed, perform.Result.(map[string]any)["state"])
	}

	sub, err := adapter.subs.FindByProviderRef(context.Background(), ProviderName, "payme-tx-1")
	if err != nil {
		t.Fatalf("expected subscription after perform: %v", err)
	}

	replay := rpcResponseOf(t, adapter.HandleWebhook(context.Background(), performPayload("payme-tx-1")).Response)
	if replay.Error != nil {
		t.Fatalf("replayed perform failed: %+v", replay.Error)
	}
	again, err := adapter.subs.FindByProviderRef(context.Background(), ProviderName, "payme-tx-1")
	if err != nil {
		t.Fatalf("reload subscription: %v", err)
	}
	if again.ID != sub.ID || !again.CurrentPeriodEnd.Equal(sub.CurrentPeriodEnd) {
		t.Fatalf("replayed perform changed the subscription")
	}
}

func TestCancelTransactionAfterPerformIsRejected(t *testing.T) {
	adapter, _ := setupPaymeAdapter(t)

	if resp := rpcResponseOf(t, adapter.HandleWebhook(context.Background(), createPayload("payme-tx-1")).Response); resp.Error != nil {
		t.Fatalf("create failed: %+v", resp.Error)
	}
	if resp := rpcResponseOf(t, adapter.HandleWebhook(context.Background(), performPayload("payme-tx-1")).Response); resp.Error != nil {
		t.Fatalf("perform failed: %+v", resp.Error)
	}

	cancel := rpcResponseOf(t, adapter.HandleWebhook(context.Background(), []byte(
		`{"id":9,"method":"CancelTransaction","params":{"id":"payme-tx-1","reason":5}}`,
	)).Response)
	if cancel.Error == nil || cancel.Error.Code != codeCannotCancel {
		t.Fatalf("expected code %d, got %+v", codeCannotCancel, cancel.Error)
	}
}

func TestCancelTransactionMarksPendingFailed(t *testing.T) {
	adapter, _ := setupPaymeAdapter(t)

	if resp := rpcResponseOf(t, adapter.HandleWebhook(context.Background(), createPayload("payme-tx-1")).Response); resp.Error != nil {
		t.Fatalf("create failed: %+v", resp.Error)
	}

	cancel := rpcResponseOf(t, adapter.HandleWebhook(context.Background(), []byte(
		`{"id":9,"method":"CancelTransaction","params":{"id":"payme-tx-1","reason":{"message":"buyer canceled"}}}`,
	)).Response)
	if cancel.Error != nil {
		t.Fatalf("cancel failed: %+v", cancel.Error)
	}
	if cancel.Result.(map[string]any)["state"] != stateCanceled {
		t.Fatalf("expected state %d, got %v", stateCanceled, cancel.Result.(map[string]any)["state"])
	}

	txn, err := adapter.ledger.Find(context.Background(), ProviderName, "payme-tx-1")
	if err != nil {
		t.Fatalf("find transaction: %v", err)
	}
	if txn.Status != ledgerdomain.StatusFailed {
		t.Fatalf("expected failed, got %s", txn.Status)
	}
	if txn.FailureReason != "buyer canceled" {
		t.Fatalf("expected reason carried over, got %q", txn.FailureReason)
	}
}

func TestCheckTransactionReportsState(t *testing.T) {
	adapter, _ := setupPaymeAdapter(t)

	missing := rpcResponseOf(t, adapter.HandleWebhook(context.Background(), []byte(
		`{"id":4,"method":"CheckTransaction","params":{"id":"missing"}}`,
	)).Response)
	if missing.Error == nil || missing.Error.Code != codeTransactionNotFound {
		t.Fatalf("expected code %d, got %+v", codeTransactionNotFound, missing.Error)
	}

	if resp := rpcResponseOf(t, adapter.HandleWebhook(context.Background(), createPayload("payme-tx-1")).Response); resp.Error != nil {
		t.Fatalf("create failed: %+v", resp.Error)
	}
	if resp := rpcResponseOf(t, adapter.HandleWebhook(context.Background(), performPayload("payme-tx-1")).Response); resp.Error != nil {
		t.Fatalf("perform failed: %+v", resp.Error)
	}

	check := rpcResponseOf(t, adapter.HandleWebhook(context.Background(), []byte(
		`{"id":5,"method":"CheckTransaction","params":{"id":"payme-tx-1"}}`,
	)).Response)
	if check.Error != nil {
		t.Fatalf("check failed: %+v", check.Error)
	}
	result := check.Result.(map[string]any)
	if result["state"] != statePerformed {
		t.Fatalf("expected state %d, got %v", statePerformed, result["state"])
	}
	if result["perform_time"] == int64(0) {
		t.Fatalf("expected perform_time set")
	}
}

func TestHandleWebhookUnknownMethod(t *testing.T) {
	adapter, _ := setupPaymeAdapter(t)

	resp := rpcResponseOf(t, adapter.HandleWebhook(context.Background(), []byte(
		`{"id":6,"method":"GetStatement","params":{}}`,
	)).Response)
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected code %d, got %+v", codeMethodNotFound, resp.Error)
	}
}

func TestHandleWebhookParseError(t *testing.T) {
	adapter, _ := setupPaymeAdapter(t)

	resp := rpcResponseOf(t, adapter.HandleWebhook(context.Background(), []byte(`{not json`)).Response)
	if resp.Error == nil || resp.Error.Code != codeParseError {
		t.Fatalf("expected code %d, got %+v", codeParseError, resp.Error)
	}
}

func TestVerifyWebhookSignature(t *testing.T) {
	adapter, _ := setupPaymeAdapter(t)

	good := "Basic " + base64.StdEncoding.EncodeToString([]byte("merchant-1:secret-1"))
	if !adapter.VerifyWebhookSignature(nil, good) {
		t.Fatalf("expected valid credential to verify")
	}

	bad := "Basic " + base64.StdEncoding.EncodeToString([]byte("merchant-1:wrong"))
	if adapter.VerifyWebhookSignature(nil, bad) {
		t.Fatalf("expected wrong secret to fail")
	}
	if adapter.VerifyWebhookSignature(nil, "") {
		t.Fatalf("expected empty credential to fail")
	}
}

func createPayload(paymeID string) []byte {
	return []byte(fmt.Sprintf(
		`{"id":3,"method":"CreateTransaction","params":{"id":%q,"time":1748458800000,"amount":500000,"account":{"user_id":"%d","plan_id":"%d"}}}`,
		paymeID, testUserID, testPlanID,
	))
}

func performPayload(paymeID string) []byte {
	return []byte(fmt.Sprintf(
		`{"id":4,"method":"PerformTransaction","params":{"id":%q,"time":1748458900000}}`,
		paymeID,
	))
}

func rpcResponseOf(t *testing.T, response any) rpcResponse {
	t.Helper()
	resp, ok := response.(rpcResponse)
	if !ok {
		t.Fatalf("unexpected response type %T", response)
	}
	return resp
}

func setupPaymeAdapter(t *testing.T) (*Adapter, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	for _, ddl := range []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY,
			email TEXT NOT NULL,
			phone TEXT,
			country_code TEXT NOT NULL DEFAULT 'US',
			stripe_customer_id TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS payment_transactions (
			id INTEGER PRIMARY KEY,
			user_id BIGINT NOT NULL,
			subscription_id BIGINT,
			provider TEXT NOT NULL,
			provider_transaction_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			provider_data TEXT,
			failure_reason TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_payment_transactions_provider_tx
		 ON payment_transactions (provider, provider_transaction_id)`,
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
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_subscriptions_provider_sub
		 ON subscriptions (provider, provider_subscription_id)`,
	} {
		if err := db.Exec(ddl).Error; err != nil {
			t.Fatalf("apply ddl: %v", err)
		}
	}

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := db.Exec(
		`INSERT INTO users (id, email, phone, country_code, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		testUserID, "demo@tolov.local", "+998901234567", "UZ", now, now,
	).Error; err != nil {
		t.Fatalf("insert user: %v", err)
	}

	node, err := snowflake.NewNode(3)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	clk := clock.Fixed(now)
	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
	})
	subs := subscriptionservice.NewService(subscriptionservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
	})

	adapter := NewAdapter(
		config.PaymeConfig{
			MerchantID: "merchant-1",
			SecretKey:  "secret-1",
			BaseURL:    "http://payme.invalid/api",
			Timeout:    time.Second,
		},
		zap.NewNop(),
		ledger,
		userrepository.New(db),
		subs,
		clk,
	)
	return adapter, db
}
