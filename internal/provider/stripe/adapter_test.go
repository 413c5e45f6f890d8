package stripe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/juftlik/tolov/internal/clock"
	"github.com/juftlik/tolov/internal/config"
	providerdomain "github.com/juftlik/tolov/internal/provider/domain"
	userdomain "github.com/juftlik/tolov/internal/user/domain"
	userrepository "github.com/juftlik/tolov/internal/user/repository"
)

func TestCreateSubscriptionCreatesCustomerOnce(t *testing.T) {
	var customerCalls, subscriptionCalls int
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk_test" {
			t.Errorf("missing bearer credential on %s", r.URL.Path)
		}
		switch r.URL.Path {
		case "/v1/customers":
			customerCalls++
			writeJSON(w, map[string]any{"id": "cus_1", "email": "demo@tolov.local"})
		case "/v1/subscriptions":
			subscriptionCalls++
			if r.Header.Get("Idempotency-Key") == "" {
				t.Errorf("expected idempotency key on subscription create")
			}
			if err := r.ParseForm(); err != nil {
				t.Errorf("parse form: %v", err)
			}
			if got := r.PostForm.Get("customer"); got != "cus_1" {
				t.Errorf("expected customer cus_1, got %q", got)
			}
			if got := r.PostForm.Get("items[0][price]"); got != "price_1" {
				t.Errorf("expected price_1, got %q", got)
			}
			writeJSON(w, map[string]any{
				"id":                   "sub_1",
				"status":               "active",
				"current_period_start": 1748779200,
				"current_period_end":   1751371200,
			})
		default:
			t.Errorf("unexpected call to %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer api.Close()

	adapter, user := outboundAdapter(t, api.URL)

	result := adapter.CreateSubscription(context.Background(), subscriptionRequest(user))
	if !result.Success {
		t.Fatalf("create failed: %s", result.Error)
	}
	if result.ProviderSubscriptionID != "sub_1" {
		t.Fatalf("expected sub_1, got %q", result.ProviderSubscriptionID)
	}
	if result.CurrentPeriodEnd == nil || result.CurrentPeriodStart == nil {
		t.Fatalf("expected period bounds mapped")
	}

	// The customer id is cached on the user row; a second create must not
	// create another customer.
	if result = adapter.CreateSubscription(context.Background(), subscriptionRequest(user)); !result.Success {
		t.Fatalf("second create failed: %s", result.Error)
	}
	if customerCalls != 1 {
		t.Fatalf("expected one customer creation, got %d", customerCalls)
	}
	if subscriptionCalls != 2 {
		t.Fatalf("expected two subscription creations, got %d", subscriptionCalls)
	}
	if user.StripeCustomerID != "cus_1" {
		t.Fatalf("expected customer id cached on user")
	}
}

func TestCallerIdempotencyKeyForwardedVerbatim(t *testing.T) {
	keys := make(chan string, 2)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/payment_intents":
			keys <- r.Header.Get("Idempotency-Key")
			writeJSON(w, map[string]any{"id": "pi_1", "status": "succeeded"})
		default:
			t.Errorf("unexpected call to %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer api.Close()

	adapter, user := outboundAdapter(t, api.URL)

	req := paymentRequest(user)
	req.IdempotencyKey = "checkout-retry-7"
	if result := adapter.ProcessPayment(context.Background(), req); !result.Success {
		t.Fatalf("payment failed: %s", result.Error)
	}
	if got := <-keys; got != "checkout-retry-7" {
		t.Fatalf("expected caller key on the wire, got %q", got)
	}

	// Without a caller key the client still mints one per call.
	if result := adapter.ProcessPayment(context.Background(), paymentRequest(user)); !result.Success {
		t.Fatalf("payment failed: %s", result.Error)
	}
	if got := <-keys; got == "" {
		t.Fatalf("expected a generated key on the wire")
	}
}

func TestCreateSubscriptionSurfacesAPIDecline(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/customers":
			writeJSON(w, map[string]any{"id": "cus_1"})
		default:
			w.WriteHeader(http.StatusPaymentRequired)
			writeJSON(w, map[string]any{"error": map[string]any{"message": "Your card was declined."}})
		}
	}))
	defer api.Close()

	adapter, user := outboundAdapter(t, api.URL)

	result := adapter.CreateSubscription(context.Background(), subscriptionRequest(user))
	if result.Success {
		t.Fatalf("expected decline to fail the result")
	}
	if result.Error != "Your card was declined." {
		t.Fatalf("expected API message, got %q", result.Error)
	}
}

func TestProcessPaymentMapsIntent(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payment_intents" {
			t.Errorf("unexpected call to %s", r.URL.Path)
		}
		writeJSON(w, map[string]any{"id": "pi_1", "status": "succeeded", "amount": 499, "currency": "usd"})
	}))
	defer api.Close()

	adapter, user := outboundAdapter(t, api.URL)

	result := adapter.ProcessPayment(context.Background(), paymentRequest(user))
	if !result.Success {
		t.Fatalf("payment failed: %s", result.Error)
	}
	if result.ProviderTransactionID != "pi_1" || result.Status != "succeeded" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestUpdateSubscriptionSwapsPrice(t *testing.T) {
	var swapPosted bool
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/subscriptions/sub_1" {
			t.Errorf("unexpected call to %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Method == http.MethodPost {
			swapPosted = true
			if err := r.ParseForm(); err != nil {
				t.Errorf("parse form: %v", err)
			}
			if got := r.PostForm.Get("items[0][id]"); got != "si_1" {
				t.Errorf("expected item si_1, got %q", got)
			}
			if got := r.PostForm.Get("items[0][price]"); got != "price_2" {
				t.Errorf("expected price_2, got %q", got)
			}
			if got := r.PostForm.Get("proration_behavior"); got != "create_prorations" {
				t.Errorf("expected default proration, got %q", got)
			}
		}
		writeJSON(w, map[string]any{
			"id":     "sub_1",
			"status": "active",
			"items":  map[string]any{"data": []map[string]any{{"id": "si_1"}}},
		})
	}))
	defer api.Close()

	adapter, _ := outboundAdapter(t, api.URL)

	result := adapter.UpdateSubscription(context.Background(), "sub_1", providerdomain.UpdateSubscriptionRequest{
		PriceID: "price_2",
	})
	if !result.Success {
		t.Fatalf("update failed: %s", result.Error)
	}
	if !swapPosted {
		t.Fatalf("expected price swap to be posted")
	}
}

func TestPaymentMethodLifecycle(t *testing.T) {
	var attached, detached bool
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/payment_methods":
			writeJSON(w, map[string]any{
				"id":   "pm_1",
				"type": "card",
				"card": map[string]any{"brand": "visa", "last4": "4242", "exp_month": 12, "exp_year": 2030},
			})
		case "/v1/payment_methods/pm_1/attach":
			attached = true
			writeJSON(w, map[string]any{"id": "pm_1"})
		case "/v1/payment_methods/pm_1/detach":
			detached = true
			writeJSON(w, map[string]any{"id": "pm_1"})
		default:
			t.Errorf("unexpected call to %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer api.Close()

	adapter, _ := outboundAdapter(t, api.URL)

	result := adapter.CreatePaymentMethod(context.Background(), providerdomain.PaymentMethodRequest{
		Token:      "tok_1",
		CustomerID: "cus_1",
	})
	if !result.Success {
		t.Fatalf("create method failed: %s", result.Error)
	}
	if result.ProviderMethodID != "pm_1" {
		t.Fatalf("expected pm_1, got %q", result.ProviderMethodID)
	}
	if result.Display != "visa •••• 4242" {
		t.Fatalf("unexpected display %q", result.Display)
	}
	if !attached {
		t.Fatalf("expected method attached to customer")
	}

	if !adapter.DeletePaymentMethod(context.Background(), "pm_1") {
		t.Fatalf("expected detach to succeed")
	}
	if !detached {
		t.Fatalf("expected detach endpoint called")
	}
}

func TestCancelSubscriptionRequestsPeriodEndCancel(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get("cancel_at_period_end"); got != "true" {
			t.Errorf("expected cancel_at_period_end=true, got %q", got)
		}
		writeJSON(w, map[string]any{"id": "sub_1", "status": "active", "cancel_at_period_end": true})
	}))
	defer api.Close()

	adapter, _ := outboundAdapter(t, api.URL)

	if !adapter.CancelSubscription(context.Background(), "sub_1") {
		t.Fatalf("expected cancellation to succeed")
	}
}

func writeJSON(w http.ResponseWriter, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func subscriptionRequest(user *userdomain.User) providerdomain.CreateSubscriptionRequest {
	return providerdomain.CreateSubscriptionRequest{
		User:     user,
		PlanID:   7,
		PlanName: "Standard",
		Amount:   499,
		Currency: "USD",
		PriceID:  "price_1",
	}
}

func paymentRequest(user *userdomain.User) providerdomain.PaymentRequest {
	return providerdomain.PaymentRequest{
		UserID:          user.ID,
		Amount:          499,
		Currency:        "usd",
		CustomerID:      user.StripeCustomerID,
		PaymentMethodID: "pm_1",
	}
}

func outboundAdapter(t *testing.T, baseURL string) (*Adapter, *userdomain.User) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Exec(
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY,
			email TEXT NOT NULL,
			phone TEXT,
			country_code TEXT NOT NULL DEFAULT 'US',
			stripe_customer_id TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
	).Error; err != nil {
		t.Fatalf("create users: %v", err)
	}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := db.Exec(
		`INSERT INTO users (id, email, country_code, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		42, "demo@tolov.local", "US", now, now,
	).Error; err != nil {
		t.Fatalf("insert user: %v", err)
	}

	adapter := NewAdapter(
		config.StripeConfig{
			SecretKey:          "sk_test",
			WebhookSecret:      webhookSecret,
			BaseURL:            baseURL,
			Timeout:            time.Second,
			SignatureTolerance: 5 * time.Minute,
		},
		zap.NewNop(),
		userrepository.New(db),
		clock.Fixed(now),
	)
	return adapter, &userdomain.User{ID: 42, Email: "demo@tolov.local", CountryCode: "US"}
}
