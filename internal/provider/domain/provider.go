package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"

	userdomain "github.com/juftlik/tolov/internal/user/domain"
)

// Provider is the contract every payment network adapter satisfies. Outbound
// methods make a single synchronous attempt against the remote network and
// never leak transport errors: failures come back inside the result with
// Success=false. VerifyWebhookSignature must be called before HandleWebhook is
// allowed to mutate anything.
type Provider interface {
	Name() string

	CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) SubscriptionResult
	UpdateSubscription(ctx context.Context, providerSubscriptionID string, req UpdateSubscriptionRequest) SubscriptionResult
	CancelSubscription(ctx context.Context, providerSubscriptionID string) bool
	GetSubscription(ctx context.Context, providerSubscriptionID string) SubscriptionResult

	ProcessPayment(ctx context.Context, req PaymentRequest) PaymentResult

	CreatePaymentMethod(ctx context.Context, req PaymentMethodRequest) PaymentMethodResult
	UpdatePaymentMethod(ctx context.Context, providerMethodID string, req PaymentMethodRequest) PaymentMethodResult
	DeletePaymentMethod(ctx context.Context, providerMethodID string) bool

	// HandleWebhook processes a verified delivery and returns the response
	// body in the network's own vocabulary. The body is the adapter's contract
	// with the remote network: rejections are encoded there, not as errors.
	HandleWebhook(ctx context.Context, payload []byte) WebhookResult

	// VerifyWebhookSignature reports whether the delivery is authentic. It
	// must not mutate any state.
	VerifyWebhookSignature(payload []byte, signature string) bool
}

// CreateSubscriptionRequest carries everything an adapter may need to open a
// subscription. Amount is in minor currency units.
type CreateSubscriptionRequest struct {
	User            *userdomain.User
	PlanID          snowflake.ID
	PlanName        string
	Amount          int64
	Currency        string
	PriceID         string
	PaymentMethodID string
	TrialDays       int
	Description     string

	// IdempotencyKey, when set, lets a retried request resolve to the first
	// attempt on networks that support idempotent submission.
	IdempotencyKey string
}

// UpdateSubscriptionRequest supports a price swap and/or a default payment
// method change.
type UpdateSubscriptionRequest struct {
	PriceID           string
	PaymentMethodID   string
	ProrationBehavior string
}

// PaymentRequest is a one-time charge. Amount is in minor currency units.
type PaymentRequest struct {
	UserID          snowflake.ID
	Amount          int64
	Currency        string
	CustomerID      string
	PaymentMethodID string
	PhoneNumber     string
	Description     string
	IdempotencyKey  string
}

// PaymentMethodRequest carries the provider-specific instrument details.
type PaymentMethodRequest struct {
	UserID      snowflake.ID
	Token       string
	CustomerID  string
	CardNumber  string
	CardExpire  string
	PhoneNumber string
}

// SubscriptionResult is the outcome of a subscription operation.
type SubscriptionResult struct {
	Success                bool
	Error                  string
	ProviderSubscriptionID string
	Status                 string
	CurrentPeriodStart     *time.Time
	CurrentPeriodEnd       *time.Time
	CancelAtPeriodEnd      bool
	CheckoutURL            string
	Metadata               map[string]any
}

// PaymentResult is the outcome of a one-time charge.
type PaymentResult struct {
	Success               bool
	Error                 string
	ProviderTransactionID string
	Status                string
	Amount                int64
	Currency              string
	CheckoutURL           string
}

// PaymentMethodResult is the outcome of a payment method operation.
type PaymentMethodResult struct {
	Success          bool
	Error            string
	ProviderMethodID string
	Type             string
	Display          string
	Details          map[string]any
}

// WebhookEvent is a recognized lifecycle notification an adapter passes
// through for provider-agnostic processing.
type WebhookEvent struct {
	Type   string
	Object map[string]any
}

// WebhookResult carries the network-vocabulary response body plus an optional
// pass-through event.
type WebhookResult struct {
	Response any
	Event    *WebhookEvent
}
