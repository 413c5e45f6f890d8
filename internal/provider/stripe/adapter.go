package stripe

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/juftlik/tolov/internal/clock"
	"github.com/juftlik/tolov/internal/config"
	"github.com/juftlik/tolov/internal/observability/tracing"
	providerdomain "github.com/juftlik/tolov/internal/provider/domain"
	userdomain "github.com/juftlik/tolov/internal/user/domain"
)

const ProviderName = "stripe"

// Adapter maps the provider contract onto the card network's
// customer/subscription/payment-intent API.
type Adapter struct {
	cfg   config.StripeConfig
	log   *zap.Logger
	users userdomain.Repository
	clock clock.Clock
	api   *client
}

func NewAdapter(cfg config.StripeConfig, log *zap.Logger, users userdomain.Repository, clk clock.Clock) *Adapter {
	return &Adapter{
		cfg:   cfg,
		log:   log.Named("provider.stripe"),
		users: users,
		clock: clk,
		api: &client{
			baseURL:   cfg.BaseURL,
			secretKey: cfg.SecretKey,
			http:      tracing.WrapHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		},
	}
}

func (a *Adapter) Name() string { return ProviderName }

func (a *Adapter) CreateSubscription(ctx context.Context, req providerdomain.CreateSubscriptionRequest) providerdomain.SubscriptionResult {
	if req.User == nil {
		return providerdomain.SubscriptionResult{Error: "user is required"}
	}

	customerID, err := a.getOrCreateCustomer(ctx, req.User)
	if err != nil {
		a.log.Error("customer creation failed",
			zap.String("user_id", req.User.ID.String()),
			zap.Error(err),
		)
		return providerdomain.SubscriptionResult{Error: err.Error()}
	}

	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("items[0][price]", req.PriceID)
	if req.PaymentMethodID != "" {
		form.Set("payment_method", req.PaymentMethodID)
		form.Set("default_payment_method", req.PaymentMethodID)
	}
	form.Set("metadata[user_id]", req.User.ID.String())
	form.Set("metadata[plan_id]", req.PlanID.String())
	if req.TrialDays > 0 {
		form.Set("trial_period_days", strconv.Itoa(req.TrialDays))
	}

	var sub apiSubscription
	if err := a.api.postIdempotent(ctx, "/v1/subscriptions", req.IdempotencyKey, form, &sub); err != nil {
		a.log.Error("subscription creation failed",
			zap.String("user_id", req.User.ID.String()),
			zap.Int64("amount", req.Amount),
			zap.Error(err),
		)
		return providerdomain.SubscriptionResult{Error: err.Error()}
	}

	return a.subscriptionResult(&sub, map[string]any{"customer_id": customerID})
}

func (a *Adapter) UpdateSubscription(ctx context.Context, providerSubscriptionID string, req providerdomain.UpdateSubscriptionRequest) providerdomain.SubscriptionResult {
	var current apiSubscription
	if err := a.api.get(ctx, "/v1/subscriptions/"+providerSubscriptionID, &current); err != nil {
		return providerdomain.SubscriptionResult{Error: err.Error()}
	}

	if req.PriceID != "" {
		if len(current.Items.Data) == 0 {
			return providerdomain.SubscriptionResult{Error: "subscription has no items"}
		}
		proration := req.ProrationBehavior
		if proration == "" {
			proration = "create_prorations"
		}
		form := url.Values{}
		form.Set("items[0][id]", current.Items.Data[0].ID)
		form.Set("items[0][price]", req.PriceID)
		form.Set("proration_behavior", proration)
		if err := a.api.post(ctx, "/v1/subscriptions/"+providerSubscriptionID, form, nil); err != nil {
			a.log.Error("subscription price swap failed",
				zap.String("subscription_id", providerSubscriptionID),
				zap.Error(err),
			)
			return providerdomain.SubscriptionResult{Error: err.Error()}
		}
	}

	if req.PaymentMethodID != "" {
		form := url.Values{}
		form.Set("default_payment_method", req.PaymentMethodID)
		if err := a.api.post(ctx, "/v1/subscriptions/"+providerSubscriptionID, form, nil); err != nil {
			return providerdomain.SubscriptionResult{Error: err.Error()}
		}
	}

	// Re-read for the authoritative post-update state.
	var updated apiSubscription
	if err := a.api.get(ctx, "/v1/subscriptions/"+providerSubscriptionID, &updated); err != nil {
		return providerdomain.SubscriptionResult{Error: err.Error()}
	}
	return a.subscriptionResult(&updated, nil)
}

func (a *Adapter) CancelSubscription(ctx context.Context, providerSubscriptionID string) bool {
	form := url.Values{}
	form.Set("cancel_at_period_end", "true")
	if err := a.api.post(ctx, "/v1/subscriptions/"+providerSubscriptionID, form, nil); err != nil {
		a.log.Error("subscription cancellation failed",
			zap.String("subscription_id", providerSubscriptionID),
			zap.Error(err),
		)
		return false
	}
	return true
}

func (a *Adapter) GetSubscription(ctx context.Context, providerSubscriptionID string) providerdomain.SubscriptionResult {
	var sub apiSubscription
	if err := a.api.get(ctx, "/v1/subscriptions/"+providerSubscriptionID, &sub); err != nil {
		return providerdomain.SubscriptionResult{Error: err.Error()}
	}
	return a.subscriptionResult(&sub, nil)
}

func (a *Adapter) ProcessPayment(ctx context.Context, req providerdomain.PaymentRequest) providerdomain.PaymentResult {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("currency", req.Currency)
	if req.CustomerID != "" {
		form.Set("customer", req.CustomerID)
	}
	form.Set("payment_method", req.PaymentMethodID)
	form.Set("confirmation_method", "manual")
	form.Set("confirm", "true")
	form.Set("metadata[user_id]", req.UserID.String())
	if req.Description != "" {
		form.Set("description", req.Description)
	}

	var intent apiPaymentIntent
	if err := a.api.postIdempotent(ctx, "/v1/payment_intents", req.IdempotencyKey, form, &intent); err != nil {
		a.log.Error("payment failed",
			zap.String("user_id", req.UserID.String()),
			zap.Int64("amount", req.Amount),
			zap.String("currency", req.Currency),
			zap.Error(err),
		)
		return providerdomain.PaymentResult{Error: err.Error()}
	}

	return providerdomain.PaymentResult{
		Success:               true,
		ProviderTransactionID: intent.ID,
		Status:                intent.Status,
		Amount:                intent.Amount,
		Currency:              intent.Currency,
	}
}

func (a *Adapter) CreatePaymentMethod(ctx context.Context, req providerdomain.PaymentMethodRequest) providerdomain.PaymentMethodResult {
	form := url.Values{}
	form.Set("type", "card")
	form.Set("card[token]", req.Token)

	var method apiPaymentMethod
	if err := a.api.post(ctx, "/v1/payment_methods", form, &method); err != nil {
		return providerdomain.PaymentMethodResult{Error: err.Error()}
	}

	if req.CustomerID != "" {
		attach := url.Values{}
		attach.Set("customer", req.CustomerID)
		if err := a.api.post(ctx, "/v1/payment_methods/"+method.ID+"/attach", attach, nil); err != nil {
			return providerdomain.PaymentMethodResult{Error: err.Error()}
		}
	}

	return providerdomain.PaymentMethodResult{
		Success:          true,
		ProviderMethodID: method.ID,
		Type:             "card",
		Display:          fmt.Sprintf("%s •••• %s", method.Card.Brand, method.Card.Last4),
		Details: map[string]any{
			"brand":     method.Card.Brand,
			"last4":     method.Card.Last4,
			"exp_month": method.Card.ExpMonth,
			"exp_year":  method.Card.ExpYear,
		},
	}
}

func (a *Adapter) UpdatePaymentMethod(ctx context.Context, providerMethodID string, req providerdomain.PaymentMethodRequest) providerdomain.PaymentMethodResult {
	var method apiPaymentMethod
	if err := a.api.get(ctx, "/v1/payment_methods/"+providerMethodID, &method); err != nil {
		return providerdomain.PaymentMethodResult{Error: err.Error()}
	}

	if req.CardExpire != "" {
		month, year, err := parseExpire(req.CardExpire)
		if err != nil {
			return providerdomain.PaymentMethodResult{Error: err.Error()}
		}
		form := url.Values{}
		form.Set("card[exp_month]", strconv.Itoa(month))
		form.Set("card[exp_year]", strconv.Itoa(year))
		if err := a.api.post(ctx, "/v1/payment_methods/"+providerMethodID, form, &method); err != nil {
			return providerdomain.PaymentMethodResult{Error: err.Error()}
		}
	}

	return providerdomain.PaymentMethodResult{
		Success:          true,
		ProviderMethodID: method.ID,
		Type:             method.Type,
	}
}

func (a *Adapter) DeletePaymentMethod(ctx context.Context, providerMethodID string) bool {
	if err := a.api.post(ctx, "/v1/payment_methods/"+providerMethodID+"/detach", url.Values{}, nil); err != nil {
		a.log.Error("payment method detach failed",
			zap.String("payment_method_id", providerMethodID),
			zap.Error(err),
		)
		return false
	}
	return true
}

// getOrCreateCustomer returns the remote customer id for a user, creating one
// lazily and caching it on the user row.
func (a *Adapter) getOrCreateCustomer(ctx context.Context, user *userdomain.User) (string, error) {
	if user.StripeCustomerID != "" {
		return user.StripeCustomerID, nil
	}

	form := url.Values{}
	form.Set("email", user.Email)
	form.Set("metadata[user_id]", user.ID.String())

	var customer apiCustomer
	if err := a.api.post(ctx, "/v1/customers", form, &customer); err != nil {
		return "", err
	}
	if err := a.users.SetStripeCustomerID(ctx, user.ID, customer.ID); err != nil {
		return "", err
	}
	user.StripeCustomerID = customer.ID
	return customer.ID, nil
}

func (a *Adapter) subscriptionResult(sub *apiSubscription, metadata map[string]any) providerdomain.SubscriptionResult {
	result := providerdomain.SubscriptionResult{
		Success:                true,
		ProviderSubscriptionID: sub.ID,
		Status:                 sub.Status,
		CancelAtPeriodEnd:      sub.CancelAtPeriodEnd,
		Metadata:               metadata,
	}
	if sub.CurrentPeriodStart > 0 {
		start := time.Unix(sub.CurrentPeriodStart, 0).UTC()
		result.CurrentPeriodStart = &start
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		result.CurrentPeriodEnd = &end
	}
	return result
}

func parseExpire(expire string) (month, year int, err error) {
	if len(expire) != 4 {
		return 0, 0, fmt.Errorf("invalid expire format %q", expire)
	}
	yy, err := strconv.Atoi(expire[:2])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid expire format %q", expire)
	}
	mm, err := strconv.Atoi(expire[2:])
	if err != nil || mm < 1 || mm > 12 {
		return 0, 0, fmt.Errorf("invalid expire format %q", expire)
	}
	return mm, 2000 + yy, nil
}
