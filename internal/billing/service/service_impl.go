package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	billingdomain "github.com/juftlik/tolov/internal/billing/domain"
	"github.com/juftlik/tolov/internal/clock"
	"github.com/juftlik/tolov/internal/events"
	ledgerdomain "github.com/juftlik/tolov/internal/ledger/domain"
	plandomain "github.com/juftlik/tolov/internal/plan/domain"
	providerdomain "github.com/juftlik/tolov/internal/provider/domain"
	subscriptiondomain "github.com/juftlik/tolov/internal/subscription/domain"
	userdomain "github.com/juftlik/tolov/internal/user/domain"
)

type Params struct {
	fx.In

	Log       *zap.Logger
	Users     userdomain.Repository
	Plans     plandomain.Service
	Ledger    ledgerdomain.Service
	Subs      subscriptiondomain.Service
	Providers *providerdomain.Registry
	Clock     clock.Clock
	Outbox    *events.Outbox `optional:"true"`
}

type Service struct {
	log       *zap.Logger
	users     userdomain.Repository
	plans     plandomain.Service
	ledger    ledgerdomain.Service
	subs      subscriptiondomain.Service
	providers *providerdomain.Registry
	clock     clock.Clock
	outbox    *events.Outbox
}

func NewService(p Params) billingdomain.Service {
	return &Service{
		log:       p.Log.Named("billing.service"),
		users:     p.Users,
		plans:     p.Plans,
		ledger:    p.Ledger,
		subs:      p.Subs,
		providers: p.Providers,
		clock:     p.Clock,
		outbox:    p.Outbox,
	}
}

// publishEvent records an outbox event. Publishing is best effort; billing
// state is already committed when it runs.
func (s *Service) publishEvent(ctx context.Context, event events.Event) {
	if s.outbox == nil {
		return
	}
	if err := s.outbox.Publish(ctx, event); err != nil {
		s.log.Warn("outbox publish failed",
			zap.String("event_type", event.Type),
			zap.Error(err),
		)
	}
}

// Checkout opens a subscription with the chosen provider. A user with an
// active or past due subscription cannot start a second one.
func (s *Service) Checkout(ctx context.Context, req billingdomain.CheckoutRequest) (*billingdomain.CheckoutResult, error) {
	user, err := s.users.Find(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	if _, err := s.subs.FindActiveByUser(ctx, user.ID); err == nil {
		return nil, billingdomain.ErrSubscriptionExists
	} else if !errors.Is(err, subscriptiondomain.ErrNoActiveSubscription) {
		return nil, err
	}

	name := strings.ToLower(strings.TrimSpace(req.Provider))
	adapter, err := s.resolveProvider(name, user.CountryCode)
	if err != nil {
		return nil, err
	}

	plan, err := s.plans.Find(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	pricing, err := s.plans.PricingFor(ctx, plan.ID, user.CountryCode)
	if err != nil {
		return nil, err
	}

	result := adapter.CreateSubscription(ctx, providerdomain.CreateSubscriptionRequest{
		User:            user,
		PlanID:          plan.ID,
		PlanName:        plan.Name,
		Amount:          pricing.Amount,
		Currency:        pricing.Currency,
		PriceID:         pricing.ProviderPriceID,
		PaymentMethodID: req.PaymentMethodID,
		TrialDays:       req.TrialDays,
		Description:     fmt.Sprintf("Subscription to %s", plan.Name),
		IdempotencyKey:  req.IdempotencyKey,
	})
	if !result.Success {
		s.log.Warn("checkout rejected by provider",
			zap.String("provider", name),
			zap.String("user_id", user.ID.String()),
			zap.String("error", result.Error),
		)
		return nil, fmt.Errorf("%w: %s", billingdomain.ErrCheckoutFailed, result.Error)
	}

	sub := &subscriptiondomain.Subscription{
		UserID:                 user.ID,
		PlanID:                 plan.ID,
		Provider:               name,
		ProviderSubscriptionID: result.ProviderSubscriptionID,
		Status:                 mapProviderStatus(result.Status),
		CancelAtPeriodEnd:      result.CancelAtPeriodEnd,
		Metadata: datatypes.JSONMap{
			"user_id": user.ID.String(),
			"plan_id": plan.ID.String(),
		},
	}
	if result.CurrentPeriodStart != nil {
		sub.CurrentPeriodStart = *result.CurrentPeriodStart
	}
	if result.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = *result.CurrentPeriodEnd
	}

	sub, err = s.subs.Create(ctx, sub)
	if err != nil {
		return nil, err
	}

	s.log.Info("checkout started",
		zap.String("provider", name),
		zap.String("user_id", user.ID.String()),
		zap.String("plan_id", plan.ID.String()),
		zap.String("provider_subscription_id", result.ProviderSubscriptionID),
	)
	s.publishEvent(ctx, events.Event{
		UserID:    user.ID,
		Type:      events.EventCheckoutStarted,
		DedupeKey: "checkout:" + name + ":" + result.ProviderSubscriptionID,
		Payload: map[string]any{
			"provider":                 name,
			"plan_id":                  plan.ID.String(),
			"provider_subscription_id": result.ProviderSubscriptionID,
		},
	})
	return &billingdomain.CheckoutResult{
		Subscription: sub,
		CheckoutURL:  result.CheckoutURL,
	}, nil
}

// CancelSubscription revokes the remote agreement and cancels the local row.
func (s *Service) CancelSubscription(ctx context.Context, userID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	sub, err := s.subs.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	adapter, err := s.providers.Get(sub.Provider)
	if err != nil {
		return nil, err
	}
	if !adapter.CancelSubscription(ctx, sub.ProviderSubscriptionID) {
		return nil, fmt.Errorf("%w: provider refused cancellation", billingdomain.ErrCheckoutFailed)
	}

	if err := s.subs.Cancel(ctx, sub.ID); err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.Event{
		UserID:    userID,
		Type:      events.EventSubscriptionCanceled,
		DedupeKey: "cancel:" + sub.ID.String(),
		Payload: map[string]any{
			"subscription_id": sub.ID.String(),
			"provider":        sub.Provider,
		},
	})
	return s.subs.FindByProviderRef(ctx, sub.Provider, sub.ProviderSubscriptionID)
}

// ChangePlan swaps the plan behind the active subscription. Only providers
// with remote subscription updates support this.
func (s *Service) ChangePlan(ctx context.Context, userID, planID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	sub, err := s.subs.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	user, err := s.users.Find(ctx, userID)
	if err != nil {
		return nil, err
	}

	plan, err := s.plans.Find(ctx, planID)
	if err != nil {
		return nil, err
	}
	pricing, err := s.plans.PricingFor(ctx, plan.ID, user.CountryCode)
	if err != nil {
		return nil, err
	}

	adapter, err := s.providers.Get(sub.Provider)
	if err != nil {
		return nil, err
	}
	result := adapter.UpdateSubscription(ctx, sub.ProviderSubscriptionID, providerdomain.UpdateSubscriptionRequest{
		PriceID: pricing.ProviderPriceID,
	})
	if !result.Success {
		return nil, fmt.Errorf("%w: %s", billingdomain.ErrProviderUnavailable, result.Error)
	}

	if err := s.subs.ChangePlan(ctx, sub.ID, plan.ID); err != nil {
		return nil, err
	}
	return s.subs.FindByProviderRef(ctx, sub.Provider, sub.ProviderSubscriptionID)
}

// Pay runs a one-time charge and records it in the ledger. Providers that
// settle synchronously land as succeeded; redirect flows stay pending until
// the webhook resolves them.
func (s *Service) Pay(ctx context.Context, req billingdomain.PayRequest) (*ledgerdomain.Transaction, error) {
	user, err := s.users.Find(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	name := strings.ToLower(strings.TrimSpace(req.Provider))
	adapter, err := s.resolveProvider(name, user.CountryCode)
	if err != nil {
		return nil, err
	}

	result := adapter.ProcessPayment(ctx, providerdomain.PaymentRequest{
		UserID:          user.ID,
		Amount:          req.Amount,
		Currency:        req.Currency,
		CustomerID:      user.StripeCustomerID,
		PaymentMethodID: req.PaymentMethodID,
		PhoneNumber:     req.PhoneNumber,
		Description:     req.Description,
		IdempotencyKey:  req.IdempotencyKey,
	})
	if !result.Success {
		return nil, fmt.Errorf("%w: %s", billingdomain.ErrPaymentFailed, result.Error)
	}

	txn, _, err := s.ledger.CreateOrGet(ctx, &ledgerdomain.Transaction{
		UserID:                user.ID,
		Provider:              name,
		ProviderTransactionID: result.ProviderTransactionID,
		Kind:                  ledgerdomain.KindOneTime,
		Amount:                result.Amount,
		Currency:              strings.ToUpper(result.Currency),
		Status:                ledgerdomain.StatusPending,
	})
	if err != nil {
		return nil, err
	}
	if result.Status == "succeeded" {
		txn, _, err = s.ledger.MarkSucceeded(ctx, name, result.ProviderTransactionID, nil)
		if err != nil {
			return nil, err
		}
	}
	return txn, nil
}

func (s *Service) AvailableProviders(ctx context.Context, userID snowflake.ID) ([]string, error) {
	user, err := s.users.Find(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.providers.Available(user.CountryCode), nil
}

// ProcessProviderEvent applies a recognized card network lifecycle event.
// The mobile money adapters settle inside their webhook handlers and emit
// events only for observability, so everything here is keyed to the card
// network's vocabulary.
func (s *Service) ProcessProviderEvent(ctx context.Context, provider string, event *providerdomain.WebhookEvent) error {
	if event == nil {
		return nil
	}

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		return s.syncSubscription(ctx, provider, event.Object)
	case "customer.subscription.deleted":
		return s.cancelFromEvent(ctx, provider, event.Object)
	case "invoice.payment_succeeded":
		return s.settleInvoice(ctx, provider, event.Object, true)
	case "invoice.payment_failed":
		return s.settleInvoice(ctx, provider, event.Object, false)
	default:
		s.log.Debug("ignoring provider event",
			zap.String("provider", provider),
			zap.String("type", event.Type),
		)
		return nil
	}
}

func (s *Service) syncSubscription(ctx context.Context, provider string, object map[string]any) error {
	remoteID := stringField(object, "id")
	if remoteID == "" {
		return providerdomain.ErrInvalidPayload
	}

	sync := subscriptiondomain.ProviderSync{
		Status:             mapProviderStatus(stringField(object, "status")),
		CurrentPeriodStart: timeField(object, "current_period_start"),
		CurrentPeriodEnd:   timeField(object, "current_period_end"),
	}

	_, err := s.subs.SyncFromProvider(ctx, provider, remoteID, sync)
	if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
		// First sight of a subscription created outside checkout. Without the
		// user and plan references in metadata there is nothing to attach.
		userID, uerr := snowflakeField(object, "metadata", "user_id")
		planID, perr := snowflakeField(object, "metadata", "plan_id")
		if uerr != nil || perr != nil {
			s.log.Warn("subscription event without local mapping",
				zap.String("provider", provider),
				zap.String("provider_subscription_id", remoteID),
			)
			return nil
		}
		sub := &subscriptiondomain.Subscription{
			UserID:                 userID,
			PlanID:                 planID,
			Provider:               provider,
			ProviderSubscriptionID: remoteID,
			Status:                 sync.Status,
		}
		if sync.CurrentPeriodStart != nil {
			sub.CurrentPeriodStart = *sync.CurrentPeriodStart
		}
		if sync.CurrentPeriodEnd != nil {
			sub.CurrentPeriodEnd = *sync.CurrentPeriodEnd
		}
		_, err = s.subs.Create(ctx, sub)
	}
	return err
}

func (s *Service) cancelFromEvent(ctx context.Context, provider string, object map[string]any) error {
	remoteID := stringField(object, "id")
	if remoteID == "" {
		return providerdomain.ErrInvalidPayload
	}
	sub, err := s.subs.FindByProviderRef(ctx, provider, remoteID)
	if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.subs.Cancel(ctx, sub.ID)
}

// settleInvoice records the invoice outcome in the ledger and, exactly once
// per invoice, extends or degrades the subscription it belongs to.
func (s *Service) settleInvoice(ctx context.Context, provider string, object map[string]any, succeeded bool) error {
	invoiceID := stringField(object, "id")
	remoteSubID := stringField(object, "subscription")
	if invoiceID == "" {
		return providerdomain.ErrInvalidPayload
	}

	amount := intField(object, "amount_paid")
	if amount == 0 {
		amount = intField(object, "amount_due")
	}
	if amount == 0 {
		// Trial invoices settle at zero. There is no money movement to
		// record and the period comes through subscription updates.
		s.log.Debug("skipping zero-amount invoice",
			zap.String("provider", provider),
			zap.String("invoice_id", invoiceID),
		)
		return nil
	}
	currency := strings.ToUpper(stringField(object, "currency"))
	if currency == "" {
		currency = "USD"
	}

	sub, err := s.subs.FindByProviderRef(ctx, provider, remoteSubID)
	if err != nil && !errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
		return err
	}

	txn := &ledgerdomain.Transaction{
		Provider:              provider,
		ProviderTransactionID: invoiceID,
		Kind:                  ledgerdomain.KindSubscription,
		Amount:                amount,
		Currency:              currency,
		Status:                ledgerdomain.StatusPending,
		ProviderData: map[string]any{
			"provider_subscription_id": remoteSubID,
		},
	}
	if sub != nil {
		txn.UserID = sub.UserID
		txn.SubscriptionID = &sub.ID
	}
	if _, _, err := s.ledger.CreateOrGet(ctx, txn); err != nil {
		return err
	}

	if succeeded {
		settled, already, err := s.ledger.MarkSucceeded(ctx, provider, invoiceID, nil)
		if err != nil {
			if errors.Is(err, ledgerdomain.ErrTerminalState) {
				return nil
			}
			return err
		}
		if !already && sub != nil {
			s.publishEvent(ctx, events.Event{
				UserID:    sub.UserID,
				Type:      events.EventPaymentSettled,
				DedupeKey: "settle:" + provider + ":" + invoiceID,
				Payload: events.TransactionPayload{
					Provider:              provider,
					ProviderTransactionID: invoiceID,
					Amount:                settled.Amount,
					Currency:              settled.Currency,
				}.ToMap(),
			})
			return s.subs.ExtendPeriod(ctx, sub.ID, 1)
		}
		return nil
	}

	reason := stringField(object, "billing_reason")
	if reason == "" {
		reason = "invoice payment failed"
	}
	failed, already, err := s.ledger.MarkFailed(ctx, provider, invoiceID, reason, nil)
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrTerminalState) {
			return nil
		}
		return err
	}
	if !already && sub != nil {
		s.publishEvent(ctx, events.Event{
			UserID:    sub.UserID,
			Type:      events.EventPaymentFailed,
			DedupeKey: "fail:" + provider + ":" + invoiceID,
			Payload: events.TransactionPayload{
				Provider:              provider,
				ProviderTransactionID: invoiceID,
				Amount:                failed.Amount,
				Currency:              failed.Currency,
			}.ToMap(),
		})
		return s.subs.MarkPastDue(ctx, sub.ID)
	}
	return nil
}

func (s *Service) resolveProvider(name, countryCode string) (providerdomain.Provider, error) {
	adapter, err := s.providers.Get(name)
	if err != nil {
		return nil, err
	}
	for _, available := range s.providers.Available(countryCode) {
		if available == name {
			return adapter, nil
		}
	}
	return nil, billingdomain.ErrProviderUnavailable
}

func mapProviderStatus(status string) subscriptiondomain.SubscriptionStatus {
	switch strings.ToLower(status) {
	case "active", "trialing":
		return subscriptiondomain.StatusActive
	case "past_due":
		return subscriptiondomain.StatusPastDue
	case "canceled", "unpaid", "incomplete_expired":
		return subscriptiondomain.StatusCanceled
	default:
		return subscriptiondomain.StatusPending
	}
}

func stringField(object map[string]any, key string) string {
	if object == nil {
		return ""
	}
	value, _ := object[key].(string)
	return strings.TrimSpace(value)
}

func intField(object map[string]any, key string) int64 {
	if object == nil {
		return 0
	}
	switch typed := object[key].(type) {
	case float64:
		return int64(typed)
	case int64:
		return typed
	case int:
		return int64(typed)
	}
	return 0
}

func timeField(object map[string]any, key string) *time.Time {
	unix := intField(object, key)
	if unix == 0 {
		return nil
	}
	at := time.Unix(unix, 0).UTC()
	return &at
}

func snowflakeField(object map[string]any, container, key string) (snowflake.ID, error) {
	nested, _ := object[container].(map[string]any)
	raw := stringField(nested, key)
	if raw == "" {
		return 0, fmt.Errorf("missing %s.%s", container, key)
	}
	parsed, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, fmt.Errorf("malformed %s.%s", container, key)
	}
	return parsed, nil
}
