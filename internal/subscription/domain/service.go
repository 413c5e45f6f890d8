package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"

	ledgerdomain "github.com/juftlik/tolov/internal/ledger/domain"
)

// ActivationRequest carries what the activator needs to create or extend a
// subscription when a ledger transaction reaches succeeded.
type ActivationRequest struct {
	Transaction  *ledgerdomain.Transaction
	UserID       snowflake.ID
	PlanID       snowflake.ID
	PeriodMonths int
	Metadata     map[string]any
}

// ProviderSync carries the authoritative state reported by a provider webhook.
type ProviderSync struct {
	Status             SubscriptionStatus
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
}

// Service owns subscription rows. ActivateFromTransaction is the Subscription
// Activator: invoked once per transaction reaching succeeded and idempotent
// when replayed.
type Service interface {
	ActivateFromTransaction(ctx context.Context, req ActivationRequest) (*Subscription, error)
	Create(ctx context.Context, sub *Subscription) (*Subscription, error)
	FindByProviderRef(ctx context.Context, provider, providerSubscriptionID string) (*Subscription, error)
	FindActiveByUser(ctx context.Context, userID snowflake.ID) (*Subscription, error)
	ExtendPeriod(ctx context.Context, id snowflake.ID, months int) error
	ChangePlan(ctx context.Context, id, planID snowflake.ID) error
	SyncFromProvider(ctx context.Context, provider, providerSubscriptionID string, sync ProviderSync) (*Subscription, error)
	Cancel(ctx context.Context, id snowflake.ID) error
	MarkPastDue(ctx context.Context, id snowflake.ID) error
}

var (
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrInvalidActivation    = errors.New("invalid_activation")
	ErrNoActiveSubscription = errors.New("no_active_subscription")
)
