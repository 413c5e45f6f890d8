package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/juftlik/tolov/internal/clock"
	"github.com/juftlik/tolov/internal/events"
	subscriptiondomain "github.com/juftlik/tolov/internal/subscription/domain"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Outbox *events.Outbox `optional:"true"`
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	outbox *events.Outbox
}

func NewService(p Params) subscriptiondomain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("subscription.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		outbox: p.Outbox,
	}
}

// ActivateFromTransaction creates the subscription for a succeeded ledger
// transaction, or returns the one a previous delivery already created. The
// unique (provider, provider_subscription_id) index resolves concurrent
// activations for the same transaction to a single row.
func (s *Service) ActivateFromTransaction(ctx context.Context, req subscriptiondomain.ActivationRequest) (*subscriptiondomain.Subscription, error) {
	txn := req.Transaction
	if txn == nil || req.UserID == 0 || req.PlanID == 0 {
		return nil, subscriptiondomain.ErrInvalidActivation
	}
	months := req.PeriodMonths
	if months <= 0 {
		months = 1
	}

	existing, err := s.FindByProviderRef(ctx, txn.Provider, txn.ProviderTransactionID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
		return nil, err
	}

	now := s.clock.Now()
	metadata := datatypes.JSONMap{
		subscriptiondomain.MetadataTransactionKey: txn.ID.String(),
	}
	for key, value := range req.Metadata {
		if strings.TrimSpace(key) == "" {
			continue
		}
		metadata[key] = value
	}

	sub := &subscriptiondomain.Subscription{
		ID:                     s.genID.Generate(),
		UserID:                 req.UserID,
		PlanID:                 req.PlanID,
		Provider:               txn.Provider,
		ProviderSubscriptionID: txn.ProviderTransactionID,
		Status:                 subscriptiondomain.StatusActive,
		CurrentPeriodStart:     now,
		CurrentPeriodEnd:       now.AddDate(0, months, 0),
		Metadata:               metadata,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_subscription_id"}},
			DoNothing: true,
		}).
		Create(sub)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// A concurrent activation for the same transaction won the insert.
		return s.FindByProviderRef(ctx, txn.Provider, txn.ProviderTransactionID)
	}

	s.log.Info("subscription activated",
		zap.String("provider", txn.Provider),
		zap.String("provider_transaction_id", txn.ProviderTransactionID),
		zap.String("subscription_id", sub.ID.String()),
	)
	if s.outbox != nil {
		err := s.outbox.Publish(ctx, events.Event{
			UserID:    sub.UserID,
			Type:      events.EventSubscriptionActivated,
			DedupeKey: "activate:" + txn.Provider + ":" + txn.ProviderTransactionID,
			Payload: map[string]any{
				"subscription_id": sub.ID.String(),
				"plan_id":         sub.PlanID.String(),
				"period_end":      sub.CurrentPeriodEnd.UTC().Format(time.RFC3339),
			},
		})
		if err != nil {
			s.log.Warn("failed to record activation event", zap.Error(err))
		}
	}
	return sub, nil
}

func (s *Service) Create(ctx context.Context, sub *subscriptiondomain.Subscription) (*subscriptiondomain.Subscription, error) {
	if sub == nil || sub.UserID == 0 || sub.PlanID == 0 {
		return nil, subscriptiondomain.ErrInvalidActivation
	}
	now := s.clock.Now()
	if sub.ID == 0 {
		sub.ID = s.genID.Generate()
	}
	if sub.Status == "" {
		sub.Status = subscriptiondomain.StatusPending
	}
	if sub.CurrentPeriodStart.IsZero() {
		sub.CurrentPeriodStart = now
	}
	if sub.CurrentPeriodEnd.IsZero() {
		sub.CurrentPeriodEnd = now.AddDate(0, 1, 0)
	}
	sub.CreatedAt = now
	sub.UpdatedAt = now

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_subscription_id"}},
			DoNothing: true,
		}).
		Create(sub)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return s.FindByProviderRef(ctx, sub.Provider, sub.ProviderSubscriptionID)
	}
	return sub, nil
}

func (s *Service) FindByProviderRef(ctx context.Context, provider, providerSubscriptionID string) (*subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).
		First(&sub, "provider = ? AND provider_subscription_id = ?", provider, providerSubscriptionID).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *Service) FindActiveByUser(ctx context.Context, userID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).
		First(&sub, "user_id = ? AND status IN ?", userID,
			[]subscriptiondomain.SubscriptionStatus{
				subscriptiondomain.StatusActive,
				subscriptiondomain.StatusPastDue,
			}).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, subscriptiondomain.ErrNoActiveSubscription
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *Service) ExtendPeriod(ctx context.Context, id snowflake.ID, months int) error {
	if months <= 0 {
		months = 1
	}
	sub, err := s.findByID(ctx, id)
	if err != nil {
		return err
	}

	start := sub.CurrentPeriodEnd
	now := s.clock.Now()
	if start.Before(now) {
		start = now
	}
	return s.db.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"current_period_start": start,
			"current_period_end":   start.AddDate(0, months, 0),
			"status":               subscriptiondomain.StatusActive,
			"updated_at":           now,
		}).Error
}

func (s *Service) ChangePlan(ctx context.Context, id, planID snowflake.ID) error {
	if planID == 0 {
		return subscriptiondomain.ErrInvalidActivation
	}
	res := s.db.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"plan_id":    planID,
			"updated_at": s.clock.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return subscriptiondomain.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Service) SyncFromProvider(ctx context.Context, provider, providerSubscriptionID string, sync subscriptiondomain.ProviderSync) (*subscriptiondomain.Subscription, error) {
	sub, err := s.FindByProviderRef(ctx, provider, providerSubscriptionID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{"updated_at": s.clock.Now()}
	if sync.Status != "" {
		updates["status"] = sync.Status
	}
	if sync.CurrentPeriodStart != nil {
		updates["current_period_start"] = *sync.CurrentPeriodStart
	}
	if sync.CurrentPeriodEnd != nil {
		updates["current_period_end"] = *sync.CurrentPeriodEnd
	}

	if err := s.db.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Where("id = ?", sub.ID).
		Updates(updates).Error; err != nil {
		return nil, err
	}
	return s.findByID(ctx, sub.ID)
}

func (s *Service) Cancel(ctx context.Context, id snowflake.ID) error {
	now := s.clock.Now()
	return s.db.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":      subscriptiondomain.StatusCanceled,
			"canceled_at": now,
			"updated_at":  now,
		}).Error
}

func (s *Service) MarkPastDue(ctx context.Context, id snowflake.ID) error {
	return s.db.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Where("id = ? AND status = ?", id, subscriptiondomain.StatusActive).
		Updates(map[string]any{
			"status":     subscriptiondomain.StatusPastDue,
			"updated_at": s.clock.Now(),
		}).Error
}

func (s *Service) findByID(ctx context.Context, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).First(&sub, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}
