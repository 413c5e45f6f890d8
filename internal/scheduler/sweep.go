package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/juftlik/tolov/internal/events"
	subscriptiondomain "github.com/juftlik/tolov/internal/subscription/domain"
)

type workSubscription struct {
	ID                snowflake.ID
	UserID            snowflake.ID
	PlanID            snowflake.ID
	Status            subscriptiondomain.SubscriptionStatus
	CurrentPeriodEnd  time.Time
	CancelAtPeriodEnd bool
}

// lapseExpiredPeriods moves active subscriptions whose period has ended into
// past_due, or straight to canceled when cancel_at_period_end is set.
func (s *Scheduler) lapseExpiredPeriods(ctx context.Context, now time.Time) (int, error) {
	applied := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := s.fetchLapsed(ctx, tx, subscriptiondomain.StatusActive, now)
		if err != nil {
			return err
		}
		for _, sub := range rows {
			var updated bool
			if sub.CancelAtPeriodEnd {
				updated, err = s.markCanceled(ctx, tx, sub.ID, subscriptiondomain.StatusActive, now)
			} else {
				updated, err = s.markPastDue(ctx, tx, sub.ID, now)
			}
			if err != nil {
				return err
			}
			if !updated {
				continue
			}
			applied++
			s.recordTransition(ctx, tx, sub, now)
		}
		return nil
	})
	return applied, err
}

// cancelLapsedGrace cancels past_due subscriptions whose grace period ran out.
func (s *Scheduler) cancelLapsedGrace(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.cfg.GracePeriod)
	applied := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := s.fetchLapsed(ctx, tx, subscriptiondomain.StatusPastDue, cutoff)
		if err != nil {
			return err
		}
		for _, sub := range rows {
			updated, err := s.markCanceled(ctx, tx, sub.ID, subscriptiondomain.StatusPastDue, now)
			if err != nil {
				return err
			}
			if !updated {
				continue
			}
			applied++
			s.recordTransition(ctx, tx, sub, now)
		}
		return nil
	})
	return applied, err
}

func (s *Scheduler) fetchLapsed(ctx context.Context, tx *gorm.DB, status subscriptiondomain.SubscriptionStatus, cutoff time.Time) ([]workSubscription, error) {
	var rows []workSubscription
	query := fmt.Sprintf(
		`SELECT id, user_id, plan_id, status, current_period_end, cancel_at_period_end
		 FROM subscriptions
		 WHERE status = ? AND current_period_end <= ?
		 ORDER BY current_period_end ASC, id ASC%s
		 LIMIT ?`,
		s.lockClause(tx),
	)
	err := tx.WithContext(ctx).Raw(query, status, cutoff, s.cfg.BatchSize).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// lockClause keeps row locking on engines that support it. The conditional
// updates stay correct without it.
func (s *Scheduler) lockClause(tx *gorm.DB) string {
	if tx.Dialector.Name() == "postgres" {
		return `
		 FOR UPDATE SKIP LOCKED`
	}
	return ""
}

func (s *Scheduler) markPastDue(ctx context.Context, tx *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	result := tx.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND current_period_end <= ?`,
		subscriptiondomain.StatusPastDue,
		now,
		id,
		subscriptiondomain.StatusActive,
		now,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *Scheduler) markCanceled(ctx context.Context, tx *gorm.DB, id snowflake.ID, from subscriptiondomain.SubscriptionStatus, now time.Time) (bool, error) {
	result := tx.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, canceled_at = COALESCE(canceled_at, ?), updated_at = ?
		 WHERE id = ? AND status = ?`,
		subscriptiondomain.StatusCanceled,
		now,
		now,
		id,
		from,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *Scheduler) recordTransition(ctx context.Context, tx *gorm.DB, sub workSubscription, now time.Time) {
	if s.outbox == nil {
		return
	}
	eventType := events.EventSubscriptionPastDue
	if sub.CancelAtPeriodEnd || sub.Status == subscriptiondomain.StatusPastDue {
		eventType = events.EventSubscriptionCanceled
	}
	err := s.outbox.PublishTx(ctx, tx, events.Event{
		UserID:    sub.UserID,
		Type:      eventType,
		DedupeKey: eventType + ":" + sub.ID.String() + ":" + strconv.FormatInt(sub.CurrentPeriodEnd.Unix(), 10),
		Payload: map[string]any{
			"subscription_id": sub.ID.String(),
			"plan_id":         sub.PlanID.String(),
			"period_end":      sub.CurrentPeriodEnd.UTC().Format(time.RFC3339),
			"transitioned_at": now.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		s.log.Warn("failed to record transition event",
			zap.String("subscription_id", sub.ID.String()),
			zap.Error(err),
		)
	}
}
