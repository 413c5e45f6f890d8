package scheduler

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/juftlik/tolov/internal/clock"
	"github.com/juftlik/tolov/internal/config"
	"github.com/juftlik/tolov/internal/events"
	subscriptiondomain "github.com/juftlik/tolov/internal/subscription/domain"
)

var sweepNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestSweepMovesLapsedActiveToPastDue(t *testing.T) {
	db := setupSweepDB(t)
	seedSweepSubscription(t, db, 1, subscriptiondomain.StatusActive, sweepNow.Add(-time.Hour), false)
	seedSweepSubscription(t, db, 2, subscriptiondomain.StatusActive, sweepNow.Add(time.Hour), false)

	s := sweeper(t, db, sweepNow)
	if err := s.SweepOnce(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if got := subscriptionStatus(t, db, 1); got != subscriptiondomain.StatusPastDue {
		t.Fatalf("expected lapsed subscription past_due, got %s", got)
	}
	if got := subscriptionStatus(t, db, 2); got != subscriptiondomain.StatusActive {
		t.Fatalf("unexpired subscription must stay active, got %s", got)
	}
	if got := eventCount(t, db, events.EventSubscriptionPastDue); got != 1 {
		t.Fatalf("expected one past_due event, got %d", got)
	}
}

func TestSweepCancelsLapsedWhenCancelRequested(t *testing.T) {
	db := setupSweepDB(t)
	seedSweepSubscription(t, db, 1, subscriptiondomain.StatusActive, sweepNow.Add(-time.Hour), true)

	s := sweeper(t, db, sweepNow)
	if err := s.SweepOnce(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if got := subscriptionStatus(t, db, 1); got != subscriptiondomain.StatusCanceled {
		t.Fatalf("expected canceled, got %s", got)
	}
	var canceledAt sql.NullTime
	if err := db.Raw(`SELECT canceled_at FROM subscriptions WHERE id = 1`).Scan(&canceledAt).Error; err != nil {
		t.Fatalf("read canceled_at: %v", err)
	}
	if !canceledAt.Valid {
		t.Fatalf("expected canceled_at to be set")
	}
	if got := eventCount(t, db, events.EventSubscriptionCanceled); got != 1 {
		t.Fatalf("expected one canceled event, got %d", got)
	}
}

func TestSweepCancelsPastDueAfterGrace(t *testing.T) {
	db := setupSweepDB(t)
	seedSweepSubscription(t, db, 1, subscriptiondomain.StatusPastDue, sweepNow.Add(-80*time.Hour), false)
	seedSweepSubscription(t, db, 2, subscriptiondomain.StatusPastDue, sweepNow.Add(-time.Hour), false)

	s := sweeper(t, db, sweepNow)
	if err := s.SweepOnce(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if got := subscriptionStatus(t, db, 1); got != subscriptiondomain.StatusCanceled {
		t.Fatalf("expected grace-expired subscription canceled, got %s", got)
	}
	if got := subscriptionStatus(t, db, 2); got != subscriptiondomain.StatusPastDue {
		t.Fatalf("subscription inside grace must stay past_due, got %s", got)
	}
}

func TestSweepReplayAppliesNothingTwice(t *testing.T) {
	db := setupSweepDB(t)
	seedSweepSubscription(t, db, 1, subscriptiondomain.StatusActive, sweepNow.Add(-time.Hour), false)

	s := sweeper(t, db, sweepNow)
	for i := 0; i < 3; i++ {
		if err := s.SweepOnce(context.Background()); err != nil {
			t.Fatalf("sweep %d: %v", i, err)
		}
	}

	if got := subscriptionStatus(t, db, 1); got != subscriptiondomain.StatusPastDue {
		t.Fatalf("expected past_due, got %s", got)
	}
	if got := eventCount(t, db, events.EventSubscriptionPastDue); got != 1 {
		t.Fatalf("expected a single event across replays, got %d", got)
	}
}

func TestSweepProgressionFromLapseToGraceCancel(t *testing.T) {
	db := setupSweepDB(t)
	seedSweepSubscription(t, db, 1, subscriptiondomain.StatusActive, sweepNow.Add(-time.Hour), false)

	if err := sweeper(t, db, sweepNow).SweepOnce(context.Background()); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	if got := subscriptionStatus(t, db, 1); got != subscriptiondomain.StatusPastDue {
		t.Fatalf("expected past_due after first sweep, got %s", got)
	}

	later := sweepNow.Add(73 * time.Hour)
	if err := sweeper(t, db, later).SweepOnce(context.Background()); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if got := subscriptionStatus(t, db, 1); got != subscriptiondomain.StatusCanceled {
		t.Fatalf("expected canceled once grace lapsed, got %s", got)
	}
	if got := eventCount(t, db, events.EventSubscriptionCanceled); got != 1 {
		t.Fatalf("expected one canceled event, got %d", got)
	}
}

func sweeper(t *testing.T, db *gorm.DB, now time.Time) *Scheduler {
	t.Helper()
	node, err := snowflake.NewNode(6)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return New(db, zap.NewNop(), clock.Fixed(now), events.NewOutbox(db, node), config.SchedulerConfig{
		Interval:    time.Minute,
		BatchSize:   100,
		GracePeriod: 72 * time.Hour,
	})
}

func subscriptionStatus(t *testing.T, db *gorm.DB, id int64) subscriptiondomain.SubscriptionStatus {
	t.Helper()
	var status string
	if err := db.Raw(`SELECT status FROM subscriptions WHERE id = ?`, id).Scan(&status).Error; err != nil {
		t.Fatalf("read status: %v", err)
	}
	return subscriptiondomain.SubscriptionStatus(status)
}

func eventCount(t *testing.T, db *gorm.DB, eventType string) int64 {
	t.Helper()
	var count int64
	if err := db.Raw(`SELECT COUNT(*) FROM billing_events WHERE event_type = ?`, eventType).Scan(&count).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	return count
}

func seedSweepSubscription(t *testing.T, db *gorm.DB, id int64, status subscriptiondomain.SubscriptionStatus, periodEnd time.Time, cancelAtPeriodEnd bool) {
	t.Helper()
	if err := db.Exec(
		`INSERT INTO subscriptions
		 (id, user_id, plan_id, provider, provider_subscription_id, status,
		  current_period_start, current_period_end, cancel_at_period_end, created_at, updated_at)
		 VALUES (?, 42, 7, 'stripe', ?, ?, ?, ?, ?, ?, ?)`,
		id,
		"sub_"+snowflake.ID(id).String(),
		status,
		periodEnd.AddDate(0, -1, 0),
		periodEnd,
		cancelAtPeriodEnd,
		sweepNow,
		sweepNow,
	).Error; err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
}

func setupSweepDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	for _, ddl := range []string{
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
		`CREATE TABLE IF NOT EXISTS billing_events (
			id INTEGER PRIMARY KEY,
			user_id BIGINT NOT NULL,
			event_type TEXT NOT NULL,
			payload TEXT,
			dedupe_key TEXT,
			published BOOLEAN NOT NULL DEFAULT FALSE,
			created_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_billing_events_dedupe
		 ON billing_events (user_id, dedupe_key)`,
	} {
		if err := db.Exec(ddl).Error; err != nil {
			t.Fatalf("apply ddl: %v", err)
		}
	}
	return db
}
