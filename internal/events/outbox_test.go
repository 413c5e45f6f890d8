package events

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestPublishStoresEvent(t *testing.T) {
	outbox, db := setupOutbox(t)

	err := outbox.Publish(context.Background(), Event{
		UserID:    42,
		Type:      EventPaymentSettled,
		DedupeKey: "settle:payme:tx-1",
		Payload: TransactionPayload{
			Provider:              "payme",
			ProviderTransactionID: "tx-1",
			Amount:                5000000,
			Currency:              "UZS",
		}.ToMap(),
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	var count int64
	if err := db.Raw(
		`SELECT COUNT(*) FROM billing_events WHERE user_id = 42 AND event_type = ?`,
		EventPaymentSettled,
	).Scan(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one event, got %d", count)
	}
}

func TestPublishDeduplicatesByKey(t *testing.T) {
	outbox, db := setupOutbox(t)

	event := Event{
		UserID:    42,
		Type:      EventPaymentSettled,
		DedupeKey: "settle:payme:tx-1",
	}
	for i := 0; i < 3; i++ {
		if err := outbox.Publish(context.Background(), event); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	var count int64
	if err := db.Raw(`SELECT COUNT(*) FROM billing_events`).Scan(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected replayed publishes to collapse to one row, got %d", count)
	}
}

func TestPublishKeepsDistinctKeysApart(t *testing.T) {
	outbox, db := setupOutbox(t)

	for _, key := range []string{"settle:payme:tx-1", "settle:payme:tx-2", ""} {
		if err := outbox.Publish(context.Background(), Event{
			UserID:    42,
			Type:      EventPaymentSettled,
			DedupeKey: key,
		}); err != nil {
			t.Fatalf("publish %q: %v", key, err)
		}
	}

	var count int64
	if err := db.Raw(`SELECT COUNT(*) FROM billing_events`).Scan(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected three events, got %d", count)
	}
}

func TestPublishRejectsInvalidEvents(t *testing.T) {
	outbox, _ := setupOutbox(t)

	if err := outbox.Publish(context.Background(), Event{Type: EventPaymentSettled}); err == nil {
		t.Fatalf("expected missing user id to be rejected")
	}
	if err := outbox.Publish(context.Background(), Event{UserID: 42}); err == nil {
		t.Fatalf("expected missing event type to be rejected")
	}
	if err := outbox.PublishTx(context.Background(), nil, Event{UserID: 42, Type: EventPaymentSettled}); err == nil {
		t.Fatalf("expected nil transaction to be rejected")
	}
}

func TestPublishTxRollsBackWithTransaction(t *testing.T) {
	outbox, db := setupOutbox(t)

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := outbox.PublishTx(context.Background(), tx, Event{
			UserID: 42,
			Type:   EventSubscriptionPastDue,
		}); err != nil {
			return err
		}
		return gorm.ErrInvalidTransaction
	})
	if err == nil {
		t.Fatalf("expected transaction error")
	}

	var count int64
	if err := db.Raw(`SELECT COUNT(*) FROM billing_events`).Scan(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected rollback to discard the event, got %d rows", count)
	}
}

func setupOutbox(t *testing.T) (*Outbox, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	for _, ddl := range []string{
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
	node, err := snowflake.NewNode(7)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return NewOutbox(db, node), db
}
