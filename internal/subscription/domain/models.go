package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// SubscriptionStatus is the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	StatusPending  SubscriptionStatus = "pending"
	StatusActive   SubscriptionStatus = "active"
	StatusCanceled SubscriptionStatus = "canceled"
	StatusPastDue  SubscriptionStatus = "past_due"
)

// Subscription is a plan membership created or extended only as a consequence
// of a ledger transaction reaching succeeded, or of an outbound provider call.
type Subscription struct {
	ID                     snowflake.ID       `gorm:"primaryKey"`
	UserID                 snowflake.ID       `gorm:"not null;index"`
	PlanID                 snowflake.ID       `gorm:"not null"`
	Provider               string             `gorm:"type:text;not null;uniqueIndex:ux_subscriptions_provider_sub,priority:1"`
	ProviderSubscriptionID string             `gorm:"type:text;not null;uniqueIndex:ux_subscriptions_provider_sub,priority:2"`
	Status                 SubscriptionStatus `gorm:"type:text;not null"`
	CurrentPeriodStart     time.Time          `gorm:"not null"`
	CurrentPeriodEnd       time.Time          `gorm:"not null"`
	CancelAtPeriodEnd      bool               `gorm:"not null;default:false"`
	CanceledAt             *time.Time
	Metadata               datatypes.JSONMap `gorm:"column:metadata"`
	CreatedAt              time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt              time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// MetadataTransactionKey records the ledger transaction that activated the
// subscription, for idempotent replay detection.
const MetadataTransactionKey = "activated_by_transaction_id"
