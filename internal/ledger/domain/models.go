package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// TransactionStatus is the ledger state of a payment attempt.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusSucceeded TransactionStatus = "succeeded"
	StatusFailed    TransactionStatus = "failed"
	StatusRefunded  TransactionStatus = "refunded"
)

// Terminal reports whether no further transition is permitted from s.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

// TransactionKind distinguishes subscription charges from one-time payments.
type TransactionKind string

const (
	KindSubscription TransactionKind = "subscription"
	KindOneTime      TransactionKind = "one_time"
)

// Transaction is the ledger row recording one payment attempt. Amount is in
// minor currency units. (Provider, ProviderTransactionID) is unique; a row is
// never deleted, only transitioned.
type Transaction struct {
	ID                    snowflake.ID      `gorm:"primaryKey"`
	UserID                snowflake.ID      `gorm:"not null;index"`
	SubscriptionID        *snowflake.ID     `gorm:"index"`
	Provider              string            `gorm:"type:text;not null;uniqueIndex:ux_payment_transactions_provider_tx,priority:1"`
	ProviderTransactionID string            `gorm:"type:text;not null;uniqueIndex:ux_payment_transactions_provider_tx,priority:2"`
	Kind                  TransactionKind   `gorm:"type:text;not null"`
	Amount                int64             `gorm:"not null"`
	Currency              string            `gorm:"type:text;not null"`
	Status                TransactionStatus `gorm:"type:text;not null"`
	ProviderData          datatypes.JSONMap `gorm:"column:provider_data"`
	FailureReason         string            `gorm:"type:text"`
	CreatedAt             time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt             time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Transaction) TableName() string { return "payment_transactions" }
