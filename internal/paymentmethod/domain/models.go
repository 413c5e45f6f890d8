package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// MethodType distinguishes stored card tokens from mobile money phone numbers.
type MethodType string

const (
	TypeCard  MethodType = "card"
	TypePhone MethodType = "phone"
)

// PaymentMethod is a stored charging handle. The raw credential lives with
// the provider; locally only the provider token and a masked display survive.
type PaymentMethod struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	UserID           snowflake.ID `gorm:"not null;index"`
	Provider         string       `gorm:"type:text;not null"`
	ProviderMethodID string       `gorm:"type:text;not null"`
	Type             MethodType   `gorm:"column:method_type;type:text;not null"`
	Display          string       `gorm:"type:text;not null"`
	IsDefault        bool         `gorm:"not null;default:false"`
	CreatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PaymentMethod) TableName() string { return "payment_methods" }

var (
	ErrMethodNotFound = errors.New("payment_method_not_found")
	ErrInvalidMethod  = errors.New("invalid_payment_method")
)

// CreateRequest carries the provider-specific credential for enrollment.
type CreateRequest struct {
	UserID      snowflake.ID
	Provider    string
	Token       string
	CardNumber  string
	CardExpire  string
	PhoneNumber string
	SetDefault  bool
}

// Service enrolls and removes stored payment methods through the provider
// adapters and mirrors them locally.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (*PaymentMethod, error)
	ListByUser(ctx context.Context, userID snowflake.ID) ([]PaymentMethod, error)
	Delete(ctx context.Context, userID, methodID snowflake.ID) error
	SetDefault(ctx context.Context, userID, methodID snowflake.ID) error
}

// Repository is the persistence boundary for payment method rows.
type Repository interface {
	Insert(ctx context.Context, method *PaymentMethod) error
	Find(ctx context.Context, id snowflake.ID) (*PaymentMethod, error)
	ListByUser(ctx context.Context, userID snowflake.ID) ([]PaymentMethod, error)
	Delete(ctx context.Context, id snowflake.ID) error
	SetDefault(ctx context.Context, userID, id snowflake.ID) error
}
