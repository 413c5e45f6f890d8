package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// User is the read-side view of an account. Registration and profile data are
// owned elsewhere; billing only reads it and caches the remote customer id.
type User struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	Email            string       `gorm:"type:text;not null;uniqueIndex"`
	Phone            string       `gorm:"type:text"`
	CountryCode      string       `gorm:"type:text;not null;default:US"`
	StripeCustomerID string       `gorm:"type:text"`
	CreatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

var ErrUserNotFound = errors.New("user_not_found")
