package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// SubscriptionPlan is a catalog entry. The catalog is owned elsewhere and
// consumed here as a read-only lookup.
type SubscriptionPlan struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	Name           string       `gorm:"type:text;not null"`
	IntervalMonths int          `gorm:"not null;default:1"`
	IsActive       bool         `gorm:"not null;default:true"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (SubscriptionPlan) TableName() string { return "subscription_plans" }

// PlanPricing is the price of a plan for one country, in minor currency units.
type PlanPricing struct {
	ID              snowflake.ID `gorm:"primaryKey"`
	PlanID          snowflake.ID `gorm:"not null;index;uniqueIndex:ux_plan_pricing_plan_country,priority:1"`
	CountryCode     string       `gorm:"type:text;not null;uniqueIndex:ux_plan_pricing_plan_country,priority:2"`
	Currency        string       `gorm:"type:text;not null"`
	Amount          int64        `gorm:"not null"`
	ProviderPriceID string       `gorm:"type:text"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PlanPricing) TableName() string { return "plan_pricing" }

var (
	ErrPlanNotFound    = errors.New("plan_not_found")
	ErrPricingNotFound = errors.New("pricing_not_found")
)

// Service resolves plans and country pricing.
type Service interface {
	Find(ctx context.Context, id snowflake.ID) (*SubscriptionPlan, error)
	// PricingFor returns the price row for the plan in the given country,
	// falling back to the USD row when no country match exists.
	PricingFor(ctx context.Context, planID snowflake.ID, countryCode string) (*PlanPricing, error)
}
