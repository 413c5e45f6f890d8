package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Repository reads account rows and updates the cached remote customer id.
type Repository interface {
	Find(ctx context.Context, id snowflake.ID) (*User, error)
	SetStripeCustomerID(ctx context.Context, id snowflake.ID, customerID string) error
}
