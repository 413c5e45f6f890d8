package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	userdomain "github.com/juftlik/tolov/internal/user/domain"
)

type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) userdomain.Repository {
	return &Repository{db: db}
}

func (r *Repository) Find(ctx context.Context, id snowflake.ID) (*userdomain.User, error) {
	var user userdomain.User
	err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, userdomain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *Repository) SetStripeCustomerID(ctx context.Context, id snowflake.ID, customerID string) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE users SET stripe_customer_id = ?, updated_at = ? WHERE id = ?`,
		customerID,
		time.Now().UTC(),
		id,
	).Error
}
