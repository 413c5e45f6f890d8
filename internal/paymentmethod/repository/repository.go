package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/juftlik/tolov/internal/paymentmethod/domain"
)

type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) domain.Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(ctx context.Context, method *domain.PaymentMethod) error {
	return r.db.WithContext(ctx).Create(method).Error
}

func (r *Repository) Find(ctx context.Context, id snowflake.ID) (*domain.PaymentMethod, error) {
	var method domain.PaymentMethod
	err := r.db.WithContext(ctx).First(&method, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrMethodNotFound
	}
	if err != nil {
		return nil, err
	}
	return &method, nil
}

func (r *Repository) ListByUser(ctx context.Context, userID snowflake.ID) ([]domain.PaymentMethod, error) {
	var methods []domain.PaymentMethod
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&methods).Error
	if err != nil {
		return nil, err
	}
	return methods, nil
}

func (r *Repository) Delete(ctx context.Context, id snowflake.ID) error {
	return r.db.WithContext(ctx).Delete(&domain.PaymentMethod{}, "id = ?", id).Error
}

// SetDefault makes one method the default and clears the flag on the rest of
// the user's methods in the same transaction.
func (r *Repository) SetDefault(ctx context.Context, userID, id snowflake.ID) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(
			`UPDATE payment_methods SET is_default = FALSE, updated_at = ? WHERE user_id = ? AND is_default = TRUE`,
			now,
			userID,
		).Error; err != nil {
			return err
		}
		result := tx.Exec(
			`UPDATE payment_methods SET is_default = TRUE, updated_at = ? WHERE id = ? AND user_id = ?`,
			now,
			id,
			userID,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrMethodNotFound
		}
		return nil
	})
}
