package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	plandomain "github.com/juftlik/tolov/internal/plan/domain"
	userdomain "github.com/juftlik/tolov/internal/user/domain"
)

const (
	defaultPlanName  = "Standard"
	demoUserEmail    = "demo@tolov.local"
	demoUserPhone    = "+998901234567"
	demoUserCountry  = "UZ"
	defaultAmountUZS = int64(5000000) // 50 000 UZS in tiyin
	defaultAmountUSD = int64(499)     // 4.99 USD in cents
)

// EnsureDefaultCatalog seeds the default plan with its country pricing so a
// fresh install can take payments immediately.
func EnsureDefaultCatalog(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plan, err := ensureDefaultPlanTx(ctx, tx, node)
		if err != nil {
			return err
		}
		return ensurePricingTx(ctx, tx, node, plan.ID)
	})
}

// EnsureDemoUser seeds a demo account for local development.
func EnsureDemoUser(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	var user userdomain.User
	err = db.WithContext(ctx).Where("email = ?", demoUserEmail).First(&user).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	now := time.Now().UTC()
	user = userdomain.User{
		ID:          node.Generate(),
		Email:       demoUserEmail,
		Phone:       demoUserPhone,
		CountryCode: demoUserCountry,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return db.WithContext(ctx).Create(&user).Error
}

func ensureDefaultPlanTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node) (*plandomain.SubscriptionPlan, error) {
	var plan plandomain.SubscriptionPlan
	err := tx.WithContext(ctx).Where("name = ?", defaultPlanName).First(&plan).Error
	if err == nil {
		return &plan, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	plan = plandomain.SubscriptionPlan{
		ID:             node.Generate(),
		Name:           defaultPlanName,
		IntervalMonths: 1,
		IsActive:       true,
		CreatedAt:      time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func ensurePricingTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, planID snowflake.ID) error {
	prices := []plandomain.PlanPricing{
		{PlanID: planID, CountryCode: "UZ", Currency: "UZS", Amount: defaultAmountUZS},
		{PlanID: planID, CountryCode: "US", Currency: "USD", Amount: defaultAmountUSD},
	}

	for _, price := range prices {
		var existing plandomain.PlanPricing
		err := tx.WithContext(ctx).
			Where("plan_id = ? AND country_code = ?", planID, price.CountryCode).
			First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		price.ID = node.Generate()
		price.CreatedAt = time.Now().UTC()
		if err := tx.WithContext(ctx).Create(&price).Error; err != nil {
			return err
		}
	}
	return nil
}
