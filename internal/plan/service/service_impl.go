package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/juftlik/tolov/internal/cache"
	plandomain "github.com/juftlik/tolov/internal/plan/domain"
)

const pricingCacheTTL = 5 * time.Minute

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	pricing *cache.TTLCache[string, *plandomain.PlanPricing]
}

func NewService(db *gorm.DB, log *zap.Logger) plandomain.Service {
	return &Service{
		db:      db,
		log:     log.Named("plan.service"),
		pricing: cache.New[string, *plandomain.PlanPricing](pricingCacheTTL),
	}
}

func (s *Service) Find(ctx context.Context, id snowflake.ID) (*plandomain.SubscriptionPlan, error) {
	var plan plandomain.SubscriptionPlan
	err := s.db.WithContext(ctx).First(&plan, "id = ? AND is_active = ?", id, true).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, plandomain.ErrPlanNotFound
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (s *Service) PricingFor(ctx context.Context, planID snowflake.ID, countryCode string) (*plandomain.PlanPricing, error) {
	countryCode = strings.ToUpper(strings.TrimSpace(countryCode))
	key := fmt.Sprintf("%d:%s", planID, countryCode)
	if cached, ok := s.pricing.Get(key); ok {
		return cached, nil
	}

	pricing, err := s.lookupPricing(ctx, planID, countryCode)
	if err != nil {
		return nil, err
	}
	s.pricing.Set(key, pricing)
	return pricing, nil
}

func (s *Service) lookupPricing(ctx context.Context, planID snowflake.ID, countryCode string) (*plandomain.PlanPricing, error) {
	var pricing plandomain.PlanPricing
	err := s.db.WithContext(ctx).
		First(&pricing, "plan_id = ? AND country_code = ?", planID, countryCode).Error
	if err == nil {
		return &pricing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// No country-specific price; fall back to the USD row.
	err = s.db.WithContext(ctx).
		First(&pricing, "plan_id = ? AND currency = ?", planID, "USD").Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, plandomain.ErrPricingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pricing, nil
}
