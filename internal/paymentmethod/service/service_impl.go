package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/juftlik/tolov/internal/paymentmethod/domain"
	providerdomain "github.com/juftlik/tolov/internal/provider/domain"
	userdomain "github.com/juftlik/tolov/internal/user/domain"
)

type Params struct {
	fx.In

	Log       *zap.Logger
	GenID     *snowflake.Node
	Repo      domain.Repository
	Users     userdomain.Repository
	Providers *providerdomain.Registry
}

type Service struct {
	log       *zap.Logger
	genID     *snowflake.Node
	repo      domain.Repository
	users     userdomain.Repository
	providers *providerdomain.Registry
}

func NewService(p Params) domain.Service {
	return &Service{
		log:       p.Log.Named("paymentmethod.service"),
		genID:     p.GenID,
		repo:      p.Repo,
		users:     p.Users,
		providers: p.Providers,
	}
}

// Create enrolls the credential with the provider and mirrors the returned
// token locally. Only the masked display ever reaches storage or logs.
func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.PaymentMethod, error) {
	name := strings.ToLower(strings.TrimSpace(req.Provider))
	adapter, err := s.providers.Get(name)
	if err != nil {
		return nil, err
	}

	user, err := s.users.Find(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	result := adapter.CreatePaymentMethod(ctx, providerdomain.PaymentMethodRequest{
		UserID:      user.ID,
		Token:       req.Token,
		CustomerID:  user.StripeCustomerID,
		CardNumber:  req.CardNumber,
		CardExpire:  req.CardExpire,
		PhoneNumber: req.PhoneNumber,
	})
	if !result.Success {
		s.log.Warn("provider enrollment failed",
			zap.String("provider", name),
			zap.String("error", result.Error),
		)
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidMethod, result.Error)
	}

	method := &domain.PaymentMethod{
		ID:               s.genID.Generate(),
		UserID:           user.ID,
		Provider:         name,
		ProviderMethodID: result.ProviderMethodID,
		Type:             domain.MethodType(result.Type),
		Display:          result.Display,
	}
	if err := s.repo.Insert(ctx, method); err != nil {
		return nil, err
	}

	if req.SetDefault {
		if err := s.repo.SetDefault(ctx, user.ID, method.ID); err != nil {
			return nil, err
		}
		method.IsDefault = true
	}

	s.log.Info("payment method enrolled",
		zap.String("user_id", user.ID.String()),
		zap.String("provider", name),
		zap.String("display", method.Display),
	)
	return method, nil
}

func (s *Service) ListByUser(ctx context.Context, userID snowflake.ID) ([]domain.PaymentMethod, error) {
	return s.repo.ListByUser(ctx, userID)
}

// Delete detaches the method at the provider first, then removes the local
// mirror. A method belonging to another user is reported as not found.
func (s *Service) Delete(ctx context.Context, userID, methodID snowflake.ID) error {
	method, err := s.repo.Find(ctx, methodID)
	if err != nil {
		return err
	}
	if method.UserID != userID {
		return domain.ErrMethodNotFound
	}

	adapter, err := s.providers.Get(method.Provider)
	if err != nil {
		return err
	}
	if !adapter.DeletePaymentMethod(ctx, method.ProviderMethodID) {
		s.log.Warn("provider detach failed",
			zap.String("provider", method.Provider),
			zap.String("method_id", methodID.String()),
		)
		return domain.ErrInvalidMethod
	}

	return s.repo.Delete(ctx, methodID)
}

func (s *Service) SetDefault(ctx context.Context, userID, methodID snowflake.ID) error {
	return s.repo.SetDefault(ctx, userID, methodID)
}
