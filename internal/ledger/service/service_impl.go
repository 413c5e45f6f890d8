package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/juftlik/tolov/internal/clock"
	ledgerdomain "github.com/juftlik/tolov/internal/ledger/domain"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) CreateOrGet(ctx context.Context, txn *ledgerdomain.Transaction) (*ledgerdomain.Transaction, bool, error) {
	if txn == nil {
		return nil, false, ledgerdomain.ErrInvalidTransaction
	}
	txn.Provider = strings.TrimSpace(txn.Provider)
	txn.ProviderTransactionID = strings.TrimSpace(txn.ProviderTransactionID)
	if txn.Provider == "" || txn.ProviderTransactionID == "" || txn.Amount <= 0 {
		return nil, false, ledgerdomain.ErrInvalidTransaction
	}

	now := s.clock.Now()
	if txn.ID == 0 {
		txn.ID = s.genID.Generate()
	}
	if txn.Status == "" {
		txn.Status = ledgerdomain.StatusPending
	}
	txn.CreatedAt = now
	txn.UpdatedAt = now

	// A losing concurrent insert lands here as zero affected rows; the winner's
	// row is then loaded and returned.
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_transaction_id"}},
			DoNothing: true,
		}).
		Create(txn)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return txn, true, nil
	}

	existing, err := s.Find(ctx, txn.Provider, txn.ProviderTransactionID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *Service) Find(ctx context.Context, provider, providerTransactionID string) (*ledgerdomain.Transaction, error) {
	var txn ledgerdomain.Transaction
	err := s.db.WithContext(ctx).
		First(&txn, "provider = ? AND provider_transaction_id = ?", provider, providerTransactionID).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ledgerdomain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (s *Service) MarkSucceeded(ctx context.Context, provider, providerTransactionID string, payload map[string]any) (*ledgerdomain.Transaction, bool, error) {
	return s.transition(ctx, provider, providerTransactionID, ledgerdomain.StatusSucceeded, "", payload)
}

func (s *Service) MarkFailed(ctx context.Context, provider, providerTransactionID, reason string, payload map[string]any) (*ledgerdomain.Transaction, bool, error) {
	return s.transition(ctx, provider, providerTransactionID, ledgerdomain.StatusFailed, reason, payload)
}

func (s *Service) MarkRefunded(ctx context.Context, provider, providerTransactionID, reason string) (*ledgerdomain.Transaction, bool, error) {
	return s.transition(ctx, provider, providerTransactionID, ledgerdomain.StatusRefunded, reason, nil)
}

// transition moves a pending row into the target terminal state. The
// conditional UPDATE on status is the concurrency control: of two concurrent
// deliveries for the same row, exactly one update affects a row; the loser
// reloads and reports the replay.
func (s *Service) transition(
	ctx context.Context,
	provider, providerTransactionID string,
	target ledgerdomain.TransactionStatus,
	reason string,
	payload map[string]any,
) (*ledgerdomain.Transaction, bool, error) {
	current, err := s.Find(ctx, provider, providerTransactionID)
	if err != nil {
		return nil, false, err
	}

	if current.Status.Terminal() {
		if current.Status == target {
			return current, true, nil
		}
		return current, false, ledgerdomain.ErrTerminalState
	}

	merged := mergeProviderData(current.ProviderData, payload)
	now := s.clock.Now()

	res := s.db.WithContext(ctx).
		Model(&ledgerdomain.Transaction{}).
		Where("provider = ? AND provider_transaction_id = ? AND status = ?",
			provider, providerTransactionID, ledgerdomain.StatusPending).
		Updates(map[string]any{
			"status":         target,
			"provider_data":  merged,
			"failure_reason": reason,
			"updated_at":     now,
		})
	if res.Error != nil {
		return nil, false, res.Error
	}

	if res.RowsAffected == 0 {
		// Lost the race; the row reached a terminal state under us.
		latest, err := s.Find(ctx, provider, providerTransactionID)
		if err != nil {
			return nil, false, err
		}
		if latest.Status == target {
			return latest, true, nil
		}
		return latest, false, ledgerdomain.ErrTerminalState
	}

	current.Status = target
	current.ProviderData = merged
	current.FailureReason = reason
	current.UpdatedAt = now
	return current, false, nil
}

func mergeProviderData(existing datatypes.JSONMap, payload map[string]any) datatypes.JSONMap {
	if len(payload) == 0 {
		return existing
	}
	merged := datatypes.JSONMap{}
	for key, value := range existing {
		merged[key] = value
	}
	for key, value := range payload {
		merged[key] = value
	}
	return merged
}
