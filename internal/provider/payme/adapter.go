package payme

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/juftlik/tolov/internal/clock"
	"github.com/juftlik/tolov/internal/config"
	ledgerdomain "github.com/juftlik/tolov/internal/ledger/domain"
	"github.com/juftlik/tolov/internal/logger"
	"github.com/juftlik/tolov/internal/observability/tracing"
	providerdomain "github.com/juftlik/tolov/internal/provider/domain"
	subscriptiondomain "github.com/juftlik/tolov/internal/subscription/domain"
	userdomain "github.com/juftlik/tolov/internal/user/domain"
)

const (
	ProviderName = "payme"

	// Receipt states reported by the remote receipts API.
	receiptStateCreated  = 0
	receiptStateWaiting  = 1
	receiptStatePaid     = 4
	receiptStateCanceled = 50
	receiptStateRefunded = 51
)

// Adapter implements the provider contract for the Payme network. Outbound
// operations use the merchant receipts API; inbound webhooks are JSON-RPC
// calls operating directly on the transaction ledger.
type Adapter struct {
	cfg    config.PaymeConfig
	log    *zap.Logger
	ledger ledgerdomain.Service
	users  userdomain.Repository
	subs   subscriptiondomain.Service
	clock  clock.Clock
	api    *client
}

func NewAdapter(
	cfg config.PaymeConfig,
	log *zap.Logger,
	ledger ledgerdomain.Service,
	users userdomain.Repository,
	subs subscriptiondomain.Service,
	clk clock.Clock,
) *Adapter {
	return &Adapter{
		cfg:    cfg,
		log:    log.Named("provider.payme"),
		ledger: ledger,
		users:  users,
		subs:   subs,
		clock:  clk,
		api: &client{
			baseURL:    cfg.BaseURL,
			merchantID: cfg.MerchantID,
			secretKey:  cfg.SecretKey,
			http:       tracing.WrapHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		},
	}
}

func (a *Adapter) Name() string { return ProviderName }

func (a *Adapter) CreateSubscription(ctx context.Context, req providerdomain.CreateSubscriptionRequest) providerdomain.SubscriptionResult {
	if req.User == nil {
		return providerdomain.SubscriptionResult{Error: "user is required"}
	}

	description := req.Description
	if description == "" {
		description = "Subscription payment"
	}

	var receipt struct {
		Receipt apiReceipt `json:"receipt"`
	}
	err := a.api.call(ctx, "/receipts/create", map[string]any{
		"amount": req.Amount,
		"account": map[string]any{
			"user_id": req.User.ID.String(),
			"plan_id": req.PlanID.String(),
		},
		"description": description,
		"detail": map[string]any{
			"receipt_type": 1,
			"items": []map[string]any{{
				"title": req.PlanName,
				"price": req.Amount,
				"count": 1,
				"vat":   0,
			}},
		},
	}, &receipt)
	if err != nil {
		a.log.Error("subscription creation failed",
			zap.String("user_id", req.User.ID.String()),
			zap.Int64("amount", req.Amount),
			zap.Error(err),
		)
		return providerdomain.SubscriptionResult{Error: err.Error()}
	}

	return providerdomain.SubscriptionResult{
		Success:                true,
		ProviderSubscriptionID: receipt.Receipt.ID,
		Status:                 "pending",
		CheckoutURL:            receipt.Receipt.CheckoutURL,
	}
}

func (a *Adapter) UpdateSubscription(ctx context.Context, providerSubscriptionID string, req providerdomain.UpdateSubscriptionRequest) providerdomain.SubscriptionResult {
	// The network has no subscription update: cancel and recreate.
	return providerdomain.SubscriptionResult{
		Error: "subscription updates not supported; cancel and create a new subscription",
	}
}

func (a *Adapter) CancelSubscription(ctx context.Context, providerSubscriptionID string) bool {
	err := a.api.call(ctx, "/receipts/cancel", map[string]any{"id": providerSubscriptionID}, nil)
	if err != nil {
		a.log.Error("subscription cancellation failed",
			zap.String("subscription_id", providerSubscriptionID),
			zap.Error(err),
		)
		return false
	}
	return true
}

func (a *Adapter) GetSubscription(ctx context.Context, providerSubscriptionID string) providerdomain.SubscriptionResult {
	var receipt struct {
		Receipt apiReceipt `json:"receipt"`
	}
	err := a.api.call(ctx, "/receipts/get", map[string]any{"id": providerSubscriptionID}, &receipt)
	if err != nil {
		return providerdomain.SubscriptionResult{Error: err.Error()}
	}

	return providerdomain.SubscriptionResult{
		Success:                true,
		ProviderSubscriptionID: receipt.Receipt.ID,
		Status:                 mapReceiptState(receipt.Receipt.State),
		Metadata: map[string]any{
			"amount":      receipt.Receipt.Amount,
			"create_time": receipt.Receipt.CreateTime,
		},
	}
}

func (a *Adapter) ProcessPayment(ctx context.Context, req providerdomain.PaymentRequest) providerdomain.PaymentResult {
	description := req.Description
	if description == "" {
		description = "One-time payment"
	}

	var receipt struct {
		Receipt apiReceipt `json:"receipt"`
	}
	err := a.api.call(ctx, "/receipts/create", map[string]any{
		"amount": req.Amount,
		"account": map[string]any{
			"user_id": req.UserID.String(),
		},
		"description": description,
		"detail": map[string]any{
			"receipt_type": 0,
		},
	}, &receipt)
	if err != nil {
		a.log.Error("payment failed",
			zap.String("user_id", req.UserID.String()),
			zap.Int64("amount", req.Amount),
			zap.Error(err),
		)
		return providerdomain.PaymentResult{Error: err.Error()}
	}

	return providerdomain.PaymentResult{
		Success:               true,
		ProviderTransactionID: receipt.Receipt.ID,
		Status:                "pending",
		Amount:                req.Amount,
		Currency:              "UZS",
		CheckoutURL:           receipt.Receipt.CheckoutURL,
	}
}

func (a *Adapter) CreatePaymentMethod(ctx context.Context, req providerdomain.PaymentMethodRequest) providerdomain.PaymentMethodResult {
	var card struct {
		Card apiCard `json:"card"`
	}
	err := a.api.call(ctx, "/cards/create", map[string]any{
		"card": map[string]any{
			"number": req.CardNumber,
			"expire": req.CardExpire,
		},
		"account": map[string]any{
			"user_id": req.UserID.String(),
		},
		"save": true,
	}, &card)
	if err != nil {
		return providerdomain.PaymentMethodResult{Error: err.Error()}
	}

	// The API answers with an already masked number; mask locally if it is
	// ever absent so a raw PAN never reaches storage or logs.
	display := card.Card.Number
	if display == "" {
		display = logger.MaskCardNumber(req.CardNumber)
	}

	return providerdomain.PaymentMethodResult{
		Success:          true,
		ProviderMethodID: card.Card.Token,
		Type:             "card",
		Display:          display,
		Details: map[string]any{
			"brand":  detectCardBrand(display),
			"last4":  last4(display),
			"masked": display,
		},
	}
}

func (a *Adapter) UpdatePaymentMethod(ctx context.Context, providerMethodID string, req providerdomain.PaymentMethodRequest) providerdomain.PaymentMethodResult {
	return providerdomain.PaymentMethodResult{Error: "payment method updates not supported"}
}

func (a *Adapter) DeletePaymentMethod(ctx context.Context, providerMethodID string) bool {
	err := a.api.call(ctx, "/cards/remove", map[string]any{"token": providerMethodID}, nil)
	return err == nil
}

// VerifyWebhookSignature checks the Basic credential the network attaches to
// webhook deliveries against merchant id and shared secret.
func (a *Adapter) VerifyWebhookSignature(payload []byte, signature string) bool {
	expected := "Basic " + base64.StdEncoding.EncodeToString([]byte(a.cfg.MerchantID+":"+a.cfg.SecretKey))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

func mapReceiptState(state int) string {
	switch state {
	case receiptStateCreated, receiptStateWaiting:
		return "pending"
	case receiptStatePaid:
		return "active"
	case receiptStateCanceled:
		return "canceled"
	case receiptStateRefunded:
		return "refunded"
	}
	return "unknown"
}

func detectCardBrand(number string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, number)

	switch {
	case strings.HasPrefix(cleaned, "4"):
		return "Visa"
	case len(cleaned) >= 2 && cleaned[0] == '5' && cleaned[1] >= '1' && cleaned[1] <= '5':
		return "Mastercard"
	case strings.HasPrefix(cleaned, "9860"):
		return "Humo"
	case strings.HasPrefix(cleaned, "8600"):
		return "UzCard"
	}
	return "Unknown"
}

func last4(number string) string {
	if len(number) < 4 {
		return number
	}
	return number[len(number)-4:]
}
