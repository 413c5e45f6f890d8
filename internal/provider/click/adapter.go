package click

import (
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/juftlik/tolov/internal/clock"
	"github.com/juftlik/tolov/internal/config"
	ledgerdomain "github.com/juftlik/tolov/internal/ledger/domain"
	"github.com/juftlik/tolov/internal/logger"
	"github.com/juftlik/tolov/internal/observability/tracing"
	plandomain "github.com/juftlik/tolov/internal/plan/domain"
	providerdomain "github.com/juftlik/tolov/internal/provider/domain"
	subscriptiondomain "github.com/juftlik/tolov/internal/subscription/domain"
	userdomain "github.com/juftlik/tolov/internal/user/domain"
)

const ProviderName = "click"

// Adapter implements the provider contract for the Click network. Outbound
// charges go through the merchant invoice API; incoming payments arrive on
// the two-phase prepare/complete webhook.
type Adapter struct {
	cfg    config.ClickConfig
	log    *zap.Logger
	ledger ledgerdomain.Service
	users  userdomain.Repository
	plans  plandomain.Service
	subs   subscriptiondomain.Service
	clock  clock.Clock
	api    *client
}

func NewAdapter(
	cfg config.ClickConfig,
	log *zap.Logger,
	ledger ledgerdomain.Service,
	users userdomain.Repository,
	plans plandomain.Service,
	subs subscriptiondomain.Service,
	clk clock.Clock,
) *Adapter {
	return &Adapter{
		cfg:    cfg,
		log:    log.Named("provider.click"),
		ledger: ledger,
		users:  users,
		plans:  plans,
		subs:   subs,
		clock:  clk,
		api: &client{
			baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
			merchantID: cfg.MerchantID,
			serviceID:  cfg.ServiceID,
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

	merchantTransID := fmt.Sprintf("sub_%s_%s_%d", req.User.ID, req.PlanID, a.clock.Now().Unix())

	var invoice apiInvoice
	body := map[string]any{
		"service_id":        a.cfg.ServiceID,
		"amount":            req.Amount,
		"phone_number":      req.User.Phone,
		"merchant_trans_id": merchantTransID,
	}
	sign := a.api.digest(a.cfg.ServiceID, strconv.FormatInt(req.Amount, 10), req.User.Phone, merchantTransID)
	if err := a.api.postInvoice(ctx, "/merchant/invoice/create", body, sign, &invoice); err != nil {
		a.log.Error("invoice creation failed",
			zap.String("merchant_trans_id", merchantTransID),
			zap.Error(err),
		)
		return providerdomain.SubscriptionResult{Error: err.Error()}
	}

	return providerdomain.SubscriptionResult{
		Success:                true,
		ProviderSubscriptionID: merchantTransID,
		Status:                 "pending",
		CheckoutURL:            invoice.PaymentURL,
		Metadata: map[string]any{
			"invoice_id": invoice.InvoiceID.String(),
		},
	}
}

func (a *Adapter) UpdateSubscription(ctx context.Context, providerSubscriptionID string, req providerdomain.UpdateSubscriptionRequest) providerdomain.SubscriptionResult {
	// The network has no subscription update: cancel and recreate.
	return providerdomain.SubscriptionResult{
		Error: "subscription updates not supported; cancel and create a new subscription",
	}
}

// CancelSubscription is local only. Click has no recurring agreement to
// revoke; stopping renewal means not issuing the next invoice.
func (a *Adapter) CancelSubscription(ctx context.Context, providerSubscriptionID string) bool {
	return true
}

func (a *Adapter) GetSubscription(ctx context.Context, providerSubscriptionID string) providerdomain.SubscriptionResult {
	var invoice apiInvoice
	if err := a.api.getInvoiceStatus(ctx, providerSubscriptionID, &invoice); err != nil {
		return providerdomain.SubscriptionResult{Error: err.Error()}
	}
	return providerdomain.SubscriptionResult{
		Success:                true,
		ProviderSubscriptionID: providerSubscriptionID,
		Status:                 invoice.Status,
		CheckoutURL:            invoice.PaymentURL,
	}
}

func (a *Adapter) ProcessPayment(ctx context.Context, req providerdomain.PaymentRequest) providerdomain.PaymentResult {
	merchantTransID := "payment_" + uuid.NewString()

	var invoice apiInvoice
	body := map[string]any{
		"service_id":        a.cfg.ServiceID,
		"amount":            req.Amount,
		"phone_number":      req.PhoneNumber,
		"merchant_trans_id": merchantTransID,
	}
	sign := a.api.digest(a.cfg.ServiceID, strconv.FormatInt(req.Amount, 10), req.PhoneNumber, merchantTransID)
	if err := a.api.postInvoice(ctx, "/merchant/invoice/create", body, sign, &invoice); err != nil {
		a.log.Error("payment invoice failed",
			zap.String("merchant_trans_id", merchantTransID),
			zap.Error(err),
		)
		return providerdomain.PaymentResult{Error: err.Error()}
	}

	return providerdomain.PaymentResult{
		Success:               true,
		ProviderTransactionID: merchantTransID,
		Status:                "pending",
		Amount:                req.Amount,
		Currency:              "UZS",
		CheckoutURL:           invoice.PaymentURL,
	}
}

func (a *Adapter) CreatePaymentMethod(ctx context.Context, req providerdomain.PaymentMethodRequest) providerdomain.PaymentMethodResult {
	if req.PhoneNumber == "" {
		return providerdomain.PaymentMethodResult{Error: "phone number is required"}
	}
	return providerdomain.PaymentMethodResult{
		Success:          true,
		ProviderMethodID: req.PhoneNumber,
		Type:             "phone",
		Display:          logger.MaskPhone(req.PhoneNumber),
	}
}

func (a *Adapter) UpdatePaymentMethod(ctx context.Context, providerMethodID string, req providerdomain.PaymentMethodRequest) providerdomain.PaymentMethodResult {
	return providerdomain.PaymentMethodResult{Error: "payment method updates not supported"}
}

func (a *Adapter) DeletePaymentMethod(ctx context.Context, providerMethodID string) bool {
	return true
}

// VerifyWebhookSignature checks the md5 digest Click sends with every
// webhook call. The digest covers the raw field values in protocol order
// followed by the shared secret.
func (a *Adapter) VerifyWebhookSignature(payload []byte, signature string) bool {
	var req webhookRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return false
	}
	if signature == "" {
		signature = req.SignString
	}

	source := req.ClickTransID.String() +
		req.ServiceID.String() +
		req.ClickPaydocID.String() +
		req.Amount.String() +
		req.Action.String() +
		req.SignTime
	sum := md5.Sum([]byte(source + a.cfg.SecretKey))
	expected := hex.EncodeToString(sum[:])

	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// parseMerchantTransID splits a subscription reference of the form
// sub_{userID}_{planID}_{timestamp}. All three numeric parts must parse.
func parseMerchantTransID(s string) (userID, planID snowflake.ID, err error) {
	parts := strings.Split(s, "_")
	if len(parts) != 4 || parts[0] != "sub" {
		return 0, 0, fmt.Errorf("malformed merchant_trans_id %q", s)
	}
	rawUser, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed user id in merchant_trans_id %q", s)
	}
	rawPlan, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed plan id in merchant_trans_id %q", s)
	}
	if _, err := strconv.ParseInt(parts[3], 10, 64); err != nil {
		return 0, 0, fmt.Errorf("malformed timestamp in merchant_trans_id %q", s)
	}
	return snowflake.ID(rawUser), snowflake.ID(rawPlan), nil
}

// parseAmount accepts the integer and decimal renderings Click uses
// interchangeably. A non-zero fractional part is rejected.
func parseAmount(raw clickValue) (int64, error) {
	s := raw.String()
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		frac := strings.TrimRight(s[dot+1:], "0")
		if frac != "" {
			return 0, fmt.Errorf("fractional amount %q", s)
		}
		s = s[:dot]
	}
	return strconv.ParseInt(s, 10, 64)
}
