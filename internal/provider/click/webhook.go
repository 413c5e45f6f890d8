package click

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"go.uber.org/zap"

	ledgerdomain "github.com/juftlik/tolov/internal/ledger/domain"
	plandomain "github.com/juftlik/tolov/internal/plan/domain"
	providerdomain "github.com/juftlik/tolov/internal/provider/domain"
	subscriptiondomain "github.com/juftlik/tolov/internal/subscription/domain"
	userdomain "github.com/juftlik/tolov/internal/user/domain"
)

// Click result codes. The network retries any non-zero prepare and expects
// the same code again, so handlers must answer deterministically.
const (
	codeSuccess         = 0
	codeInvalidAmount   = -2
	codeAlreadyPaid     = -4
	codeNotFound        = -5
	codeTransactionGone = -6
	codeInvalidAction   = -8
	codeCanceled        = -9
)

const (
	actionPrepare  = "0"
	actionComplete = "1"
)

// clickValue carries a webhook field the network serializes as a JSON number
// or a JSON string depending on the caller. The raw text is kept verbatim; the
// ledger treats the transaction id as opaque.
type clickValue string

func (v *clickValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = clickValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*v = clickValue(n.String())
	return nil
}

func (v clickValue) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(v), 10, 64); err == nil {
		return []byte(v), nil
	}
	return json.Marshal(string(v))
}

func (v clickValue) String() string { return string(v) }

func (v clickValue) Int64() (int64, error) {
	return strconv.ParseInt(string(v), 10, 64)
}

type webhookRequest struct {
	ClickTransID      clickValue `json:"click_trans_id"`
	ServiceID         clickValue `json:"service_id"`
	ClickPaydocID     clickValue `json:"click_paydoc_id"`
	MerchantTransID   string     `json:"merchant_trans_id"`
	MerchantPrepareID clickValue `json:"merchant_prepare_id"`
	Amount            clickValue `json:"amount"`
	Action            clickValue `json:"action"`
	Error             clickValue `json:"error"`
	ErrorNote         string     `json:"error_note"`
	SignTime          string     `json:"sign_time"`
	SignString        string     `json:"sign_string"`
}

type webhookResponse struct {
	ClickTransID      clickValue `json:"click_trans_id"`
	MerchantTransID   string     `json:"merchant_trans_id"`
	MerchantPrepareID string     `json:"merchant_prepare_id,omitempty"`
	MerchantConfirmID string     `json:"merchant_confirm_id,omitempty"`
	Error             int        `json:"error"`
	ErrorNote         string     `json:"error_note"`
}

// HandleWebhook dispatches on the action field: 0 is prepare, 1 is complete.
// Always answers with the Click result vocabulary; never an HTTP error.
func (a *Adapter) HandleWebhook(ctx context.Context, payload []byte) providerdomain.WebhookResult {
	var req webhookRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return providerdomain.WebhookResult{
			Response: webhookResponse{Error: codeInvalidAction, ErrorNote: "Invalid request"},
		}
	}

	var resp webhookResponse
	switch req.Action.String() {
	case actionPrepare:
		resp = a.handlePrepare(ctx, req)
	case actionComplete:
		resp = a.handleComplete(ctx, req)
	default:
		resp = a.fail(req, codeInvalidAction, "Invalid action")
	}

	result := providerdomain.WebhookResult{Response: resp}
	if resp.Error == codeSuccess {
		result.Event = &providerdomain.WebhookEvent{
			Type: "click." + actionName(req.Action.String()),
			Object: map[string]any{
				"click_trans_id":    req.ClickTransID.String(),
				"merchant_trans_id": req.MerchantTransID,
			},
		}
	}
	return result
}

// handlePrepare validates the pending charge and records it in the ledger.
// The validation order is fixed by the protocol: reference format, then
// user, then plan, then amount, then duplicate detection.
func (a *Adapter) handlePrepare(ctx context.Context, req webhookRequest) webhookResponse {
	userID, planID, err := parseMerchantTransID(req.MerchantTransID)
	if err != nil {
		return a.fail(req, codeNotFound, "Invalid merchant_trans_id format")
	}

	user, err := a.users.Find(ctx, userID)
	if err != nil {
		if errors.Is(err, userdomain.ErrUserNotFound) {
			return a.fail(req, codeNotFound, "User not found")
		}
		a.log.Error("prepare user lookup failed", zap.String("click_trans_id", req.ClickTransID.String()), zap.Error(err))
		return a.fail(req, codeCanceled, "Internal error")
	}

	if _, err := a.plans.Find(ctx, planID); err != nil {
		if errors.Is(err, plandomain.ErrPlanNotFound) {
			return a.fail(req, codeNotFound, "Plan not found")
		}
		a.log.Error("prepare plan lookup failed", zap.String("click_trans_id", req.ClickTransID.String()), zap.Error(err))
		return a.fail(req, codeCanceled, "Internal error")
	}

	country := user.CountryCode
	if country == "" {
		country = "UZ"
	}
	pricing, err := a.plans.PricingFor(ctx, planID, country)
	if err != nil {
		return a.fail(req, codeInvalidAmount, "Invalid amount")
	}
	amount, err := parseAmount(req.Amount)
	if err != nil || amount != pricing.Amount {
		return a.fail(req, codeInvalidAmount, "Invalid amount")
	}

	txn, created, err := a.ledger.CreateOrGet(ctx, &ledgerdomain.Transaction{
		UserID:                userID,
		Provider:              ProviderName,
		ProviderTransactionID: req.ClickTransID.String(),
		Kind:                  ledgerdomain.KindSubscription,
		Amount:                amount,
		Currency:              pricing.Currency,
		Status:                ledgerdomain.StatusPending,
		ProviderData: map[string]any{
			"merchant_trans_id": req.MerchantTransID,
			"click_paydoc_id":   req.ClickPaydocID.String(),
			"sign_time":         req.SignTime,
			"plan_id":           planID.String(),
		},
	})
	if err != nil {
		a.log.Error("prepare ledger insert failed", zap.String("click_trans_id", req.ClickTransID.String()), zap.Error(err))
		return a.fail(req, codeCanceled, "Internal error")
	}
	if !created {
		return a.fail(req, codeAlreadyPaid, "Transaction already exists")
	}

	a.log.Info("payment prepared",
		zap.String("click_trans_id", req.ClickTransID.String()),
		zap.String("user_id", userID.String()),
		zap.Int64("amount", amount),
	)
	return webhookResponse{
		ClickTransID:      req.ClickTransID,
		MerchantTransID:   req.MerchantTransID,
		MerchantPrepareID: txn.ID.String(),
		Error:             codeSuccess,
		ErrorNote:         "Success",
	}
}

// handleComplete settles a prepared charge. A repeat call for an already
// succeeded transaction answers -4 without touching the ledger; a negative
// error field from the network marks the charge failed and answers -9.
func (a *Adapter) handleComplete(ctx context.Context, req webhookRequest) webhookResponse {
	txn, err := a.ledger.Find(ctx, ProviderName, req.ClickTransID.String())
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrTransactionNotFound) {
			return a.fail(req, codeTransactionGone, "Transaction not found")
		}
		a.log.Error("complete lookup failed", zap.String("click_trans_id", req.ClickTransID.String()), zap.Error(err))
		return a.fail(req, codeCanceled, "Internal error")
	}

	if txn.Status == ledgerdomain.StatusSucceeded {
		return webhookResponse{
			ClickTransID:      req.ClickTransID,
			MerchantTransID:   req.MerchantTransID,
			MerchantConfirmID: txn.ID.String(),
			Error:             codeAlreadyPaid,
			ErrorNote:         "Transaction already completed",
		}
	}

	if upstream, _ := req.Error.Int64(); upstream < 0 {
		reason := req.ErrorNote
		if reason == "" {
			reason = "Payment failed"
		}
		if _, _, err := a.ledger.MarkFailed(ctx, ProviderName, req.ClickTransID.String(), reason, webhookPayloadData(req)); err != nil && !errors.Is(err, ledgerdomain.ErrTerminalState) {
			a.log.Error("complete mark failed errored", zap.String("click_trans_id", req.ClickTransID.String()), zap.Error(err))
		}
		return a.fail(req, codeCanceled, "Transaction canceled")
	}

	txn, already, err := a.ledger.MarkSucceeded(ctx, ProviderName, req.ClickTransID.String(), webhookPayloadData(req))
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrTerminalState) {
			return a.fail(req, codeCanceled, "Transaction canceled")
		}
		a.log.Error("complete mark succeeded errored", zap.String("click_trans_id", req.ClickTransID.String()), zap.Error(err))
		return a.fail(req, codeCanceled, "Internal error")
	}

	if !already {
		if err := a.activateSubscription(ctx, txn, req); err != nil {
			a.log.Error("subscription activation failed",
				zap.String("click_trans_id", req.ClickTransID.String()),
				zap.Error(err),
			)
		}
	}

	return webhookResponse{
		ClickTransID:      req.ClickTransID,
		MerchantTransID:   req.MerchantTransID,
		MerchantConfirmID: txn.ID.String(),
		Error:             codeSuccess,
		ErrorNote:         "Success",
	}
}

func (a *Adapter) activateSubscription(ctx context.Context, txn *ledgerdomain.Transaction, req webhookRequest) error {
	reference := req.MerchantTransID
	if reference == "" {
		if stored, ok := txn.ProviderData["merchant_trans_id"].(string); ok {
			reference = stored
		}
	}
	userID, planID, err := parseMerchantTransID(reference)
	if err != nil {
		return err
	}

	_, err = a.subs.ActivateFromTransaction(ctx, subscriptiondomain.ActivationRequest{
		Transaction:  txn,
		UserID:       userID,
		PlanID:       planID,
		PeriodMonths: 1,
		Metadata: map[string]any{
			"click_trans_id":    req.ClickTransID.String(),
			"merchant_trans_id": reference,
		},
	})
	return err
}

func (a *Adapter) fail(req webhookRequest, code int, note string) webhookResponse {
	return webhookResponse{
		ClickTransID:    req.ClickTransID,
		MerchantTransID: req.MerchantTransID,
		Error:           code,
		ErrorNote:       note,
	}
}

func webhookPayloadData(req webhookRequest) map[string]any {
	data := map[string]any{
		"click_paydoc_id": req.ClickPaydocID.String(),
		"sign_time":       req.SignTime,
	}
	if req.Error.String() != "" {
		data["click_error"] = req.Error.String()
	}
	return data
}

func actionName(action string) string {
	if action == actionComplete {
		return "complete"
	}
	return "prepare"
}
