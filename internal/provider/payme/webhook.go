package payme

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	ledgerdomain "github.com/juftlik/tolov/internal/ledger/domain"
	providerdomain "github.com/juftlik/tolov/internal/provider/domain"
	subscriptiondomain "github.com/juftlik/tolov/internal/subscription/domain"
	userdomain "github.com/juftlik/tolov/internal/user/domain"
)

// JSON-RPC error codes of the network's webhook vocabulary.
const (
	codeParseError          = -32700
	codeMethodNotFound      = -32601
	codeUserNotFound        = -31050
	codeTransactionNotFound = -31003
	codeCannotPerform       = -31008
	codeCannotCancel        = -31007
)

// Transaction state codes reported back to the network.
const (
	stateCreated   = 1
	statePerformed = 2
	stateCanceled  = -1
	stateRefunded  = -2
)

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params rpcParams       `json:"params"`
}

type rpcParams struct {
	ID      string          `json:"id"`
	Time    int64           `json:"time"`
	Amount  int64           `json:"amount"`
	Account rpcAccount      `json:"account"`
	Reason  json.RawMessage `json:"reason"`
}

type rpcAccount struct {
	UserID json.Number `json:"user_id"`
	PlanID json.Number `json:"plan_id"`
}

type rpcResponse struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Result any             `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// HandleWebhook dispatches a JSON-RPC call to one of the five remote-invoked
// methods. Rejections are returned in the network's error vocabulary; the
// HTTP layer always answers 200 with the body deciding.
func (a *Adapter) HandleWebhook(ctx context.Context, payload []byte) providerdomain.WebhookResult {
	var req rpcRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return rpcFail(nil, codeParseError, "Parse error")
	}

	switch req.Method {
	case "CheckPerformTransaction":
		return a.checkPerformTransaction(ctx, req)
	case "CreateTransaction":
		return a.createTransaction(ctx, req)
	case "PerformTransaction":
		return a.performTransaction(ctx, req)
	case "CancelTransaction":
		return a.cancelTransaction(ctx, req)
	case "CheckTransaction":
		return a.checkTransaction(ctx, req)
	default:
		return rpcFail(req.ID, codeMethodNotFound, "Method not found")
	}
}

// checkPerformTransaction validates eligibility only. It must not create or
// mutate any ledger row.
func (a *Adapter) checkPerformTransaction(ctx context.Context, req rpcRequest) providerdomain.WebhookResult {
	if _, err := a.lookupUser(ctx, req.Params.Account.UserID); err != nil {
		return rpcFail(req.ID, codeUserNotFound, "User not found")
	}
	return rpcOK(req.ID, map[string]any{"allow": true})
}

func (a *Adapter) createTransaction(ctx context.Context, req rpcRequest) providerdomain.WebhookResult {
	user, err := a.lookupUser(ctx, req.Params.Account.UserID)
	if err != nil {
		return rpcFail(req.ID, codeUserNotFound, "User not found")
	}

	kind := ledgerdomain.KindOneTime
	if req.Params.Account.PlanID.String() != "" {
		kind = ledgerdomain.KindSubscription
	}

	txn, _, err := a.ledger.CreateOrGet(ctx, &ledgerdomain.Transaction{
		UserID:                user.ID,
		Provider:              ProviderName,
		ProviderTransactionID: req.Params.ID,
		Kind:                  kind,
		Amount:                req.Params.Amount,
		Currency:              "UZS",
		Status:                ledgerdomain.StatusPending,
		ProviderData: map[string]any{
			"user_id": req.Params.Account.UserID.String(),
			"plan_id": req.Params.Account.PlanID.String(),
			"time":    req.Params.Time,
		},
	})
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrInvalidTransaction) {
			return rpcFail(req.ID, codeCannotPerform, "Invalid transaction")
		}
		a.log.Error("create transaction failed", zap.String("payme_id", req.Params.ID), zap.Error(err))
		return rpcFail(req.ID, codeCannotPerform, "Unable to create transaction")
	}

	// A redelivered CreateTransaction for a still-pending row replays the
	// original result; a terminal row can no longer be created.
	if txn.Status != ledgerdomain.StatusPending {
		return rpcFail(req.ID, codeCannotPerform, "Unable to perform operation")
	}

	return rpcOK(req.ID, map[string]any{
		"create_time": txn.CreatedAt.UnixMilli(),
		"transaction": txn.ID.String(),
		"state":       stateCreated,
	})
}

func (a *Adapter) performTransaction(ctx context.Context, req rpcRequest) providerdomain.WebhookResult {
	txn, already, err := a.ledger.MarkSucceeded(ctx, ProviderName, req.Params.ID, map[string]any{
		"perform_request_time": req.Params.Time,
	})
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrTransactionNotFound) {
			return rpcFail(req.ID, codeTransactionNotFound, "Transaction not found")
		}
		if errors.Is(err, ledgerdomain.ErrTerminalState) {
			return rpcFail(req.ID, codeCannotPerform, "Unable to perform operation")
		}
		a.log.Error("perform transaction failed", zap.String("payme_id", req.Params.ID), zap.Error(err))
		return rpcFail(req.ID, codeCannotPerform, "Unable to perform operation")
	}

	if !already {
		a.activateSubscription(ctx, txn)
	}

	return rpcOK(req.ID, map[string]any{
		"transaction":  txn.ID.String(),
		"perform_time": txn.UpdatedAt.UnixMilli(),
		"state":        statePerformed,
	})
}

func (a *Adapter) cancelTransaction(ctx context.Context, req rpcRequest) providerdomain.WebhookResult {
	txn, _, err := a.ledger.MarkFailed(ctx, ProviderName, req.Params.ID, cancelReason(req.Params.Reason), nil)
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrTransactionNotFound) {
			return rpcFail(req.ID, codeTransactionNotFound, "Transaction not found")
		}
		if errors.Is(err, ledgerdomain.ErrTerminalState) {
			// Performed or refunded rows cannot be canceled.
			return rpcFail(req.ID, codeCannotCancel, "Unable to cancel transaction")
		}
		a.log.Error("cancel transaction failed", zap.String("payme_id", req.Params.ID), zap.Error(err))
		return rpcFail(req.ID, codeCannotCancel, "Unable to cancel transaction")
	}

	return rpcOK(req.ID, map[string]any{
		"transaction": txn.ID.String(),
		"cancel_time": txn.UpdatedAt.UnixMilli(),
		"state":       stateCanceled,
	})
}

// checkTransaction is a pure read reporting the four-state code set.
func (a *Adapter) checkTransaction(ctx context.Context, req rpcRequest) providerdomain.WebhookResult {
	txn, err := a.ledger.Find(ctx, ProviderName, req.Params.ID)
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrTransactionNotFound) {
			return rpcFail(req.ID, codeTransactionNotFound, "Transaction not found")
		}
		return rpcFail(req.ID, codeCannotPerform, "Unable to check transaction")
	}

	var performTime, cancelTime int64
	switch txn.Status {
	case ledgerdomain.StatusSucceeded:
		performTime = txn.UpdatedAt.UnixMilli()
	case ledgerdomain.StatusFailed, ledgerdomain.StatusRefunded:
		cancelTime = txn.UpdatedAt.UnixMilli()
	}

	result := map[string]any{
		"create_time":  txn.CreatedAt.UnixMilli(),
		"perform_time": performTime,
		"cancel_time":  cancelTime,
		"transaction":  txn.ID.String(),
		"state":        stateCode(txn.Status),
	}
	if txn.FailureReason != "" {
		result["reason"] = map[string]any{"message": txn.FailureReason}
	}
	return rpcOK(req.ID, result)
}

// activateSubscription runs after the first successful perform. The activator
// is idempotent, so a lost race here is harmless.
func (a *Adapter) activateSubscription(ctx context.Context, txn *ledgerdomain.Transaction) {
	if txn.Kind != ledgerdomain.KindSubscription {
		return
	}
	planID, ok := parseSnowflake(txn.ProviderData["plan_id"])
	if !ok {
		a.log.Warn("transaction has no plan reference, skipping activation",
			zap.String("payme_id", txn.ProviderTransactionID),
		)
		return
	}

	_, err := a.subs.ActivateFromTransaction(ctx, subscriptiondomain.ActivationRequest{
		Transaction:  txn,
		UserID:       txn.UserID,
		PlanID:       planID,
		PeriodMonths: 1,
	})
	if err != nil {
		a.log.Error("subscription activation failed",
			zap.String("payme_id", txn.ProviderTransactionID),
			zap.Error(err),
		)
	}
}

func (a *Adapter) lookupUser(ctx context.Context, raw json.Number) (*userdomain.User, error) {
	id, ok := parseSnowflake(raw.String())
	if !ok {
		return nil, userdomain.ErrUserNotFound
	}
	return a.users.Find(ctx, id)
}

func stateCode(status ledgerdomain.TransactionStatus) int {
	switch status {
	case ledgerdomain.StatusPending:
		return stateCreated
	case ledgerdomain.StatusSucceeded:
		return statePerformed
	case ledgerdomain.StatusFailed:
		return stateCanceled
	case ledgerdomain.StatusRefunded:
		return stateRefunded
	}
	return 0
}

// cancelReason extracts a human-readable reason from the request. The network
// sends either a bare numeric code or an object with a message.
func cancelReason(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "Canceled"
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	var code json.Number
	if err := json.Unmarshal(raw, &code); err == nil && code.String() != "" {
		return "Canceled with reason " + code.String()
	}
	return "Canceled"
}

func parseSnowflake(value any) (snowflake.ID, bool) {
	var raw string
	switch typed := value.(type) {
	case string:
		raw = typed
	case json.Number:
		raw = typed.String()
	case float64:
		return snowflake.ID(int64(typed)), int64(typed) > 0
	default:
		return 0, false
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, false
	}
	return id, true
}

func rpcOK(id json.RawMessage, result map[string]any) providerdomain.WebhookResult {
	return providerdomain.WebhookResult{Response: rpcResponse{ID: id, Result: result}}
}

func rpcFail(id json.RawMessage, code int, message string) providerdomain.WebhookResult {
	return providerdomain.WebhookResult{Response: rpcResponse{ID: id, Error: &rpcError{Code: code, Message: message}}}
}
