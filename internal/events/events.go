package events

// Billing event types recorded in the outbox.
const (
	EventCheckoutStarted       = "checkout_started"
	EventPaymentSettled        = "payment_settled"
	EventPaymentFailed         = "payment_failed"
	EventSubscriptionActivated = "subscription_activated"
	EventSubscriptionCanceled  = "subscription_canceled"
	EventSubscriptionPastDue   = "subscription_past_due"
)

// TransactionPayload captures the minimal data to replay a settlement event.
type TransactionPayload struct {
	Provider              string `json:"provider"`
	ProviderTransactionID string `json:"provider_transaction_id"`
	Amount                int64  `json:"amount"`
	Currency              string `json:"currency"`
}

// ToMap converts a payload into an outbox-friendly map.
func (p TransactionPayload) ToMap() map[string]any {
	return map[string]any{
		"provider":                p.Provider,
		"provider_transaction_id": p.ProviderTransactionID,
		"amount":                  p.Amount,
		"currency":                p.Currency,
	}
}
