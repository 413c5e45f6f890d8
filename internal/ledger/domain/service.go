package domain

import (
	"context"
	"errors"
)

// Service is the single writer for the payment transaction ledger. All three
// provider adapters mutate transaction rows through it; the unique
// (provider, provider_transaction_id) constraint is the only serialization
// point, so every operation here must tolerate losing a concurrent race.
type Service interface {
	// CreateOrGet inserts the transaction, resolving a unique-constraint
	// conflict to the existing row. The second return reports whether the
	// insert won.
	CreateOrGet(ctx context.Context, txn *Transaction) (*Transaction, bool, error)

	// Find returns the row for the provider-assigned transaction id.
	Find(ctx context.Context, provider, providerTransactionID string) (*Transaction, error)

	// MarkSucceeded transitions a pending row to succeeded, merging payload
	// into the stored provider data. Replaying against a row that is already
	// succeeded is a no-op reported through the second return; any other
	// terminal state yields ErrTerminalState.
	MarkSucceeded(ctx context.Context, provider, providerTransactionID string, payload map[string]any) (*Transaction, bool, error)

	// MarkFailed transitions a pending row to failed with the given reason.
	// Same replay semantics as MarkSucceeded.
	MarkFailed(ctx context.Context, provider, providerTransactionID, reason string, payload map[string]any) (*Transaction, bool, error)

	// MarkRefunded transitions a pending row to refunded with the given
	// reason. Same replay semantics as MarkSucceeded.
	MarkRefunded(ctx context.Context, provider, providerTransactionID, reason string) (*Transaction, bool, error)
}

var (
	ErrTransactionNotFound = errors.New("transaction_not_found")
	ErrInvalidTransaction  = errors.New("invalid_transaction")
	ErrTerminalState       = errors.New("transaction_terminal_state")
)
