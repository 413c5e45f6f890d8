package payme

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// rpcEnvelope is the receipts API response wrapper.
type rpcEnvelope struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type apiReceipt struct {
	ID          string `json:"_id"`
	State       int    `json:"state"`
	Amount      int64  `json:"amount"`
	CreateTime  int64  `json:"create_time"`
	CheckoutURL string `json:"checkout_url"`
}

type apiCard struct {
	Number string `json:"number"`
	Token  string `json:"token"`
}

// client speaks the merchant receipts API. Single attempt, bounded timeout.
type client struct {
	baseURL    string
	merchantID string
	secretKey  string
	http       *http.Client
}

func (c *client) call(ctx context.Context, path string, body map[string]any, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Auth", c.merchantID+":"+c.secretKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("payme_upstream_error: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("payme_upstream_error: %w", err)
	}

	var envelope rpcEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return fmt.Errorf("payme returned malformed body: %w", err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("payme error %d: %s", envelope.Error.Code, envelope.Error.Message)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(envelope.Result, out)
}
