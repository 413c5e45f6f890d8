package click

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type apiInvoice struct {
	InvoiceID  json.Number `json:"invoice_id"`
	PaymentURL string      `json:"payment_url"`
	Status     string      `json:"status"`
	Amount     json.Number `json:"amount"`
	ErrorNote  string      `json:"error_note"`
}

// client speaks the merchant invoice API. Requests are signed with a
// sha256 digest over the ordered payload values plus the shared secret.
type client struct {
	baseURL    string
	merchantID string
	serviceID  string
	secretKey  string
	http       *http.Client
}

func (c *client) postInvoice(ctx context.Context, path string, body map[string]any, sign string, out *apiInvoice) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Auth", c.merchantID+":"+sign)

	return c.send(req, out)
}

func (c *client) getInvoiceStatus(ctx context.Context, invoiceID string, out *apiInvoice) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/merchant/invoice/status/"+invoiceID, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Auth", c.merchantID+":"+c.digest(invoiceID))

	return c.send(req, out)
}

func (c *client) send(req *http.Request, out *apiInvoice) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("click_upstream_error: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("click_upstream_error: %w", err)
	}

	if resp.StatusCode >= 400 {
		var failed apiInvoice
		if err := json.Unmarshal(payload, &failed); err == nil && failed.ErrorNote != "" {
			return fmt.Errorf("click error: %s", failed.ErrorNote)
		}
		return fmt.Errorf("click returned status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(payload, out)
}

func (c *client) digest(parts ...string) string {
	sum := sha256.New()
	for _, part := range parts {
		sum.Write([]byte(part))
	}
	sum.Write([]byte(c.secretKey))
	return hex.EncodeToString(sum.Sum(nil))
}
