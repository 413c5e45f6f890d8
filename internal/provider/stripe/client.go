package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// apiError is the remote API's structured error body.
type apiError struct {
	Err struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *apiError) Error() string {
	if e.Err.Message != "" {
		return e.Err.Message
	}
	return "stripe_api_error"
}

// upstreamError marks transport-level failures (network, timeout) as distinct
// from an explicit decline reported in an API error body.
type upstreamError struct {
	cause error
}

func (e *upstreamError) Error() string { return fmt.Sprintf("stripe_upstream_error: %v", e.cause) }
func (e *upstreamError) Unwrap() error { return e.cause }

// client speaks the form-encoded card network API with a bounded timeout and
// a single attempt per call; retry is the caller's concern.
type client struct {
	baseURL   string
	secretKey string
	http      *http.Client
}

func (c *client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out, "")
}

func (c *client) post(ctx context.Context, path string, form url.Values, out any) error {
	return c.do(ctx, http.MethodPost, path, form, out, "")
}

// postIdempotent sends a POST carrying an idempotency key. A retry that
// supplies the same key resolves to the first attempt upstream; when the
// caller has no key, a fresh one is minted, which only guards against
// transport duplication within this call.
func (c *client) postIdempotent(ctx context.Context, path, key string, form url.Values, out any) error {
	if key == "" {
		key = uuid.NewString()
	}
	return c.do(ctx, http.MethodPost, path, form, out, key)
}

func (c *client) do(ctx context.Context, method, path string, form url.Values, out any, idempotencyKey string) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &upstreamError{cause: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return &upstreamError{cause: err}
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if err := json.Unmarshal(payload, &apiErr); err != nil || apiErr.Err.Message == "" {
			apiErr.Err.Message = fmt.Sprintf("stripe returned status %d", resp.StatusCode)
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(payload, out)
}
