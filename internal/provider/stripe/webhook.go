package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	providerdomain "github.com/juftlik/tolov/internal/provider/domain"
)

// Recognized lifecycle event types. Everything else is reported as unhandled
// without touching state.
var recognizedEvents = map[string]struct{}{
	"customer.subscription.created": {},
	"customer.subscription.updated": {},
	"customer.subscription.deleted": {},
	"invoice.payment_succeeded":     {},
	"invoice.payment_failed":        {},
}

type webhookEnvelope struct {
	Type string `json:"type"`
	Data struct {
		Object map[string]any `json:"object"`
	} `json:"data"`
}

func (a *Adapter) HandleWebhook(ctx context.Context, payload []byte) providerdomain.WebhookResult {
	var envelope webhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return providerdomain.WebhookResult{
			Response: map[string]any{"success": false, "error": "invalid payload"},
		}
	}

	if _, ok := recognizedEvents[envelope.Type]; !ok {
		return providerdomain.WebhookResult{
			Response: map[string]any{"success": false, "error": "unhandled event type"},
		}
	}

	return providerdomain.WebhookResult{
		Response: map[string]any{"success": true, "action": envelope.Type},
		Event: &providerdomain.WebhookEvent{
			Type:   envelope.Type,
			Object: envelope.Data.Object,
		},
	}
}

// VerifyWebhookSignature checks the delivery header of the form
// "t=<unix>,v1=<hex hmac>" against an HMAC-SHA256 of "<t>.<payload>" with the
// shared webhook secret. Timestamps outside the tolerance window fail even
// with a valid digest.
func (a *Adapter) VerifyWebhookSignature(payload []byte, signature string) bool {
	timestamp, candidates := parseSignatureHeader(signature)
	if timestamp == 0 || len(candidates) == 0 {
		return false
	}

	skew := a.clock.Now().Unix() - timestamp
	if skew < 0 {
		skew = -skew
	}
	if float64(skew) > a.cfg.SignatureTolerance.Seconds() {
		return false
	}

	mac := hmac.New(sha256.New, []byte(a.cfg.WebhookSecret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, candidate := range candidates {
		if hmac.Equal([]byte(expected), []byte(candidate)) {
			return true
		}
	}
	return false
}

func parseSignatureHeader(header string) (timestamp int64, signatures []string) {
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil
			}
			timestamp = parsed
		case "v1":
			signatures = append(signatures, value)
		}
	}
	return timestamp, signatures
}
