package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/juftlik/tolov/internal/logger"
	providerclick "github.com/juftlik/tolov/internal/provider/click"
	providerpayme "github.com/juftlik/tolov/internal/provider/payme"
	providerstripe "github.com/juftlik/tolov/internal/provider/stripe"
)

// HandleProviderWebhook is the single entry point for all provider
// notifications. The raw body is verified before any handler may run, and
// rejections are answered in each network's own vocabulary because the
// networks retry on anything else.
func (s *Server) HandleProviderWebhook(c *gin.Context) {
	name := strings.ToLower(strings.TrimSpace(c.Param("provider")))
	adapter, err := s.providers.Get(name)
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	signature := webhookSignature(c, name)
	if !adapter.VerifyWebhookSignature(payload, signature) {
		s.log.Warn("webhook signature rejected",
			zap.String("provider", name),
			zap.String("remote_addr", c.ClientIP()),
			zap.String("signature", logger.MaskCredential(signature)),
		)
		c.JSON(http.StatusOK, signatureFailureBody(name))
		return
	}

	result := adapter.HandleWebhook(c.Request.Context(), payload)

	if result.Event != nil {
		if err := s.billingSvc.ProcessProviderEvent(c.Request.Context(), name, result.Event); err != nil {
			s.log.Error("webhook event processing failed",
				zap.String("provider", name),
				zap.String("event_type", result.Event.Type),
				zap.Error(err),
			)
		}
	}

	c.JSON(http.StatusOK, result.Response)
}

// webhookSignature extracts the credential each network attaches to its
// deliveries. Click signs inside the body, so no transport value is needed.
func webhookSignature(c *gin.Context, provider string) string {
	switch provider {
	case providerstripe.ProviderName:
		return c.GetHeader("Stripe-Signature")
	case providerpayme.ProviderName:
		return c.GetHeader("Authorization")
	default:
		return ""
	}
}

// signatureFailureBody answers an unauthenticated delivery in the network's
// vocabulary so the remote side surfaces the misconfiguration instead of
// retrying forever.
func signatureFailureBody(provider string) any {
	switch provider {
	case providerpayme.ProviderName:
		return gin.H{
			"error": gin.H{"code": -32504, "message": "Insufficient privileges"},
			"id":    nil,
		}
	case providerclick.ProviderName:
		return gin.H{"error": -1, "error_note": "Invalid signature"}
	default:
		return gin.H{"success": false, "error": "invalid signature"}
	}
}
