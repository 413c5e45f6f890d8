package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	billingdomain "github.com/juftlik/tolov/internal/billing/domain"
)

type checkoutRequest struct {
	UserID          string `json:"user_id"`
	PlanID          string `json:"plan_id"`
	Provider        string `json:"provider"`
	PaymentMethodID string `json:"payment_method_id"`
	TrialDays       int    `json:"trial_days"`
}

func (s *Server) Checkout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	userID, err := parseID(req.UserID)
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "invalid user id"))
		return
	}
	planID, err := parseID(req.PlanID)
	if err != nil {
		AbortWithError(c, newValidationError("plan_id", "invalid_plan_id", "invalid plan id"))
		return
	}
	if strings.TrimSpace(req.Provider) == "" {
		AbortWithError(c, newValidationError("provider", "required", "provider is required"))
		return
	}

	result, err := s.billingSvc.Checkout(c.Request.Context(), billingdomain.CheckoutRequest{
		UserID:          userID,
		PlanID:          planID,
		Provider:        req.Provider,
		PaymentMethodID: strings.TrimSpace(req.PaymentMethodID),
		TrialDays:       req.TrialDays,
		IdempotencyKey:  strings.TrimSpace(c.GetHeader("Idempotency-Key")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"subscription": result.Subscription,
		"checkout_url": result.CheckoutURL,
	})
}

func (s *Server) CancelSubscription(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	userID, err := parseID(req.UserID)
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "invalid user id"))
		return
	}

	sub, err := s.billingSvc.CancelSubscription(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}

func (s *Server) ChangePlan(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id"`
		PlanID string `json:"plan_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	userID, err := parseID(req.UserID)
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "invalid user id"))
		return
	}
	planID, err := parseID(req.PlanID)
	if err != nil {
		AbortWithError(c, newValidationError("plan_id", "invalid_plan_id", "invalid plan id"))
		return
	}

	sub, err := s.billingSvc.ChangePlan(c.Request.Context(), userID, planID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}

type payRequest struct {
	UserID          string `json:"user_id"`
	Provider        string `json:"provider"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	PaymentMethodID string `json:"payment_method_id"`
	PhoneNumber     string `json:"phone_number"`
	Description     string `json:"description"`
}

func (s *Server) Pay(c *gin.Context) {
	var req payRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	userID, err := parseID(req.UserID)
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "invalid user id"))
		return
	}
	if req.Amount <= 0 {
		AbortWithError(c, newValidationError("amount", "invalid_amount", "amount must be positive"))
		return
	}
	if strings.TrimSpace(req.Provider) == "" {
		AbortWithError(c, newValidationError("provider", "required", "provider is required"))
		return
	}

	txn, err := s.billingSvc.Pay(c.Request.Context(), billingdomain.PayRequest{
		UserID:          userID,
		Provider:        req.Provider,
		Amount:          req.Amount,
		Currency:        strings.ToUpper(strings.TrimSpace(req.Currency)),
		PaymentMethodID: strings.TrimSpace(req.PaymentMethodID),
		PhoneNumber:     strings.TrimSpace(req.PhoneNumber),
		Description:     strings.TrimSpace(req.Description),
		IdempotencyKey:  strings.TrimSpace(c.GetHeader("Idempotency-Key")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"transaction": txn})
}

func (s *Server) ListProviders(c *gin.Context) {
	userID, err := parseID(c.Query("user_id"))
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "invalid user id"))
		return
	}

	names, err := s.billingSvc.AvailableProviders(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"providers": names})
}

func parseID(raw string) (snowflake.ID, error) {
	return snowflake.ParseString(strings.TrimSpace(raw))
}
