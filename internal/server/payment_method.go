package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	paymentmethoddomain "github.com/juftlik/tolov/internal/paymentmethod/domain"
)

type createPaymentMethodRequest struct {
	UserID      string `json:"user_id"`
	Provider    string `json:"provider"`
	Token       string `json:"token"`
	CardNumber  string `json:"card_number"`
	CardExpire  string `json:"card_expire"`
	PhoneNumber string `json:"phone_number"`
	SetDefault  bool   `json:"set_default"`
}

func (s *Server) CreatePaymentMethod(c *gin.Context) {
	var req createPaymentMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	userID, err := parseID(req.UserID)
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "invalid user id"))
		return
	}
	if strings.TrimSpace(req.Provider) == "" {
		AbortWithError(c, newValidationError("provider", "required", "provider is required"))
		return
	}

	method, err := s.methodSvc.Create(c.Request.Context(), paymentmethoddomain.CreateRequest{
		UserID:      userID,
		Provider:    req.Provider,
		Token:       strings.TrimSpace(req.Token),
		CardNumber:  strings.TrimSpace(req.CardNumber),
		CardExpire:  strings.TrimSpace(req.CardExpire),
		PhoneNumber: strings.TrimSpace(req.PhoneNumber),
		SetDefault:  req.SetDefault,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"payment_method": method})
}

func (s *Server) ListPaymentMethods(c *gin.Context) {
	userID, err := parseID(c.Query("user_id"))
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "invalid user id"))
		return
	}

	methods, err := s.methodSvc.ListByUser(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment_methods": methods})
}

func (s *Server) DeletePaymentMethod(c *gin.Context) {
	userID, err := parseID(c.Query("user_id"))
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "invalid user id"))
		return
	}
	methodID, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_method_id", "invalid payment method id"))
		return
	}

	if err := s.methodSvc.Delete(c.Request.Context(), userID, methodID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) SetDefaultPaymentMethod(c *gin.Context) {
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
	methodID, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_method_id", "invalid payment method id"))
		return
	}

	if err := s.methodSvc.SetDefault(c.Request.Context(), userID, methodID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
