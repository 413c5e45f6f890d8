package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	billingdomain "github.com/juftlik/tolov/internal/billing/domain"
	ledgerdomain "github.com/juftlik/tolov/internal/ledger/domain"
	paymentmethoddomain "github.com/juftlik/tolov/internal/paymentmethod/domain"
	plandomain "github.com/juftlik/tolov/internal/plan/domain"
	providerdomain "github.com/juftlik/tolov/internal/provider/domain"
	subscriptiondomain "github.com/juftlik/tolov/internal/subscription/domain"
	userdomain "github.com/juftlik/tolov/internal/user/domain"
)

// apiError is the JSON error body. Code is a stable machine-readable token;
// Message is for humans.
type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *apiError) Error() string { return e.Code }

var (
	ErrNotFound     = &apiError{Status: http.StatusNotFound, Code: "not_found", Message: "resource not found"}
	ErrUnauthorized = &apiError{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "unauthorized"}
	ErrRateLimited  = &apiError{Status: http.StatusTooManyRequests, Code: "rate_limited", Message: "too many requests"}
)

func invalidRequestError() *apiError {
	return &apiError{Status: http.StatusBadRequest, Code: "invalid_request", Message: "invalid request body"}
}

func newValidationError(field, code, message string) *apiError {
	return &apiError{Status: http.StatusUnprocessableEntity, Code: code, Field: field, Message: message}
}

// AbortWithError maps domain errors onto HTTP statuses and writes the JSON
// error body. Unknown errors become an opaque 500.
func AbortWithError(c *gin.Context, err error) {
	var api *apiError
	if errors.As(err, &api) {
		c.AbortWithStatusJSON(api.Status, api)
		return
	}

	status := http.StatusInternalServerError
	code := "internal_error"
	message := "internal error"

	switch {
	case errors.Is(err, userdomain.ErrUserNotFound),
		errors.Is(err, plandomain.ErrPlanNotFound),
		errors.Is(err, ledgerdomain.ErrTransactionNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, subscriptiondomain.ErrNoActiveSubscription),
		errors.Is(err, paymentmethoddomain.ErrMethodNotFound),
		errors.Is(err, providerdomain.ErrProviderNotFound):
		status = http.StatusNotFound
		code = "not_found"
		message = err.Error()
	case errors.Is(err, billingdomain.ErrSubscriptionExists):
		status = http.StatusConflict
		code = "subscription_already_exists"
		message = "an active subscription already exists"
	case errors.Is(err, billingdomain.ErrProviderUnavailable):
		status = http.StatusUnprocessableEntity
		code = "provider_unavailable"
		message = err.Error()
	case errors.Is(err, billingdomain.ErrCheckoutFailed),
		errors.Is(err, billingdomain.ErrPaymentFailed),
		errors.Is(err, paymentmethoddomain.ErrInvalidMethod):
		status = http.StatusBadGateway
		code = "provider_error"
		message = err.Error()
	case errors.Is(err, plandomain.ErrPricingNotFound):
		status = http.StatusUnprocessableEntity
		code = "pricing_not_found"
		message = "no pricing for plan in country"
	}

	c.AbortWithStatusJSON(status, &apiError{Status: status, Code: code, Message: message})
}
