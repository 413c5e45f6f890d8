package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *Server) GetTransaction(c *gin.Context) {
	provider := strings.ToLower(strings.TrimSpace(c.Param("provider")))
	id := strings.TrimSpace(c.Param("id"))
	if provider == "" || id == "" {
		AbortWithError(c, newValidationError("id", "required", "provider and transaction id are required"))
		return
	}

	txn, err := s.ledgerSvc.Find(c.Request.Context(), provider, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": txn})
}

func (s *Server) CurrentSubscription(c *gin.Context) {
	userID, err := parseID(c.Query("user_id"))
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "invalid user id"))
		return
	}

	sub, err := s.subSvc.FindActiveByUser(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}
