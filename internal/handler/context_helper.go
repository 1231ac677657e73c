package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/arkacitra/bimbel-portal-api/internal/middleware"
	"github.com/arkacitra/bimbel-portal-api/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// actorFromContext resolves the identity recorded in payment audit events.
// Unauthenticated portal submissions are recorded under a fixed label.
func actorFromContext(c *gin.Context) string {
	if claims := claimsFromContext(c); claims != nil {
		return claims.UserID
	}
	return "student-portal"
}
