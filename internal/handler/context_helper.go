package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/qc-validator-api/internal/middleware"
	"github.com/noah-isme/qc-validator-api/internal/models"
	"github.com/noah-isme/qc-validator-api/internal/service"
	appErrors "github.com/noah-isme/qc-validator-api/pkg/errors"
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

// actorFromContext resolves the caller. Routes mounted without the JWT middleware get an anonymous actor.
func actorFromContext(c *gin.Context) models.Actor {
	return models.ActorFromClaims(claimsFromContext(c))
}

func requestMeta(c *gin.Context) service.RequestMeta {
	return service.RequestMeta{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
}

func invalidPayload(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message)
}
