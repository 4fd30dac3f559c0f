package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/qc-validator-api/internal/models"
	appErrors "github.com/noah-isme/qc-validator-api/pkg/errors"
	"github.com/noah-isme/qc-validator-api/pkg/response"
)

// ContextUserKey is the gin context key storing JWT claims.
const ContextUserKey = "currentUser"

// streamTokenParam carries the access token for clients that cannot set headers (EventSource).
const streamTokenParam = "access_token"

type tokenValidator interface {
	ValidateToken(token string) (*models.JWTClaims, error)
}

// JWT protects routes by requiring a valid bearer access token.
func JWT(tokens tokenValidator) gin.HandlerFunc {
	return authenticate(tokens, false)
}

// StreamJWT is JWT for the event stream: the token may also arrive as ?access_token=.
func StreamJWT(tokens tokenValidator) gin.HandlerFunc {
	return authenticate(tokens, true)
}

func authenticate(tokens tokenValidator, allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil && allowQuery {
			if q := strings.TrimSpace(c.Query(streamTokenParam)); q != "" {
				token, err = q, nil
			}
		}
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		claims, err := tokens.ValidateToken(token)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, claims)
		c.Next()
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", appErrors.ErrUnauthorized
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header")
	}
	return strings.TrimSpace(token), nil
}

// CallerID returns the authenticated user id, or "" when the route ran without JWT.
func CallerID(c *gin.Context) string {
	if v, ok := c.Get(ContextUserKey); ok {
		if claims, ok := v.(*models.JWTClaims); ok && claims != nil {
			return claims.UserID
		}
	}
	return ""
}
