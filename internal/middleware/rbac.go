package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/qc-validator-api/internal/models"
	appErrors "github.com/noah-isme/qc-validator-api/pkg/errors"
	"github.com/noah-isme/qc-validator-api/pkg/response"
)

// RequireRoles admits callers whose token carries one of roles. It must run after JWT.
//
// Agreement parties are never decided here: seller and buyer are per-checklist relations
// checked by the workflow layer. Roles only gate platform surfaces such as arbitration.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
		names = append(names, string(r))
	}

	return func(c *gin.Context) {
		value, exists := c.Get(ContextUserKey)
		claims, ok := value.(*models.JWTClaims)
		if !exists || !ok || claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.WithDetails(appErrors.ErrForbidden, "", map[string]interface{}{
				"required_roles": names,
				"role":           string(claims.Role),
			}))
			c.Abort()
			return
		}
		c.Next()
	}
}
