package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/archivia-api/internal/models"
	appErrors "github.com/noah-isme/archivia-api/pkg/errors"
	"github.com/noah-isme/archivia-api/pkg/response"
)

// Capability reports whether a role may use a route.
type Capability func(models.Role) bool

// Require allows the request through when the caller's role has the
// capability. It must run after JWT.
func Require(capability Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := Claims(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !capability(claims.EffectiveRole()) {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "insufficient permissions"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// Common route capabilities.
var (
	CanUpload            Capability = models.Role.CanUpload
	CanModerateDocuments Capability = models.Role.CanModerateDocuments
	CanDecideRequests    Capability = models.Role.CanDecideRequests
	CanManageUsers       Capability = models.Role.CanManageUsers
	CanManageSettings    Capability = models.Role.CanManageSettings
	Privileged           Capability = models.Role.IsPrivileged
)
