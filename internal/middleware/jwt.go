package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/archivia-api/internal/models"
	appErrors "github.com/noah-isme/archivia-api/pkg/errors"
	"github.com/noah-isme/archivia-api/pkg/logger"
	"github.com/noah-isme/archivia-api/pkg/response"
)

// ContextUserKey is the gin context key storing JWT claims.
const ContextUserKey = "currentUser"

// TokenValidator parses and verifies access tokens.
type TokenValidator interface {
	ValidateToken(token string) (*models.JWTClaims, error)
}

// AccountLookup loads the current state of an account.
type AccountLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// JWT protects routes by requiring a valid access token. When accounts is
// set the stored account is re-read so deactivation and flag changes apply
// before the token expires.
func JWT(tokens TokenValidator, accounts AccountLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "missing or malformed authorization header"))
			c.Abort()
			return
		}

		claims, err := tokens.ValidateToken(token)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		if accounts != nil {
			if err := reloadAccount(c.Request.Context(), accounts, claims); err != nil {
				response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "account no longer exists"))
				c.Abort()
				return
			}
		}
		if !claims.IsActive {
			response.Error(c, appErrors.ErrInactiveAccount)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, claims)
		c.Set(logger.ContextUserIDKey, claims.UserID)
		c.Next()
	}
}

// OptionalJWT attaches claims when a valid token is present but never blocks.
// Tokens of missing or inactive accounts are ignored.
func OptionalJWT(tokens TokenValidator, accounts AccountLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims, ok := optionalClaims(c, tokens, accounts); ok {
			c.Set(ContextUserKey, claims)
			c.Set(logger.ContextUserIDKey, claims.UserID)
		}
		c.Next()
	}
}

func optionalClaims(c *gin.Context, tokens TokenValidator, accounts AccountLookup) (*models.JWTClaims, bool) {
	token, ok := bearerToken(c.GetHeader("Authorization"))
	if !ok {
		return nil, false
	}
	claims, err := tokens.ValidateToken(token)
	if err != nil {
		return nil, false
	}
	if accounts != nil {
		if err := reloadAccount(c.Request.Context(), accounts, claims); err != nil {
			return nil, false
		}
	}
	return claims, claims.IsActive
}

// reloadAccount replaces the token's flags with the stored account state.
func reloadAccount(ctx context.Context, accounts AccountLookup, claims *models.JWTClaims) error {
	user, err := accounts.FindByID(ctx, claims.UserID)
	if err != nil {
		return err
	}
	claims.IsActive = user.IsActive
	claims.IsSuperAdmin = user.IsSuperAdmin
	claims.IsAdmin = user.IsAdmin
	claims.IsAdviser = user.IsAdviser
	claims.Role = claims.EffectiveRole()
	return nil
}

// Claims returns the authenticated caller, if any.
func Claims(c *gin.Context) (*models.JWTClaims, bool) {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*models.JWTClaims)
	return claims, ok
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}
