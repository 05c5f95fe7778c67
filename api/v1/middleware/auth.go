package middleware

import (
	"errors"
	"strings"
	"time"

	"pgplane/internal/auth"
	"pgplane/internal/httpx"
	"pgplane/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"
)

// AuthRequired is a middleware that authenticates the caller. Automation
// clients present an X-API-Key header; everyone else presents a Bearer
// JWT minted by the external identity provider.
func AuthRequired(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader("X-API-Key"); key != "" {
			authenticateAPIKey(c, db, key)
			return
		}

		// Get Authorization header
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			httpx.FailErr(c, httpx.ErrUnauthorized("missing authorization header"))
			c.Abort()
			return
		}

		// Check Bearer prefix
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			httpx.FailErr(c, httpx.ErrUnauthorized("invalid authorization header format"))
			c.Abort()
			return
		}

		tokenString := parts[1]

		// Parse and validate token
		claims, err := auth.ParseToken(tokenString)
		if err != nil {
			// Determine error type
			if errors.Is(err, jwt.ErrTokenExpired) {
				httpx.FailErr(c, httpx.ErrTokenExpired("token expired"))
			} else {
				httpx.FailErr(c, httpx.ErrInvalidToken("invalid token"))
			}
			c.Abort()
			return
		}

		// Set user info in context
		c.Set("uid", claims.UID)
		c.Set("username", claims.Username)
		c.Set("role", claims.Role)

		c.Next()
	}
}

func authenticateAPIKey(c *gin.Context, db *gorm.DB, key string) {
	prefix, err := auth.ParseAPIKeyPrefix(key)
	if err != nil {
		httpx.FailErr(c, httpx.ErrInvalidToken("invalid API key"))
		c.Abort()
		return
	}

	var apiKey model.APIKey
	if err := db.Where("prefix = ?", prefix).First(&apiKey).Error; err != nil {
		httpx.FailErr(c, httpx.ErrInvalidToken("invalid API key"))
		c.Abort()
		return
	}

	if apiKey.Status != model.APIKeyStatusActive {
		httpx.FailErr(c, httpx.ErrInvalidToken("API key revoked"))
		c.Abort()
		return
	}

	if err := auth.VerifyAPIKey(apiKey.KeyHash, key); err != nil {
		httpx.FailErr(c, httpx.ErrInvalidToken("invalid API key"))
		c.Abort()
		return
	}

	// Best effort; authentication does not depend on this write
	now := time.Now()
	db.Model(&apiKey).Update("last_used_at", &now)

	c.Set("uid", apiKey.ID)
	c.Set("username", apiKey.Name)
	c.Set("role", apiKey.Role)

	c.Next()
}

// RequireRole rejects callers whose role ranks below the minimum
func RequireRole(minimum string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !auth.HasPermission(c.GetString("role"), minimum) {
			httpx.FailErr(c, httpx.ErrForbidden(""))
			c.Abort()
			return
		}
		c.Next()
	}
}

// Actor returns the caller identity stored by AuthRequired
func Actor(c *gin.Context) auth.Actor {
	return auth.Actor{
		ID:   c.GetInt("uid"),
		Name: c.GetString("username"),
		Role: c.GetString("role"),
	}
}
