// Package gin provides Gin middleware for entitlement enforcement
package gin

import (
	"fmt"
	"net/http"
	"strconv"

	gongin "github.com/gin-gonic/gin"

	"github.com/vibecodingbible/billingsync/pkg/entitlement"
)

// UserIDExtractor extracts the user ID from a Gin context.
// Return empty string if user is not authenticated
type UserIDExtractor func(c *gongin.Context) string

// CommandmentExtractor extracts the requested commandment number from a Gin
// context.
type CommandmentExtractor func(c *gongin.Context) (int, error)

// Config holds middleware configuration
type Config struct {
	// Guard is the entitlement guard instance (required)
	Guard *entitlement.Guard

	// GetUserID extracts user ID from context (required)
	GetUserID UserIDExtractor

	// GetCommandment extracts the commandment number (optional)
	// If nil, defaults to the "commandment" path parameter
	GetCommandment CommandmentExtractor

	// OnForbidden is called when the user's tier does not grant access.
	// If nil, returns 403 JSON with the user's tier
	OnForbidden func(c *gongin.Context, tier entitlement.Tier)

	// OnLimitExceeded is called when the monthly AI quota is spent.
	// If nil, returns 429 JSON with usage info
	OnLimitExceeded func(c *gongin.Context, allowance *entitlement.AIAllowance)

	// OnUnauthorized is called when user is not authenticated.
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *gongin.Context)

	// OnError is called when an internal error occurs.
	// If nil, returns 500 Internal Server Error
	OnError func(c *gongin.Context, err error)
}

// RequireCommandment creates a Gin middleware that admits only users whose
// tier grants the requested commandment.
func RequireCommandment(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Guard == nil {
		panic("billingsync/gin: Config.Guard is required")
	}
	if cfg.GetUserID == nil {
		panic("billingsync/gin: Config.GetUserID is required")
	}
	getCommandment := cfg.GetCommandment
	if getCommandment == nil {
		getCommandment = func(c *gongin.Context) (int, error) {
			return strconv.Atoi(c.Param("commandment"))
		}
	}

	return func(c *gongin.Context) {
		userID := cfg.GetUserID(c)
		if userID == "" {
			unauthorized(cfg, c)
			return
		}

		commandment, err := getCommandment(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gongin.H{
				"error": "invalid commandment",
			})
			return
		}

		allowed, err := cfg.Guard.HasCommandmentAccess(c.Request.Context(), userID, commandment)
		if err != nil {
			fail(cfg, c, err)
			return
		}
		if !allowed {
			tier, _ := cfg.Guard.TierFor(c.Request.Context(), userID)
			if cfg.OnForbidden != nil {
				cfg.OnForbidden(c, tier)
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusForbidden, gongin.H{
				"error": fmt.Sprintf("commandment %d requires an upgrade", commandment),
				"tier":  string(tier),
			})
			return
		}

		c.Next()
	}
}

// RequireAIAllowance creates a Gin middleware that enforces the monthly AI
// interaction quota and records one interaction per admitted request.
func RequireAIAllowance(cfg Config) gongin.HandlerFunc {
	if cfg.Guard == nil {
		panic("billingsync/gin: Config.Guard is required")
	}
	if cfg.GetUserID == nil {
		panic("billingsync/gin: Config.GetUserID is required")
	}

	return func(c *gongin.Context) {
		userID := cfg.GetUserID(c)
		if userID == "" {
			unauthorized(cfg, c)
			return
		}

		ctx := c.Request.Context()
		allowance, err := cfg.Guard.CheckAIInteractionLimit(ctx, userID)
		if err != nil {
			fail(cfg, c, err)
			return
		}
		if !allowance.Allowed {
			if cfg.OnLimitExceeded != nil {
				cfg.OnLimitExceeded(c, allowance)
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gongin.H{
				"error": "AI interaction limit reached",
				"used":  allowance.Used,
				"limit": allowance.Limit,
			})
			return
		}

		if err := cfg.Guard.RecordAIInteraction(ctx, userID); err != nil {
			fail(cfg, c, err)
			return
		}

		c.Next()
	}
}

func unauthorized(cfg Config, c *gongin.Context) {
	if cfg.OnUnauthorized != nil {
		cfg.OnUnauthorized(c)
		c.Abort()
		return
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gongin.H{"error": "unauthorized"})
}

func fail(cfg Config, c *gongin.Context, err error) {
	if cfg.OnError != nil {
		cfg.OnError(c, err)
		c.Abort()
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, gongin.H{"error": "internal server error"})
}
