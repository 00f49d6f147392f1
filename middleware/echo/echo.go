// Package echo provides Echo middleware for entitlement enforcement
package echo

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/vibecodingbible/billingsync/pkg/entitlement"
)

// UserIDExtractor extracts the user ID from an Echo context.
// Return empty string if user is not authenticated
type UserIDExtractor func(c echo.Context) string

// CommandmentExtractor extracts the requested commandment number from an
// Echo context.
type CommandmentExtractor func(c echo.Context) (int, error)

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
	OnForbidden func(c echo.Context, tier entitlement.Tier) error

	// OnLimitExceeded is called when the monthly AI quota is spent.
	// If nil, returns 429 JSON with usage info
	OnLimitExceeded func(c echo.Context, allowance *entitlement.AIAllowance) error

	// OnUnauthorized is called when user is not authenticated.
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c echo.Context) error

	// OnError is called when an internal error occurs.
	// If nil, returns 500 Internal Server Error
	OnError func(c echo.Context, err error) error
}

// RequireCommandment creates an Echo middleware that admits only users
// whose tier grants the requested commandment.
func RequireCommandment(cfg Config) echo.MiddlewareFunc {
	if cfg.Guard == nil {
		panic("billingsync/echo: Config.Guard is required")
	}
	if cfg.GetUserID == nil {
		panic("billingsync/echo: Config.GetUserID is required")
	}
	getCommandment := cfg.GetCommandment
	if getCommandment == nil {
		getCommandment = func(c echo.Context) (int, error) {
			return strconv.Atoi(c.Param("commandment"))
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := cfg.GetUserID(c)
			if userID == "" {
				return unauthorized(cfg, c)
			}

			commandment, err := getCommandment(c)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid commandment")
			}

			allowed, err := cfg.Guard.HasCommandmentAccess(c.Request().Context(), userID, commandment)
			if err != nil {
				return fail(cfg, c, err)
			}
			if !allowed {
				tier, _ := cfg.Guard.TierFor(c.Request().Context(), userID)
				if cfg.OnForbidden != nil {
					return cfg.OnForbidden(c, tier)
				}
				return c.JSON(http.StatusForbidden, map[string]string{
					"error": fmt.Sprintf("commandment %d requires an upgrade", commandment),
					"tier":  string(tier),
				})
			}

			return next(c)
		}
	}
}

// RequireAIAllowance creates an Echo middleware that enforces the monthly
// AI interaction quota and records one interaction per admitted request.
func RequireAIAllowance(cfg Config) echo.MiddlewareFunc {
	if cfg.Guard == nil {
		panic("billingsync/echo: Config.Guard is required")
	}
	if cfg.GetUserID == nil {
		panic("billingsync/echo: Config.GetUserID is required")
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := cfg.GetUserID(c)
			if userID == "" {
				return unauthorized(cfg, c)
			}

			ctx := c.Request().Context()
			allowance, err := cfg.Guard.CheckAIInteractionLimit(ctx, userID)
			if err != nil {
				return fail(cfg, c, err)
			}
			if !allowance.Allowed {
				if cfg.OnLimitExceeded != nil {
					return cfg.OnLimitExceeded(c, allowance)
				}
				return c.JSON(http.StatusTooManyRequests, map[string]any{
					"error": "AI interaction limit reached",
					"used":  allowance.Used,
					"limit": allowance.Limit,
				})
			}

			if err := cfg.Guard.RecordAIInteraction(ctx, userID); err != nil {
				return fail(cfg, c, err)
			}

			return next(c)
		}
	}
}

func unauthorized(cfg Config, c echo.Context) error {
	if cfg.OnUnauthorized != nil {
		return cfg.OnUnauthorized(c)
	}
	return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
}

func fail(cfg Config, c echo.Context, err error) error {
	if cfg.OnError != nil {
		return cfg.OnError(c, err)
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
