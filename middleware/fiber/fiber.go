// Package fiber provides Fiber middleware for entitlement enforcement
package fiber

import (
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/vibecodingbible/billingsync/pkg/entitlement"
)

// UserIDExtractor extracts the user ID from a Fiber context.
// Return empty string if user is not authenticated
type UserIDExtractor func(c *fiber.Ctx) string

// CommandmentExtractor extracts the requested commandment number from a
// Fiber context.
type CommandmentExtractor func(c *fiber.Ctx) (int, error)

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
	OnForbidden func(c *fiber.Ctx, tier entitlement.Tier) error

	// OnLimitExceeded is called when the monthly AI quota is spent.
	// If nil, returns 429 JSON with usage info
	OnLimitExceeded func(c *fiber.Ctx, allowance *entitlement.AIAllowance) error

	// OnUnauthorized is called when user is not authenticated.
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *fiber.Ctx) error

	// OnError is called when an internal error occurs.
	// If nil, returns 500 Internal Server Error
	OnError func(c *fiber.Ctx, err error) error
}

// RequireCommandment creates a Fiber middleware that admits only users
// whose tier grants the requested commandment.
func RequireCommandment(cfg Config) fiber.Handler {
	if cfg.Guard == nil {
		panic("billingsync/fiber: Config.Guard is required")
	}
	if cfg.GetUserID == nil {
		panic("billingsync/fiber: Config.GetUserID is required")
	}
	getCommandment := cfg.GetCommandment
	if getCommandment == nil {
		getCommandment = func(c *fiber.Ctx) (int, error) {
			return strconv.Atoi(c.Params("commandment"))
		}
	}

	return func(c *fiber.Ctx) error {
		userID := cfg.GetUserID(c)
		if userID == "" {
			return unauthorized(cfg, c)
		}

		commandment, err := getCommandment(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid commandment",
			})
		}

		allowed, err := cfg.Guard.HasCommandmentAccess(c.UserContext(), userID, commandment)
		if err != nil {
			return fail(cfg, c, err)
		}
		if !allowed {
			tier, _ := cfg.Guard.TierFor(c.UserContext(), userID)
			if cfg.OnForbidden != nil {
				return cfg.OnForbidden(c, tier)
			}
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": fmt.Sprintf("commandment %d requires an upgrade", commandment),
				"tier":  string(tier),
			})
		}

		return c.Next()
	}
}

// RequireAIAllowance creates a Fiber middleware that enforces the monthly
// AI interaction quota and records one interaction per admitted request.
func RequireAIAllowance(cfg Config) fiber.Handler {
	if cfg.Guard == nil {
		panic("billingsync/fiber: Config.Guard is required")
	}
	if cfg.GetUserID == nil {
		panic("billingsync/fiber: Config.GetUserID is required")
	}

	return func(c *fiber.Ctx) error {
		userID := cfg.GetUserID(c)
		if userID == "" {
			return unauthorized(cfg, c)
		}

		ctx := c.UserContext()
		allowance, err := cfg.Guard.CheckAIInteractionLimit(ctx, userID)
		if err != nil {
			return fail(cfg, c, err)
		}
		if !allowance.Allowed {
			if cfg.OnLimitExceeded != nil {
				return cfg.OnLimitExceeded(c, allowance)
			}
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "AI interaction limit reached",
				"used":  allowance.Used,
				"limit": allowance.Limit,
			})
		}

		if err := cfg.Guard.RecordAIInteraction(ctx, userID); err != nil {
			return fail(cfg, c, err)
		}

		return c.Next()
	}
}

func unauthorized(cfg Config, c *fiber.Ctx) error {
	if cfg.OnUnauthorized != nil {
		return cfg.OnUnauthorized(c)
	}
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
}

func fail(cfg Config, c *fiber.Ctx, err error) error {
	if cfg.OnError != nil {
		return cfg.OnError(c, err)
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
}
