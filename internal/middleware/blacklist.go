package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tavolo/backend/internal/blacklist"
	"github.com/tavolo/backend/pkg/logger"
	"github.com/tavolo/backend/pkg/utils"
)

// IPBlacklist rejects requests from banned addresses against the in-memory
// snapshot. Addresses banned since the last refresh keep passing until the
// next one; see the blacklist package for the staleness contract.
func IPBlacklist(list *blacklist.List) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ip := c.IP()
		if list.Contains(ip) {
			logger.Warn("blocked_ip", map[string]interface{}{
				"ip":   ip,
				"path": c.Path(),
			})
			return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
		}
		return c.Next()
	}
}
