package handlers

import (
	"autobox/internal/repositories"

	"github.com/gofiber/fiber/v2"
)

// HealthCheck reports whether the database and cache are reachable.
func HealthCheck(c *fiber.Ctx) error {
	status := "ok"
	code := fiber.StatusOK
	checks := fiber.Map{"database": "ok", "cache": "ok"}

	sqlDB, err := repositories.DB.DB()
	if err != nil || sqlDB.PingContext(c.Context()) != nil {
		checks["database"] = "unreachable"
		status = "degraded"
		code = fiber.StatusServiceUnavailable
	}

	if repositories.CacheService == nil {
		checks["cache"] = "disabled"
	}

	return c.Status(code).JSON(fiber.Map{
		"status": status,
		"checks": checks,
	})
}
