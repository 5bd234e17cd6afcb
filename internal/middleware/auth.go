// Package middleware provides HTTP middleware for the fiber app,
// primarily JWT authentication.
package middleware

import (
	"log"
	"strings"

	"autobox/internal/models"
	"autobox/internal/services/auth"
	"autobox/internal/utils"

	"github.com/gofiber/fiber/v2"
)

// AuthMiddleware validates the Bearer token and stores the user claims
// in the request context under "claims" and "userID".
type AuthMiddleware struct {
	authService *auth.Service
}

func NewAuthMiddleware(authService *auth.Service) *AuthMiddleware {
	return &AuthMiddleware{authService: authService}
}

func (m *AuthMiddleware) Handler(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return utils.Unauthorized(c, "missing authorization header")
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return utils.Unauthorized(c, "invalid authorization format")
	}

	claims, err := utils.ParseToken(strings.TrimPrefix(authHeader, "Bearer "))
	if err != nil {
		log.Printf("token validation error: %v", err)
		return utils.Unauthorized(c, "invalid token")
	}

	// A valid token for a deleted account is still rejected
	if _, err := m.authService.GetUserByID(c.Context(), claims.UserID); err != nil {
		return utils.Unauthorized(c, "invalid token")
	}

	c.Locals("claims", claims)
	c.Locals("userID", claims.UserID)
	return c.Next()
}

// RequireAdmin verifies that the authenticated user has the admin role.
func RequireAdmin(c *fiber.Ctx) error {
	claims, ok := c.Locals("claims").(*models.UserClaims)
	if !ok {
		return utils.Unauthorized(c, "invalid claims")
	}
	if claims.Role != "admin" {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "insufficient permissions"})
	}
	return c.Next()
}
