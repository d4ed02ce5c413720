package middleware

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"folio/internal/analytics"
	"folio/internal/users"
)

// Locals keys set by the auth middleware.
const (
	AdminUserKey  = "admin_user"
	CronCallerKey = "cron_caller"
)

// AdminAuth requires Authorization: Bearer <token> where the token was
// issued by the login endpoint for a user that still exists.
func AdminAuth(db *gorm.DB, logger *slog.Logger, secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if db == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": analytics.ErrNotConfigured.Error(),
			})
		}

		user, reason := authenticateAdmin(c, db, secret)
		if user == nil {
			logger.Debug("Rejected admin request",
				slog.String("path", c.Path()),
				slog.String("reason", reason))
			return unauthorized(c, reason)
		}

		c.Locals(AdminUserKey, user)
		return c.Next()
	}
}

// AdminOrCron accepts the scheduler's shared secret, sent as x-cron-secret
// or as a bearer token, before falling back to admin authentication. An
// empty cronSecret disables the secret.
func AdminOrCron(db *gorm.DB, logger *slog.Logger, secret, cronSecret string) fiber.Handler {
	admin := AdminAuth(db, logger, secret)
	return func(c *fiber.Ctx) error {
		if cronSecret != "" {
			// Schedulers send the header either bare or as "Bearer <secret>".
			provided := strings.TrimSpace(c.Get("X-Cron-Secret"))
			provided = strings.TrimSpace(strings.TrimPrefix(provided, "Bearer "))
			if provided == "" {
				provided, _ = bearerToken(c)
			}
			if provided != "" && secureCompare(provided, cronSecret) {
				c.Locals(CronCallerKey, true)
				return c.Next()
			}
		}
		return admin(c)
	}
}

// AdminUser returns the user AdminAuth authenticated, if any.
func AdminUser(c *fiber.Ctx) (*users.User, bool) {
	user, ok := c.Locals(AdminUserKey).(*users.User)
	return user, ok
}

func authenticateAdmin(c *fiber.Ctx, db *gorm.DB, secret string) (*users.User, string) {
	token, ok := bearerToken(c)
	if !ok {
		return nil, "missing bearer token"
	}

	id, err := users.ParseToken(token, secret, time.Now())
	switch {
	case errors.Is(err, users.ErrExpiredToken):
		return nil, "token expired"
	case err != nil:
		return nil, "invalid token"
	}

	user, err := users.FindByID(db, id)
	if err != nil {
		return nil, "unknown user"
	}
	return user, ""
}

func bearerToken(c *fiber.Ctx) (string, bool) {
	header := c.Get(fiber.HeaderAuthorization)
	token, ok := strings.CutPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)
	return token, ok && token != ""
}

func unauthorized(c *fiber.Ctx, reason string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error":  analytics.ErrUnauthorized.Error(),
		"reason": reason,
	})
}

// secureCompare performs constant-time string comparison
func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
