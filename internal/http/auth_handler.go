package http

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"folio/internal/analytics"
	"folio/internal/config"
	"folio/internal/users"
)

type loginParams struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// AdminLoginAction exchanges credentials for a bearer token.
func AdminLoginAction(ctx *cartridge.Context) error {
	var params loginParams
	if err := ctx.BodyParser(&params); err != nil {
		return respondError(ctx, &analytics.BadRequestError{Message: "invalid request body"})
	}
	if strings.TrimSpace(params.Email) == "" || params.Password == "" {
		return respondError(ctx, &analytics.BadRequestError{Message: "Email and password are required"})
	}

	db := ctx.DB()
	if db == nil {
		return respondError(ctx, analytics.ErrNotConfigured)
	}

	user, err := users.Authenticate(db, ctx.Logger, params.Email, params.Password)
	if err != nil {
		if errors.Is(err, users.ErrInvalidCredentials) {
			// Generic error message - don't reveal whether email exists
			return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid email or password",
			})
		}
		return respondError(ctx, &analytics.StoreError{Op: "authenticate", Err: err})
	}

	cfg := config.GetConfig()
	token, expiresAt, err := users.IssueToken(user, cfg.GetSessionSecret(), cfg.AdminTokenTTL(), time.Now())
	if err != nil {
		ctx.Logger.Error("Failed to issue admin token", slog.Any("error", err))
		return respondError(ctx, err)
	}

	ctx.Logger.Info("Admin logged in", slog.Int("user_id", int(user.ID)))
	return ctx.JSON(fiber.Map{
		"token":     token,
		"expiresAt": expiresAt.UTC(),
	})
}
