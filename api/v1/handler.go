package v1

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"github.com/tidwall/gjson"

	"folio/internal/analytics"
	"folio/internal/pkg/clientip"
	"folio/internal/pkg/metrics"
)

const errInvalidBody = "invalid JSON body"

// NewCollectAction returns the public collector handler. Bodies are parsed
// as JSON whatever the content type, so sendBeacon's text/plain works too.
func NewCollectAction(collector *analytics.Collector) func(ctx *cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		input, err := parseCollectInput(ctx.Ctx)
		if err != nil {
			ctx.Logger.Debug("Rejected collect body", slog.Any("error", err))
			metrics.RecordRejected("invalid")
			return handleError(ctx.Ctx, err)
		}

		if err := collector.Collect(ctx.DBManager, ctx.Logger, input); err != nil {
			metrics.RecordRejected(rejectReason(err))
			if analytics.HTTPStatus(err) >= http.StatusInternalServerError {
				ctx.Logger.Error("Failed to collect event",
					slog.String("session_id", input.SessionID),
					slog.Any("error", err))
			}
			return handleError(ctx.Ctx, err)
		}

		if input.IsAuthenticated {
			metrics.RecordRejected("authenticated")
		}
		return ctx.JSON(fiber.Map{"ok": true})
	}
}

// OptionsAction answers CORS preflight requests.
func OptionsAction(ctx *cartridge.Context) error {
	return ctx.SendStatus(http.StatusNoContent)
}

func parseCollectInput(c *fiber.Ctx) (*analytics.CollectInput, error) {
	body := c.Body()
	if !gjson.ValidBytes(body) {
		return nil, &analytics.BadRequestError{Message: errInvalidBody}
	}
	// Admin traffic is dropped before field types are checked.
	if gjson.GetBytes(body, "is_authenticated").Type == gjson.True {
		return &analytics.CollectInput{IsAuthenticated: true}, nil
	}

	var input analytics.CollectInput
	if err := json.Unmarshal(body, &input); err != nil {
		return nil, &analytics.BadRequestError{Message: errInvalidBody}
	}

	input.IP = clientip.FromRequest(c)
	input.UserAgent = c.Get(fiber.HeaderUserAgent)
	if forwardedUA := c.Get("X-Forwarded-User-Agent"); forwardedUA != "" {
		input.UserAgent = forwardedUA
	}
	input.Country, input.City = edgeLocation(c)
	return &input, nil
}

// edgeLocation reads the geo headers set by Vercel or Cloudflare.
func edgeLocation(c *fiber.Ctx) (country, city string) {
	country = strings.TrimSpace(c.Get("X-Vercel-IP-Country"))
	if country == "" {
		country = strings.TrimSpace(c.Get("CF-IPCountry"))
	}
	// Cloudflare reports unknown and Tor traffic as XX and T1.
	if country == "XX" || country == "T1" {
		country = ""
	}

	city = c.Get("X-Vercel-IP-City")
	if decoded, err := url.QueryUnescape(city); err == nil {
		city = decoded
	}
	return country, strings.TrimSpace(city)
}

func rejectReason(err error) string {
	var badReq *analytics.BadRequestError
	switch {
	case errors.As(err, &badReq):
		return "invalid"
	case errors.Is(err, analytics.ErrNotConfigured):
		return "not_configured"
	default:
		return "store_error"
	}
}

func handleError(c *fiber.Ctx, err error) error {
	return c.Status(analytics.HTTPStatus(err)).JSON(fiber.Map{
		"error": err.Error(),
	})
}
