package middleware

import (
	"github.com/gofiber/fiber/v2"

	"folio/internal/settings"
)

const analyticsStoreKey = "analytics_settings_store"

// AnalyticsSettings exposes the cached settings store to handlers.
func AnalyticsSettings(store *settings.AnalyticsStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(analyticsStoreKey, store)
		return c.Next()
	}
}

// AnalyticsStore returns the store set by AnalyticsSettings.
func AnalyticsStore(c *fiber.Ctx) (*settings.AnalyticsStore, bool) {
	store, ok := c.Locals(analyticsStoreKey).(*settings.AnalyticsStore)
	return store, ok && store != nil
}
