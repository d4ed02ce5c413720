package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	v1 "folio/api/v1"
	"folio/internal/analytics"
	"folio/internal/config"
	"folio/internal/http"
	"folio/internal/http/middleware"
	"folio/internal/settings"
)

// publicCORSConfig lets any site embed the collector.
var publicCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "POST,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, User-Agent",
}

// adminCORSConfig allows a dashboard on another origin to call the admin
// API with a bearer token.
var adminCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "GET,POST,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Cron-Secret",
}

// collectSecFetch only checks POST so CORS preflights pass through.
var collectSecFetch = cartridgemiddleware.SecFetchSiteMiddleware(cartridgemiddleware.SecFetchSiteConfig{
	AllowedValues: []string{"cross-site", "same-site", "same-origin", "none"},
	Methods:       []string{fiber.MethodPost},
})

// MountAppRoutes mounts all application routes using cartridge's route API
func MountAppRoutes(srv *cartridge.Server) {
	cfg := config.GetConfig()

	// Rate limiting only applies in production; in development and test it
	// would interfere with local traffic.
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	// 70/min per IP covers a busy tab's pageviews and clicks.
	publicRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(70),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	// Login brute force protection.
	authRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(10),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	db := srv.GetDBManager().GetConnection()
	logger := srv.GetLogger()
	secret := cfg.GetSessionSecret()
	store := settings.NewAnalyticsStore(db, logger)

	// CORS runs first so 403 responses from the Sec-Fetch-Site check carry
	// CORS headers. Beacons come from the portfolio pages, so cross-site is
	// allowed; requests without the header are not browsers.
	publicAPIConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		WriteConcurrency: false,
		CustomMiddleware: []fiber.Handler{publicRateLimiter, collectSecFetch},
		CORSConfig:       publicCORSConfig,
	}

	// Admin callers are scripts and dashboards holding bearer tokens, so no
	// Sec-Fetch-Site check here.
	loginConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		CORSConfig:       adminCORSConfig,
		CustomMiddleware: []fiber.Handler{authRateLimiter},
	}

	adminConfig := &cartridge.RouteConfig{
		EnableCORS: true,
		CORSConfig: adminCORSConfig,
		CustomMiddleware: []fiber.Handler{
			middleware.AdminAuth(db, logger, secret),
			middleware.AnalyticsSettings(store),
		},
	}

	// Purge also accepts the cron secret.
	purgeConfig := &cartridge.RouteConfig{
		EnableCORS: true,
		CORSConfig: adminCORSConfig,
		CustomMiddleware: []fiber.Handler{
			middleware.AdminOrCron(db, logger, secret, cfg.CronSecret),
			middleware.AnalyticsSettings(store),
		},
	}

	// === ROOT ROUTES ===
	srv.Get("/_health", http.HealthIndexAction)
	srv.Head("/_health", http.HealthIndexAction)
	if cfg.MetricsEnabled {
		srv.Get("/metrics", http.MetricsAction)
	}

	// === PUBLIC COLLECTOR ===
	collect := v1.NewCollectAction(analytics.NewCollector(cfg, nil))
	srv.Post("/api/analytics/collect", collect, publicAPIConfig)
	srv.Options("/api/analytics/collect", v1.OptionsAction, publicAPIConfig)

	// === AUTHENTICATION ===
	srv.Post("/api/admin/login", http.AdminLoginAction, loginConfig)

	// === ADMIN ANALYTICS ===
	srv.Get("/api/admin/analytics", http.AnalyticsReportAction, adminConfig)
	srv.Get("/api/admin/analytics/settings", http.AnalyticsSettingsAction, adminConfig)
	srv.Post("/api/admin/analytics/settings", http.AnalyticsTogglesAction, adminConfig)
	srv.Post("/api/admin/analytics/filter", http.AnalyticsFilterAction, adminConfig)
	srv.Get("/api/admin/analytics/bot-hashes", http.BotHashesAction, adminConfig)
	srv.Get("/api/admin/analytics/short-visits-hashes", http.ShortVisitHashesAction, adminConfig)
	srv.Get("/api/admin/analytics/my-ip", http.MyIPAction, adminConfig)
	srv.Get("/api/admin/analytics/retention", http.RetentionAction, adminConfig)
	srv.Post("/api/admin/analytics/purge", http.PurgeAction, purgeConfig)
	srv.Get("/api/admin/analytics/purge/jobs/:id", http.PurgeJobAction, adminConfig)

	// === SYSTEM ===
	srv.Get("/api/admin/system/health", http.SystemHealthAction, adminConfig)
	srv.Get("/api/admin/system/export-database", http.SystemExportDatabaseAction, adminConfig)
	srv.Post("/api/admin/system/purge-cache", http.SystemPurgeCacheAction, adminConfig)
	srv.Post("/api/admin/system/geolite/download", http.SystemGeoLiteDownloadAction, adminConfig)
}
