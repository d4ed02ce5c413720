package http

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"github.com/tidwall/gjson"

	"folio/internal/analytics"
	"folio/internal/botpolicy"
	"folio/internal/config"
	"folio/internal/http/middleware"
	"folio/internal/pkg/clientip"
	"folio/internal/pkg/metrics"
	"folio/internal/settings"
	"folio/internal/timeframe"
	"folio/internal/visitors"
)

const errTogglesRequired = "excludeBots (boolean) or excludeShortVisits (boolean) required"

// AnalyticsReportAction returns the aggregate bundle for the requested
// window and page. ?bots and ?shortVisits override the stored toggles for
// this request only.
func AnalyticsReportAction(ctx *cartridge.Context) error {
	start := time.Now()
	cfg := config.GetConfig()

	db := ctx.DB()
	if db == nil {
		return respondError(ctx, analytics.ErrNotConfigured)
	}

	window, err := timeframe.NewWindowParser().ParseWindow(timeframe.WindowParserParams{
		Days:   ctx.Query("days"),
		Period: ctx.Query("period"),
		Tz:     cfg.Location(),
	})
	if err != nil {
		return respondError(ctx, &analytics.BadRequestError{Message: err.Error()})
	}

	excludeBots, err := parseOverride("bots", ctx.Query("bots"))
	if err != nil {
		return respondError(ctx, err)
	}
	excludeShort, err := parseOverride("shortVisits", ctx.Query("shortVisits"))
	if err != nil {
		return respondError(ctx, err)
	}

	current, err := loadAnalyticsSettings(ctx)
	if err != nil {
		return respondError(ctx, err)
	}

	report, err := analytics.BuildReport(db, analytics.ReportParams{
		Window:             window,
		Page:               ctx.QueryInt("page", 1),
		PerPage:            cfg.AnalyticsPageSize,
		Settings:           current,
		Hasher:             visitors.NewIPHasher(cfg.AnalyticsIPSalt),
		Policy:             botpolicy.Current(),
		ExcludeBots:        excludeBots,
		ExcludeShortVisits: excludeShort,
	})
	if err != nil {
		return respondError(ctx, err)
	}

	metrics.ObserveReport(string(window.Label), start)
	ctx.Logger.Debug("Analytics report built",
		slog.String("window", string(window.Label)),
		slog.Int("visitors", report.UniqueVisitors),
		slog.Duration("took", time.Since(start)))
	return ctx.JSON(report)
}

// parseOverride maps include/exclude to the exclude toggle.
func parseOverride(name, value string) (*bool, error) {
	var exclude bool
	switch value {
	case "":
		return nil, nil
	case "exclude":
		exclude = true
	case "include":
		exclude = false
	default:
		return nil, &analytics.BadRequestError{Message: fmt.Sprintf("%s must be include or exclude", name)}
	}
	return &exclude, nil
}

// AnalyticsSettingsAction returns the stored filter and toggles.
func AnalyticsSettingsAction(ctx *cartridge.Context) error {
	current, err := loadAnalyticsSettings(ctx)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(current)
}

// AnalyticsTogglesAction updates whichever of the two toggles the body
// carries as a boolean.
func AnalyticsTogglesAction(ctx *cartridge.Context) error {
	body := ctx.Body()
	excludeBots := jsonBool(body, "excludeBots")
	excludeShort := jsonBool(body, "excludeShortVisits")
	if excludeBots == nil && excludeShort == nil {
		return respondError(ctx, &analytics.BadRequestError{Message: errTogglesRequired})
	}

	if err := saveToggles(ctx, excludeBots, excludeShort); err != nil {
		return respondError(ctx, err)
	}

	ctx.Logger.Info("Analytics toggles updated",
		slog.Any("exclude_bots", excludeBots),
		slog.Any("exclude_short_visits", excludeShort))

	resp := fiber.Map{"ok": true}
	if excludeBots != nil {
		resp["excludeBots"] = *excludeBots
	}
	if excludeShort != nil {
		resp["excludeShortVisits"] = *excludeShort
	}
	return ctx.JSON(resp)
}

func jsonBool(body []byte, path string) *bool {
	result := gjson.GetBytes(body, path)
	if result.Type != gjson.True && result.Type != gjson.False {
		return nil
	}
	value := result.Bool()
	return &value
}

// AnalyticsFilterAction replaces the IP filter. Non-array fields are read
// as empty lists.
func AnalyticsFilterAction(ctx *cartridge.Context) error {
	filter := settings.DecodeIPFilter(string(ctx.Body()))
	if err := validateIPFilter(filter); err != nil {
		ctx.Logger.Warn("Invalid IP filter submitted", slog.Any("error", err))
		return respondError(ctx, err)
	}

	if err := saveIPFilter(ctx, filter); err != nil {
		return respondError(ctx, err)
	}

	ctx.Logger.Info("Analytics IP filter updated",
		slog.Int("include", len(filter.Include)),
		slog.Int("exclude", len(filter.Exclude)),
		slog.Int("exclude_hashes", len(filter.ExcludeHashes)))
	return ctx.JSON(fiber.Map{"ok": true})
}

func validateIPFilter(filter settings.IPFilter) error {
	for _, list := range [][]string{filter.Include, filter.Exclude} {
		for _, ip := range list {
			if net.ParseIP(ip) == nil {
				return &analytics.BadRequestError{Message: "Invalid IP address format: " + ip}
			}
		}
	}
	for _, hash := range filter.ExcludeHashes {
		if !visitors.IsIPHash(hash) {
			return &analytics.BadRequestError{Message: "Invalid IP hash: " + hash}
		}
	}
	return nil
}

// BotHashesAction previews the hashes a bot purge would select.
func BotHashesAction(ctx *cartridge.Context) error {
	hashes, err := analytics.BotHashes(ctx.DB(), botpolicy.Current())
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"hashes": hashes})
}

// ShortVisitHashesAction lists visitors whose sessions never lasted a second.
func ShortVisitHashesAction(ctx *cartridge.Context) error {
	hashes, err := analytics.ShortVisitHashes(ctx.DB())
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"hashes": hashes})
}

// MyIPAction echoes the caller's address and its hash so the admin can
// exclude their own visits.
func MyIPAction(ctx *cartridge.Context) error {
	ip := clientip.FromRequest(ctx.Ctx)
	hash := ""
	if ip != "" {
		hash = visitors.NewIPHasher(config.GetConfig().AnalyticsIPSalt).Hash(ip)
	}
	return ctx.JSON(fiber.Map{"ip": ip, "hash": hash})
}

// RetentionAction counts sessions on each side of the default policy.
func RetentionAction(ctx *cartridge.Context) error {
	summary, err := analytics.Retention(ctx.DB(), time.Now())
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(summary)
}

func loadAnalyticsSettings(ctx *cartridge.Context) (settings.Analytics, error) {
	if store, ok := middleware.AnalyticsStore(ctx.Ctx); ok {
		return wrapSettingsErr(store.Get())
	}
	db := ctx.DB()
	if db == nil {
		return settings.Analytics{}, analytics.ErrNotConfigured
	}
	return wrapSettingsErr(settings.LoadAnalytics(db))
}

func saveToggles(ctx *cartridge.Context, excludeBots, excludeShort *bool) error {
	if store, ok := middleware.AnalyticsStore(ctx.Ctx); ok {
		return asStoreError("save toggles", store.SaveToggles(excludeBots, excludeShort))
	}
	if ctx.DB() == nil {
		return analytics.ErrNotConfigured
	}
	return asStoreError("save toggles", settings.SaveToggles(ctx.DB(), excludeBots, excludeShort))
}

func saveIPFilter(ctx *cartridge.Context, filter settings.IPFilter) error {
	if store, ok := middleware.AnalyticsStore(ctx.Ctx); ok {
		return asStoreError("save ip filter", store.SaveIPFilter(filter))
	}
	if ctx.DB() == nil {
		return analytics.ErrNotConfigured
	}
	return asStoreError("save ip filter", settings.SaveIPFilter(ctx.DB(), filter))
}

func wrapSettingsErr(a settings.Analytics, err error) (settings.Analytics, error) {
	return a, asStoreError("load settings", err)
}

func asStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	var storeErr *analytics.StoreError
	if errors.As(err, &storeErr) {
		return err
	}
	return &analytics.StoreError{Op: op, Err: err}
}

// respondError writes {"error": msg} with the status the error maps to.
func respondError(ctx *cartridge.Context, err error) error {
	status := analytics.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		ctx.Logger.Error("Admin analytics request failed",
			slog.String("path", ctx.Path()),
			slog.Int("status", status),
			slog.Any("error", err))
	}
	return ctx.Status(status).JSON(fiber.Map{"error": err.Error()})
}
