package http

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/cache"

	"folio/internal/analytics"
	"folio/internal/botpolicy"
	"folio/internal/config"
	"folio/internal/jobs"
	"folio/internal/pkg/geoip"
)

// SystemHealthAction reports the state of the optional subsystems: the geo
// database and the bot policy.
func SystemHealthAction(ctx *cartridge.Context) error {
	cfg := config.GetConfig()
	db := ctx.DB()

	_, statErr := os.Stat(cfg.GeoDBPath)
	geoDBExists := statErr == nil
	geoConfigured := cfg.GeoLiteLicenseKey != ""
	geoError := jobs.LastGeoLiteError(db)

	var lastUpdate *time.Time
	if t := jobs.LastGeoLiteUpdate(db); !t.IsZero() {
		lastUpdate = &t
	}

	var warning string
	switch {
	case geoConfigured && !geoDBExists && geoError != "":
		warning = "GeoLite database download failed"
	case geoConfigured && !geoDBExists:
		warning = "GeoLite database not yet downloaded"
	}

	resp := fiber.Map{
		"healthy":             warning == "",
		"warning":             warning,
		"geolite_configured":  geoConfigured,
		"geolite_db_exists":   geoDBExists,
		"geolite_db_loaded":   geoip.GetGeoDB() != nil,
		"geolite_last_update": lastUpdate,
		"geolite_error":       geoError,
		"bot_policy_file":     cfg.BotPatternsPath,
	}
	if sized, ok := botpolicy.Current().(interface{ Size() (int, int) }); ok {
		patterns, regexes := sized.Size()
		resp["bot_patterns"] = patterns
		resp["bot_regexes"] = regexes
	}
	return ctx.JSON(resp)
}

// SystemPurgeCacheAction drops every cached settings row.
func SystemPurgeCacheAction(ctx *cartridge.Context) error {
	db := ctx.DB()
	if db == nil {
		return respondError(ctx, analytics.ErrNotConfigured)
	}

	rowsAffected, err := cache.PurgeAllCaches(db)
	if err != nil {
		return respondError(ctx, &analytics.StoreError{Op: "purge caches", Err: err})
	}

	ctx.Logger.Info("Caches purged successfully", slog.Int64("rows_deleted", rowsAffected))
	return ctx.JSON(fiber.Map{"ok": true, "count": rowsAffected})
}

// SystemGeoLiteDownloadAction starts a GeoLite refresh in the background.
func SystemGeoLiteDownloadAction(ctx *cartridge.Context) error {
	cfg := config.GetConfig()
	if cfg.GeoLiteLicenseKey == "" {
		return respondError(ctx, &analytics.BadRequestError{Message: "GeoLite license key not configured"})
	}

	job := jobs.NewGeoLiteUpdaterJob(ctx.DBManager, ctx.Logger, cfg)
	logger := ctx.Logger
	go func() {
		runCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := job.Run(runCtx); err != nil {
			logger.Error("Manual GeoLite download failed", slog.Any("error", err))
		}
	}()

	ctx.Logger.Info("Manual GeoLite database download triggered")
	return ctx.Status(fiber.StatusAccepted).JSON(fiber.Map{"ok": true})
}

// SystemExportDatabaseAction streams the SQLite file as a backup.
func SystemExportDatabaseAction(ctx *cartridge.Context) error {
	cfg := config.GetConfig()
	dbPath := cfg.GetDatabasePath()

	file, err := os.Open(dbPath)
	if os.IsNotExist(err) {
		ctx.Logger.Error("Database file not found", slog.String("path", dbPath))
		return ctx.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Database file not found"})
	} else if err != nil {
		return respondError(ctx, fmt.Errorf("failed to read database file: %w", err))
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return respondError(ctx, fmt.Errorf("failed to get database file info: %w", err))
	}

	ctx.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	ctx.Set(fiber.HeaderContentDisposition, "attachment; filename="+cfg.AppName+"-backup.db")
	ctx.Set(fiber.HeaderContentLength, strconv.FormatInt(fileInfo.Size(), 10))

	ctx.Logger.Info("Database exported", slog.String("path", dbPath), slog.Int64("size", fileInfo.Size()))

	if _, err := io.Copy(ctx.Response().BodyWriter(), file); err != nil {
		ctx.Logger.Error("Failed to stream database file", slog.Any("error", err))
		return err
	}
	return nil
}
