// Package internal wires the folio application together.
package internal

import (
	"fmt"
	"log/slog"

	"github.com/karloscodes/cartridge"

	"folio/internal/botpolicy"
	"folio/internal/config"
	"folio/internal/database"
	"folio/internal/jobs"
	"folio/internal/pkg/geoip"
)

// Application wraps cartridge.Application with the folio DB manager.
type Application struct {
	*cartridge.Application
	DBManager *database.DBManager
	Logger    *slog.Logger
}

// NewServerConfig returns the cartridge server settings folio runs with.
// The global Sec-Fetch-Site check is off: it runs before any per-route
// opt-out, and admin callers are scripts holding bearer tokens that never
// send the header. The collector attaches its own check instead.
func NewServerConfig() *cartridge.ServerConfig {
	cfg := cartridge.DefaultServerConfig()
	cfg.EnableSecFetchSite = false
	return cfg
}

// NewApp creates a new application instance with default settings
func NewApp() (*Application, error) {
	return NewAppWithConfig(config.GetConfig())
}

// NewAppWithConfig creates a new application with the provided config
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	return NewAppWithRoutes(cfg, MountAppRoutes)
}

// NewAppWithRoutes creates a new application with a custom route mount
// function.
func NewAppWithRoutes(cfg *config.Config, routeMount func(*cartridge.Server)) (*Application, error) {
	logger := cartridge.NewLogger(cfg, nil)

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// The collector falls back to edge headers without it.
	geoip.InitLogger(logger)
	geoip.InitGeoDB()

	workers := []cartridge.BackgroundWorker{jobs.NewScheduler(dbManager, logger, cfg)}
	if cfg.BotPatternsPath != "" {
		workers = append(workers, botpolicy.NewWatcher(cfg.BotPatternsPath, logger))
	} else {
		logger.Debug("Using embedded bot patterns")
	}

	app, err := cartridge.NewApplication(cartridge.ApplicationOptions{
		Config:            cfg,
		Logger:            logger,
		DBManager:         dbManager,
		ServerConfig:      NewServerConfig(),
		RouteMountFunc:    routeMount,
		BackgroundWorkers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return &Application{
		Application: app,
		DBManager:   dbManager,
		Logger:      logger,
	}, nil
}
