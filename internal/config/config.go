// Package config loads folio settings from FOLIO_* variables and .env.
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

const (
	defaultPrivateKey = "88888888888888888888888888888888"
	// DefaultIPSalt keeps hashes stable when no salt is configured.
	DefaultIPSalt = "folio-analytics-v1"
)

// Config holds every runtime setting. Each field is bound to a FOLIO_*
// environment variable through the keys table below.
type Config struct {
	AppName                    string   `mapstructure:"appname"`
	AppPort                    string   `mapstructure:"appport"`
	Environment                string   `mapstructure:"environment"`
	LogLevel                   LogLevel `mapstructure:"loglevel"`
	PrivateKey                 string   `mapstructure:"privatekey"`
	SessionTimeoutSeconds      int      `mapstructure:"sessiontimeout"`
	LoginSessionTimeoutSeconds int      `mapstructure:"loginsessiontimeout"`
	Timezone                   string   `mapstructure:"timezone"`

	DatabasePath          string `mapstructure:"storagepath"`
	DatabaseFile          string `mapstructure:"databasename"`
	DatabaseName          string `mapstructure:"-"` // resolved path, see GetDatabasePath
	GeoDBPath             string `mapstructure:"geodbpath"`
	GeoLiteLicenseKey     string `mapstructure:"geolitelicensekey"`
	PublicDirectory       string `mapstructure:"publicdir"`
	PublicAssetsUrlPrefix string `mapstructure:"assetsprefix"`

	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logmaxsizemb"`
	LogsMaxBackups   int    `mapstructure:"logmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logmaxagedays"`

	DatabaseMaxOpenConns int `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int `mapstructure:"dbmaxidleconns"`

	AnalyticsIPSalt   string `mapstructure:"analyticsipsalt"`
	AnalyticsPageSize int    `mapstructure:"analyticspagesize"`
	BotPatternsPath   string `mapstructure:"botpatternspath"`
	PurgeBatchSize    int    `mapstructure:"purgebatchsize"`
	MetricsEnabled    bool   `mapstructure:"metricsenabled"`

	CronSecret         string        `mapstructure:"cronsecret"`
	AdminTokenLifetime time.Duration `mapstructure:"admintokenttl"`

	RetentionJobEnabled  bool          `mapstructure:"retentionjobenabled"`
	RetentionJobInterval time.Duration `mapstructure:"retentionjobinterval"`
}

// key binds one Config field to its environment variable and default.
type key struct {
	name string
	env  string
	def  any
}

var keys = []key{
	{"appname", "APP_NAME", "folio"},
	{"appport", "APP_PORT", "3000"},
	{"environment", "ENV", Development},
	{"loglevel", "LOG_LEVEL", string(LogLevelDebug)},
	{"privatekey", "PRIVATE_KEY", defaultPrivateKey},
	{"sessiontimeout", "SESSION_TIMEOUT", 1800},
	{"loginsessiontimeout", "LOGIN_SESSION_TIMEOUT", 7 * 24 * 3600},
	{"timezone", "TIMEZONE", "UTC"},
	{"storagepath", "STORAGE_PATH", "storage"},
	{"databasename", "DATABASE_NAME", ""},
	{"geodbpath", "GEO_DB_PATH", "storage/GeoLite2-City.mmdb"},
	{"geolitelicensekey", "GEOLITE_LICENSE_KEY", ""},
	{"publicdir", "PUBLIC_DIRECTORY", "public"},
	{"assetsprefix", "ASSETS_PREFIX", "/"},
	{"logsdir", "LOGS_DIR", "logs"},
	{"logmaxsizemb", "LOG_MAX_SIZE_MB", 20},
	{"logmaxbackups", "LOG_MAX_BACKUPS", 10},
	{"logmaxagedays", "LOG_MAX_AGE_DAYS", 30},
	{"dbmaxopenconns", "DB_MAX_OPEN_CONNS", 0},
	{"dbmaxidleconns", "DB_MAX_IDLE_CONNS", 0},
	{"analyticsipsalt", "ANALYTICS_IP_SALT", DefaultIPSalt},
	{"analyticspagesize", "ANALYTICS_PAGE_SIZE", 20},
	{"botpatternspath", "BOT_PATTERNS_PATH", ""},
	{"purgebatchsize", "PURGE_BATCH_SIZE", 500},
	{"metricsenabled", "METRICS_ENABLED", true},
	{"cronsecret", "CRON_SECRET", ""},
	{"admintokenttl", "ADMIN_TOKEN_TTL", 12 * time.Hour},
	{"retentionjobenabled", "RETENTION_JOB_ENABLED", false},
	{"retentionjobinterval", "RETENTION_JOB_INTERVAL", 24 * time.Hour},
}

const envPrefix = "FOLIO_"

var (
	cfg  *Config
	once sync.Once
)

// GetConfig loads the configuration once per process.
func GetConfig() *Config {
	once.Do(func() {
		// A missing .env file is the normal case outside development.
		_ = godotenv.Load()

		v := viper.New()
		for _, k := range keys {
			v.SetDefault(k.name, k.def)
			if err := v.BindEnv(k.name, envPrefix+k.env); err != nil {
				log.Fatalf("config: bind %s: %v", k.env, err)
			}
		}

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("config: failed to unmarshal configuration: %v", err)
		}
		if err := cfg.validate(); err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}

		cfg.DatabaseName = cfg.GetDatabasePath()

		if cfg.IsProduction() && cfg.PrivateKey == defaultPrivateKey {
			log.Fatal("Production requires a unique FOLIO_PRIVATE_KEY (cannot use default)")
		}
		if cfg.IsProduction() && cfg.AnalyticsIPSalt == DefaultIPSalt {
			log.Println("config: FOLIO_ANALYTICS_IP_SALT is not set, using the default salt")
		}
	})
	return cfg
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	if c.AnalyticsPageSize <= 0 {
		return fmt.Errorf("analytics page size must be positive, got %d", c.AnalyticsPageSize)
	}
	if c.PurgeBatchSize <= 0 {
		return fmt.Errorf("purge batch size must be positive, got %d", c.PurgeBatchSize)
	}
	if c.PrivateKey == "" {
		return fmt.Errorf("private key is required")
	}
	return nil
}

// GetDatabasePath returns the SQLite file path. DATABASE_NAME overrides the
// <app>-<env>.db file name; the file always lives under STORAGE_PATH.
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		file := c.DatabaseFile
		if file == "" {
			file = fmt.Sprintf("%s-%s.db", c.AppName, c.Environment)
		}
		c.DatabaseName = filepath.Join(c.DatabasePath, file)
	}
	return c.DatabaseName
}

// Location returns the reporting timezone. Falls back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// AdminTokenTTL returns how long an issued admin token stays valid.
func (c *Config) AdminTokenTTL() time.Duration {
	if c.AdminTokenLifetime <= 0 {
		return 12 * time.Hour
	}
	return c.AdminTokenLifetime
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// GetPort returns the HTTP server port (implements cartridge.Config interface).
func (c *Config) GetPort() string {
	return c.AppPort
}

// GetPublicDirectory returns the path to public/static assets (implements cartridge.Config interface).
func (c *Config) GetPublicDirectory() string {
	return c.PublicDirectory
}

// GetAssetsPrefix returns the URL prefix for static assets (implements cartridge.Config interface).
func (c *Config) GetAssetsPrefix() string {
	return c.PublicAssetsUrlPrefix
}

// GetAppName returns the application name (implements cartridge.FactoryConfig interface).
func (c *Config) GetAppName() string {
	return c.AppName
}

// DatabaseDSN returns the database connection string (implements cartridge.FactoryConfig interface).
func (c *Config) DatabaseDSN() string {
	return c.GetDatabasePath()
}

// GetSessionSecret returns the session encryption key (implements cartridge.FactoryConfig interface).
func (c *Config) GetSessionSecret() string {
	return c.PrivateKey
}

// GetSessionTimeout returns the visitor session timeout in seconds.
func (c *Config) GetSessionTimeout() int {
	return c.SessionTimeoutSeconds
}

// GetLoginSessionTimeout returns the login session timeout in seconds.
func (c *Config) GetLoginSessionTimeout() int {
	return c.LoginSessionTimeoutSeconds
}

// GetMaxOpenConns defaults to a single connection under test.
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}

	if c.Environment == Test {
		return 1
	}

	return 10
}

func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}

	if c.Environment == Test {
		return 1
	}

	return 5
}

// GetLogLevel returns the log level as a string (implements cartridge.LogConfigProvider).
func (c *Config) GetLogLevel() string {
	return string(c.LogLevel)
}

// GetLogDirectory returns the logs directory (implements cartridge.LogConfigProvider).
func (c *Config) GetLogDirectory() string {
	return c.LogsDirectory
}

// GetLogMaxSizeMB returns the max log file size in MB (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxSizeMB() int {
	return c.LogsMaxSizeInMb
}

// GetLogMaxBackups returns the max number of log backups (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxBackups() int {
	return c.LogsMaxBackups
}

// GetLogMaxAgeDays returns the max age in days for log files (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxAgeDays() int {
	return c.LogsMaxAgeInDays
}

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}
