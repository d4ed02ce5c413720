package geoip

import (
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/oschwald/geoip2-golang"

	"folio/internal/config"
)

var (
	geoDB  *geoip2.Reader
	once   sync.Once
	mu     sync.RWMutex
	logger *slog.Logger
)

// Location is the result of a city lookup. Empty fields mean unknown.
type Location struct {
	Country string
	City    string
}

// Locator resolves an IP address to a location.
type Locator interface {
	Locate(ip string) (Location, bool)
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func(ip string) (Location, bool)

func (f LocatorFunc) Locate(ip string) (Location, bool) { return f(ip) }

// InitLogger sets the logger for the geoip package.
func InitLogger(l *slog.Logger) {
	logger = l
}

// InitGeoDB opens the GeoLite2 City database.
// Returns nil if the database is not configured or not found (GeoIP is optional).
func InitGeoDB() *geoip2.Reader {
	cfg := config.GetConfig()
	if cfg.GeoDBPath == "" {
		if logger != nil {
			logger.Debug("GeoIP database path not configured - GeoIP features disabled")
		}
		return nil
	}

	fileInfo, err := os.Stat(cfg.GeoDBPath)
	if os.IsNotExist(err) {
		if logger != nil {
			logger.Info("GeoLite2 database not found - falling back to platform headers",
				slog.String("path", cfg.GeoDBPath))
		}
		return nil
	} else if err != nil {
		if logger != nil {
			logger.Warn("Error checking GeoLite2 database file",
				slog.String("path", cfg.GeoDBPath),
				slog.Any("error", err))
		}
		return nil
	}

	db, err := geoip2.Open(cfg.GeoDBPath)
	if err != nil {
		if logger != nil {
			logger.Error("Failed to open GeoLite2 database",
				slog.String("path", cfg.GeoDBPath),
				slog.Any("error", err))
		}
		return nil
	}

	if logger != nil {
		logger.Info("GeoLite2 database initialized",
			slog.String("path", cfg.GeoDBPath),
			slog.Int64("size_bytes", fileInfo.Size()),
			slog.String("db_type", db.Metadata().DatabaseType))
	}
	return db
}

// GetGeoDB returns the GeoLite2 database reader, initializing it if necessary.
func GetGeoDB() *geoip2.Reader {
	once.Do(func() {
		mu.Lock()
		geoDB = InitGeoDB()
		mu.Unlock()
	})
	mu.RLock()
	defer mu.RUnlock()
	return geoDB
}

// ReloadGeoDB reopens the database after a download replaced the file.
func ReloadGeoDB() {
	once.Do(func() {})

	mu.Lock()
	defer mu.Unlock()

	if geoDB != nil {
		geoDB.Close()
	}
	geoDB = InitGeoDB()

	if geoDB != nil && logger != nil {
		logger.Info("GeoLite2 database reloaded successfully")
	}
}

// Lookup resolves ip against the shared database.
func Lookup(ip string) (Location, bool) {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.IsLoopback() || parsed.IsPrivate() {
		return Location{}, false
	}

	db := GetGeoDB()
	if db == nil {
		return Location{}, false
	}

	mu.RLock()
	defer mu.RUnlock()
	record, err := db.City(parsed)
	if err != nil {
		if logger != nil {
			logger.Debug("GeoIP lookup failed", slog.String("ip", ip), slog.Any("error", err))
		}
		return Location{}, false
	}

	loc := Location{Country: record.Country.IsoCode, City: record.City.Names["en"]}
	if loc.Country == "" && loc.City == "" {
		return Location{}, false
	}
	return loc, true
}

// DefaultLocator looks addresses up in the shared GeoLite2 database.
var DefaultLocator Locator = LocatorFunc(Lookup)
