package jobs

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/gorm"

	"folio/internal/config"
	"folio/internal/pkg/geoip"
	"folio/internal/settings"
)

const (
	// GeoLite database is updated weekly by MaxMind
	GeoLiteUpdateInterval = 7 * 24 * time.Hour
	// MaxMind download URL template
	MaxMindDownloadURL = "https://download.maxmind.com/app/geoip_download?edition_id=GeoLite2-City&license_key=%s&suffix=tar.gz"

	KeyGeoLiteLastUpdate    = "geolite_last_update"
	KeyGeoLiteDownloadError = "geolite_download_error"
)

// GeoLiteUpdaterJob refreshes the city database the collector falls back
// to when no edge geo headers are present.
type GeoLiteUpdaterJob struct {
	dbManager ConnectionProvider
	logger    *slog.Logger
	cfg       *config.Config

	client      *http.Client
	downloadURL string
}

func NewGeoLiteUpdaterJob(dbManager ConnectionProvider, logger *slog.Logger, cfg *config.Config) *GeoLiteUpdaterJob {
	return &GeoLiteUpdaterJob{
		dbManager:   dbManager,
		logger:      logger,
		cfg:         cfg,
		client:      &http.Client{Timeout: 5 * time.Minute},
		downloadURL: MaxMindDownloadURL,
	}
}

// Run downloads a fresh database when the last one is a week old.
func (j *GeoLiteUpdaterJob) Run(ctx context.Context) error {
	if j.cfg.GeoLiteLicenseKey == "" {
		j.logger.Debug("GeoLite license key not configured, skipping update")
		return nil
	}
	db := j.dbManager.GetConnection()

	lastUpdate := LastGeoLiteUpdate(db)
	if time.Since(lastUpdate) < GeoLiteUpdateInterval && j.databaseExists() {
		j.logger.Debug("GeoLite database is up to date",
			slog.Time("last_update", lastUpdate))
		return nil
	}

	j.logger.Info("Starting GeoLite database update", slog.Time("last_update", lastUpdate))
	if err := j.downloadAndUpdate(ctx); err != nil {
		if db != nil {
			_ = settings.PutSetting(db, KeyGeoLiteDownloadError, err.Error())
		}
		return fmt.Errorf("geolite update: %w", err)
	}

	// Swap the in-memory reader so lookups see the new file.
	geoip.ReloadGeoDB()

	if db != nil {
		if err := settings.PutSettings(db, map[string]string{
			KeyGeoLiteLastUpdate:    time.Now().UTC().Format(time.RFC3339),
			KeyGeoLiteDownloadError: "",
		}); err != nil {
			j.logger.Error("Failed to record GeoLite update", slog.Any("error", err))
		}
	}

	j.logger.Info("GeoLite database updated successfully")
	return nil
}

func (j *GeoLiteUpdaterJob) databaseExists() bool {
	_, err := os.Stat(j.cfg.GeoDBPath)
	return err == nil
}

// LastGeoLiteUpdate returns when the database was last refreshed, or the
// zero time.
func LastGeoLiteUpdate(db *gorm.DB) time.Time {
	if db == nil {
		return time.Time{}
	}
	setting, err := settings.GetSetting(db, KeyGeoLiteLastUpdate)
	if err != nil || setting.Value == "" {
		return time.Time{}
	}
	lastUpdate, err := time.Parse(time.RFC3339, setting.Value)
	if err != nil {
		return time.Time{}
	}
	return lastUpdate
}

// LastGeoLiteError returns the message of the last failed download, if any.
func LastGeoLiteError(db *gorm.DB) string {
	if db == nil {
		return ""
	}
	setting, err := settings.GetSetting(db, KeyGeoLiteDownloadError)
	if err != nil {
		return ""
	}
	return setting.Value
}

func (j *GeoLiteUpdaterJob) downloadAndUpdate(ctx context.Context) error {
	geoDBPath := j.cfg.GeoDBPath
	if geoDBPath == "" {
		geoDBPath = filepath.Join(j.cfg.DatabasePath, "GeoLite2-City.mmdb")
	}
	if err := os.MkdirAll(filepath.Dir(geoDBPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(j.downloadURL, j.cfg.GeoLiteLicenseKey), nil)
	if err != nil {
		return fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := j.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download GeoLite database: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	// Extract next to the target and rename so readers never see a torn file.
	tmpPath := geoDBPath + ".tmp"
	if err := extractMMDB(resp.Body, tmpPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to extract database: %w", err)
	}
	return os.Rename(tmpPath, geoDBPath)
}

// extractMMDB writes the first .mmdb entry of a tar.gz stream to destPath.
func extractMMDB(r io.Reader, destPath string) error {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return errors.New("no .mmdb file found in archive")
		}
		if err != nil {
			return fmt.Errorf("failed to read tar: %w", err)
		}
		if !strings.HasSuffix(header.Name, ".mmdb") {
			continue
		}

		outFile, err := os.Create(destPath)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		if _, err := io.Copy(outFile, tr); err != nil {
			outFile.Close()
			return fmt.Errorf("failed to extract file: %w", err)
		}
		return outFile.Close()
	}
}
