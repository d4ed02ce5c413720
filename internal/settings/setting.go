// Package settings stores site-wide configuration as key/value rows and
// exposes typed views over the rows the analytics pipeline reads.
package settings

import (
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// Setting represents a configuration item in the database
type Setting struct {
	ID        uint      `gorm:"primaryKey"`
	Key       string    `gorm:"uniqueIndex;not null"`
	Value     string    `gorm:"not null"`
	Version   int       `gorm:"not null;default:1"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:milli"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:milli"`
}

// ErrSettingNotFound is returned when a key has never been written.
var ErrSettingNotFound = gorm.ErrRecordNotFound

// GetSetting retrieves a setting row from the database
func GetSetting(dbConn *gorm.DB, key string) (*Setting, error) {
	var setting Setting
	if err := dbConn.Where("key = ?", key).First(&setting).Error; err != nil {
		return nil, err
	}
	return &setting, nil
}

// GetSettings loads the rows for the given keys, indexed by key. Missing
// keys are simply absent from the map.
func GetSettings(dbConn *gorm.DB, keys ...string) (map[string]Setting, error) {
	var rows []Setting
	if err := dbConn.Where("key IN ?", keys).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	out := make(map[string]Setting, len(rows))
	for _, row := range rows {
		out[row.Key] = row
	}
	return out, nil
}

// PutSetting creates the row or replaces its value, bumping the version.
func PutSetting(dbConn *gorm.DB, key string, value string) error {
	return PutSettings(dbConn, map[string]string{key: value})
}

// PutSettings writes several keys in one transaction.
func PutSettings(dbConn *gorm.DB, values map[string]string) error {
	if len(values) == 0 {
		return errors.New("no settings to write")
	}
	now := time.Now().UTC()
	return sqlite.PerformWrite(slog.Default(), dbConn, func(tx *gorm.DB) error {
		for key, value := range values {
			err := tx.Exec(`
                INSERT INTO settings (key, value, version, created_at, updated_at)
                VALUES (?, ?, 1, ?, ?)
                ON CONFLICT(key) DO UPDATE SET
                    value = excluded.value,
                    version = settings.version + 1,
                    updated_at = excluded.updated_at
            `, key, value, now, now).Error
			if err != nil {
				slog.Default().Error("Failed to upsert setting", slog.String("key", key), slog.Any("error", err))
				return fmt.Errorf("failed to upsert setting %s: %w", key, err)
			}
		}
		return nil
	})
}
