package analytics

import (
	"time"

	"gorm.io/gorm"

	"folio/internal/timeframe"
)

// RetentionState is where a session stands with respect to purging.
// Transitions only move forward: active, purgeable, deleted.
type RetentionState string

const (
	RetentionActive    RetentionState = "active"
	RetentionPurgeable RetentionState = "purgeable"
	RetentionDeleted   RetentionState = "deleted"
)

// RetentionStateOf classifies s at now. A nil session has been deleted.
// selected marks an explicit admin selection (hash, ip or bot purge).
func RetentionStateOf(s *Session, now time.Time, selected bool) RetentionState {
	if s == nil {
		return RetentionDeleted
	}
	if selected || s.CreatedAt.Before(timeframe.MonthsAgo(now, RetentionMonths)) {
		return RetentionPurgeable
	}
	return RetentionActive
}

// RetentionSummary counts sessions on each side of the default policy cutoff.
type RetentionSummary struct {
	Active    int64     `json:"active"`
	Purgeable int64     `json:"purgeable"`
	Cutoff    time.Time `json:"cutoff"`
}

func Retention(db *gorm.DB, now time.Time) (*RetentionSummary, error) {
	if db == nil {
		return nil, ErrNotConfigured
	}
	cutoff := timeframe.MonthsAgo(now, RetentionMonths).UTC()
	summary := &RetentionSummary{Cutoff: cutoff}

	if err := db.Model(&Session{}).Where("created_at < ?", cutoff).Count(&summary.Purgeable).Error; err != nil {
		return nil, storeError("count purgeable sessions", err)
	}
	if err := db.Model(&Session{}).Where("created_at >= ?", cutoff).Count(&summary.Active).Error; err != nil {
		return nil, storeError("count active sessions", err)
	}
	return summary, nil
}
