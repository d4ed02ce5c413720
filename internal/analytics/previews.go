package analytics

import (
	"slices"

	"gorm.io/gorm"

	"folio/internal/botpolicy"
)

// BotHashes lists the distinct hashed IPs of sessions whose user agent the
// policy classifies as a bot, over all time.
func BotHashes(db *gorm.DB, policy botpolicy.Policy) ([]string, error) {
	if db == nil {
		return nil, ErrNotConfigured
	}
	if policy == nil {
		policy = botpolicy.Current()
	}

	var rows []struct {
		IPHash    string
		UserAgent string
	}
	if err := db.Model(&Session{}).Select("ip_hash", "user_agent").Where("ip_hash <> ''").Find(&rows).Error; err != nil {
		return nil, storeError("load sessions", err)
	}

	seen := make(map[string]bool)
	hashes := []string{}
	for _, row := range rows {
		if seen[row.IPHash] || !policy.IsBot(row.UserAgent) {
			continue
		}
		seen[row.IPHash] = true
		hashes = append(hashes, row.IPHash)
	}
	slices.Sort(hashes)
	return hashes, nil
}

// ShortVisitHashes lists the distinct hashed IPs of sessions that have at
// least one event and where every event's duration is missing or under one
// second.
func ShortVisitHashes(db *gorm.DB) ([]string, error) {
	if db == nil {
		return nil, ErrNotConfigured
	}

	shortSessions := db.Model(&Event{}).
		Select("session_id").
		Group("session_id").
		Having("SUM(CASE WHEN duration IS NULL OR duration < 1 THEN 0 ELSE 1 END) = 0")

	hashes := []string{}
	err := db.Model(&Session{}).
		Distinct("ip_hash").
		Where("ip_hash <> '' AND session_id IN (?)", shortSessions).
		Order("ip_hash ASC").
		Pluck("ip_hash", &hashes).Error
	if err != nil {
		return nil, storeError("load short visit hashes", err)
	}
	return hashes, nil
}
