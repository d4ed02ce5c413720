package settings

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/karloscodes/cartridge/cache"
	"github.com/tidwall/gjson"
	"gorm.io/gorm"
)

// Analytics settings keys
const (
	KeyIPFilter           = "analytics_ip_filter"
	KeyExcludeBots        = "analytics_exclude_bots"
	KeyExcludeShortVisits = "analytics_exclude_short_visits"
)

const analyticsCacheKey = "analytics"

// IPFilter is the site-wide include/exclude policy applied to sessions.
type IPFilter struct {
	Include       []string `json:"include"`
	Exclude       []string `json:"exclude"`
	ExcludeHashes []string `json:"excludeHashes"`
}

// Analytics is the typed view over the three analytics rows.
type Analytics struct {
	Filter             IPFilter  `json:"filter"`
	ExcludeBots        bool      `json:"excludeBots"`
	ExcludeShortVisits bool      `json:"excludeShortVisits"`
	Version            int       `json:"version"`
	UpdatedAt          time.Time `json:"updatedAt,omitempty"`
}

// DefaultAnalytics excludes bots and short visits and restricts no IPs.
func DefaultAnalytics() Analytics {
	return Analytics{
		Filter:             IPFilter{Include: []string{}, Exclude: []string{}, ExcludeHashes: []string{}},
		ExcludeBots:        true,
		ExcludeShortVisits: true,
	}
}

// DecodeIPFilter reads a filter document leniently: anything that is not an
// array of strings is treated as empty.
func DecodeIPFilter(raw string) IPFilter {
	return IPFilter{
		Include:       StringList(raw, "include"),
		Exclude:       StringList(raw, "exclude"),
		ExcludeHashes: StringList(raw, "excludeHashes"),
	}
}

// StringList reads the string array at path, trimmed and de-duplicated.
// Non-arrays and non-string entries are ignored.
func StringList(raw, path string) []string {
	out := []string{}
	if !gjson.Valid(raw) {
		return out
	}
	result := gjson.Get(raw, path)
	if !result.IsArray() {
		return out
	}
	seen := make(map[string]bool)
	for _, item := range result.Array() {
		if item.Type != gjson.String {
			continue
		}
		value := strings.TrimSpace(item.Str)
		if value == "" || seen[value] {
			continue
		}
		seen[value] = true
		out = append(out, value)
	}
	return out
}

// toggle is true unless the stored value is literally false.
func toggle(raw, path string) bool {
	return gjson.Get(raw, path).Type != gjson.False
}

// LoadAnalytics reads the analytics rows, applying defaults for missing keys.
func LoadAnalytics(dbConn *gorm.DB) (Analytics, error) {
	rows, err := GetSettings(dbConn, KeyIPFilter, KeyExcludeBots, KeyExcludeShortVisits)
	if err != nil {
		return Analytics{}, err
	}

	a := DefaultAnalytics()
	for _, row := range rows {
		switch row.Key {
		case KeyIPFilter:
			a.Filter = DecodeIPFilter(row.Value)
		case KeyExcludeBots:
			a.ExcludeBots = toggle(row.Value, "excludeBots")
		case KeyExcludeShortVisits:
			a.ExcludeShortVisits = toggle(row.Value, "excludeShortVisits")
		}
		if row.Version > a.Version {
			a.Version = row.Version
		}
		if row.UpdatedAt.After(a.UpdatedAt) {
			a.UpdatedAt = row.UpdatedAt
		}
	}
	return a, nil
}

// SaveIPFilter replaces the stored filter.
func SaveIPFilter(dbConn *gorm.DB, filter IPFilter) error {
	if filter.Include == nil {
		filter.Include = []string{}
	}
	if filter.Exclude == nil {
		filter.Exclude = []string{}
	}
	if filter.ExcludeHashes == nil {
		filter.ExcludeHashes = []string{}
	}
	value, err := json.Marshal(filter)
	if err != nil {
		return fmt.Errorf("failed to marshal ip filter: %w", err)
	}
	return PutSetting(dbConn, KeyIPFilter, string(value))
}

// SaveToggles writes whichever toggles are non-nil.
func SaveToggles(dbConn *gorm.DB, excludeBots, excludeShortVisits *bool) error {
	values := make(map[string]string)
	if excludeBots != nil {
		value, _ := json.Marshal(map[string]bool{"excludeBots": *excludeBots})
		values[KeyExcludeBots] = string(value)
	}
	if excludeShortVisits != nil {
		value, _ := json.Marshal(map[string]bool{"excludeShortVisits": *excludeShortVisits})
		values[KeyExcludeShortVisits] = string(value)
	}
	return PutSettings(dbConn, values)
}

// AnalyticsStore serves the analytics settings through a short-lived cache
// that is cleared on every write.
type AnalyticsStore struct {
	db    *gorm.DB
	cache *cache.Cache[string, Analytics]
}

func NewAnalyticsStore(dbConn *gorm.DB, logger *slog.Logger) *AnalyticsStore {
	fetch := func(string) (Analytics, error) {
		return LoadAnalytics(dbConn)
	}
	return &AnalyticsStore{
		db:    dbConn,
		cache: cache.NewCache[string, Analytics](logger, 30*time.Second, fetch),
	}
}

func (s *AnalyticsStore) Get() (Analytics, error) {
	return s.cache.Get(analyticsCacheKey)
}

func (s *AnalyticsStore) SaveIPFilter(filter IPFilter) error {
	defer s.cache.Clear()
	return SaveIPFilter(s.db, filter)
}

func (s *AnalyticsStore) SaveToggles(excludeBots, excludeShortVisits *bool) error {
	defer s.cache.Clear()
	return SaveToggles(s.db, excludeBots, excludeShortVisits)
}
