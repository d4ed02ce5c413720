package analytics

import (
	"log/slog"
	"strings"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"folio/internal/config"
	"folio/internal/pkg/geoip"
	"folio/internal/pkg/metrics"
	"folio/internal/pkg/user_agent"
	"folio/internal/visitors"
)

// CollectInput is the collector payload plus what the request itself tells
// us about the visitor.
type CollectInput struct {
	SessionID       string    `json:"session_id"`
	EventType       EventType `json:"event_type"`
	Path            string    `json:"path"`
	ElementID       *string   `json:"element_id"`
	Duration        *float64  `json:"duration"`
	Referrer        *string   `json:"referrer"`
	IsAuthenticated bool      `json:"is_authenticated"`
	Device          *string   `json:"device"`
	OS              *string   `json:"os"`
	Browser         *string   `json:"browser"`

	IP        string `json:"-"`
	UserAgent string `json:"-"`
	Country   string `json:"-"`
	City      string `json:"-"`
}

// Validate checks the required fields.
func (in *CollectInput) Validate() error {
	if strings.TrimSpace(in.SessionID) == "" || in.EventType == "" || in.Path == "" {
		return badRequest("session_id, event_type, path required")
	}
	if !in.EventType.Valid() {
		return badRequest("invalid event_type")
	}
	return nil
}

// Collector stores events and upserts their sessions.
type Collector struct {
	hasher  visitors.IPHasher
	locator geoip.Locator
	now     func() time.Time
}

func NewCollector(cfg *config.Config, locator geoip.Locator) *Collector {
	if locator == nil {
		locator = geoip.DefaultLocator
	}
	return &Collector{
		hasher:  visitors.NewIPHasher(cfg.AnalyticsIPSalt),
		locator: locator,
		now:     time.Now,
	}
}

// Collect writes one event. Authenticated traffic is accepted and dropped.
func (c *Collector) Collect(dbManager cartridge.DBManager, logger *slog.Logger, input *CollectInput) error {
	return c.CollectAt(dbManager, logger, input, c.now())
}

// CollectAt is Collect with an explicit receive time, for backfills.
func (c *Collector) CollectAt(dbManager cartridge.DBManager, logger *slog.Logger, input *CollectInput, at time.Time) error {
	if input.IsAuthenticated {
		return nil
	}
	if err := input.Validate(); err != nil {
		return err
	}

	db := dbManager.GetConnection()
	if db == nil {
		return ErrNotConfigured
	}

	now := at.UTC()
	session := c.buildSession(input, now)

	if err := upsertSession(db, logger, session); err != nil {
		return err
	}

	event := &Event{
		SessionID: session.SessionID,
		EventType: input.EventType,
		Path:      input.Path,
		ElementID: input.ElementID,
		Duration:  input.Duration,
		Metadata:  "{}",
		CreatedAt: now,
	}
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Create(event).Error
	})
	if err != nil {
		logger.Error("Failed to store analytics event",
			slog.String("session_id", session.SessionID),
			slog.Any("error", err))
		return storeError("insert event", err)
	}

	metrics.RecordEvent(string(input.EventType))
	return nil
}

func (c *Collector) buildSession(input *CollectInput, now time.Time) *Session {
	ip := strings.TrimSpace(input.IP)
	country, city := strings.TrimSpace(input.Country), strings.TrimSpace(input.City)
	if (country == "" || city == "") && ip != "" {
		if loc, ok := c.locator.Locate(ip); ok {
			if country == "" {
				country = loc.Country
			}
			if city == "" {
				city = loc.City
			}
		}
	}

	session := &Session{
		SessionID: strings.TrimSpace(input.SessionID),
		Country:   orDefault(country, UnknownLocation),
		City:      orDefault(city, UnknownLocation),
		Referrer:  input.Referrer,
		UserAgent: input.UserAgent,
		Browser:   input.Browser,
		Device:    input.Device,
		OS:        input.OS,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if ip != "" {
		session.IPHash = c.hasher.Hash(ip)
		session.IP = &ip
	}

	if input.UserAgent != "" && (isBlank(session.Browser) || isBlank(session.Device) || isBlank(session.OS)) {
		parsed := user_agent.ParseUserAgent(input.UserAgent)
		if isBlank(session.Browser) {
			session.Browser = &parsed.Browser
		}
		if isBlank(session.Device) {
			session.Device = &parsed.Device
		}
		if isBlank(session.OS) {
			session.OS = &parsed.OS
		}
	}
	return session
}

var sessionUpdateColumns = []string{
	"ip_hash", "country", "city", "referrer", "user_agent",
	"browser", "device", "os", "is_authenticated", "updated_at",
}

// upsertSession inserts or refreshes the session row. A failure is retried
// once without the raw ip column.
func upsertSession(db *gorm.DB, logger *slog.Logger, session *Session) error {
	columns := sessionUpdateColumns
	if session.IP != nil {
		columns = append(append([]string{}, columns...), "ip")
	}

	first := *session
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		if first.IP == nil {
			tx = tx.Omit("ip")
		}
		return tx.Clauses(onSessionConflict(columns)).Create(&first).Error
	})
	if err == nil {
		return nil
	}

	logger.Warn("Session upsert failed, retrying without ip",
		slog.String("session_id", session.SessionID),
		slog.Any("error", err))
	metrics.SessionUpsertRetriesTotal.Inc()

	retry := *session
	retry.IP = nil
	err = sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Omit("ip").Clauses(onSessionConflict(sessionUpdateColumns)).Create(&retry).Error
	})
	if err != nil {
		logger.Error("Session upsert retry failed",
			slog.String("session_id", session.SessionID),
			slog.Any("error", err))
		return storeError("upsert session", err)
	}
	return nil
}

func onSessionConflict(columns []string) clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func isBlank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}
