// Package seeder fills a development database with plausible traffic.
package seeder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"

	"folio/internal/analytics"
	"folio/internal/config"
	"folio/internal/pkg/geoip"
	"folio/internal/users"
)

const (
	adminEmail    = "admin@example.com"
	adminPassword = "password"
	historyDays   = 120
)

// Seeder generates visits through the collector so the rows look exactly
// like collected traffic.
type Seeder struct {
	DBManager cartridge.DBManager
	Logger    *slog.Logger
	Visits    int

	collector *analytics.Collector
	rng       *rand.Rand
}

// NewSeeder creates a new seeder instance
func NewSeeder(dbManager cartridge.DBManager, logger *slog.Logger, cfg *config.Config, visits int) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{
		DBManager: dbManager,
		Logger:    logger,
		Visits:    visits,
		// Seeded IPs are random; looking them up would only produce noise.
		collector: analytics.NewCollector(cfg, geoip.LocatorFunc(func(string) (geoip.Location, bool) {
			return geoip.Location{}, false
		})),
		rng: rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
}

// Run seeds the admin user and s.Visits sessions spread over the last
// four months.
func (s *Seeder) Run(ctx context.Context) error {
	start := time.Now()
	s.Logger.Info("Starting database seeding...", slog.Int("visits", s.Visits))

	if _, err := s.seedUser(); err != nil {
		return fmt.Errorf("failed to seed user: %w", err)
	}

	events, err := s.seedVisits(ctx, time.Now())
	if err != nil {
		return err
	}

	s.Logger.Info("Seeding completed successfully",
		slog.Int("visits", s.Visits),
		slog.Int("events", events),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

func (s *Seeder) seedUser() (*users.User, error) {
	db := s.DBManager.GetConnection()
	user, err := users.FindByEmail(db, adminEmail)
	if err == nil {
		s.Logger.Info("Admin user already exists", slog.String("email", user.Email))
		return user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check for existing user: %w", err)
	}

	s.Logger.Info("Creating admin user", slog.String("email", adminEmail))
	if err := users.CreateAdminUser(db, adminEmail, adminPassword); err != nil {
		return nil, fmt.Errorf("failed to create admin user: %w", err)
	}
	return users.FindByEmail(db, adminEmail)
}

// journeyTemplates are the page sequences a visit follows.
var journeyTemplates = [][]string{
	{"/"},
	{"/", "/about", "/contact"},
	{"/", "/features", "/pricing", "/signup"},
	{"/", "/blog", "/blog/article-1"},
	{"/pricing", "/features", "/signup"},
	{"/", "/docs", "/docs/getting-started", "/docs/api-reference"},
	{"/blog/article-2"},
	{"/", "/projects", "/projects/folio"},
}

var clickTargets = []string{"cta-signup", "nav-pricing", "footer-github", ""}

var locations = []geoip.Location{
	{Country: "FR", City: "Paris"},
	{Country: "US", City: "New York"},
	{Country: "DE", City: "Berlin"},
	{Country: "BR", City: "São Paulo"},
	{Country: "JP", City: "Tokyo"},
	{},
}

func (s *Seeder) seedVisits(ctx context.Context, now time.Time) (int, error) {
	ipPool := s.ipPool(max(s.Visits/3, 1))
	agents := userAgents()
	refs := referrers()
	events := 0

	for visit := 0; visit < s.Visits; visit++ {
		if err := ctx.Err(); err != nil {
			return events, err
		}

		loc := locations[s.rng.IntN(len(locations))]
		base := analytics.CollectInput{
			SessionID: uuid.NewString(),
			IP:        ipPool[s.rng.IntN(len(ipPool))],
			UserAgent: agents[s.rng.IntN(len(agents))],
			Country:   loc.Country,
			City:      loc.City,
		}
		if ref := refs[s.rng.IntN(len(refs))]; ref != "" {
			base.Referrer = &ref
		}

		at := now.Add(-time.Duration(s.rng.Int64N(int64(historyDays * 24 * time.Hour))))
		journey := journeyTemplates[s.rng.IntN(len(journeyTemplates))]
		for i, path := range journey {
			input := base
			input.EventType = analytics.EventTypePageView
			input.Path = path
			input.Duration = s.duration(len(journey) == 1)
			if i > 0 {
				input.Referrer = nil
			}
			if err := s.collector.CollectAt(s.DBManager, s.Logger, &input, at); err != nil {
				return events, fmt.Errorf("failed to seed pageview: %w", err)
			}
			events++

			if s.rng.Float64() < 0.25 {
				click := base
				click.EventType = analytics.EventTypeClick
				click.Path = path
				if target := clickTargets[s.rng.IntN(len(clickTargets))]; target != "" {
					click.ElementID = &target
				}
				if err := s.collector.CollectAt(s.DBManager, s.Logger, &click, at.Add(2*time.Second)); err != nil {
					return events, fmt.Errorf("failed to seed click: %w", err)
				}
				events++
			}

			at = at.Add(time.Duration(10+s.rng.IntN(110)) * time.Second)
		}
	}
	return events, nil
}

// duration returns a pageview duration in seconds. Single-page visits are
// sometimes bounces under a second; a few views never report one.
func (s *Seeder) duration(single bool) *float64 {
	switch r := s.rng.Float64(); {
	case r < 0.1:
		return nil
	case single && r < 0.4:
		d := s.rng.Float64()
		return &d
	default:
		d := 1 + s.rng.Float64()*180
		return &d
	}
}

// ipPool creates a pool of unique IPv4 addresses
func (s *Seeder) ipPool(count int) []string {
	seen := make(map[string]bool, count)
	ips := make([]string, 0, count)
	for len(ips) < count {
		ip := fmt.Sprintf("%d.%d.%d.%d", s.rng.IntN(223)+1, s.rng.IntN(256), s.rng.IntN(256), s.rng.IntN(254)+1)
		if !seen[ip] {
			seen[ip] = true
			ips = append(ips, ip)
		}
	}
	return ips
}

func userAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
		"Googlebot/2.1 (+http://www.google.com/bot.html)",
		"curl/8.4.0",
	}
}

func referrers() []string {
	return []string{
		"", // direct
		"https://www.google.com/",
		"https://duckduckgo.com/",
		"https://news.ycombinator.com/",
		"https://github.com/",
		"https://www.linkedin.com/",
		"https://some-other-website.com/blog/post",
	}
}
