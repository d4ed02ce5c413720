package analytics

import (
	"cmp"
	"math"
	"slices"
	"time"

	"gorm.io/gorm"

	"folio/internal/botpolicy"
	"folio/internal/pkg/referrers"
	"folio/internal/settings"
	"folio/internal/timeframe"
	"folio/internal/visitors"
)

// DefaultPerPage is the page size of every ranked list.
const DefaultPerPage = 20

// lookupChunk bounds the number of bound parameters in one IN (...) query.
const lookupChunk = 500

type ContentRow struct {
	Path        string `json:"path"`
	Count       int    `json:"count"`
	AvgDuration int    `json:"avgDuration"`
}

type GeoRow struct {
	Country     string `json:"country"`
	CountryName string `json:"countryName"`
	City        string `json:"city"`
	Count       int    `json:"count"`
}

type NamedCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type ClickRow struct {
	ElementID string `json:"elementId"`
	Count     int    `json:"count"`
}

type SourceRow struct {
	Source     string `json:"source"`
	SourceName string `json:"sourceName"`
	Browser    string `json:"browser"`
	Count      int    `json:"count"`
}

type VisitorRow struct {
	IPHash       string  `json:"ip_hash"`
	Alias        string  `json:"alias"`
	IP           *string `json:"ip"`
	Country      string  `json:"country"`
	City         string  `json:"city"`
	SessionCount int     `json:"sessionCount"`
}

// Totals holds the unpaginated row count of each ranked list.
type Totals struct {
	TopContents int `json:"topContents"`
	Geography   int `json:"geography"`
	ByCountry   int `json:"byCountry"`
	ByCity      int `json:"byCity"`
	TopClicks   int `json:"topClicks"`
	BySource    int `json:"bySource"`
	Visitors    int `json:"visitors"`
}

type Period struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// EffectiveSettings are the toggles a report was computed with.
type EffectiveSettings struct {
	ExcludeBots        bool `json:"excludeBots"`
	ExcludeShortVisits bool `json:"excludeShortVisits"`
}

// Report is the dashboard aggregate bundle for one window and page.
type Report struct {
	UniqueVisitors     int               `json:"uniqueVisitors"`
	TotalViews         int               `json:"totalViews"`
	AvgDurationSeconds int               `json:"avgDurationSeconds"`
	BounceRate         int               `json:"bounceRate"`
	PagesPerVisit      float64           `json:"pagesPerVisit"`
	TopContents        []ContentRow      `json:"topContents"`
	Geography          []GeoRow          `json:"geography"`
	ByCountry          []NamedCount      `json:"byCountry"`
	ByCity             []NamedCount      `json:"byCity"`
	TopClicks          []ClickRow        `json:"topClicks"`
	BySource           []SourceRow       `json:"bySource"`
	Visitors           []VisitorRow      `json:"visitors"`
	Totals             Totals            `json:"totals"`
	Filter             settings.IPFilter `json:"filter"`
	Settings           EffectiveSettings `json:"settings"`
	Period             Period            `json:"period"`
	Page               int               `json:"page"`
	PerPage            int               `json:"perPage"`
}

// ReportParams selects the window, page and filtering of a report.
type ReportParams struct {
	Window   *timeframe.Window
	Page     int
	PerPage  int
	Settings settings.Analytics
	Hasher   visitors.IPHasher
	Policy   botpolicy.Policy

	// Per-request overrides of the stored toggles.
	ExcludeBots        *bool
	ExcludeShortVisits *bool
}

// BuildReport loads the window's sessions and their events and recomputes
// every metric from scratch.
func BuildReport(db *gorm.DB, params ReportParams) (*Report, error) {
	if db == nil {
		return nil, ErrNotConfigured
	}
	if params.Window == nil {
		return nil, badRequest("window required")
	}

	from, to := params.Window.UTC()
	var sessions []Session
	err := db.Where("is_authenticated = ? AND created_at >= ? AND created_at < ?", false, from, to).
		Order("created_at ASC, id ASC").
		Find(&sessions).Error
	if err != nil {
		return nil, storeError("load sessions", err)
	}

	effective := params.Settings
	if params.ExcludeBots != nil {
		effective.ExcludeBots = *params.ExcludeBots
	}
	if params.ExcludeShortVisits != nil {
		effective.ExcludeShortVisits = *params.ExcludeShortVisits
	}

	retained := NewFilter(effective, params.Hasher, params.Policy).Apply(sessions)

	ids := make([]string, len(retained))
	for i := range retained {
		ids[i] = retained[i].SessionID
	}
	events, err := loadEvents(db, ids)
	if err != nil {
		return nil, err
	}

	report := Aggregate(retained, events, AggregateOptions{
		ExcludeShortVisits: effective.ExcludeShortVisits,
		Page:               params.Page,
		PerPage:            params.PerPage,
	})
	report.Filter = effective.Filter
	report.Settings = EffectiveSettings{
		ExcludeBots:        effective.ExcludeBots,
		ExcludeShortVisits: effective.ExcludeShortVisits,
	}
	report.Period = Period{From: params.Window.From, To: params.Window.To}
	return report, nil
}

func loadEvents(db *gorm.DB, sessionIDs []string) ([]Event, error) {
	var events []Event
	for _, ids := range chunk(sessionIDs, lookupChunk) {
		var batch []Event
		if err := db.Where("session_id IN ?", ids).Order("id ASC").Find(&batch).Error; err != nil {
			return nil, storeError("load events", err)
		}
		events = append(events, batch...)
	}
	return events, nil
}

// AggregateOptions controls the in-memory aggregation.
type AggregateOptions struct {
	ExcludeShortVisits bool
	Page               int
	PerPage            int
}

// IsShortVisit reports an event with a recorded duration under one second.
// Events without a duration are clicks or views still in progress.
func IsShortVisit(e *Event) bool {
	return e.Duration != nil && *e.Duration < 1
}

// Aggregate computes the bundle over already-filtered sessions. Sessions are
// expected in ascending creation order so first-seen values are stable.
func Aggregate(sessions []Session, events []Event, opts AggregateOptions) *Report {
	page := max(opts.Page, 1)
	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = DefaultPerPage
	}

	bySession := make(map[string]*Session, len(sessions))
	for i := range sessions {
		bySession[sessions[i].SessionID] = &sessions[i]
	}

	var pageviews, clicks []*Event
	for i := range events {
		e := &events[i]
		if _, ok := bySession[e.SessionID]; !ok {
			continue
		}
		if opts.ExcludeShortVisits && IsShortVisit(e) {
			continue
		}
		switch e.EventType {
		case EventTypePageView:
			pageviews = append(pageviews, e)
		case EventTypeClick:
			clicks = append(clicks, e)
		}
	}

	r := &Report{Page: page, PerPage: perPage}
	r.UniqueVisitors = len(sessions)
	r.TotalViews = len(pageviews)

	// Durations and bounce
	var durationSum float64
	var durationCount int
	viewsPerSession := make(map[string]int, len(sessions))
	for _, e := range pageviews {
		viewsPerSession[e.SessionID]++
		if e.Duration != nil && *e.Duration > 0 {
			durationSum += *e.Duration
			durationCount++
		}
	}
	if durationCount > 0 {
		r.AvgDurationSeconds = int(math.Round(durationSum / float64(durationCount)))
	}
	if r.UniqueVisitors > 0 {
		bounced := 0
		for i := range sessions {
			if viewsPerSession[sessions[i].SessionID] <= 1 {
				bounced++
			}
		}
		r.BounceRate = int(math.Round(float64(bounced) / float64(r.UniqueVisitors) * 100))
		r.PagesPerVisit = math.Round(float64(r.TotalViews)/float64(r.UniqueVisitors)*100) / 100
	}

	r.TopContents = topContents(pageviews)
	r.Geography = geography(pageviews, bySession)
	r.ByCountry, r.ByCity = locations(sessions)
	r.TopClicks = topClicks(clicks)
	r.BySource = sources(sessions)
	r.Visitors = visitorTable(sessions)

	r.Totals = Totals{
		TopContents: len(r.TopContents),
		Geography:   len(r.Geography),
		ByCountry:   len(r.ByCountry),
		ByCity:      len(r.ByCity),
		TopClicks:   len(r.TopClicks),
		BySource:    len(r.BySource),
		Visitors:    len(r.Visitors),
	}

	r.TopContents = Paginate(r.TopContents, page, perPage)
	r.Geography = Paginate(r.Geography, page, perPage)
	r.ByCountry = Paginate(r.ByCountry, page, perPage)
	r.ByCity = Paginate(r.ByCity, page, perPage)
	r.TopClicks = Paginate(r.TopClicks, page, perPage)
	r.BySource = Paginate(r.BySource, page, perPage)
	r.Visitors = Paginate(r.Visitors, page, perPage)
	return r
}

// Paginate returns the page-th slice of perPage rows, never nil.
func Paginate[T any](rows []T, page, perPage int) []T {
	page = max(page, 1)
	if perPage <= 0 || page-1 >= (len(rows)+perPage-1)/perPage {
		return []T{}
	}
	offset := (page - 1) * perPage
	end := min(offset+perPage, len(rows))
	return rows[offset:end]
}

// byCountThenKey orders rows by descending count, ties broken by key.
func byCountThenKey[T any](count func(T) int, key func(T) string) func(a, b T) int {
	return func(a, b T) int {
		if c := cmp.Compare(count(b), count(a)); c != 0 {
			return c
		}
		return cmp.Compare(key(a), key(b))
	}
}

func topContents(pageviews []*Event) []ContentRow {
	type acc struct {
		count, timed int
		sum          float64
	}
	byPath := make(map[string]*acc)
	for _, e := range pageviews {
		path := orDefault(e.Path, RootPath)
		a, ok := byPath[path]
		if !ok {
			a = &acc{}
			byPath[path] = a
		}
		a.count++
		if e.Duration != nil && *e.Duration > 0 {
			a.sum += *e.Duration
			a.timed++
		}
	}

	rows := make([]ContentRow, 0, len(byPath))
	for path, a := range byPath {
		row := ContentRow{Path: path, Count: a.count}
		if a.timed > 0 {
			row.AvgDuration = int(math.Round(a.sum / float64(a.timed)))
		}
		rows = append(rows, row)
	}
	slices.SortFunc(rows, byCountThenKey(
		func(r ContentRow) int { return r.Count },
		func(r ContentRow) string { return r.Path },
	))
	return rows
}

func geography(pageviews []*Event, bySession map[string]*Session) []GeoRow {
	type place struct{ country, city string }
	counts := make(map[place]int)
	for _, e := range pageviews {
		s := bySession[e.SessionID]
		counts[place{
			country: orDefault(s.Country, UnknownLocation),
			city:    orDefault(s.City, UnknownLocation),
		}]++
	}

	rows := make([]GeoRow, 0, len(counts))
	for p, n := range counts {
		rows = append(rows, GeoRow{Country: p.country, CountryName: CountryName(p.country), City: p.city, Count: n})
	}
	slices.SortFunc(rows, byCountThenKey(
		func(r GeoRow) int { return r.Count },
		func(r GeoRow) string { return r.Country + "\x00" + r.City },
	))
	return rows
}

func locations(sessions []Session) ([]NamedCount, []NamedCount) {
	countries := make(map[string]int)
	cities := make(map[string]int)
	for i := range sessions {
		countries[orDefault(sessions[i].Country, UnknownLocation)]++
		cities[orDefault(sessions[i].City, UnknownLocation)]++
	}
	return rankNamed(countries), rankNamed(cities)
}

func rankNamed(counts map[string]int) []NamedCount {
	rows := make([]NamedCount, 0, len(counts))
	for name, n := range counts {
		rows = append(rows, NamedCount{Name: name, Count: n})
	}
	slices.SortFunc(rows, byCountThenKey(
		func(r NamedCount) int { return r.Count },
		func(r NamedCount) string { return r.Name },
	))
	return rows
}

func topClicks(clicks []*Event) []ClickRow {
	counts := make(map[string]int)
	for _, e := range clicks {
		id := MissingElement
		if !isBlank(e.ElementID) {
			id = *e.ElementID
		}
		counts[id]++
	}

	rows := make([]ClickRow, 0, len(counts))
	for id, n := range counts {
		rows = append(rows, ClickRow{ElementID: id, Count: n})
	}
	slices.SortFunc(rows, byCountThenKey(
		func(r ClickRow) int { return r.Count },
		func(r ClickRow) string { return r.ElementID },
	))
	return rows
}

func sources(sessions []Session) []SourceRow {
	type key struct{ source, browser string }
	counts := make(map[key]int)
	for i := range sessions {
		source := DirectReferrer
		if !isBlank(sessions[i].Referrer) {
			source = *sessions[i].Referrer
		}
		counts[key{source: source, browser: BrowserLabel(sessions[i].Browser)}]++
	}

	rows := make([]SourceRow, 0, len(counts))
	for k, n := range counts {
		rows = append(rows, SourceRow{
			Source:     k.source,
			SourceName: referrers.Label(sourceURL(k.source)),
			Browser:    k.browser,
			Count:      n,
		})
	}
	slices.SortFunc(rows, byCountThenKey(
		func(r SourceRow) int { return r.Count },
		func(r SourceRow) string { return r.Source + "\x00" + r.Browser },
	))
	return rows
}

func sourceURL(source string) string {
	if source == DirectReferrer {
		return ""
	}
	return source
}

func visitorTable(sessions []Session) []VisitorRow {
	byHash := make(map[string]*VisitorRow)
	order := make([]string, 0)
	for i := range sessions {
		s := &sessions[i]
		row, ok := byHash[s.IPHash]
		if !ok {
			row = &VisitorRow{
				IPHash:  s.IPHash,
				Alias:   visitors.Alias(s.IPHash),
				IP:      s.IP,
				Country: orDefault(s.Country, UnknownLocation),
				City:    orDefault(s.City, UnknownLocation),
			}
			byHash[s.IPHash] = row
			order = append(order, s.IPHash)
		}
		row.SessionCount++
	}

	rows := make([]VisitorRow, 0, len(order))
	for _, h := range order {
		rows = append(rows, *byHash[h])
	}
	slices.SortFunc(rows, byCountThenKey(
		func(r VisitorRow) int { return r.SessionCount },
		func(r VisitorRow) string { return r.IPHash },
	))
	return rows
}

func chunk[T any](items []T, size int) [][]T {
	var out [][]T
	for size < len(items) {
		out = append(out, items[:size:size])
		items = items[size:]
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}
