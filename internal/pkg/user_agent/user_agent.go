package user_agent

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"go.elara.ws/pcre"
	"gopkg.in/yaml.v3"
)

type UserAgent struct {
	UserAgent string
	OS        string
	Browser   string
	Device    string
	Mobile    bool
	Tablet    bool
	Desktop   bool
}

const Unknown = "Unknown"

//go:embed database/rules.yml
var databaseFiles embed.FS

// ClientEntry matches a browser or an operating system.
type ClientEntry struct {
	Regex   string `yaml:"regex"`
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// DeviceEntry maps a user agent fragment to a device class.
type DeviceEntry struct {
	Regex  string `yaml:"regex"`
	Device string `yaml:"device"`
	Name   string `yaml:"name"`
}

type database struct {
	Browsers []ClientEntry `yaml:"browsers"`
	OSs      []ClientEntry `yaml:"oss"`
	Devices  []DeviceEntry `yaml:"devices"`
}

// Compiled regex cache
type RegexCache struct {
	compiled map[string]*pcre.Regexp
	mutex    sync.RWMutex
}

func newRegexCache() *RegexCache {
	return &RegexCache{
		compiled: make(map[string]*pcre.Regexp),
	}
}

func (rc *RegexCache) get(pattern string) (*pcre.Regexp, error) {
	rc.mutex.RLock()
	if regex, exists := rc.compiled[pattern]; exists {
		rc.mutex.RUnlock()
		return regex, nil
	}
	rc.mutex.RUnlock()

	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	if regex, exists := rc.compiled[pattern]; exists {
		return regex, nil
	}

	regex, err := pcre.Compile(pattern)
	if err != nil {
		return nil, err
	}
	rc.compiled[pattern] = regex
	return regex, nil
}

var (
	parser *Parser
	once   sync.Once
)

type Parser struct {
	db         database
	regexCache *RegexCache
}

func getParser() *Parser {
	once.Do(func() {
		parser = &Parser{regexCache: newRegexCache()}
		data, err := databaseFiles.ReadFile("database/rules.yml")
		if err != nil {
			panic(fmt.Sprintf("user_agent: missing embedded rules: %v", err))
		}
		if err := yaml.Unmarshal(data, &parser.db); err != nil {
			panic(fmt.Sprintf("user_agent: invalid embedded rules: %v", err))
		}
	})
	return parser
}

// expand replaces $1, $2... in template with the submatches.
func expand(template string, matches []string) string {
	if template == "" || len(matches) < 2 {
		return ""
	}
	out := template
	for i, match := range matches[1:] {
		out = strings.ReplaceAll(out, fmt.Sprintf("$%d", i+1), match)
	}
	return out
}

func (p *Parser) matchClient(entries []ClientEntry, userAgent string) (string, string) {
	for _, entry := range entries {
		regex, err := p.regexCache.get(entry.Regex)
		if err != nil {
			continue
		}
		if matches := regex.FindStringSubmatch(userAgent); len(matches) > 0 {
			return entry.Name, expand(entry.Version, matches)
		}
	}
	return Unknown, ""
}

func (p *Parser) parseDevice(userAgent string) (string, bool, bool, bool) {
	for _, entry := range p.db.Devices {
		regex, err := p.regexCache.get(entry.Regex)
		if err != nil || !regex.MatchString(userAgent) {
			continue
		}
		switch entry.Device {
		case "smartphone", "feature phone", "phablet":
			return entry.Name, true, false, false
		case "tablet":
			return entry.Name, false, true, false
		default:
			return entry.Name, false, false, false
		}
	}
	return "Desktop", false, false, true
}

// ParseUserAgent derives browser, OS and device labels. An empty user agent
// yields Unknown for every label.
func ParseUserAgent(userAgent string) UserAgent {
	if strings.TrimSpace(userAgent) == "" {
		return UserAgent{OS: Unknown, Browser: Unknown, Device: Unknown}
	}

	p := getParser()
	browser, _ := p.matchClient(p.db.Browsers, userAgent)
	os, _ := p.matchClient(p.db.OSs, userAgent)
	device, mobile, tablet, desktop := p.parseDevice(userAgent)

	return UserAgent{
		UserAgent: userAgent,
		OS:        os,
		Browser:   browser,
		Device:    device,
		Mobile:    mobile,
		Tablet:    tablet,
		Desktop:   desktop,
	}
}
