// Package botpolicy classifies user agents as automated traffic.
//
// The classification is a Policy value so callers can swap it (tests,
// operator rule files) without touching the analytics code.
package botpolicy

import (
	"fmt"
	"strings"
	"sync/atomic"

	"go.elara.ws/pcre"
)

// Policy decides whether a user agent belongs to an automated client.
type Policy interface {
	IsBot(userAgent string) bool
}

// PolicyFunc adapts a plain function to Policy.
type PolicyFunc func(userAgent string) bool

func (f PolicyFunc) IsBot(userAgent string) bool { return f(userAgent) }

// PatternPolicy matches lowercase substrings, then optional regexes.
type PatternPolicy struct {
	patterns []string
	regexes  []*pcre.Regexp
}

// NewPatternPolicy compiles rules into a policy.
func NewPatternPolicy(rules Rules) (*PatternPolicy, error) {
	p := &PatternPolicy{patterns: rules.Patterns()}
	for _, expr := range rules.Regexes {
		expr = strings.TrimSpace(expr)
		if expr == "" {
			continue
		}
		re, err := pcre.Compile("(?i)" + expr)
		if err != nil {
			return nil, fmt.Errorf("invalid bot regex %q: %w", expr, err)
		}
		p.regexes = append(p.regexes, re)
	}
	return p, nil
}

// IsBot reports whether userAgent matches. An empty user agent is not a bot.
func (p *PatternPolicy) IsBot(userAgent string) bool {
	if userAgent == "" {
		return false
	}
	ua := strings.ToLower(userAgent)
	for _, pattern := range p.patterns {
		if strings.Contains(ua, pattern) {
			return true
		}
	}
	for _, re := range p.regexes {
		if re.MatchString(userAgent) {
			return true
		}
	}
	return false
}

// Size returns the number of patterns and regexes in the policy.
func (p *PatternPolicy) Size() (patterns, regexes int) {
	return len(p.patterns), len(p.regexes)
}

type holder struct{ policy Policy }

var active atomic.Pointer[holder]

// Default returns a policy built from the embedded rules.
func Default() *PatternPolicy {
	p, err := NewPatternPolicy(DefaultRules())
	if err != nil {
		panic(err)
	}
	return p
}

// Current returns the process-wide policy, the embedded one until Set is called.
func Current() Policy {
	if h := active.Load(); h != nil {
		return h.policy
	}
	p := Default()
	active.CompareAndSwap(nil, &holder{policy: p})
	return active.Load().policy
}

// Set replaces the process-wide policy. A nil policy restores the default.
func Set(p Policy) {
	if p == nil {
		p = Default()
	}
	active.Store(&holder{policy: p})
}
