package analytics

import (
	"folio/internal/botpolicy"
	"folio/internal/settings"
	"folio/internal/visitors"
)

// DropReason says which check removed a session.
type DropReason string

const (
	Retained        DropReason = ""
	DroppedExcluded DropReason = "excluded"
	DroppedInclude  DropReason = "not_included"
	DroppedBot      DropReason = "bot"
)

// Filter is the session predicate built from the analytics settings.
// Checks run exclude, then include, then bot; the first failure drops.
type Filter struct {
	exclude     map[string]struct{}
	include     map[string]struct{}
	excludeBots bool
	policy      botpolicy.Policy
}

// NewFilter hashes the raw exclude and include lists with hasher and merges
// the stored exclude hashes. A nil policy means the process-wide one.
func NewFilter(a settings.Analytics, hasher visitors.IPHasher, policy botpolicy.Policy) *Filter {
	if policy == nil {
		policy = botpolicy.Current()
	}

	f := &Filter{
		exclude:     make(map[string]struct{}),
		include:     make(map[string]struct{}),
		excludeBots: a.ExcludeBots,
		policy:      policy,
	}
	for _, h := range hasher.HashAll(a.Filter.Exclude) {
		f.exclude[h] = struct{}{}
	}
	for _, h := range a.Filter.ExcludeHashes {
		f.exclude[h] = struct{}{}
	}
	for _, h := range hasher.HashAll(a.Filter.Include) {
		f.include[h] = struct{}{}
	}
	return f
}

// Check returns why s would be dropped, or Retained.
func (f *Filter) Check(s *Session) DropReason {
	if _, ok := f.exclude[s.IPHash]; ok {
		return DroppedExcluded
	}
	if len(f.include) > 0 {
		if _, ok := f.include[s.IPHash]; !ok {
			return DroppedInclude
		}
	}
	if f.excludeBots && f.policy.IsBot(s.UserAgent) {
		return DroppedBot
	}
	return Retained
}

// Retain reports whether s survives every check.
func (f *Filter) Retain(s *Session) bool {
	return f.Check(s) == Retained
}

// Apply returns the retained sessions, preserving order.
func (f *Filter) Apply(sessions []Session) []Session {
	out := make([]Session, 0, len(sessions))
	for i := range sessions {
		if f.Retain(&sessions[i]) {
			out = append(out, sessions[i])
		}
	}
	return out
}
