// Package queryengine implements the Query Engine (spec §4.2): source
// selection, parallel vector-search fan-out with circuit breakers, result
// dedup, and ranking.
package queryengine

import (
	"strings"

	"github.com/opskb/ragd/internal/model"
)

// ClientMatcher recognizes a client identifier in free text and maps it to
// the sources that client is scoped to. Spec §1 calls this out as an
// external collaborator ("a simple keyword matcher... out of scope"); this
// package only depends on the narrow interface, not an implementation.
type ClientMatcher interface {
	MatchSources(text string) []model.SourceId
}

// NoopClientMatcher never recognizes a client, used when no matcher is
// configured.
type NoopClientMatcher struct{}

func (NoopClientMatcher) MatchSources(string) []model.SourceId { return nil }

// Registry holds the startup-declared closed set of sources.
type Registry struct {
	sources []model.SourceConfig
	byId    map[model.SourceId]model.SourceConfig
}

// NewRegistry builds a Registry from the configured sources.
func NewRegistry(sources []model.SourceConfig) *Registry {
	r := &Registry{sources: sources, byId: make(map[model.SourceId]model.SourceConfig, len(sources))}
	for _, s := range sources {
		r.byId[s.Id] = s
	}
	return r
}

// Enabled returns every enabled SourceId, in configuration order.
func (r *Registry) Enabled() []model.SourceId {
	out := make([]model.SourceId, 0, len(r.sources))
	for _, s := range r.sources {
		if s.Enabled {
			out = append(out, s.Id)
		}
	}
	return out
}

// Get returns the SourceConfig for id, if declared and enabled.
func (r *Registry) Get(id model.SourceId) (model.SourceConfig, bool) {
	s, ok := r.byId[id]
	if !ok || !s.Enabled {
		return model.SourceConfig{}, false
	}
	return s, true
}

// SelectSources implements spec §4.2 "Source selection": sources_hint if
// non-empty (intersected with enabled sources), else a client match, else
// the default (all enabled) set.
func (r *Registry) SelectSources(q model.Query, matcher ClientMatcher) []model.SourceId {
	if len(q.SourcesHint) > 0 {
		return r.intersectEnabled(q.SourcesHint)
	}

	if matcher != nil {
		if matched := matcher.MatchSources(q.Text); len(matched) > 0 {
			return r.intersectEnabled(matched)
		}
	}

	return r.Enabled()
}

func (r *Registry) intersectEnabled(ids []model.SourceId) []model.SourceId {
	out := make([]model.SourceId, 0, len(ids))
	seen := make(map[model.SourceId]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := r.Get(id); ok {
			out = append(out, id)
		}
	}
	return out
}

// normalizeURL provides the dedup step's URL-equality check (spec §4.2
// "Aggregation" step 2). Lower-cased, trailing-slash-trimmed, no query
// string or fragment.
func normalizeURL(u string) string {
	u = strings.ToLower(strings.TrimSpace(u))
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return strings.TrimSuffix(u, "/")
}
