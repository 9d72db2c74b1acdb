package providers

import (
	"fmt"

	"github.com/scholium/corpus-service/internal/domain"
)

// Registry holds the configured provider adapters keyed by source type.
// It is populated once at startup and read-only afterwards.
type Registry struct {
	sources map[domain.SourceType]Source
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[domain.SourceType]Source)}
}

// Register adds a source. Registering the same source type twice is a
// wiring bug and returns an error.
func (r *Registry) Register(s Source) error {
	st := s.SourceType()
	if _, exists := r.sources[st]; exists {
		return fmt.Errorf("source %s already registered", st)
	}
	r.sources[st] = s
	return nil
}

// Get returns the adapter for the given source type.
func (r *Registry) Get(st domain.SourceType) (Source, bool) {
	s, ok := r.sources[st]
	return s, ok
}

// Enabled returns the enabled adapters in trust-priority order.
func (r *Registry) Enabled() []Source {
	out := make([]Source, 0, len(r.sources))
	for _, st := range domain.AllSources {
		if s, ok := r.sources[st]; ok && s.IsEnabled() {
			out = append(out, s)
		}
	}
	return out
}

// ReferenceFetcher returns the first enabled adapter that can fetch records
// by identifier for citation-graph expansion, along with its source type so
// the caller can seed expansion from that adapter's own results.
func (r *Registry) ReferenceFetcher() (ReferenceFetcher, domain.SourceType, bool) {
	for _, st := range domain.AllSources {
		s, ok := r.sources[st]
		if !ok || !s.IsEnabled() {
			continue
		}
		if rf, ok := s.(ReferenceFetcher); ok {
			return rf, st, true
		}
	}
	return nil, "", false
}
