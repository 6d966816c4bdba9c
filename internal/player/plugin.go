package player

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// resolveCacheTTL bounds how long a track-to-plugin resolution stays cached.
const resolveCacheTTL = 5 * time.Minute

// SearchResult is the outcome of a plugin search.
type SearchResult struct {
	Tracks   []*Track
	Playlist *PlaylistInfo
}

// IsPlaylist reports whether the result came from a playlist extraction.
func (r *SearchResult) IsPlaylist() bool {
	return r != nil && r.Playlist != nil
}

// SourcePlugin is the required capability surface of a content source.
// Optional operations are separate interfaces detected once at registration.
type SourcePlugin interface {
	Name() string
	Version() string
	// CanHandle reports whether this plugin wants the query. Registration
	// order is the priority order; the first match wins.
	CanHandle(query string) bool
	Search(ctx context.Context, query string, requestedBy Requester) (*SearchResult, error)
	GetStream(ctx context.Context, t *Track) (*StreamInfo, error)
}

// FallbackProvider is the optional alternate stream acquisition capability,
// tried after the primary resolution fails.
type FallbackProvider interface {
	GetFallback(ctx context.Context, t *Track) (*StreamInfo, error)
}

// RelatedOptions tunes a related-tracks lookup.
type RelatedOptions struct {
	Limit  int
	Offset int
	// History holds URLs to exclude from the result.
	History []string
}

// RelatedProvider is the optional related-tracks lookup capability used for
// autoplay lookahead.
type RelatedProvider interface {
	GetRelatedTracks(ctx context.Context, urlOrID string, opts RelatedOptions) ([]*Track, error)
}

// URLValidator is the optional URL ownership check capability.
type URLValidator interface {
	Validate(url string) bool
}

// PlaylistExtractor is the optional playlist expansion capability.
type PlaylistExtractor interface {
	ExtractPlaylist(ctx context.Context, url string, requestedBy Requester) ([]*Track, error)
}

type cacheEntry struct {
	plugin  SourcePlugin
	expires time.Time
}

// PluginManager is a flat registry of source plugins keyed by name.
// Registration order is a deliberate priority: more specific plugins are
// registered first and win ties.
type PluginManager struct {
	mu      sync.RWMutex
	ordered []SourcePlugin
	byName  map[string]SourcePlugin

	clock Clock
	cache map[string]cacheEntry
}

// NewPluginManager creates an empty registry.
func NewPluginManager(clock Clock) *PluginManager {
	if clock == nil {
		clock = NewClock()
	}
	return &PluginManager{
		byName: make(map[string]SourcePlugin),
		clock:  clock,
		cache:  make(map[string]cacheEntry),
	}
}

// Register adds a plugin. Re-registering a name replaces the previous plugin
// in place, keeping its priority slot.
func (m *PluginManager) Register(p SourcePlugin) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byName[p.Name()]; ok {
		for i, existing := range m.ordered {
			if existing.Name() == p.Name() {
				m.ordered[i] = p
				break
			}
		}
	} else {
		m.ordered = append(m.ordered, p)
	}
	m.byName[p.Name()] = p
}

// Unregister removes a plugin by name. It reports whether one was removed.
func (m *PluginManager) Unregister(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byName[name]; !ok {
		return false
	}
	delete(m.byName, name)
	for i, p := range m.ordered {
		if p.Name() == name {
			m.ordered = append(m.ordered[:i], m.ordered[i+1:]...)
			break
		}
	}
	return true
}

// Get returns the plugin registered under name, or nil.
func (m *PluginManager) Get(name string) SourcePlugin {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byName[name]
}

// GetAll returns the registered plugins in registration order.
func (m *PluginManager) GetAll() []SourcePlugin {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SourcePlugin, len(m.ordered))
	copy(out, m.ordered)
	return out
}

// Clear removes all plugins and drops the resolution cache.
func (m *PluginManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ordered = nil
	m.byName = make(map[string]SourcePlugin)
	m.cache = make(map[string]cacheEntry)
}

// FindPlugin returns the first registered plugin whose CanHandle accepts the
// query, or nil. First match wins regardless of later registrations.
func (m *PluginManager) FindPlugin(query string) SourcePlugin {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.ordered {
		if p.CanHandle(query) {
			return p
		}
	}
	return nil
}

// ResolveTrack finds the plugin responsible for a queued track: first by URL
// validation, then by source-name match. Results are cached per source:url
// for a short TTL to avoid rescanning on resume/retry paths.
func (m *PluginManager) ResolveTrack(t *Track) SourcePlugin {
	key := t.Source + ":" + t.URL

	m.mu.Lock()
	m.maybeSweepLocked()
	if e, ok := m.cache[key]; ok && m.clock.Now().Before(e.expires) {
		m.mu.Unlock()
		return e.plugin
	}
	m.mu.Unlock()

	plugin := m.resolveUncached(t)
	if plugin != nil {
		m.mu.Lock()
		m.cache[key] = cacheEntry{plugin: plugin, expires: m.clock.Now().Add(resolveCacheTTL)}
		m.mu.Unlock()
	}
	return plugin
}

func (m *PluginManager) resolveUncached(t *Track) SourcePlugin {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if t.URL != "" {
		for _, p := range m.ordered {
			if v, ok := p.(URLValidator); ok && v.Validate(t.URL) {
				return p
			}
		}
	}
	if t.Source != "" {
		if p, ok := m.byName[t.Source]; ok {
			return p
		}
	}
	return nil
}

// maybeSweepLocked drops expired cache entries on roughly one in ten calls
// instead of running a dedicated timer. Caller holds m.mu.
func (m *PluginManager) maybeSweepLocked() {
	if rand.Intn(10) != 0 {
		return
	}
	now := m.clock.Now()
	for k, e := range m.cache {
		if !now.Before(e.expires) {
			delete(m.cache, k)
		}
	}
}
