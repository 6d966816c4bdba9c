package player

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/disgoorg/snowflake/v2"
)

// defaultManager holds the most recently constructed Manager for the
// optional process-wide accessor. The core never depends on it.
var defaultManager atomic.Pointer[Manager]

// Default returns the most recently constructed Manager, or nil. It is a
// boundary convenience; prefer passing the Manager explicitly.
func Default() *Manager {
	return defaultManager.Load()
}

// GuildRef is anything exposing a guild identifier. Manager lookups accept
// it in place of a raw ID.
type GuildRef interface {
	GuildID() snowflake.ID
}

// CreateOptions tunes player creation.
type CreateOptions struct {
	// Extensions are explicit instances attached to the new player.
	Extensions []Extension
	// ExtensionNames is an allow-list selecting manager-level extensions
	// by name. Empty selects all of them.
	ExtensionNames []string
}

// Manager is the per-guild player registry. Every player event is re-emitted
// on the manager bus with the originating Player set.
type Manager struct {
	opts Options
	deps Deps
	bus  *Bus

	mu         sync.RWMutex
	players    map[snowflake.ID]*Player
	plugins    []SourcePlugin
	extensions []Extension
}

// NewManager creates a Manager. The result also becomes the process-wide
// default accessor value.
func NewManager(opts Options, deps Deps) *Manager {
	m := &Manager{
		opts:    opts.Normalize(),
		deps:    deps,
		bus:     NewBus(),
		players: make(map[snowflake.ID]*Player),
	}
	defaultManager.Store(m)
	return m
}

// On registers a handler for a single event type across all players.
func (m *Manager) On(t EventType, h Handler) { m.bus.On(t, h) }

// OnAny registers a handler for every event type across all players.
func (m *Manager) OnAny(h Handler) { m.bus.OnAny(h) }

// RegisterPlugin adds a plugin registered into every subsequently created
// player, in registration order.
func (m *Manager) RegisterPlugin(p SourcePlugin) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plugins = append(m.plugins, p)
}

// RegisterExtension makes an extension available for selective activation on
// created players.
func (m *Manager) RegisterExtension(ext Extension) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extensions = append(m.extensions, ext)
}

// Create returns the guild's player, creating and wiring one on first use.
func (m *Manager) Create(guildID snowflake.ID) *Player {
	return m.CreateWith(guildID, CreateOptions{})
}

// CreateWith is Create with per-call extension selection. It is idempotent:
// an existing player is returned unchanged.
func (m *Manager) CreateWith(guildID snowflake.ID, co CreateOptions) *Player {
	m.mu.Lock()
	if existing, ok := m.players[guildID]; ok {
		m.mu.Unlock()
		return existing
	}

	p := New(guildID, m.opts, m.deps)
	for _, plugin := range m.plugins {
		p.plugins.Register(plugin)
	}
	managerExts := make([]Extension, len(m.extensions))
	copy(managerExts, m.extensions)
	m.players[guildID] = p
	m.mu.Unlock()

	for _, ext := range co.Extensions {
		p.Use(ext)
	}
	for _, ext := range selectExtensions(managerExts, co.ExtensionNames, m.opts.Extensions) {
		p.Use(ext)
	}

	p.OnAny(func(e Event) {
		m.bus.Emit(e)
	})
	p.onDestroy = func(destroyed *Player) {
		m.mu.Lock()
		delete(m.players, destroyed.guildID)
		m.mu.Unlock()
	}
	return p
}

// selectExtensions filters manager-level extensions: the per-call allow-list
// wins, then the options-level one; empty lists select everything.
func selectExtensions(available []Extension, callNames, optNames []string) []Extension {
	names := callNames
	if len(names) == 0 {
		names = optNames
	}
	if len(names) == 0 {
		return available
	}
	allowed := make(map[string]bool, len(names))
	for _, n := range names {
		allowed[n] = true
	}
	var out []Extension
	for _, ext := range available {
		if allowed[ext.Name()] {
			out = append(out, ext)
		}
	}
	return out
}

// resolveGuildID accepts a raw snowflake or anything carrying one.
func resolveGuildID(ref any) (snowflake.ID, bool) {
	switch v := ref.(type) {
	case snowflake.ID:
		return v, true
	case GuildRef:
		return v.GuildID(), true
	case string:
		id, err := snowflake.Parse(v)
		if err != nil {
			return 0, false
		}
		return id, true
	default:
		return 0, false
	}
}

// Get returns the player for a guild id or GuildRef, or nil.
func (m *Manager) Get(ref any) *Player {
	id, ok := resolveGuildID(ref)
	if !ok {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.players[id]
}

// Has reports whether a player exists for the guild.
func (m *Manager) Has(ref any) bool {
	return m.Get(ref) != nil
}

// Delete destroys and removes the guild's player. It reports whether one
// existed.
func (m *Manager) Delete(ctx context.Context, ref any) bool {
	p := m.Get(ref)
	if p == nil {
		return false
	}
	_ = p.Destroy(ctx)
	return true
}

// Players returns a snapshot of all live players.
func (m *Manager) Players() []*Player {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Player, 0, len(m.players))
	for _, p := range m.players {
		out = append(out, p)
	}
	return out
}

// Search searches the manager-level plugins without creating a player.
func (m *Manager) Search(ctx context.Context, query string, requestedBy Requester) (*SearchResult, error) {
	m.mu.RLock()
	plugins := make([]SourcePlugin, len(m.plugins))
	copy(plugins, m.plugins)
	m.mu.RUnlock()
	return searchPlugins(ctx, plugins, m.opts.ExtractorTimeout, query, requestedBy, nil)
}

// Shutdown destroys every player.
func (m *Manager) Shutdown(ctx context.Context) {
	for _, p := range m.Players() {
		_ = p.Destroy(ctx)
	}
}
