package player

import (
	"context"
	"log/slog"
)

// Extension is an external capability that intercepts or observes the play
// lifecycle without owning content sourcing. Optional hooks are separate
// interfaces detected once at attach time.
type Extension interface {
	Name() string
	Version() string
	// Active reports whether the extension wants to participate for this
	// player right now.
	Active(p *Player) bool
}

// RegisterHook fires exactly once when the extension is attached to a player.
type RegisterHook interface {
	OnRegister(p *Player) error
}

// DestroyHook fires exactly once when the extension is detached.
type DestroyHook interface {
	OnDestroy(p *Player) error
}

// PlayRequest is the mutable request flowing through beforePlay hooks. A hook
// may rewrite the query, supply resolved tracks directly, attach an error, or
// set Handled to short-circuit the chain.
type PlayRequest struct {
	Query       string
	RequestedBy Requester
	Tracks      []*Track
	IsPlaylist  bool
	Err         error
	// Handled stops the hook chain; the player treats the request as fully
	// processed by extensions.
	Handled bool
	// Success is the hook-declared outcome reported when Handled is set.
	Success bool
}

// BeforePlayHook intercepts a play request before resolution.
type BeforePlayHook interface {
	BeforePlay(p *Player, req *PlayRequest)
}

// AfterPlayPayload is the immutable snapshot handed to afterPlay hooks. It is
// constructed once per dispatch and passed by value.
type AfterPlayPayload struct {
	Query       string
	RequestedBy Requester
	Tracks      []*Track
	IsPlaylist  bool
	Success     bool
	Err         error
}

// AfterPlayHook observes the outcome of a play request.
type AfterPlayHook interface {
	AfterPlay(p *Player, payload AfterPlayPayload)
}

// SearchProvider lets an extension resolve searches ahead of the plugin chain.
type SearchProvider interface {
	ProvideSearch(ctx context.Context, p *Player, query string, requestedBy Requester) ([]*Track, error)
}

// ProvidedStream is the result of an extension stream interception. A nil
// Info with Handled set means the extension is playing the track itself (for
// example through an external audio server) and the local engine must not be
// touched.
type ProvidedStream struct {
	Info    *StreamInfo
	Handled bool
}

// StreamProvider lets an extension resolve streams ahead of the plugin chain.
type StreamProvider interface {
	ProvideStream(ctx context.Context, p *Player, t *Track) (*ProvidedStream, error)
}

// runBeforePlay runs beforePlay hooks sequentially in attach order. Setting
// Handled stops the chain.
func runBeforePlay(p *Player, exts []Extension, req *PlayRequest) {
	for _, ext := range exts {
		hook, ok := ext.(BeforePlayHook)
		if !ok || !ext.Active(p) {
			continue
		}
		invokeHook(p, ext.Name(), "beforePlay", func() { hook.BeforePlay(p, req) })
		if req.Handled {
			return
		}
	}
}

// runAfterPlay fans the payload out to every attached hook. A hook failure is
// logged and never blocks its siblings.
func runAfterPlay(p *Player, exts []Extension, payload AfterPlayPayload) {
	for _, ext := range exts {
		hook, ok := ext.(AfterPlayHook)
		if !ok || !ext.Active(p) {
			continue
		}
		invokeHook(p, ext.Name(), "afterPlay", func() { hook.AfterPlay(p, payload) })
	}
}

// runProvideSearch asks extensions for tracks in attach order; the first
// non-empty result wins.
func runProvideSearch(ctx context.Context, p *Player, exts []Extension, query string, requestedBy Requester) []*Track {
	for _, ext := range exts {
		hook, ok := ext.(SearchProvider)
		if !ok || !ext.Active(p) {
			continue
		}
		tracks, err := hook.ProvideSearch(ctx, p, query, requestedBy)
		if err != nil {
			p.debugf("extension %s provideSearch failed: %v", ext.Name(), err)
			continue
		}
		if len(tracks) > 0 {
			return tracks
		}
	}
	return nil
}

// runProvideStream asks extensions for a stream in attach order; the first
// hook returning a stream or claiming external handling wins.
func runProvideStream(ctx context.Context, p *Player, exts []Extension, t *Track) *ProvidedStream {
	for _, ext := range exts {
		hook, ok := ext.(StreamProvider)
		if !ok || !ext.Active(p) {
			continue
		}
		provided, err := hook.ProvideStream(ctx, p, t)
		if err != nil {
			p.debugf("extension %s provideStream failed: %v", ext.Name(), err)
			continue
		}
		if provided != nil && (provided.Handled || provided.Info != nil) {
			return provided
		}
	}
	return nil
}

// invokeHook runs a hook with panic isolation; a hook's own failure is never
// propagated.
func invokeHook(p *Player, name, hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("extension hook panicked", "extension", name, "hook", hook, "panic", r)
			p.debugf("extension %s %s panicked: %v", name, hook, r)
		}
	}()
	fn()
}
