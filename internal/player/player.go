package player

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// State is the logical player state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StatePlaying
	StatePaused
	StateBuffering
	StateAutoPaused
	StateDestroyed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateBuffering:
		return "buffering"
	case StateAutoPaused:
		return "autopaused"
	case StateDestroyed:
		return "destroyed"
	default:
		return "idle"
	}
}

const (
	// maxAdvanceAttempts bounds consecutive track-start failures in one
	// advance so a queue of broken tracks cannot spin forever.
	maxAdvanceAttempts = 5

	volumeFadeSteps = 10
	volumeFadeTick  = 30 * time.Millisecond

	// ttsQueryPrefix flags a raw query as text-to-speech.
	ttsQueryPrefix = "tts:"
)

// IsTTSQuery reports whether the raw query is textually flagged as TTS.
func IsTTSQuery(query string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(query)), ttsQueryPrefix)
}

// Deps carries the collaborators a Player needs. Engines is required;
// Connections may be nil when the caller drives an external transport.
type Deps struct {
	Engines     EngineFactory
	Connections ConnectionFactory
	Clock       Clock
}

// Player orchestrates playback for a single guild: it owns the queue, a
// plugin registry, the extension list, the primary audio engine, and the
// optional TTS interrupt engine.
type Player struct {
	guildID snowflake.ID
	opts    Options
	clock   Clock
	bus     *Bus
	plugins *PluginManager

	engine      AudioEngine
	engines     EngineFactory
	connections ConnectionFactory

	mu         sync.Mutex
	queue      *Queue
	extensions []Extension
	conn       VoiceConnection
	state      State
	connected  bool
	isPlaying  bool
	isPaused   bool
	volume     int
	current    *Resource
	skipLoop   bool
	destroyed  bool
	leaveTimer Timer
	fadeSeq    int

	// TTS interrupt subsystem (tts.go).
	ttsQueue  []*Track
	ttsActive bool
	ttsEngine AudioEngine

	// onDestroy lets the Manager drop the player from its registry.
	onDestroy func(*Player)
}

// New creates a Player for the given guild. The primary engine is created
// immediately; the TTS engine lazily on first interrupt.
func New(guildID snowflake.ID, opts Options, deps Deps) *Player {
	opts = opts.Normalize()
	clock := deps.Clock
	if clock == nil {
		clock = NewClock()
	}

	p := &Player{
		guildID:     guildID,
		opts:        opts,
		clock:       clock,
		bus:         NewBus(),
		plugins:     NewPluginManager(clock),
		engines:     deps.Engines,
		connections: deps.Connections,
		queue:       NewQueue(),
		volume:      opts.Volume,
	}
	p.engine = deps.Engines()
	p.engine.OnStateChange(p.onEngineTransition)
	return p
}

// GuildID returns the guild this player belongs to.
func (p *Player) GuildID() snowflake.ID { return p.guildID }

// Queue returns the player's queue. The queue is owned by the player; mutate
// it only through player operations unless playback is idle.
func (p *Player) Queue() *Queue { return p.queue }

// Current returns the track the player is on, or nil when idle.
func (p *Player) Current() *Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Current()
}

// Upcoming returns a snapshot of the queued tracks.
func (p *Player) Upcoming() []*Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Upcoming()
}

// Shuffle randomizes the order of the queued tracks.
func (p *Player) Shuffle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue.Shuffle()
}

// ClearQueue drops the queued tracks without touching the current one.
func (p *Player) ClearQueue() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue.Clear()
}

// Loop returns the queue loop mode.
func (p *Player) Loop() LoopMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Loop()
}

// SetLoop sets the queue loop mode.
func (p *Player) SetLoop(mode LoopMode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue.SetLoop(mode)
}

// AutoPlay reports whether related-track continuation is enabled.
func (p *Player) AutoPlay() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.AutoPlay()
}

// SetAutoPlay toggles related-track continuation when the queue runs out.
func (p *Player) SetAutoPlay(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue.SetAutoPlay(v)
}

// Plugins returns the player's plugin registry.
func (p *Player) Plugins() *PluginManager { return p.plugins }

// Options returns the configuration snapshot.
func (p *Player) Options() Options { return p.opts }

// On registers an event handler for a single event type.
func (p *Player) On(t EventType, h Handler) { p.bus.On(t, h) }

// OnAny registers an event handler for every event type.
func (p *Player) OnAny(h Handler) { p.bus.OnAny(h) }

// State returns the logical player state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// IsPlaying reports whether the primary engine is playing or buffering.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isPlaying
}

// IsPaused reports whether the primary engine is paused.
func (p *Player) IsPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isPaused
}

// Volume returns the player volume (0-200).
func (p *Player) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Use attaches an extension. The onRegister hook fires exactly once; its
// failure is logged and never fatal to the attach.
func (p *Player) Use(ext Extension) {
	p.mu.Lock()
	for _, existing := range p.extensions {
		if existing.Name() == ext.Name() {
			p.mu.Unlock()
			return
		}
	}
	p.extensions = append(p.extensions, ext)
	p.mu.Unlock()

	if hook, ok := ext.(RegisterHook); ok {
		invokeHook(p, ext.Name(), "onRegister", func() {
			if err := hook.OnRegister(p); err != nil {
				p.debugf("extension %s onRegister failed: %v", ext.Name(), err)
			}
		})
	}
	p.debugf("extension %s@%s attached", ext.Name(), ext.Version())
}

// Extensions returns the attached extensions in attach order.
func (p *Player) Extensions() []Extension {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Extension, len(p.extensions))
	copy(out, p.extensions)
	return out
}

func (p *Player) activeExtensions() []Extension {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Extension, len(p.extensions))
	copy(out, p.extensions)
	return out
}

// Connect opens the voice connection for the given channel and subscribes
// the primary engine to it.
func (p *Player) Connect(ctx context.Context, channelID snowflake.ID) error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return ErrPlayerDestroyed
	}
	if p.conn == nil {
		if p.connections == nil {
			p.mu.Unlock()
			return ErrNotConnected
		}
		p.conn = p.connections(p.guildID)
		p.conn.OnClosed(p.onConnectionClosed)
	}
	conn := p.conn
	p.state = StateConnecting
	p.mu.Unlock()

	if err := conn.Open(ctx, channelID, p.opts.SelfDeaf, p.opts.SelfMute); err != nil {
		p.mu.Lock()
		p.state = StateIdle
		p.mu.Unlock()
		p.emit(Event{Type: EventConnectionError, Err: err})
		return err
	}
	conn.Subscribe(p.engine)

	p.mu.Lock()
	p.connected = true
	p.state = StateIdle
	p.mu.Unlock()
	return nil
}

// Disconnect closes the voice connection without destroying the player.
func (p *Player) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.connected = false
	p.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close(ctx)
}

// onConnectionClosed handles a forced voice connection drop: the player is
// not recoverable and destroys itself.
func (p *Player) onConnectionClosed(err error) {
	p.mu.Lock()
	destroyed := p.destroyed
	p.mu.Unlock()
	if destroyed {
		return
	}
	p.emit(Event{Type: EventConnectionError, Err: err})
	_ = p.Destroy(context.Background())
}

// Play resolves a query through the extension and plugin pipelines and
// enqueues the resulting tracks, starting playback if idle. TTS-flagged
// queries are routed to the interrupt queue when TTS interruption is enabled.
func (p *Player) Play(ctx context.Context, query string, requestedBy Requester) error {
	return p.play(ctx, &PlayRequest{Query: query, RequestedBy: requestedBy})
}

// PlayTrack enqueues an already resolved track.
func (p *Player) PlayTrack(ctx context.Context, t *Track) error {
	return p.play(ctx, &PlayRequest{Tracks: []*Track{t}, RequestedBy: t.RequestedBy})
}

// PlayTracks enqueues a pre-resolved track list as a playlist.
func (p *Player) PlayTracks(ctx context.Context, tracks []*Track) error {
	return p.play(ctx, &PlayRequest{Tracks: tracks, IsPlaylist: len(tracks) > 1})
}

func (p *Player) play(ctx context.Context, req *PlayRequest) error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return ErrPlayerDestroyed
	}
	p.mu.Unlock()

	exts := p.activeExtensions()
	runBeforePlay(p, exts, req)
	if req.Handled {
		runAfterPlay(p, exts, payloadFrom(req, req.Success))
		if !req.Success {
			if req.Err != nil {
				return req.Err
			}
			return ErrNoTracks
		}
		return nil
	}

	tracks := req.Tracks
	isPlaylist := req.IsPlaylist
	if len(tracks) == 0 && req.Query != "" {
		result, err := p.Search(ctx, req.Query, req.RequestedBy)
		if err != nil {
			req.Err = err
			runAfterPlay(p, exts, payloadFrom(req, false))
			p.emit(Event{Type: EventPlayerError, Err: err})
			return err
		}
		tracks = result.Tracks
		isPlaylist = result.IsPlaylist()
	}
	if len(tracks) == 0 {
		req.Err = ErrNoTracks
		runAfterPlay(p, exts, payloadFrom(req, false))
		return ErrNoTracks
	}
	req.Tracks = tracks
	req.IsPlaylist = isPlaylist

	// A single TTS-flagged track preempts the main queue when interrupt
	// mode is enabled.
	if len(tracks) == 1 && !isPlaylist && p.opts.TTS.Interrupt &&
		(tracks[0].IsTTS() || IsTTSQuery(req.Query)) {
		p.enqueueTTS(tracks[0])
		runAfterPlay(p, exts, payloadFrom(req, true))
		return nil
	}

	p.mu.Lock()
	p.cancelLeaveLocked()
	// A paused or ducked track still owns the advance cycle; only start
	// playback when nothing is active.
	trackActive := p.isPlaying || p.isPaused || p.queue.Current() != nil
	if len(tracks) == 1 {
		p.queue.Add(tracks[0])
	} else {
		p.queue.AddMultiple(tracks)
	}
	p.mu.Unlock()

	if len(tracks) == 1 {
		p.emit(Event{Type: EventQueueAdd, Track: tracks[0]})
	} else {
		p.emit(Event{Type: EventQueueAddList, Tracks: tracks})
	}

	if !trackActive {
		p.playNext()
	}
	runAfterPlay(p, exts, payloadFrom(req, true))
	return nil
}

func payloadFrom(req *PlayRequest, success bool) AfterPlayPayload {
	tracks := make([]*Track, len(req.Tracks))
	copy(tracks, req.Tracks)
	return AfterPlayPayload{
		Query:       req.Query,
		RequestedBy: req.RequestedBy,
		Tracks:      tracks,
		IsPlaylist:  req.IsPlaylist,
		Success:     success,
		Err:         req.Err,
	}
}

// Search resolves a query to tracks: extensions' provideSearch first, then
// each registered plugin sequentially under the extractor timeout. Errors
// from earlier plugins are swallowed and retried on the next one; the last
// error is retained for diagnostics.
func (p *Player) Search(ctx context.Context, query string, requestedBy Requester) (*SearchResult, error) {
	exts := p.activeExtensions()
	if tracks := runProvideSearch(ctx, p, exts, query, requestedBy); len(tracks) > 0 {
		return &SearchResult{Tracks: tracks}, nil
	}
	return searchPlugins(ctx, p.plugins.GetAll(), p.opts.ExtractorTimeout, query, requestedBy, p.debugf)
}

// searchPlugins is the shared sequential plugin search used by Player and
// Manager.
func searchPlugins(
	ctx context.Context,
	plugins []SourcePlugin,
	timeout time.Duration,
	query string,
	requestedBy Requester,
	debugf func(string, ...any),
) (*SearchResult, error) {
	var lastErr error
	for _, plugin := range plugins {
		if !plugin.CanHandle(query) {
			continue
		}
		result, err := searchWithTimeout(ctx, timeout, plugin, query, requestedBy)
		if err != nil {
			lastErr = err
			if debugf != nil {
				debugf("plugin %s search failed: %v", plugin.Name(), err)
			}
			continue
		}
		if result != nil && len(result.Tracks) > 0 {
			return result, nil
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w (last error: %v)", ErrNoPlugin, lastErr)
	}
	return nil, ErrNoPlugin
}

// searchWithTimeout runs a plugin search under a hard deadline; a plugin
// that ignores its context cannot block the caller past the timeout.
func searchWithTimeout(ctx context.Context, d time.Duration, plugin SourcePlugin, query string, requestedBy Requester) (*SearchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type outcome struct {
		result *SearchResult
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		result, err := plugin.Search(ctx, query, requestedBy)
		ch <- outcome{result, err}
	}()
	select {
	case o := <-ch:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// streamWithTimeout guards a stream acquisition call the same way.
func streamWithTimeout(ctx context.Context, d time.Duration, fn func(context.Context) (*StreamInfo, error)) (*StreamInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type outcome struct {
		info *StreamInfo
		err  error
	}
	ch := make(chan outcome, 1)
	go func() {
		info, err := fn(ctx)
		ch <- outcome{info, err}
	}()
	select {
	case o := <-ch:
		return o.info, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// playNext advances the queue and starts the next track. Failures advance to
// the following track, bounded by maxAdvanceAttempts.
func (p *Player) playNext() {
	for attempt := 0; attempt < maxAdvanceAttempts; attempt++ {
		p.mu.Lock()
		if p.destroyed {
			p.mu.Unlock()
			return
		}
		ignoreLoop := p.skipLoop
		p.skipLoop = false
		track := p.queue.Next(ignoreLoop)
		if track == nil && p.queue.AutoPlay() {
			if lookahead := p.queue.WillNext(); lookahead != nil {
				p.queue.SetWillNext(nil)
				p.queue.Add(lookahead)
				track = p.queue.Next(false)
			}
		}
		if track == nil {
			p.mu.Unlock()
			p.emit(Event{Type: EventQueueEnd})
			if p.opts.LeaveOnEnd {
				p.scheduleLeave()
			}
			return
		}
		p.cancelLeaveLocked()
		p.mu.Unlock()

		// Lookahead runs in the background and never blocks playback.
		go p.generateWillNext(track)

		if err := p.startTrack(track); err != nil {
			p.emit(Event{Type: EventPlayerError, Track: track, Err: err})
			continue
		}
		return
	}

	p.emit(Event{
		Type: EventPlayerError,
		Err:  fmt.Errorf("%w: gave up after %d consecutive failures", ErrStreamFailed, maxAdvanceAttempts),
	})
	p.emit(Event{Type: EventQueueEnd})
	if p.opts.LeaveOnEnd {
		p.scheduleLeave()
	}
}

// startTrack resolves a stream for the track and starts it on the primary
// engine, or hands off entirely when an extension handles playback itself.
func (p *Player) startTrack(track *Track) error {
	provided, err := p.resolveStream(context.Background(), track)
	if err != nil {
		return err
	}

	if provided.Handled && provided.Info == nil {
		// An extension is playing the track elsewhere; do not touch the
		// local engine.
		p.mu.Lock()
		p.isPlaying = true
		p.state = StatePlaying
		p.mu.Unlock()
		p.emit(Event{Type: EventTrackStart, Track: track})
		return nil
	}

	p.mu.Lock()
	displaced := p.current
	res := NewResource(track, provided.Info, p.volume)
	p.current = res
	p.mu.Unlock()

	// Replacing a live resource bypasses the engine's idle transition, so the
	// displaced track is retired here.
	if displaced != nil {
		if displaced.Stream != nil {
			_ = displaced.Stream.Close()
		}
		p.emit(Event{Type: EventTrackEnd, Track: displaced.Track})
	}

	p.engine.Play(res)
	p.emit(Event{Type: EventTrackStart, Track: track})
	return nil
}

// resolveStream acquires audio for a track: extensions first, then the
// matched plugin, then the fallback chain across all fallback-capable
// plugins, each attempt under the extractor timeout.
func (p *Player) resolveStream(ctx context.Context, track *Track) (*ProvidedStream, error) {
	exts := p.activeExtensions()
	if provided := runProvideStream(ctx, p, exts, track); provided != nil {
		return provided, nil
	}

	var lastErr error
	primary := p.plugins.ResolveTrack(track)
	if primary != nil {
		info, err := streamWithTimeout(ctx, p.opts.ExtractorTimeout, func(ctx context.Context) (*StreamInfo, error) {
			return primary.GetStream(ctx, track)
		})
		if err == nil && info != nil {
			return &ProvidedStream{Info: info}, nil
		}
		lastErr = err
		p.debugf("plugin %s getStream failed for %q: %v", primary.Name(), track.Title, err)
	}

	for _, plugin := range p.plugins.GetAll() {
		fallback, ok := plugin.(FallbackProvider)
		if !ok {
			continue
		}
		info, err := streamWithTimeout(ctx, p.opts.ExtractorTimeout, func(ctx context.Context) (*StreamInfo, error) {
			return fallback.GetFallback(ctx, track)
		})
		if err != nil {
			lastErr = err
			p.debugf("plugin %s fallback failed for %q: %v", plugin.Name(), track.Title, err)
			continue
		}
		if info != nil {
			return &ProvidedStream{Info: info}, nil
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w (last error: %v)", ErrStreamFailed, lastErr)
	}
	if primary == nil {
		return nil, ErrNoPlugin
	}
	return nil, ErrStreamFailed
}

// generateWillNext computes the autoplay lookahead for the track that just
// started: related tracks from the matching plugin, else from any plugin
// exposing related lookup.
func (p *Player) generateWillNext(track *Track) {
	var provider RelatedProvider
	var providerName string
	if matched := p.plugins.ResolveTrack(track); matched != nil {
		if rp, ok := matched.(RelatedProvider); ok {
			provider = rp
			providerName = matched.Name()
		}
	}
	if provider == nil {
		for _, plugin := range p.plugins.GetAll() {
			if rp, ok := plugin.(RelatedProvider); ok {
				provider = rp
				providerName = plugin.Name()
				break
			}
		}
	}
	if provider == nil {
		return
	}

	p.mu.Lock()
	history := make([]string, 0, len(p.queue.history)+1)
	for _, h := range p.queue.history {
		history = append(history, h.URL)
	}
	history = append(history, track.URL)
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.opts.ExtractorTimeout)
	defer cancel()
	related, err := provider.GetRelatedTracks(ctx, track.URL, RelatedOptions{Limit: 5, History: history})
	if err != nil {
		p.debugf("plugin %s related lookup failed: %v", providerName, err)
		return
	}
	if len(related) == 0 {
		return
	}

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.queue.SetRelated(related)
	p.queue.SetWillNext(related[0])
	p.mu.Unlock()
	p.emit(Event{Type: EventWillPlay, Track: related[0], Tracks: related})
}

// onEngineTransition mirrors engine state into the player and drives the
// advance cycle when a track ends.
func (p *Player) onEngineTransition(prev, next EngineState) {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.isPlaying = next == EnginePlaying || next == EngineBuffering
	p.isPaused = next == EnginePaused
	switch next {
	case EnginePlaying:
		p.state = StatePlaying
	case EnginePaused:
		p.state = StatePaused
	case EngineBuffering:
		p.state = StateBuffering
	case EngineAutoPaused:
		p.state = StateAutoPaused
	case EngineIdle:
		p.state = StateIdle
	}
	p.mu.Unlock()

	if prev != EngineIdle && next == EngineIdle {
		p.handleTrackEnd()
	}
}

func (p *Player) handleTrackEnd() {
	p.mu.Lock()
	res := p.current
	p.current = nil
	destroyed := p.destroyed
	p.mu.Unlock()
	if destroyed {
		return
	}

	if res != nil {
		if res.Stream != nil {
			_ = res.Stream.Close()
		}
		p.emit(Event{Type: EventTrackEnd, Track: res.Track})
	}
	p.playNext()
}

// NotifyExternalEnd reports that a track an extension was playing externally
// has finished. It drives the same advance cycle as a local engine going
// idle; extensions call it from their own end-of-track events.
func (p *Player) NotifyExternalEnd(t *Track) {
	p.mu.Lock()
	if p.destroyed || p.current != nil {
		// A locally played resource owns the advance cycle.
		p.mu.Unlock()
		return
	}
	p.isPlaying = false
	p.state = StateIdle
	p.mu.Unlock()

	if t != nil {
		p.emit(Event{Type: EventTrackEnd, Track: t})
	}
	p.playNext()
}

// Pause pauses the primary engine. It reports whether playback transitioned.
func (p *Player) Pause() bool {
	if !p.engine.Pause() {
		return false
	}
	p.emit(Event{Type: EventPlayerPause})
	return true
}

// Resume resumes the primary engine. It reports whether playback transitioned.
func (p *Player) Resume() bool {
	if !p.engine.Resume() {
		return false
	}
	p.emit(Event{Type: EventPlayerResume})
	return true
}

// Stop clears the queue and stops the engine. The resulting idle transition
// finds an empty queue and emits queueEnd.
func (p *Player) Stop() {
	p.mu.Lock()
	p.queue.Clear()
	p.skipLoop = false
	p.mu.Unlock()

	p.emit(Event{Type: EventPlayerStop})
	p.engine.Stop()
}

// Skip stops the current track. The one-shot ignore-loop flag guarantees the
// skipped track is not replayed even in track-loop mode.
func (p *Player) Skip() {
	p.mu.Lock()
	p.skipLoop = true
	p.mu.Unlock()
	p.engine.Stop()
}

// Remove removes the upcoming track at the given index and emits queueRemove.
func (p *Player) Remove(index int) *Track {
	p.mu.Lock()
	t := p.queue.Remove(index)
	p.mu.Unlock()
	if t != nil {
		p.emit(Event{Type: EventQueueRemove, Track: t})
	}
	return t
}

// Previous replays the most recent history entry, pushing the interrupted
// track back to the front of the queue.
func (p *Player) Previous() error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return ErrPlayerDestroyed
	}
	interrupted := p.queue.Current()
	prev := p.queue.Previous()
	if prev == nil {
		p.mu.Unlock()
		return ErrNoHistory
	}
	if interrupted != nil {
		p.queue.Insert(interrupted, 0)
	}
	p.mu.Unlock()

	if err := p.startTrack(prev); err != nil {
		p.emit(Event{Type: EventPlayerError, Track: prev, Err: err})
		return err
	}
	return nil
}

// SetVolume fades the live resource to the target volume in ten linear steps
// and reports whether the volume was accepted. Out-of-range values are
// rejected and leave the volume unchanged.
func (p *Player) SetVolume(v int) bool {
	if v < 0 || v > 200 {
		return false
	}

	p.mu.Lock()
	from := p.volume
	p.volume = v
	res := p.current
	p.fadeSeq++
	seq := p.fadeSeq
	p.mu.Unlock()

	if res != nil && from != v {
		go p.fadeVolume(res, from, v, seq)
	}
	p.emit(Event{Type: EventVolumeChange, Volume: v})
	return true
}

func (p *Player) fadeVolume(res *Resource, from, to, seq int) {
	for step := 1; step <= volumeFadeSteps; step++ {
		<-p.clock.After(volumeFadeTick)
		p.mu.Lock()
		stale := seq != p.fadeSeq || p.destroyed
		p.mu.Unlock()
		if stale {
			return
		}
		res.SetVolume(from + (to-from)*step/volumeFadeSteps)
	}
}

// scheduleLeave arms the idle disconnect timer; any new activity cancels it.
func (p *Player) scheduleLeave() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return
	}
	if p.leaveTimer != nil {
		p.leaveTimer.Stop()
	}
	p.leaveTimer = p.clock.AfterFunc(p.opts.LeaveTimeout, func() {
		p.debugf("idle for %s, leaving", p.opts.LeaveTimeout)
		_ = p.Destroy(context.Background())
	})
}

// NotifyChannelEmpty reports that no listeners remain in the bot's voice
// channel. When leave-on-empty is enabled it arms the idle disconnect timer
// even while a track is playing.
func (p *Player) NotifyChannelEmpty() {
	if !p.opts.LeaveOnEmpty {
		return
	}
	p.scheduleLeave()
}

// NotifyChannelOccupied reports that listeners are back in the bot's voice
// channel and disarms the empty-channel disconnect timer.
func (p *Player) NotifyChannelOccupied() {
	if !p.opts.LeaveOnEmpty {
		return
	}
	p.mu.Lock()
	p.cancelLeaveLocked()
	p.mu.Unlock()
}

// cancelLeaveLocked disarms the idle disconnect timer. Caller holds p.mu.
func (p *Player) cancelLeaveLocked() {
	if p.leaveTimer != nil {
		p.leaveTimer.Stop()
		p.leaveTimer = nil
	}
}

// Destroy tears the player down: stops engines, clears the queue, detaches
// extensions, unregisters plugins, and closes the voice connection. It is
// idempotent and terminal.
func (p *Player) Destroy(ctx context.Context) error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil
	}
	p.destroyed = true
	p.state = StateDestroyed
	p.isPlaying = false
	p.isPaused = false
	p.cancelLeaveLocked()
	p.queue.Clear()
	exts := p.extensions
	p.extensions = nil
	conn := p.conn
	p.conn = nil
	ttsEngine := p.ttsEngine
	p.mu.Unlock()

	p.engine.Stop()
	if ttsEngine != nil {
		ttsEngine.Stop()
	}

	for _, ext := range exts {
		if hook, ok := ext.(DestroyHook); ok {
			invokeHook(p, ext.Name(), "onDestroy", func() {
				if err := hook.OnDestroy(p); err != nil {
					slog.Debug("extension onDestroy failed", "extension", ext.Name(), "error", err)
				}
			})
		}
	}

	p.plugins.Clear()

	var closeErr error
	if conn != nil {
		closeErr = conn.Close(ctx)
	}

	p.emit(Event{Type: EventPlayerDestroy})
	if p.onDestroy != nil {
		p.onDestroy(p)
	}
	return closeErr
}

func (p *Player) emit(e Event) {
	e.Player = p
	p.bus.Emit(e)
}

func (p *Player) debugf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	slog.Debug(msg, "guild", p.guildID)
	p.emit(Event{Type: EventDebug, Message: msg})
}
