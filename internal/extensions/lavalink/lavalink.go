// Package lavalink provides the extension that offloads search and playback
// to a Lavalink audio server. When attached and the node is reachable, it
// resolves queries through Lavalink's loaders and plays tracks on the server
// side; the local engine is never touched for tracks it handles.
package lavalink

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/disgoorg/disgolink/v3/disgolink"
	"github.com/disgoorg/disgolink/v3/lavalink"
	"github.com/disgoorg/snowflake/v2"

	"github.com/sglre6355/groovebot/internal/player"
)

const (
	// ExtensionName is the registry name of this extension.
	ExtensionName = "lavalink"

	extensionVersion = "1.0.0"

	// encodedKey carries the Lavalink-encoded track through track metadata so
	// ProvideStream can replay it without a second load.
	encodedKey = "lavalink:encoded"

	voiceConnectTimeout = 10 * time.Second
)

// Config carries the Lavalink node settings.
type Config struct {
	Address  string
	Password string
}

// voiceEventBuffer holds one guild's voice handshake halves until both have
// arrived. Discord delivers VoiceStateUpdate and VoiceServerUpdate in either
// order; Lavalink rejects partial state.
type voiceEventBuffer struct {
	mu sync.Mutex

	hasState  bool
	channelID *snowflake.ID
	sessionID string

	hasServer bool
	token     string
	endpoint  string
}

func (b *voiceEventBuffer) setState(channelID *snowflake.ID, sessionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hasState = true
	b.channelID = channelID
	b.sessionID = sessionID
	return b.hasState && b.hasServer
}

func (b *voiceEventBuffer) setServer(token, endpoint string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hasServer = true
	b.token = token
	b.endpoint = endpoint
	return b.hasState && b.hasServer
}

func (b *voiceEventBuffer) take() (channelID *snowflake.ID, sessionID, token, endpoint string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	channelID, sessionID, token, endpoint = b.channelID, b.sessionID, b.token, b.endpoint
	b.hasState, b.hasServer = false, false
	b.channelID, b.sessionID, b.token, b.endpoint = nil, "", "", ""
	return
}

// Extension bridges the orchestrator to a Lavalink node.
type Extension struct {
	session *discordgo.Session
	link    disgolink.Client
	botID   snowflake.ID

	mu      sync.Mutex
	players map[snowflake.ID]*player.Player
	// playing maps a guild to the track Lavalink is currently playing for it.
	playing map[snowflake.ID]*player.Track

	bufferMu sync.Mutex
	buffers  map[snowflake.ID]*voiceEventBuffer

	pendingMu sync.Mutex
	pending   map[snowflake.ID]chan struct{}
}

// New connects to the Lavalink node and returns the extension.
func New(session *discordgo.Session, cfg Config) (*Extension, error) {
	botID, err := snowflake.Parse(session.State.User.ID)
	if err != nil {
		return nil, fmt.Errorf("parse bot id: %w", err)
	}

	ext := &Extension{
		session: session,
		botID:   botID,
		players: make(map[snowflake.ID]*player.Player),
		playing: make(map[snowflake.ID]*player.Track),
		buffers: make(map[snowflake.ID]*voiceEventBuffer),
		pending: make(map[snowflake.ID]chan struct{}),
	}

	link := disgolink.New(botID,
		disgolink.WithListenerFunc(ext.onTrackStart),
		disgolink.WithListenerFunc(ext.onTrackEnd),
		disgolink.WithListenerFunc(ext.onTrackException),
		disgolink.WithListenerFunc(ext.onTrackStuck),
	)
	ext.link = link

	node, err := link.AddNode(context.Background(), disgolink.NodeConfig{
		Name:     "main",
		Address:  cfg.Address,
		Password: cfg.Password,
		Secure:   false,
	})
	if err != nil {
		return nil, fmt.Errorf("add lavalink node: %w", err)
	}
	slog.Info("connected to lavalink", "node", node.Config().Name, "address", cfg.Address)

	return ext, nil
}

func (e *Extension) Name() string    { return ExtensionName }
func (e *Extension) Version() string { return extensionVersion }

// Active reports whether a Lavalink node is reachable. With no node the
// extension stands aside and local playback takes over.
func (e *Extension) Active(*player.Player) bool {
	return e.link.BestNode() != nil
}

// OnRegister tracks the player so node-side end events can reach it.
func (e *Extension) OnRegister(p *player.Player) error {
	e.mu.Lock()
	e.players[p.GuildID()] = p
	e.mu.Unlock()
	return nil
}

// OnDestroy destroys the node-side player and forgets the guild.
func (e *Extension) OnDestroy(p *player.Player) error {
	guildID := p.GuildID()

	e.mu.Lock()
	delete(e.players, guildID)
	delete(e.playing, guildID)
	e.mu.Unlock()

	if lp := e.link.ExistingPlayer(guildID); lp != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lp.Destroy(ctx); err != nil {
			slog.Warn("failed to destroy lavalink player", "guild", guildID, "error", err)
		}
	}
	return nil
}

// ProvideSearch resolves the query through the node's loaders. Plain text
// becomes a YouTube search; URLs load directly.
func (e *Extension) ProvideSearch(ctx context.Context, _ *player.Player, query string, requestedBy player.Requester) ([]*player.Track, error) {
	node := e.link.BestNode()
	if node == nil {
		return nil, fmt.Errorf("no lavalink node available")
	}

	identifier := query
	if !strings.HasPrefix(query, "http://") && !strings.HasPrefix(query, "https://") {
		identifier = "ytsearch:" + query
	}

	result, err := node.LoadTracks(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("lavalink load: %w", err)
	}

	switch data := result.Data.(type) {
	case lavalink.Track:
		return []*player.Track{convertTrack(data, requestedBy)}, nil
	case lavalink.Playlist:
		tracks := make([]*player.Track, 0, len(data.Tracks))
		for _, t := range data.Tracks {
			tracks = append(tracks, convertTrack(t, requestedBy))
		}
		return tracks, nil
	case lavalink.Search:
		tracks := make([]*player.Track, 0, len(data))
		for _, t := range data {
			tracks = append(tracks, convertTrack(t, requestedBy))
		}
		return tracks, nil
	case lavalink.Exception:
		return nil, fmt.Errorf("lavalink load failed: %s", data.Message)
	default: // lavalink.Empty
		return nil, nil
	}
}

// ProvideStream plays the track on the node and claims external handling.
// Tracks without an encoded payload (queued by another source) are loaded by
// URL first.
func (e *Extension) ProvideStream(ctx context.Context, p *player.Player, t *player.Track) (*player.ProvidedStream, error) {
	encoded, ok := t.Metadata[encodedKey].(string)
	if !ok || encoded == "" {
		if t.URL == "" {
			return nil, nil
		}
		node := e.link.BestNode()
		if node == nil {
			return nil, fmt.Errorf("no lavalink node available")
		}
		result, err := node.LoadTracks(ctx, t.URL)
		if err != nil {
			return nil, fmt.Errorf("lavalink load: %w", err)
		}
		loaded, isTrack := result.Data.(lavalink.Track)
		if !isTrack {
			return nil, nil
		}
		encoded = loaded.Encoded
	}

	guildID := p.GuildID()
	if err := e.link.Player(guildID).Update(ctx, lavalink.WithEncodedTrack(encoded)); err != nil {
		return nil, fmt.Errorf("lavalink play: %w", err)
	}

	e.mu.Lock()
	e.playing[guildID] = t
	e.mu.Unlock()

	return &player.ProvidedStream{Handled: true}, nil
}

// JoinChannel joins a voice channel through the gateway and waits for the
// node to receive the full voice handshake.
func (e *Extension) JoinChannel(ctx context.Context, guildID, channelID snowflake.ID) error {
	ready := make(chan struct{})
	e.pendingMu.Lock()
	e.pending[guildID] = ready
	e.pendingMu.Unlock()
	defer func() {
		e.pendingMu.Lock()
		delete(e.pending, guildID)
		e.pendingMu.Unlock()
	}()

	if err := e.session.ChannelVoiceJoinManual(guildID.String(), channelID.String(), false, false); err != nil {
		return fmt.Errorf("join voice channel: %w", err)
	}

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for voice connection: %w", ctx.Err())
	case <-time.After(voiceConnectTimeout):
		return fmt.Errorf("timeout waiting for voice connection")
	}
}

// LeaveChannel leaves the guild's voice channel.
func (e *Extension) LeaveChannel(_ context.Context, guildID snowflake.ID) error {
	if err := e.session.ChannelVoiceJoinManual(guildID.String(), "", false, false); err != nil {
		return fmt.Errorf("leave voice channel: %w", err)
	}
	return nil
}

// OnVoiceStateUpdate forwards the bot's voice state half of the handshake.
// The gateway handler must call it for every VoiceStateUpdate.
func (e *Extension) OnVoiceStateUpdate(event *discordgo.VoiceStateUpdate) {
	if event.UserID != e.botID.String() {
		return
	}
	guildID, err := snowflake.Parse(event.GuildID)
	if err != nil {
		slog.Error("bad guild id in voice state update", "error", err)
		return
	}

	var channelID *snowflake.ID
	if event.ChannelID != "" {
		id, err := snowflake.Parse(event.ChannelID)
		if err != nil {
			slog.Error("bad channel id in voice state update", "error", err)
			return
		}
		channelID = &id
	}

	if channelID == nil {
		// Disconnect needs no server half.
		e.link.OnVoiceStateUpdate(context.Background(), guildID, nil, event.SessionID)
		e.dropBuffer(guildID)
		return
	}

	if e.buffer(guildID).setState(channelID, event.SessionID) {
		e.forward(guildID)
	}
}

// OnVoiceServerUpdate forwards the voice server half of the handshake.
func (e *Extension) OnVoiceServerUpdate(event *discordgo.VoiceServerUpdate) {
	guildID, err := snowflake.Parse(event.GuildID)
	if err != nil {
		slog.Error("bad guild id in voice server update", "error", err)
		return
	}
	if e.buffer(guildID).setServer(event.Token, event.Endpoint) {
		e.forward(guildID)
	}
}

func (e *Extension) buffer(guildID snowflake.ID) *voiceEventBuffer {
	e.bufferMu.Lock()
	defer e.bufferMu.Unlock()
	b, ok := e.buffers[guildID]
	if !ok {
		b = &voiceEventBuffer{}
		e.buffers[guildID] = b
	}
	return b
}

func (e *Extension) dropBuffer(guildID snowflake.ID) {
	e.bufferMu.Lock()
	defer e.bufferMu.Unlock()
	delete(e.buffers, guildID)
}

func (e *Extension) forward(guildID snowflake.ID) {
	e.bufferMu.Lock()
	buffer := e.buffers[guildID]
	delete(e.buffers, guildID)
	e.bufferMu.Unlock()
	if buffer == nil {
		return
	}

	channelID, sessionID, token, endpoint := buffer.take()
	slog.Debug("forwarding voice handshake to lavalink", "guild", guildID, "channel", channelID)
	e.link.OnVoiceStateUpdate(context.Background(), guildID, channelID, sessionID)
	e.link.OnVoiceServerUpdate(context.Background(), guildID, token, endpoint)

	e.pendingMu.Lock()
	if ready, ok := e.pending[guildID]; ok {
		select {
		case <-ready:
		default:
			close(ready)
		}
	}
	e.pendingMu.Unlock()
}

func (e *Extension) onTrackStart(lp disgolink.Player, event lavalink.TrackStartEvent) {
	slog.Debug("lavalink track started", "guild", lp.GuildID(), "track", event.Track.Info.Title)
}

func (e *Extension) onTrackEnd(lp disgolink.Player, event lavalink.TrackEndEvent) {
	slog.Debug("lavalink track ended", "guild", lp.GuildID(), "reason", event.Reason)

	// Replaced and stopped ends are driven by the orchestrator itself.
	if event.Reason != lavalink.TrackEndReasonFinished && event.Reason != lavalink.TrackEndReasonLoadFailed {
		return
	}

	e.mu.Lock()
	p := e.players[lp.GuildID()]
	track := e.playing[lp.GuildID()]
	delete(e.playing, lp.GuildID())
	e.mu.Unlock()

	if p != nil {
		p.NotifyExternalEnd(track)
	}
}

func (e *Extension) onTrackException(lp disgolink.Player, event lavalink.TrackExceptionEvent) {
	slog.Warn("lavalink track exception", "guild", lp.GuildID(), "error", event.Exception.Message)
}

func (e *Extension) onTrackStuck(lp disgolink.Player, event lavalink.TrackStuckEvent) {
	slog.Warn("lavalink track stuck", "guild", lp.GuildID(), "threshold", event.Threshold)
}

func convertTrack(t lavalink.Track, requestedBy player.Requester) *player.Track {
	info := t.Info
	track := &player.Track{
		ID:          info.Identifier,
		Title:       info.Title,
		Duration:    time.Duration(info.Length) * time.Millisecond,
		RequestedBy: requestedBy,
		Source:      ExtensionName,
		Metadata: map[string]any{
			encodedKey: t.Encoded,
			"artist":   info.Author,
			"isStream": info.IsStream,
		},
	}
	if info.URI != nil {
		track.URL = *info.URI
	}
	if info.ArtworkURL != nil {
		track.Thumbnail = *info.ArtworkURL
	}
	return track
}

var (
	_ player.Extension      = (*Extension)(nil)
	_ player.RegisterHook   = (*Extension)(nil)
	_ player.DestroyHook    = (*Extension)(nil)
	_ player.SearchProvider = (*Extension)(nil)
	_ player.StreamProvider = (*Extension)(nil)
)
