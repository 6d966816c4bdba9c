package music

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/disgoorg/snowflake/v2"

	"github.com/sglre6355/groovebot/internal/player"
)

// nullEngine satisfies the audio engine contract without producing audio.
type nullEngine struct {
	mu        sync.Mutex
	state     player.EngineState
	observers []func(prev, next player.EngineState)
}

func (e *nullEngine) transition(next player.EngineState) {
	e.mu.Lock()
	prev := e.state
	e.state = next
	observers := make([]func(player.EngineState, player.EngineState), len(e.observers))
	copy(observers, e.observers)
	e.mu.Unlock()

	for _, fn := range observers {
		fn(prev, next)
	}
}

func (e *nullEngine) Play(res *player.Resource) {
	if res.Stream != nil {
		res.Stream.Close()
	}
	e.transition(player.EnginePlaying)
}

func (e *nullEngine) Pause() bool {
	e.mu.Lock()
	playing := e.state == player.EnginePlaying
	e.mu.Unlock()
	if !playing {
		return false
	}
	e.transition(player.EnginePaused)
	return true
}

func (e *nullEngine) Resume() bool {
	e.mu.Lock()
	paused := e.state == player.EnginePaused
	e.mu.Unlock()
	if !paused {
		return false
	}
	e.transition(player.EnginePlaying)
	return true
}

func (e *nullEngine) Stop() {
	e.mu.Lock()
	idle := e.state == player.EngineIdle
	e.mu.Unlock()
	if idle {
		return
	}
	e.transition(player.EngineIdle)
}

func (e *nullEngine) State() player.EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *nullEngine) OnStateChange(fn func(prev, next player.EngineState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, fn)
}

// nullConn satisfies the voice connection contract without a gateway.
type nullConn struct{}

func (c *nullConn) Open(_ context.Context, _ snowflake.ID, _, _ bool) error { return nil }
func (c *nullConn) Subscribe(_ player.AudioEngine)                          {}
func (c *nullConn) Close(_ context.Context) error                           { return nil }
func (c *nullConn) OnClosed(_ func(error))                                  {}

// stubSource resolves every query to a single fixed track.
type stubSource struct {
	searchErr error
}

func (s *stubSource) Name() string          { return "stub" }
func (s *stubSource) Version() string       { return "0.0.0-test" }
func (s *stubSource) CanHandle(string) bool { return true }

func (s *stubSource) Search(_ context.Context, query string, requestedBy player.Requester) (*player.SearchResult, error) {
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return &player.SearchResult{
		Tracks: []*player.Track{
			{
				ID:          "stub-" + query,
				Title:       query,
				URL:         "https://example.test/" + query,
				Duration:    3 * time.Minute,
				Source:      "stub",
				RequestedBy: requestedBy,
			},
		},
	}, nil
}

func (s *stubSource) GetStream(_ context.Context, _ *player.Track) (*player.StreamInfo, error) {
	return &player.StreamInfo{
		Stream: io.NopCloser(strings.NewReader("audio")),
		Type:   player.StreamTypeArbitrary,
	}, nil
}

func newTestManager(source player.SourcePlugin) *player.Manager {
	m := player.NewManager(player.Options{}, player.Deps{
		Engines:     func() player.AudioEngine { return &nullEngine{} },
		Connections: func(_ snowflake.ID) player.VoiceConnection { return &nullConn{} },
	})
	if source != nil {
		m.RegisterPlugin(source)
	}
	return m
}

// newTestSession builds a session whose state has the bot and one user sharing
// a voice channel in guild 42.
func newTestSession() *discordgo.Session {
	s := &discordgo.Session{State: discordgo.NewState()}
	s.State.User = &discordgo.User{ID: "999", Username: "bot"}
	_ = s.State.GuildAdd(&discordgo.Guild{
		ID: "42",
		VoiceStates: []*discordgo.VoiceState{
			{GuildID: "42", UserID: "999", ChannelID: "100"},
			{GuildID: "42", UserID: "1", ChannelID: "100"},
		},
	})
	return s
}

func commandInteraction(data discordgo.ApplicationCommandInteractionData) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:      discordgo.InteractionApplicationCommand,
			GuildID:   "42",
			ChannelID: "7",
			Member: &discordgo.Member{
				User: &discordgo.User{ID: "1", Username: "tester"},
			},
			Data: data,
		},
	}
}

func stringOption(name, value string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionString,
		Value: value,
	}
}

func intOption(name string, value int) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionInteger,
		Value: float64(value),
	}
}

func embedDescription(resp *discordgo.InteractionResponse) string {
	if resp == nil || resp.Data == nil || len(resp.Data.Embeds) == 0 {
		return ""
	}
	return resp.Data.Embeds[0].Description
}
