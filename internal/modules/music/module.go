package music

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/caarlos0/env/v11"
	"github.com/disgoorg/snowflake/v2"

	"github.com/sglre6355/groovebot/internal/bot"
	"github.com/sglre6355/groovebot/internal/discord"
	"github.com/sglre6355/groovebot/internal/extensions/lavalink"
	"github.com/sglre6355/groovebot/internal/player"
	"github.com/sglre6355/groovebot/internal/sources/speech"
	"github.com/sglre6355/groovebot/internal/sources/youtube"
	"github.com/sglre6355/groovebot/internal/sources/ytdlp"
	"github.com/sglre6355/groovebot/internal/sources/ytmusic"
)

func init() {
	bot.Register(&Module{})
}

// Compile-time interface checks.
var _ bot.ConfigurableModule = (*Module)(nil)

// Module provides music playback commands backed by the per-guild player
// orchestrator.
type Module struct {
	config       *Config
	manager      *player.Manager
	handlers     *CommandHandlers
	autocomplete *AutocompleteHandler
	notifier     *Notifier

	lavalink *lavalink.Extension
	speech   *speech.Plugin

	// connections tracks the live in-process voice connections so gateway
	// events can report forced drops to them.
	connMu      sync.Mutex
	connections map[snowflake.ID]*discord.Connection
}

// Name returns the module name.
func (m *Module) Name() string {
	return "music"
}

// Commands returns the slash commands for this module.
func (m *Module) Commands() []*discordgo.ApplicationCommand {
	return Commands()
}

// CommandHandlers returns the command handlers for this module.
func (m *Module) CommandHandlers() map[string]bot.InteractionHandler {
	return map[string]bot.InteractionHandler{
		"join":       m.handlers.HandleJoin,
		"leave":      m.handlers.HandleLeave,
		"play":       m.handlers.HandlePlay,
		"say":        m.handlers.HandleSay,
		"stop":       m.handlers.HandleStop,
		"pause":      m.handlers.HandlePause,
		"resume":     m.handlers.HandleResume,
		"skip":       m.handlers.HandleSkip,
		"previous":   m.handlers.HandlePrevious,
		"nowplaying": m.handlers.HandleNowPlaying,
		"shuffle":    m.handlers.HandleShuffle,
		"volume":     m.handlers.HandleVolume,
		"autoplay":   m.handlers.HandleAutoplay,
		"queue":      m.handlers.HandleQueue,
		"loop":       m.handlers.HandleLoop,
	}
}

// EventHandlers returns the event handlers for this module.
func (m *Module) EventHandlers() []bot.EventHandler {
	return []bot.EventHandler{
		func(s *discordgo.Session, event *discordgo.VoiceServerUpdate) {
			m.handleVoiceServerUpdate(s, event)
		},
		func(s *discordgo.Session, event *discordgo.VoiceStateUpdate) {
			m.handleVoiceStateUpdate(s, event)
		},
		func(s *discordgo.Session, event *discordgo.InteractionCreate) {
			m.handleInteractionCreate(s, event)
		},
	}
}

// LoadConfig loads module-specific configuration from environment variables.
func (m *Module) LoadConfig() error {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return err
	}
	m.config = cfg
	return nil
}

// Init initializes the module.
func (m *Module) Init(deps bot.ModuleDependencies) error {
	if deps.Session == nil {
		return errors.New("music module requires a Discord session")
	}
	if m.config == nil {
		m.config = &Config{DefaultVolume: player.DefaultVolume}
	}

	m.connections = make(map[snowflake.ID]*discord.Connection)

	opts := player.Options{
		Volume:       m.config.DefaultVolume,
		LeaveOnEnd:   true,
		LeaveOnEmpty: m.config.LeaveOnEmpty,
		LeaveTimeout: m.config.LeaveTimeout,
		SelfDeaf:     m.config.SelfDeaf,
		TTS: player.TTSOptions{
			CreatePlayer: m.config.TTSEnabled(),
			Interrupt:    m.config.TTSEnabled(),
			Volume:       m.config.TTSVolume,
		},
	}

	m.manager = player.NewManager(opts, player.Deps{
		Engines:     discord.NewEngineFactory(),
		Connections: m.connectionFactory(deps.Session),
	})

	// Sources, most specific first: prefix-routed speech, YouTube Music,
	// plain YouTube, and yt-dlp as the catch-all.
	if m.config.TTSEnabled() {
		speechPlugin, err := speech.New(speech.Config{
			APIKey:   m.config.YandexAPIKey,
			FolderID: m.config.YandexFolderID,
			Voice:    m.config.TTSVoice,
			Speed:    m.config.TTSSpeed,
		})
		if err != nil {
			return err
		}
		m.speech = speechPlugin
		m.manager.RegisterPlugin(speechPlugin)
	}
	m.manager.RegisterPlugin(ytmusic.New())
	m.manager.RegisterPlugin(youtube.New())
	m.manager.RegisterPlugin(ytdlp.New())

	if m.config.LavalinkEnabled() {
		lava, err := lavalink.New(deps.Session, lavalink.Config{
			Address:  m.config.LavalinkAddress,
			Password: m.config.LavalinkPassword,
		})
		if err != nil {
			return err
		}
		m.lavalink = lava
		m.manager.RegisterExtension(lava)
	}

	m.notifier = NewNotifier(deps.Session, m.manager)
	m.notifier.Start()
	m.handlers = NewCommandHandlers(m.manager, m.lavalink, m.notifier)
	m.autocomplete = NewAutocompleteHandler(m.manager)

	slog.Info("music module initialized",
		"lavalink", m.config.LavalinkEnabled(),
		"tts", m.config.TTSEnabled(),
	)
	return nil
}

// connectionFactory wraps the voice connection factory to track live
// connections per guild.
func (m *Module) connectionFactory(session *discordgo.Session) player.ConnectionFactory {
	base := discord.NewConnectionFactory(session)
	return func(guildID snowflake.ID) player.VoiceConnection {
		conn := base(guildID)
		if dc, ok := conn.(*discord.Connection); ok {
			m.connMu.Lock()
			m.connections[guildID] = dc
			m.connMu.Unlock()
		}
		return conn
	}
}

// Shutdown cleans up module resources.
func (m *Module) Shutdown() error {
	ctx := context.Background()
	if m.manager != nil {
		m.manager.Shutdown(ctx)
	}
	if m.speech != nil {
		if err := m.speech.Close(); err != nil {
			slog.Warn("failed to close speech synthesizer", "error", err)
		}
	}
	return nil
}

// Event handlers.

func (m *Module) handleVoiceServerUpdate(
	_ *discordgo.Session,
	event *discordgo.VoiceServerUpdate,
) {
	if m.lavalink != nil {
		m.lavalink.OnVoiceServerUpdate(event)
	}
}

func (m *Module) handleVoiceStateUpdate(
	s *discordgo.Session,
	event *discordgo.VoiceStateUpdate,
) {
	if m.lavalink != nil {
		m.lavalink.OnVoiceStateUpdate(event)
	}

	if s.State == nil || s.State.User == nil {
		return
	}

	// A forced drop of the bot (kicked, channel deleted) tears the guild's
	// player down through the connection's close callback.
	if event.UserID != s.State.User.ID {
		m.checkChannelOccupancy(s, event.GuildID)
		return
	}
	if event.ChannelID != "" {
		return
	}
	guildID, err := snowflake.Parse(event.GuildID)
	if err != nil {
		return
	}

	m.connMu.Lock()
	conn := m.connections[guildID]
	delete(m.connections, guildID)
	m.connMu.Unlock()

	if conn != nil {
		conn.NotifyClosed(errors.New("voice connection closed by gateway"))
	}
}

// checkChannelOccupancy arms or disarms the guild player's empty-channel
// disconnect timer based on whether any listener shares the bot's voice
// channel.
func (m *Module) checkChannelOccupancy(s *discordgo.Session, guildID string) {
	if m.manager == nil {
		return
	}
	p := m.manager.Get(guildID)
	if p == nil {
		return
	}

	guild, err := s.State.Guild(guildID)
	if err != nil {
		return
	}

	botID := s.State.User.ID
	var botChannel string
	for _, vs := range guild.VoiceStates {
		if vs.UserID == botID {
			botChannel = vs.ChannelID
			break
		}
	}
	if botChannel == "" {
		return
	}

	listeners := 0
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID == botChannel && vs.UserID != botID {
			listeners++
		}
	}
	if listeners == 0 {
		p.NotifyChannelEmpty()
	} else {
		p.NotifyChannelOccupied()
	}
}

func (m *Module) handleInteractionCreate(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
) {
	if i.Type != discordgo.InteractionApplicationCommandAutocomplete {
		return
	}
	if m.autocomplete == nil {
		return
	}

	data := i.ApplicationCommandData()
	switch data.Name {
	case "play":
		m.autocomplete.HandlePlay(s, i)
	case "queue":
		if len(data.Options) > 0 && data.Options[0].Name == "remove" {
			m.autocomplete.HandleQueueRemove(s, i)
		}
	}
}
