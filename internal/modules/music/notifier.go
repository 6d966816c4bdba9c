package music

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/disgoorg/snowflake/v2"

	"github.com/sglre6355/groovebot/internal/player"
)

// Notifier posts playback announcements to the text channel a guild's last
// play command came from. Guilds without a bound channel stay silent.
type Notifier struct {
	session *discordgo.Session
	manager *player.Manager

	mu       sync.Mutex
	channels map[snowflake.ID]snowflake.ID
}

// NewNotifier creates a Notifier.
func NewNotifier(session *discordgo.Session, manager *player.Manager) *Notifier {
	return &Notifier{
		session:  session,
		manager:  manager,
		channels: make(map[snowflake.ID]snowflake.ID),
	}
}

// BindChannel routes a guild's announcements to the given text channel.
func (n *Notifier) BindChannel(guildID, channelID snowflake.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.channels[guildID] = channelID
}

// Start subscribes to the manager event bus.
func (n *Notifier) Start() {
	n.manager.On(player.EventTrackStart, n.onTrackStart)
	n.manager.On(player.EventQueueEnd, n.onQueueEnd)
	n.manager.On(player.EventPlayerDestroy, n.onPlayerDestroy)
	n.manager.On(player.EventPlayerError, n.onPlayerError)
}

func (n *Notifier) onTrackStart(e player.Event) {
	if e.Track == nil || e.Track.IsTTS() {
		return
	}
	description := fmt.Sprintf("**%s**", e.Track.Title)
	if e.Track.URL != "" {
		description = fmt.Sprintf("[%s](%s)", e.Track.Title, e.Track.URL)
	}
	if e.Track.Duration > 0 {
		description += fmt.Sprintf(" `%s`", e.Track.FormattedDuration())
	}
	n.post(e.Player, &discordgo.MessageEmbed{
		Title:       "Now Playing",
		Description: description,
		Color:       colorSuccess,
	})
}

func (n *Notifier) onQueueEnd(e player.Event) {
	n.post(e.Player, &discordgo.MessageEmbed{
		Description: "Queue finished.",
		Color:       colorSuccess,
	})
}

func (n *Notifier) onPlayerDestroy(e player.Event) {
	if e.Player == nil {
		return
	}
	n.mu.Lock()
	delete(n.channels, e.Player.GuildID())
	n.mu.Unlock()
}

func (n *Notifier) onPlayerError(e player.Event) {
	guildID := snowflake.ID(0)
	if e.Player != nil {
		guildID = e.Player.GuildID()
	}
	slog.Warn("playback error", "guild", guildID, "error", e.Err)
}

func (n *Notifier) post(p *player.Player, embed *discordgo.MessageEmbed) {
	if p == nil {
		return
	}
	n.mu.Lock()
	channelID, ok := n.channels[p.GuildID()]
	n.mu.Unlock()
	if !ok {
		return
	}

	if _, err := n.session.ChannelMessageSendEmbed(channelID.String(), embed); err != nil {
		slog.Warn("failed to send announcement", "guild", p.GuildID(), "error", err)
	}
}
