package music

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/disgoorg/snowflake/v2"

	"github.com/sglre6355/groovebot/internal/bot"
	"github.com/sglre6355/groovebot/internal/extensions/lavalink"
	"github.com/sglre6355/groovebot/internal/player"
)

// Embed colors.
const (
	colorSuccess = 0x08c404
	colorError   = 0xE74C3C
)

const queuePageSize = 10

// CommandHandlers routes slash commands to the guild players.
type CommandHandlers struct {
	manager  *player.Manager
	lavalink *lavalink.Extension
	notifier *Notifier
}

// NewCommandHandlers creates new CommandHandlers. The lavalink extension may
// be nil; voice connections then run in-process.
func NewCommandHandlers(manager *player.Manager, lava *lavalink.Extension, notifier *Notifier) *CommandHandlers {
	return &CommandHandlers{
		manager:  manager,
		lavalink: lava,
		notifier: notifier,
	}
}

// HandleJoin handles the /join command.
func (h *CommandHandlers) HandleJoin(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	guildID, err := snowflake.Parse(i.GuildID)
	if err != nil {
		return respondError(r, "Invalid guild")
	}

	var channelID snowflake.ID
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "channel" {
			channelID, err = snowflake.Parse(opt.ChannelValue(s).ID)
			if err != nil {
				return respondError(r, "Invalid voice channel")
			}
		}
	}
	if channelID == 0 {
		channelID, err = h.userVoiceChannel(s, i)
		if err != nil {
			return respondError(r, "Join a voice channel first, or name one explicitly.")
		}
	}

	p := h.manager.Create(guildID)
	h.bindNotifications(guildID, i.ChannelID)
	if err := h.connect(context.Background(), p, guildID, channelID); err != nil {
		return respondError(r, err.Error())
	}

	return respondSuccess(r, fmt.Sprintf("Connected to <#%d>.", channelID))
}

// HandleLeave handles the /leave command.
func (h *CommandHandlers) HandleLeave(
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	p := h.manager.Get(i.GuildID)
	if p == nil {
		return respondError(r, "Not connected.")
	}

	ctx := context.Background()
	if h.lavalink != nil {
		_ = h.lavalink.LeaveChannel(ctx, p.GuildID())
	}
	if err := p.Destroy(ctx); err != nil && !errors.Is(err, player.ErrPlayerDestroyed) {
		return respondError(r, err.Error())
	}
	return respondSuccess(r, "Disconnected.")
}

// HandlePlay handles the /play command.
func (h *CommandHandlers) HandlePlay(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	var query string
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "query" {
			query = opt.StringValue()
		}
	}
	if strings.TrimSpace(query) == "" {
		return respondError(r, "Nothing to play.")
	}
	return h.enqueue(s, i, r, query)
}

// HandleSay handles the /say command. The announcement interrupts the current
// track and playback resumes afterwards.
func (h *CommandHandlers) HandleSay(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	var text string
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "text" {
			text = opt.StringValue()
		}
	}
	if strings.TrimSpace(text) == "" {
		return respondError(r, "Nothing to say.")
	}
	return h.enqueue(s, i, r, "tts:"+text)
}

// enqueue is the shared /play and /say path: ensure a connected player, then
// hand the query to it.
func (h *CommandHandlers) enqueue(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
	query string,
) error {
	guildID, err := snowflake.Parse(i.GuildID)
	if err != nil {
		return respondError(r, "Invalid guild")
	}

	p := h.manager.Create(guildID)
	h.bindNotifications(guildID, i.ChannelID)

	if !h.botInVoice(s, i.GuildID) {
		channelID, err := h.userVoiceChannel(s, i)
		if err != nil {
			return respondError(r, "Join a voice channel first.")
		}
		if err := h.connect(context.Background(), p, guildID, channelID); err != nil {
			return respondError(r, err.Error())
		}
	}

	requester := requesterFrom(i)
	if err := p.Play(context.Background(), query, requester); err != nil {
		switch {
		case errors.Is(err, player.ErrNoPlugin), errors.Is(err, player.ErrNoTracks):
			return respondError(r, "No results found.")
		default:
			return respondError(r, err.Error())
		}
	}

	return respondSuccess(r, fmt.Sprintf("Queued **%s**.", query))
}

// HandleStop handles the /stop command.
func (h *CommandHandlers) HandleStop(
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	p := h.manager.Get(i.GuildID)
	if p == nil {
		return respondError(r, "Nothing is playing.")
	}
	p.Stop()
	return respondSuccess(r, "Stopped playback and cleared the queue.")
}

// HandlePause handles the /pause command.
func (h *CommandHandlers) HandlePause(
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	p := h.manager.Get(i.GuildID)
	if p == nil || !p.Pause() {
		return respondError(r, "Nothing is playing.")
	}
	return respondSuccess(r, "Paused.")
}

// HandleResume handles the /resume command.
func (h *CommandHandlers) HandleResume(
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	p := h.manager.Get(i.GuildID)
	if p == nil || !p.Resume() {
		return respondError(r, "Nothing is paused.")
	}
	return respondSuccess(r, "Resumed.")
}

// HandleSkip handles the /skip command.
func (h *CommandHandlers) HandleSkip(
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	p := h.manager.Get(i.GuildID)
	if p == nil {
		return respondError(r, "Nothing is playing.")
	}
	p.Skip()
	return respondSuccess(r, "Skipped.")
}

// HandlePrevious handles the /previous command.
func (h *CommandHandlers) HandlePrevious(
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	p := h.manager.Get(i.GuildID)
	if p == nil {
		return respondError(r, "Nothing is playing.")
	}
	if err := p.Previous(); err != nil {
		if errors.Is(err, player.ErrNoHistory) {
			return respondError(r, "No previously played track.")
		}
		return respondError(r, err.Error())
	}
	return respondSuccess(r, "Replaying the previous track.")
}

// HandleNowPlaying handles the /nowplaying command.
func (h *CommandHandlers) HandleNowPlaying(
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	p := h.manager.Get(i.GuildID)
	if p == nil {
		return respondError(r, "Nothing is playing.")
	}
	current := p.Current()
	if current == nil {
		return respondError(r, "Nothing is playing.")
	}

	description := fmt.Sprintf("**%s**", current.Title)
	if current.Duration > 0 {
		description += fmt.Sprintf(" `%s`", current.FormattedDuration())
	}
	if current.URL != "" {
		description = fmt.Sprintf("[%s](%s)", current.Title, current.URL)
		if current.Duration > 0 {
			description += fmt.Sprintf(" `%s`", current.FormattedDuration())
		}
	}
	description += fmt.Sprintf("\nVolume: %d%% | Loop: %s", p.Volume(), p.Loop())

	return r.Respond(&discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{
				{
					Title:       "Now Playing",
					Description: description,
					Color:       colorSuccess,
				},
			},
		},
	})
}

// HandleShuffle handles the /shuffle command.
func (h *CommandHandlers) HandleShuffle(
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	p := h.manager.Get(i.GuildID)
	if p == nil || len(p.Upcoming()) == 0 {
		return respondError(r, "The queue is empty.")
	}
	p.Shuffle()
	return respondSuccess(r, "Shuffled the queue.")
}

// HandleVolume handles the /volume command.
func (h *CommandHandlers) HandleVolume(
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	p := h.manager.Get(i.GuildID)
	if p == nil {
		return respondError(r, "Nothing is playing.")
	}

	var level int
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "level" {
			level = int(opt.IntValue())
		}
	}

	if !p.SetVolume(level) {
		return respondError(r, "Volume must be between 0 and 200.")
	}
	return respondSuccess(r, fmt.Sprintf("Volume set to %d%%.", level))
}

// HandleAutoplay handles the /autoplay command.
func (h *CommandHandlers) HandleAutoplay(
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	p := h.manager.Get(i.GuildID)
	if p == nil {
		return respondError(r, "Nothing is playing.")
	}

	enabled := false
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "enabled" {
			enabled = opt.BoolValue()
		}
	}

	p.SetAutoPlay(enabled)
	if enabled {
		return respondSuccess(r, "Autoplay enabled.")
	}
	return respondSuccess(r, "Autoplay disabled.")
}

// HandleQueue handles the /queue command group.
func (h *CommandHandlers) HandleQueue(
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	p := h.manager.Get(i.GuildID)
	if p == nil {
		return respondError(r, "Nothing is playing.")
	}

	options := i.ApplicationCommandData().Options
	if len(options) == 0 {
		return h.respondQueueList(r, p, 1)
	}

	sub := options[0]
	switch sub.Name {
	case "list":
		page := 1
		for _, opt := range sub.Options {
			if opt.Name == "page" {
				page = int(opt.IntValue())
			}
		}
		return h.respondQueueList(r, p, page)

	case "remove":
		position := 0
		for _, opt := range sub.Options {
			if opt.Name == "position" {
				position = int(opt.IntValue())
			}
		}
		removed := p.Remove(position - 1)
		if removed == nil {
			return respondError(r, "No track at that position.")
		}
		return respondSuccess(r, fmt.Sprintf("Removed **%s**.", removed.Title))

	case "clear":
		p.ClearQueue()
		return respondSuccess(r, "Cleared the queue.")

	default:
		return respondError(r, "Unknown queue subcommand.")
	}
}

func (h *CommandHandlers) respondQueueList(r bot.Responder, p *player.Player, page int) error {
	upcoming := p.Upcoming()
	if len(upcoming) == 0 {
		return respondSuccess(r, "The queue is empty.")
	}

	totalPages := (len(upcoming) + queuePageSize - 1) / queuePageSize
	if page > totalPages {
		page = totalPages
	}
	start := (page - 1) * queuePageSize
	end := min(start+queuePageSize, len(upcoming))

	var sb strings.Builder
	for idx, t := range upcoming[start:end] {
		fmt.Fprintf(&sb, "%d. **%s**", start+idx+1, t.Title)
		if t.Duration > 0 {
			fmt.Fprintf(&sb, " `%s`", t.FormattedDuration())
		}
		sb.WriteString("\n")
	}

	return r.Respond(&discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{
				{
					Title:       fmt.Sprintf("Queue (%d tracks)", len(upcoming)),
					Description: sb.String(),
					Footer: &discordgo.MessageEmbedFooter{
						Text: fmt.Sprintf("Page %d/%d", page, totalPages),
					},
					Color: colorSuccess,
				},
			},
		},
	})
}

// HandleLoop handles the /loop command.
func (h *CommandHandlers) HandleLoop(
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	p := h.manager.Get(i.GuildID)
	if p == nil {
		return respondError(r, "Nothing is playing.")
	}

	var mode player.LoopMode
	explicit := false
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "mode" {
			mode = player.ParseLoopMode(opt.StringValue())
			explicit = true
		}
	}
	if !explicit {
		// Cycle off -> track -> queue -> off.
		switch p.Loop() {
		case player.LoopModeOff:
			mode = player.LoopModeTrack
		case player.LoopModeTrack:
			mode = player.LoopModeQueue
		default:
			mode = player.LoopModeOff
		}
	}

	p.SetLoop(mode)
	return respondSuccess(r, fmt.Sprintf("Loop mode set to **%s**.", mode))
}

// bindNotifications routes the guild's announcements to the invoking channel.
func (h *CommandHandlers) bindNotifications(guildID snowflake.ID, channelID string) {
	if h.notifier == nil {
		return
	}
	id, err := snowflake.Parse(channelID)
	if err != nil {
		return
	}
	h.notifier.BindChannel(guildID, id)
}

// connect joins the voice channel through Lavalink when available, otherwise
// through the in-process connection.
func (h *CommandHandlers) connect(ctx context.Context, p *player.Player, guildID, channelID snowflake.ID) error {
	if h.lavalink != nil && h.lavalink.Active(p) {
		return h.lavalink.JoinChannel(ctx, guildID, channelID)
	}
	return p.Connect(ctx, channelID)
}

// userVoiceChannel resolves the invoking user's current voice channel.
func (h *CommandHandlers) userVoiceChannel(s *discordgo.Session, i *discordgo.InteractionCreate) (snowflake.ID, error) {
	if i.Member == nil || i.Member.User == nil {
		return 0, errors.New("no member in interaction")
	}
	vs, err := s.State.VoiceState(i.GuildID, i.Member.User.ID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		return 0, errors.New("user not in a voice channel")
	}
	return snowflake.Parse(vs.ChannelID)
}

// botInVoice reports whether the bot already has a voice state in the guild.
func (h *CommandHandlers) botInVoice(s *discordgo.Session, guildID string) bool {
	if s.State == nil || s.State.User == nil {
		return false
	}
	vs, err := s.State.VoiceState(guildID, s.State.User.ID)
	return err == nil && vs != nil && vs.ChannelID != ""
}

func requesterFrom(i *discordgo.InteractionCreate) player.Requester {
	requester := player.Requester{}
	if i.Member != nil && i.Member.User != nil {
		if id, err := snowflake.Parse(i.Member.User.ID); err == nil {
			requester.ID = id
		}
		requester.Name = i.Member.User.Username
		requester.AvatarURL = i.Member.User.AvatarURL("")
	}
	return requester
}

func respondSuccess(r bot.Responder, description string) error {
	return respondEmbed(r, description, colorSuccess)
}

func respondError(r bot.Responder, description string) error {
	return respondEmbed(r, description, colorError)
}

func respondEmbed(r bot.Responder, description string, color int) error {
	return r.Respond(&discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{
				{
					Description: description,
					Color:       color,
				},
			},
		},
	})
}
