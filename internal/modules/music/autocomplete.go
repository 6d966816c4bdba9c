package music

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/sglre6355/groovebot/internal/player"
)

const (
	maxChoices       = 20
	autocompleteWait = 2500 * time.Millisecond
)

// AutocompleteHandler serves suggestion lists for command options.
type AutocompleteHandler struct {
	manager *player.Manager
}

// NewAutocompleteHandler creates a new AutocompleteHandler.
func NewAutocompleteHandler(manager *player.Manager) *AutocompleteHandler {
	return &AutocompleteHandler{manager: manager}
}

// HandlePlay suggests tracks matching the partially typed query.
func (h *AutocompleteHandler) HandlePlay(s *discordgo.Session, i *discordgo.InteractionCreate) {
	var query string
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "query" && opt.Focused {
			query = opt.StringValue()
			break
		}
	}

	// Very short queries produce noise
	if len(query) < 2 {
		respondChoices(s, i, nil)
		return
	}

	// Discord discards autocomplete responses after ~3 seconds
	ctx, cancel := context.WithTimeout(context.Background(), autocompleteWait)
	defer cancel()

	result, err := h.manager.Search(ctx, query, player.Requester{})
	if err != nil || len(result.Tracks) == 0 {
		respondChoices(s, i, nil)
		return
	}

	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, maxChoices+1)
	if result.IsPlaylist() {
		title := result.Playlist.Title
		if title == "" {
			title = query
		}
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{
			Name:  truncate(fmt.Sprintf("%s (%d tracks)", title, len(result.Tracks)), 100),
			Value: query,
		})
	}
	for _, track := range result.Tracks {
		if len(choices) >= maxChoices {
			break
		}
		value := track.URL
		if value == "" {
			value = query
		}
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{
			Name:  truncate(trackChoiceName(track), 100),
			Value: truncate(value, 100),
		})
	}

	respondChoices(s, i, choices)
}

// HandleQueueRemove suggests queued track positions.
func (h *AutocompleteHandler) HandleQueueRemove(s *discordgo.Session, i *discordgo.InteractionCreate) {
	p := h.manager.Get(i.GuildID)
	if p == nil {
		respondChoices(s, i, nil)
		return
	}

	upcoming := p.Upcoming()
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, maxChoices)
	for idx, track := range upcoming {
		if len(choices) >= maxChoices {
			break
		}
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{
			Name:  truncate(fmt.Sprintf("%d. %s", idx+1, track.Title), 100),
			Value: idx + 1,
		})
	}

	respondChoices(s, i, choices)
}

func trackChoiceName(t *player.Track) string {
	if t.Duration > 0 {
		return fmt.Sprintf("%s (%s)", t.Title, t.FormattedDuration())
	}
	return t.Title
}

func respondChoices(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
	choices []*discordgo.ApplicationCommandOptionChoice,
) {
	if choices == nil {
		choices = []*discordgo.ApplicationCommandOptionChoice{}
	}
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionApplicationCommandAutocompleteResult,
		Data: &discordgo.InteractionResponseData{
			Choices: choices,
		},
	})
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
