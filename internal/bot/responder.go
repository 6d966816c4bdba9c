package bot

import "github.com/bwmarrin/discordgo"

// Responder sends the reply to an interaction. Handlers receive it as a
// parameter so tests can capture responses without a live session.
type Responder interface {
	Respond(response *discordgo.InteractionResponse) error
}

// DiscordResponder replies through the Discord API.
type DiscordResponder struct {
	session     *discordgo.Session
	interaction *discordgo.Interaction
}

// NewDiscordResponder binds a responder to a single interaction.
func NewDiscordResponder(s *discordgo.Session, i *discordgo.Interaction) *DiscordResponder {
	return &DiscordResponder{session: s, interaction: i}
}

// Respond sends the response to Discord.
func (r *DiscordResponder) Respond(response *discordgo.InteractionResponse) error {
	return r.session.InteractionRespond(r.interaction, response)
}

// MockResponder records the last response for assertions in tests.
type MockResponder struct {
	LastResponse *discordgo.InteractionResponse
	Err          error
}

// Respond stores the response and returns the configured error.
func (m *MockResponder) Respond(response *discordgo.InteractionResponse) error {
	m.LastResponse = response
	return m.Err
}
