package discord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/disgoorg/snowflake/v2"

	"github.com/sglre6355/groovebot/internal/player"
)

var (
	errNoVoiceConnection = errors.New("voice connection not open")
	errSendStalled       = errors.New("voice send stalled")
)

// sendTimeout bounds a single frame write. OpusSend stops draining when the
// UDP sender dies, so an unguarded send would block the engine forever.
var sendTimeout = 5 * time.Second

// Connection adapts a discordgo voice connection to the player transport.
// Exactly one engine receives frames at a time; subscribing another engine
// atomically replaces it.
type Connection struct {
	session *discordgo.Session
	guildID snowflake.ID

	mu       sync.Mutex
	vc       *discordgo.VoiceConnection
	engine   *Engine
	onClosed func(err error)
}

// NewConnectionFactory returns the factory wiring connections into players.
func NewConnectionFactory(session *discordgo.Session) player.ConnectionFactory {
	return func(guildID snowflake.ID) player.VoiceConnection {
		return &Connection{session: session, guildID: guildID}
	}
}

// Open joins the voice channel. The join itself has no context support in
// discordgo, so it runs in a goroutine bounded by ctx.
func (c *Connection) Open(ctx context.Context, channelID snowflake.ID, selfDeaf, selfMute bool) error {
	type outcome struct {
		vc  *discordgo.VoiceConnection
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		vc, err := c.session.ChannelVoiceJoin(c.guildID.String(), channelID.String(), selfMute, selfDeaf)
		ch <- outcome{vc, err}
	}()

	select {
	case o := <-ch:
		if o.err != nil {
			return fmt.Errorf("join voice channel: %w", o.err)
		}
		c.mu.Lock()
		c.vc = o.vc
		c.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe routes the engine's frames onto this connection, detaching any
// previously subscribed engine.
func (c *Connection) Subscribe(e player.AudioEngine) {
	engine, ok := e.(*Engine)
	if !ok {
		return
	}

	c.mu.Lock()
	previous := c.engine
	c.engine = engine
	c.mu.Unlock()

	if previous != nil && previous != engine {
		previous.setSink(nil)
	}
	engine.setSink(c)
}

// Close leaves the voice channel.
func (c *Connection) Close(_ context.Context) error {
	c.mu.Lock()
	vc := c.vc
	c.vc = nil
	engine := c.engine
	c.engine = nil
	c.mu.Unlock()

	if engine != nil {
		engine.setSink(nil)
	}
	if vc == nil {
		return nil
	}
	return vc.Disconnect()
}

// OnClosed registers the forced-drop callback. NotifyClosed invokes it.
func (c *Connection) OnClosed(fn func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClosed = fn
}

// NotifyClosed reports an external disconnect (bot kicked or channel gone).
// The gateway handler owns detecting it; the connection only fans it out.
func (c *Connection) NotifyClosed(err error) {
	c.mu.Lock()
	fn := c.onClosed
	c.vc = nil
	c.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (c *Connection) sendFrame(frame []byte) error {
	c.mu.Lock()
	vc := c.vc
	c.mu.Unlock()
	if vc == nil {
		return errNoVoiceConnection
	}
	select {
	case vc.OpusSend <- frame:
		return nil
	case <-time.After(sendTimeout):
		return errSendStalled
	}
}

func (c *Connection) speaking(on bool) {
	c.mu.Lock()
	vc := c.vc
	c.mu.Unlock()
	if vc == nil {
		return
	}
	_ = vc.Speaking(on)
}
