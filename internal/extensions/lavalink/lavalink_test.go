package lavalink

import (
	"testing"

	"github.com/disgoorg/snowflake/v2"
)

func TestVoiceEventBuffer_EitherOrder(t *testing.T) {
	channel := snowflake.ID(100)

	t.Run("state then server", func(t *testing.T) {
		b := &voiceEventBuffer{}
		if b.setState(&channel, "session-1") {
			t.Error("expected incomplete handshake after state only")
		}
		if !b.setServer("token-1", "endpoint-1") {
			t.Error("expected complete handshake after both halves")
		}
	})

	t.Run("server then state", func(t *testing.T) {
		b := &voiceEventBuffer{}
		if b.setServer("token-1", "endpoint-1") {
			t.Error("expected incomplete handshake after server only")
		}
		if !b.setState(&channel, "session-1") {
			t.Error("expected complete handshake after both halves")
		}
	})
}

func TestVoiceEventBuffer_TakeResets(t *testing.T) {
	channel := snowflake.ID(100)
	b := &voiceEventBuffer{}
	b.setState(&channel, "session-1")
	b.setServer("token-1", "endpoint-1")

	channelID, sessionID, token, endpoint := b.take()
	if channelID == nil || *channelID != channel {
		t.Errorf("expected channel %v, got %v", channel, channelID)
	}
	if sessionID != "session-1" || token != "token-1" || endpoint != "endpoint-1" {
		t.Errorf("unexpected handshake values: %q %q %q", sessionID, token, endpoint)
	}

	// A second take yields nothing.
	channelID, sessionID, token, endpoint = b.take()
	if channelID != nil || sessionID != "" || token != "" || endpoint != "" {
		t.Error("expected the buffer to be empty after take")
	}

	if b.setState(&channel, "session-2") {
		t.Error("expected the handshake to restart after take")
	}
}
