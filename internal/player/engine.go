package player

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/disgoorg/snowflake/v2"
)

// EngineState mirrors the state of an audio engine.
type EngineState int

const (
	EngineIdle EngineState = iota
	EngineBuffering
	EnginePlaying
	EnginePaused
	EngineAutoPaused
)

// String returns a human-readable representation of the engine state.
func (s EngineState) String() string {
	switch s {
	case EngineBuffering:
		return "buffering"
	case EnginePlaying:
		return "playing"
	case EnginePaused:
		return "paused"
	case EngineAutoPaused:
		return "autopaused"
	default:
		return "idle"
	}
}

// StreamType describes the container/codec of an acquired stream.
type StreamType string

const (
	StreamTypeWebmOpus  StreamType = "webm/opus"
	StreamTypeOggOpus   StreamType = "ogg/opus"
	StreamTypeArbitrary StreamType = "arbitrary"
)

// StreamInfo is the result of resolving a track to playable audio.
type StreamInfo struct {
	Stream   io.ReadCloser
	Type     StreamType
	Metadata map[string]any
}

// Resource is a volume-enabled playable built from a resolved stream.
type Resource struct {
	Track  *Track
	Stream io.ReadCloser
	Type   StreamType

	volume atomic.Int64 // 0-200
}

// NewResource builds a playable resource for the given track and stream.
func NewResource(t *Track, info *StreamInfo, volume int) *Resource {
	r := &Resource{
		Track:  t,
		Stream: info.Stream,
		Type:   info.Type,
	}
	r.volume.Store(int64(volume))
	return r
}

// Volume returns the resource's current volume (0-200).
func (r *Resource) Volume() int {
	return int(r.volume.Load())
}

// SetVolume adjusts the resource's volume. Engines read it per frame.
func (r *Resource) SetVolume(v int) {
	r.volume.Store(int64(v))
}

// AudioEngine is an opaque playback unit. It accepts one active resource at a
// time and reports its state transitions to registered observers.
//
// Encoding, packetization, and transport belong to the implementation; the
// orchestrator only drives play/pause/stop and watches state changes.
type AudioEngine interface {
	Play(res *Resource)
	// Pause reports whether the engine transitioned to paused.
	Pause() bool
	// Resume reports whether the engine transitioned back to playing.
	Resume() bool
	Stop()
	State() EngineState
	// OnStateChange registers an observer invoked after each transition.
	OnStateChange(fn func(prev, next EngineState))
}

// VoiceConnection is the exclusive voice transport for one guild. Exactly one
// engine can be subscribed at a time; subscribing a second engine atomically
// replaces the first.
type VoiceConnection interface {
	Open(ctx context.Context, channelID snowflake.ID, selfDeaf, selfMute bool) error
	Subscribe(e AudioEngine)
	Close(ctx context.Context) error
	// OnClosed registers a callback for a forced connection drop.
	OnClosed(fn func(err error))
}

// EngineFactory creates audio engines. The Player uses it for its primary
// engine and, lazily, for the TTS interrupt engine.
type EngineFactory func() AudioEngine

// ConnectionFactory creates the voice connection for a guild.
type ConnectionFactory func(guildID snowflake.ID) VoiceConnection
