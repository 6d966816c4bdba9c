package player

import "time"

// Default option values.
const (
	DefaultVolume           = 100
	DefaultLeaveTimeout     = 60 * time.Second
	DefaultExtractorTimeout = 15 * time.Second
	DefaultMaxTTSDuration   = 60 * time.Second
)

// TTSOptions configures the text-to-speech interrupt subsystem.
type TTSOptions struct {
	// CreatePlayer enables lazy creation of the secondary TTS engine.
	CreatePlayer bool
	// Interrupt routes TTS-flagged tracks through the interrupt queue
	// instead of the main queue.
	Interrupt bool
	// Volume for TTS playback (0-200).
	Volume int
	// MaxDuration bounds a single TTS item so playback cannot hang.
	MaxDuration time.Duration
}

// Options is the immutable configuration snapshot for a Player. The zero
// value is usable after Normalize.
type Options struct {
	LeaveOnEnd       bool
	LeaveOnEmpty     bool
	LeaveTimeout     time.Duration
	Volume           int
	Quality          string
	SelfDeaf         bool
	SelfMute         bool
	ExtractorTimeout time.Duration
	// Userdata is an opaque passthrough bag for callers.
	Userdata map[string]any
	TTS      TTSOptions
	// Extensions is an allow-list of extension names activated per Player.
	// Empty means all manager-level extensions are eligible.
	Extensions []string
}

// Normalize fills unset fields with defaults and returns the result.
func (o Options) Normalize() Options {
	if o.Volume <= 0 {
		o.Volume = DefaultVolume
	}
	if o.LeaveTimeout <= 0 {
		o.LeaveTimeout = DefaultLeaveTimeout
	}
	if o.ExtractorTimeout <= 0 {
		o.ExtractorTimeout = DefaultExtractorTimeout
	}
	if o.TTS.Volume <= 0 {
		o.TTS.Volume = DefaultVolume
	}
	if o.TTS.MaxDuration <= 0 {
		o.TTS.MaxDuration = DefaultMaxTTSDuration
	}
	return o
}
