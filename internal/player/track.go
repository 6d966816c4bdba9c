package player

import (
	"strconv"
	"strings"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// Requester identifies the user a track was queued for.
type Requester struct {
	ID        snowflake.ID
	Name      string
	AvatarURL string
}

// Track represents a playable audio item. It carries metadata only; the audio
// payload is resolved later through a SourcePlugin.
type Track struct {
	ID          string
	Title       string
	URL         string
	Duration    time.Duration
	Thumbnail   string
	RequestedBy Requester
	Source      string // name of the plugin that produced the track
	Metadata    map[string]any
}

// IsTTS reports whether the track belongs to a text-to-speech source.
func (t *Track) IsTTS() bool {
	return strings.Contains(strings.ToLower(t.Source), "tts")
}

// FormattedDuration returns the duration as mm:ss or hh:mm:ss.
func (t *Track) FormattedDuration() string {
	totalSeconds := int(t.Duration.Seconds())
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if hours > 0 {
		return pad(hours) + ":" + pad(minutes) + ":" + pad(seconds)
	}
	return pad(minutes) + ":" + pad(seconds)
}

func pad(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

// PlaylistInfo describes the playlist a set of tracks was extracted from.
type PlaylistInfo struct {
	Title     string
	URL       string
	Thumbnail string
}

// LoopMode controls how the queue advances past the current track.
type LoopMode int

const (
	LoopModeOff   LoopMode = iota // advance normally
	LoopModeTrack                 // repeat the current track
	LoopModeQueue                 // recycle finished tracks back into the queue
)

// String returns a human-readable representation of the loop mode.
func (m LoopMode) String() string {
	switch m {
	case LoopModeTrack:
		return "track"
	case LoopModeQueue:
		return "queue"
	default:
		return "off"
	}
}

// ParseLoopMode converts a string to a LoopMode.
func ParseLoopMode(s string) LoopMode {
	switch s {
	case "track":
		return LoopModeTrack
	case "queue":
		return LoopModeQueue
	default:
		return LoopModeOff
	}
}
