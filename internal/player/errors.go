package player

import "errors"

var (
	// ErrNoPlugin is returned when no registered plugin or extension can
	// handle a query or track.
	ErrNoPlugin = errors.New("no plugin found for query")

	// ErrNoTracks is returned when resolution produced an empty track set.
	ErrNoTracks = errors.New("no tracks resolved")

	// ErrStreamFailed is returned after the entire fallback chain is
	// exhausted for a track.
	ErrStreamFailed = errors.New("stream acquisition failed")

	// ErrVolumeOutOfRange is returned for volumes outside 0-200.
	ErrVolumeOutOfRange = errors.New("volume out of range (0-200)")

	// ErrPlayerDestroyed is returned for operations on a destroyed player.
	ErrPlayerDestroyed = errors.New("player destroyed")

	// ErrNoHistory is returned by Previous when history is empty.
	ErrNoHistory = errors.New("no previous track")

	// ErrNotConnected is returned when an operation needs an open voice
	// connection.
	ErrNotConnected = errors.New("not connected to voice")
)
