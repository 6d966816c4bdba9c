package music

import "time"

// Config holds the music module configuration. Lavalink and SpeechKit are
// optional integrations: leaving their settings empty disables them and
// playback runs fully in-process.
type Config struct {
	LavalinkAddress  string `env:"LAVALINK_ADDRESS"`
	LavalinkPassword string `env:"LAVALINK_PASSWORD"`

	YandexAPIKey   string  `env:"YANDEX_API_KEY"`
	YandexFolderID string  `env:"YANDEX_FOLDER_ID"`
	TTSVoice       string  `env:"TTS_VOICE" envDefault:"marina"`
	TTSSpeed       float64 `env:"TTS_SPEED" envDefault:"1.0"`
	TTSVolume      int     `env:"TTS_VOLUME" envDefault:"80"`

	DefaultVolume int           `env:"PLAYER_VOLUME" envDefault:"100"`
	LeaveTimeout  time.Duration `env:"LEAVE_TIMEOUT" envDefault:"60s"`
	LeaveOnEmpty  bool          `env:"LEAVE_ON_EMPTY" envDefault:"true"`
	SelfDeaf      bool          `env:"SELF_DEAF" envDefault:"true"`
}

// LavalinkEnabled reports whether a Lavalink node is configured.
func (c *Config) LavalinkEnabled() bool {
	return c.LavalinkAddress != ""
}

// TTSEnabled reports whether SpeechKit credentials are configured.
func (c *Config) TTSEnabled() bool {
	return c.YandexAPIKey != "" && c.YandexFolderID != ""
}
