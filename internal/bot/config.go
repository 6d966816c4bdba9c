package bot

import "github.com/caarlos0/env/v11"

// Config is the core bot configuration, read from the environment.
type Config struct {
	DiscordToken string `env:"DISCORD_TOKEN,notEmpty"`
}

// LoadConfig parses the environment into a Config. The Discord token is
// required; anything else belongs to module-level configuration.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
