package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode   string `mapstructure:"mode"`
	Port   int    `mapstructure:"port"`
	HubURL string `mapstructure:"hub_url"`

	ReadLimit    int64         `mapstructure:"read_limit"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`

	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	ReconnectBase     time.Duration `mapstructure:"reconnect_base"`
	SelfDestructTTL   time.Duration `mapstructure:"self_destruct_ttl"`
	TypingInterval    time.Duration `mapstructure:"typing_interval"`
	TypingIdle        time.Duration `mapstructure:"typing_idle"`

	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("hub_url", "http://localhost:8080")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("dial_timeout", "10s")
	v.SetDefault("write_timeout", "5s")
	v.SetDefault("ping_period", "30s")
	v.SetDefault("reconnect_attempts", 3)
	v.SetDefault("reconnect_base", "2s")
	v.SetDefault("self_destruct_ttl", "30s")
	v.SetDefault("typing_interval", "1s")
	v.SetDefault("typing_idle", "2s")
	v.SetDefault("rate_limit", 20)
	v.SetDefault("rate_interval", "10s")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
