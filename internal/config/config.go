package config

import (
	"github.com/spf13/viper"

	"github.com/moneeroz/pocket-chat/pkg/logger"
)

// Config holds the application configuration.
type Config struct {
	BackendURL string `mapstructure:"BACKEND_URL"`
	AuthToken  string `mapstructure:"AUTH_TOKEN"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`

	MessagePageSize int `mapstructure:"MESSAGE_PAGE_SIZE"`

	// Upload limits in bytes, per file kind.
	MaxImageSize    int64 `mapstructure:"MAX_IMAGE_SIZE"`
	MaxVideoSize    int64 `mapstructure:"MAX_VIDEO_SIZE"`
	MaxAudioSize    int64 `mapstructure:"MAX_AUDIO_SIZE"`
	MaxDocumentSize int64 `mapstructure:"MAX_DOCUMENT_SIZE"`

	// Server-side settings, used by the chatserver binary only.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	JWTSecret   string `mapstructure:"JWT_SECRET"`
	ListenAddr  string `mapstructure:"LISTEN_ADDR"`
}

// Load reads configuration from a .env file and environment variables.
func Load() (*Config, error) {
	v := viper.New()
	v.AddConfigPath(".")
	v.SetConfigName(".env")
	v.SetConfigType("env")

	v.SetDefault("BACKEND_URL", "http://localhost:8090")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("MESSAGE_PAGE_SIZE", 50)
	v.SetDefault("MAX_IMAGE_SIZE", 5<<20)
	v.SetDefault("MAX_VIDEO_SIZE", 50<<20)
	v.SetDefault("MAX_AUDIO_SIZE", 10<<20)
	v.SetDefault("MAX_DOCUMENT_SIZE", 20<<20)
	v.SetDefault("LISTEN_ADDR", ":8090")

	v.AutomaticEnv()

	// Keys with no default must be bound explicitly, or AutomaticEnv
	// never surfaces them to Unmarshal when no .env file exists.
	for _, key := range []string{"AUTH_TOKEN", "DATABASE_URL", "JWT_SECRET"} {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		logger.Debug("no .env file found, loading from environment variables")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MaxFileSize returns the upload limit for a message file kind. Unknown
// kinds get the document limit.
func (c *Config) MaxFileSize(kind string) int64 {
	switch kind {
	case "image":
		return c.MaxImageSize
	case "video":
		return c.MaxVideoSize
	case "audio":
		return c.MaxAudioSize
	default:
		return c.MaxDocumentSize
	}
}
