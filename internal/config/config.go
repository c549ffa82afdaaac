package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the roomsync service.
type Config struct {
	AppName          string
	AppEnv           string
	AppPort          string
	PublicOrigin     string
	DatabaseURL      string
	RedisURL         string
	NATSURL          string
	IdentityDBPath   string
	ChannelBase      string
	RoomCapacity     int
	TypingClearAfter time.Duration
	PresenceTTL      time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// IsDevelopment reports whether the service runs in a development environment.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("ROOMSYNC")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "roomsync")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("public.origin", "http://localhost:8080")
	v.SetDefault("identity.db_path", "identity.db")
	v.SetDefault("channel.base", "roomsync")
	v.SetDefault("room.capacity", 50)
	v.SetDefault("typing.clear_after", "3s")
	v.SetDefault("presence.ttl", "30s")

	typingClear, err := time.ParseDuration(v.GetString("typing.clear_after"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid typing clear duration: %w", err)
	}

	presenceTTL, err := time.ParseDuration(v.GetString("presence.ttl"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid presence ttl: %w", err)
	}

	cfg := Config{
		AppName:          v.GetString("app.name"),
		AppEnv:           v.GetString("app.env"),
		AppPort:          v.GetString("app.port"),
		PublicOrigin:     strings.TrimRight(v.GetString("public.origin"), "/"),
		DatabaseURL:      v.GetString("database.url"),
		RedisURL:         v.GetString("redis.url"),
		NATSURL:          v.GetString("nats.url"),
		IdentityDBPath:   v.GetString("identity.db_path"),
		ChannelBase:      v.GetString("channel.base"),
		RoomCapacity:     v.GetInt("room.capacity"),
		TypingClearAfter: typingClear,
		PresenceTTL:      presenceTTL,
	}

	if cfg.RoomCapacity <= 0 {
		cfg.RoomCapacity = 50
	}

	return cfg, nil
}
