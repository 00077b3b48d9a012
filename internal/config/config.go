package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kmoran/regionwars/internal/mapgen"
)

// Config holds application configuration. Values come from an optional
// YAML file (CONFIG_FILE) with environment variables layered on top, so
// a container can override any single field.
type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`
	JWTSecret   string `yaml:"jwt_secret"`

	// Lobby holds the game created at startup so a fresh server is
	// immediately joinable.
	Lobby LobbyConfig `yaml:"lobby"`
}

// LobbyConfig describes the default game.
type LobbyConfig struct {
	Name     string
	TurnTime time.Duration
	Bots     int
	Map      mapgen.Options
}

// UnmarshalYAML decodes the lobby section. Durations are written as Go
// duration strings ("30s", "2m"); absent fields keep their defaults.
func (l *LobbyConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Name     string          `yaml:"name"`
		TurnTime string          `yaml:"turn_time"`
		Bots     *int            `yaml:"bots"`
		Map      *mapgen.Options `yaml:"map"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Name != "" {
		l.Name = raw.Name
	}
	if raw.TurnTime != "" {
		d, err := time.ParseDuration(raw.TurnTime)
		if err != nil {
			return fmt.Errorf("lobby turn_time: %w", err)
		}
		l.TurnTime = d
	}
	if raw.Bots != nil {
		l.Bots = *raw.Bots
	}
	if raw.Map != nil {
		l.Map = *raw.Map
	}
	return nil
}

// Load reads configuration with sensible development defaults. A missing
// CONFIG_FILE is fine; a present but unreadable one is an error.
func Load() (*Config, error) {
	cfg := &Config{
		Port:      "8009",
		JWTSecret: "dev-secret-change-me",
		Lobby: LobbyConfig{
			Name:     "open arena",
			TurnTime: 30 * time.Second,
			Bots:     2,
			Map:      mapgen.DefaultOptions(),
		},
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("PORT", &cfg.Port)
	setString("DATABASE_URL", &cfg.DatabaseURL)
	setString("REDIS_URL", &cfg.RedisURL)
	setString("JWT_SECRET", &cfg.JWTSecret)
	setString("LOBBY_NAME", &cfg.Lobby.Name)

	if v := os.Getenv("TURN_TIME"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Lobby.TurnTime = d
		}
	}
	if v := os.Getenv("LOBBY_BOTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Lobby.Bots = n
		}
	}
	if v := os.Getenv("MAP_WIDTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Lobby.Map.Width = n
		}
	}
	if v := os.Getenv("MAP_HEIGHT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Lobby.Map.Height = n
		}
	}
	if v := os.Getenv("MAP_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Lobby.Map.Seed = n
		}
	}
	if v := os.Getenv("MAP_WATER"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Lobby.Map.WaterFraction = f
		}
	}
}
