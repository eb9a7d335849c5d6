package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	// Try []interface{} to handle mixed types
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Meshtastic MeshtasticConfig `json:"meshtastic"`
	MeshCore   MeshCoreConfig   `json:"meshcore"`
	Channels   ChannelsConfig   `json:"channels"`
	Commands   CommandsConfig   `json:"commands"`
	AI         AIConfig         `json:"ai"`
	Weather    WeatherConfig    `json:"weather"`
	History    HistoryConfig    `json:"history"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Log        LogConfig        `json:"log"`
}

// MeshtasticConfig selects exactly one link to the Meshtastic radio: a
// serial device or a TCP host. When both are set the serial device wins.
type MeshtasticConfig struct {
	Enabled      bool   `env:"MESHCLAW_MESHTASTIC_ENABLED"       json:"enabled"`
	SerialDevice string `env:"MESHCLAW_MESHTASTIC_SERIAL_DEVICE" json:"serial_device"`
	TCPHost      string `env:"MESHCLAW_MESHTASTIC_TCP_HOST"      json:"tcp_host"`
	TCPPort      int    `env:"MESHCLAW_MESHTASTIC_TCP_PORT"      json:"tcp_port"`
	Channel      uint32 `env:"MESHCLAW_MESHTASTIC_CHANNEL"       json:"channel"`
}

type MeshCoreConfig struct {
	Enabled bool   `env:"MESHCLAW_MESHCORE_ENABLED" json:"enabled"`
	TCPHost string `env:"MESHCLAW_MESHCORE_TCP_HOST" json:"tcp_host"`
	TCPPort int    `env:"MESHCLAW_MESHCORE_TCP_PORT" json:"tcp_port"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	CLI      CLIConfig      `json:"cli"`
}

type TelegramConfig struct {
	Enabled   bool                `env:"MESHCLAW_CHANNELS_TELEGRAM_ENABLED"    json:"enabled"`
	Token     string              `env:"MESHCLAW_CHANNELS_TELEGRAM_TOKEN"      json:"token"`
	AllowFrom FlexibleStringSlice `env:"MESHCLAW_CHANNELS_TELEGRAM_ALLOW_FROM" json:"allow_from"`
}

type CLIConfig struct {
	Enabled bool `env:"MESHCLAW_CHANNELS_CLI_ENABLED" json:"enabled"`
}

type CommandsConfig struct {
	// PublicChannel is the channel index broadcast replies go out on.
	PublicChannel uint32 `env:"MESHCLAW_COMMANDS_PUBLIC_CHANNEL" json:"public_channel"`
}

type AIConfig struct {
	Enabled   bool   `env:"MESHCLAW_AI_ENABLED"    json:"enabled"`
	APIKey    string `env:"MESHCLAW_AI_API_KEY"    json:"api_key"`
	Model     string `env:"MESHCLAW_AI_MODEL"      json:"model"`
	MaxTokens int    `env:"MESHCLAW_AI_MAX_TOKENS" json:"max_tokens"`
}

type WeatherConfig struct {
	Enabled   bool    `env:"MESHCLAW_WEATHER_ENABLED"   json:"enabled"`
	Latitude  float64 `env:"MESHCLAW_WEATHER_LATITUDE"  json:"latitude"`
	Longitude float64 `env:"MESHCLAW_WEATHER_LONGITUDE" json:"longitude"`
	Place     string  `env:"MESHCLAW_WEATHER_PLACE"     json:"place"`
}

type HistoryConfig struct {
	Enabled bool   `env:"MESHCLAW_HISTORY_ENABLED" json:"enabled"`
	Path    string `env:"MESHCLAW_HISTORY_PATH"    json:"path"`
	// RetentionDays bounds how far back packets are kept; 0 keeps forever.
	RetentionDays int `env:"MESHCLAW_HISTORY_RETENTION_DAYS" json:"retention_days"`
}

// SchedulerConfig lists cron-driven broadcast announcements.
type SchedulerConfig struct {
	Enabled    bool        `env:"MESHCLAW_SCHEDULER_ENABLED" json:"enabled"`
	Broadcasts []Broadcast `json:"broadcasts,omitempty"`
}

type Broadcast struct {
	Cron string `json:"cron"`
	Text string `json:"text"`
	// Network restricts the broadcast to "meshtastic" or "meshcore";
	// empty means the primary transport.
	Network string `json:"network,omitempty"`
}

type LogConfig struct {
	Level string `env:"MESHCLAW_LOG_LEVEL" json:"level"`
	File  string `env:"MESHCLAW_LOG_FILE"  json:"file,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Meshtastic: MeshtasticConfig{
			SerialDevice: "/dev/ttyACM0",
			TCPPort:      4403,
		},
		MeshCore: MeshCoreConfig{
			TCPPort: 5000,
		},
		AI: AIConfig{
			Model:     "claude-haiku-4-5",
			MaxTokens: 300,
		},
		History: HistoryConfig{
			Path:          "~/.meshclaw/history.db",
			RetentionDays: 30,
		},
		Log: LogConfig{
			Level: "INFO",
		},
	}
}

// ConfigPath returns the default config location, honoring MESHCLAW_CONFIG.
func ConfigPath() string {
	if p := os.Getenv("MESHCLAW_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".meshclaw", "config.json")
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, cfg.Validate()
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, cfg.Validate()
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate rejects configurations that cannot produce a working gateway.
func (c *Config) Validate() error {
	if !c.Meshtastic.Enabled && !c.MeshCore.Enabled {
		return errors.New("at least one of meshtastic or meshcore must be enabled")
	}
	if c.Meshtastic.Enabled && c.Meshtastic.SerialDevice == "" && c.Meshtastic.TCPHost == "" {
		return errors.New("meshtastic: serial_device or tcp_host required")
	}
	if c.MeshCore.Enabled && c.MeshCore.TCPHost == "" {
		return errors.New("meshcore: tcp_host required")
	}
	if c.Channels.Telegram.Enabled && c.Channels.Telegram.Token == "" {
		return errors.New("telegram: token required")
	}
	for i, b := range c.Scheduler.Broadcasts {
		if b.Cron == "" || b.Text == "" {
			return fmt.Errorf("scheduler.broadcasts[%d]: cron and text required", i)
		}
		switch b.Network {
		case "", "meshtastic", "meshcore":
		default:
			return fmt.Errorf("scheduler.broadcasts[%d]: unknown network %q", i, b.Network)
		}
	}
	return nil
}

// HistoryPath returns the history database path with ~ expanded.
func (c *Config) HistoryPath() string {
	return expandHome(c.History.Path)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
