// Package config loads and validates service configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the root configuration, constructed once at process start and
// passed by injection into each component constructor.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Log      LogConfig      `koanf:"log"`
	Database DatabaseConfig `koanf:"database"`
	Discord  DiscordConfig  `koanf:"discord"`
	Billing  BillingConfig  `koanf:"billing"`
	Panel    PanelConfig    `koanf:"panel"`
	Tickets  TicketsConfig  `koanf:"tickets"`
	Vault    VaultConfig    `koanf:"vault"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `koanf:"format" validate:"omitempty,oneof=json text"`
}

// DatabaseConfig contains MongoDB connection settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url" validate:"required"`
	Name            string        `koanf:"name" validate:"required"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	MaxPoolSize     uint64        `koanf:"max_pool_size"`
	MinPoolSize     uint64        `koanf:"min_pool_size"`
	ConnectAttempts int           `koanf:"connect_attempts"`
}

// DiscordConfig contains chat platform credentials and well-known ids.
type DiscordConfig struct {
	BotToken       string  `koanf:"bot_token" validate:"required"`
	PublicKey      string  `koanf:"public_key" validate:"required,hexadecimal"`
	APIBaseURL     string  `koanf:"api_base_url" validate:"omitempty,url"`
	GuildID        int64   `koanf:"guild_id"`
	AdminChannelID int64   `koanf:"admin_channel_id" validate:"required"`
	TeamRoleID     int64   `koanf:"team_role_id"`
	RateLimit      float64 `koanf:"rate_limit"`
	PaymentLinkURL string  `koanf:"payment_link_url" validate:"omitempty,url"`
}

// BillingConfig contains subscription lifecycle settings.
type BillingConfig struct {
	ScanInterval          time.Duration `koanf:"scan_interval" validate:"required"`
	DefaultIntervalMonths int           `koanf:"default_interval_months" validate:"min=1"`
	UnsuspendRetryDelay   time.Duration `koanf:"unsuspend_retry_delay"`
}

// PanelConfig contains hosting panel API settings. An empty URL disables
// panel automation entirely.
type PanelConfig struct {
	URL     string        `koanf:"url" validate:"omitempty,url"`
	Token   string        `koanf:"token"`
	Timeout time.Duration `koanf:"timeout"`
}

// TicketsConfig contains ticket channel settings. Categories maps a ticket
// select value to the channel category it should be created under, Roles maps
// a role select value to the grantable role id.
type TicketsConfig struct {
	Categories     map[string]int64 `koanf:"categories"`
	Roles          map[string]int64 `koanf:"roles"`
	ClosePromptTTL time.Duration    `koanf:"close_prompt_ttl"`
}

// VaultConfig contains code-hosting settings for repository artifacts.
type VaultConfig struct {
	Organisation string `koanf:"organisation"`
	Token        string `koanf:"token"`
	Dir          string `koanf:"dir"`
}

// Default returns the configuration defaults applied before file and
// environment loading.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Database: DatabaseConfig{
			Name:            "steward",
			ConnectTimeout:  10 * time.Second,
			MaxPoolSize:     20,
			MinPoolSize:     2,
			ConnectAttempts: 5,
		},
		Discord: DiscordConfig{
			RateLimit: 25,
		},
		Billing: BillingConfig{
			ScanInterval:          12 * time.Hour,
			DefaultIntervalMonths: 1,
			UnsuspendRetryDelay:   15 * time.Second,
		},
		Panel: PanelConfig{
			Timeout: 15 * time.Second,
		},
		Tickets: TicketsConfig{
			ClosePromptTTL: 2 * time.Minute,
		},
		Vault: VaultConfig{
			Dir: "./repositories",
		},
	}
}

// Load reads configuration from the given YAML file, overlays STEWARD_*
// environment variables and validates the result. The file may be absent;
// environment-only configuration is supported.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: "STEWARD_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(key, "STEWARD_")), "__", ".")
			return key, value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}
