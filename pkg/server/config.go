package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/aeolun/craftlink/pkg/protocol"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	TCPPort             int
	HTTPPort            int
	MaxFrameSize        uint32
	IdleTimeout         time.Duration
	WriteTimeout        time.Duration
	CoinGiftDailyLimit  int
	StarGiftDailyLimit  int
	WhitelistDailyLimit int
	LeaderboardSize     int
}

// DefaultConfig returns default server configuration
func DefaultConfig() ServerConfig {
	return ServerConfig{
		TCPPort:             8000,
		HTTPPort:            8080,
		MaxFrameSize:        protocol.DefaultMaxFrameSize,
		IdleTimeout:         0, // disabled
		WriteTimeout:        5 * time.Second,
		CoinGiftDailyLimit:  5,
		StarGiftDailyLimit:  1,
		WhitelistDailyLimit: 3,
		LeaderboardSize:     100,
	}
}

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server  ServerSection  `toml:"server"`
	Limits  LimitsSection  `toml:"limits"`
	Rewards RewardsSection `toml:"rewards"`
	RCON    RCONSection    `toml:"rcon"`
	Logging LoggingSection `toml:"logging"`
}

type ServerSection struct {
	TCPPort      int    `toml:"tcp_port"`
	HTTPPort     int    `toml:"http_port"`
	DatabasePath string `toml:"database_path"`
}

type LimitsSection struct {
	MaxFrameSize        int `toml:"max_frame_size"`
	IdleTimeoutSeconds  int `toml:"idle_timeout_seconds"`
	WriteTimeoutSeconds int `toml:"write_timeout_seconds"`
}

type RewardsSection struct {
	CoinGiftDailyLimit  int `toml:"coin_gift_daily_limit"`
	StarGiftDailyLimit  int `toml:"star_gift_daily_limit"`
	WhitelistDailyLimit int `toml:"whitelist_daily_limit"`
}

type RCONSection struct {
	Enabled        bool   `toml:"enabled"`
	Address        string `toml:"address"`
	Password       string `toml:"password"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type LoggingSection struct {
	Debug bool   `toml:"debug"`
	File  string `toml:"file"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			TCPPort:      8000,
			HTTPPort:     8080,
			DatabasePath: "~/.craftlink/craftlink.db",
		},
		Limits: LimitsSection{
			MaxFrameSize:        protocol.DefaultMaxFrameSize,
			IdleTimeoutSeconds:  0,
			WriteTimeoutSeconds: 5,
		},
		Rewards: RewardsSection{
			CoinGiftDailyLimit:  5,
			StarGiftDailyLimit:  1,
			WhitelistDailyLimit: 3,
		},
		RCON: RCONSection{
			Enabled:        false,
			Address:        "127.0.0.1:25575",
			TimeoutSeconds: 5,
		},
	}
}

func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}
	return path, nil
}

// LoadConfig loads configuration from a TOML file, creates default if not found
func LoadConfig(path string) (TOMLConfig, error) {
	path, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		// A read-only location still lets us run on defaults
		_ = writeDefaultConfig(path, config)
		return config, nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// writeDefaultConfig writes the default config to a file
func writeDefaultConfig(path string, config TOMLConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# Craftlink Server Configuration
# This file was auto-generated with default values
# [logging].debug is picked up while running; other changes need a restart

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ToServerConfig converts TOMLConfig to ServerConfig
func (c *TOMLConfig) ToServerConfig() ServerConfig {
	cfg := DefaultConfig()

	if c.Server.TCPPort != 0 {
		cfg.TCPPort = c.Server.TCPPort
	}

	if c.Server.HTTPPort != 0 {
		cfg.HTTPPort = c.Server.HTTPPort
	}

	if c.Limits.MaxFrameSize > 0 {
		cfg.MaxFrameSize = uint32(c.Limits.MaxFrameSize)
	}

	if c.Limits.IdleTimeoutSeconds > 0 {
		cfg.IdleTimeout = time.Duration(c.Limits.IdleTimeoutSeconds) * time.Second
	}

	if c.Limits.WriteTimeoutSeconds > 0 {
		cfg.WriteTimeout = time.Duration(c.Limits.WriteTimeoutSeconds) * time.Second
	}

	if c.Rewards.CoinGiftDailyLimit != 0 {
		cfg.CoinGiftDailyLimit = c.Rewards.CoinGiftDailyLimit
	}

	if c.Rewards.StarGiftDailyLimit != 0 {
		cfg.StarGiftDailyLimit = c.Rewards.StarGiftDailyLimit
	}

	if c.Rewards.WhitelistDailyLimit != 0 {
		cfg.WhitelistDailyLimit = c.Rewards.WhitelistDailyLimit
	}

	return cfg
}

// GetDatabasePath returns the database path with ~ expanded
func (c *TOMLConfig) GetDatabasePath() (string, error) {
	return expandHome(c.Server.DatabasePath)
}

// RCONTimeout returns the RCON dial and IO timeout
func (c *TOMLConfig) RCONTimeout() time.Duration {
	if c.RCON.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.RCON.TimeoutSeconds) * time.Second
}
