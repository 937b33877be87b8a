// Package config handles configuration loading, validation, and persistence
// for the sourcequery daemon.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir       = "config"
	DefaultConfigFile      = "config.json"
	TOMLConfigFile         = "config.toml"
	DefaultGamePort        = 5520
	DefaultAPIPort         = 5580
	DefaultGameDir         = "hytale"
	DefaultGameDescription = "Hytale"
	DefaultReleaseURL      = "https://api.github.com/repos/sourcequery-project/sourcequery/releases/latest"
)

// Environment variables consulted after the file is loaded.
const (
	EnvQueryPort   = "QUERY_PORT"
	EnvUpdateCheck = "SOURCEQUERY_UPDATE_CHECK"
)

// Config is the root configuration structure.
type Config struct {
	mu     sync.RWMutex
	path   string
	format string

	QueryData       QueryData       `json:"query_data" toml:"query_data"`
	ApplicationData ApplicationData `json:"application_data" toml:"application_data"`
}

// QueryData describes the hosted server as advertised to query clients.
type QueryData struct {
	ServerName      string `json:"server_name" toml:"server_name"`
	WorldName       string `json:"world_name" toml:"world_name"`
	GameDirectory   string `json:"game_directory" toml:"game_directory"`
	GameDescription string `json:"game_description" toml:"game_description"`
	Version         string `json:"version" toml:"version"`
	Revision        string `json:"revision" toml:"revision"`
	MaxPlayers      int    `json:"max_players" toml:"max_players"`

	GamePort    int    `json:"game_port" toml:"game_port"`
	QueryPort   int    `json:"query_port" toml:"query_port"` // 0 = game port + 1
	BindAddress string `json:"bind_address" toml:"bind_address"`
	Workers     int    `json:"workers" toml:"workers"`

	// Environment forces the OS byte ("linux", "windows", "mac"); empty detects it.
	Environment string `json:"environment" toml:"environment"`
}

// ApplicationData contains daemon configuration.
type ApplicationData struct {
	Timers     TimerConfig   `json:"timers" toml:"timers"`
	Update     UpdateConfig  `json:"update" toml:"update"`
	MQTT       MQTTConfig    `json:"mqtt" toml:"mqtt"`
	API        APIConfig     `json:"api" toml:"api"`
	Storage    StorageConfig `json:"storage" toml:"storage"`
	Logging    LoggingConfig `json:"logging" toml:"logging"`
	CLIEnabled bool          `json:"cli_enabled" toml:"cli_enabled"`
}

// TimerConfig holds periodic task intervals in seconds. Zero disables a task.
type TimerConfig struct {
	UpdateCheckDelay    int `json:"update_check_delay_sec" toml:"update_check_delay_sec"`
	UpdateCheckInterval int `json:"update_check_interval_sec" toml:"update_check_interval_sec"`
	HeartbeatInterval   int `json:"heartbeat_interval_sec" toml:"heartbeat_interval_sec"`
	SelfTestInterval    int `json:"self_test_interval_sec" toml:"self_test_interval_sec"`
	DiagnosticsInterval int `json:"diagnostics_interval_sec" toml:"diagnostics_interval_sec"`
	StatsInterval       int `json:"stats_interval_sec" toml:"stats_interval_sec"`
}

// UpdateConfig controls the release update notifier.
type UpdateConfig struct {
	Enabled    bool   `json:"enabled" toml:"enabled"`
	ReleaseURL string `json:"release_url" toml:"release_url"`
}

// MQTTConfig holds MQTT state feed and notification settings.
type MQTTConfig struct {
	Enabled      bool   `json:"enabled" toml:"enabled"`
	BrokerURL    string `json:"broker_url" toml:"broker_url"`
	Port         int    `json:"port" toml:"port"`
	UseTLS       bool   `json:"use_tls" toml:"use_tls"`
	CertFile     string `json:"cert_file" toml:"cert_file"`
	KeyFile      string `json:"key_file" toml:"key_file"`
	CAFile       string `json:"ca_file" toml:"ca_file"`
	ClientID     string `json:"client_id" toml:"client_id"`
	Username     string `json:"username" toml:"username"`
	Password     string `json:"password" toml:"password"`
	TopicPrefix  string `json:"topic_prefix" toml:"topic_prefix"`
	FeedEncoding string `json:"feed_encoding" toml:"feed_encoding"` // "json" or "msgpack"
}

// APIConfig holds HTTP API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled" toml:"enabled"`
	BindAddress    string   `json:"bind_address" toml:"bind_address"`
	Port           int      `json:"port" toml:"port"`
	AuthToken      string   `json:"auth_token" toml:"auth_token"`
	AuthDisabled   bool     `json:"auth_disabled" toml:"auth_disabled"`
	TLSEnabled     bool     `json:"tls_enabled" toml:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file" toml:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file" toml:"tls_key_file"`
	AllowedOrigins []string `json:"allowed_origins" toml:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps" toml:"rate_limit_rps"`
}

// StorageConfig holds the custom rules database location.
type StorageConfig struct {
	DBPath string `json:"db_path" toml:"db_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level" toml:"level"`
	Directory  string `json:"directory" toml:"directory"`
	MaxBackups int    `json:"max_backups" toml:"max_backups"`
	Console    bool   `json:"console" toml:"console"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		format: "json",
		QueryData: QueryData{
			ServerName:      "Hytale Server",
			WorldName:       "default",
			GameDirectory:   DefaultGameDir,
			GameDescription: DefaultGameDescription,
			Version:         "1.0.0",
			MaxPlayers:      100,
			GamePort:        DefaultGamePort,
			Workers:         4,
		},
		ApplicationData: ApplicationData{
			Timers: TimerConfig{
				UpdateCheckDelay:    30,
				UpdateCheckInterval: 21600,
				HeartbeatInterval:   60,
				SelfTestInterval:    300,
				DiagnosticsInterval: 60,
				StatsInterval:       900,
			},
			Update: UpdateConfig{
				Enabled:    true,
				ReleaseURL: DefaultReleaseURL,
			},
			MQTT: MQTTConfig{
				Port:         1883,
				ClientID:     "sourcequery",
				TopicPrefix:  "sourcequery",
				FeedEncoding: "json",
			},
			API: APIConfig{
				Enabled:      true,
				BindAddress:  "127.0.0.1",
				Port:         DefaultAPIPort,
				RateLimitRPS: 20,
			},
			Storage: StorageConfig{
				DBPath: filepath.Join("data", "sourcequery.db"),
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxBackups: 5,
				Console:    true,
			},
			CLIEnabled: true,
		},
	}
}

// Load reads configuration from configDir. config.toml takes precedence
// over config.json; when neither exists a default config.json is written.
// Environment overrides are applied last and never persisted.
func Load(configDir string) (*Config, error) {
	cfg, err := loadFile(configDir)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv(os.LookupEnv)
	return cfg, nil
}

func loadFile(configDir string) (*Config, error) {
	tomlPath := filepath.Join(configDir, TOMLConfigFile)
	if data, err := os.ReadFile(tomlPath); err == nil {
		cfg := DefaultConfig()
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", tomlPath, err)
		}
		cfg.path = tomlPath
		cfg.format = "toml"
		log.Info().Str("path", tomlPath).Msg("configuration loaded")
		return cfg, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config file %s: %w", tomlPath, err)
	}

	configPath := filepath.Join(configDir, DefaultConfigFile)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}
	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// persist fields added since the file was written
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}
	return cfg, nil
}

// applyEnv overlays QUERY_PORT and SOURCEQUERY_UPDATE_CHECK.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := lookup(EnvQueryPort); ok && strings.TrimSpace(v) != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			log.Warn().Str("value", v).Msg("ignoring invalid " + EnvQueryPort)
		} else {
			c.QueryData.QueryPort = port
		}
	}

	if v, ok := lookup(EnvUpdateCheck); ok {
		v = strings.ToLower(strings.TrimSpace(v))
		c.ApplicationData.Update.Enabled = v == "true" || v == "1"
	}
}

// Save writes the configuration in the format it was loaded from.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if c.format == "toml" {
		data, err = toml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetQueryData returns a copy of the query configuration.
func (c *Config) GetQueryData() QueryData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.QueryData
}

// SetQueryData replaces the query configuration.
func (c *Config) SetQueryData(data QueryData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.QueryData = data
}

// GetApplicationData returns a copy of the application configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// UpdateQueryFields applies a partial JSON-style update to the query
// configuration, keyed by JSON field name.
func (c *Config) UpdateQueryFields(fields map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(c.QueryData)
	if err != nil {
		return err
	}
	m := make(map[string]interface{})
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}

	for key, value := range fields {
		if _, ok := m[key]; !ok {
			return fmt.Errorf("unknown query_data field %q", key)
		}
		m[key] = value
	}

	updated, err := json.Marshal(m)
	if err != nil {
		return err
	}
	next := c.QueryData
	if err := json.Unmarshal(updated, &next); err != nil {
		return fmt.Errorf("failed to update query_data: %w", err)
	}
	c.QueryData = next
	return nil
}

// ResolvedQueryPort returns the UDP port for the query responder.
func (q QueryData) ResolvedQueryPort() int {
	if q.QueryPort > 0 {
		return q.QueryPort
	}
	return q.GamePort + 1
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// IsFirstRun reports whether the server has not been named yet.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.QueryData.ServerName == "" || c.QueryData.ServerName == DefaultConfig().QueryData.ServerName
}
