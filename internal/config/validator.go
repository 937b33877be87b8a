package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	query := cfg.GetQueryData()
	app := cfg.GetApplicationData()
	validateQueryData(&query, result)
	validateApplicationData(&app, result)

	// Port conflict detection
	if app.API.Enabled && app.API.Port == query.ResolvedQueryPort() {
		result.AddWarning("application_data.api.port",
			fmt.Sprintf("API and query responder share port %d (TCP and UDP)", app.API.Port))
	}

	return result
}

func validateQueryData(data *QueryData, result *ValidationResult) {
	if strings.TrimSpace(data.ServerName) == "" {
		result.AddError("query_data.server_name", "server name is required")
	}
	if strings.IndexByte(data.ServerName, 0) >= 0 || strings.IndexByte(data.WorldName, 0) >= 0 {
		result.AddError("query_data.server_name", "names must not contain NUL bytes")
	}

	if data.MaxPlayers < 0 {
		result.AddError("query_data.max_players", "max players cannot be negative")
	}
	if data.MaxPlayers > 255 {
		result.AddWarning("query_data.max_players",
			fmt.Sprintf("max players %d will be reported as 255", data.MaxPlayers))
	}

	validatePort(data.GamePort, "query_data.game_port", result)
	validatePort(data.ResolvedQueryPort(), "query_data.query_port", result)
	if data.ResolvedQueryPort() == data.GamePort {
		result.AddError("query_data.query_port", "query port must differ from the game port")
	}

	if data.Workers < 1 {
		result.AddError("query_data.workers", "at least 1 query worker is required")
	}
	if data.Workers > 64 {
		result.AddWarning("query_data.workers",
			fmt.Sprintf("high worker count (%d) brings no benefit on a single socket", data.Workers))
	}

	switch strings.ToLower(data.Environment) {
	case "", "linux", "windows", "mac":
	default:
		result.AddError("query_data.environment",
			fmt.Sprintf("unknown environment %q (expected linux, windows or mac)", data.Environment))
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	validateTimers(&data.Timers, result)

	// Update notifier
	if data.Update.Enabled && strings.TrimSpace(data.Update.ReleaseURL) == "" {
		result.AddError("application_data.update.release_url", "release URL is required when update checks are enabled")
	}

	// MQTT
	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
		switch data.MQTT.FeedEncoding {
		case "json", "msgpack":
		default:
			result.AddError("application_data.mqtt.feed_encoding", "feed encoding must be json or msgpack")
		}
	}

	// API
	if data.API.Enabled {
		validatePort(data.API.Port, "application_data.api.port", result)
		if !data.API.AuthDisabled && strings.TrimSpace(data.API.AuthToken) == "" {
			result.AddWarning("application_data.api.auth_token",
				"no API token configured, write endpoints will reject all requests")
		}
		if data.API.AuthDisabled {
			result.AddWarning("application_data.api.auth_disabled",
				"API authentication is disabled, anyone reaching the API can change server state")
		}
		if data.API.RateLimitRPS < 1 {
			result.AddWarning("application_data.api.rate_limit_rps",
				"rate limit is disabled (0 RPS), this may expose the API to abuse")
		}
	}
}

func validateTimers(timers *TimerConfig, result *ValidationResult) {
	if timers.UpdateCheckInterval > 0 && timers.UpdateCheckInterval < 300 {
		result.AddWarning("timers.update_check_interval",
			"update check interval less than 300s may hit release API rate limits")
	}
	if timers.HeartbeatInterval > 0 && timers.HeartbeatInterval < 10 {
		result.AddWarning("timers.heartbeat_interval",
			"heartbeat interval less than 10s may cause excessive traffic")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsUDPPortAvailable checks if a UDP port is available for binding.
func IsUDPPortAvailable(port int) bool {
	pc, err := net.ListenPacket("udp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	pc.Close()
	return true
}
