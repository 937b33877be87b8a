package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// RunSetupWizard asks for the values query clients will see and saves them.
func RunSetupWizard(cfg *Config, in io.Reader) error {
	reader := bufio.NewReader(in)

	fmt.Println("╔══════════════════════════════════════════════╗")
	fmt.Println("║        sourcequery - First Run Setup         ║")
	fmt.Println("╚══════════════════════════════════════════════╝")
	fmt.Println()

	query := cfg.GetQueryData()
	app := cfg.GetApplicationData()

	fmt.Println("── Server Identity ──")
	query.ServerName = promptString(reader, "Server name shown in server browsers", query.ServerName)
	query.WorldName = promptString(reader, "World / map name", query.WorldName)
	query.Version = promptString(reader, "Game version", query.Version)
	query.MaxPlayers = promptInt(reader, "Max players", query.MaxPlayers)

	fmt.Println()
	fmt.Println("── Network Ports ──")
	query.GamePort = promptInt(reader, "Game port", query.GamePort)
	query.QueryPort = promptInt(reader, "Query port (0 = game port + 1)", query.QueryPort)
	if !IsUDPPortAvailable(query.ResolvedQueryPort()) {
		fmt.Printf("    UDP port %d is in use right now\n", query.ResolvedQueryPort())
	}

	fmt.Println()
	fmt.Println("── Integrations ──")
	app.Update.Enabled = promptBool(reader, "Check for new releases", app.Update.Enabled)
	app.MQTT.Enabled = promptBool(reader, "Enable MQTT state feed", app.MQTT.Enabled)
	if app.MQTT.Enabled {
		app.MQTT.BrokerURL = promptString(reader, "MQTT broker host", app.MQTT.BrokerURL)
		app.MQTT.Port = promptInt(reader, "MQTT broker port", app.MQTT.Port)
	}
	app.API.Enabled = promptBool(reader, "Enable HTTP API", app.API.Enabled)
	if app.API.Enabled {
		app.API.AuthToken = promptString(reader, "API bearer token", app.API.AuthToken)
	}

	cfg.mu.Lock()
	cfg.QueryData = query
	cfg.ApplicationData = app
	cfg.mu.Unlock()

	// Validate before saving
	result := Validate(cfg)
	if !result.IsValid() {
		fmt.Println("\n⚠ Configuration has errors:")
		for _, e := range result.Errors {
			fmt.Printf("  - [%s] %s\n", e.Field, e.Message)
		}
		retry := promptString(reader, "Would you like to try again? (yes/no)", "yes")
		if strings.ToLower(retry) == "yes" {
			return RunSetupWizard(cfg, reader)
		}
		return fmt.Errorf("configuration validation failed")
	}

	for _, w := range result.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Println()
	fmt.Println("✓ Configuration saved to " + cfg.Path())
	fmt.Println()
	return nil
}

func promptString(reader *bufio.Reader, prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Printf("  %s: ", prompt)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func promptInt(reader *bufio.Reader, prompt string, defaultVal int) int {
	fmt.Printf("  %s [%d]: ", prompt, defaultVal)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Printf("    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func promptBool(reader *bufio.Reader, prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Printf("  %s [%s]: ", prompt, defaultStr)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))

	if input == "" {
		return defaultVal
	}

	return input == "yes" || input == "y" || input == "true" || input == "1"
}
