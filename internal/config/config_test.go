package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_CreatesDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, DefaultConfigFile)); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	q := cfg.GetQueryData()
	if q.GameDirectory != "hytale" || q.GameDescription != "Hytale" {
		t.Errorf("game dir/description = %q/%q", q.GameDirectory, q.GameDescription)
	}
	if q.ResolvedQueryPort() != DefaultGamePort+1 {
		t.Errorf("query port = %d, want %d", q.ResolvedQueryPort(), DefaultGamePort+1)
	}
}

func TestLoad_JSONOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	raw := `{"query_data": {"server_name": "My Server", "game_port": 25565}}`
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	q := cfg.GetQueryData()
	if q.ServerName != "My Server" || q.GamePort != 25565 {
		t.Errorf("query data = %+v", q)
	}
	if q.Workers != 4 {
		t.Errorf("workers = %d, want default 4", q.Workers)
	}
	if q.ResolvedQueryPort() != 25566 {
		t.Errorf("query port = %d, want 25566", q.ResolvedQueryPort())
	}

	// defaults were persisted back
	data, _ := os.ReadFile(filepath.Join(dir, DefaultConfigFile))
	var m map[string]map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("re-saved config is not JSON: %v", err)
	}
	if _, ok := m["query_data"]["workers"]; !ok {
		t.Error("re-saved config is missing default fields")
	}
}

func TestLoad_TOMLPreferred(t *testing.T) {
	dir := t.TempDir()
	tomlDoc := `
[query_data]
server_name = "From TOML"
game_port = 7000
query_port = 7100

[application_data.mqtt]
enabled = true
broker_url = "broker.local"
feed_encoding = "msgpack"
`
	if err := os.WriteFile(filepath.Join(dir, TOMLConfigFile), []byte(tomlDoc), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(`{"query_data":{"server_name":"From JSON"}}`), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	q := cfg.GetQueryData()
	if q.ServerName != "From TOML" || q.ResolvedQueryPort() != 7100 {
		t.Errorf("query data = %+v", q)
	}
	app := cfg.GetApplicationData()
	if !app.MQTT.Enabled || app.MQTT.FeedEncoding != "msgpack" || app.MQTT.Port != 1883 {
		t.Errorf("mqtt = %+v", app.MQTT)
	}
	if !strings.HasSuffix(cfg.Path(), TOMLConfigFile) {
		t.Errorf("path = %s", cfg.Path())
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("{nope"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	tests := []struct {
		name       string
		env        map[string]string
		wantPort   int
		wantUpdate bool
	}{
		{"no overrides", nil, DefaultGamePort + 1, true},
		{"query port", map[string]string{EnvQueryPort: "27015"}, 27015, true},
		{"invalid query port", map[string]string{EnvQueryPort: "abc"}, DefaultGamePort + 1, true},
		{"update true", map[string]string{EnvUpdateCheck: "TRUE"}, DefaultGamePort + 1, true},
		{"update one", map[string]string{EnvUpdateCheck: "1"}, DefaultGamePort + 1, true},
		{"update false", map[string]string{EnvUpdateCheck: "false"}, DefaultGamePort + 1, false},
		{"update other", map[string]string{EnvUpdateCheck: "yes"}, DefaultGamePort + 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.applyEnv(func(k string) (string, bool) {
				v, ok := tt.env[k]
				return v, ok
			})
			if got := cfg.GetQueryData().ResolvedQueryPort(); got != tt.wantPort {
				t.Errorf("query port = %d, want %d", got, tt.wantPort)
			}
			if got := cfg.GetApplicationData().Update.Enabled; got != tt.wantUpdate {
				t.Errorf("update enabled = %v, want %v", got, tt.wantUpdate)
			}
		})
	}
}

func TestUpdateQueryFields(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.UpdateQueryFields(map[string]interface{}{"server_name": "Renamed", "max_players": 32}); err != nil {
		t.Fatalf("UpdateQueryFields: %v", err)
	}
	q := cfg.GetQueryData()
	if q.ServerName != "Renamed" || q.MaxPlayers != 32 {
		t.Errorf("query data = %+v", q)
	}

	if err := cfg.UpdateQueryFields(map[string]interface{}{"no_such_field": 1}); err == nil {
		t.Error("expected error for unknown field")
	}
	if err := cfg.UpdateQueryFields(map[string]interface{}{"game_port": "not a number"}); err == nil {
		t.Error("expected error for mistyped field")
	}
	if cfg.GetQueryData().ServerName != "Renamed" {
		t.Error("failed update changed the config")
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if r := Validate(cfg); !r.IsValid() {
		t.Fatalf("default config invalid: %v", r.Errors)
	}

	cfg.QueryData.QueryPort = cfg.QueryData.GamePort
	cfg.QueryData.Workers = 0
	cfg.QueryData.Environment = "beos"
	cfg.ApplicationData.MQTT.Enabled = true
	cfg.ApplicationData.MQTT.FeedEncoding = "xml"

	r := Validate(cfg)
	fields := make(map[string]bool)
	for _, e := range r.Errors {
		fields[e.Field] = true
	}
	for _, want := range []string{
		"query_data.query_port",
		"query_data.workers",
		"query_data.environment",
		"application_data.mqtt.broker_url",
		"application_data.mqtt.feed_encoding",
	} {
		if !fields[want] {
			t.Errorf("missing error for %s (got %v)", want, r.Errors)
		}
	}
}

func TestRunSetupWizard(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.path = filepath.Join(dir, DefaultConfigFile)

	answers := strings.Join([]string{
		"Wizard Server", // name
		"",              // world
		"",              // version
		"40",            // max players
		"6000",          // game port
		"0",             // query port
		"no",            // update check
		"no",            // mqtt
		"yes",           // api
		"secret-token",  // token
	}, "\n") + "\n"

	if err := RunSetupWizard(cfg, strings.NewReader(answers)); err != nil {
		t.Fatalf("RunSetupWizard: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	q := loaded.GetQueryData()
	if q.ServerName != "Wizard Server" || q.MaxPlayers != 40 || q.ResolvedQueryPort() != 6001 {
		t.Errorf("query data = %+v", q)
	}
	if loaded.GetApplicationData().API.AuthToken != "secret-token" {
		t.Error("API token not saved")
	}
}
