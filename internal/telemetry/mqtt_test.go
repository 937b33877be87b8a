package telemetry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/sourcequery-project/sourcequery/internal/config"
	"github.com/sourcequery-project/sourcequery/internal/events"
	"github.com/sourcequery-project/sourcequery/internal/query"
	"github.com/sourcequery-project/sourcequery/internal/server"
)

func newState() *server.GameState {
	return server.NewGameState(query.ServerInfo{Name: "start", Map: "world", MaxPlayers: 10}, nil)
}

func TestTopics(t *testing.T) {
	if got := FeedTopic("sq/", SectionPlayers); got != "sq/state/players" {
		t.Errorf("FeedTopic = %q", got)
	}
	if got := EventTopic("sq", "update_available"); got != "sq/events/update_available" {
		t.Errorf("EventTopic = %q", got)
	}
}

func TestApplyFeed_JSON(t *testing.T) {
	state := newState()

	if err := ApplyFeed(state, EncodingJSON, SectionInfo, []byte(`{"name":"Renamed","max_players":32}`)); err != nil {
		t.Fatalf("info: %v", err)
	}
	if err := ApplyFeed(state, EncodingJSON, SectionPlayers, []byte(`{"players":["alice","bob"]}`)); err != nil {
		t.Fatalf("players: %v", err)
	}
	if err := ApplyFeed(state, EncodingJSON, SectionRules, []byte(`{"rules":[{"name":"tps","value":"20"},{"name":"","value":"skip"}]}`)); err != nil {
		t.Fatalf("rules: %v", err)
	}

	info, _ := state.ServerInfo()
	if info.Name != "Renamed" || info.MaxPlayers != 32 || info.Map != "world" {
		t.Errorf("info = %+v", info)
	}
	if info.Players != 2 {
		t.Errorf("players = %d, want 2", info.Players)
	}
	feed := state.RuleSet(server.RuleSourceFeed)
	if len(feed) != 1 || feed[0] != (query.Rule{Name: "tps", Value: "20"}) {
		t.Errorf("feed rules = %+v", feed)
	}
}

func TestApplyFeed_Msgpack(t *testing.T) {
	state := newState()

	data, err := msgpack.Marshal(PlayersFeed{Players: []string{"carol"}})
	if err != nil {
		t.Fatal(err)
	}
	if err := ApplyFeed(state, EncodingMsgpack, SectionPlayers, data); err != nil {
		t.Fatalf("players: %v", err)
	}
	players, _ := state.Players()
	if len(players) != 1 || players[0].Name != "carol" {
		t.Errorf("players = %+v", players)
	}

	name := "Packed"
	data, err = msgpack.Marshal(server.InfoUpdate{Name: &name})
	if err != nil {
		t.Fatal(err)
	}
	if err := ApplyFeed(state, EncodingMsgpack, SectionInfo, data); err != nil {
		t.Fatalf("info: %v", err)
	}
	if info, _ := state.ServerInfo(); info.Name != "Packed" {
		t.Errorf("name = %q", info.Name)
	}
}

func TestApplyFeed_Errors(t *testing.T) {
	tests := []struct {
		name     string
		encoding string
		section  string
		data     string
	}{
		{"bad json", EncodingJSON, SectionInfo, `{`},
		{"unknown section", EncodingJSON, "weather", `{}`},
		{"unknown encoding", "xml", SectionInfo, `{}`},
		{"wrong shape", EncodingJSON, SectionPlayers, `{"players":"alice"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ApplyFeed(newState(), tt.encoding, tt.section, []byte(tt.data)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestApplyFeed_RejectsOutOfRangeInfo(t *testing.T) {
	state := newState()
	err := ApplyFeed(state, EncodingJSON, SectionInfo, []byte(`{"name":"Renamed","game_port":70000,"players":-5}`))
	if !errors.Is(err, server.ErrInvalidInfoUpdate) {
		t.Fatalf("err = %v, want ErrInvalidInfoUpdate", err)
	}

	info, _ := state.ServerInfo()
	if info.Name != "start" || info.GamePort != 0 || info.Players != 0 {
		t.Errorf("rejected feed changed state: %+v", info)
	}

	data, err := msgpack.Marshal(map[string]interface{}{"game_port": -1})
	if err != nil {
		t.Fatalf("msgpack.Marshal: %v", err)
	}
	if err := ApplyFeed(state, EncodingMsgpack, SectionInfo, data); !errors.Is(err, server.ErrInvalidInfoUpdate) {
		t.Fatalf("msgpack err = %v, want ErrInvalidInfoUpdate", err)
	}
}

func TestBuildMessage(t *testing.T) {
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	msg := BuildMessage(map[string]interface{}{"hostname": "box"}, map[string]int{"players": 3}, at)

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["hostname"] != "box" || decoded["timestamp"] != "2026-05-01T10:00:00Z" {
		t.Errorf("message = %v", decoded)
	}
	if p, ok := decoded["payload"].(map[string]interface{}); !ok || p["players"] != float64(3) {
		t.Errorf("payload = %v", decoded["payload"])
	}
}

func TestNewMQTTHandler_Disabled(t *testing.T) {
	if _, err := NewMQTTHandler(config.MQTTConfig{}, newState(), events.NewEventBus(), "1.0.0"); err == nil {
		t.Fatal("expected error for disabled MQTT")
	}
}

func TestNewMQTTHandler_MissingCA(t *testing.T) {
	cfg := config.MQTTConfig{Enabled: true, BrokerURL: "localhost", Port: 8883, UseTLS: true, CAFile: "/nonexistent/ca.pem"}
	if _, err := NewMQTTHandler(cfg, newState(), events.NewEventBus(), "1.0.0"); err == nil {
		t.Fatal("expected error for missing CA file")
	}
}
