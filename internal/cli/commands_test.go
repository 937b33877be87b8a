package cli

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sourcequery-project/sourcequery/internal/challenge"
	"github.com/sourcequery-project/sourcequery/internal/config"
	"github.com/sourcequery-project/sourcequery/internal/events"
	"github.com/sourcequery-project/sourcequery/internal/health"
	"github.com/sourcequery-project/sourcequery/internal/network"
	"github.com/sourcequery-project/sourcequery/internal/query"
	"github.com/sourcequery-project/sourcequery/internal/server"
)

type fixedStats struct{}

func (fixedStats) Stats() network.ResponderStats {
	return network.ResponderStats{Received: 42, Sent: 40, Unanswered: 2}
}

type fixedHealth struct{ st health.Status }

func (f fixedHealth) Status() health.Status { return f.st }

func newTestCLI(t *testing.T, input string) (*CLI, *bytes.Buffer, *server.GameState, *events.EventBus, *config.Config) {
	t.Helper()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "config"))
	if err != nil {
		t.Fatal(err)
	}
	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)
	state := server.NewGameState(query.ServerInfo{Name: "TestWorld", Map: "overworld", MaxPlayers: 20, Version: "1.0"}, nil)
	_ = state.SetRules(server.RuleSourceBuiltin, []query.Rule{{Name: "version", Value: "1.0"}})

	out := &bytes.Buffer{}
	h := fixedHealth{health.Status{SelfTestOK: false, LastSelfTest: time.Now(), LastError: "timeout"}}
	c := NewCLI(cfg, state, fixedStats{}, h, bus, strings.NewReader(input), out)
	return c, out, state, bus, cfg
}

func TestCLI_StatusPlayersRules(t *testing.T) {
	c, out, state, _, _ := newTestCLI(t, "status\nplayers\nrules\nstats\n")
	state.SetPlayers([]string{"alice", "bob"}, "test")

	c.Start(context.Background())

	text := out.String()
	for _, want := range []string{"TestWorld", "2/20", "failing: timeout", "alice", "bob", "version", "uptime_seconds", "42"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestCLI_UnknownCommand(t *testing.T) {
	c, out, _, _, _ := newTestCLI(t, "frobnicate\n\n")
	c.Start(context.Background())
	if !strings.Contains(out.String(), "Unknown command: 'frobnicate'") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestCLI_QuitEmitsShutdown(t *testing.T) {
	c, _, _, bus, _ := newTestCLI(t, "quit\n")

	got := make(chan string, 1)
	bus.Subscribe(events.EventShutdown, "test", func(_ context.Context, e events.Event) error {
		got <- e.Source
		return nil
	})

	c.Start(context.Background())

	select {
	case src := <-got:
		if src != "cli" {
			t.Errorf("source = %q", src)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown not emitted")
	}
}

func TestCLI_SetQuery(t *testing.T) {
	c, out, _, _, cfg := newTestCLI(t, "setquery max_players 64\nsetquery server_name My Server\nsetquery workers 0\nsetquery bogus 1\n")
	c.Start(context.Background())

	q := cfg.GetQueryData()
	if q.MaxPlayers != 64 || q.ServerName != "My Server" {
		t.Errorf("query data = %+v", q)
	}
	if q.Workers == 0 {
		t.Error("invalid workers value was kept")
	}
	if strings.Count(out.String(), "Error:") != 2 {
		t.Errorf("expected two errors, output = %q", out.String())
	}
}

func TestCLI_StopsOnCancel(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()
	cfg := config.DefaultConfig()
	state := server.NewGameState(query.ServerInfo{}, nil)

	// a reader that blocks until closed
	pr, pw := io.Pipe()
	defer pw.Close()

	c := NewCLI(cfg, state, nil, nil, bus, pr, &bytes.Buffer{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestQueryAndPrint(t *testing.T) {
	engine, err := challenge.New()
	if err != nil {
		t.Fatal(err)
	}
	state := server.NewGameState(query.ServerInfo{Name: "Remote", Map: "world", MaxPlayers: 8, Version: "2.0", GamePort: 5520}, nil)
	state.SetPlayers([]string{"zoe"}, "test")
	_ = state.SetRules(server.RuleSourceCustom, []query.Rule{{Name: "motd", Value: "hi"}})

	d := query.NewDispatcher(query.DispatcherConfig{GameDir: "hytale", GameDescription: "Hytale"},
		engine, state, state, state, query.WithLogger(zerolog.Nop()))
	r := network.NewQueryResponder(network.ResponderConfig{BindAddress: "127.0.0.1", Port: 0, Workers: 1}, d)
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer r.Stop()

	out := &bytes.Buffer{}
	client := network.NewQueryClient(2 * time.Second)
	if err := QueryAndPrint(context.Background(), client, r.LocalAddr().String(), out); err != nil {
		t.Fatalf("QueryAndPrint: %v", err)
	}
	for _, want := range []string{"Remote", "Hytale (hytale)", "1/8", "zoe", "motd", "5520"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q", want)
		}
	}
}
