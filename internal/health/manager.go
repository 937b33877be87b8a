// Package health runs the periodic checks of the daemon: a loopback
// self-test of the query responder, host diagnostics published as rules
// and an MQTT heartbeat.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sourcequery-project/sourcequery/internal/config"
	"github.com/sourcequery-project/sourcequery/internal/events"
	"github.com/sourcequery-project/sourcequery/internal/network"
	"github.com/sourcequery-project/sourcequery/internal/server"
	"github.com/sourcequery-project/sourcequery/internal/util"
)

const (
	selfTestTimeout = 3 * time.Second
	// Gives the responder time to bind before the first self-test.
	selfTestInitialDelay = 5 * time.Second
)

// Responder is the part of the query responder the checks use.
type Responder interface {
	SelfTest(ctx context.Context) error
	Stats() network.ResponderStats
}

// Status is the outcome of the most recent self-test.
type Status struct {
	SelfTestOK          bool      `json:"self_test_ok"`
	LastSelfTest        time.Time `json:"last_self_test"`
	LastError           string    `json:"last_error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// Manager runs the periodic health checks.
type Manager struct {
	timers    config.TimerConfig
	state     *server.GameState
	responder Responder
	eventBus  *events.EventBus
	diskPath  string

	collect func(diskPath string) util.HostDiagnostics

	mu     sync.Mutex
	status Status
}

// NewManager creates a new health check manager. responder may be nil
// when the query socket could not be bound.
func NewManager(timers config.TimerConfig, state *server.GameState, responder Responder, eventBus *events.EventBus) *Manager {
	return &Manager{
		timers:    timers,
		state:     state,
		responder: responder,
		eventBus:  eventBus,
		diskPath:  ".",
		collect:   util.CollectDiagnostics,
	}
}

// Start launches all checks and blocks until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	checks := []struct {
		name     string
		interval int
		delay    time.Duration
		fn       func(context.Context)
	}{
		{"query_self_test", m.timers.SelfTestInterval, selfTestInitialDelay, m.checkSelfTest},
		{"host_diagnostics", m.timers.DiagnosticsInterval, 0, m.refreshDiagnostics},
		{"heartbeat", m.timers.HeartbeatInterval, -1, m.heartbeat},
	}

	var wg sync.WaitGroup
	started := 0
	for _, check := range checks {
		if check.interval <= 0 {
			continue
		}
		started++

		check := check
		wg.Add(1)
		go func() {
			defer wg.Done()
			runCheck(ctx, check.name, time.Duration(check.interval)*time.Second, check.delay, check.fn)
		}()
	}

	log.Info().Int("checks", started).Msg("health check manager started")

	<-ctx.Done()
	wg.Wait()
	log.Info().Msg("health check manager stopped")
}

// runCheck runs fn after delay and then on every tick. A negative delay
// skips the initial run.
func runCheck(ctx context.Context, name string, interval, delay time.Duration, fn func(context.Context)) {
	if delay >= 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		log.Debug().Str("check", name).Msg("running initial health check")
		fn(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// Status returns the last self-test outcome.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) checkSelfTest(ctx context.Context) {
	if m.responder == nil {
		return
	}

	testCtx, cancel := context.WithTimeout(ctx, selfTestTimeout)
	err := m.responder.SelfTest(testCtx)
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.status.LastSelfTest = time.Now()
	if err != nil {
		m.status.SelfTestOK = false
		m.status.LastError = err.Error()
		m.status.ConsecutiveFailures++
		log.Warn().Err(err).Int("failures", m.status.ConsecutiveFailures).Msg("query self-test failed")
		return
	}

	if m.status.ConsecutiveFailures > 0 {
		log.Info().Int("after_failures", m.status.ConsecutiveFailures).Msg("query self-test recovered")
	}
	m.status.SelfTestOK = true
	m.status.LastError = ""
	m.status.ConsecutiveFailures = 0
}

// refreshDiagnostics replaces the host rule set with a fresh sample.
func (m *Manager) refreshDiagnostics(ctx context.Context) {
	diag := m.collect(m.diskPath)
	if err := m.state.SetRules(server.RuleSourceHost, diag.Rules()); err != nil {
		log.Warn().Err(err).Msg("failed to publish host diagnostics")
		return
	}
	log.Debug().
		Float64("cpu_percent", diag.CPUPercent).
		Float64("memory_percent", diag.MemPercent).
		Msg("host diagnostics refreshed")
}

// heartbeat publishes a status summary over MQTT.
func (m *Manager) heartbeat(ctx context.Context) {
	info, _ := m.state.ServerInfo()
	data := map[string]interface{}{
		"type":        "heartbeat",
		"name":        info.Name,
		"players":     info.Players,
		"max_players": info.MaxPlayers,
		"uptime_sec":  int64(m.state.Uptime().Seconds()),
		"self_test":   m.Status().SelfTestOK,
	}
	if m.responder != nil {
		data["responder"] = m.responder.Stats()
	}

	m.eventBus.Emit(ctx, events.Event{
		Type:   events.EventNotifyMQTT,
		Source: "heartbeat",
		Payload: events.NotifyMQTTPayload{
			Topic: "heartbeat",
			Data:  data,
		},
	})
}
