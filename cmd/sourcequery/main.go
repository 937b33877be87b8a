// Sourcequery - A2S Server Query Responder
//
// Sourcequery answers Source-engine A2S_INFO, A2S_PLAYER and A2S_RULES
// queries on behalf of a game server, using stateless challenge tokens
// so no per-client state is kept. Server state is fed through the REST
// API or MQTT and published over Prometheus and MQTT telemetry.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/sourcequery-project/sourcequery/internal/api"
	"github.com/sourcequery-project/sourcequery/internal/challenge"
	"github.com/sourcequery-project/sourcequery/internal/cli"
	"github.com/sourcequery-project/sourcequery/internal/config"
	"github.com/sourcequery-project/sourcequery/internal/db"
	"github.com/sourcequery-project/sourcequery/internal/events"
	"github.com/sourcequery-project/sourcequery/internal/health"
	"github.com/sourcequery-project/sourcequery/internal/metrics"
	"github.com/sourcequery-project/sourcequery/internal/network"
	"github.com/sourcequery-project/sourcequery/internal/query"
	"github.com/sourcequery-project/sourcequery/internal/scheduler"
	"github.com/sourcequery-project/sourcequery/internal/server"
	"github.com/sourcequery-project/sourcequery/internal/telemetry"
	"github.com/sourcequery-project/sourcequery/internal/util"
)

// Version is overridden at build time with -ldflags "-X main.Version=...".
var Version = "1.0.0"

const Banner = `
  ___                          ___
 / __| ___ _  _ _ _ __ ___    / _ \ _  _ ___ _ _ _  _
 \__ \/ _ \ || | '_/ _/ -_)  | (_) | || / -_) '_| || |
 |___/\___/\_,_|_| \__\___|   \__\_\\_,_\___|_|  \_, |
                                                 |__/  v%s
 A2S Server Query Responder
`

const (
	bindRetries     = 15
	shutdownTimeout = 30 * time.Second
)

func main() {
	configDir := flag.String("config", config.DefaultConfigDir, "Directory holding config.toml")
	setup := flag.Bool("setup", false, "Run the interactive setup wizard before starting")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage:\n  %s [flags]\n  %s query <host:port>\n\nFlags:\n", os.Args[0], os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.Arg(0) == "query" {
		os.Exit(runQuery(flag.Args()[1:]))
	}

	fmt.Printf(Banner, Version)
	fmt.Println()

	// Defaults first, reconfigured once the config is loaded
	logFile, err := util.InitLogger(util.DefaultLogConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", Version).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting Sourcequery")

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging := cfg.GetApplicationData().Logging
	if f, err := util.InitLogger(util.LogConfig{
		Level:      logging.Level,
		Directory:  logging.Directory,
		MaxBackups: logging.MaxBackups,
		Console:    logging.Console,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	} else {
		_ = logFile.Close()
		logFile = f
	}
	defer logFile.Close()

	if *setup {
		if err := config.RunSetupWizard(cfg, os.Stdin); err != nil {
			log.Fatal().Err(err).Msg("setup wizard failed")
		}
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}

		if cfg.IsFirstRun() && !*setup {
			log.Info().Msg("first run detected, launching setup wizard")
			if err := config.RunSetupWizard(cfg, os.Stdin); err != nil {
				log.Fatal().Err(err).Msg("setup wizard failed")
			}
			if v := config.Validate(cfg); !v.IsValid() {
				log.Fatal().Msg("configuration is still invalid after setup")
			}
		} else {
			log.Fatal().Msg("configuration validation failed, please fix the errors above")
		}
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()

	q := cfg.GetQueryData()
	app := cfg.GetApplicationData()

	state := server.NewGameState(query.ServerInfo{
		Name:       q.ServerName,
		Map:        q.WorldName,
		MaxPlayers: q.MaxPlayers,
		Version:    q.Version,
		GamePort:   q.GamePort,
	}, eventBus)

	builtin := server.BuiltinRules(server.BuiltinRuleParams{
		Version:     q.Version,
		Revision:    q.Revision,
		GamePort:    q.GamePort,
		QueryPort:   q.ResolvedQueryPort(),
		MaxPlayers:  q.MaxPlayers,
		World:       q.WorldName,
		Environment: string(util.GetPlatform()),
	})
	if err := state.SetRules(server.RuleSourceBuiltin, builtin); err != nil {
		log.Fatal().Err(err).Msg("failed to install builtin rules")
	}

	// Custom rules are optional; the responder still runs without storage
	rulesDB, err := db.NewRulesDatabase(app.Storage.DBPath)
	if err != nil {
		log.Warn().Err(err).Str("path", app.Storage.DBPath).Msg("custom rules storage unavailable")
		rulesDB = nil
	} else {
		defer rulesDB.Close()
		if err := api.SyncCustomRules(ctx, rulesDB, state); err != nil {
			log.Warn().Err(err).Msg("failed to load custom rules")
		}
	}

	engine, err := challenge.New()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize challenge engine")
	}

	queryMetrics := metrics.NewQueryMetrics(prometheus.DefaultRegisterer)

	dispatcher := query.NewDispatcher(query.DispatcherConfig{
		GameDir:         q.GameDirectory,
		GameDescription: q.GameDescription,
		Environment:     util.EnvironmentByte(q.Environment),
	}, engine, state, state, state,
		query.WithLogger(util.ComponentLogger("dispatcher")),
		query.WithMetrics(queryMetrics),
	)

	responder := network.NewQueryResponder(network.ResponderConfig{
		BindAddress: q.BindAddress,
		Port:        q.ResolvedQueryPort(),
		Workers:     q.Workers,
	}, dispatcher)

	var apiServer *api.Server
	if app.API.Enabled {
		apiServer = api.NewServer(api.Dependencies{
			Config:    cfg,
			State:     state,
			Rules:     rulesDB,
			Responder: responder,
			Metrics:   queryMetrics,
			Gatherer:  prometheus.DefaultGatherer,
			EventBus:  eventBus,
			Version:   Version,
		})
	}

	var mqttHandler *telemetry.MQTTHandler
	if app.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(app.MQTT, state, eventBus, Version)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
			mqttHandler = nil
		}
	}

	healthMgr := health.NewManager(app.Timers, state, responder, eventBus)
	sched := scheduler.NewScheduler(cfg, util.NewUpdater(app.Update.ReleaseURL, Version), responder, eventBus)

	shutdownCh := make(chan struct{})
	var shutdownOnce sync.Once
	eventBus.Subscribe(events.EventShutdown, "main.shutdown", func(_ context.Context, _ events.Event) error {
		shutdownOnce.Do(func() { close(shutdownCh) })
		return nil
	})

	var wg sync.WaitGroup
	errCh := make(chan error, 10)

	// A responder bind failure is not fatal so the API and telemetry stay reachable
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", q.ResolvedQueryPort()).Msg("starting A2S query responder")
		if err := startWithRetry(ctx, "query responder", responder.Start, bindRetries); err != nil {
			log.Error().Err(err).Msg("query responder failed after retries, queries will not be answered")
		}
	}()

	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", app.API.Port).Msg("starting REST API server")
			if err := startWithRetry(ctx, "API server", apiServer.Start, bindRetries); err != nil {
				log.Error().Err(err).Msg("API server failed after retries")
				errCh <- fmt.Errorf("api server: %w", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting health check manager")
		healthMgr.Start(ctx)
	}()

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting task scheduler")
		sched.Start(ctx)
	}()

	// The CLI goroutine blocks on stdin, so it is not waited for
	if app.CLIEnabled {
		cliHandler := cli.NewCLI(cfg, state, responder, healthMgr, eventBus, os.Stdin, os.Stdout)
		go func() {
			log.Info().Msg("starting interactive CLI")
			cliHandler.Start(ctx)
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested")
	}

	log.Info().Msg("initiating graceful shutdown...")

	cancel()
	responder.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(shutdownTimeout):
		log.Warn().Dur("timeout", shutdownTimeout).Msg("shutdown timed out, forcing exit")
	}

	stats := responder.Stats()
	log.Info().
		Uint64("received", stats.Received).
		Uint64("sent", stats.Sent).
		Uint64("unanswered", stats.Unanswered).
		Msg("final query statistics")

	eventBus.Stop()

	log.Info().Msg("Sourcequery stopped")
}

// runQuery queries a remote server once and prints the result.
func runQuery(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: sourcequery query <host:port>")
		return 2
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client := network.NewQueryClient(5 * time.Second)
	if err := cli.QueryAndPrint(ctx, client, args[0], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "query failed: %v\n", err)
		return 1
	}
	return 0
}

// startWithRetry retries a bind with a fixed 3 second interval, which gives
// the OS time to release a port held by a killed predecessor.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil || errors.Is(lastErr, context.Canceled) {
			return lastErr
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
