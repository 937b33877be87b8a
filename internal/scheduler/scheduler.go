// Package scheduler runs the background jobs that are not health checks:
// the release update notifier and a periodic traffic summary.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sourcequery-project/sourcequery/internal/config"
	"github.com/sourcequery-project/sourcequery/internal/events"
	"github.com/sourcequery-project/sourcequery/internal/network"
	"github.com/sourcequery-project/sourcequery/internal/util"
)

const updateCheckTimeout = 15 * time.Second

// UpdateChecker reports whether a different release is published.
type UpdateChecker interface {
	CheckForUpdate(ctx context.Context) (bool, util.Release, error)
	CurrentVersion() string
}

// StatsSource reports responder counters.
type StatsSource interface {
	Stats() network.ResponderStats
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	timers   config.TimerConfig
	update   config.UpdateConfig
	checker  UpdateChecker
	stats    StatsSource
	eventBus *events.EventBus

	requests chan struct{}

	mu           sync.Mutex
	lastNotified string
	lastStats    network.ResponderStats
}

// NewScheduler creates a new task scheduler. checker and stats may be nil.
func NewScheduler(cfg *config.Config, checker UpdateChecker, stats StatsSource, eventBus *events.EventBus) *Scheduler {
	app := cfg.GetApplicationData()
	return &Scheduler{
		timers:   app.Timers,
		update:   app.Update,
		checker:  checker,
		stats:    stats,
		eventBus: eventBus,
		requests: make(chan struct{}, 1),
	}
}

// Start runs all tasks and blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("scheduler started")

	var wg sync.WaitGroup

	if s.update.Enabled && s.checker != nil {
		s.eventBus.Subscribe(events.EventUpdateCheckRequested, "scheduler.updateCheck", s.onUpdateCheckRequested)
		defer s.eventBus.Unsubscribe(events.EventUpdateCheckRequested, "scheduler.updateCheck")

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runUpdateCheckLoop(ctx)
		}()
	} else {
		log.Info().Msg("update check disabled")
	}

	if s.stats != nil && s.timers.StatsInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runStatsLoop(ctx, time.Duration(s.timers.StatsInterval)*time.Second)
		}()
	}

	<-ctx.Done()
	wg.Wait()
	log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) onUpdateCheckRequested(ctx context.Context, event events.Event) error {
	select {
	case s.requests <- struct{}{}:
	default:
		// a check is already pending
	}
	return nil
}

// runUpdateCheckLoop checks once after the initial delay, then on every
// interval tick and on request. It runs on its own goroutine so a slow
// release endpoint never holds up anything else.
func (s *Scheduler) runUpdateCheckLoop(ctx context.Context) {
	delay := time.NewTimer(time.Duration(s.timers.UpdateCheckDelay) * time.Second)
	defer delay.Stop()

	var tick <-chan time.Time
	if s.timers.UpdateCheckInterval > 0 {
		ticker := time.NewTicker(time.Duration(s.timers.UpdateCheckInterval) * time.Second)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-delay.C:
		case <-tick:
		case <-s.requests:
		}
		s.checkForUpdate(ctx)
	}
}

// checkForUpdate performs one check. Failures are logged at debug only.
func (s *Scheduler) checkForUpdate(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, updateCheckTimeout)
	defer cancel()

	available, rel, err := s.checker.CheckForUpdate(checkCtx)
	if err != nil {
		log.Debug().Err(err).Msg("update check failed")
		return
	}
	if !available {
		log.Debug().Str("version", s.checker.CurrentVersion()).Msg("running the latest release")
		return
	}

	latest := rel.Version()
	log.Info().
		Str("current", s.checker.CurrentVersion()).
		Str("latest", latest).
		Str("url", rel.HTMLURL).
		Msg("Update available")

	s.mu.Lock()
	already := s.lastNotified == latest
	s.lastNotified = latest
	s.mu.Unlock()
	if already {
		return
	}

	s.eventBus.Emit(ctx, events.Event{
		Type:   events.EventUpdateAvailable,
		Source: "scheduler",
		Payload: events.UpdateAvailablePayload{
			Current: s.checker.CurrentVersion(),
			Latest:  latest,
			URL:     rel.HTMLURL,
		},
	})
}

func (s *Scheduler) runStatsLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logStats()
		}
	}
}

// logStats logs the counters accumulated since the previous summary.
func (s *Scheduler) logStats() network.ResponderStats {
	cur := s.stats.Stats()

	s.mu.Lock()
	prev := s.lastStats
	s.lastStats = cur
	s.mu.Unlock()

	delta := network.ResponderStats{
		Received:    cur.Received - prev.Received,
		Sent:        cur.Sent - prev.Sent,
		Unanswered:  cur.Unanswered - prev.Unanswered,
		ReadErrors:  cur.ReadErrors - prev.ReadErrors,
		WriteErrors: cur.WriteErrors - prev.WriteErrors,
	}

	log.Info().
		Uint64("received", delta.Received).
		Uint64("sent", delta.Sent).
		Uint64("unanswered", delta.Unanswered).
		Uint64("read_errors", delta.ReadErrors).
		Uint64("write_errors", delta.WriteErrors).
		Uint64("total_received", cur.Received).
		Msg("query traffic summary")
	return delta
}
