package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/chairmatch/internal/dispatch"
	"github.com/example/chairmatch/internal/matcher"
	"github.com/example/chairmatch/internal/models"
	"github.com/example/chairmatch/internal/observability"
	"github.com/example/chairmatch/internal/storage"
)

// Engine drives the matching loop. Every interval it reads the ride backlog
// and the chair fleet from the store, pairs them through the assigner, and
// commits each pair with a guarded update. Nothing carries over between
// cycles except the last stats snapshot; a restarted engine resumes from the
// backlog alone.
type Engine struct {
	store      storage.Store
	matcher    *matcher.Service
	dispatcher dispatch.Dispatcher
	logger     *slog.Logger
	interval   time.Duration

	running atomic.Bool

	mu        sync.Mutex
	lastStats models.CycleStats
}

func New(store storage.Store, m *matcher.Service, d dispatch.Dispatcher, logger *slog.Logger, interval time.Duration) *Engine {
	if d == nil {
		d = dispatch.NopDispatcher{}
	}
	return &Engine{store: store, matcher: m, dispatcher: d, logger: logger, interval: interval}
}

// RunCycle executes one matching pass. A store read failure aborts the whole
// pass and surfaces as the returned error; the next tick retries from
// scratch. Commit failures never abort the pass, they are counted per pair.
func (e *Engine) RunCycle(ctx context.Context) (models.CycleStats, error) {
	started := time.Now()

	rides, err := e.store.UnmatchedRides(ctx)
	if err != nil {
		return models.CycleStats{}, fmt.Errorf("load backlog: %w", err)
	}
	stats := models.CycleStats{Backlog: len(rides), RanAt: started}
	if len(rides) == 0 {
		e.finishCycle(ctx, &stats, started)
		return stats, nil
	}

	active, err := e.store.ActiveChairs(ctx)
	if err != nil {
		return models.CycleStats{}, fmt.Errorf("load active chairs: %w", err)
	}
	stats.ActiveChairs = len(active)
	observability.ActiveChairs.Set(float64(len(active)))

	busy, err := e.store.BusyChairIDs(ctx)
	if err != nil {
		return models.CycleStats{}, fmt.Errorf("load busy chairs: %w", err)
	}
	free := matcher.FilterFree(active, busy)
	stats.FreeChairs = len(free)
	observability.FreeChairs.Set(float64(len(free)))

	for _, a := range e.matcher.Assign(rides, free) {
		ok, err := e.store.AssignChairToRide(ctx, a.RideID, a.ChairID)
		if err != nil {
			stats.CommitErrors++
			observability.CommitErrorsTotal.Inc()
			e.logger.Error("assignment commit failed", "ride_id", a.RideID, "chair_id", a.ChairID, "error", err)
			continue
		}
		if !ok {
			// Lost to a concurrent writer. The ride is already taken; the
			// chair sits out the rest of this cycle and comes back free on
			// the next one.
			stats.LostRaces++
			observability.CommitConflictsTotal.Inc()
			e.logger.Warn("assignment lost race", "ride_id", a.RideID, "chair_id", a.ChairID)
			continue
		}
		stats.Matched++
		observability.MatchesTotal.Inc()

		if err := e.dispatcher.Publish(ctx, a); err != nil {
			observability.DispatchErrorsTotal.Inc()
			e.logger.Warn("assignment event publish failed", "ride_id", a.RideID, "chair_id", a.ChairID, "error", err)
		}
	}

	e.finishCycle(ctx, &stats, started)
	return stats, nil
}

// Run ticks at the configured interval until ctx is cancelled. Each cycle
// runs on its own goroutine behind a single-flight guard, so a tick that
// fires while a cycle is still in flight is skipped rather than queued and
// cycles never overlap no matter how slow the store gets.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.logger.Info("matching engine started", "interval", e.interval.String())
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("matching engine stopped")
			return
		case <-ticker.C:
			if !e.running.CompareAndSwap(false, true) {
				continue
			}
			go func() {
				defer e.running.Store(false)
				if _, err := e.RunCycle(ctx); err != nil && ctx.Err() == nil {
					e.logger.Error("matching cycle aborted", "error", err)
				}
			}()
		}
	}
}

// LastStats returns a snapshot of the most recently completed cycle.
func (e *Engine) LastStats() models.CycleStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastStats
}

func (e *Engine) finishCycle(ctx context.Context, stats *models.CycleStats, started time.Time) {
	stats.Duration = time.Since(started)

	observability.CyclesTotal.Inc()
	observability.CycleDuration.Observe(stats.Duration.Seconds())
	observability.BacklogSize.Set(float64(stats.Backlog))

	e.mu.Lock()
	e.lastStats = *stats
	e.mu.Unlock()

	// Idle cycles tick many times a second; keep them out of info logs.
	level := slog.LevelDebug
	if stats.Matched > 0 || stats.LostRaces > 0 || stats.CommitErrors > 0 {
		level = slog.LevelInfo
	}
	e.logger.Log(ctx, level, "matching cycle finished",
		"backlog", stats.Backlog,
		"active_chairs", stats.ActiveChairs,
		"free_chairs", stats.FreeChairs,
		"matched", stats.Matched,
		"lost_races", stats.LostRaces,
		"commit_errors", stats.CommitErrors,
		"duration_ms", stats.Duration.Milliseconds(),
	)
}
