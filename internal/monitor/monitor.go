// Package monitor drives reconciliation on a schedule. One background
// goroutine lists the bucket, diffs the listing against the persisted
// snapshot, reconciles the identifier map, and persists whatever changed.
// Runs never overlap: the timer and on-demand triggers share a
// single-run-at-a-time lock, and an overrunning pass delays the next tick
// instead of parallelizing it.
//
// A run commits the identifier map before the change log and snapshot.
// When a later write fails, the old snapshot survives and the next run
// re-emits the same change records: the change log is at-least-once, never
// lossy, and map entries are idempotent either way.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/permauri/permauri/internal/idgen"
	"github.com/permauri/permauri/internal/objstore"
	"github.com/permauri/permauri/internal/reconcile"
	"github.com/permauri/permauri/internal/snapshot"
	"github.com/permauri/permauri/internal/urimap"
)

// DefaultInterval is the canonical indexing cadence. WatchInterval is the
// frequent change-detection cadence; both run the same full reconciliation
// engine, only the tick differs.
const (
	DefaultInterval = time.Hour
	WatchInterval   = 60 * time.Second
)

// Monitor owns the recurring reconciliation loop.
type Monitor struct {
	store     objstore.Store
	maps      *urimap.Store
	snapshots *snapshot.Store
	changelog *reconcile.Changelog
	gen       *idgen.Generator
	interval  time.Duration
	logger    zerolog.Logger
	metrics   *Metrics

	// runMu is the single-run-at-a-time lock shared by the timer loop and
	// ReconcileNow.
	runMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Monitor. A non-positive interval falls back to
// DefaultInterval.
func New(store objstore.Store, maps *urimap.Store, snapshots *snapshot.Store, changelog *reconcile.Changelog, gen *idgen.Generator, interval time.Duration, logger zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		store:     store,
		maps:      maps,
		snapshots: snapshots,
		changelog: changelog,
		gen:       gen,
		interval:  interval,
		logger:    logger.With().Str("component", "monitor").Logger(),
		metrics:   InitMetrics(nil),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the background loop. The first run happens immediately.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
	m.logger.Info().Dur("interval", m.interval).Msg("reconciliation monitor started")
}

// Stop cancels the loop and waits for an in-flight run to finish.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
	m.logger.Info().Msg("reconciliation monitor stopped")
}

func (m *Monitor) run() {
	defer m.wg.Done()

	if _, err := m.ReconcileNow(m.ctx); err != nil {
		m.logRunError(err)
	}

	// A timer reset after each completed run, rather than a ticker, so an
	// overrunning pass delays the next tick instead of stacking up.
	timer := time.NewTimer(m.interval)
	defer timer.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-timer.C:
			if _, err := m.ReconcileNow(m.ctx); err != nil {
				m.logRunError(err)
			}
			timer.Reset(m.interval)
		}
	}
}

// logRunError reports a failed run at the run boundary. Failures never
// crash the loop; the next tick proceeds from the last good persisted
// state.
func (m *Monitor) logRunError(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	m.metrics.RunsTotal.WithLabelValues("error").Inc()
	m.logger.Error().Err(err).Msg("reconciliation run failed")
}

// ReconcileNow performs one reconciliation pass synchronously and returns
// its summary. It serializes with the scheduled loop.
func (m *Monitor) ReconcileNow(ctx context.Context) (reconcile.Summary, error) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	runID := uuid.NewString()[:8]
	start := time.Now()
	logger := m.logger.With().Str("run", runID).Logger()

	newSnap, err := m.store.List(ctx)
	if err != nil {
		return reconcile.Summary{}, fmt.Errorf("list store: %w", err)
	}

	oldSnap, err := m.snapshots.Load()
	if err != nil {
		return reconcile.Summary{}, fmt.Errorf("load snapshot: %w", err)
	}

	// The whole load-reconcile-save cycle runs inside the map store's
	// Update transaction, so concurrent registrations and stale cleanups
	// serialize with it instead of being overwritten by this run's save.
	var (
		changes    []reconcile.Change
		sum        reconcile.Summary
		mapEntries int
	)
	if err := m.maps.Update(func(uriMap *urimap.Map) (bool, error) {
		var mapChanged bool
		var err error
		changes, sum, mapChanged, err = reconcile.Reconcile(oldSnap, newSnap, uriMap, m.gen, time.Now().UTC())
		if err != nil {
			return false, err
		}
		mapEntries = uriMap.Len()
		return mapChanged, nil
	}); err != nil {
		return reconcile.Summary{}, fmt.Errorf("reconcile: %w", err)
	}

	// The map commits first; the change log and snapshot follow. A failure
	// here leaves the old snapshot in place, so the next run re-derives
	// and re-emits the same change records (see the package doc).
	if len(changes) > 0 {
		if err := m.changelog.Append(changes); err != nil {
			return reconcile.Summary{}, fmt.Errorf("append changelog: %w", err)
		}
		if err := m.snapshots.Save(newSnap); err != nil {
			return reconcile.Summary{}, fmt.Errorf("persist snapshot: %w", err)
		}
	}

	m.metrics.RunsTotal.WithLabelValues("ok").Inc()
	m.metrics.RunDuration.Observe(time.Since(start).Seconds())
	m.metrics.ObjectsSeen.Set(float64(sum.Scanned))
	m.metrics.MapEntries.Set(float64(mapEntries))
	m.metrics.LastRunUnix.Set(float64(time.Now().Unix()))
	m.metrics.ChangesTotal.WithLabelValues("added").Add(float64(sum.Added))
	m.metrics.ChangesTotal.WithLabelValues("deleted").Add(float64(sum.Removed))
	m.metrics.ChangesTotal.WithLabelValues("modified").Add(float64(sum.Modified))
	m.metrics.ChangesTotal.WithLabelValues("moved").Add(float64(sum.Moved))

	logger.Info().
		Int("scanned", sum.Scanned).
		Int("added", sum.Added).
		Int("removed", sum.Removed).
		Int("modified", sum.Modified).
		Int("moved", sum.Moved).
		Dur("duration", time.Since(start)).
		Msg("reconciliation run complete")

	return sum, nil
}
