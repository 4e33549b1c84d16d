package syncgate

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/angeloszaimis/syncproxy/internal/metrics"
)

// Gate guards a Syncer with a minimum interval between attempts.
type Gate struct {
	logger      *slog.Logger
	syncer      Syncer
	restarter   Restarter
	minInterval time.Duration
	timeout     time.Duration
	collector   *metrics.Collector

	mutex    sync.Mutex
	lastSync atomic.Int64 // unix nanos; written only under mutex
	now      func() time.Time
}

// New creates a Gate. restarter may be nil when the backend is managed
// elsewhere, in which case changes are logged but nothing is restarted.
func New(
	logger *slog.Logger,
	syncer Syncer,
	restarter Restarter,
	minInterval time.Duration,
	timeout time.Duration,
	collector *metrics.Collector,
) *Gate {
	return &Gate{
		logger:      logger,
		syncer:      syncer,
		restarter:   restarter,
		minInterval: minInterval,
		timeout:     timeout,
		collector:   collector,
		now:         time.Now,
	}
}

// MaybeSync runs the syncer if the minimum interval has elapsed since the
// last attempt. Failures are logged and never returned. The pull is detached
// from ctx's cancellation so a disconnecting client cannot abort it.
func (g *Gate) MaybeSync(ctx context.Context) Outcome {
	if !g.due() {
		return OutcomeSkipped
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	// Double-check: another request may have just finished a sync
	if !g.due() {
		return OutcomeSkipped
	}

	defer func() {
		g.lastSync.Store(g.now().UnixNano())
	}()

	syncCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()

	start := time.Now()
	result := g.syncer.Sync(syncCtx)

	g.collector.Emit(metrics.MetricEvent{
		Type:     metrics.EventSyncCompleted,
		Outcome:  result.Outcome.String(),
		Duration: time.Since(start),
	})

	switch result.Outcome {
	case OutcomeFailed:
		g.logger.Error("Content sync failed", slog.Any("err", result.Err))

	case OutcomeChanged:
		g.logger.Info("Content updated", slog.String("output", result.Summary))
		if g.restarter == nil {
			break
		}
		if err := g.restarter.Restart(); err != nil {
			g.logger.Error("Failed to restart backend after content update", slog.Any("err", err))
		}
	}

	return result.Outcome
}

// LastSync returns when the last attempt finished, or the zero time if no
// attempt has run yet.
func (g *Gate) LastSync() time.Time {
	last := g.lastSync.Load()
	if last == 0 {
		return time.Time{}
	}
	return time.Unix(0, last)
}

func (g *Gate) due() bool {
	last := g.lastSync.Load()
	if last == 0 {
		return true
	}
	return g.now().Sub(time.Unix(0, last)) >= g.minInterval
}
