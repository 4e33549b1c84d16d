package watchdog

import (
	"context"
	"log/slog"
	"time"
)

// Recoverer is the part of the supervisor the watchdog drives.
type Recoverer interface {
	RecoverIfExited() (bool, error)
}

// Run polls target every interval until ctx is cancelled. A failed recovery
// is logged and retried on the next tick.
func Run(
	ctx context.Context,
	target Recoverer,
	interval time.Duration,
	logger *slog.Logger,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Watchdog stopped")
			return

		case <-ticker.C:
			recovered, err := target.RecoverIfExited()
			if err != nil {
				logger.Error("Backend recovery failed", slog.Any("err", err))
				continue
			}

			if recovered {
				logger.Info("Backend recovered")
			}
		}
	}
}
