package daemon

import (
	"context"
	"log/slog"
	"time"

	"wayleave/internal/model"
	"wayleave/internal/util"
)

// RecordSyncer reloads the record cache without user-facing feedback.
type RecordSyncer interface {
	Sync(ctx context.Context) error
}

type SessionSource interface {
	Current() util.Optional[model.Session]
}

// RecordSyncTask reloads the record cache every interval while someone is
// signed in. Failed reloads are logged and retried on the next tick.
func RecordSyncTask(logger *slog.Logger, records RecordSyncer, sessions SessionSource, interval time.Duration) DaemonFunc {
	return func(ctx context.Context, name string) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		logger.Info("Record sync task started", "task", name, "interval", interval)

		for {
			select {
			case <-ctx.Done():
				logger.Info("Record sync task shutting down", "task", name)
				return nil
			case <-ticker.C:
				if !sessions.Current().IsSet {
					continue
				}
				if err := records.Sync(ctx); err != nil {
					logger.Warn("Record sync failed", "task", name, "error", err)
				}
			}
		}
	}
}

// Listener is a blocking event source, such as a LISTEN loop.
type Listener interface {
	Listen(ctx context.Context) error
}

// ListenTask runs l until ctx ends. A listener that stops with an error is
// restarted by the manager.
func ListenTask(logger *slog.Logger, l Listener) DaemonFunc {
	return func(ctx context.Context, name string) error {
		logger.Info("Listener started", "task", name)
		err := l.Listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
}
