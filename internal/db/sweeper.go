package db

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RecordSweeper hard-deletes soft-deleted records whose retention elapsed.
type RecordSweeper interface {
	SweepAll(ctx context.Context) (map[string]int64, error)
}

// SessionCleaner removes sessions expired before a cutoff.
type SessionCleaner interface {
	CleanSessions(ctx context.Context, before time.Time) (int64, error)
}

// SweepOnce runs one sweep pass. Sessions that expired more than grace
// ago are removed after the records. Either dependency may be nil.
func SweepOnce(ctx context.Context, records RecordSweeper, sessions SessionCleaner, grace time.Duration, log *zap.Logger) error {
	var firstErr error
	if records != nil {
		swept, err := records.SweepAll(ctx)
		for model, n := range swept {
			if n > 0 {
				log.Info("swept soft-deleted records", zap.String("model", model), zap.Int64("deleted", n))
			}
		}
		if err != nil {
			log.Error("failed to sweep soft-deleted records", zap.Error(err))
			firstErr = err
		}
	}
	if sessions != nil {
		n, err := sessions.CleanSessions(ctx, time.Now().Add(-grace))
		if err != nil {
			log.Error("failed to clean expired sessions", zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		} else if n > 0 {
			log.Info("cleaned expired sessions", zap.Int64("deleted", n))
		}
	}
	return firstErr
}

// StartSweeper runs SweepOnce every interval until ctx is cancelled.
func StartSweeper(ctx context.Context, records RecordSweeper, sessions SessionCleaner, interval, grace time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = SweepOnce(ctx, records, sessions, grace, log)
			}
		}
	}()
}
