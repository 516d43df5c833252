package oauth

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/blacksky-algorithms/safe-skies-api/pkg/observability"
)

// DefaultPurgeSchedule runs the purge at the top of every hour
const DefaultPurgeSchedule = "@hourly"

// Purger deletes expired rows from a backing store
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// PurgeExpired runs one purge over every store and returns the total
// number of rows removed. A failing store does not stop the others.
func PurgeExpired(ctx context.Context, logger *observability.Logger, stores map[string]Purger) int64 {
	var total int64
	for name, store := range stores {
		n, err := store.PurgeExpired(ctx)
		if err != nil {
			logger.WithError(err).WithField("store", name).Error("failed to purge expired auth state")
			continue
		}
		if n > 0 {
			logger.WithFields(map[string]interface{}{
				"store":   name,
				"removed": n,
			}).Info("purged expired auth state")
		}
		total += n
	}
	return total
}

// StartPurgeJob schedules PurgeExpired on schedule and starts the cron
// runner. Callers stop it with Stop on shutdown.
func StartPurgeJob(schedule string, logger *observability.Logger, stores map[string]Purger) (*cron.Cron, error) {
	if schedule == "" {
		schedule = DefaultPurgeSchedule
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		PurgeExpired(ctx, logger, stores)
	})
	if err != nil {
		return nil, err
	}

	c.Start()
	logger.WithField("schedule", schedule).Info("auth state purge job started")
	return c, nil
}
