package transcript

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor periodically prunes the transcript cache: expired entries go
// first, then the size cap is enforced. One janitor per process.
type Janitor struct {
	cache    *Cache
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger
}

// NewJanitor validates the cron schedule and prepares a janitor for the
// cache. The schedule uses the standard five-field cron syntax.
func NewJanitor(cache *Cache, schedule string) (*Janitor, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}
	return &Janitor{
		cache:    cache,
		schedule: schedule,
		logger:   slog.Default(),
	}, nil
}

// WithLogger sets the logger for the janitor.
func (j *Janitor) WithLogger(logger *slog.Logger) *Janitor {
	j.logger = logger
	return j
}

// Start begins the schedule. Calling Start on a running janitor is a no-op.
func (j *Janitor) Start() error {
	if j.cron != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(j.schedule, j.runOnce); err != nil {
		return fmt.Errorf("scheduling janitor: %w", err)
	}
	c.Start()
	j.cron = c
	j.logger.Info("cache janitor started", slog.String("schedule", j.schedule))
	return nil
}

// Stop halts the schedule and waits for an in-flight prune to finish.
func (j *Janitor) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
	j.cron = nil
	j.logger.Info("cache janitor stopped")
}

func (j *Janitor) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	res, err := j.cache.Prune(ctx)
	if err != nil {
		j.logger.Error("cache prune failed", slog.String("error", err.Error()))
		return
	}
	if res.Expired > 0 || res.Evicted > 0 {
		j.logger.Info("cache pruned",
			slog.Int64("expired", res.Expired),
			slog.Int64("evicted", res.Evicted))
	}
}
