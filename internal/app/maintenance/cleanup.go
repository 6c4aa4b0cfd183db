package maintenance

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/magiclink/internal/store"
	"github.com/charlesng35/magiclink/pkg/logger"
)

const defaultPurgeSpec = "@hourly"

// Cleaner periodically removes expired magic links and sessions from backends
// that do not expire entries on their own.
type Cleaner struct {
	targets  []target
	cron     *cron.Cron
	log      *zap.Logger
	schedule string
}

type target struct {
	name   string
	purger store.Purger
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithSchedule overrides the cron specification of the purge job.
func WithSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.schedule = spec
		}
	}
}

// WithPurger registers a backend to purge. Nil purgers are ignored.
func WithPurger(name string, p store.Purger) Option {
	return func(cleaner *Cleaner) {
		if p != nil {
			cleaner.targets = append(cleaner.targets, target{name: name, purger: p})
		}
	}
}

// NewCleaner constructs a Cleaner. Without purgers Start is a no-op.
func NewCleaner(opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		schedule: defaultPurgeSpec,
		log:      logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Enabled reports whether any purge target is registered.
func (c *Cleaner) Enabled() bool {
	return len(c.targets) > 0
}

// Start registers the purge job with the cron scheduler and launches it.
func (c *Cleaner) Start() error {
	if !c.Enabled() {
		return nil
	}

	if _, err := c.cron.AddFunc(c.schedule, func() {
		if err := c.RunOnce(context.Background()); err != nil {
			c.log.Warn("store purge failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("maintenance: schedule %q: %w", c.schedule, err)
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce purges every target. Failures of one target do not prevent the others
// from running; all errors are returned together.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	for _, t := range c.targets {
		removed, err := t.purger.PurgeExpired(ctx)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("purge %s: %w", t.name, err))
			continue
		}
		if removed > 0 {
			c.log.Info("purged expired entries",
				zap.String("store", t.name),
				zap.Int64("removed", removed),
			)
		}
	}
	return errs
}
