package window

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Defaults for TrackerConfig.
const (
	DefaultPollTimeout    = 200 * time.Millisecond
	DefaultUpdateInterval = 100 * time.Millisecond
	DefaultIdleSleep      = 100 * time.Millisecond
)

// TrackerConfig sets the polling cadence.
type TrackerConfig struct {
	// PollTimeout bounds one provider query.
	PollTimeout time.Duration
	// UpdateInterval is the time between queries.
	UpdateInterval time.Duration
	// IdleSleep is added to the interval after a failed query.
	IdleSleep time.Duration
}

// Tracker polls a provider and reports focus changes. Only changes are
// delivered; a window seen again after a failed query is not repeated.
type Tracker struct {
	provider Provider
	config   TrackerConfig
	changes  chan Info
	logger   *slog.Logger

	last    Info
	started bool
	failing bool
}

// NewTracker returns a tracker over provider.
func NewTracker(provider Provider, config TrackerConfig, logger *slog.Logger) *Tracker {
	if config.PollTimeout <= 0 {
		config.PollTimeout = DefaultPollTimeout
	}
	if config.UpdateInterval <= 0 {
		config.UpdateInterval = DefaultUpdateInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		provider: provider,
		config:   config,
		changes:  make(chan Info, 1),
		logger:   logger.With("component", "window", "provider", provider.Name()),
	}
}

// Changes delivers the focused window whenever it changes. It is closed when
// Run returns.
func (t *Tracker) Changes() <-chan Info { return t.changes }

// Run polls until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	defer close(t.changes)
	t.logger.Info("window tracker started", "interval", t.config.UpdateInterval)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		wait := t.config.UpdateInterval
		if !t.poll(ctx) {
			wait += t.config.IdleSleep
		}
		timer.Reset(wait)
	}
}

// poll queries once and reports whether the query succeeded.
func (t *Tracker) poll(ctx context.Context) bool {
	qctx, cancel := context.WithTimeout(ctx, t.config.PollTimeout)
	info, err := t.provider.Active(qctx)
	cancel()
	if err != nil {
		if !t.failing && !errors.Is(err, context.Canceled) {
			t.logger.Warn("window query failed", "error", err)
		}
		t.failing = true
		return false
	}
	if t.failing {
		t.logger.Info("window query recovered")
		t.failing = false
	}
	if t.started && info == t.last {
		return true
	}
	t.started, t.last = true, info
	select {
	case t.changes <- info:
	case <-ctx.Done():
	}
	return true
}
