package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/oneiric/oneiric/internal/logging"
	"github.com/oneiric/oneiric/internal/resilience"
	"github.com/oneiric/oneiric/internal/telemetry"
)

// RefreshLoop periodically re-runs a Pipeline sync against a fixed target,
// guarding the loader with a Circuit Breaker so a persistently failing
// remote source stops being hammered (§4.7.5, §4.9).
//
// Scheduling accepts either a plain time.Duration tick (the default) or a
// standard five-field cron expression when the operator wants refreshes
// aligned to wall-clock boundaries (e.g. "0 */6 * * *") rather than a fixed
// period since process start; a cron.Parser validates the expression once
// at construction so a malformed schedule fails fast instead of at the
// first missed tick.
type RefreshLoop struct {
	pipeline *Pipeline
	breaker  *resilience.CircuitBreaker
	target   string
	interval time.Duration
	schedule cron.Schedule
	sink     telemetry.Sink
	log      *logging.Logger
}

// NewRefreshLoop constructs a RefreshLoop. interval <= 0 means "one-shot":
// Run performs a single sync and returns instead of looping (§6.1 the
// serverless profile forces remote.refresh_interval = 0).
func NewRefreshLoop(pipeline *Pipeline, breaker *resilience.CircuitBreaker, target string, interval time.Duration, sink telemetry.Sink, log *logging.Logger) *RefreshLoop {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(resilience.DefaultBreakerConfig())
	}
	if sink == nil {
		sink = telemetry.NoopSink{}
	}
	if log == nil {
		log = logging.NewFromEnv("remote")
	}
	return &RefreshLoop{pipeline: pipeline, breaker: breaker, target: target, interval: interval, sink: sink, log: log}
}

// NewRefreshLoopCron builds a RefreshLoop scheduled from a standard
// five-field cron expression instead of a fixed interval (the
// remote.refresh_cron setting, per SPEC_FULL.md's DOMAIN STACK wiring of
// robfig/cron).
func NewRefreshLoopCron(pipeline *Pipeline, breaker *resilience.CircuitBreaker, target, cronExpr string, sink telemetry.Sink, log *logging.Logger) (*RefreshLoop, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("parsing refresh cron expression %q: %w", cronExpr, err)
	}
	r := NewRefreshLoop(pipeline, breaker, target, -1, sink, log)
	r.schedule = schedule
	return r, nil
}

// Run performs one sync immediately, then repeats until ctx is cancelled.
// With a cron schedule configured, each subsequent sync fires at
// schedule.Next(now); otherwise it repeats every fixed interval. interval
// <= 0 with no schedule performs exactly one sync (§6.1 serverless profile:
// "one-shot sync, skip watcher/refresh-loop loops").
func (r *RefreshLoop) Run(ctx context.Context) error {
	if err := r.syncOnce(ctx); err != nil {
		r.log.WithError(err).Warn("remote sync failed")
	}

	if r.schedule != nil {
		return r.runCron(ctx)
	}
	if r.interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.syncOnce(ctx); err != nil {
				r.log.WithError(err).Warn("remote sync failed")
			}
		}
	}
}

func (r *RefreshLoop) runCron(ctx context.Context) error {
	for {
		next := r.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if err := r.syncOnce(ctx); err != nil {
				r.log.WithError(err).Warn("remote sync failed")
			}
		}
	}
}

func (r *RefreshLoop) syncOnce(ctx context.Context) error {
	return r.breaker.Execute(ctx, func(ctx context.Context) error {
		_, err := r.pipeline.Sync(ctx, r.target)
		return err
	})
}
