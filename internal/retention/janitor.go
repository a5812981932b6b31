// Package retention runs the background janitor: expired memory, aged
// audit events, inactive sessions, expired token records, and stale
// subscriptions are all swept on a schedule. Every sweep is best effort;
// a failing sweep is logged and the cycle moves on.
package retention

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/meshvault/meshvault/internal/auth"
	"github.com/meshvault/meshvault/internal/config"
	"github.com/meshvault/meshvault/internal/notify"
	"github.com/meshvault/meshvault/internal/store"
)

// CycleStats summarizes one janitor cycle.
type CycleStats struct {
	MemoryPurged       int64
	AuditPurged        int64
	SessionsPurged     int64
	TokensPurged       int64
	SubscriptionsSwept int
	Errors             []error
	Elapsed            time.Duration
}

// Janitor owns the retention loop.
type Janitor struct {
	store    *store.Store
	auth     *auth.Authority
	registry *notify.Registry
	cfg      config.RetentionConfig

	schedule cron.Schedule // nil means fixed interval

	lastMu sync.Mutex
	last   *CycleStats
}

// NewJanitor builds a janitor from retention config. A non-empty cron
// schedule takes precedence over the fixed interval.
func NewJanitor(st *store.Store, authority *auth.Authority, registry *notify.Registry, cfg config.RetentionConfig) (*Janitor, error) {
	j := &Janitor{
		store:    st,
		auth:     authority,
		registry: registry,
		cfg:      cfg,
	}
	if cfg.Schedule != "" {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		sched, err := parser.Parse(cfg.Schedule)
		if err != nil {
			return nil, err
		}
		j.schedule = sched
	}
	return j, nil
}

// Start blocks until ctx is canceled, running cycles per the schedule.
// One cycle runs immediately at startup.
func (j *Janitor) Start(ctx context.Context) {
	ev := log.Info().
		Int("audit_days", j.cfg.AuditDays).
		Int("session_days", j.cfg.SessionDays)
	if j.schedule != nil {
		ev = ev.Str("schedule", j.cfg.Schedule)
	} else {
		ev = ev.Dur("interval", j.cfg.Interval)
	}
	ev.Msg("Retention janitor started")

	j.RunCycle(ctx)

	for {
		var wait time.Duration
		if j.schedule != nil {
			wait = time.Until(j.schedule.Next(time.Now()))
		} else {
			wait = j.cfg.Interval
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("Retention janitor stopped")
			return
		case <-timer.C:
			j.RunCycle(ctx)
		}
	}
}

// RunCycle performs one sweep over every retained resource class.
func (j *Janitor) RunCycle(ctx context.Context) CycleStats {
	start := time.Now()
	var stats CycleStats

	now := time.Now().UTC()

	n, err := j.store.PurgeExpiredMemory(ctx, now)
	stats.MemoryPurged = n
	stats.record("purge expired memory", err)

	n, err = j.store.PurgeAuditBefore(ctx, now.AddDate(0, 0, -j.cfg.AuditDays))
	stats.AuditPurged = n
	stats.record("purge audit log", err)

	n, err = j.store.PurgeInactiveSessions(ctx, now.AddDate(0, 0, -j.cfg.SessionDays))
	stats.SessionsPurged = n
	stats.record("purge inactive sessions", err)

	if j.auth != nil {
		n, err = j.auth.PurgeExpiredTokens(ctx, now)
		stats.TokensPurged = n
		stats.record("purge expired tokens", err)
	}

	if j.registry != nil {
		stats.SubscriptionsSwept = j.registry.Sweep(j.cfg.SubscriptionIdle)
	}

	stats.Elapsed = time.Since(start)
	j.setLast(stats)

	if stats.MemoryPurged > 0 || stats.AuditPurged > 0 || stats.SessionsPurged > 0 ||
		stats.TokensPurged > 0 || stats.SubscriptionsSwept > 0 {
		log.Info().
			Int64("memory", stats.MemoryPurged).
			Int64("audit", stats.AuditPurged).
			Int64("sessions", stats.SessionsPurged).
			Int64("tokens", stats.TokensPurged).
			Int("subscriptions", stats.SubscriptionsSwept).
			Dur("elapsed", stats.Elapsed).
			Msg("Retention cycle complete")
	}
	return stats
}

func (s *CycleStats) record(what string, err error) {
	if err != nil {
		log.Warn().Err(err).Msg("Retention sweep failed: " + what)
		s.Errors = append(s.Errors, err)
	}
}

// LastCycle returns stats for the most recent completed cycle, if any.
func (j *Janitor) LastCycle() (CycleStats, bool) {
	j.lastMu.Lock()
	defer j.lastMu.Unlock()
	if j.last == nil {
		return CycleStats{}, false
	}
	return *j.last, true
}

func (j *Janitor) setLast(s CycleStats) {
	j.lastMu.Lock()
	defer j.lastMu.Unlock()
	j.last = &s
}
