package flow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethangolledge/vapebot/internal/store"
)

const (
	// DefaultSessionTTL is how long an untouched conversation or record survives.
	DefaultSessionTTL = 24 * time.Hour
	// DefaultSweepInterval is how often the Janitor runs.
	DefaultSweepInterval = 10 * time.Minute
)

// SweepStats counts what one Janitor pass did.
type SweepStats struct {
	Expired  int // active conversations ended for inactivity
	Archived int // completed records archived on retry
	Evicted  int // idle incomplete records removed
	Pruned   int // inbound message ids forgotten
}

// Janitor periodically expires abandoned conversations, retries archive
// writes that failed at completion and evicts abandoned records.
type Janitor struct {
	wizard   *Wizard
	ttl      time.Duration
	interval time.Duration
	dedup    store.DedupRepo
}

// JanitorOption configures a Janitor.
type JanitorOption func(*Janitor)

// WithInboundPruning makes every sweep forget inbound message ids older than the TTL.
func WithInboundPruning(repo store.DedupRepo) JanitorOption {
	return func(j *Janitor) { j.dedup = repo }
}

// NewJanitor creates a Janitor for w. Non-positive durations fall back to defaults.
func NewJanitor(w *Wizard, ttl, interval time.Duration, opts ...JanitorOption) *Janitor {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	j := &Janitor{wizard: w, ttl: ttl, interval: interval}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run sweeps once at startup, picking up archive writes lost to a restart,
// then on every tick until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	slog.Info("Janitor started", "ttl", j.ttl, "interval", j.interval)
	if _, err := j.Sweep(ctx); err != nil {
		slog.Error("Janitor startup sweep failed", "error", err)
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Janitor stopped")
			return nil
		case <-ticker.C:
			if _, err := j.Sweep(ctx); err != nil {
				slog.Error("Janitor sweep failed", "error", err)
			}
		}
	}
}

// Sweep performs one pass. Users with an event in flight are skipped and
// picked up on a later pass.
func (j *Janitor) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	w := j.wizard
	now := w.now()
	cutoff := now.Add(-j.ttl)

	var errs []error
	if err := j.expireStates(ctx, cutoff, &stats); err != nil {
		errs = append(errs, err)
	}
	if err := j.sweepRecords(ctx, now, cutoff, &stats); err != nil {
		errs = append(errs, err)
	}
	if j.dedup != nil {
		n, err := j.dedup.PruneInbound(ctx, cutoff)
		if err != nil {
			errs = append(errs, err)
		}
		stats.Pruned = n
	}

	if stats != (SweepStats{}) {
		slog.Info("Janitor sweep done", "expired", stats.Expired, "archived", stats.Archived,
			"evicted", stats.Evicted, "pruned", stats.Pruned)
	}
	return stats, errors.Join(errs...)
}

func (j *Janitor) expireStates(ctx context.Context, cutoff time.Time, stats *SweepStats) error {
	w := j.wizard
	idle, err := w.states.Idle(ctx, cutoff)
	if err != nil {
		return err
	}
	var errs []error
	for _, st := range idle {
		unlock, ok := w.inflight.TryLock(st.UserID)
		if !ok {
			continue
		}
		expired, err := j.expireState(ctx, st.UserID, cutoff)
		unlock()
		if err != nil {
			errs = append(errs, err)
		} else if expired {
			stats.Expired++
		}
	}
	return errors.Join(errs...)
}

// expireState resets the user's state if it is still idle since cutoff. The
// caller holds the user's in-flight lock. It reports whether an active
// conversation was ended.
func (j *Janitor) expireState(ctx context.Context, userID string, cutoff time.Time) (bool, error) {
	w := j.wizard
	st, err := w.states.Get(ctx, userID)
	if err != nil || st == nil || !st.UpdatedAt.Before(cutoff) {
		return false, err
	}
	if err := w.states.Reset(ctx, userID); err != nil {
		return false, err
	}
	if !State(st.CurrentState).Active() {
		return false, nil
	}
	slog.Info("Janitor expired abandoned setup", "userID", userID, "state", st.CurrentState)
	return true, nil
}

func (j *Janitor) sweepRecords(ctx context.Context, now, cutoff time.Time, stats *SweepStats) error {
	w := j.wizard
	records, err := w.setups.Idle(ctx, now)
	if err != nil {
		return err
	}
	var errs []error
	for _, rec := range records {
		unlock, ok := w.inflight.TryLock(rec.UserID)
		if !ok {
			continue
		}
		current, err := w.states.Current(ctx, rec.UserID)
		switch {
		case err != nil:
			errs = append(errs, err)
		case current.Active():
			// still answering; leave the record alone
		case rec.NeedsSync() && w.archive != nil:
			if err := w.archiveRecord(ctx, rec); err != nil {
				slog.Warn("Janitor archive retry failed", "userID", rec.UserID, "error", err)
				errs = append(errs, err)
			} else {
				stats.Archived++
			}
		case rec.Complete():
			// finished setups stay readable
		case rec.UpdatedAt.Before(cutoff):
			evicted, err := w.setups.EvictIdle(ctx, rec.UserID, cutoff)
			if err != nil {
				errs = append(errs, err)
			} else if evicted {
				stats.Evicted++
			}
		}
		unlock()
	}
	return errors.Join(errs...)
}
