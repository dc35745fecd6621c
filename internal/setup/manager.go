// Package setup owns per-user setup records: get-or-create, typed field
// updates, goal reconciliation and the human-readable summary.
package setup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethangolledge/vapebot/internal/models"
	"github.com/ethangolledge/vapebot/internal/store"
	"github.com/ethangolledge/vapebot/internal/util"
)

// Manager applies wizard answers to setup records held in a SetupRepo.
// Each read-modify-write is serialized per user id; different users proceed
// in parallel.
type Manager struct {
	repo  store.SetupRepo
	locks *util.KeyedMutex
	now   func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source used for created_at/updated_at.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager backed by repo.
func NewManager(repo store.SetupRepo, opts ...Option) *Manager {
	m := &Manager{repo: repo, locks: util.NewKeyedMutex(), now: util.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetOrCreate returns the user's record, inserting an empty one if needed.
func (m *Manager) GetOrCreate(ctx context.Context, userID string) (models.SetupRecord, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()
	return m.getOrCreateLocked(ctx, userID)
}

func (m *Manager) getOrCreateLocked(ctx context.Context, userID string) (models.SetupRecord, error) {
	rec, err := m.repo.GetSetup(ctx, userID)
	if err != nil {
		return models.SetupRecord{}, fmt.Errorf("get setup: %w", err)
	}
	if rec != nil {
		return *rec, nil
	}
	fresh := models.NewSetupRecord(userID, m.now())
	if err := m.repo.SaveSetup(ctx, fresh); err != nil {
		return models.SetupRecord{}, fmt.Errorf("create setup: %w", err)
	}
	slog.Debug("SetupManager created record", "userID", userID)
	return fresh, nil
}

// Lookup returns the user's record without creating one. A missing record
// yields a *StateError.
func (m *Manager) Lookup(ctx context.Context, userID string) (models.SetupRecord, error) {
	rec, err := m.repo.GetSetup(ctx, userID)
	if err != nil {
		return models.SetupRecord{}, fmt.Errorf("get setup: %w", err)
	}
	if rec == nil {
		return models.SetupRecord{}, &StateError{UserID: userID, Reason: "no setup record present"}
	}
	return *rec, nil
}

// Reset clears every answer of the user's record, keeping created_at.
func (m *Manager) Reset(ctx context.Context, userID string) (models.SetupRecord, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	rec, err := m.getOrCreateLocked(ctx, userID)
	if err != nil {
		return models.SetupRecord{}, err
	}
	fresh := models.NewSetupRecord(userID, rec.CreatedAt)
	fresh.UpdatedAt = m.stamp(rec.CreatedAt)
	if err := m.repo.SaveSetup(ctx, fresh); err != nil {
		return models.SetupRecord{}, fmt.Errorf("reset setup: %w", err)
	}
	slog.Debug("SetupManager reset record", "userID", userID)
	return fresh, nil
}

// UpdateField coerces raw into the field's type, writes it, recomputes the
// complementary goal field and stamps updated_at. Bad input yields a
// *ValidationError and leaves the record untouched.
func (m *Manager) UpdateField(ctx context.Context, userID string, field models.Field, raw string) (models.SetupRecord, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	rec, err := m.getOrCreateLocked(ctx, userID)
	if err != nil {
		return models.SetupRecord{}, err
	}

	if err := apply(&rec, field, raw); err != nil {
		slog.Debug("SetupManager rejected update", "userID", userID, "field", field, "error", err)
		return models.SetupRecord{}, err
	}
	reconcile(&rec)
	rec.UpdatedAt = m.stamp(rec.CreatedAt)

	if err := m.repo.SaveSetup(ctx, rec); err != nil {
		return models.SetupRecord{}, fmt.Errorf("save setup: %w", err)
	}
	slog.Debug("SetupManager updated field", "userID", userID, "field", field)
	return rec, nil
}

// apply writes one coerced value into rec.
func apply(rec *models.SetupRecord, field models.Field, raw string) error {
	switch field {
	case models.FieldTokes:
		n, err := parseCount(field, raw)
		if err != nil {
			return err
		}
		rec.Tokes = &n
	case models.FieldStrength:
		n, err := parseCount(field, raw)
		if err != nil {
			return err
		}
		rec.Strength = &n
	case models.FieldMethod:
		method, err := parseMethod(raw)
		if err != nil {
			return err
		}
		if rec.Method != nil && *rec.Method != method {
			return &ValidationError{Field: field, Raw: raw, Reason: ErrMethodLocked.Error(), Err: ErrMethodLocked}
		}
		rec.Method = &method
	case models.FieldGoal:
		if rec.Method == nil {
			return &ValidationError{Field: field, Raw: raw, Reason: ErrMethodRequired.Error(), Err: ErrMethodRequired}
		}
		switch *rec.Method {
		case models.MethodNumber:
			n, err := parseCount(field, raw)
			if err != nil {
				return err
			}
			rec.ReduceAmount = &n
		case models.MethodPercent:
			p, err := parsePercent(field, raw)
			if err != nil {
				return err
			}
			rec.ReducePercent = &p
		default:
			return invalid(field, raw, fmt.Sprintf("unknown method %q", *rec.Method))
		}
	default:
		return invalid(field, raw, "unknown field")
	}
	return nil
}

// stamp returns the current time, never earlier than createdAt.
func (m *Manager) stamp(createdAt time.Time) time.Time {
	now := m.now()
	if now.Before(createdAt) {
		return createdAt
	}
	return now
}

// Summary renders the user's record. A missing record is created first, so
// the summary of a brand-new user lists every field as "Not set".
func (m *Manager) Summary(ctx context.Context, userID string) (string, error) {
	rec, err := m.GetOrCreate(ctx, userID)
	if err != nil {
		return "", err
	}
	return FormatSummary(rec), nil
}

// MarkSynced records that the version of the record last updated at
// version has been archived. Newer writes keep the record unsynced.
func (m *Manager) MarkSynced(ctx context.Context, userID string, version, at time.Time) error {
	unlock := m.locks.Lock(userID)
	defer unlock()

	rec, err := m.repo.GetSetup(ctx, userID)
	if err != nil {
		return fmt.Errorf("get setup: %w", err)
	}
	if rec == nil || !rec.UpdatedAt.Equal(version) {
		slog.Debug("SetupManager skipped MarkSynced for changed record", "userID", userID)
		return nil
	}
	if at.Before(version) {
		at = version
	}
	rec.SyncedAt = &at
	if err := m.repo.SaveSetup(ctx, *rec); err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	return nil
}

// EvictIdle removes the user's live record if it is incomplete and still idle
// since before. Complete records are kept so their summary and created_at
// survive. It reports whether the record was removed.
func (m *Manager) EvictIdle(ctx context.Context, userID string, before time.Time) (bool, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	rec, err := m.repo.GetSetup(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("get setup: %w", err)
	}
	if rec == nil || !rec.UpdatedAt.Before(before) || rec.Complete() {
		return false, nil
	}
	if err := m.repo.DeleteSetup(ctx, userID); err != nil {
		return false, fmt.Errorf("evict setup: %w", err)
	}
	slog.Debug("SetupManager evicted idle record", "userID", userID)
	return true, nil
}

// Idle lists live records last updated before the given time.
func (m *Manager) Idle(ctx context.Context, before time.Time) ([]models.SetupRecord, error) {
	return m.repo.ListSetups(ctx, before)
}
