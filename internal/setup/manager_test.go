package setup

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethangolledge/vapebot/internal/models"
	"github.com/ethangolledge/vapebot/internal/store"
)

// stepClock returns a strictly increasing time on every call.
func stepClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newTestManager() (*Manager, *store.InMemoryStore) {
	st := store.NewInMemoryStore()
	return NewManager(st, WithClock(stepClock())), st
}

func mustUpdate(t *testing.T, m *Manager, userID string, field models.Field, raw string) models.SetupRecord {
	t.Helper()
	rec, err := m.UpdateField(context.Background(), userID, field, raw)
	require.NoError(t, err, "UpdateField(%s, %q)", field, raw)
	return rec
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	first, err := m.GetOrCreate(ctx, "u1")
	require.NoError(t, err)
	second, err := m.GetOrCreate(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, first.UserID, second.UserID)
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))
	assert.Nil(t, second.Tokes)
	assert.Nil(t, second.Method)
	assert.False(t, second.UpdatedAt.Before(second.CreatedAt))
}

func TestNumberMethodDerivesPercent(t *testing.T) {
	m, _ := newTestManager()
	for tokes := 1; tokes <= 40; tokes++ {
		for amount := 0; amount <= tokes; amount++ {
			user := fmt.Sprintf("n-%d-%d", tokes, amount)
			mustUpdate(t, m, user, models.FieldTokes, strconv.Itoa(tokes))
			mustUpdate(t, m, user, models.FieldMethod, "number")
			rec := mustUpdate(t, m, user, models.FieldGoal, strconv.Itoa(amount))

			require.NotNil(t, rec.ReduceAmount)
			require.NotNil(t, rec.ReducePercent)
			assert.Equal(t, amount, *rec.ReduceAmount)
			want := math.Round(float64(amount)/float64(tokes)*100*100) / 100
			assert.InDelta(t, want, *rec.ReducePercent, 1e-9, "tokes=%d amount=%d", tokes, amount)
		}
	}
}

func TestPercentMethodDerivesAmount(t *testing.T) {
	m, _ := newTestManager()
	for _, tokes := range []int{1, 7, 20, 33, 150} {
		for p := 0.0; p <= 100; p += 12.5 {
			user := fmt.Sprintf("p-%d-%v", tokes, p)
			mustUpdate(t, m, user, models.FieldTokes, strconv.Itoa(tokes))
			mustUpdate(t, m, user, models.FieldMethod, "percent")
			rec := mustUpdate(t, m, user, models.FieldGoal, strconv.FormatFloat(p, 'f', -1, 64)+"%")

			require.NotNil(t, rec.ReducePercent)
			require.NotNil(t, rec.ReduceAmount)
			assert.InDelta(t, p, *rec.ReducePercent, 1e-9)
			assert.Equal(t, int(math.Round(p/100*float64(tokes))), *rec.ReduceAmount, "tokes=%d p=%v", tokes, p)
		}
	}
}

func TestPercentGoalOutOfRange(t *testing.T) {
	m, st := newTestManager()
	mustUpdate(t, m, "u1", models.FieldTokes, "20")
	mustUpdate(t, m, "u1", models.FieldMethod, "percent")

	for _, raw := range []string{"150%", "99999999999999999999999%"} {
		_, err := m.UpdateField(context.Background(), "u1", models.FieldGoal, raw)
		require.True(t, IsValidation(err), raw)
	}

	rec, err := st.GetSetup(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, rec.ReduceAmount)
	assert.Nil(t, rec.ReducePercent)

	rec2 := mustUpdate(t, m, "u1", models.FieldGoal, "100%")
	assert.Equal(t, 20, *rec2.ReduceAmount)
	assert.Equal(t, "Tokes: 20 puffs\nStrength: Not set\nMethod: Percent\nReduce Amount: 20 puffs\nReduce Percent: 100.0%", FormatSummary(rec2))
}

func TestZeroTokesLeavesComplementNull(t *testing.T) {
	m, _ := newTestManager()

	mustUpdate(t, m, "n", models.FieldTokes, "0")
	mustUpdate(t, m, "n", models.FieldMethod, "number")
	rec := mustUpdate(t, m, "n", models.FieldGoal, "5")
	assert.Equal(t, 5, *rec.ReduceAmount)
	assert.Nil(t, rec.ReducePercent)

	mustUpdate(t, m, "p", models.FieldTokes, "0")
	mustUpdate(t, m, "p", models.FieldMethod, "percent")
	rec = mustUpdate(t, m, "p", models.FieldGoal, "50")
	assert.InDelta(t, 50.0, *rec.ReducePercent, 1e-9)
	assert.Nil(t, rec.ReduceAmount)
}

func TestGoalRequiresMethod(t *testing.T) {
	m, _ := newTestManager()
	mustUpdate(t, m, "u1", models.FieldTokes, "20")

	_, err := m.UpdateField(context.Background(), "u1", models.FieldGoal, "5")
	require.Error(t, err)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, models.FieldGoal, ve.Field)
	assert.Equal(t, "5", ve.Raw)
	assert.ErrorIs(t, err, ErrMethodRequired)
}

func TestGoalIndirection(t *testing.T) {
	m, _ := newTestManager()

	mustUpdate(t, m, "num", models.FieldMethod, "number")
	rec := mustUpdate(t, m, "num", models.FieldGoal, "4")
	require.NotNil(t, rec.ReduceAmount)
	assert.Equal(t, 4, *rec.ReduceAmount)
	assert.Nil(t, rec.ReducePercent, "no baseline yet, nothing to derive")

	mustUpdate(t, m, "pct", models.FieldMethod, "percent")
	rec = mustUpdate(t, m, "pct", models.FieldGoal, "12.5%")
	require.NotNil(t, rec.ReducePercent)
	assert.InDelta(t, 12.5, *rec.ReducePercent, 1e-9)
	assert.Nil(t, rec.ReduceAmount)
}

func TestLateBaselineRederivesComplement(t *testing.T) {
	m, _ := newTestManager()
	mustUpdate(t, m, "u1", models.FieldMethod, "number")
	mustUpdate(t, m, "u1", models.FieldGoal, "5")
	rec := mustUpdate(t, m, "u1", models.FieldTokes, "20")

	assert.Equal(t, 5, *rec.ReduceAmount)
	assert.InDelta(t, 25.0, *rec.ReducePercent, 1e-9)
}

func TestMethodIsImmutableWithinPass(t *testing.T) {
	m, _ := newTestManager()
	mustUpdate(t, m, "u1", models.FieldMethod, "number")
	mustUpdate(t, m, "u1", models.FieldMethod, "NUMBER")

	_, err := m.UpdateField(context.Background(), "u1", models.FieldMethod, "percent")
	assert.ErrorIs(t, err, ErrMethodLocked)

	_, err = m.Reset(context.Background(), "u1")
	require.NoError(t, err)
	rec := mustUpdate(t, m, "u1", models.FieldMethod, "percent")
	assert.Equal(t, models.MethodPercent, *rec.Method)
}

func TestValidationLeavesRecordUntouched(t *testing.T) {
	m, st := newTestManager()
	before := mustUpdate(t, m, "u1", models.FieldTokes, "20")

	_, err := m.UpdateField(context.Background(), "u1", models.FieldTokes, "lots")
	require.True(t, IsValidation(err))

	after, err := st.GetSetup(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 20, *after.Tokes)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt))
}

func TestUpdatedAtAdvances(t *testing.T) {
	m, _ := newTestManager()
	a := mustUpdate(t, m, "u1", models.FieldTokes, "20")
	b := mustUpdate(t, m, "u1", models.FieldStrength, "6")
	assert.True(t, b.UpdatedAt.After(a.UpdatedAt))
	assert.False(t, b.UpdatedAt.Before(b.CreatedAt))
}

func TestResetKeepsCreatedAt(t *testing.T) {
	m, _ := newTestManager()
	rec := mustUpdate(t, m, "u1", models.FieldTokes, "20")

	reset, err := m.Reset(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, reset.CreatedAt.Equal(rec.CreatedAt))
	assert.Nil(t, reset.Tokes)
	assert.False(t, reset.UpdatedAt.Before(reset.CreatedAt))
}

func TestLookupMissingIsStateError(t *testing.T) {
	m, _ := newTestManager()
	_, err := m.Lookup(context.Background(), "ghost")
	var se *StateError
	assert.True(t, errors.As(err, &se))
	assert.False(t, IsValidation(err))
}

func TestSummaryOfEmptyRecord(t *testing.T) {
	m, _ := newTestManager()
	got, err := m.Summary(context.Background(), "new")
	require.NoError(t, err)
	assert.Equal(t, "Tokes: Not set\nStrength: Not set\nMethod: Not set\nReduce Amount: Not set\nReduce Percent: Not set", got)
}

func TestSummaryScenario(t *testing.T) {
	m, _ := newTestManager()
	mustUpdate(t, m, "u1", models.FieldTokes, "20")
	mustUpdate(t, m, "u1", models.FieldStrength, "6mg")
	mustUpdate(t, m, "u1", models.FieldMethod, "number")
	mustUpdate(t, m, "u1", models.FieldGoal, "5")

	got, err := m.Summary(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Tokes: 20 puffs\nStrength: 6mg\nMethod: Number\nReduce Amount: 5 puffs\nReduce Percent: 25.0%", got)
}

func TestMarkSyncedSkipsNewerVersion(t *testing.T) {
	m, st := newTestManager()
	ctx := context.Background()
	mustUpdate(t, m, "u1", models.FieldTokes, "20")
	mustUpdate(t, m, "u1", models.FieldStrength, "6")
	mustUpdate(t, m, "u1", models.FieldMethod, "number")
	archived := mustUpdate(t, m, "u1", models.FieldGoal, "5")
	require.True(t, archived.NeedsSync())

	// A write lands after the archive snapshot was taken.
	mustUpdate(t, m, "u1", models.FieldGoal, "6")
	require.NoError(t, m.MarkSynced(ctx, "u1", archived.UpdatedAt, archived.UpdatedAt.Add(time.Second)))
	rec, _ := st.GetSetup(ctx, "u1")
	assert.True(t, rec.NeedsSync())

	require.NoError(t, m.MarkSynced(ctx, "u1", rec.UpdatedAt, rec.UpdatedAt))
	rec, _ = st.GetSetup(ctx, "u1")
	assert.False(t, rec.NeedsSync())
}

func TestEvictIdle(t *testing.T) {
	m, st := newTestManager()
	ctx := context.Background()
	rec := mustUpdate(t, m, "partial", models.FieldTokes, "20")

	removed, err := m.EvictIdle(ctx, "partial", rec.UpdatedAt)
	require.NoError(t, err)
	assert.False(t, removed, "record updated at the cutoff is not idle")

	removed, err = m.EvictIdle(ctx, "partial", rec.UpdatedAt.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, removed)
	got, _ := st.GetSetup(ctx, "partial")
	assert.Nil(t, got)

	mustUpdate(t, m, "done", models.FieldTokes, "20")
	mustUpdate(t, m, "done", models.FieldStrength, "6")
	mustUpdate(t, m, "done", models.FieldMethod, "number")
	done := mustUpdate(t, m, "done", models.FieldGoal, "5")
	removed, err = m.EvictIdle(ctx, "done", done.UpdatedAt.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, removed, "unarchived complete record must be kept")

	require.NoError(t, m.MarkSynced(ctx, "done", done.UpdatedAt, done.UpdatedAt))
	removed, err = m.EvictIdle(ctx, "done", done.UpdatedAt.Add(48*time.Hour))
	require.NoError(t, err)
	assert.False(t, removed, "archived complete record must be kept")
	kept, err := m.Lookup(ctx, "done")
	require.NoError(t, err)
	assert.True(t, kept.CreatedAt.Equal(done.CreatedAt))
}

func TestConcurrentUpdatesAcrossUsers(t *testing.T) {
	m, _ := newTestManager()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("u%d", i)
			_, err := m.UpdateField(context.Background(), user, models.FieldTokes, strconv.Itoa(i+1))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	for i := 0; i < 20; i++ {
		rec, err := m.GetOrCreate(context.Background(), fmt.Sprintf("u%d", i))
		require.NoError(t, err)
		assert.Equal(t, i+1, *rec.Tokes)
	}
}
