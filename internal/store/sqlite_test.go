package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-commerce/sourcing-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func penaltyEvent(category string) model.PolicyEvent {
	return model.PolicyEvent{
		CategoryCode:  category,
		EventType:     model.EventPenalty,
		Severity:      model.SeverityCritical,
		Multiplier:    0.7,
		Reason:        "recent approval rate below penalty threshold",
		PolicyVersion: "v2.3",
		WindowStart:   time.Now().UTC().AddDate(0, 0, -7),
		WindowEnd:     time.Now().UTC(),
	}
}

func TestSQLite_AppendEvent_InsertsOnce(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	inserted, err := st.AppendEvent(ctx, penaltyEvent("home_kitchen"), 6*time.Hour)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Second append of the same type within the throttle window is a no-op.
	inserted, err = st.AppendEvent(ctx, penaltyEvent("home_kitchen"), 6*time.Hour)
	require.NoError(t, err)
	assert.False(t, inserted)

	events, err := st.ListEvents(ctx, EventFilter{CategoryCode: "home_kitchen"})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestSQLite_AppendEvent_DifferentTypesNotThrottled(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	inserted, err := st.AppendEvent(ctx, penaltyEvent("toys"), 6*time.Hour)
	require.NoError(t, err)
	assert.True(t, inserted)

	drift := penaltyEvent("toys")
	drift.EventType = model.EventDrift
	drift.Multiplier = 0.5
	inserted, err = st.AppendEvent(ctx, drift, 12*time.Hour)
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestSQLite_AppendEvent_DifferentCategoriesNotThrottled(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	inserted, err := st.AppendEvent(ctx, penaltyEvent("toys"), 6*time.Hour)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = st.AppendEvent(ctx, penaltyEvent("garden"), 6*time.Hour)
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestSQLite_AppendEvent_ContextRoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	ev := penaltyEvent("electronics")
	ev.Context = map[string]any{"recent_ar": 25.0, "recent_trials": 8.0}
	ev.TopReasons = []string{"brand authorization required", "image quality too low"}

	inserted, err := st.AppendEvent(ctx, ev, 6*time.Hour)
	require.NoError(t, err)
	require.True(t, inserted)

	events, err := st.ListEvents(ctx, EventFilter{CategoryCode: "electronics"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 25.0, events[0].Context["recent_ar"])
	assert.Equal(t, []string{"brand authorization required", "image quality too low"}, events[0].TopReasons)
	assert.Equal(t, "v2.3", events[0].PolicyVersion)
}

func TestSQLite_LatestOperatorEvent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	// No signal yet.
	ev, err := st.LatestOperatorEvent(ctx, "fashion", time.Now().UTC().AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Nil(t, ev)

	up := penaltyEvent("fashion")
	up.EventType = model.EventOperatorUp
	up.Severity = model.SeverityNone
	up.Multiplier = 1.2
	_, err = st.AppendEvent(ctx, up, 6*time.Hour)
	require.NoError(t, err)

	ev, err = st.LatestOperatorEvent(ctx, "fashion", time.Now().UTC().AddDate(0, 0, -7))
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, model.EventOperatorUp, ev.EventType)
	assert.Equal(t, 1.2, ev.Multiplier)
}

func TestSQLite_ListEvents_TypeFilter(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.AppendEvent(ctx, penaltyEvent("pets"), 6*time.Hour)
	require.NoError(t, err)
	rec := penaltyEvent("pets")
	rec.EventType = model.EventRecovery
	rec.Multiplier = 1.1
	_, err = st.AppendEvent(ctx, rec, 6*time.Hour)
	require.NoError(t, err)

	events, err := st.ListEvents(ctx, EventFilter{
		CategoryCode: "pets",
		Types:        []model.EventType{model.EventRecovery},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventRecovery, events[0].EventType)
}

func TestSQLite_RecordTrialAndKeywordLookup(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	reason := "rate limited by marketplace"
	err := st.RecordTrial(ctx, model.ListingTrial{
		CategoryCode:    "camping",
		ProductID:       "p-1",
		Marketplace:     "coupang",
		Success:         false,
		RejectionReason: &reason,
	})
	require.NoError(t, err)

	_, err = st.db.ExecContext(ctx,
		`INSERT INTO products (id, category_code, title) VALUES ('pr-1', 'camping', 'Ultralight Camping Stove')`)
	require.NoError(t, err)

	cats, err := st.CategoriesForKeyword(ctx, "camping stove")
	require.NoError(t, err)
	assert.Equal(t, []string{"camping"}, cats)

	cats, err = st.CategoriesForKeyword(ctx, "no such product")
	require.NoError(t, err)
	assert.Empty(t, cats)
}

func TestSQLite_BenchmarkCatalog(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SeedBenchmark(ctx, "Wireless Earbuds", []string{"electronics", "audio"}))
	// Seeding twice must not duplicate.
	require.NoError(t, st.SeedBenchmark(ctx, "wireless earbuds", []string{"electronics"}))

	cats, err := st.BenchmarkCategories(ctx, "Wireless Earbuds")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"electronics", "audio"}, cats)
}
