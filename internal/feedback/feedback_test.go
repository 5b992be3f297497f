package feedback

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-commerce/sourcing-cli/internal/model"
	"github.com/kestrel-commerce/sourcing-cli/internal/policy"
)

type fakeSink struct {
	appended []policy.EventRecord
	inserted bool
}

func (f *fakeSink) Append(_ context.Context, rec policy.EventRecord) (bool, error) {
	f.appended = append(f.appended, rec)
	return f.inserted, nil
}

func (f *fakeSink) LatestOperator(_ context.Context, _ string, _ time.Time) (*model.PolicyEvent, error) {
	return nil, nil
}

type fakeCatalog struct {
	matches   map[string][]string
	benchmark map[string][]string
}

func (f *fakeCatalog) CategoriesForKeyword(_ context.Context, kw string) ([]string, error) {
	return f.matches[kw], nil
}

func (f *fakeCatalog) BenchmarkCategories(_ context.Context, kw string) ([]string, error) {
	return f.benchmark[kw], nil
}

func newIntake(sink *fakeSink, catalog *fakeCatalog) *Intake {
	if catalog == nil {
		catalog = &fakeCatalog{}
	}
	return NewIntake(sink, catalog, policy.DefaultConfig())
}

func TestSubmitUpSignalOnCategory(t *testing.T) {
	sink := &fakeSink{inserted: true}
	intake := newIntake(sink, nil)

	receipts, err := intake.Submit(context.Background(), Signal{
		Direction:    "up",
		CategoryCode: "CAT-1",
		Operator:     "kim",
	})
	require.NoError(t, err)

	require.Len(t, receipts, 1)
	assert.Equal(t, model.EventOperatorUp, receipts[0].EventType)
	assert.Equal(t, 1.2, receipts[0].Multiplier)
	assert.True(t, receipts[0].Recorded)

	require.Len(t, sink.appended, 1)
	assert.Equal(t, "CAT-1", sink.appended[0].CategoryCode)
	assert.Equal(t, "operator UP signal", sink.appended[0].Reason)
}

func TestSubmitDownSignalThrottled(t *testing.T) {
	sink := &fakeSink{inserted: false}
	intake := newIntake(sink, nil)

	receipts, err := intake.Submit(context.Background(), Signal{
		Direction:    "DOWN",
		CategoryCode: "CAT-1",
		Reason:       "seasonal demand collapsed",
	})
	require.NoError(t, err)

	require.Len(t, receipts, 1)
	assert.Equal(t, model.EventOperatorDown, receipts[0].EventType)
	assert.Equal(t, 0.8, receipts[0].Multiplier)
	assert.False(t, receipts[0].Recorded)
	assert.Equal(t, "seasonal demand collapsed", sink.appended[0].Reason)
}

func TestSubmitKeywordFansOut(t *testing.T) {
	sink := &fakeSink{inserted: true}
	catalog := &fakeCatalog{matches: map[string][]string{
		"earbuds": {"CAT-A", "CAT-B"},
	}}
	intake := newIntake(sink, catalog)

	receipts, err := intake.Submit(context.Background(), Signal{Direction: "UP", Keyword: "earbuds"})
	require.NoError(t, err)

	require.Len(t, receipts, 2)
	assert.Equal(t, "CAT-A", receipts[0].CategoryCode)
	assert.Equal(t, "CAT-B", receipts[1].CategoryCode)
}

func TestSubmitKeywordBenchmarkFallback(t *testing.T) {
	sink := &fakeSink{inserted: true}
	catalog := &fakeCatalog{benchmark: map[string][]string{
		"novel gadget": {"CAT-BENCH"},
	}}
	intake := newIntake(sink, catalog)

	receipts, err := intake.Submit(context.Background(), Signal{Direction: "UP", Keyword: "novel gadget"})
	require.NoError(t, err)

	require.Len(t, receipts, 1)
	assert.Equal(t, "CAT-BENCH", receipts[0].CategoryCode)
}

func TestSubmitValidation(t *testing.T) {
	intake := newIntake(&fakeSink{}, nil)
	ctx := context.Background()

	_, err := intake.Submit(ctx, Signal{Direction: "SIDEWAYS", CategoryCode: "CAT-1"})
	assert.ErrorContains(t, err, "UP or DOWN")

	_, err = intake.Submit(ctx, Signal{Direction: "UP"})
	assert.ErrorContains(t, err, "category or keyword is required")

	_, err = intake.Submit(ctx, Signal{Direction: "UP", CategoryCode: "CAT-1", Keyword: "earbuds"})
	assert.ErrorContains(t, err, "not both")

	_, err = intake.Submit(ctx, Signal{Direction: "UP", Keyword: "unknown"})
	assert.ErrorContains(t, err, "matches no categories")
}

func TestApprovePivot(t *testing.T) {
	sink := &fakeSink{inserted: true}
	intake := newIntake(sink, nil)

	receipt, err := intake.ApprovePivot(context.Background(), "CAT-1", "moving to private label")
	require.NoError(t, err)

	assert.Equal(t, model.EventPivotApproved, receipt.EventType)
	assert.Equal(t, 1.0, receipt.Multiplier)
	assert.True(t, receipt.Recorded)

	_, err = intake.ApprovePivot(context.Background(), "", "")
	assert.ErrorContains(t, err, "category code is required")
}
