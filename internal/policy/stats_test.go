package policy

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockAggregator(t *testing.T) (*Aggregator, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewAggregator(mock), mock
}

func TestAggregator_Window(t *testing.T) {
	a, mock := newMockAggregator(t)

	last := time.Now().UTC().AddDate(0, 0, -2)
	mock.ExpectQuery(`FROM listing_trials`).
		WithArgs("electronics", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{
			"count", "success", "exact", "fallback", "last_success", "products", "days",
		}).AddRow(100, 90, 70, 20, &last, 40, 25))

	w, err := a.Window(context.Background(), "electronics", 365, 0)
	require.NoError(t, err)
	require.NotNil(t, w)

	assert.Equal(t, "electronics", w.CategoryCode)
	assert.Equal(t, 100, w.TotalTrials)
	assert.Equal(t, 90, w.SuccessCount)
	assert.Equal(t, 70, w.ExactSuccessCount)
	assert.Equal(t, 20, w.FallbackSuccesses)
	require.NotNil(t, w.LastSuccessAt)
	assert.Equal(t, 40, w.UniqueProductCount)
	assert.Equal(t, 25, w.DaysDistributed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAggregator_Window_NoTrials(t *testing.T) {
	a, mock := newMockAggregator(t)

	// Aggregate over zero rows still returns one row of zero counts.
	mock.ExpectQuery(`FROM listing_trials`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{
			"count", "success", "exact", "fallback", "last_success", "products", "days",
		}).AddRow(0, 0, 0, 0, (*time.Time)(nil), 0, 0))

	w, err := a.Window(context.Background(), "new-category", 365, 0)
	require.NoError(t, err)
	assert.Nil(t, w)
}

func TestAggregator_AllWindows_SortedByApprovalRate(t *testing.T) {
	a, mock := newMockAggregator(t)

	last := time.Now().UTC()
	mock.ExpectQuery(`GROUP BY category_code`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{
			"category_code", "count", "success", "exact", "fallback", "last_success", "products", "days",
		}).
			AddRow("mid", 100, 60, 50, 10, &last, 30, 20).
			AddRow("top", 100, 90, 80, 10, &last, 30, 20).
			AddRow("low", 100, 10, 5, 5, &last, 30, 20))

	windows, err := a.AllWindows(context.Background(), 365, 0)
	require.NoError(t, err)

	require.Len(t, windows, 3)
	assert.Equal(t, "top", windows[0].CategoryCode)
	assert.Equal(t, "mid", windows[1].CategoryCode)
	assert.Equal(t, "low", windows[2].CategoryCode)
	assert.Equal(t, 365, windows[0].WindowDays)
}

func TestAggregator_ROI(t *testing.T) {
	a, mock := newMockAggregator(t)

	mock.ExpectQuery(`FROM revenue_records`).
		WithArgs("electronics", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"revenue", "roi"}).AddRow(5000.0, 0.3))

	roi, revenue, err := a.ROI(context.Background(), "electronics", 90)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, roi, 1e-9)
	assert.InDelta(t, 5000.0, revenue, 1e-9)
}

func TestAggregator_FailureReasons(t *testing.T) {
	a, mock := newMockAggregator(t)

	mock.ExpectQuery(`SELECT rejection_reason`).
		WithArgs("electronics", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"rejection_reason"}).
			AddRow("trademark complaint").
			AddRow("image quality below minimum"))

	reasons, err := a.FailureReasons(context.Background(), "electronics", 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"trademark complaint", "image quality below minimum"}, reasons)
}
