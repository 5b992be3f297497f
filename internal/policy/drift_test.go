package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-commerce/sourcing-cli/internal/model"
)

func TestDetectCriticalDrift(t *testing.T) {
	stats := newFakeStats()
	stats.set("CAT-1", 3, 0, testWindow("CAT-1", 15, 6, 6, 0)) // 40%
	stats.set("CAT-1", 3, 3, testWindow("CAT-1", 10, 9, 9, 0)) // 90%
	sink := &fakeSink{}
	d := NewDriftDetector(stats, sink, DefaultConfig())

	res, err := d.Detect(context.Background(), "CAT-1")
	require.NoError(t, err)

	assert.True(t, res.IsDrift)
	assert.Equal(t, model.SeverityCritical, res.Severity)
	assert.InDelta(t, -50.0, res.Velocity, 1e-9)

	require.Len(t, sink.appended, 1)
	assert.Equal(t, model.EventDrift, sink.appended[0].Type)
	assert.Equal(t, 0.5, sink.appended[0].Multiplier)
}

func TestDetectWarningDrift(t *testing.T) {
	stats := newFakeStats()
	stats.set("CAT-1", 3, 0, testWindow("CAT-1", 10, 7, 7, 0)) // 70%
	stats.set("CAT-1", 3, 3, testWindow("CAT-1", 10, 9, 9, 0)) // 90%
	sink := &fakeSink{}
	d := NewDriftDetector(stats, sink, DefaultConfig())

	res, err := d.Detect(context.Background(), "CAT-1")
	require.NoError(t, err)

	assert.True(t, res.IsDrift)
	assert.Equal(t, model.SeverityWarning, res.Severity)
	require.Len(t, sink.appended, 1)
	assert.Equal(t, 0.8, sink.appended[0].Multiplier)
}

func TestDetectNoDriftOnMildDecline(t *testing.T) {
	stats := newFakeStats()
	stats.set("CAT-1", 3, 0, testWindow("CAT-1", 10, 8, 8, 0)) // 80%
	stats.set("CAT-1", 3, 3, testWindow("CAT-1", 10, 9, 9, 0)) // 90%
	sink := &fakeSink{}
	d := NewDriftDetector(stats, sink, DefaultConfig())

	res, err := d.Detect(context.Background(), "CAT-1")
	require.NoError(t, err)

	assert.False(t, res.IsDrift)
	assert.Equal(t, model.SeverityNone, res.Severity)
	assert.Empty(t, sink.appended)
}

func TestDetectNoDriftOnSparseWindow(t *testing.T) {
	stats := newFakeStats()
	// Velocity would be critical but 5 trials are below the minimum.
	stats.set("CAT-1", 3, 0, testWindow("CAT-1", 5, 2, 2, 0))  // 40%
	stats.set("CAT-1", 3, 3, testWindow("CAT-1", 10, 9, 9, 0)) // 90%
	sink := &fakeSink{}
	d := NewDriftDetector(stats, sink, DefaultConfig())

	res, err := d.Detect(context.Background(), "CAT-1")
	require.NoError(t, err)

	assert.False(t, res.IsDrift)
	assert.Empty(t, sink.appended)
}

func TestDetectNoDriftWithoutBothWindows(t *testing.T) {
	stats := newFakeStats()
	stats.set("CAT-1", 3, 0, testWindow("CAT-1", 12, 5, 5, 0))
	d := NewDriftDetector(stats, &fakeSink{}, DefaultConfig())

	res, err := d.Detect(context.Background(), "CAT-1")
	require.NoError(t, err)

	assert.False(t, res.IsDrift)
}
