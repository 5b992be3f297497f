package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-commerce/sourcing-cli/internal/model"
	"github.com/kestrel-commerce/sourcing-cli/internal/policy"
)

type stubEvaluator struct {
	result *model.PolicyEvaluation
}

func (s *stubEvaluator) Evaluate(_ context.Context, _ string) (*model.PolicyEvaluation, error) {
	return s.result, nil
}

type fakeAPI struct {
	mu       sync.Mutex
	requests []ListingRequest
	results  map[string]*ListingResult // keyed by product ID
	errs     map[string]error
}

func (f *fakeAPI) CreateListing(_ context.Context, req ListingRequest) (*ListingResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if err := f.errs[req.Product.ID]; err != nil {
		return nil, err
	}
	if res := f.results[req.Product.ID]; res != nil {
		return res, nil
	}
	return &ListingResult{Approved: true, ExactMatch: true}, nil
}

type fakeRecorder struct {
	mu     sync.Mutex
	trials []model.ListingTrial
}

func (f *fakeRecorder) RecordTrial(_ context.Context, trial model.ListingTrial) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trials = append(f.trials, trial)
	return nil
}

func products(n int) []model.Product {
	out := make([]model.Product, n)
	for i := range out {
		out[i] = model.Product{ID: string(rune('A' + i))}
	}
	return out
}

func evalFor(grade model.Grade, score float64) *stubEvaluator {
	return &stubEvaluator{result: &model.PolicyEvaluation{
		CategoryCode: "CAT-1",
		Grade:        grade,
		Score:        score,
		Reason:       "test",
	}}
}

func TestRegisterBatchEnforcesItemCap(t *testing.T) {
	api := &fakeAPI{}
	rec := &fakeRecorder{}
	mapper := policy.NewActionMapper("coupang", "smartstore")
	r := NewRegistrar(evalFor(model.GradeResearch, 45), mapper, api, rec, model.ModeEnforce, 2)

	res, err := r.RegisterBatch(context.Background(), "CAT-1", products(7))
	require.NoError(t, err)

	// RESEARCH caps at 3 products across 2 markets.
	assert.Equal(t, 4, res.Skipped)
	assert.Equal(t, 6, res.Attempted)
	assert.Equal(t, 6, res.Approved)
	assert.Len(t, rec.trials, 6)
	assert.True(t, res.Decision.ForceResearch)
}

func TestRegisterBatchShadowModeDoesNotRestrict(t *testing.T) {
	api := &fakeAPI{}
	rec := &fakeRecorder{}
	mapper := policy.NewActionMapper("coupang", "smartstore")
	r := NewRegistrar(evalFor(model.GradeBlock, 0), mapper, api, rec, model.ModeShadow, 2)

	res, err := r.RegisterBatch(context.Background(), "CAT-1", products(4))
	require.NoError(t, err)

	assert.Equal(t, "shadow_block", res.Decision.Action)
	assert.Zero(t, res.Skipped)
	assert.Equal(t, 8, res.Attempted) // 4 products x 2 markets
}

func TestRegisterBatchBlockEnforcedUsesSecondaryOnly(t *testing.T) {
	api := &fakeAPI{}
	rec := &fakeRecorder{}
	mapper := policy.NewActionMapper("coupang", "smartstore")
	r := NewRegistrar(evalFor(model.GradeBlock, 0), mapper, api, rec, model.ModeEnforce, 1)

	res, err := r.RegisterBatch(context.Background(), "CAT-1", products(3))
	require.NoError(t, err)

	assert.Equal(t, "skip_coupang", res.Decision.Action)
	assert.Equal(t, 3, res.Attempted)
	for _, req := range api.requests {
		assert.Equal(t, "smartstore", req.Market)
	}
	for _, trial := range rec.trials {
		assert.Equal(t, "smartstore", trial.Marketplace)
	}
}

func TestRegisterBatchRecordsRejections(t *testing.T) {
	api := &fakeAPI{results: map[string]*ListingResult{
		"A": {Approved: false, RejectionReason: "image quality below minimum"},
	}}
	rec := &fakeRecorder{}
	mapper := policy.NewActionMapper("coupang", "smartstore")
	r := NewRegistrar(evalFor(model.GradeTry, 60), mapper, api, rec, model.ModeEnforce, 1)

	res, err := r.RegisterBatch(context.Background(), "CAT-1", products(2))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Rejected) // product A on both markets
	assert.Equal(t, 2, res.Approved)

	var rejected int
	for _, trial := range rec.trials {
		if !trial.Success {
			rejected++
			require.NotNil(t, trial.RejectionReason)
			assert.Equal(t, "image quality below minimum", *trial.RejectionReason)
		}
	}
	assert.Equal(t, 2, rejected)
}

func TestRegisterBatchCollectsRetryableFailures(t *testing.T) {
	api := &fakeAPI{errs: map[string]error{
		"B": errors.New("connection reset by peer"),
	}}
	rec := &fakeRecorder{}
	mapper := policy.NewActionMapper("coupang", "smartstore")
	r := NewRegistrar(evalFor(model.GradeCore, 80), mapper, api, rec, model.ModeEnforce, 1)

	res, err := r.RegisterBatch(context.Background(), "CAT-1", products(2))
	require.NoError(t, err)

	require.Len(t, res.Retryable, 2)
	for _, entry := range res.Retryable {
		assert.Equal(t, "B", entry.Product.ID)
		assert.Equal(t, "transient", entry.ErrorType)
		assert.True(t, entry.CanRetry())
	}
	// Failed attempts are still recorded as unsuccessful trials.
	assert.Len(t, rec.trials, 4)
}
