package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kestrel-commerce/sourcing-cli/internal/model"
	"github.com/kestrel-commerce/sourcing-cli/internal/policy"
	"github.com/kestrel-commerce/sourcing-cli/internal/resilience"
)

// Evaluator is the policy surface the registrar consults before listing.
type Evaluator interface {
	Evaluate(ctx context.Context, categoryCode string) (*model.PolicyEvaluation, error)
}

// TrialRecorder persists listing attempts; the store implements it.
type TrialRecorder interface {
	RecordTrial(ctx context.Context, trial model.ListingTrial) error
}

// Registrar runs the registration pipeline: evaluate the category, map the
// grade to an action for the configured mode, then list each product on every
// allowed market, recording the attempts as trials. In shadow mode the
// decision is logged but never restricts sourcing.
type Registrar struct {
	evaluator   Evaluator
	mapper      *policy.ActionMapper
	client      ListingAPI
	store       TrialRecorder
	mode        model.Mode
	concurrency int
}

// NewRegistrar creates a Registrar. concurrency bounds how many products are
// listed in parallel; values below 1 mean sequential.
func NewRegistrar(ev Evaluator, mapper *policy.ActionMapper, client ListingAPI, st TrialRecorder, mode model.Mode, concurrency int) *Registrar {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Registrar{
		evaluator:   ev,
		mapper:      mapper,
		client:      client,
		store:       st,
		mode:        mode,
		concurrency: concurrency,
	}
}

// BatchResult summarizes one RegisterBatch run.
type BatchResult struct {
	Decision  model.ActionDecision  `json:"decision"`
	Attempted int                   `json:"attempted"`
	Approved  int                   `json:"approved"`
	Rejected  int                   `json:"rejected"`
	Skipped   int                   `json:"skipped"`
	Retryable []resilience.DLQEntry `json:"retryable,omitempty"`
}

// RegisterBatch lists products for one category. Under enforcement modes the
// action decision binds: products beyond the item cap are skipped and only
// the allowed markets are attempted. Shadow mode lists everything.
func (r *Registrar) RegisterBatch(ctx context.Context, categoryCode string, products []model.Product) (*BatchResult, error) {
	ev, err := r.evaluator.Evaluate(ctx, categoryCode)
	if err != nil {
		return nil, err
	}
	decision := r.mapper.Decide(ev, r.mode)

	zap.L().Info("registry: action decided",
		zap.String("category", categoryCode),
		zap.String("grade", string(decision.Grade)),
		zap.String("action", decision.Action),
		zap.String("mode", string(r.mode)),
		zap.Int("max_items", decision.MaxItems),
	)

	res := &BatchResult{Decision: decision}

	batch := products
	markets := decision.AllowedMarkets
	if r.enforcing() {
		if decision.MaxItems >= 0 && len(batch) > decision.MaxItems {
			res.Skipped = len(batch) - decision.MaxItems
			batch = batch[:decision.MaxItems]
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, product := range batch {
		product := product
		g.Go(func() error {
			for _, market := range markets {
				outcome, listErr := r.listOne(gctx, market, categoryCode, product)
				mu.Lock()
				res.Attempted++
				switch {
				case listErr != nil:
					res.Retryable = append(res.Retryable, dlqEntry(product, market, categoryCode, listErr))
				case outcome.Approved:
					res.Approved++
				default:
					res.Rejected++
				}
				mu.Unlock()
				if listErr != nil && gctx.Err() != nil {
					return gctx.Err()
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, eris.Wrapf(err, "registry: batch for %s", categoryCode)
	}
	return res, nil
}

// listOne submits a single listing and records the trial. Marketplace
// rejections are trials; transport failures are errors and recorded as
// failed trials with the error text as the rejection reason.
func (r *Registrar) listOne(ctx context.Context, market, categoryCode string, product model.Product) (*ListingResult, error) {
	outcome, err := r.client.CreateListing(ctx, ListingRequest{
		Market:       market,
		CategoryCode: categoryCode,
		Product:      product,
	})

	trial := model.ListingTrial{
		ID:           uuid.NewString(),
		CategoryCode: categoryCode,
		ProductID:    product.ID,
		Marketplace:  market,
		CreatedAt:    time.Now().UTC(),
	}
	switch {
	case err != nil:
		msg := err.Error()
		trial.RejectionReason = &msg
	case outcome.Approved:
		trial.Success = true
		trial.ExactMatch = outcome.ExactMatch
		trial.FallbackUsed = outcome.FallbackUsed
	default:
		if outcome.RejectionReason != "" {
			reason := outcome.RejectionReason
			trial.RejectionReason = &reason
		}
	}

	if recErr := r.store.RecordTrial(ctx, trial); recErr != nil {
		zap.L().Error("registry: record trial",
			zap.String("category", categoryCode),
			zap.String("product_id", product.ID),
			zap.Error(recErr),
		)
	}
	return outcome, err
}

// enforcing reports whether decisions bind. Shadow actions only label.
func (r *Registrar) enforcing() bool {
	return r.mode != model.ModeShadow
}

func dlqEntry(product model.Product, market, categoryCode string, err error) resilience.DLQEntry {
	now := time.Now().UTC()
	return resilience.DLQEntry{
		ID:           uuid.NewString(),
		Product:      product,
		Market:       market,
		CategoryCode: categoryCode,
		Error:        err.Error(),
		ErrorType:    resilience.ClassifyError(err),
		MaxRetries:   3,
		NextRetryAt:  now.Add(10 * time.Minute),
		CreatedAt:    now,
		LastFailedAt: now,
	}
}
