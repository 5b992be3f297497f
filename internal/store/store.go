package store

import (
	"context"
	"time"

	"github.com/kestrel-commerce/sourcing-cli/internal/model"
)

// EventFilter specifies criteria for listing policy events.
type EventFilter struct {
	CategoryCode string            `json:"category_code,omitempty"`
	Types        []model.EventType `json:"types,omitempty"`
	Since        time.Time         `json:"since,omitempty"`
	Limit        int               `json:"limit,omitempty"`
}

// Store defines the persistence surface of the policy engine. Events are
// append-only and immutable once written; everything else is raw input data
// the engine aggregates on read.
type Store interface {
	// Policy events
	// AppendEvent inserts ev unless a same-type event for the category
	// already exists within the trailing throttle window. The check and the
	// insert run as one statement so two concurrent evaluations cannot both
	// pass the recent-event check. Returns whether a row was written.
	AppendEvent(ctx context.Context, ev model.PolicyEvent, throttle time.Duration) (bool, error)
	LatestOperatorEvent(ctx context.Context, categoryCode string, since time.Time) (*model.PolicyEvent, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]model.PolicyEvent, error)

	// Raw records
	RecordTrial(ctx context.Context, trial model.ListingTrial) error
	RecordRevenue(ctx context.Context, rec model.RevenueRecord) error

	// Keyword resolution
	CategoriesForKeyword(ctx context.Context, keyword string) ([]string, error)
	BenchmarkCategories(ctx context.Context, keyword string) ([]string, error)
	SeedBenchmark(ctx context.Context, keyword string, categories []string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
