package policy

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kestrel-commerce/sourcing-cli/internal/model"
	"github.com/kestrel-commerce/sourcing-cli/internal/store"
)

// EventRecord is what callers hand the event log; id, version, and timestamps
// are stamped on append.
type EventRecord struct {
	CategoryCode string
	Type         model.EventType
	Multiplier   float64
	Reason       string
	Severity     model.Severity
	Context      map[string]any
	TopReasons   []string
	WindowStart  time.Time
	WindowEnd    time.Time
}

// EventSink is the write/read surface the evaluator and drift detector use.
type EventSink interface {
	// Append writes a throttled audit event; returns false when a same-type
	// event for the category already exists inside the throttle window.
	Append(ctx context.Context, rec EventRecord) (bool, error)

	// LatestOperator returns the most recent OPERATOR_UP/DOWN event for the
	// category since the given time, or nil.
	LatestOperator(ctx context.Context, categoryCode string, since time.Time) (*model.PolicyEvent, error)
}

// EventLog appends de-duplicated audit records to the store. The oscillation
// guard lives in the store's conditional insert; the log only picks the
// per-type throttle window and stamps the policy version.
type EventLog struct {
	store store.Store
	cfg   Config
}

// NewEventLog creates an EventLog over the given store.
func NewEventLog(st store.Store, cfg Config) *EventLog {
	return &EventLog{store: st, cfg: cfg}
}

func (l *EventLog) Append(ctx context.Context, rec EventRecord) (bool, error) {
	severity := rec.Severity
	if severity == "" {
		severity = model.SeverityNone
	}

	now := time.Now().UTC()
	windowStart, windowEnd := rec.WindowStart, rec.WindowEnd
	if windowEnd.IsZero() {
		windowEnd = now
	}
	if windowStart.IsZero() {
		windowStart = windowEnd.AddDate(0, 0, -l.cfg.RecentWindowDays)
	}

	inserted, err := l.store.AppendEvent(ctx, model.PolicyEvent{
		CategoryCode:  rec.CategoryCode,
		EventType:     rec.Type,
		Severity:      severity,
		Multiplier:    rec.Multiplier,
		Reason:        rec.Reason,
		Context:       rec.Context,
		PolicyVersion: Version,
		WindowStart:   windowStart,
		WindowEnd:     windowEnd,
		TopReasons:    rec.TopReasons,
	}, l.cfg.throttleFor(rec.Type))
	if err != nil {
		return false, eris.Wrapf(err, "policy: append %s event", rec.Type)
	}

	if inserted {
		zap.L().Info("policy: event appended",
			zap.String("category", rec.CategoryCode),
			zap.String("event_type", string(rec.Type)),
			zap.String("severity", string(severity)),
			zap.Float64("multiplier", rec.Multiplier),
		)
	} else {
		zap.L().Debug("policy: event throttled",
			zap.String("category", rec.CategoryCode),
			zap.String("event_type", string(rec.Type)),
		)
	}
	return inserted, nil
}

func (l *EventLog) LatestOperator(ctx context.Context, categoryCode string, since time.Time) (*model.PolicyEvent, error) {
	ev, err := l.store.LatestOperatorEvent(ctx, categoryCode, since)
	if err != nil {
		return nil, eris.Wrap(err, "policy: latest operator event")
	}
	return ev, nil
}
