package adaptive

import (
	"context"

	"layered-signals/internal/domain"
)

// EventLog binds the audit queries to a fixed pool for callers that do not
// manage transactions, like the diagnostics API.
type EventLog struct {
	store *Repository
	pool  DBTX
}

func NewEventLog(store *Repository, pool DBTX) *EventLog {
	return &EventLog{store: store, pool: pool}
}

func (l *EventLog) Events(ctx context.Context, layer string, limit int) ([]domain.WeightAdjustmentEvent, error) {
	return l.store.ListEvents(ctx, l.pool, layer, limit)
}

// EventsThrough returns the log prefix with id <= version, id ascending.
func (l *EventLog) EventsThrough(ctx context.Context, version int64) ([]domain.WeightAdjustmentEvent, error) {
	return l.store.ListEventsThrough(ctx, l.pool, version)
}
