package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"tasksync/pkg/trace"
)

// Change operations carried by ChangeEvent.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// ChangeEvent is the change feed payload. Consumers treat it as a trigger to
// refetch the collection, never as an authoritative delta.
type ChangeEvent struct {
	Collection string    `json:"collection"`
	Op         string    `json:"op"`
	RecordID   string    `json:"record_id,omitempty"`
	TraceID    string    `json:"trace_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RoutingKey returns the change feed routing key for a collection.
func RoutingKey(collection string) string {
	return "records." + collection + ".changed"
}

// InsertEventInTx records a change event for collection inside tx.
func InsertEventInTx(
	ctx context.Context,
	tx pgx.Tx,
	repo *Repository,
	collection string,
	op string,
	recordID string,
) error {
	payload := ChangeEvent{
		Collection: collection,
		Op:         op,
		RecordID:   recordID,
		TraceID:    trace.FromContext(ctx),
		OccurredAt: time.Now().UTC(),
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}

	return repo.InsertEvent(ctx, tx, &Event{
		AggregateType: collection,
		AggregateID:   recordID,
		RoutingKey:    RoutingKey(collection),
		Payload:       payloadJSON,
		Status:        StatusPending,
	})
}

// traceFromPayload copies the payload's trace id onto ctx.
func traceFromPayload(ctx context.Context, payload json.RawMessage) context.Context {
	var ev ChangeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ctx
	}
	if ev.TraceID != "" {
		ctx = trace.WithContext(ctx, ev.TraceID)
	}
	return ctx
}
