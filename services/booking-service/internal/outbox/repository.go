package outbox

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/clinicbook/libs/db"
	otelx "github.com/md-rashed-zaman/clinicbook/libs/otel"
)

type Repository struct {
	db db.DB
}

func NewRepository(conn db.DB) *Repository {
	return &Repository{db: conn}
}

// Insert stores evt inside tx together with the caller's trace context.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, evt Event) error {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, evt.AggregateType, evt.AggregateID, evt.EventType, evt.Payload, traceparent, tracestate)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

// claimSQL marks a batch published and returns it. It runs inside the
// publishing transaction, so a rollback puts the batch back.
const claimSQL = `
	UPDATE outbox_events o
	SET published_at = now()
	FROM (
		SELECT id FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	) batch
	WHERE o.id = batch.id
	RETURNING o.id, o.event_id, o.aggregate_type, o.aggregate_id, o.event_type, o.payload,
		o.traceparent, o.tracestate, o.created_at`

func (r *Repository) PublishPending(ctx context.Context, limit int, fn func(context.Context, []Record) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin outbox tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch, err := claim(ctx, tx, limit)
	if err != nil {
		return err
	}
	if len(batch) > 0 {
		if err := fn(ctx, batch); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func claim(ctx context.Context, tx pgx.Tx, limit int) ([]Record, error) {
	rows, err := tx.Query(ctx, claimSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("claim outbox events: %w", err)
	}
	defer rows.Close()

	var batch []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.AggregateType, &rec.AggregateID, &rec.EventType,
			&rec.Payload, &rec.Traceparent, &rec.Tracestate, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		batch = append(batch, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim outbox events: %w", err)
	}
	// RETURNING order is unspecified.
	slices.SortFunc(batch, func(a, b Record) int { return cmp.Compare(a.ID, b.ID) })
	return batch, nil
}
