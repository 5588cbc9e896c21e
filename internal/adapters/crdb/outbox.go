package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/ticket-commerce/internal/domain"
)

func (t *pgTx) InsertOutbox(ctx context.Context, record domain.OutboxRecord) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload_json, created_at, status, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, $6, 'NEW', $7)
	`, record.ID, record.AggregateType, record.AggregateID, record.EventType, record.Payload, record.CreatedAt, record.DedupeKey)
	return errors.Wrap(err, "insert outbox record")
}

func (r *Repository) GetUnpublishedOutbox(ctx context.Context, limit int) ([]domain.OutboxRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload_json, created_at, published_at, status, dedupe_key
		FROM outbox WHERE status = 'NEW' ORDER BY created_at ASC LIMIT $1
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query outbox")
	}
	defer rows.Close()

	var records []domain.OutboxRecord
	for rows.Next() {
		var rec domain.OutboxRecord
		err := rows.Scan(&rec.ID, &rec.AggregateType, &rec.AggregateID, &rec.EventType, &rec.Payload, &rec.CreatedAt, &rec.PublishedAt, &rec.Status, &rec.DedupeKey)
		if err != nil {
			return nil, errors.Wrap(err, "scan outbox record")
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *Repository) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE outbox SET status = 'PUBLISHED', published_at = $2 WHERE id = $1 AND status = 'NEW'
	`, id, publishedAt)
	if err != nil {
		return errors.Wrap(err, "mark outbox record published")
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFoundf("unpublished outbox record %s not found", id)
	}
	return nil
}
