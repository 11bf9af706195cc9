package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"rackforge/internal/stories/webhooks"
)

const webhookEventsTable = "webhook_events"

var webhookEventRowFields = fields(webhookEventRow{})

type webhookEventRow struct {
	ID          int64      `db:"id"`
	Reference   string     `db:"reference"`
	Status      string     `db:"status"`
	ProcessedAt *time.Time `db:"processed_at"`
	CreatedAt   time.Time  `db:"created_at"`
}

func (r webhookEventRow) ToModel() *webhooks.EventRecord {
	return &webhooks.EventRecord{
		ID:          r.ID,
		Reference:   r.Reference,
		Status:      r.Status,
		ProcessedAt: r.ProcessedAt,
		CreatedAt:   r.CreatedAt,
	}
}

// RecordEvent inserts the dedup row for (reference, status) unless it already
// exists, then returns the stored row. The UNIQUE constraint makes concurrent
// deliveries of the same callback collapse into one record.
func (s *storageImpl) RecordEvent(ctx context.Context, reference, status string) (*webhooks.EventRecord, error) {
	params := map[string]interface{}{
		"reference":  reference,
		"status":     status,
		"created_at": s.now(),
	}

	q, args, err := s.stmtBuilder().
		Insert(webhookEventsTable).
		Options("OR IGNORE").
		SetMap(params).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return nil, fmt.Errorf("db.ExecContext: %w", err)
	}

	q, args, err = s.stmtBuilder().
		Select(webhookEventRowFields).
		From(webhookEventsTable).
		Where(sq.Eq{"reference": reference, "status": status}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var row webhookEventRow
	if err := s.db.GetContext(ctx, &row, q, args...); err != nil {
		return nil, fmt.Errorf("db.GetContext: %w", err)
	}

	return row.ToModel(), nil
}

func (s *storageImpl) MarkEventProcessed(ctx context.Context, id int64) error {
	q, args, err := s.stmtBuilder().
		Update(webhookEventsTable).
		Set("processed_at", s.now()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build sql query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("db.ExecContext: %w", err)
	}
	return nil
}
