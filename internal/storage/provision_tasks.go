package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"rackforge/internal/stories/provisioning"
)

const provisionTasksTable = "provision_tasks"

var provisionTaskRowFields = fields(provisionTaskRow{})

type provisionTaskRow struct {
	ID             int64      `db:"id"`
	OrderID        string     `db:"order_id"`
	Status         string     `db:"status"`
	ProviderTaskID *string    `db:"provider_task_id"`
	InstanceID     *string    `db:"instance_id"`
	InstanceIP     *string    `db:"instance_ip"`
	Region         *string    `db:"region"`
	ErrorMessage   *string    `db:"error_message"`
	StartedAt      *time.Time `db:"started_at"`
	FinishedAt     *time.Time `db:"finished_at"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

func (r provisionTaskRow) ToModel() *provisioning.Task {
	return &provisioning.Task{
		ID:             r.ID,
		OrderID:        r.OrderID,
		Status:         provisioning.TaskStatus(r.Status),
		ProviderTaskID: r.ProviderTaskID,
		InstanceID:     r.InstanceID,
		InstanceIP:     r.InstanceIP,
		Region:         r.Region,
		ErrorMessage:   r.ErrorMessage,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

// CreateTask is idempotent per order: the UNIQUE(order_id) constraint plus
// INSERT OR IGNORE make a second enqueue a no-op.
func (s *storageImpl) CreateTask(ctx context.Context, orderID string) error {
	now := s.now()
	params := map[string]interface{}{
		"order_id":   orderID,
		"status":     string(provisioning.TaskPending),
		"created_at": now,
		"updated_at": now,
	}

	q, args, err := s.stmtBuilder().
		Insert(provisionTasksTable).
		Options("OR IGNORE").
		SetMap(params).
		ToSql()
	if err != nil {
		return fmt.Errorf("build sql query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("db.ExecContext: %w", err)
	}
	return nil
}

func (s *storageImpl) GetTaskByOrderID(ctx context.Context, orderID string) (*provisioning.Task, error) {
	q, args, err := s.stmtBuilder().
		Select(provisionTaskRowFields).
		From(provisionTasksTable).
		Where(sq.Eq{"order_id": orderID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var row provisionTaskRow
	err = s.db.GetContext(ctx, &row, q, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("db.GetContext: %w", err)
	}

	return row.ToModel(), nil
}

func (s *storageImpl) ListTasksByStatus(ctx context.Context, status provisioning.TaskStatus, limit int) ([]*provisioning.Task, error) {
	query := s.stmtBuilder().
		Select(provisionTaskRowFields).
		From(provisionTasksTable).
		Where(sq.Eq{"status": string(status)}).
		OrderBy("created_at ASC")
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}

	q, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var rows []provisionTaskRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("db.SelectContext: %w", err)
	}

	result := make([]*provisioning.Task, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.ToModel())
	}
	return result, nil
}

func (s *storageImpl) ListStaleTasks(ctx context.Context, updatedBefore time.Time) ([]*provisioning.Task, error) {
	q, args, err := s.stmtBuilder().
		Select(provisionTaskRowFields).
		From(provisionTasksTable).
		Where(sq.Eq{"status": []string{
			string(provisioning.TaskPending),
			string(provisioning.TaskRunning),
		}}).
		Where(sq.Lt{"updated_at": updatedBefore}).
		OrderBy("updated_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var rows []provisionTaskRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("db.SelectContext: %w", err)
	}

	result := make([]*provisioning.Task, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.ToModel())
	}
	return result, nil
}

func (s *storageImpl) UpdateTask(ctx context.Context, id int64, params provisioning.TaskUpdateParams) (*provisioning.Task, error) {
	update := s.stmtBuilder().
		Update(provisionTasksTable).
		Set("updated_at", s.now()).
		Where(sq.Eq{"id": id})

	if params.Status != nil {
		update = update.Set("status", string(*params.Status))
	}
	if params.ProviderTaskID != nil {
		update = update.Set("provider_task_id", *params.ProviderTaskID)
	}
	if params.InstanceID != nil {
		update = update.Set("instance_id", *params.InstanceID)
	}
	if params.InstanceIP != nil {
		update = update.Set("instance_ip", *params.InstanceIP)
	}
	if params.Region != nil {
		update = update.Set("region", *params.Region)
	}
	if params.ErrorMessage != nil {
		update = update.Set("error_message", *params.ErrorMessage)
	}
	if params.StartedAt != nil {
		update = update.Set("started_at", *params.StartedAt)
	}
	if params.FinishedAt != nil {
		update = update.Set("finished_at", *params.FinishedAt)
	}

	q, args, err := update.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return nil, fmt.Errorf("db.ExecContext: %w", err)
	}

	q, args, err = s.stmtBuilder().
		Select(provisionTaskRowFields).
		From(provisionTasksTable).
		Where(sq.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var row provisionTaskRow
	if err := s.db.GetContext(ctx, &row, q, args...); err != nil {
		return nil, fmt.Errorf("db.GetContext: %w", err)
	}
	return row.ToModel(), nil
}
