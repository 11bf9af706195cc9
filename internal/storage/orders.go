package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"rackforge/internal/stories/orders"
)

const (
	ordersTable        = "orders"
	statusHistoryTable = "status_history"
)

var (
	orderRowFields         = fields(orderRow{})
	statusHistoryRowFields = fields(statusHistoryRow{})
)

type orderRow struct {
	ID             string     `db:"id"`
	UserID         int64      `db:"user_id"`
	PlanID         string     `db:"plan_id"`
	ImageID        string     `db:"image_id"`
	DurationMonths int        `db:"duration_months"`
	Hostname       string     `db:"hostname"`
	CouponCode     *string    `db:"coupon_code"`
	TotalAmount    float64    `db:"total_amount"`
	Status         string     `db:"status"`
	PaidAt         *time.Time `db:"paid_at"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

func (r orderRow) ToModel() *orders.Order {
	return &orders.Order{
		ID:             r.ID,
		UserID:         r.UserID,
		PlanID:         r.PlanID,
		ImageID:        r.ImageID,
		DurationMonths: r.DurationMonths,
		Hostname:       r.Hostname,
		CouponCode:     r.CouponCode,
		TotalAmount:    r.TotalAmount,
		Status:         orders.Status(r.Status),
		PaidAt:         r.PaidAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

type statusHistoryRow struct {
	ID             int64     `db:"id"`
	OrderID        string    `db:"order_id"`
	PreviousStatus string    `db:"previous_status"`
	NewStatus      string    `db:"new_status"`
	Actor          string    `db:"actor"`
	Reason         string    `db:"reason"`
	CreatedAt      time.Time `db:"created_at"`
}

func (r statusHistoryRow) ToModel() *orders.StatusHistoryEntry {
	return &orders.StatusHistoryEntry{
		ID:             r.ID,
		OrderID:        r.OrderID,
		PreviousStatus: orders.Status(r.PreviousStatus),
		NewStatus:      orders.Status(r.NewStatus),
		Actor:          r.Actor,
		Reason:         r.Reason,
		CreatedAt:      r.CreatedAt,
	}
}

func (s *storageImpl) CreateOrder(ctx context.Context, order orders.Order) (*orders.Order, error) {
	params := map[string]interface{}{
		"id":              order.ID,
		"user_id":         order.UserID,
		"plan_id":         order.PlanID,
		"image_id":        order.ImageID,
		"duration_months": order.DurationMonths,
		"hostname":        order.Hostname,
		"coupon_code":     order.CouponCode,
		"total_amount":    order.TotalAmount,
		"status":          string(order.Status),
		"paid_at":         order.PaidAt,
		"created_at":      order.CreatedAt,
		"updated_at":      order.UpdatedAt,
	}

	q, args, err := s.stmtBuilder().
		Insert(ordersTable).
		SetMap(params).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return nil, fmt.Errorf("db.ExecContext: %w", err)
	}

	return s.GetOrder(ctx, order.ID)
}

func (s *storageImpl) GetOrder(ctx context.Context, id string) (*orders.Order, error) {
	q, args, err := s.stmtBuilder().
		Select(orderRowFields).
		From(ordersTable).
		Where(sq.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var row orderRow
	err = s.db.GetContext(ctx, &row, q, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("db.GetContext: %w", err)
	}

	return row.ToModel(), nil
}

func (s *storageImpl) ListOrders(ctx context.Context, criteria orders.ListCriteria) ([]*orders.Order, error) {
	query := s.stmtBuilder().
		Select(orderRowFields).
		From(ordersTable)

	if criteria.UserID != nil {
		query = query.Where(sq.Eq{"user_id": *criteria.UserID})
	}
	if criteria.Status != nil {
		query = query.Where(sq.Eq{"status": string(*criteria.Status)})
	}
	if criteria.Limit > 0 {
		query = query.Limit(uint64(criteria.Limit))
	}
	if criteria.Offset > 0 {
		query = query.Offset(uint64(criteria.Offset))
	}
	query = query.OrderBy("created_at DESC")

	q, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var rows []orderRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("db.SelectContext: %w", err)
	}

	result := make([]*orders.Order, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.ToModel())
	}
	return result, nil
}

// ApplyTransition moves the order and writes the audit entry in one
// transaction. The UPDATE is guarded by the expected current status, so a
// concurrent writer that got there first makes this call return ErrConflict
// with nothing written.
func (s *storageImpl) ApplyTransition(ctx context.Context, params orders.TransitionParams) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		update := s.stmtBuilder().
			Update(ordersTable).
			Set("status", string(params.To)).
			Set("updated_at", params.UpdatedAt).
			Where(sq.Eq{"id": params.OrderID, "status": string(params.From)})
		if params.PaidAt != nil {
			update = update.Set("paid_at", *params.PaidAt)
		}

		q, args, err := update.ToSql()
		if err != nil {
			return fmt.Errorf("build sql query: %w", err)
		}

		result, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("tx.ExecContext: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("result.RowsAffected: %w", err)
		}
		if affected == 0 {
			return orders.ErrConflict
		}

		return s.insertHistory(ctx, tx, statusHistoryRow{
			OrderID:        params.OrderID,
			PreviousStatus: string(params.From),
			NewStatus:      string(params.To),
			Actor:          params.Actor,
			Reason:         params.Reason,
			CreatedAt:      s.now(),
		})
	})
}

// RecordStatusEvent appends a history entry without changing the order row.
func (s *storageImpl) RecordStatusEvent(ctx context.Context, params orders.RecordEventParams) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		return s.insertHistory(ctx, tx, statusHistoryRow{
			OrderID:        params.OrderID,
			PreviousStatus: string(params.Status),
			NewStatus:      string(params.Status),
			Actor:          params.Actor,
			Reason:         params.Reason,
			CreatedAt:      s.now(),
		})
	})
}

func (s *storageImpl) insertHistory(ctx context.Context, tx *sqlx.Tx, row statusHistoryRow) error {
	params := map[string]interface{}{
		"order_id":        row.OrderID,
		"previous_status": row.PreviousStatus,
		"new_status":      row.NewStatus,
		"actor":           row.Actor,
		"reason":          row.Reason,
		"created_at":      row.CreatedAt,
	}

	q, args, err := s.stmtBuilder().
		Insert(statusHistoryTable).
		SetMap(params).
		ToSql()
	if err != nil {
		return fmt.Errorf("build sql query: %w", err)
	}

	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("tx.ExecContext: %w", err)
	}
	return nil
}

func (s *storageImpl) ListStatusHistory(ctx context.Context, orderID string) ([]*orders.StatusHistoryEntry, error) {
	q, args, err := s.stmtBuilder().
		Select(statusHistoryRowFields).
		From(statusHistoryTable).
		Where(sq.Eq{"order_id": orderID}).
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var rows []statusHistoryRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("db.SelectContext: %w", err)
	}

	result := make([]*orders.StatusHistoryEntry, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.ToModel())
	}
	return result, nil
}
