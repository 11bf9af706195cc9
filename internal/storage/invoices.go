package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"rackforge/internal/stories/billing"
)

const invoicesTable = "invoices"

var invoiceRowFields = fields(invoiceRow{})

type invoiceRow struct {
	ID               int64      `db:"id"`
	Number           string     `db:"number"`
	OrderID          string     `db:"order_id"`
	UserID           int64      `db:"user_id"`
	Amount           float64    `db:"amount"`
	FeeAmount        float64    `db:"fee_amount"`
	Status           string     `db:"status"`
	Channel          *string    `db:"channel"`
	GatewayReference *string    `db:"gateway_reference"`
	PayCode          *string    `db:"pay_code"`
	CheckoutURL      *string    `db:"checkout_url"`
	PaidAt           *time.Time `db:"paid_at"`
	DueAt            time.Time  `db:"due_at"`
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
}

func (r invoiceRow) ToModel() *billing.Invoice {
	return &billing.Invoice{
		ID:               r.ID,
		Number:           r.Number,
		OrderID:          r.OrderID,
		UserID:           r.UserID,
		Amount:           r.Amount,
		FeeAmount:        r.FeeAmount,
		Status:           billing.InvoiceStatus(r.Status),
		Channel:          r.Channel,
		GatewayReference: r.GatewayReference,
		PayCode:          r.PayCode,
		CheckoutURL:      r.CheckoutURL,
		PaidAt:           r.PaidAt,
		DueAt:            r.DueAt,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func (s *storageImpl) CreateInvoice(ctx context.Context, invoice billing.Invoice) (*billing.Invoice, error) {
	params := map[string]interface{}{
		"number":            invoice.Number,
		"order_id":          invoice.OrderID,
		"user_id":           invoice.UserID,
		"amount":            invoice.Amount,
		"fee_amount":        invoice.FeeAmount,
		"status":            string(invoice.Status),
		"channel":           invoice.Channel,
		"gateway_reference": invoice.GatewayReference,
		"pay_code":          invoice.PayCode,
		"checkout_url":      invoice.CheckoutURL,
		"paid_at":           invoice.PaidAt,
		"due_at":            invoice.DueAt,
		"created_at":        invoice.CreatedAt,
		"updated_at":        invoice.UpdatedAt,
	}

	q, args, err := s.stmtBuilder().
		Insert(invoicesTable).
		SetMap(params).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	result, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("db.ExecContext: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("result.LastInsertId: %w", err)
	}

	return s.GetInvoice(ctx, billing.GetCriteria{ID: &id})
}

func (s *storageImpl) GetInvoice(ctx context.Context, criteria billing.GetCriteria) (*billing.Invoice, error) {
	query := s.stmtBuilder().
		Select(invoiceRowFields).
		From(invoicesTable).
		Limit(1)
	query = applyInvoiceCriteria(query, criteria)

	q, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var row invoiceRow
	err = s.db.GetContext(ctx, &row, q, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("db.GetContext: %w", err)
	}

	return row.ToModel(), nil
}

func (s *storageImpl) UpdateInvoice(ctx context.Context, criteria billing.GetCriteria, params billing.UpdateParams) (*billing.Invoice, error) {
	update := s.stmtBuilder().
		Update(invoicesTable).
		Set("updated_at", s.now())

	if params.Status != nil {
		update = update.Set("status", string(*params.Status))
	}
	if params.Channel != nil {
		update = update.Set("channel", *params.Channel)
	}
	if params.GatewayReference != nil {
		update = update.Set("gateway_reference", *params.GatewayReference)
	}
	if params.PayCode != nil {
		update = update.Set("pay_code", *params.PayCode)
	}
	if params.CheckoutURL != nil {
		update = update.Set("checkout_url", *params.CheckoutURL)
	}
	if params.FeeAmount != nil {
		update = update.Set("fee_amount", *params.FeeAmount)
	}
	if params.PaidAt != nil {
		update = update.Set("paid_at", *params.PaidAt)
	}

	// The expected-status predicate makes closing updates a compare-and-swap,
	// like the order transition: a concurrent writer that closed the invoice
	// first leaves zero rows for this update.
	if params.ExpectedStatus != nil {
		update = update.Where(sq.Eq{"status": string(*params.ExpectedStatus)})
	}

	update = applyInvoiceUpdateCriteria(update, criteria)

	q, args, err := update.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	result, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("db.ExecContext: %w", err)
	}
	if params.ExpectedStatus != nil {
		affected, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("result.RowsAffected: %w", err)
		}
		if affected == 0 {
			return nil, billing.ErrInvoiceClosed
		}
	}

	return s.GetInvoice(ctx, criteria)
}

func (s *storageImpl) ListOverduePendingInvoices(ctx context.Context) ([]*billing.Invoice, error) {
	q, args, err := s.stmtBuilder().
		Select(invoiceRowFields).
		From(invoicesTable).
		Where(sq.Eq{"status": string(billing.InvoicePending)}).
		Where(sq.Lt{"due_at": s.now()}).
		OrderBy("due_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var rows []invoiceRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("db.SelectContext: %w", err)
	}

	result := make([]*billing.Invoice, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.ToModel())
	}
	return result, nil
}

func applyInvoiceCriteria(query sq.SelectBuilder, criteria billing.GetCriteria) sq.SelectBuilder {
	if criteria.ID != nil {
		query = query.Where(sq.Eq{"id": *criteria.ID})
	}
	if criteria.Number != nil {
		query = query.Where(sq.Eq{"number": *criteria.Number})
	}
	if criteria.OrderID != nil {
		query = query.Where(sq.Eq{"order_id": *criteria.OrderID})
	}
	if criteria.GatewayReference != nil {
		query = query.Where(sq.Eq{"gateway_reference": *criteria.GatewayReference})
	}
	return query
}

func applyInvoiceUpdateCriteria(query sq.UpdateBuilder, criteria billing.GetCriteria) sq.UpdateBuilder {
	if criteria.ID != nil {
		query = query.Where(sq.Eq{"id": *criteria.ID})
	}
	if criteria.Number != nil {
		query = query.Where(sq.Eq{"number": *criteria.Number})
	}
	if criteria.OrderID != nil {
		query = query.Where(sq.Eq{"order_id": *criteria.OrderID})
	}
	if criteria.GatewayReference != nil {
		query = query.Where(sq.Eq{"gateway_reference": *criteria.GatewayReference})
	}
	return query
}
