package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/kitchen-console/internal/domain"
)

const orderColumns = `id, order_number, status, order_date, customer_name, customer_phone,
	customer_address, customer_notes, items, total, payment_method, rejected_reason,
	created_at, updated_at`

const orderDateLayout = "2006-01-02"

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order          domain.Order
		orderDate      time.Time
		items          []byte
		paymentMethod  sql.NullString
		rejectedReason sql.NullString
		updatedAt      sql.NullTime
	)

	err := row.Scan(
		&order.ID, &order.OrderNumber, &order.Status, &orderDate,
		&order.CustomerName, &order.CustomerPhone, &order.CustomerAddress, &order.CustomerNotes,
		&items, &order.Total, &paymentMethod, &rejectedReason,
		&order.CreatedAt, &updatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	order.OrderDate = orderDate.Format(orderDateLayout)
	order.Items = []domain.OrderItem{}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &order.Items); err != nil {
			return domain.Order{}, fmt.Errorf("decode items of order %s: %w", order.ID, err)
		}
	}
	if paymentMethod.Valid {
		pm := domain.PaymentMethod(paymentMethod.String)
		order.PaymentMethod = &pm
	}
	if rejectedReason.Valid {
		reason := rejectedReason.String
		order.RejectedReason = &reason
	}
	if updatedAt.Valid {
		at := updatedAt.Time
		order.UpdatedAt = &at
	}

	return order, nil
}

// Create inserts a pending order. The id, order number and creation time are
// assigned here and written back to order. An empty order date falls back to
// the database's current date.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}

	order.ID = uuid.New().String()
	order.Status = domain.OrderStatusPending

	var paymentMethod sql.NullString
	if order.PaymentMethod != nil {
		paymentMethod = sql.NullString{String: string(*order.PaymentMethod), Valid: true}
	}
	orderDate := sql.NullString{String: order.OrderDate, Valid: order.OrderDate != ""}

	created, err := scanOrder(r.db.QueryRowContext(ctx, `
		INSERT INTO orders (id, status, order_date, customer_name, customer_phone,
			customer_address, customer_notes, items, total, payment_method)
		VALUES ($1, $2, COALESCE($3::date, CURRENT_DATE), $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+orderColumns,
		order.ID, order.Status, orderDate, order.CustomerName, order.CustomerPhone,
		order.CustomerAddress, order.CustomerNotes, items, order.Total, paymentMethod,
	))
	if err != nil {
		return err
	}

	*order = created
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	order, err := scanOrder(r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// List returns every order, newest first.
func (r *OrderRepository) List(ctx context.Context) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

// UpdateStatus moves a pending order to status and returns the stored row.
// The rejection reason is only written when non-nil. An order that exists but
// is no longer pending yields domain.ErrNotPending.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, reason *string) (*domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrOrderNotFound
	}

	var rejectedReason sql.NullString
	if reason != nil {
		rejectedReason = sql.NullString{String: *reason, Valid: true}
	}

	order, err := scanOrder(r.db.QueryRowContext(ctx, `
		UPDATE orders
		SET status = $2,
			rejected_reason = CASE WHEN $3::text IS NULL THEN rejected_reason ELSE $3::text END,
			updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+orderColumns,
		id, status, rejectedReason,
	))
	if err == nil {
		return &order, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	existing, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, domain.ErrOrderNotFound
	}
	return nil, domain.ErrNotPending
}
