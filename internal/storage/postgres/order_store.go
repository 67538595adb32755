package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"crypto-trading-agent/internal/domain"
	"crypto-trading-agent/internal/storage"
)

// OrderStore implements storage.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *Pool
}

// NewOrderStore creates a new OrderStore.
func NewOrderStore(pool *Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Compile-time interface check.
var _ storage.OrderStore = (*OrderStore)(nil)

const orderColumns = `
	order_id, client_order_id, instrument, strategy_id, side, order_type,
	price, quantity, filled_qty, status, stale, reject_reason,
	expires_at, created_at, updated_at
`

// Insert adds a new order. Returns ErrDuplicateKey if the ID exists.
func (s *OrderStore) Insert(ctx context.Context, o *domain.Order) (err error) {
	defer func(start time.Time) { observeQuery("insert_order", start, err) }(time.Now())

	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err = s.pool.Exec(ctx, query,
		o.ID, o.ClientOrderID, o.Instrument, o.StrategyID, string(o.Side), string(o.Type),
		o.Price, o.Quantity, o.FilledQty, string(o.Status), o.Stale, o.RejectReason,
		o.ExpiresAt, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// Update replaces the stored order. Returns ErrNotFound if absent.
func (s *OrderStore) Update(ctx context.Context, o *domain.Order) (err error) {
	defer func(start time.Time) { observeQuery("update_order", start, err) }(time.Now())

	query := `
		UPDATE orders SET
			filled_qty = $2, status = $3, stale = $4, reject_reason = $5,
			updated_at = $6
		WHERE order_id = $1
	`

	tag, err := s.pool.Exec(ctx, query,
		o.ID, o.FilledQty, string(o.Status), o.Stale, o.RejectReason, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByID retrieves an order by ID. Returns ErrNotFound if absent.
func (s *OrderStore) GetByID(ctx context.Context, orderID string) (_ *domain.Order, err error) {
	defer func(start time.Time) { observeQuery("get_order", start, err) }(time.Now())

	query := `SELECT ` + orderColumns + ` FROM orders WHERE order_id = $1`

	o, err := scanOrder(s.pool.QueryRow(ctx, query, orderID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get order by id: %w", err)
	}
	return o, nil
}

// Open retrieves all non-terminal orders, ordered by created-at ASC.
func (s *OrderStore) Open(ctx context.Context) (_ []*domain.Order, err error) {
	defer func(start time.Time) { observeQuery("open_orders", start, err) }(time.Now())

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status NOT IN ('REJECTED', 'FILLED', 'CANCELLED', 'EXPIRED')
		ORDER BY created_at ASC, order_id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get open orders: %w", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	return orders, nil
}

// scanOrder scans a single row into an Order.
func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	var side, orderType, status string

	err := row.Scan(
		&o.ID, &o.ClientOrderID, &o.Instrument, &o.StrategyID, &side, &orderType,
		&o.Price, &o.Quantity, &o.FilledQty, &status, &o.Stale, &o.RejectReason,
		&o.ExpiresAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Side = domain.Side(side)
	o.Type = domain.OrderType(orderType)
	o.Status = domain.OrderStatus(status)
	return &o, nil
}
