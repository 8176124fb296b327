package repository

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/oakmart/fulfillment/internal/domain/fault"
	"github.com/oakmart/fulfillment/internal/domain/money"
	"github.com/oakmart/fulfillment/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

const orderColumns = `id, order_number, customer_id, status, currency,
	sub_total, shipping_fee, total_discount, grand_total,
	payment_method, payment_status, payment_ref, paid_at,
	shipping_method, shipping_address, billing_address,
	cancellation_reason, items, discounts, version, created_at, updated_at`

// Create persists a new draft order together with any buffered events.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		        $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		o.ID, o.OrderNumber, o.CustomerID, o.Status, o.Currency,
		o.SubTotal.Amount, o.ShippingFee.Amount, o.TotalDiscount.Amount, o.GrandTotal.Amount,
		o.PaymentMethod, o.PaymentStatus, o.PaymentRef, o.PaidAt,
		o.ShippingMethod, o.ShippingAddress, o.BillingAddress,
		o.CancellationReason, o.Items, o.Discounts, o.Version, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "insert order %s", o.OrderNumber)
	}

	if err := r.appendHistory(ctx, tx, o); err != nil {
		return err
	}
	if err := insertEvents(ctx, tx, o.DrainEvents()); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit")
	}
	o.LoadedVersion = o.Version
	return nil
}

// Update saves the aggregate under the optimistic version guard, appends new
// history rows, and drains events into the outbox, all in one transaction.
func (r *OrderRepository) Update(ctx context.Context, o *order.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE orders SET
		status = $1, sub_total = $2, shipping_fee = $3, total_discount = $4,
		grand_total = $5, payment_status = $6, payment_ref = $7, paid_at = $8,
		shipping_method = $9, shipping_address = $10, billing_address = $11,
		cancellation_reason = $12, items = $13, discounts = $14,
		version = $15, updated_at = $16
		WHERE id = $17 AND version = $18`,
		o.Status, o.SubTotal.Amount, o.ShippingFee.Amount, o.TotalDiscount.Amount,
		o.GrandTotal.Amount, o.PaymentStatus, o.PaymentRef, o.PaidAt,
		o.ShippingMethod, o.ShippingAddress, o.BillingAddress,
		o.CancellationReason, o.Items, o.Discounts,
		o.Version, o.UpdatedAt,
		o.ID, o.LoadedVersion,
	)
	if err != nil {
		return errors.Wrapf(err, "update order %s", o.OrderNumber)
	}
	if err := guardUpdate(tag); err != nil {
		return err
	}

	if err := r.appendHistory(ctx, tx, o); err != nil {
		return err
	}
	if err := insertEvents(ctx, tx, o.DrainEvents()); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit")
	}
	o.LoadedVersion = o.Version
	o.PersistedHistory = len(o.History)
	return nil
}

// appendHistory inserts the history rows recorded since load. History is
// append-only; existing rows are never touched.
func (r *OrderRepository) appendHistory(ctx context.Context, tx pgx.Tx, o *order.Order) error {
	for _, h := range o.History[o.PersistedHistory:] {
		_, err := tx.Exec(ctx, `INSERT INTO order_status_history
			(order_id, from_status, to_status, reason, actor, changed_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			o.ID, h.From, h.To, h.Reason, h.Actor, h.At,
		)
		if err != nil {
			return errors.Wrapf(err, "insert status history for order %s", o.OrderNumber)
		}
	}
	return nil
}

// Get loads the order and its status history by id.
func (r *OrderRepository) Get(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	return r.getBy(ctx, `WHERE id = $1`, id)
}

// GetByNumber loads the order by its business-unique number.
func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (*order.Order, error) {
	return r.getBy(ctx, `WHERE order_number = $1`, number)
}

func (r *OrderRepository) getBy(ctx context.Context, where string, arg any) (*order.Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders `+where, arg)
	o, err := scanOrder(row)
	if err != nil {
		return nil, err
	}
	if err := r.loadHistory(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *OrderRepository) loadHistory(ctx context.Context, o *order.Order) error {
	rows, err := r.pool.Query(ctx, `SELECT from_status, to_status, reason, actor, changed_at
		FROM order_status_history WHERE order_id = $1 ORDER BY id`, o.ID)
	if err != nil {
		return errors.Wrap(err, "query status history")
	}
	defer rows.Close()

	for rows.Next() {
		var h order.StatusChange
		if err := rows.Scan(&h.From, &h.To, &h.Reason, &h.Actor, &h.At); err != nil {
			return errors.Wrap(err, "scan status history")
		}
		o.History = append(o.History, h)
	}
	o.PersistedHistory = len(o.History)
	return rows.Err()
}

// ListByStatus returns orders in the given status, most recent first.
func (r *OrderRepository) ListByStatus(ctx context.Context, status order.Status, limit int) ([]*order.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE status = $1 ORDER BY created_at DESC LIMIT $2`, status, limit)
}

// ListPendingBefore returns orders stuck in Pending since before cutoff.
func (r *OrderRepository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*order.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE status = $1 AND updated_at < $2 ORDER BY updated_at LIMIT $3`,
		order.StatusPending, cutoff, limit)
}

func (r *OrderRepository) list(ctx context.Context, sql string, args ...any) ([]*order.Order, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query orders")
	}
	defer rows.Close()

	var out []*order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, o := range out {
		if err := r.loadHistory(ctx, o); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func scanOrder(row pgx.Row) (*order.Order, error) {
	var (
		o                              order.Order
		subTotal, fee, discount, grand decimal.Decimal
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.CustomerID, &o.Status, &o.Currency,
		&subTotal, &fee, &discount, &grand,
		&o.PaymentMethod, &o.PaymentStatus, &o.PaymentRef, &o.PaidAt,
		&o.ShippingMethod, &o.ShippingAddress, &o.BillingAddress,
		&o.CancellationReason, &o.Items, &o.Discounts, &o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.NotFound("order", "")
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan order")
	}
	o.SubTotal = money.New(subTotal, o.Currency)
	o.ShippingFee = money.New(fee, o.Currency)
	o.TotalDiscount = money.New(discount, o.Currency)
	o.GrandTotal = money.New(grand, o.Currency)
	o.LoadedVersion = o.Version
	return &o, nil
}
