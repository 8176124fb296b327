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
	"github.com/oakmart/fulfillment/internal/domain/payment"
)

var _ payment.Repository = (*PaymentRepository)(nil)

// PaymentRepository implements payment.Repository backed by PostgreSQL.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository returns a PaymentRepository that uses the given pool.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

const paymentColumns = `id, order_id, method, status, amount, currency,
	provider_ref, expires_at, version, created_at, updated_at`

// Create persists a freshly opened transaction with its buffered events.
func (r *PaymentRepository) Create(ctx context.Context, t *payment.Transaction) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `INSERT INTO payment_transactions (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.OrderID, t.Method, t.Status, t.Amount.Amount, t.Amount.Currency,
		t.ProviderRef, t.ExpiresAt, t.Version, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "insert payment for order %s", t.OrderID)
	}
	if err := insertEvents(ctx, tx, t.DrainEvents()); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit")
	}
	t.LoadedVersion = t.Version
	return nil
}

// Update saves the transaction under the version guard and drains events.
func (r *PaymentRepository) Update(ctx context.Context, t *payment.Transaction) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE payment_transactions SET
		status = $1, provider_ref = $2, version = $3, updated_at = $4
		WHERE id = $5 AND version = $6`,
		t.Status, t.ProviderRef, t.Version, t.UpdatedAt,
		t.ID, t.LoadedVersion,
	)
	if err != nil {
		return errors.Wrapf(err, "update payment %s", t.ID)
	}
	if err := guardUpdate(tag); err != nil {
		return err
	}
	if err := insertEvents(ctx, tx, t.DrainEvents()); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit")
	}
	t.LoadedVersion = t.Version
	return nil
}

// Get loads a transaction by id.
func (r *PaymentRepository) Get(ctx context.Context, id uuid.UUID) (*payment.Transaction, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payment_transactions WHERE id = $1`, id)
	return scanPayment(row)
}

// GetByOrder loads the most recent transaction for an order.
func (r *PaymentRepository) GetByOrder(ctx context.Context, orderID uuid.UUID) (*payment.Transaction, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payment_transactions
		WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1`, orderID)
	return scanPayment(row)
}

// ListExpired returns unfinished transactions whose expiry passed.
func (r *PaymentRepository) ListExpired(ctx context.Context, asOf time.Time, limit int) ([]*payment.Transaction, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+paymentColumns+` FROM payment_transactions
		WHERE status IN ($1, $2) AND expires_at <= $3 ORDER BY expires_at LIMIT $4`,
		payment.StatusPending, payment.StatusProcessing, asOf, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query expired payments")
	}
	defer rows.Close()

	var out []*payment.Transaction
	for rows.Next() {
		t, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanPayment(row pgx.Row) (*payment.Transaction, error) {
	var (
		t        payment.Transaction
		amount   decimal.Decimal
		currency string
	)
	err := row.Scan(
		&t.ID, &t.OrderID, &t.Method, &t.Status, &amount, &currency,
		&t.ProviderRef, &t.ExpiresAt, &t.Version, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.NotFound("payment transaction", "")
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan payment")
	}
	t.Amount = money.New(amount, currency)
	t.LoadedVersion = t.Version
	return &t, nil
}
