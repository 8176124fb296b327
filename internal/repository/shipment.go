package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oakmart/fulfillment/internal/domain/fault"
	"github.com/oakmart/fulfillment/internal/domain/shipment"
)

var _ shipment.Repository = (*ShipmentRepository)(nil)

// ShipmentRepository implements shipment.Repository backed by PostgreSQL.
// Tracking rows are append-only and protected by a unique external-id index,
// so a webhook replay that races past the in-memory checks still cannot
// double-insert.
type ShipmentRepository struct {
	pool *pgxpool.Pool
}

// NewShipmentRepository returns a ShipmentRepository that uses the given pool.
func NewShipmentRepository(pool *pgxpool.Pool) *ShipmentRepository {
	return &ShipmentRepository{pool: pool}
}

const shipmentColumns = `id, order_id, carrier, tracking_number, status,
	version, created_at, updated_at`

// Create persists a new shipment with its buffered events.
func (r *ShipmentRepository) Create(ctx context.Context, sh *shipment.Shipment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `INSERT INTO shipments (`+shipmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sh.ID, sh.OrderID, sh.Carrier, sh.TrackingNumber, sh.Status,
		sh.Version, sh.CreatedAt, sh.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "insert shipment for order %s", sh.OrderID)
	}
	if err := r.appendTracking(ctx, tx, sh); err != nil {
		return err
	}
	if err := insertEvents(ctx, tx, sh.DrainEvents()); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit")
	}
	sh.LoadedVersion = sh.Version
	sh.PersistedTracking = len(sh.Tracking)
	return nil
}

// Update saves the shipment under the version guard, appends new tracking
// rows, and drains events into the outbox.
func (r *ShipmentRepository) Update(ctx context.Context, sh *shipment.Shipment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE shipments SET
		tracking_number = $1, status = $2, version = $3, updated_at = $4
		WHERE id = $5 AND version = $6`,
		sh.TrackingNumber, sh.Status, sh.Version, sh.UpdatedAt,
		sh.ID, sh.LoadedVersion,
	)
	if err != nil {
		return errors.Wrapf(err, "update shipment %s", sh.ID)
	}
	if err := guardUpdate(tag); err != nil {
		return err
	}
	if err := r.appendTracking(ctx, tx, sh); err != nil {
		return err
	}
	if err := insertEvents(ctx, tx, sh.DrainEvents()); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit")
	}
	sh.LoadedVersion = sh.Version
	sh.PersistedTracking = len(sh.Tracking)
	return nil
}

// appendTracking inserts tracking rows recorded since load. ON CONFLICT
// covers the rare replay that slips past the aggregate's dedup.
func (r *ShipmentRepository) appendTracking(ctx context.Context, tx pgx.Tx, sh *shipment.Shipment) error {
	for _, ev := range sh.Tracking[sh.PersistedTracking:] {
		_, err := tx.Exec(ctx, `INSERT INTO shipment_tracking_events
			(shipment_id, external_id, status, description, occurred_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (shipment_id, external_id) DO NOTHING`,
			sh.ID, ev.ExternalID, ev.Status, ev.Description, ev.OccurredAt,
		)
		if err != nil {
			return errors.Wrapf(err, "insert tracking event for shipment %s", sh.ID)
		}
	}
	return nil
}

// Get loads a shipment and its tracking history by id.
func (r *ShipmentRepository) Get(ctx context.Context, id uuid.UUID) (*shipment.Shipment, error) {
	return r.getBy(ctx, `WHERE id = $1`, id)
}

// GetByOrder loads the shipment for an order.
func (r *ShipmentRepository) GetByOrder(ctx context.Context, orderID uuid.UUID) (*shipment.Shipment, error) {
	return r.getBy(ctx, `WHERE order_id = $1`, orderID)
}

func (r *ShipmentRepository) getBy(ctx context.Context, where string, arg any) (*shipment.Shipment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+shipmentColumns+` FROM shipments `+where, arg)

	var sh shipment.Shipment
	err := row.Scan(
		&sh.ID, &sh.OrderID, &sh.Carrier, &sh.TrackingNumber, &sh.Status,
		&sh.Version, &sh.CreatedAt, &sh.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.NotFound("shipment", "")
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan shipment")
	}

	rows, err := r.pool.Query(ctx, `SELECT external_id, status, description, occurred_at
		FROM shipment_tracking_events WHERE shipment_id = $1 ORDER BY id`, sh.ID)
	if err != nil {
		return nil, errors.Wrap(err, "query tracking events")
	}
	defer rows.Close()

	for rows.Next() {
		var ev shipment.TrackingEvent
		if err := rows.Scan(&ev.ExternalID, &ev.Status, &ev.Description, &ev.OccurredAt); err != nil {
			return nil, errors.Wrap(err, "scan tracking event")
		}
		sh.Tracking = append(sh.Tracking, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sh.PersistedTracking = len(sh.Tracking)
	sh.LoadedVersion = sh.Version
	return &sh, nil
}
