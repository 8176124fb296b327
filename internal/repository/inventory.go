package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oakmart/fulfillment/internal/domain/fault"
	"github.com/oakmart/fulfillment/internal/domain/inventory"
)

var _ inventory.Repository = (*InventoryRepository)(nil)

// InventoryRepository implements inventory.Repository backed by PostgreSQL.
// Reservations live in their own table keyed (item_id, order_id); movements
// are append-only and only ever inserted.
type InventoryRepository struct {
	pool *pgxpool.Pool
}

// NewInventoryRepository returns an InventoryRepository that uses the given
// pool.
func NewInventoryRepository(pool *pgxpool.Pool) *InventoryRepository {
	return &InventoryRepository{pool: pool}
}

const itemColumns = `id, warehouse_id, product_id, variant_id, sku,
	quantity_on_hand, low_stock_threshold, version, created_at, updated_at`

// Create persists a freshly provisioned item.
func (r *InventoryRepository) Create(ctx context.Context, it *inventory.Item) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO inventory_items (`+itemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		it.ID, it.WarehouseID, it.ProductID, it.VariantID, it.SKU,
		it.OnHand, it.LowStockThreshold, it.Version, it.CreatedAt, it.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "insert inventory item %s", it.SKU)
	}
	it.LoadedVersion = it.Version
	return nil
}

// Update saves the item under the version guard, rewrites its reservation
// set, appends drained movements, and drains events into the outbox.
func (r *InventoryRepository) Update(ctx context.Context, it *inventory.Item) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE inventory_items SET
		quantity_on_hand = $1, low_stock_threshold = $2, version = $3, updated_at = $4
		WHERE id = $5 AND version = $6`,
		it.OnHand, it.LowStockThreshold, it.Version, it.UpdatedAt,
		it.ID, it.LoadedVersion,
	)
	if err != nil {
		return errors.Wrapf(err, "update inventory item %s", it.SKU)
	}
	if err := guardUpdate(tag); err != nil {
		return err
	}

	// The reservation set is small and current-state only; replacing it is
	// simpler and just as correct as diffing.
	if _, err := tx.Exec(ctx, `DELETE FROM inventory_reservations WHERE item_id = $1`, it.ID); err != nil {
		return errors.Wrap(err, "clear reservations")
	}
	for _, res := range it.Reservations {
		_, err := tx.Exec(ctx, `INSERT INTO inventory_reservations
			(item_id, order_id, quantity, reserved_at) VALUES ($1, $2, $3, $4)`,
			it.ID, res.OrderID, res.Quantity, res.ReservedAt,
		)
		if err != nil {
			return errors.Wrap(err, "insert reservation")
		}
	}

	for _, mv := range it.DrainMovements() {
		_, err := tx.Exec(ctx, `INSERT INTO inventory_movements
			(item_id, kind, quantity_before, delta, reference, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			it.ID, mv.Kind, mv.QuantityBefore, mv.Delta, mv.Reference, mv.OccurredAt,
		)
		if err != nil {
			return errors.Wrap(err, "insert movement")
		}
	}

	if err := insertEvents(ctx, tx, it.DrainEvents()); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit")
	}
	it.LoadedVersion = it.Version
	return nil
}

// Get loads an item and its reservations by id.
func (r *InventoryRepository) Get(ctx context.Context, id uuid.UUID) (*inventory.Item, error) {
	return r.getBy(ctx, `WHERE id = $1`, id)
}

// GetByVariant loads an item by its external (warehouse, variant) key.
func (r *InventoryRepository) GetByVariant(ctx context.Context, warehouseID, variantID string) (*inventory.Item, error) {
	return r.getBy(ctx, `WHERE warehouse_id = $1 AND variant_id = $2`, warehouseID, variantID)
}

func (r *InventoryRepository) getBy(ctx context.Context, where string, args ...any) (*inventory.Item, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items `+where, args...)
	it, err := scanItem(row)
	if err != nil {
		return nil, err
	}
	if err := r.loadReservations(ctx, it); err != nil {
		return nil, err
	}
	return it, nil
}

func (r *InventoryRepository) loadReservations(ctx context.Context, it *inventory.Item) error {
	rows, err := r.pool.Query(ctx, `SELECT order_id, quantity, reserved_at
		FROM inventory_reservations WHERE item_id = $1 ORDER BY reserved_at`, it.ID)
	if err != nil {
		return errors.Wrap(err, "query reservations")
	}
	defer rows.Close()

	for rows.Next() {
		var res inventory.Reservation
		if err := rows.Scan(&res.OrderID, &res.Quantity, &res.ReservedAt); err != nil {
			return errors.Wrap(err, "scan reservation")
		}
		it.Reservations = append(it.Reservations, res)
	}
	return rows.Err()
}

// ListLowStock returns items whose availability is at or under their
// threshold.
func (r *InventoryRepository) ListLowStock(ctx context.Context, limit int) ([]*inventory.Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM inventory_items i
		WHERE i.quantity_on_hand - COALESCE(
			(SELECT SUM(quantity) FROM inventory_reservations res WHERE res.item_id = i.id), 0
		) <= i.low_stock_threshold
		ORDER BY i.updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query low stock items")
	}
	defer rows.Close()

	var out []*inventory.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, it := range out {
		if err := r.loadReservations(ctx, it); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ForEachMovement streams ledger rows in append order, for the audit export.
func (r *InventoryRepository) ForEachMovement(ctx context.Context, fn func(itemID uuid.UUID, mv inventory.Movement) error) error {
	rows, err := r.pool.Query(ctx, `SELECT item_id, kind, quantity_before, delta, reference, occurred_at
		FROM inventory_movements ORDER BY id`)
	if err != nil {
		return errors.Wrap(err, "query movements")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			itemID uuid.UUID
			mv     inventory.Movement
		)
		if err := rows.Scan(&itemID, &mv.Kind, &mv.QuantityBefore, &mv.Delta, &mv.Reference, &mv.OccurredAt); err != nil {
			return errors.Wrap(err, "scan movement")
		}
		if err := fn(itemID, mv); err != nil {
			return err
		}
	}
	return rows.Err()
}

func scanItem(row pgx.Row) (*inventory.Item, error) {
	var it inventory.Item
	err := row.Scan(
		&it.ID, &it.WarehouseID, &it.ProductID, &it.VariantID, &it.SKU,
		&it.OnHand, &it.LowStockThreshold, &it.Version, &it.CreatedAt, &it.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.NotFound("inventory item", "")
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan inventory item")
	}
	it.LoadedVersion = it.Version
	return &it, nil
}
