// Package inventory owns the InventoryItem aggregate: on-hand quantity, the
// reservation set for the order saga, and the append-only movement ledger.
package inventory

import (
	"time"

	"github.com/google/uuid"

	"github.com/oakmart/fulfillment/internal/domain/fault"
	"github.com/oakmart/fulfillment/pkg/entity"
)

// MovementKind classifies a ledger entry.
type MovementKind string

const (
	MovementReceive MovementKind = "receive"
	MovementShip    MovementKind = "ship"
	MovementReserve MovementKind = "reserve"
	MovementRelease MovementKind = "release"
	MovementConfirm MovementKind = "confirm"
	MovementAdjust  MovementKind = "adjust"
)

// Movement is one append-only ledger row: the pre-operation on-hand snapshot,
// the signed delta the operation applied, and an optional order/reference id.
// Reserve and Release deltas track the reserved quantity; the other kinds
// track on-hand. Rows are never mutated after append.
type Movement struct {
	Kind           MovementKind `json:"kind"`
	QuantityBefore int64        `json:"quantity_before"`
	Delta          int64        `json:"delta"`
	Reference      string       `json:"reference,omitempty"`
	OccurredAt     time.Time    `json:"occurred_at"`
}

// Reservation is a soft hold on stock for one order. There is at most one
// reservation per (item, order).
type Reservation struct {
	OrderID    uuid.UUID `json:"order_id"`
	Quantity   int64     `json:"quantity"`
	ReservedAt time.Time `json:"reserved_at"`
}

// Item is the inventory aggregate for one variant in one warehouse.
type Item struct {
	entity.Meta

	WarehouseID       string        `json:"warehouse_id"`
	ProductID         string        `json:"product_id"`
	VariantID         string        `json:"variant_id"`
	SKU               string        `json:"sku"`
	OnHand            int64         `json:"quantity_on_hand"`
	LowStockThreshold int64         `json:"low_stock_threshold"`
	Reservations      []Reservation `json:"reservations"`

	movements []Movement
	events    entity.Recorder
}

// NewItem provisions the inventory record for a variant in a warehouse.
func NewItem(warehouseID, productID, variantID, sku string, lowStockThreshold int64) (*Item, error) {
	if warehouseID == "" || variantID == "" {
		return nil, fault.Invalid("warehouse id and variant id are required")
	}
	if lowStockThreshold < 0 {
		return nil, fault.Invalid("low stock threshold must not be negative")
	}
	return &Item{
		Meta:              entity.NewMeta(),
		WarehouseID:       warehouseID,
		ProductID:         productID,
		VariantID:         variantID,
		SKU:               sku,
		LowStockThreshold: lowStockThreshold,
	}, nil
}

// Reserved returns the total quantity currently held by reservations.
func (it *Item) Reserved() int64 {
	var sum int64
	for _, r := range it.Reservations {
		sum += r.Quantity
	}
	return sum
}

// Available returns on-hand stock minus reservations.
func (it *Item) Available() int64 {
	return it.OnHand - it.Reserved()
}

// DrainEvents returns and clears the buffered domain events.
func (it *Item) DrainEvents() []entity.Event { return it.events.Drain() }

// PendingEvents returns the buffered domain events without clearing them.
func (it *Item) PendingEvents() []entity.Event { return it.events.Pending() }

// DrainMovements returns and clears ledger rows recorded since load. The
// repository appends them inside the save transaction.
func (it *Item) DrainMovements() []Movement {
	out := it.movements
	it.movements = nil
	return out
}

// PendingMovements returns the recorded ledger rows without clearing them.
func (it *Item) PendingMovements() []Movement { return it.movements }

func (it *Item) record(kind MovementKind, before, delta int64, reference string) {
	it.movements = append(it.movements, Movement{
		Kind:           kind,
		QuantityBefore: before,
		Delta:          delta,
		Reference:      reference,
		OccurredAt:     time.Now().UTC(),
	})
}

func (it *Item) findReservation(orderID uuid.UUID) int {
	for i := range it.Reservations {
		if it.Reservations[i].OrderID == orderID {
			return i
		}
	}
	return -1
}

// Reserve places or updates the soft hold for an order. It is an idempotent
// upsert: a second call for the same order replaces the held quantity rather
// than stacking a duplicate. Availability is checked net of the order's
// existing hold.
func (it *Item) Reserve(orderID uuid.UUID, qty int64) error {
	if qty <= 0 {
		return fault.Invalid("reserve quantity must be positive, got %d", qty)
	}

	var existing int64
	idx := it.findReservation(orderID)
	if idx >= 0 {
		existing = it.Reservations[idx].Quantity
	}
	if it.Available()+existing < qty {
		return fault.Rule("insufficient stock for sku %s: requested %d, available %d",
			it.SKU, qty, it.Available()+existing)
	}

	if idx >= 0 {
		it.Reservations[idx].Quantity = qty
	} else {
		it.Reservations = append(it.Reservations, Reservation{
			OrderID:    orderID,
			Quantity:   qty,
			ReservedAt: time.Now().UTC(),
		})
	}
	it.record(MovementReserve, it.OnHand, qty-existing, orderID.String())
	it.Touch()

	it.events.Record(ReservedEvent{
		ItemID:             it.ID.String(),
		WarehouseID:        it.WarehouseID,
		ProductID:          it.ProductID,
		VariantID:          it.VariantID,
		OrderID:            orderID.String(),
		Quantity:           qty,
		RemainingAvailable: it.Available(),
	})
	if it.Available() <= it.LowStockThreshold {
		it.events.Record(LowStockEvent{
			ItemID:    it.ID.String(),
			SKU:       it.SKU,
			Available: it.Available(),
			Threshold: it.LowStockThreshold,
		})
	}
	return nil
}

// Release removes the hold for an order. It is a no-op, never an error, when
// no hold exists: compensations must be safely repeatable.
func (it *Item) Release(orderID uuid.UUID) error {
	idx := it.findReservation(orderID)
	if idx < 0 {
		return nil
	}
	qty := it.Reservations[idx].Quantity
	it.Reservations = append(it.Reservations[:idx], it.Reservations[idx+1:]...)
	it.record(MovementRelease, it.OnHand, -qty, orderID.String())
	it.Touch()

	it.events.Record(ReleasedEvent{
		ItemID:             it.ID.String(),
		WarehouseID:        it.WarehouseID,
		VariantID:          it.VariantID,
		OrderID:            orderID.String(),
		Quantity:           qty,
		RemainingAvailable: it.Available(),
	})
	return nil
}

// Confirm converts the hold for an order into a permanent on-hand deduction.
// The coordinator must always Reserve before Confirm; a missing hold is a
// protocol violation, not a tolerable race.
func (it *Item) Confirm(orderID uuid.UUID) error {
	idx := it.findReservation(orderID)
	if idx < 0 {
		return fault.Rule("no reservation found for order %s", orderID)
	}
	qty := it.Reservations[idx].Quantity
	before := it.OnHand
	it.OnHand -= qty
	it.Reservations = append(it.Reservations[:idx], it.Reservations[idx+1:]...)
	it.record(MovementConfirm, before, -qty, orderID.String())
	it.Touch()
	return nil
}

// Receive adds stock delivered into the warehouse.
func (it *Item) Receive(qty int64, reference string) error {
	if qty <= 0 {
		return fault.Invalid("receive quantity must be positive, got %d", qty)
	}
	before := it.OnHand
	it.OnHand += qty
	it.record(MovementReceive, before, qty, reference)
	it.Touch()
	return nil
}

// ShipStock removes stock directly, outside the order flow (manual warehouse
// operation). Guarded so available stock never goes negative.
func (it *Item) ShipStock(qty int64, reference string) error {
	if qty <= 0 {
		return fault.Invalid("ship quantity must be positive, got %d", qty)
	}
	if it.Available() < qty {
		return fault.Rule("cannot ship %d of sku %s: only %d available", qty, it.SKU, it.Available())
	}
	before := it.OnHand
	it.OnHand -= qty
	it.record(MovementShip, before, -qty, reference)
	it.Touch()
	return nil
}

// Adjust applies a signed correction (cycle count, damage write-off).
func (it *Item) Adjust(delta int64, reference string) error {
	if delta == 0 {
		return fault.Invalid("adjustment delta must not be zero")
	}
	if delta < 0 && it.Available() < -delta {
		return fault.Rule("cannot adjust sku %s by %d: only %d available", it.SKU, delta, it.Available())
	}
	before := it.OnHand
	it.OnHand += delta
	it.record(MovementAdjust, before, delta, reference)
	it.Touch()
	return nil
}
