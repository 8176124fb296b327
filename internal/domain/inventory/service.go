package inventory

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/oakmart/fulfillment/pkg/entity"
)

// Repository defines persistence operations for inventory items. Update must
// persist the aggregate and its reservation set, append drained movements and
// events in the same transaction, and fail with entity.ErrVersionConflict
// when a concurrent writer got there first.
type Repository interface {
	Create(ctx context.Context, it *Item) error
	Get(ctx context.Context, id uuid.UUID) (*Item, error)
	GetByVariant(ctx context.Context, warehouseID, variantID string) (*Item, error)
	ListLowStock(ctx context.Context, limit int) ([]*Item, error)
	Update(ctx context.Context, it *Item) error
}

const saveAttempts = 3

// Service exposes the inventory command handlers, keyed by
// (warehouseID, variantID) the way external callers address stock.
type Service struct {
	repo Repository
}

// NewService creates an inventory Service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Provision creates the inventory record for a variant in a warehouse.
func (s *Service) Provision(ctx context.Context, warehouseID, productID, variantID, sku string, lowStockThreshold int64) (*Item, error) {
	it, err := NewItem(warehouseID, productID, variantID, sku, lowStockThreshold)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, it); err != nil {
		return nil, errors.Wrap(err, "create inventory item")
	}
	return it, nil
}

func (s *Service) update(ctx context.Context, warehouseID, variantID string, mutate func(*Item) error) (*Item, error) {
	for attempt := 1; ; attempt++ {
		it, err := s.repo.GetByVariant(ctx, warehouseID, variantID)
		if err != nil {
			return nil, err
		}
		if err := mutate(it); err != nil {
			return nil, err
		}
		err = s.repo.Update(ctx, it)
		if err == nil {
			return it, nil
		}
		if errors.Is(err, entity.ErrVersionConflict) && attempt < saveAttempts {
			continue
		}
		return nil, errors.Wrap(err, "save inventory item")
	}
}

// Reserve places or refreshes the hold for an order on a variant's stock.
func (s *Service) Reserve(ctx context.Context, warehouseID, variantID string, orderID uuid.UUID, qty int64) (*Item, error) {
	return s.update(ctx, warehouseID, variantID, func(it *Item) error { return it.Reserve(orderID, qty) })
}

// Release removes the hold for an order; safe to repeat.
func (s *Service) Release(ctx context.Context, warehouseID, variantID string, orderID uuid.UUID) (*Item, error) {
	return s.update(ctx, warehouseID, variantID, func(it *Item) error { return it.Release(orderID) })
}

// Confirm converts the hold for an order into a permanent deduction.
func (s *Service) Confirm(ctx context.Context, warehouseID, variantID string, orderID uuid.UUID) (*Item, error) {
	return s.update(ctx, warehouseID, variantID, func(it *Item) error { return it.Confirm(orderID) })
}

// Receive adds delivered stock.
func (s *Service) Receive(ctx context.Context, warehouseID, variantID string, qty int64, reference string) (*Item, error) {
	return s.update(ctx, warehouseID, variantID, func(it *Item) error { return it.Receive(qty, reference) })
}

// Ship removes stock outside the order flow.
func (s *Service) Ship(ctx context.Context, warehouseID, variantID string, qty int64, reference string) (*Item, error) {
	return s.update(ctx, warehouseID, variantID, func(it *Item) error { return it.ShipStock(qty, reference) })
}

// Adjust applies a signed stock correction.
func (s *Service) Adjust(ctx context.Context, warehouseID, variantID string, delta int64, reference string) (*Item, error) {
	return s.update(ctx, warehouseID, variantID, func(it *Item) error { return it.Adjust(delta, reference) })
}

// GetByVariant returns the item for a variant in a warehouse.
func (s *Service) GetByVariant(ctx context.Context, warehouseID, variantID string) (*Item, error) {
	return s.repo.GetByVariant(ctx, warehouseID, variantID)
}

// ListLowStock returns items whose availability is at or under their
// threshold.
func (s *Service) ListLowStock(ctx context.Context, limit int) ([]*Item, error) {
	return s.repo.ListLowStock(ctx, limit)
}
