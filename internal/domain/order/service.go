package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/oakmart/fulfillment/internal/domain/money"
	"github.com/oakmart/fulfillment/pkg/entity"
)

// Repository defines persistence operations for orders. Update must persist
// the aggregate, append new history rows, drain buffered events into the
// outbox in the same transaction, and fail with entity.ErrVersionConflict
// when a concurrent writer got there first.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id uuid.UUID) (*Order, error)
	GetByNumber(ctx context.Context, number string) (*Order, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Order, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Order, error)
	Update(ctx context.Context, o *Order) error
}

// saveAttempts bounds the reload-and-retry loop on version conflicts.
const saveAttempts = 3

// Service exposes the order command handlers. Every command loads the
// aggregate, applies one mutation, and saves it under the optimistic version
// guard, retrying on conflict with freshly loaded state.
type Service struct {
	repo Repository
}

// NewService creates an order Service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CreateDraft starts a new Draft order at checkout.
func (s *Service) CreateDraft(ctx context.Context, customerID, currency string, shipping money.Address, method PaymentMethod) (*Order, error) {
	o, err := New(customerID, currency, shipping, method)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	return o, nil
}

// update runs mutate against freshly loaded state, saving under the version
// guard and retrying a bounded number of times on conflict.
func (s *Service) update(ctx context.Context, id uuid.UUID, mutate func(*Order) error) (*Order, error) {
	for attempt := 1; ; attempt++ {
		o, err := s.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := mutate(o); err != nil {
			return nil, err
		}
		err = s.repo.Update(ctx, o)
		if err == nil {
			return o, nil
		}
		if errors.Is(err, entity.ErrVersionConflict) && attempt < saveAttempts {
			continue
		}
		return nil, errors.Wrap(err, "save order")
	}
}

// AddItem adds a line to a Draft order.
func (s *Service) AddItem(ctx context.Context, id uuid.UUID, item Item) (*Order, error) {
	return s.update(ctx, id, func(o *Order) error { return o.AddItem(item) })
}

// RemoveItem removes a line from a Draft order.
func (s *Service) RemoveItem(ctx context.Context, id uuid.UUID, variantID string) (*Order, error) {
	return s.update(ctx, id, func(o *Order) error { return o.RemoveItem(variantID) })
}

// UpdateItemQuantity replaces a line's quantity on a Draft order.
func (s *Service) UpdateItemQuantity(ctx context.Context, id uuid.UUID, variantID string, qty int64) (*Order, error) {
	return s.update(ctx, id, func(o *Order) error { return o.UpdateItemQuantity(variantID, qty) })
}

// ApplyCoupon attaches a coupon discount computed by the pricing engine.
func (s *Service) ApplyCoupon(ctx context.Context, id uuid.UUID, code string, amount money.Money, allocations []LineAllocation) (*Order, error) {
	return s.update(ctx, id, func(o *Order) error { return o.ApplyCoupon(code, amount, allocations) })
}

// RemoveCoupon detaches the applied coupon discount.
func (s *Service) RemoveCoupon(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.update(ctx, id, func(o *Order) error { return o.RemoveCoupon() })
}

// AddPromotionDiscount attaches a promotion discount.
func (s *Service) AddPromotionDiscount(ctx context.Context, id uuid.UUID, code string, amount money.Money, allocations []LineAllocation) (*Order, error) {
	return s.update(ctx, id, func(o *Order) error { return o.AddPromotionDiscount(code, amount, allocations) })
}

// SetShippingFee sets the shipping fee on a Draft order.
func (s *Service) SetShippingFee(ctx context.Context, id uuid.UUID, fee money.Money) (*Order, error) {
	return s.update(ctx, id, func(o *Order) error { return o.SetShippingFee(fee) })
}

// SetBillingAddress sets the billing address on a Draft order.
func (s *Service) SetBillingAddress(ctx context.Context, id uuid.UUID, addr money.Address) (*Order, error) {
	return s.update(ctx, id, func(o *Order) error { return o.SetBillingAddress(addr) })
}

// Place moves the order Draft → Pending and emits PlacedEvent.
func (s *Service) Place(ctx context.Context, id uuid.UUID, actor string) (*Order, error) {
	return s.update(ctx, id, func(o *Order) error { return o.Place(actor) })
}

// ConfirmReservation moves the order Pending → Reserved.
func (s *Service) ConfirmReservation(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.update(ctx, id, func(o *Order) error { return o.ConfirmReservation() })
}

// FailReservation moves the order Pending → Cancelled with the given reason.
func (s *Service) FailReservation(ctx context.Context, id uuid.UUID, reason string) (*Order, error) {
	return s.update(ctx, id, func(o *Order) error { return o.FailReservation(reason) })
}

// MarkPaid moves the order Reserved → Confirmed after payment success.
func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID, paymentRef string) (*Order, error) {
	return s.update(ctx, id, func(o *Order) error { return o.MarkPaid(paymentRef) })
}

// Confirm moves the order Reserved → Confirmed (COD, admin action).
func (s *Service) Confirm(ctx context.Context, id uuid.UUID, actor string) (*Order, error) {
	return s.update(ctx, id, func(o *Order) error { return o.Confirm(actor) })
}

// Ship moves the order Confirmed → Shipped.
func (s *Service) Ship(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.update(ctx, id, func(o *Order) error { return o.Ship() })
}

// Deliver moves the order Shipped → Delivered.
func (s *Service) Deliver(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.update(ctx, id, func(o *Order) error { return o.Deliver() })
}

// Cancel cancels a non-terminal order.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason, actor string) (*Order, error) {
	return s.update(ctx, id, func(o *Order) error { return o.Cancel(reason, actor) })
}

// Refund refunds a paid order.
func (s *Service) Refund(ctx context.Context, id uuid.UUID, reason string) (*Order, error) {
	return s.update(ctx, id, func(o *Order) error { return o.Refund(reason) })
}

// Get returns the order by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.repo.Get(ctx, id)
}

// GetByNumber returns the order by its business-unique order number.
func (s *Service) GetByNumber(ctx context.Context, number string) (*Order, error) {
	return s.repo.GetByNumber(ctx, number)
}

// ListByStatus returns orders in the given status, most recent first.
func (s *Service) ListByStatus(ctx context.Context, status Status, limit int) ([]*Order, error) {
	return s.repo.ListByStatus(ctx, status, limit)
}

// ListPendingBefore returns orders stuck in Pending since before cutoff, for
// the recovery sweep.
func (s *Service) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Order, error) {
	return s.repo.ListPendingBefore(ctx, cutoff, limit)
}
