// Package order owns the Order aggregate: its lines, discounts, totals, and
// the order status state machine. An Order is one unit of transactional
// consistency; cross-aggregate effects run through the event choreography.
package order

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oakmart/fulfillment/internal/domain/fault"
	"github.com/oakmart/fulfillment/internal/domain/money"
	"github.com/oakmart/fulfillment/pkg/entity"
)

// Status is the order lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPending   Status = "pending"
	StatusReserved  Status = "reserved"
	StatusConfirmed Status = "confirmed"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// Terminal reports whether no further transition may leave this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusDelivered, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// transitions is the directed edge set of the status state machine. Cancel is
// handled separately because it is allowed from every non-terminal status.
var transitions = map[Status][]Status{
	StatusDraft:     {StatusPending},
	StatusPending:   {StatusReserved},
	StatusReserved:  {StatusConfirmed},
	StatusConfirmed: {StatusShipped, StatusRefunded},
	StatusShipped:   {StatusDelivered, StatusRefunded},
	StatusDelivered: {StatusRefunded},
}

func canTransition(from, to Status) bool {
	if to == StatusCancelled {
		return !from.Terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PaymentMethod selects how the order is paid.
type PaymentMethod string

const (
	PaymentCOD    PaymentMethod = "cod"
	PaymentOnline PaymentMethod = "online"
)

// PaymentStatus tracks the order-side view of payment.
type PaymentStatus string

const (
	PaymentUnpaid       PaymentStatus = "unpaid"
	PaymentPaid         PaymentStatus = "paid"
	PaymentRefundedBack PaymentStatus = "refunded"
)

// DiscountSource identifies where a discount came from.
type DiscountSource string

const (
	SourceCoupon    DiscountSource = "coupon"
	SourcePromotion DiscountSource = "promotion"
	SourceManual    DiscountSource = "manual"
)

// Item is one order line. Lines are unique by VariantID; adding the same
// variant again merges quantities. WarehouseID is the warehouse chosen at
// checkout, forwarded to the reservation coordinator.
type Item struct {
	VariantID   string      `json:"variant_id"`
	ProductID   string      `json:"product_id"`
	WarehouseID string      `json:"warehouse_id"`
	SKU         string      `json:"sku"`
	Name        string      `json:"name"`
	UnitPrice   money.Money `json:"unit_price"`
	Quantity    int64       `json:"quantity"`
}

// LineTotal returns UnitPrice × Quantity.
func (i Item) LineTotal() money.Money {
	return i.UnitPrice.MulInt(i.Quantity)
}

// LineAllocation attributes part of a discount to a specific line.
type LineAllocation struct {
	VariantID string      `json:"variant_id"`
	Amount    money.Money `json:"amount"`
}

// Discount is an order-level discount. At most one coupon-sourced discount
// may be present at a time.
type Discount struct {
	Source      DiscountSource   `json:"source"`
	Code        string           `json:"code"`
	Amount      money.Money      `json:"amount"`
	Allocations []LineAllocation `json:"allocations,omitempty"`
}

// StatusChange is one append-only status history row. Rows are never edited
// or removed after append.
type StatusChange struct {
	From   Status    `json:"from"`
	To     Status    `json:"to"`
	Reason string    `json:"reason"`
	Actor  string    `json:"actor"`
	At     time.Time `json:"at"`
}

// Order is the order aggregate root.
type Order struct {
	entity.Meta

	OrderNumber        string         `json:"order_number"`
	CustomerID         string         `json:"customer_id"`
	Currency           string         `json:"currency"`
	Status             Status         `json:"status"`
	ShippingAddress    money.Address  `json:"shipping_address"`
	BillingAddress     *money.Address `json:"billing_address,omitempty"`
	PaymentMethod      PaymentMethod  `json:"payment_method"`
	PaymentStatus      PaymentStatus  `json:"payment_status"`
	PaymentRef         string         `json:"payment_ref,omitempty"`
	PaidAt             *time.Time     `json:"paid_at,omitempty"`
	ShippingMethod     string         `json:"shipping_method,omitempty"`
	ShippingFee        money.Money    `json:"shipping_fee"`
	SubTotal           money.Money    `json:"sub_total"`
	TotalDiscount      money.Money    `json:"total_discount"`
	GrandTotal         money.Money    `json:"grand_total"`
	CancellationReason string         `json:"cancellation_reason,omitempty"`
	Items              []Item         `json:"items"`
	Discounts          []Discount     `json:"discounts"`
	History            []StatusChange `json:"history"`

	// PersistedHistory marks how many History rows are already stored; the
	// repository appends only rows past this index.
	PersistedHistory int `json:"-"`

	events entity.Recorder
}

// New creates a Draft order at checkout start.
func New(customerID, currency string, shipping money.Address, method PaymentMethod) (*Order, error) {
	if customerID == "" {
		return nil, fault.Invalid("customer id is required")
	}
	if currency == "" {
		return nil, fault.Invalid("currency is required")
	}
	if shipping.IsZero() {
		return nil, fault.Invalid("shipping address is required")
	}
	switch method {
	case PaymentCOD, PaymentOnline:
	default:
		return nil, fault.Invalid("unknown payment method %q", method)
	}

	meta := entity.NewMeta()
	return &Order{
		Meta:            meta,
		OrderNumber:     newOrderNumber(meta.ID, meta.CreatedAt),
		CustomerID:      customerID,
		Currency:        currency,
		Status:          StatusDraft,
		ShippingAddress: shipping,
		PaymentMethod:   method,
		PaymentStatus:   PaymentUnpaid,
		ShippingFee:     money.Zero(currency),
		SubTotal:        money.Zero(currency),
		TotalDiscount:   money.Zero(currency),
		GrandTotal:      money.Zero(currency),
	}, nil
}

// newOrderNumber derives the business-unique order number. The uuid prefix
// keeps it unique without a sequence round trip.
func newOrderNumber(id uuid.UUID, at time.Time) string {
	return fmt.Sprintf("ORD-%s-%s", at.Format("20060102"), id.String()[:8])
}

// DrainEvents returns and clears the buffered domain events. Called by the
// repository inside the save transaction.
func (o *Order) DrainEvents() []entity.Event { return o.events.Drain() }

// PendingEvents returns the buffered domain events without clearing them.
func (o *Order) PendingEvents() []entity.Event { return o.events.Pending() }

func (o *Order) requireStatus(op string, required Status) error {
	if o.Status != required {
		return fault.Rule("order %s: %s requires status %s, current status is %s",
			o.OrderNumber, op, required, o.Status)
	}
	return nil
}

// AddItem appends a line to a Draft order. Adding a variant that is already
// present merges quantities instead of duplicating the line.
func (o *Order) AddItem(item Item) error {
	if err := o.requireStatus("add item", StatusDraft); err != nil {
		return err
	}
	if item.VariantID == "" {
		return fault.Invalid("variant id is required")
	}
	if item.Quantity <= 0 {
		return fault.Invalid("quantity must be positive for variant %s", item.VariantID)
	}
	if item.UnitPrice.IsNegative() {
		return fault.Invalid("unit price must not be negative for variant %s", item.VariantID)
	}
	if !item.UnitPrice.SameCurrency(money.Zero(o.Currency)) {
		return fault.Invalid("variant %s priced in %s, order currency is %s",
			item.VariantID, item.UnitPrice.Currency, o.Currency)
	}

	if idx := o.findItem(item.VariantID); idx >= 0 {
		o.Items[idx].Quantity += item.Quantity
	} else {
		o.Items = append(o.Items, item)
	}
	o.recomputeTotals()
	o.Touch()
	return nil
}

// RemoveItem deletes the line for the given variant from a Draft order.
func (o *Order) RemoveItem(variantID string) error {
	if err := o.requireStatus("remove item", StatusDraft); err != nil {
		return err
	}
	idx := o.findItem(variantID)
	if idx < 0 {
		return fault.NotFound("order item", variantID)
	}
	o.Items = append(o.Items[:idx], o.Items[idx+1:]...)
	o.recomputeTotals()
	o.Touch()
	return nil
}

// UpdateItemQuantity replaces the quantity of an existing line.
func (o *Order) UpdateItemQuantity(variantID string, qty int64) error {
	if err := o.requireStatus("update item quantity", StatusDraft); err != nil {
		return err
	}
	if qty <= 0 {
		return fault.Invalid("quantity must be positive for variant %s", variantID)
	}
	idx := o.findItem(variantID)
	if idx < 0 {
		return fault.NotFound("order item", variantID)
	}
	o.Items[idx].Quantity = qty
	o.recomputeTotals()
	o.Touch()
	return nil
}

// ApplyCoupon attaches a coupon-sourced discount. At most one coupon may be
// applied at a time; remove the existing one first.
func (o *Order) ApplyCoupon(code string, amount money.Money, allocations []LineAllocation) error {
	if err := o.requireStatus("apply coupon", StatusDraft); err != nil {
		return err
	}
	if code == "" {
		return fault.Invalid("coupon code is required")
	}
	if o.findCoupon() >= 0 {
		return fault.Rule("order %s: a coupon is already applied", o.OrderNumber)
	}
	return o.addDiscount(Discount{Source: SourceCoupon, Code: code, Amount: amount, Allocations: allocations})
}

// RemoveCoupon detaches the coupon-sourced discount.
func (o *Order) RemoveCoupon() error {
	if err := o.requireStatus("remove coupon", StatusDraft); err != nil {
		return err
	}
	idx := o.findCoupon()
	if idx < 0 {
		return fault.NotFound("coupon discount", o.OrderNumber)
	}
	o.Discounts = append(o.Discounts[:idx], o.Discounts[idx+1:]...)
	o.recomputeTotals()
	o.Touch()
	return nil
}

// AddPromotionDiscount attaches a promotion-sourced discount.
func (o *Order) AddPromotionDiscount(code string, amount money.Money, allocations []LineAllocation) error {
	if err := o.requireStatus("add promotion discount", StatusDraft); err != nil {
		return err
	}
	return o.addDiscount(Discount{Source: SourcePromotion, Code: code, Amount: amount, Allocations: allocations})
}

func (o *Order) addDiscount(d Discount) error {
	if d.Amount.IsNegative() {
		return fault.Invalid("discount amount must not be negative")
	}
	if !d.Amount.SameCurrency(money.Zero(o.Currency)) {
		return fault.Invalid("discount in %s, order currency is %s", d.Amount.Currency, o.Currency)
	}
	for _, alloc := range d.Allocations {
		if o.findItem(alloc.VariantID) < 0 {
			return fault.Invalid("discount allocation references unknown variant %s", alloc.VariantID)
		}
	}
	o.Discounts = append(o.Discounts, d)
	o.recomputeTotals()
	o.Touch()
	return nil
}

// SetShippingFee sets the shipping fee on a Draft order.
func (o *Order) SetShippingFee(fee money.Money) error {
	if err := o.requireStatus("set shipping fee", StatusDraft); err != nil {
		return err
	}
	if fee.IsNegative() {
		return fault.Invalid("shipping fee must not be negative")
	}
	if !fee.SameCurrency(money.Zero(o.Currency)) {
		return fault.Invalid("shipping fee in %s, order currency is %s", fee.Currency, o.Currency)
	}
	o.ShippingFee = fee
	o.recomputeTotals()
	o.Touch()
	return nil
}

// SetShippingMethod sets the shipping method on a Draft order.
func (o *Order) SetShippingMethod(method string) error {
	if err := o.requireStatus("set shipping method", StatusDraft); err != nil {
		return err
	}
	o.ShippingMethod = method
	o.Touch()
	return nil
}

// SetBillingAddress sets a billing address distinct from the shipping one.
func (o *Order) SetBillingAddress(addr money.Address) error {
	if err := o.requireStatus("set billing address", StatusDraft); err != nil {
		return err
	}
	if addr.IsZero() {
		return fault.Invalid("billing address must not be empty")
	}
	o.BillingAddress = &addr
	o.Touch()
	return nil
}

func (o *Order) findItem(variantID string) int {
	for i := range o.Items {
		if o.Items[i].VariantID == variantID {
			return i
		}
	}
	return -1
}

func (o *Order) findCoupon() int {
	for i := range o.Discounts {
		if o.Discounts[i].Source == SourceCoupon {
			return i
		}
	}
	return -1
}

// recomputeTotals re-derives the money fields after every item or discount
// mutation, keeping GrandTotal = max(0, SubTotal + ShippingFee − TotalDiscount).
func (o *Order) recomputeTotals() {
	sub := money.Zero(o.Currency)
	for _, item := range o.Items {
		sub = sub.Add(item.LineTotal())
	}
	disc := money.Zero(o.Currency)
	for _, d := range o.Discounts {
		disc = disc.Add(d.Amount)
	}
	o.SubTotal = sub
	o.TotalDiscount = disc
	o.GrandTotal = sub.Add(o.ShippingFee).Sub(disc).FloorZero()
}

// changeStatus validates the edge, appends an immutable history row, and
// applies the new status.
func (o *Order) changeStatus(to Status, reason, actor string) error {
	if !canTransition(o.Status, to) {
		return fault.Rule("order %s: cannot move from status %s to %s",
			o.OrderNumber, o.Status, to)
	}
	o.History = append(o.History, StatusChange{
		From:   o.Status,
		To:     to,
		Reason: reason,
		Actor:  actor,
		At:     time.Now().UTC(),
	})
	o.Status = to
	o.Touch()
	return nil
}

// Place moves Draft → Pending and emits PlacedEvent for the reservation
// coordinator. Leaving Draft requires at least one line.
func (o *Order) Place(actor string) error {
	if err := o.requireStatus("place order", StatusDraft); err != nil {
		return err
	}
	if len(o.Items) == 0 {
		return fault.Rule("order %s: cannot be placed without items", o.OrderNumber)
	}
	if err := o.changeStatus(StatusPending, "order placed", actor); err != nil {
		return err
	}
	o.events.Record(PlacedEvent{
		OrderID:       o.ID.String(),
		OrderNumber:   o.OrderNumber,
		CustomerID:    o.CustomerID,
		PaymentMethod: string(o.PaymentMethod),
		Lines:         o.lines(),
	})
	return nil
}

// ConfirmReservation moves Pending → Reserved once every line has been
// reserved by the coordinator.
func (o *Order) ConfirmReservation() error {
	if err := o.requireStatus("confirm reservation", StatusPending); err != nil {
		return err
	}
	if err := o.changeStatus(StatusReserved, "all lines reserved", "system"); err != nil {
		return err
	}
	o.events.Record(ReservedEvent{
		OrderID:       o.ID.String(),
		OrderNumber:   o.OrderNumber,
		PaymentMethod: string(o.PaymentMethod),
		GrandTotal:    o.GrandTotal,
	})
	return nil
}

// FailReservation moves Pending → Cancelled after a reservation failure.
func (o *Order) FailReservation(reason string) error {
	if err := o.requireStatus("fail reservation", StatusPending); err != nil {
		return err
	}
	o.CancellationReason = reason
	if err := o.changeStatus(StatusCancelled, reason, "system"); err != nil {
		return err
	}
	o.events.Record(o.cancelledEvent(reason))
	return nil
}

// MarkPaid moves Reserved → Confirmed after a successful payment.
func (o *Order) MarkPaid(paymentRef string) error {
	if err := o.requireStatus("mark paid", StatusReserved); err != nil {
		return err
	}
	if err := o.changeStatus(StatusConfirmed, "payment received", "system"); err != nil {
		return err
	}
	now := time.Now().UTC()
	o.PaymentStatus = PaymentPaid
	o.PaymentRef = paymentRef
	o.PaidAt = &now
	o.events.Record(ConfirmedEvent{OrderID: o.ID.String(), OrderNumber: o.OrderNumber})
	return nil
}

// Confirm moves Reserved → Confirmed without payment (COD, admin action).
func (o *Order) Confirm(actor string) error {
	if err := o.requireStatus("confirm order", StatusReserved); err != nil {
		return err
	}
	if err := o.changeStatus(StatusConfirmed, "order confirmed", actor); err != nil {
		return err
	}
	o.events.Record(ConfirmedEvent{OrderID: o.ID.String(), OrderNumber: o.OrderNumber})
	return nil
}

// Ship moves Confirmed → Shipped.
func (o *Order) Ship() error {
	if err := o.requireStatus("ship order", StatusConfirmed); err != nil {
		return err
	}
	if err := o.changeStatus(StatusShipped, "shipment picked up", "system"); err != nil {
		return err
	}
	o.events.Record(ShippedEvent{OrderID: o.ID.String(), OrderNumber: o.OrderNumber})
	return nil
}

// Deliver moves Shipped → Delivered.
func (o *Order) Deliver() error {
	if err := o.requireStatus("deliver order", StatusShipped); err != nil {
		return err
	}
	if err := o.changeStatus(StatusDelivered, "shipment delivered", "system"); err != nil {
		return err
	}
	o.events.Record(DeliveredEvent{OrderID: o.ID.String(), OrderNumber: o.OrderNumber})
	return nil
}

// Cancel moves any non-terminal status to Cancelled. The emitted event
// carries the lines so the coordinator can release reservations; Release is
// a no-op for lines that were never reserved.
func (o *Order) Cancel(reason, actor string) error {
	if o.Status.Terminal() {
		return fault.Rule("order %s: cannot cancel terminal status %s", o.OrderNumber, o.Status)
	}
	o.CancellationReason = reason
	if err := o.changeStatus(StatusCancelled, reason, actor); err != nil {
		return err
	}
	o.events.Record(o.cancelledEvent(reason))
	return nil
}

// Refund marks a paid order refunded.
func (o *Order) Refund(reason string) error {
	if o.PaymentStatus != PaymentPaid {
		return fault.Rule("order %s: refund requires payment status %s, current is %s",
			o.OrderNumber, PaymentPaid, o.PaymentStatus)
	}
	if err := o.changeStatus(StatusRefunded, reason, "system"); err != nil {
		return err
	}
	o.PaymentStatus = PaymentRefundedBack
	o.events.Record(RefundedEvent{
		OrderID:     o.ID.String(),
		OrderNumber: o.OrderNumber,
		PaymentRef:  o.PaymentRef,
		Amount:      o.GrandTotal,
	})
	return nil
}

func (o *Order) lines() []Line {
	lines := make([]Line, len(o.Items))
	for i, item := range o.Items {
		lines[i] = Line{
			VariantID:   item.VariantID,
			WarehouseID: item.WarehouseID,
			Quantity:    item.Quantity,
		}
	}
	return lines
}

func (o *Order) cancelledEvent(reason string) CancelledEvent {
	return CancelledEvent{
		OrderID:     o.ID.String(),
		OrderNumber: o.OrderNumber,
		Reason:      reason,
		Lines:       o.lines(),
	}
}
