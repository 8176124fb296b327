package order

import "github.com/oakmart/fulfillment/internal/domain/money"

// Event kind names as they appear on the wire.
const (
	KindPlaced    = "order.placed"
	KindReserved  = "order.reserved"
	KindConfirmed = "order.confirmed"
	KindShipped   = "order.shipped"
	KindDelivered = "order.delivered"
	KindCancelled = "order.cancelled"
	KindRefunded  = "order.refunded"
)

// Line is the per-line payload shared by PlacedEvent and CancelledEvent. It
// carries everything the coordinator needs to drive the reservation protocol
// without loading the order.
type Line struct {
	VariantID   string `json:"variant_id"`
	WarehouseID string `json:"warehouse_id"`
	Quantity    int64  `json:"quantity"`
}

// PlacedEvent is emitted on Draft → Pending and starts the reservation saga.
type PlacedEvent struct {
	OrderID       string `json:"order_id"`
	OrderNumber   string `json:"order_number"`
	CustomerID    string `json:"customer_id"`
	PaymentMethod string `json:"payment_method"`
	Lines         []Line `json:"lines"`
}

func (PlacedEvent) Kind() string  { return KindPlaced }
func (e PlacedEvent) Key() string { return e.OrderID }

// ReservedEvent is emitted on Pending → Reserved; for online orders it
// triggers payment initiation.
type ReservedEvent struct {
	OrderID       string      `json:"order_id"`
	OrderNumber   string      `json:"order_number"`
	PaymentMethod string      `json:"payment_method"`
	GrandTotal    money.Money `json:"grand_total"`
}

func (ReservedEvent) Kind() string  { return KindReserved }
func (e ReservedEvent) Key() string { return e.OrderID }

// ConfirmedEvent is emitted on Reserved → Confirmed and triggers shipment
// creation.
type ConfirmedEvent struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
}

func (ConfirmedEvent) Kind() string  { return KindConfirmed }
func (e ConfirmedEvent) Key() string { return e.OrderID }

// ShippedEvent is emitted on Confirmed → Shipped.
type ShippedEvent struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
}

func (ShippedEvent) Kind() string  { return KindShipped }
func (e ShippedEvent) Key() string { return e.OrderID }

// DeliveredEvent is emitted on Shipped → Delivered.
type DeliveredEvent struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
}

func (DeliveredEvent) Kind() string  { return KindDelivered }
func (e DeliveredEvent) Key() string { return e.OrderID }

// CancelledEvent is emitted whenever the order reaches Cancelled, whether by
// reservation failure, payment failure, or an explicit cancel. The lines let
// the coordinator release every reservation idempotently.
type CancelledEvent struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	Reason      string `json:"reason"`
	Lines       []Line `json:"lines"`
}

func (CancelledEvent) Kind() string  { return KindCancelled }
func (e CancelledEvent) Key() string { return e.OrderID }

// RefundedEvent is emitted when a paid order is refunded.
type RefundedEvent struct {
	OrderID     string      `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	PaymentRef  string      `json:"payment_ref"`
	Amount      money.Money `json:"amount"`
}

func (RefundedEvent) Kind() string  { return KindRefunded }
func (e RefundedEvent) Key() string { return e.OrderID }
