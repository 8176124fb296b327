// Package saga implements the reservation choreography: idempotent event
// handlers that react to one aggregate's events by issuing the next command
// against another. There is no global transaction anywhere in this package;
// consistency comes from idempotent commands plus explicit compensation.
package saga

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/oakmart/fulfillment/internal/domain/fault"
	"github.com/oakmart/fulfillment/internal/domain/inventory"
	"github.com/oakmart/fulfillment/internal/domain/order"
	"github.com/oakmart/fulfillment/internal/domain/payment"
	"github.com/oakmart/fulfillment/internal/domain/shipment"
	"github.com/oakmart/fulfillment/internal/events"
)

// Config tunes the coordinator.
type Config struct {
	// PaymentTTL is how long an online payment may stay unfinished before
	// the expiry sweep cancels the order.
	PaymentTTL time.Duration
	// Carrier is the carrier shipments are opened with.
	Carrier string
	// PendingAge is how long an order may sit in Pending before the
	// recovery sweep re-drives its reservations.
	PendingAge time.Duration
	// SweepLimit bounds how many records one sweep pass touches.
	SweepLimit int
}

func (c *Config) setDefaults() {
	if c.PaymentTTL <= 0 {
		c.PaymentTTL = 30 * time.Minute
	}
	if c.Carrier == "" {
		c.Carrier = "default"
	}
	if c.PendingAge <= 0 {
		c.PendingAge = time.Minute
	}
	if c.SweepLimit <= 0 {
		c.SweepLimit = 100
	}
}

// Coordinator reacts to domain events and drives the order saga forward or
// back. Every handler is safe to re-run: Reserve is an upsert, Release is a
// no-op when absent, and a transition that no longer applies surfaces as a
// rule violation which the coordinator treats as already satisfied.
type Coordinator struct {
	orders    *order.Service
	inventory *inventory.Service
	payments  *payment.Service
	shipments *shipment.Service

	cfg    Config
	lg     *zap.Logger
	tracer trace.Tracer
}

// New wires a coordinator over the four aggregate services.
func New(orders *order.Service, inv *inventory.Service, pay *payment.Service, ship *shipment.Service, cfg Config, lg *zap.Logger) *Coordinator {
	cfg.setDefaults()
	return &Coordinator{
		orders:    orders,
		inventory: inv,
		payments:  pay,
		shipments: ship,
		cfg:       cfg,
		lg:        lg,
	}
}

// Instrument attaches a tracer to the saga handlers.
func (c *Coordinator) Instrument(tracer trace.Tracer) {
	c.tracer = tracer
}

// Register subscribes every handler on the dispatcher.
func (c *Coordinator) Register(d *events.Dispatcher) {
	d.On(order.KindPlaced, c.OnOrderPlaced)
	d.On(order.KindReserved, c.OnOrderReserved)
	d.On(order.KindConfirmed, c.OnOrderConfirmed)
	d.On(order.KindCancelled, c.OnOrderCancelled)
	d.On(payment.KindSucceeded, c.OnPaymentSucceeded)
	d.On(payment.KindFailed, c.OnPaymentFailed)
	d.On(shipment.KindStatusChanged, c.OnShipmentStatusChanged)
}

func (c *Coordinator) span(ctx context.Context, name, orderID string) (context.Context, trace.Span) {
	if c.tracer == nil {
		return ctx, nil
	}
	return c.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("order_id", orderID)))
}

func endSpan(span trace.Span) {
	if span != nil {
		span.End()
	}
}

// alreadySatisfied reports whether err is a guard failure meaning the
// transition was applied by an earlier delivery. Under at-least-once
// delivery that is success, not failure.
func alreadySatisfied(err error) bool {
	return fault.IsRuleViolation(err)
}

// OnOrderPlaced reserves every line of a freshly placed order. All-success
// confirms the reservation; any failure releases what was reserved and fails
// the order.
func (c *Coordinator) OnOrderPlaced(ctx context.Context, env events.Envelope) error {
	var ev order.PlacedEvent
	if err := env.Decode(&ev); err != nil {
		return err
	}
	orderID, err := uuid.Parse(ev.OrderID)
	if err != nil {
		return errors.Wrap(err, "parse order id")
	}
	ctx, span := c.span(ctx, "saga.order_placed", ev.OrderID)
	defer endSpan(span)

	return c.driveReservation(ctx, orderID, ev.Lines)
}

// driveReservation is the shared reserve-all-or-compensate step, also used
// by the Pending recovery sweep.
func (c *Coordinator) driveReservation(ctx context.Context, orderID uuid.UUID, lines []order.Line) error {
	var failure error
	for _, line := range lines {
		_, err := c.inventory.Reserve(ctx, line.WarehouseID, line.VariantID, orderID, line.Quantity)
		if err != nil {
			failure = err
			break
		}
	}

	if failure == nil {
		if _, err := c.orders.ConfirmReservation(ctx, orderID); err != nil && !alreadySatisfied(err) {
			return errors.Wrap(err, "confirm reservation")
		}
		return nil
	}

	if !fault.IsRuleViolation(failure) && !fault.IsNotFound(failure) {
		// Infrastructure trouble, not a domain verdict: leave the order in
		// Pending so the recovery sweep retries the whole set.
		return errors.Wrap(failure, "reserve line")
	}

	c.lg.Info("reservation failed, compensating",
		zap.String("order_id", orderID.String()),
		zap.Error(failure))
	c.releaseLines(ctx, orderID, lines)
	if _, err := c.orders.FailReservation(ctx, orderID, failure.Error()); err != nil && !alreadySatisfied(err) {
		return errors.Wrap(err, "fail reservation")
	}
	return nil
}

// releaseLines releases every line's hold. Release is a no-op when no hold
// exists, so a line may be released more than once.
func (c *Coordinator) releaseLines(ctx context.Context, orderID uuid.UUID, lines []order.Line) {
	for _, line := range lines {
		_, err := c.inventory.Release(ctx, line.WarehouseID, line.VariantID, orderID)
		if err != nil && !fault.IsNotFound(err) {
			c.lg.Error("release failed",
				zap.String("order_id", orderID.String()),
				zap.String("variant_id", line.VariantID),
				zap.Error(err))
		}
	}
}

// OnOrderReserved opens the payment transaction for online orders. COD
// orders wait for an explicit admin confirmation instead.
func (c *Coordinator) OnOrderReserved(ctx context.Context, env events.Envelope) error {
	var ev order.ReservedEvent
	if err := env.Decode(&ev); err != nil {
		return err
	}
	if ev.PaymentMethod != string(order.PaymentOnline) {
		return nil
	}
	orderID, err := uuid.Parse(ev.OrderID)
	if err != nil {
		return errors.Wrap(err, "parse order id")
	}
	ctx, span := c.span(ctx, "saga.order_reserved", ev.OrderID)
	defer endSpan(span)

	if _, err := c.payments.Open(ctx, orderID, ev.GrandTotal, ev.PaymentMethod, c.cfg.PaymentTTL); err != nil {
		return errors.Wrap(err, "open payment")
	}
	return nil
}

// OnOrderConfirmed converts every line's reservation into a permanent
// deduction and opens the shipment.
func (c *Coordinator) OnOrderConfirmed(ctx context.Context, env events.Envelope) error {
	var ev order.ConfirmedEvent
	if err := env.Decode(&ev); err != nil {
		return err
	}
	orderID, err := uuid.Parse(ev.OrderID)
	if err != nil {
		return errors.Wrap(err, "parse order id")
	}
	ctx, span := c.span(ctx, "saga.order_confirmed", ev.OrderID)
	defer endSpan(span)

	o, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return errors.Wrap(err, "load order")
	}
	for _, item := range o.Items {
		_, err := c.inventory.Confirm(ctx, item.WarehouseID, item.VariantID, orderID)
		if err != nil && !alreadySatisfied(err) {
			return errors.Wrapf(err, "confirm stock for variant %s", item.VariantID)
		}
	}

	if _, err := c.shipments.Create(ctx, orderID, c.cfg.Carrier); err != nil {
		return errors.Wrap(err, "create shipment")
	}
	return nil
}

// OnOrderCancelled releases every line's hold. Safe even when some lines
// were never reserved.
func (c *Coordinator) OnOrderCancelled(ctx context.Context, env events.Envelope) error {
	var ev order.CancelledEvent
	if err := env.Decode(&ev); err != nil {
		return err
	}
	orderID, err := uuid.Parse(ev.OrderID)
	if err != nil {
		return errors.Wrap(err, "parse order id")
	}
	ctx, span := c.span(ctx, "saga.order_cancelled", ev.OrderID)
	defer endSpan(span)

	c.releaseLines(ctx, orderID, ev.Lines)

	// An unfinished payment for a cancelled order serves no purpose.
	if t, err := c.payments.GetByOrder(ctx, orderID); err == nil {
		if _, err := c.payments.Cancel(ctx, t.ID); err != nil && !alreadySatisfied(err) {
			c.lg.Error("cancel payment failed",
				zap.String("order_id", orderID.String()), zap.Error(err))
		}
	}

	// Same for a shipment still sitting in the warehouse. Once the carrier
	// has picked it up the cancel guard fires and the parcel is handled as a
	// return instead.
	if sh, err := c.shipments.GetByOrder(ctx, orderID); err == nil {
		if _, err := c.shipments.Cancel(ctx, sh.ID, ev.Reason); err != nil && !alreadySatisfied(err) {
			c.lg.Error("cancel shipment failed",
				zap.String("order_id", orderID.String()), zap.Error(err))
		}
	}
	return nil
}

// OnPaymentSucceeded confirms the order.
func (c *Coordinator) OnPaymentSucceeded(ctx context.Context, env events.Envelope) error {
	var ev payment.SucceededEvent
	if err := env.Decode(&ev); err != nil {
		return err
	}
	orderID, err := uuid.Parse(ev.OrderID)
	if err != nil {
		return errors.Wrap(err, "parse order id")
	}
	ctx, span := c.span(ctx, "saga.payment_succeeded", ev.OrderID)
	defer endSpan(span)

	if _, err := c.orders.MarkPaid(ctx, orderID, ev.TransactionID); err != nil && !alreadySatisfied(err) {
		return errors.Wrap(err, "mark order paid")
	}
	return nil
}

// OnPaymentFailed runs the same compensation as a failed reservation:
// release every hold, then cancel the order.
func (c *Coordinator) OnPaymentFailed(ctx context.Context, env events.Envelope) error {
	var ev payment.FailedEvent
	if err := env.Decode(&ev); err != nil {
		return err
	}
	orderID, err := uuid.Parse(ev.OrderID)
	if err != nil {
		return errors.Wrap(err, "parse order id")
	}
	ctx, span := c.span(ctx, "saga.payment_failed", ev.OrderID)
	defer endSpan(span)

	o, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return errors.Wrap(err, "load order")
	}
	for _, item := range o.Items {
		if _, err := c.inventory.Release(ctx, item.WarehouseID, item.VariantID, orderID); err != nil && !fault.IsNotFound(err) {
			c.lg.Error("release failed",
				zap.String("order_id", orderID.String()),
				zap.String("variant_id", item.VariantID),
				zap.Error(err))
		}
	}
	if _, err := c.orders.Cancel(ctx, orderID, ev.Reason, "system"); err != nil && !alreadySatisfied(err) {
		return errors.Wrap(err, "cancel order")
	}
	return nil
}

// OnShipmentStatusChanged advances the order as the shipment moves.
func (c *Coordinator) OnShipmentStatusChanged(ctx context.Context, env events.Envelope) error {
	var ev shipment.StatusChangedEvent
	if err := env.Decode(&ev); err != nil {
		return err
	}
	orderID, err := uuid.Parse(ev.OrderID)
	if err != nil {
		return errors.Wrap(err, "parse order id")
	}
	ctx, span := c.span(ctx, "saga.shipment_status", ev.OrderID)
	defer endSpan(span)

	switch shipment.Status(ev.Status) {
	case shipment.StatusPickedUp:
		if _, err := c.orders.Ship(ctx, orderID); err != nil && !alreadySatisfied(err) {
			return errors.Wrap(err, "mark order shipped")
		}
	case shipment.StatusDelivered:
		if _, err := c.orders.Deliver(ctx, orderID); err != nil && !alreadySatisfied(err) {
			return errors.Wrap(err, "mark order delivered")
		}
	}
	return nil
}
