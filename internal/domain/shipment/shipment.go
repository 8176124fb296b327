// Package shipment models the Shipment collaborator: a carrier-driven state
// machine whose tracking history is append-only and tolerant of webhook
// replay via external-event-id deduplication.
package shipment

import (
	"time"

	"github.com/google/uuid"

	"github.com/oakmart/fulfillment/internal/domain/fault"
	"github.com/oakmart/fulfillment/pkg/entity"
)

// Status is the shipment lifecycle state.
type Status string

const (
	StatusCreated        Status = "created"
	StatusAwaitingPickup Status = "awaiting_pickup"
	StatusPickedUp       Status = "picked_up"
	StatusInTransit      Status = "in_transit"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusDeliveryFailed Status = "delivery_failed"
	StatusReturned       Status = "returned"
	StatusCancelled      Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusCreated:        {StatusAwaitingPickup, StatusCancelled},
	StatusAwaitingPickup: {StatusPickedUp, StatusCancelled},
	StatusPickedUp:       {StatusInTransit},
	StatusInTransit:      {StatusOutForDelivery, StatusDeliveryFailed},
	StatusOutForDelivery: {StatusDelivered, StatusDeliveryFailed},
	StatusDeliveryFailed: {StatusReturned, StatusOutForDelivery, StatusCancelled},
}

func canTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TrackingEvent is one append-only row of the shipment's tracking history.
// ExternalID is the carrier's event identifier, used to drop webhook replays.
type TrackingEvent struct {
	ExternalID  string    `json:"external_id"`
	Status      Status    `json:"status"`
	Description string    `json:"description,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Shipment is the shipment aggregate for one order.
type Shipment struct {
	entity.Meta

	OrderID        uuid.UUID       `json:"order_id"`
	Carrier        string          `json:"carrier"`
	TrackingNumber string          `json:"tracking_number,omitempty"`
	Status         Status          `json:"status"`
	Tracking       []TrackingEvent `json:"tracking"`

	// PersistedTracking marks how many Tracking rows are already stored; the
	// repository appends only rows past this index.
	PersistedTracking int `json:"-"`

	events entity.Recorder
}

// New creates a shipment for a confirmed order.
func New(orderID uuid.UUID, carrier string) (*Shipment, error) {
	if orderID == uuid.Nil {
		return nil, fault.Invalid("order id is required")
	}
	return &Shipment{
		Meta:    entity.NewMeta(),
		OrderID: orderID,
		Carrier: carrier,
		Status:  StatusCreated,
	}, nil
}

// DrainEvents returns and clears the buffered domain events.
func (sh *Shipment) DrainEvents() []entity.Event { return sh.events.Drain() }

// PendingEvents returns the buffered domain events without clearing them.
func (sh *Shipment) PendingEvents() []entity.Event { return sh.events.Pending() }

// SetTrackingNumber records the carrier tracking number once assigned.
func (sh *Shipment) SetTrackingNumber(trackingNumber string) {
	sh.TrackingNumber = trackingNumber
	sh.Touch()
}

// seen reports whether a carrier event id was already applied.
func (sh *Shipment) seen(externalID string) bool {
	for i := range sh.Tracking {
		if sh.Tracking[i].ExternalID == externalID {
			return true
		}
	}
	return false
}

// ApplyCarrierEvent applies one carrier status update. A replayed event
// (same external id) is dropped and reported via the bool without error; an
// event whose status is not reachable from the current one is rejected.
func (sh *Shipment) ApplyCarrierEvent(ev TrackingEvent) (applied bool, err error) {
	if ev.ExternalID == "" {
		return false, fault.Invalid("carrier event id is required")
	}
	if sh.seen(ev.ExternalID) {
		return false, nil
	}
	if !canTransition(sh.Status, ev.Status) {
		return false, fault.Rule("shipment %s for order %s: cannot move from status %s to %s",
			sh.ID, sh.OrderID, sh.Status, ev.Status)
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	sh.Tracking = append(sh.Tracking, ev)
	sh.Status = ev.Status
	sh.Touch()

	sh.events.Record(StatusChangedEvent{
		ShipmentID: sh.ID.String(),
		OrderID:    sh.OrderID.String(),
		Status:     string(ev.Status),
	})
	return true, nil
}

// Cancel cancels a shipment that has not left the warehouse.
func (sh *Shipment) Cancel(reason string) error {
	if !canTransition(sh.Status, StatusCancelled) {
		return fault.Rule("shipment %s for order %s: cannot cancel from status %s",
			sh.ID, sh.OrderID, sh.Status)
	}
	sh.Tracking = append(sh.Tracking, TrackingEvent{
		ExternalID:  "internal:cancel:" + sh.ID.String(),
		Status:      StatusCancelled,
		Description: reason,
		OccurredAt:  time.Now().UTC(),
	})
	sh.Status = StatusCancelled
	sh.Touch()

	sh.events.Record(StatusChangedEvent{
		ShipmentID: sh.ID.String(),
		OrderID:    sh.OrderID.String(),
		Status:     string(StatusCancelled),
	})
	return nil
}

// KindStatusChanged is the wire name of StatusChangedEvent.
const KindStatusChanged = "shipment.status_changed"

// StatusChangedEvent reports every shipment status change; the coordinator
// maps picked_up to Order.Ship and delivered to Order.Deliver.
type StatusChangedEvent struct {
	ShipmentID string `json:"shipment_id"`
	OrderID    string `json:"order_id"`
	Status     string `json:"status"`
}

func (StatusChangedEvent) Kind() string  { return KindStatusChanged }
func (e StatusChangedEvent) Key() string { return e.OrderID }
