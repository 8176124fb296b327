// Package events defines the wire contract between aggregates and the
// choreography: the envelope every domain event travels in, the topic
// layout, and the delivery machinery (Kafka publisher, in-process
// dispatcher).
package events

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/oakmart/fulfillment/pkg/entity"
)

// Kafka topics, one per aggregate family.
const (
	TopicOrders    = "fulfillment.orders"
	TopicInventory = "fulfillment.inventory"
	TopicPayments  = "fulfillment.payments"
	TopicShipments = "fulfillment.shipments"
)

// TopicFor maps an event kind ("order.placed") to its topic.
func TopicFor(kind string) string {
	switch prefix, _, _ := strings.Cut(kind, "."); prefix {
	case "order":
		return TopicOrders
	case "inventory":
		return TopicInventory
	case "payment":
		return TopicPayments
	case "shipment":
		return TopicShipments
	}
	return TopicOrders
}

// Envelope wraps a domain event for transport. EventID makes redelivery
// detectable; Key partitions delivery so events sharing a key (the order id)
// stay causally ordered.
type Envelope struct {
	EventID   uuid.UUID       `json:"event_id"`
	Type      string          `json:"type"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Wrap marshals a domain event into a fresh envelope.
func Wrap(e entity.Event) (Envelope, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return Envelope{}, errors.Wrapf(err, "marshal %s event", e.Kind())
	}
	return Envelope{
		EventID:   uuid.New(),
		Type:      e.Kind(),
		Key:       e.Key(),
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return errors.Wrapf(err, "decode %s payload", e.Type)
	}
	return nil
}
