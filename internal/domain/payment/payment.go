// Package payment models the PaymentTransaction collaborator. It mirrors the
// order state machine pattern: a guarded transition table, buffered events,
// and an explicit expiry swept periodically.
package payment

import (
	"time"

	"github.com/google/uuid"

	"github.com/oakmart/fulfillment/internal/domain/fault"
	"github.com/oakmart/fulfillment/internal/domain/money"
	"github.com/oakmart/fulfillment/pkg/entity"
)

// Status is the transaction lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusExpired    Status = "expired"
	StatusRefunding  Status = "refunding"
	StatusRefunded   Status = "refunded"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed, StatusCancelled, StatusExpired},
	StatusProcessing: {StatusSuccess, StatusFailed, StatusCancelled, StatusExpired},
	StatusSuccess:    {StatusRefunding},
	StatusRefunding:  {StatusRefunded},
}

func canTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transaction is the payment aggregate for one order attempt.
type Transaction struct {
	entity.Meta

	OrderID     uuid.UUID   `json:"order_id"`
	Method      string      `json:"method"`
	Status      Status      `json:"status"`
	Amount      money.Money `json:"amount"`
	ProviderRef string      `json:"provider_ref,omitempty"`
	ExpiresAt   time.Time   `json:"expires_at"`

	events entity.Recorder
}

// New opens a pending transaction that expires after ttl.
func New(orderID uuid.UUID, amount money.Money, method string, ttl time.Duration) (*Transaction, error) {
	if orderID == uuid.Nil {
		return nil, fault.Invalid("order id is required")
	}
	if amount.IsNegative() {
		return nil, fault.Invalid("payment amount must not be negative")
	}
	if ttl <= 0 {
		return nil, fault.Invalid("payment ttl must be positive")
	}
	meta := entity.NewMeta()
	return &Transaction{
		Meta:      meta,
		OrderID:   orderID,
		Method:    method,
		Status:    StatusPending,
		Amount:    amount,
		ExpiresAt: meta.CreatedAt.Add(ttl),
	}, nil
}

// DrainEvents returns and clears the buffered domain events.
func (t *Transaction) DrainEvents() []entity.Event { return t.events.Drain() }

// PendingEvents returns the buffered domain events without clearing them.
func (t *Transaction) PendingEvents() []entity.Event { return t.events.Pending() }

func (t *Transaction) changeStatus(to Status) error {
	if !canTransition(t.Status, to) {
		return fault.Rule("payment %s for order %s: cannot move from status %s to %s",
			t.ID, t.OrderID, t.Status, to)
	}
	t.Status = to
	t.Touch()
	return nil
}

// BeginProcessing marks the transaction handed to the gateway.
func (t *Transaction) BeginProcessing(providerRef string) error {
	if err := t.changeStatus(StatusProcessing); err != nil {
		return err
	}
	t.ProviderRef = providerRef
	return nil
}

// Succeed records gateway success and emits the event that confirms the order.
func (t *Transaction) Succeed(providerRef string) error {
	if err := t.changeStatus(StatusSuccess); err != nil {
		return err
	}
	if providerRef != "" {
		t.ProviderRef = providerRef
	}
	t.events.Record(SucceededEvent{
		TransactionID: t.ID.String(),
		OrderID:       t.OrderID.String(),
		Amount:        t.Amount,
	})
	return nil
}

// Fail records gateway failure and emits the event that triggers order
// compensation.
func (t *Transaction) Fail(reason string) error {
	if err := t.changeStatus(StatusFailed); err != nil {
		return err
	}
	t.events.Record(FailedEvent{
		TransactionID: t.ID.String(),
		OrderID:       t.OrderID.String(),
		Reason:        reason,
	})
	return nil
}

// CancelTx cancels an unfinished transaction without compensation (the order
// side cancelled first).
func (t *Transaction) CancelTx() error {
	return t.changeStatus(StatusCancelled)
}

// Expire marks an overdue transaction expired. It takes the same
// compensation path as an explicit failure.
func (t *Transaction) Expire(now time.Time) error {
	if now.Before(t.ExpiresAt) {
		return fault.Rule("payment %s for order %s: not yet expired (expires %s)",
			t.ID, t.OrderID, t.ExpiresAt.Format(time.RFC3339))
	}
	if err := t.changeStatus(StatusExpired); err != nil {
		return err
	}
	t.events.Record(FailedEvent{
		TransactionID: t.ID.String(),
		OrderID:       t.OrderID.String(),
		Reason:        "payment expired",
		Expired:       true,
	})
	return nil
}

// BeginRefund starts refunding a successful transaction.
func (t *Transaction) BeginRefund() error {
	return t.changeStatus(StatusRefunding)
}

// CompleteRefund finishes the refund and emits the event.
func (t *Transaction) CompleteRefund() error {
	if err := t.changeStatus(StatusRefunded); err != nil {
		return err
	}
	t.events.Record(RefundedEvent{
		TransactionID: t.ID.String(),
		OrderID:       t.OrderID.String(),
		Amount:        t.Amount,
	})
	return nil
}

// Event kind names as they appear on the wire.
const (
	KindSucceeded = "payment.succeeded"
	KindFailed    = "payment.failed"
	KindRefunded  = "payment.refunded"
)

// SucceededEvent triggers Order.MarkPaid in the coordinator.
type SucceededEvent struct {
	TransactionID string      `json:"transaction_id"`
	OrderID       string      `json:"order_id"`
	Amount        money.Money `json:"amount"`
}

func (SucceededEvent) Kind() string  { return KindSucceeded }
func (e SucceededEvent) Key() string { return e.OrderID }

// FailedEvent covers both explicit gateway failure and expiry; either way the
// coordinator releases the order's reservations and cancels it.
type FailedEvent struct {
	TransactionID string `json:"transaction_id"`
	OrderID       string `json:"order_id"`
	Reason        string `json:"reason"`
	Expired       bool   `json:"expired,omitempty"`
}

func (FailedEvent) Kind() string  { return KindFailed }
func (e FailedEvent) Key() string { return e.OrderID }

// RefundedEvent reports a completed refund.
type RefundedEvent struct {
	TransactionID string      `json:"transaction_id"`
	OrderID       string      `json:"order_id"`
	Amount        money.Money `json:"amount"`
}

func (RefundedEvent) Kind() string  { return KindRefunded }
func (e RefundedEvent) Key() string { return e.OrderID }
