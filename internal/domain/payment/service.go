package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/oakmart/fulfillment/internal/domain/fault"
	"github.com/oakmart/fulfillment/internal/domain/money"
	"github.com/oakmart/fulfillment/pkg/entity"
)

// Repository defines persistence operations for payment transactions.
type Repository interface {
	Create(ctx context.Context, t *Transaction) error
	Get(ctx context.Context, id uuid.UUID) (*Transaction, error)
	GetByOrder(ctx context.Context, orderID uuid.UUID) (*Transaction, error)
	ListExpired(ctx context.Context, asOf time.Time, limit int) ([]*Transaction, error)
	Update(ctx context.Context, t *Transaction) error
}

const saveAttempts = 3

// Service exposes payment commands and the expiry sweep.
type Service struct {
	repo Repository
}

// NewService creates a payment Service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Open creates the pending transaction for an order. Opening twice for the
// same order returns the existing transaction, keeping the saga handler
// idempotent under redelivery.
func (s *Service) Open(ctx context.Context, orderID uuid.UUID, amount money.Money, method string, ttl time.Duration) (*Transaction, error) {
	existing, err := s.repo.GetByOrder(ctx, orderID)
	if err == nil {
		return existing, nil
	}
	if !fault.IsNotFound(err) {
		return nil, err
	}

	t, err := New(orderID, amount, method, ttl)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, errors.Wrap(err, "create payment transaction")
	}
	return t, nil
}

func (s *Service) update(ctx context.Context, id uuid.UUID, mutate func(*Transaction) error) (*Transaction, error) {
	for attempt := 1; ; attempt++ {
		t, err := s.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := mutate(t); err != nil {
			return nil, err
		}
		err = s.repo.Update(ctx, t)
		if err == nil {
			return t, nil
		}
		if errors.Is(err, entity.ErrVersionConflict) && attempt < saveAttempts {
			continue
		}
		return nil, errors.Wrap(err, "save payment transaction")
	}
}

// BeginProcessing marks a transaction handed to the gateway.
func (s *Service) BeginProcessing(ctx context.Context, id uuid.UUID, providerRef string) (*Transaction, error) {
	return s.update(ctx, id, func(t *Transaction) error { return t.BeginProcessing(providerRef) })
}

// Succeed records gateway success.
func (s *Service) Succeed(ctx context.Context, id uuid.UUID, providerRef string) (*Transaction, error) {
	return s.update(ctx, id, func(t *Transaction) error { return t.Succeed(providerRef) })
}

// Fail records gateway failure.
func (s *Service) Fail(ctx context.Context, id uuid.UUID, reason string) (*Transaction, error) {
	return s.update(ctx, id, func(t *Transaction) error { return t.Fail(reason) })
}

// Cancel cancels an unfinished transaction.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return s.update(ctx, id, func(t *Transaction) error { return t.CancelTx() })
}

// Refund runs the refund flow to completion.
func (s *Service) Refund(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return s.update(ctx, id, func(t *Transaction) error {
		if err := t.BeginRefund(); err != nil {
			return err
		}
		return t.CompleteRefund()
	})
}

// GetByOrder returns the transaction for an order.
func (s *Service) GetByOrder(ctx context.Context, orderID uuid.UUID) (*Transaction, error) {
	return s.repo.GetByOrder(ctx, orderID)
}

// ExpireDue marks every overdue pending/processing transaction expired. The
// emitted failure events drive the usual compensation through the
// choreography. Returns how many transactions were expired.
func (s *Service) ExpireDue(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := s.repo.ListExpired(ctx, now, limit)
	if err != nil {
		return 0, errors.Wrap(err, "list expired payments")
	}
	expired := 0
	for _, t := range due {
		if _, err := s.update(ctx, t.ID, func(t *Transaction) error { return t.Expire(now) }); err != nil {
			// A concurrent gateway callback may have finished the
			// transaction first; that is not a sweep failure.
			if fault.IsRuleViolation(err) {
				continue
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}
