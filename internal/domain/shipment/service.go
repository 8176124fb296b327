package shipment

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/oakmart/fulfillment/internal/domain/fault"
	"github.com/oakmart/fulfillment/pkg/entity"
)

// Repository defines persistence operations for shipments.
type Repository interface {
	Create(ctx context.Context, sh *Shipment) error
	Get(ctx context.Context, id uuid.UUID) (*Shipment, error)
	GetByOrder(ctx context.Context, orderID uuid.UUID) (*Shipment, error)
	Update(ctx context.Context, sh *Shipment) error
}

const saveAttempts = 3

// Service exposes shipment commands, including the replay-tolerant carrier
// webhook ingestion.
type Service struct {
	repo  Repository
	dedup *Deduper
}

// NewService creates a shipment Service backed by the given repository.
func NewService(repo Repository, dedup *Deduper) *Service {
	return &Service{repo: repo, dedup: dedup}
}

// Create opens a shipment for a confirmed order. Creating twice for the same
// order returns the existing shipment, keeping the saga handler idempotent.
func (s *Service) Create(ctx context.Context, orderID uuid.UUID, carrier string) (*Shipment, error) {
	existing, err := s.repo.GetByOrder(ctx, orderID)
	if err == nil {
		return existing, nil
	}
	if !fault.IsNotFound(err) {
		return nil, err
	}

	sh, err := New(orderID, carrier)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, sh); err != nil {
		return nil, errors.Wrap(err, "create shipment")
	}
	return sh, nil
}

func (s *Service) update(ctx context.Context, id uuid.UUID, mutate func(*Shipment) error) (*Shipment, error) {
	for attempt := 1; ; attempt++ {
		sh, err := s.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := mutate(sh); err != nil {
			return nil, err
		}
		err = s.repo.Update(ctx, sh)
		if err == nil {
			return sh, nil
		}
		if errors.Is(err, entity.ErrVersionConflict) && attempt < saveAttempts {
			continue
		}
		return nil, errors.Wrap(err, "save shipment")
	}
}

// RecordCarrierEvent ingests one carrier webhook. Replays short-circuit on
// the bloom filter when possible and are otherwise dropped by the
// aggregate's exact external-id check.
func (s *Service) RecordCarrierEvent(ctx context.Context, shipmentID uuid.UUID, ev TrackingEvent) (*Shipment, error) {
	if s.dedup != nil && s.dedup.MaybeSeen(ev.ExternalID) {
		sh, err := s.repo.Get(ctx, shipmentID)
		if err != nil {
			return nil, err
		}
		if sh.seen(ev.ExternalID) {
			return sh, nil
		}
		// Bloom false positive; fall through to the normal path.
	}

	sh, err := s.update(ctx, shipmentID, func(sh *Shipment) error {
		_, err := sh.ApplyCarrierEvent(ev)
		return err
	})
	if err != nil {
		return nil, err
	}
	if s.dedup != nil {
		s.dedup.Observe(ev.ExternalID)
	}
	return sh, nil
}

// SetTrackingNumber records the carrier-assigned tracking number.
func (s *Service) SetTrackingNumber(ctx context.Context, shipmentID uuid.UUID, trackingNumber string) (*Shipment, error) {
	return s.update(ctx, shipmentID, func(sh *Shipment) error {
		sh.SetTrackingNumber(trackingNumber)
		return nil
	})
}

// Cancel cancels a shipment that has not left the warehouse.
func (s *Service) Cancel(ctx context.Context, shipmentID uuid.UUID, reason string) (*Shipment, error) {
	return s.update(ctx, shipmentID, func(sh *Shipment) error { return sh.Cancel(reason) })
}

// GetByOrder returns the shipment for an order.
func (s *Service) GetByOrder(ctx context.Context, orderID uuid.UUID) (*Shipment, error) {
	return s.repo.GetByOrder(ctx, orderID)
}
