package shipment

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakmart/fulfillment/internal/domain/fault"
)

func carrierEvent(id string, status Status) TrackingEvent {
	return TrackingEvent{
		ExternalID: id,
		Status:     status,
		OccurredAt: time.Now().UTC(),
	}
}

func newTestShipment(t *testing.T) *Shipment {
	t.Helper()
	sh, err := New(uuid.New(), "ghn")
	require.NoError(t, err)
	return sh
}

func TestNew_Validation(t *testing.T) {
	_, err := New(uuid.Nil, "ghn")
	assert.True(t, fault.IsValidation(err))
}

func TestApplyCarrierEvent_AdvancesStatus(t *testing.T) {
	sh := newTestShipment(t)

	applied, err := sh.ApplyCarrierEvent(carrierEvent("ev-1", StatusAwaitingPickup))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, StatusAwaitingPickup, sh.Status)

	applied, err = sh.ApplyCarrierEvent(carrierEvent("ev-2", StatusPickedUp))
	require.NoError(t, err)
	assert.True(t, applied)
	require.Len(t, sh.Tracking, 2)

	events := sh.PendingEvents()
	require.Len(t, events, 2)
	ev, ok := events[1].(StatusChangedEvent)
	require.True(t, ok)
	assert.Equal(t, string(StatusPickedUp), ev.Status)
	assert.Equal(t, sh.OrderID.String(), ev.Key())
}

func TestApplyCarrierEvent_ReplayDropped(t *testing.T) {
	sh := newTestShipment(t)

	applied, err := sh.ApplyCarrierEvent(carrierEvent("ev-1", StatusAwaitingPickup))
	require.NoError(t, err)
	require.True(t, applied)
	sh.DrainEvents()

	// Same external id again: dropped without error, nothing appended.
	applied, err = sh.ApplyCarrierEvent(carrierEvent("ev-1", StatusAwaitingPickup))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Len(t, sh.Tracking, 1)
	assert.Empty(t, sh.PendingEvents())
}

func TestApplyCarrierEvent_InvalidTransitionRejected(t *testing.T) {
	sh := newTestShipment(t)

	_, err := sh.ApplyCarrierEvent(carrierEvent("ev-1", StatusDelivered))
	require.Error(t, err)
	assert.True(t, fault.IsRuleViolation(err))
	assert.Empty(t, sh.Tracking)
}

func TestApplyCarrierEvent_RequiresExternalID(t *testing.T) {
	sh := newTestShipment(t)

	_, err := sh.ApplyCarrierEvent(TrackingEvent{Status: StatusAwaitingPickup})
	assert.True(t, fault.IsValidation(err))
}

func TestCancel(t *testing.T) {
	sh := newTestShipment(t)

	require.NoError(t, sh.Cancel("order cancelled"))
	assert.Equal(t, StatusCancelled, sh.Status)
	require.Len(t, sh.Tracking, 1)
	assert.Equal(t, "order cancelled", sh.Tracking[0].Description)
}

func TestCancel_RejectedOnceMoving(t *testing.T) {
	sh := newTestShipment(t)
	_, err := sh.ApplyCarrierEvent(carrierEvent("ev-1", StatusAwaitingPickup))
	require.NoError(t, err)
	_, err = sh.ApplyCarrierEvent(carrierEvent("ev-2", StatusPickedUp))
	require.NoError(t, err)

	err = sh.Cancel("too late")
	require.Error(t, err)
	assert.True(t, fault.IsRuleViolation(err))
}

func TestDeliveryFailureRecovery(t *testing.T) {
	sh := newTestShipment(t)
	for i, st := range []Status{StatusAwaitingPickup, StatusPickedUp, StatusInTransit, StatusOutForDelivery, StatusDeliveryFailed} {
		_, err := sh.ApplyCarrierEvent(carrierEvent(uuid.NewString(), st))
		require.NoError(t, err, "step %d", i)
	}

	// A failed delivery may go back out.
	_, err := sh.ApplyCarrierEvent(carrierEvent("retry-1", StatusOutForDelivery))
	require.NoError(t, err)
	_, err = sh.ApplyCarrierEvent(carrierEvent("retry-2", StatusDelivered))
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, sh.Status)
}

func TestDeduper(t *testing.T) {
	d := NewDeduper(1000, 0.001)

	assert.False(t, d.MaybeSeen("ev-1"))
	d.Observe("ev-1")
	assert.True(t, d.MaybeSeen("ev-1"))
}
