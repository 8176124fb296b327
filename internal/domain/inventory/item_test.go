package inventory

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakmart/fulfillment/internal/domain/fault"
)

func newTestItem(t *testing.T, onHand int64) *Item {
	t.Helper()
	it, err := NewItem("wh-1", "prod-1", "v1", "SKU-1", 0)
	require.NoError(t, err)
	require.NoError(t, it.Receive(onHand, "initial stock"))
	it.DrainMovements()
	it.DrainEvents()
	return it
}

func TestNewItem_Validation(t *testing.T) {
	_, err := NewItem("", "p", "v", "sku", 0)
	assert.True(t, fault.IsValidation(err))

	_, err = NewItem("wh", "p", "", "sku", 0)
	assert.True(t, fault.IsValidation(err))

	_, err = NewItem("wh", "p", "v", "sku", -1)
	assert.True(t, fault.IsValidation(err))
}

func TestReserve_ConsumesAvailability(t *testing.T) {
	it := newTestItem(t, 5)
	orderA := uuid.New()
	orderB := uuid.New()

	require.NoError(t, it.Reserve(orderA, 5))
	assert.Equal(t, int64(5), it.OnHand, "reserve must not touch on-hand")
	assert.Equal(t, int64(0), it.Available())

	err := it.Reserve(orderB, 1)
	require.Error(t, err)
	assert.True(t, fault.IsRuleViolation(err))
	assert.Contains(t, err.Error(), "insufficient stock for sku SKU-1: requested 1, available 0")
}

func TestReserve_IdempotentUpsert(t *testing.T) {
	it := newTestItem(t, 5)
	orderA := uuid.New()

	require.NoError(t, it.Reserve(orderA, 3))
	// Redelivery with the same quantity replaces the hold, it does not stack.
	require.NoError(t, it.Reserve(orderA, 3))
	require.Len(t, it.Reservations, 1)
	assert.Equal(t, int64(2), it.Available())

	// Raising the hold is checked net of the existing one: 5 <= 2 + 3.
	require.NoError(t, it.Reserve(orderA, 5))
	assert.Equal(t, int64(0), it.Available())

	// Lowering the hold frees the difference.
	require.NoError(t, it.Reserve(orderA, 1))
	assert.Equal(t, int64(4), it.Available())
}

func TestReserve_Validation(t *testing.T) {
	it := newTestItem(t, 5)

	assert.True(t, fault.IsValidation(it.Reserve(uuid.New(), 0)))
	assert.True(t, fault.IsValidation(it.Reserve(uuid.New(), -2)))
}

func TestRelease_NoopWhenAbsent(t *testing.T) {
	it := newTestItem(t, 5)

	require.NoError(t, it.Release(uuid.New()))
	assert.Empty(t, it.PendingMovements(), "a no-op release must not write a ledger row")
	assert.Empty(t, it.PendingEvents())
}

func TestRelease_RestoresAvailability(t *testing.T) {
	it := newTestItem(t, 5)
	orderA := uuid.New()
	require.NoError(t, it.Reserve(orderA, 4))

	require.NoError(t, it.Release(orderA))
	assert.Equal(t, int64(5), it.Available())
	assert.Empty(t, it.Reservations)

	// Releasing again stays a no-op.
	require.NoError(t, it.Release(orderA))
}

func TestConfirm_WithoutReservationRejected(t *testing.T) {
	it := newTestItem(t, 5)
	orderA := uuid.New()

	err := it.Confirm(orderA)
	require.Error(t, err)
	assert.True(t, fault.IsRuleViolation(err))
	assert.Contains(t, err.Error(), "no reservation found for order "+orderA.String())
}

func TestConfirm_DeductsOnHand(t *testing.T) {
	it := newTestItem(t, 5)
	orderA := uuid.New()
	require.NoError(t, it.Reserve(orderA, 3))

	require.NoError(t, it.Confirm(orderA))
	assert.Equal(t, int64(2), it.OnHand)
	assert.Equal(t, int64(2), it.Available())
	assert.Empty(t, it.Reservations)

	// The hold is gone, so a second confirm is a protocol violation.
	assert.True(t, fault.IsRuleViolation(it.Confirm(orderA)))
}

func TestLowStockEventEmitted(t *testing.T) {
	it, err := NewItem("wh-1", "prod-1", "v1", "SKU-1", 2)
	require.NoError(t, err)
	require.NoError(t, it.Receive(5, "initial"))
	it.DrainEvents()

	require.NoError(t, it.Reserve(uuid.New(), 3))

	events := it.PendingEvents()
	require.Len(t, events, 2)
	low, ok := events[1].(LowStockEvent)
	require.True(t, ok)
	assert.Equal(t, int64(2), low.Available)
	assert.Equal(t, int64(2), low.Threshold)
}

func TestMovementLedger(t *testing.T) {
	it := newTestItem(t, 10)
	orderA := uuid.New()

	require.NoError(t, it.Reserve(orderA, 4))
	require.NoError(t, it.Confirm(orderA))
	require.NoError(t, it.Adjust(-1, "cycle count"))

	moves := it.PendingMovements()
	require.Len(t, moves, 3)

	assert.Equal(t, MovementReserve, moves[0].Kind)
	assert.Equal(t, int64(10), moves[0].QuantityBefore)
	assert.Equal(t, int64(4), moves[0].Delta)
	assert.Equal(t, orderA.String(), moves[0].Reference)

	assert.Equal(t, MovementConfirm, moves[1].Kind)
	assert.Equal(t, int64(10), moves[1].QuantityBefore)
	assert.Equal(t, int64(-4), moves[1].Delta)

	assert.Equal(t, MovementAdjust, moves[2].Kind)
	assert.Equal(t, int64(6), moves[2].QuantityBefore)
	assert.Equal(t, int64(-1), moves[2].Delta)

	// Drain hands the rows to the repository exactly once.
	assert.Len(t, it.DrainMovements(), 3)
	assert.Empty(t, it.DrainMovements())
}

func TestShipStock_GuardsAvailability(t *testing.T) {
	it := newTestItem(t, 5)
	require.NoError(t, it.Reserve(uuid.New(), 4))

	err := it.ShipStock(2, "manual pull")
	require.Error(t, err)
	assert.True(t, fault.IsRuleViolation(err))

	require.NoError(t, it.ShipStock(1, "manual pull"))
	assert.Equal(t, int64(4), it.OnHand)
}

func TestAdjust_GuardsAvailability(t *testing.T) {
	it := newTestItem(t, 5)
	require.NoError(t, it.Reserve(uuid.New(), 4))

	assert.True(t, fault.IsValidation(it.Adjust(0, "noop")))
	assert.True(t, fault.IsRuleViolation(it.Adjust(-2, "write-off")))

	require.NoError(t, it.Adjust(-1, "write-off"))
	assert.Equal(t, int64(4), it.OnHand)
	assert.Equal(t, int64(0), it.Available())
}
