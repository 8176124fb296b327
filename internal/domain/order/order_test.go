package order

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakmart/fulfillment/internal/domain/fault"
	"github.com/oakmart/fulfillment/internal/domain/money"
)

// --- Helpers ---

func vnd(amount int64) money.Money {
	return money.New(decimal.NewFromInt(amount), "VND")
}

func testAddress() money.Address {
	return money.Address{
		Line1:      "12 Nguyen Hue",
		City:       "Ho Chi Minh City",
		PostalCode: "700000",
		Country:    "VN",
	}
}

func testItem(variantID string, unitPrice, qty int64) Item {
	return Item{
		VariantID:   variantID,
		ProductID:   "prod-" + variantID,
		WarehouseID: "wh-1",
		SKU:         "SKU-" + variantID,
		Name:        "Item " + variantID,
		UnitPrice:   vnd(unitPrice),
		Quantity:    qty,
	}
}

func newDraft(t *testing.T) *Order {
	t.Helper()
	o, err := New("cust-1", "VND", testAddress(), PaymentOnline)
	require.NoError(t, err)
	return o
}

// placedOrder returns an order moved past Draft with one line.
func placedOrder(t *testing.T) *Order {
	t.Helper()
	o := newDraft(t)
	require.NoError(t, o.AddItem(testItem("v1", 100000, 2)))
	require.NoError(t, o.Place("customer"))
	return o
}

// --- Construction ---

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name       string
		customerID string
		currency   string
		shipping   money.Address
		method     PaymentMethod
	}{
		{"missing customer", "", "VND", testAddress(), PaymentOnline},
		{"missing currency", "cust-1", "", testAddress(), PaymentOnline},
		{"missing address", "cust-1", "VND", money.Address{}, PaymentOnline},
		{"unknown payment method", "cust-1", "VND", testAddress(), PaymentMethod("barter")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.customerID, tt.currency, tt.shipping, tt.method)
			assert.True(t, fault.IsValidation(err), "want validation error, got %v", err)
		})
	}
}

func TestNew_StartsAsDraft(t *testing.T) {
	o := newDraft(t)

	assert.Equal(t, StatusDraft, o.Status)
	assert.Equal(t, PaymentUnpaid, o.PaymentStatus)
	assert.Regexp(t, `^ORD-\d{8}-[0-9a-f]{8}$`, o.OrderNumber)
	assert.True(t, o.GrandTotal.IsZero())
	assert.Empty(t, o.History)
}

// --- Items and totals ---

func TestAddItem_MergesSameVariant(t *testing.T) {
	o := newDraft(t)

	require.NoError(t, o.AddItem(testItem("v1", 100000, 2)))
	require.NoError(t, o.AddItem(testItem("v1", 100000, 3)))

	require.Len(t, o.Items, 1)
	assert.Equal(t, int64(5), o.Items[0].Quantity)
	assert.True(t, o.SubTotal.Equal(vnd(500000)))
}

func TestAddItem_Validation(t *testing.T) {
	o := newDraft(t)

	assert.True(t, fault.IsValidation(o.AddItem(Item{Quantity: 1})))
	assert.True(t, fault.IsValidation(o.AddItem(testItem("v1", 100000, 0))))

	usd := testItem("v2", 10, 1)
	usd.UnitPrice = money.New(decimal.NewFromInt(10), "USD")
	assert.True(t, fault.IsValidation(o.AddItem(usd)))
}

func TestTotals_FeeAndCoupon(t *testing.T) {
	o := newDraft(t)
	require.NoError(t, o.AddItem(testItem("v1", 100000, 2)))
	require.NoError(t, o.AddItem(testItem("v2", 150000, 1)))
	require.NoError(t, o.SetShippingFee(vnd(15000)))
	require.NoError(t, o.ApplyCoupon("SAVE20K", vnd(20000), nil))

	assert.True(t, o.SubTotal.Equal(vnd(350000)), "sub total %s", o.SubTotal)
	assert.True(t, o.TotalDiscount.Equal(vnd(20000)))
	assert.True(t, o.GrandTotal.Equal(vnd(345000)), "grand total %s", o.GrandTotal)
}

func TestTotals_FlooredAtZero(t *testing.T) {
	o := newDraft(t)
	require.NoError(t, o.AddItem(testItem("v1", 10000, 1)))
	require.NoError(t, o.ApplyCoupon("HUGE", vnd(999000), nil))

	assert.True(t, o.GrandTotal.IsZero())
	assert.True(t, o.TotalDiscount.Equal(vnd(999000)))
}

func TestRemoveItem_RecomputesTotals(t *testing.T) {
	o := newDraft(t)
	require.NoError(t, o.AddItem(testItem("v1", 100000, 1)))
	require.NoError(t, o.AddItem(testItem("v2", 50000, 1)))

	require.NoError(t, o.RemoveItem("v1"))
	assert.True(t, o.SubTotal.Equal(vnd(50000)))

	assert.True(t, fault.IsNotFound(o.RemoveItem("v1")))
}

func TestApplyCoupon_SecondCouponRejected(t *testing.T) {
	o := newDraft(t)
	require.NoError(t, o.AddItem(testItem("v1", 100000, 1)))
	require.NoError(t, o.ApplyCoupon("FIRST", vnd(5000), nil))

	err := o.ApplyCoupon("SECOND", vnd(5000), nil)
	assert.True(t, fault.IsRuleViolation(err))
	assert.Contains(t, err.Error(), "a coupon is already applied")

	// A promotion on top of a coupon is fine.
	require.NoError(t, o.AddPromotionDiscount("SUMMER", vnd(3000), nil))
	assert.True(t, o.TotalDiscount.Equal(vnd(8000)))
}

func TestRemoveCoupon(t *testing.T) {
	o := newDraft(t)
	require.NoError(t, o.AddItem(testItem("v1", 100000, 1)))
	require.NoError(t, o.ApplyCoupon("SAVE", vnd(5000), nil))

	require.NoError(t, o.RemoveCoupon())
	assert.True(t, o.TotalDiscount.IsZero())
	assert.True(t, fault.IsNotFound(o.RemoveCoupon()))
}

func TestDiscountAllocation_UnknownVariantRejected(t *testing.T) {
	o := newDraft(t)
	require.NoError(t, o.AddItem(testItem("v1", 100000, 1)))

	err := o.ApplyCoupon("SAVE", vnd(5000), []LineAllocation{{VariantID: "missing", Amount: vnd(5000)}})
	assert.True(t, fault.IsValidation(err))
}

// --- Lifecycle ---

func TestPlace_RequiresItems(t *testing.T) {
	o := newDraft(t)

	err := o.Place("customer")
	assert.True(t, fault.IsRuleViolation(err))
	assert.Contains(t, err.Error(), "without items")
}

func TestPlace_EmitsPlacedEventWithLines(t *testing.T) {
	o := newDraft(t)
	require.NoError(t, o.AddItem(testItem("v1", 100000, 2)))
	require.NoError(t, o.AddItem(testItem("v2", 150000, 1)))

	require.NoError(t, o.Place("customer"))
	assert.Equal(t, StatusPending, o.Status)

	pending := o.PendingEvents()
	require.Len(t, pending, 1)
	ev, ok := pending[0].(PlacedEvent)
	require.True(t, ok)
	assert.Equal(t, o.ID.String(), ev.OrderID)
	assert.Equal(t, o.ID.String(), ev.Key())
	require.Len(t, ev.Lines, 2)
	assert.Equal(t, Line{VariantID: "v1", WarehouseID: "wh-1", Quantity: 2}, ev.Lines[0])
}

func TestShipFromDraftRejected(t *testing.T) {
	o := newDraft(t)

	err := o.Ship()
	assert.True(t, fault.IsRuleViolation(err))
	assert.Contains(t, err.Error(), "ship order requires status confirmed, current status is draft")
}

func TestMutationAfterPlaceRejected(t *testing.T) {
	o := placedOrder(t)

	assert.True(t, fault.IsRuleViolation(o.AddItem(testItem("v9", 1000, 1))))
	assert.True(t, fault.IsRuleViolation(o.SetShippingFee(vnd(1000))))
	assert.True(t, fault.IsRuleViolation(o.ApplyCoupon("LATE", vnd(1000), nil)))
}

func TestFailReservation_OnceThenRejected(t *testing.T) {
	o := placedOrder(t)
	historyBefore := len(o.History)

	require.NoError(t, o.FailReservation("insufficient stock"))
	assert.Equal(t, StatusCancelled, o.Status)
	assert.Equal(t, "insufficient stock", o.CancellationReason)
	assert.Len(t, o.History, historyBefore+1)

	// Second delivery of the same failure hits the status guard and appends
	// nothing.
	err := o.FailReservation("insufficient stock")
	assert.True(t, fault.IsRuleViolation(err))
	assert.Len(t, o.History, historyBefore+1)
}

func TestFullLifecycle(t *testing.T) {
	o := placedOrder(t)

	require.NoError(t, o.ConfirmReservation())
	assert.Equal(t, StatusReserved, o.Status)

	require.NoError(t, o.MarkPaid("txn-1"))
	assert.Equal(t, StatusConfirmed, o.Status)
	assert.Equal(t, PaymentPaid, o.PaymentStatus)
	assert.Equal(t, "txn-1", o.PaymentRef)
	require.NotNil(t, o.PaidAt)

	require.NoError(t, o.Ship())
	require.NoError(t, o.Deliver())
	assert.Equal(t, StatusDelivered, o.Status)

	// Every transition appended exactly one history row.
	require.Len(t, o.History, 5)
	assert.Equal(t, StatusDraft, o.History[0].From)
	assert.Equal(t, StatusDelivered, o.History[4].To)
}

func TestCancel_AllowedFromAnyNonTerminal(t *testing.T) {
	o := placedOrder(t)
	require.NoError(t, o.ConfirmReservation())

	require.NoError(t, o.Cancel("customer changed mind", "customer"))
	assert.Equal(t, StatusCancelled, o.Status)

	ev, ok := o.PendingEvents()[len(o.PendingEvents())-1].(CancelledEvent)
	require.True(t, ok)
	assert.Len(t, ev.Lines, 1)
	assert.Equal(t, "customer changed mind", ev.Reason)
}

func TestCancel_TerminalRejected(t *testing.T) {
	o := placedOrder(t)
	require.NoError(t, o.Cancel("oops", "customer"))

	err := o.Cancel("again", "customer")
	assert.True(t, fault.IsRuleViolation(err))
}

func TestRefund_RequiresPaid(t *testing.T) {
	o := placedOrder(t)
	require.NoError(t, o.ConfirmReservation())

	err := o.Refund("damaged goods")
	assert.True(t, fault.IsRuleViolation(err))

	require.NoError(t, o.MarkPaid("txn-1"))
	require.NoError(t, o.Refund("damaged goods"))
	assert.Equal(t, StatusRefunded, o.Status)
	assert.Equal(t, PaymentRefundedBack, o.PaymentStatus)
}

func TestTouchBumpsVersion(t *testing.T) {
	o := newDraft(t)
	v := o.Version

	require.NoError(t, o.AddItem(testItem("v1", 100000, 1)))
	assert.Equal(t, v+1, o.Version)
}

func TestDrainEventsClearsBuffer(t *testing.T) {
	o := placedOrder(t)

	drained := o.DrainEvents()
	require.Len(t, drained, 1)
	assert.Empty(t, o.PendingEvents())
	assert.Empty(t, o.DrainEvents())
}
