package inventory

// Event kind names as they appear on the wire.
const (
	KindReserved = "inventory.reserved"
	KindReleased = "inventory.released"
	KindLowStock = "inventory.low_stock"
)

// ReservedEvent is emitted after a successful Reserve, carrying the
// availability that resulted from it.
type ReservedEvent struct {
	ItemID             string `json:"item_id"`
	WarehouseID        string `json:"warehouse_id"`
	ProductID          string `json:"product_id"`
	VariantID          string `json:"variant_id"`
	OrderID            string `json:"order_id"`
	Quantity           int64  `json:"quantity"`
	RemainingAvailable int64  `json:"remaining_available"`
}

func (ReservedEvent) Kind() string  { return KindReserved }
func (e ReservedEvent) Key() string { return e.OrderID }

// ReleasedEvent is emitted when a hold is removed.
type ReleasedEvent struct {
	ItemID             string `json:"item_id"`
	WarehouseID        string `json:"warehouse_id"`
	VariantID          string `json:"variant_id"`
	OrderID            string `json:"order_id"`
	Quantity           int64  `json:"quantity"`
	RemainingAvailable int64  `json:"remaining_available"`
}

func (ReleasedEvent) Kind() string  { return KindReleased }
func (e ReleasedEvent) Key() string { return e.OrderID }

// LowStockEvent is informational, emitted when a reservation leaves
// availability at or under the item's threshold.
type LowStockEvent struct {
	ItemID    string `json:"item_id"`
	SKU       string `json:"sku"`
	Available int64  `json:"available"`
	Threshold int64  `json:"threshold"`
}

func (LowStockEvent) Kind() string  { return KindLowStock }
func (e LowStockEvent) Key() string { return e.ItemID }
