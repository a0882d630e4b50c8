package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ItemCategory classifies an inventory item.
type ItemCategory string

const (
	CategoryPaddy     ItemCategory = "paddy"
	CategoryRice      ItemCategory = "rice"
	CategoryByproduct ItemCategory = "byproduct" // bran, husk
)

// InventoryItem is one stocked commodity. CurrentQuantity/CurrentBags are
// running totals maintained by the domain layer; they must always equal the
// algebraic sum of the item's StockMovement rows.
type InventoryItem struct {
	LocalID  uint         `gorm:"primaryKey" json:"localId"`
	Name     string       `gorm:"type:varchar(255);not null" json:"name"`
	Category ItemCategory `gorm:"type:varchar(20);not null;index" json:"category"`

	CurrentQuantity decimal.Decimal `gorm:"type:numeric(14,3);default:0" json:"currentQuantity"` // kg
	CurrentBags     int             `gorm:"default:0" json:"currentBags"`

	// AveragePricePerKg is a running weighted average, updated only on
	// stock-increasing movements.
	AveragePricePerKg decimal.Decimal `gorm:"type:numeric(14,4);default:0" json:"averagePricePerKg"`

	SyncMeta  `gorm:"embedded"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (InventoryItem) TableName() string {
	return "inventory_items"
}

func (i *InventoryItem) GetLocalID() uint {
	return i.LocalID
}

func (InventoryItem) EntityKind() EntityType {
	return EntityInventory
}

// MovementKind identifies why a stock delta was applied.
type MovementKind string

const (
	MovementBuy           MovementKind = "buy"
	MovementSell          MovementKind = "sell"
	MovementCancelBuy     MovementKind = "cancel_buy"
	MovementCancelSell    MovementKind = "cancel_sell"
	MovementMillingDeduct MovementKind = "milling_deduct"
	MovementMillingAdd    MovementKind = "milling_add"
	MovementAdjustment    MovementKind = "adjustment"
)

// StockMovement is one signed quantity/bag delta applied to an item, tied to
// the transaction or milling record that caused it. Movements are the local
// audit trail the running totals can be rebuilt from; they are never edited
// after creation.
type StockMovement struct {
	LocalID            uint         `gorm:"primaryKey" json:"localId"`
	ItemLocalID        uint         `gorm:"not null;index" json:"itemLocalId"`
	TransactionLocalID *uint        `gorm:"index" json:"transactionLocalId,omitempty"`
	MillingLocalID     *uint        `gorm:"index" json:"millingLocalId,omitempty"`
	Kind               MovementKind `gorm:"type:varchar(20);not null" json:"kind"`

	// Quantity and Bags are signed deltas: positive adds stock.
	Quantity decimal.Decimal `gorm:"type:numeric(14,3);not null" json:"quantity"`
	Bags     int             `json:"bags"`

	// PricePerKg is set on stock-increasing movements and feeds the
	// weighted-average cost.
	PricePerKg decimal.Decimal `gorm:"type:numeric(14,4);default:0" json:"pricePerKg"`

	Note      string    `gorm:"type:text" json:"note"`
	CreatedAt time.Time `json:"createdAt"`
}

func (StockMovement) TableName() string {
	return "stock_movements"
}
