package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/shwemill/millsync/internal/models"
)

// InsufficientStockError is returned when a deduction would drive an item's
// quantity or bag count negative. The operation that caused it must not
// write anything.
type InsufficientStockError struct {
	ItemLocalID uint
	ItemName    string
	Requested   decimal.Decimal
	Available   decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %s kg, available %s kg",
		e.ItemName, e.Requested.String(), e.Available.String())
}

// WeightedAverage returns the new average price after adding quantity at
// price to an existing stock of oldQty at oldAvg. Deductions never change
// the average; callers only invoke this on stock-increasing movements.
func WeightedAverage(oldQty, oldAvg, addQty, addPrice decimal.Decimal) decimal.Decimal {
	if addQty.Sign() <= 0 {
		return oldAvg
	}
	if oldQty.Sign() <= 0 {
		return addPrice
	}
	totalValue := oldQty.Mul(oldAvg).Add(addQty.Mul(addPrice))
	totalQty := oldQty.Add(addQty)
	return totalValue.DivRound(totalQty, 4)
}

// ValidateDeduction checks that removing quantity/bags from the item leaves
// non-negative stock.
func ValidateDeduction(item *models.InventoryItem, quantity decimal.Decimal, bags int) error {
	if item.CurrentQuantity.LessThan(quantity) {
		return &InsufficientStockError{
			ItemLocalID: item.LocalID,
			ItemName:    item.Name,
			Requested:   quantity,
			Available:   item.CurrentQuantity,
		}
	}
	if bags > 0 && item.CurrentBags < bags {
		return &InsufficientStockError{
			ItemLocalID: item.LocalID,
			ItemName:    item.Name,
			Requested:   decimal.NewFromInt(int64(bags)),
			Available:   decimal.NewFromInt(int64(item.CurrentBags)),
		}
	}
	return nil
}

// ApplyMovement applies one signed movement to the item's running totals.
// Increases fold the movement price into the weighted average; decreases
// leave the average untouched. The caller validates deductions first.
func ApplyMovement(item *models.InventoryItem, mv *models.StockMovement) {
	if mv.Quantity.Sign() > 0 {
		item.AveragePricePerKg = WeightedAverage(item.CurrentQuantity, item.AveragePricePerKg, mv.Quantity, mv.PricePerKg)
	}
	item.CurrentQuantity = item.CurrentQuantity.Add(mv.Quantity)
	item.CurrentBags += mv.Bags
}

// RebuildStock recomputes an item's totals from scratch by replaying its
// movement trail in order. Used by the consistency check endpoint.
func RebuildStock(item *models.InventoryItem, movements []models.StockMovement) (quantity decimal.Decimal, bags int, avg decimal.Decimal) {
	quantity = decimal.Zero
	avg = decimal.Zero
	for i := range movements {
		mv := &movements[i]
		if mv.Quantity.Sign() > 0 {
			avg = WeightedAverage(quantity, avg, mv.Quantity, mv.PricePerKg)
		}
		quantity = quantity.Add(mv.Quantity)
		bags += mv.Bags
	}
	return quantity, bags, avg
}

// MillingIntakePrice prices produced rice at the cost of the paddy consumed:
// paddy quantity times paddy average, spread over the rice quantity.
func MillingIntakePrice(paddyQty, paddyAvg, riceQty decimal.Decimal) decimal.Decimal {
	if riceQty.Sign() <= 0 {
		return decimal.Zero
	}
	return paddyQty.Mul(paddyAvg).DivRound(riceQty, 4)
}
