package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Customer is a mill customer (farmer, trader or shop). Phone is the
// business-level unique key; the remote rejects duplicates.
type Customer struct {
	LocalID uint   `gorm:"primaryKey" json:"localId"`
	Name    string `gorm:"type:varchar(255);not null" json:"name"`
	Phone   string `gorm:"type:varchar(30);uniqueIndex;not null" json:"phone"`
	Address string `gorm:"type:text" json:"address"`

	// Balance is the customer's outstanding amount: positive means the
	// customer owes the mill.
	Balance decimal.Decimal `gorm:"type:numeric(14,2);default:0" json:"balance"`

	SyncMeta  `gorm:"embedded"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Customer) TableName() string {
	return "customers"
}

func (c *Customer) GetLocalID() uint {
	return c.LocalID
}

func (Customer) EntityKind() EntityType {
	return EntityCustomer
}
