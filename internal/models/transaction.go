package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind distinguishes purchases from the mill's sales.
type TransactionKind string

const (
	TransactionBuy  TransactionKind = "buy"
	TransactionSell TransactionKind = "sell"
)

// TransactionStatus is the lifecycle state of a transaction.
type TransactionStatus string

const (
	TransactionActive    TransactionStatus = "active"
	TransactionCancelled TransactionStatus = "cancelled"
)

// Transaction is one buy or sell with a customer, with line items. Its stock
// effect lives in StockMovement rows created in the same local unit of work.
type Transaction struct {
	LocalID         uint              `gorm:"primaryKey" json:"localId"`
	Kind            TransactionKind   `gorm:"type:varchar(10);not null;index" json:"kind"`
	Status          TransactionStatus `gorm:"type:varchar(15);default:'active';index" json:"status"`
	CustomerLocalID uint              `gorm:"not null;index" json:"customerLocalId"`
	TransactionDate time.Time         `gorm:"not null" json:"transactionDate"`

	TotalAmount decimal.Decimal `gorm:"type:numeric(14,2);default:0" json:"totalAmount"`
	PaidAmount  decimal.Decimal `gorm:"type:numeric(14,2);default:0" json:"paidAmount"`
	Note        string          `gorm:"type:text" json:"note"`

	Items []TransactionItem `gorm:"foreignKey:TransactionLocalID" json:"items"`

	SyncMeta  `gorm:"embedded"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Transaction) TableName() string {
	return "transactions"
}

func (t *Transaction) GetLocalID() uint {
	return t.LocalID
}

func (Transaction) EntityKind() EntityType {
	return EntityTransaction
}

// TransactionItem is one line of a transaction. It syncs as part of its
// parent transaction's payload, so it carries no sync metadata of its own.
type TransactionItem struct {
	LocalID            uint `gorm:"primaryKey" json:"localId"`
	TransactionLocalID uint `gorm:"not null;index" json:"transactionLocalId"`
	ItemLocalID        uint `gorm:"not null;index" json:"itemLocalId"`

	Quantity   decimal.Decimal `gorm:"type:numeric(14,3);not null" json:"quantity"` // kg
	Bags       int             `json:"bags"`
	PricePerKg decimal.Decimal `gorm:"type:numeric(14,4);not null" json:"pricePerKg"`
	Amount     decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"amount"`
}

func (TransactionItem) TableName() string {
	return "transaction_items"
}
