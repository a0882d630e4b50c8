package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentDirection says which way money moved.
type PaymentDirection string

const (
	PaymentIn  PaymentDirection = "in"  // customer pays the mill
	PaymentOut PaymentDirection = "out" // mill pays the customer
)

// Payment is one cash or transfer settlement against a customer balance,
// optionally tied to a specific transaction.
type Payment struct {
	LocalID            uint             `gorm:"primaryKey" json:"localId"`
	CustomerLocalID    uint             `gorm:"not null;index" json:"customerLocalId"`
	TransactionLocalID *uint            `gorm:"index" json:"transactionLocalId,omitempty"`
	Direction          PaymentDirection `gorm:"type:varchar(5);not null" json:"direction"`
	Amount             decimal.Decimal  `gorm:"type:numeric(14,2);not null" json:"amount"`
	Method             string           `gorm:"type:varchar(30);default:'cash'" json:"method"`
	PaymentDate        time.Time        `gorm:"not null" json:"paymentDate"`
	Note               string           `gorm:"type:text" json:"note"`

	SyncMeta  `gorm:"embedded"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Payment) TableName() string {
	return "payments"
}

func (p *Payment) GetLocalID() uint {
	return p.LocalID
}

func (Payment) EntityKind() EntityType {
	return EntityPayment
}
