package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MillingRecord is one paddy-to-rice conversion run. It is immutable once
// created; a wrong run is corrected with a compensating adjustment, never an
// edit, so the stock movement trail stays append-only.
type MillingRecord struct {
	LocalID          uint      `gorm:"primaryKey" json:"localId"`
	PaddyItemLocalID uint      `gorm:"not null;index" json:"paddyItemLocalId"`
	RiceItemLocalID  uint      `gorm:"not null;index" json:"riceItemLocalId"`
	MillingDate      time.Time `gorm:"not null" json:"millingDate"`

	PaddyQuantity   decimal.Decimal `gorm:"type:numeric(14,3);not null" json:"paddyQuantity"` // kg consumed
	PaddyBags       int             `json:"paddyBags"`
	RiceQuantity    decimal.Decimal `gorm:"type:numeric(14,3);not null" json:"riceQuantity"` // kg produced
	RiceBags        int             `json:"riceBags"`
	WastageQuantity decimal.Decimal `gorm:"type:numeric(14,3);default:0" json:"wastageQuantity"`

	// YieldPercent = rice / paddy * 100, stored for reporting.
	YieldPercent decimal.Decimal `gorm:"type:numeric(6,2);default:0" json:"yieldPercent"`

	Note string `gorm:"type:text" json:"note"`

	SyncMeta  `gorm:"embedded"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (MillingRecord) TableName() string {
	return "milling_records"
}

func (m *MillingRecord) GetLocalID() uint {
	return m.LocalID
}

func (MillingRecord) EntityKind() EntityType {
	return EntityMilling
}
