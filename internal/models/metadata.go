package models

import "time"

// SyncState is a key-value row for engine bookkeeping, such as the pull
// watermark and the device instance id.
type SyncState struct {
	Key       string    `gorm:"type:varchar(100);primaryKey" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (SyncState) TableName() string {
	return "sync_state"
}

// StateLastPulledAt keys the RFC3339 watermark of the last completed pull.
const StateLastPulledAt = "last_pulled_at"
