package models

import "time"

// LocalRecord is implemented by every ledger entity that carries
// device-local identity plus sync metadata.
type LocalRecord interface {
	GetLocalID() uint
	GetServerID() *int64
	EntityKind() EntityType
}

// SyncMeta is embedded in every ledger entity. The sync engine is the only
// writer of these fields; domain operations only ever reset SyncStatus back
// to pending when they touch the entity.
type SyncMeta struct {
	ServerID     *int64     `gorm:"index" json:"serverId"`
	SyncStatus   string     `gorm:"type:varchar(20);default:'pending'" json:"syncStatus"`
	IsSynced     bool       `gorm:"default:false;index" json:"isSynced"`
	IsDeleted    bool       `gorm:"default:false;index" json:"isDeleted"`
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
}

// GetServerID implements LocalRecord.
func (m *SyncMeta) GetServerID() *int64 {
	return m.ServerID
}

// MarkSynced records a confirmed server identity on the entity.
func (m *SyncMeta) MarkSynced(serverID int64, now time.Time) {
	m.ServerID = &serverID
	m.IsSynced = true
	m.SyncStatus = string(MutationSynced)
	m.LastSyncedAt = &now
}

// MarkDirty flags the entity as locally modified and awaiting sync.
func (m *SyncMeta) MarkDirty() {
	m.IsSynced = false
	m.SyncStatus = string(MutationPending)
}
