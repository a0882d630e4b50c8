package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EntityType identifies which ledger table a mutation targets.
type EntityType string

const (
	EntityCustomer    EntityType = "customer"
	EntityInventory   EntityType = "inventory"
	EntityTransaction EntityType = "transaction"
	EntityPayment     EntityType = "payment"
	EntityMilling     EntityType = "milling"
	EntityUser        EntityType = "user"
)

// MutationOp is the kind of change a MutationRecord describes.
type MutationOp string

const (
	OpCreate MutationOp = "create"
	OpUpdate MutationOp = "update"
	OpDelete MutationOp = "delete"
)

// MutationStatus is the state of a queued mutation.
//
// Pending -> Syncing -> {Synced | Pending (retry) | Failed | Conflict}
//
// Synced, Failed and Conflict are terminal: nothing moves a record out of
// them except an explicit ResetForRetry by the user.
type MutationStatus string

const (
	MutationPending  MutationStatus = "pending"
	MutationSyncing  MutationStatus = "syncing"
	MutationSynced   MutationStatus = "synced"
	MutationFailed   MutationStatus = "failed"
	MutationConflict MutationStatus = "conflict"
)

// SyncPriority influences drain order only, never correctness.
type SyncPriority int

const (
	PriorityLow      SyncPriority = 1
	PriorityNormal   SyncPriority = 5
	PriorityHigh     SyncPriority = 8
	PriorityCritical SyncPriority = 10
)

// DefaultMaxRetries is the transient-failure budget per mutation.
const DefaultMaxRetries = 3

// MutationRecord is one durable pending change against one ledger entity.
// The payload is a by-value snapshot captured at enqueue time, never a live
// reference to the entity row.
type MutationRecord struct {
	ID             string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	EntityType     EntityType     `gorm:"type:varchar(30);not null;index:idx_entity_mutations" json:"entityType"`
	EntityID       uint           `gorm:"not null;index:idx_entity_mutations" json:"entityId"`
	EntityServerID *int64         `json:"entityServerId,omitempty"`
	Operation      MutationOp     `gorm:"type:varchar(10);not null" json:"operation"`
	Status         MutationStatus `gorm:"type:varchar(20);default:'pending';index:idx_eligible" json:"status"`
	Priority       SyncPriority   `gorm:"default:5;index:idx_eligible" json:"priority"`
	Payload        datatypes.JSON `json:"payload"`
	RetryCount     int            `gorm:"default:0" json:"retryCount"`
	MaxRetries     int            `gorm:"default:3" json:"maxRetries"`
	LastAttemptAt  *time.Time     `json:"lastAttemptAt,omitempty"`
	NextRetryAt    *time.Time     `gorm:"index:idx_eligible" json:"nextRetryAt,omitempty"`
	ErrorMessage   *string        `gorm:"type:text" json:"errorMessage,omitempty"`
	CreatedAt      time.Time      `gorm:"index" json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// TableName specifies the table name
func (MutationRecord) TableName() string {
	return "sync_queue"
}

// BeforeCreate hook
func (m *MutationRecord) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.MaxRetries == 0 {
		m.MaxRetries = DefaultMaxRetries
	}
	return nil
}

// NewMutationRecord builds a pending mutation with a fresh id.
func NewMutationRecord(entityType EntityType, entityID uint, op MutationOp, payload []byte, priority SyncPriority) *MutationRecord {
	return &MutationRecord{
		ID:         uuid.New().String(),
		EntityType: entityType,
		EntityID:   entityID,
		Operation:  op,
		Status:     MutationPending,
		Priority:   priority,
		Payload:    datatypes.JSON(payload),
		MaxRetries: DefaultMaxRetries,
	}
}

// RetryDelay returns the backoff before the given retry attempt:
// clamp(2^retryCount, 1, 60) minutes.
func RetryDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	minutes := int64(1)
	if retryCount < 6 {
		minutes = int64(1) << uint(retryCount)
	} else {
		minutes = 60
	}
	if minutes > 60 {
		minutes = 60
	}
	return time.Duration(minutes) * time.Minute
}

// IsTerminal reports whether the record can no longer change state on its own.
func (m *MutationRecord) IsTerminal() bool {
	switch m.Status {
	case MutationSynced, MutationFailed, MutationConflict:
		return true
	}
	return false
}

// Eligible reports whether the record may be selected for transmission.
func (m *MutationRecord) Eligible(now time.Time) bool {
	if m.Status != MutationPending {
		return false
	}
	if m.NextRetryAt != nil && now.Before(*m.NextRetryAt) {
		return false
	}
	return true
}

// MarkSyncing transitions Pending -> Syncing.
func (m *MutationRecord) MarkSyncing(now time.Time) error {
	if m.Status != MutationPending {
		return fmt.Errorf("mutation %s: cannot start sync from status %q", m.ID, m.Status)
	}
	m.Status = MutationSyncing
	m.LastAttemptAt = &now
	return nil
}

// MarkSynced transitions Syncing -> Synced and records the server identity.
func (m *MutationRecord) MarkSynced(serverID int64, now time.Time) error {
	if m.Status == MutationSynced {
		// Duplicate delivery of a success is harmless.
		return nil
	}
	if m.Status != MutationSyncing {
		return fmt.Errorf("mutation %s: cannot complete from status %q", m.ID, m.Status)
	}
	m.Status = MutationSynced
	if serverID != 0 {
		m.EntityServerID = &serverID
	}
	m.NextRetryAt = nil
	m.ErrorMessage = nil
	return nil
}

// MarkRetry handles a transient failure: increments the retry count, and
// either schedules the next attempt with exponential backoff or, when the
// budget is exhausted, parks the record in the terminal Failed state.
func (m *MutationRecord) MarkRetry(cause error, now time.Time) error {
	if m.Status != MutationSyncing {
		return fmt.Errorf("mutation %s: cannot retry from status %q", m.ID, m.Status)
	}
	m.RetryCount++
	msg := cause.Error()
	m.ErrorMessage = &msg

	if m.RetryCount >= m.MaxRetries {
		m.Status = MutationFailed
		m.NextRetryAt = nil
		return nil
	}
	next := now.Add(RetryDelay(m.RetryCount))
	m.Status = MutationPending
	m.NextRetryAt = &next
	return nil
}

// MarkConflict parks the record in the terminal Conflict state. Conflicts do
// not consume the retry budget: retrying an unchanged payload would conflict
// forever, so the record waits for a human instead.
func (m *MutationRecord) MarkConflict(cause error, now time.Time) error {
	if m.Status != MutationSyncing {
		return fmt.Errorf("mutation %s: cannot conflict from status %q", m.ID, m.Status)
	}
	m.Status = MutationConflict
	msg := cause.Error()
	m.ErrorMessage = &msg
	m.NextRetryAt = nil
	return nil
}

// MarkInterrupted returns an in-flight record to Pending without a backoff
// window, so the next pass retries immediately. Used when a remote call is
// cancelled (app shutdown) or when the whole pass aborts on an auth failure.
func (m *MutationRecord) MarkInterrupted() {
	if m.Status == MutationSyncing {
		m.Status = MutationPending
	}
}

// ResetForRetry is the manual escape hatch for Failed and Conflict records:
// it zeroes the retry budget and error so the next pass picks the record up.
func (m *MutationRecord) ResetForRetry() error {
	if m.Status != MutationFailed && m.Status != MutationConflict {
		return fmt.Errorf("mutation %s: reset only applies to failed or conflicted records, not %q", m.ID, m.Status)
	}
	m.Status = MutationPending
	m.RetryCount = 0
	m.NextRetryAt = nil
	m.ErrorMessage = nil
	return nil
}
