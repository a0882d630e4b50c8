package sync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shwemill/millsync/internal/models"
	"github.com/shwemill/millsync/internal/remote"
)

// QueueStore is the durable mutation queue. The GORM implementation lives in
// internal/store; tests use an in-memory fake.
type QueueStore interface {
	// Enqueue persists a new mutation record.
	Enqueue(ctx context.Context, rec *models.MutationRecord) error
	// Save persists the current state of an existing record.
	Save(ctx context.Context, rec *models.MutationRecord) error
	// Get loads one record by id.
	Get(ctx context.Context, id string) (*models.MutationRecord, error)
	// LoadOpen returns every record that is not yet settled (pending and
	// syncing), ordered by creation time. Syncing records exist only after
	// a crash mid-pass; callers return them to pending before selecting.
	LoadOpen(ctx context.Context) ([]models.MutationRecord, error)
	// FindOpenFor returns the newest unsettled record for one entity and
	// operation, used for payload coalescing. Nil when none exists.
	FindOpenFor(ctx context.Context, entityType models.EntityType, entityID uint, op models.MutationOp) (*models.MutationRecord, error)
	// HasOpen reports whether any unsettled record exists for the entity.
	HasOpen(ctx context.Context, entityType models.EntityType, entityID uint) (bool, error)
	// PendingCount counts records awaiting transmission.
	PendingCount(ctx context.Context) (int64, error)
	// FailedRecords returns records parked in failed or conflict.
	FailedRecords(ctx context.Context) ([]models.MutationRecord, error)
	// PurgeSynced deletes synced records older than the cutoff and returns
	// how many were removed.
	PurgeSynced(ctx context.Context, olderThan time.Time) (int64, error)
}

// EntityLedger is the orchestrator's view of the domain tables. It resolves
// payloads at send time, applies server identities after acks, and merges
// pulled remote changes.
type EntityLedger interface {
	// ResolvePayload returns the wire payload for a record with all local
	// parent references replaced by server ids. ok=false means a parent has
	// no server id yet and the record must be deferred to a later pass.
	ResolvePayload(ctx context.Context, rec *models.MutationRecord) (payload json.RawMessage, ok bool, err error)
	// ServerID returns the entity's confirmed server identity, nil when the
	// entity has not been created remotely yet.
	ServerID(ctx context.Context, ref EntityRef) (*int64, error)
	// ApplyServerResult stamps the acked server identity onto the entity row.
	ApplyServerResult(ctx context.Context, rec *models.MutationRecord, serverID int64, data json.RawMessage, now time.Time) error
	// FinalizeDelete removes the local tombstone after the server confirmed
	// the delete.
	FinalizeDelete(ctx context.Context, rec *models.MutationRecord) error
	// ApplyRemote merges one pulled change using last-writer-wins: the
	// remote version is applied only when it is newer than the local row
	// and no unsettled local mutation exists for the entity.
	ApplyRemote(ctx context.Context, change remote.PullResult) error
	// UnsyncedEntities lists entity rows flagged dirty, for reconciliation.
	UnsyncedEntities(ctx context.Context) ([]EntityRef, error)
	// SnapshotPayload captures the current row as a mutation payload and
	// says whether it would be a create or an update.
	SnapshotPayload(ctx context.Context, ref EntityRef) (json.RawMessage, models.MutationOp, error)
	// LastPulledAt returns the RFC3339 watermark of the last completed pull,
	// empty when never pulled.
	LastPulledAt(ctx context.Context) (string, error)
	// SetLastPulledAt advances the pull watermark.
	SetLastPulledAt(ctx context.Context, watermark string) error
}
