package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/shwemill/millsync/internal/models"
	"github.com/shwemill/millsync/internal/remote"
	"github.com/shwemill/millsync/internal/sync"
)

// LedgerStore is the GORM-backed bridge between the sync engine and the
// domain tables: it resolves payloads at send time, stamps server identities
// after acks and merges pulled remote changes.
type LedgerStore struct {
	db  *gorm.DB
	log *logrus.Entry
}

var _ sync.EntityLedger = (*LedgerStore)(nil)

// NewLedgerStore wraps the database handle.
func NewLedgerStore(db *gorm.DB, log *logrus.Logger) *LedgerStore {
	return &LedgerStore{db: db, log: log.WithField("component", "ledger-store")}
}

// entityFor returns a fresh model value for the given entity type.
func entityFor(t models.EntityType) (interface{}, error) {
	switch t {
	case models.EntityCustomer:
		return &models.Customer{}, nil
	case models.EntityInventory:
		return &models.InventoryItem{}, nil
	case models.EntityTransaction:
		return &models.Transaction{}, nil
	case models.EntityPayment:
		return &models.Payment{}, nil
	case models.EntityMilling:
		return &models.MillingRecord{}, nil
	case models.EntityUser:
		return &models.User{}, nil
	}
	return nil, fmt.Errorf("unknown entity type %q", t)
}

// ServerID looks up the entity's confirmed server identity.
func (s *LedgerStore) ServerID(ctx context.Context, ref sync.EntityRef) (*int64, error) {
	model, err := entityFor(ref.Type)
	if err != nil {
		return nil, err
	}
	var serverID *int64
	err = s.db.WithContext(ctx).Model(model).
		Select("server_id").
		Where("local_id = ?", ref.LocalID).
		Scan(&serverID).Error
	if err != nil {
		return nil, err
	}
	return serverID, nil
}

func (s *LedgerStore) serverIDOf(ctx context.Context, t models.EntityType, localID uint) (*int64, error) {
	return s.ServerID(ctx, sync.EntityRef{Type: t, LocalID: localID})
}

// ResolvePayload rewrites the stored payload's local parent references into
// server ids. ok=false defers the record until every parent has synced.
func (s *LedgerStore) ResolvePayload(ctx context.Context, rec *models.MutationRecord) (json.RawMessage, bool, error) {
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Payload, &body); err != nil {
		return nil, false, fmt.Errorf("decoding payload of %s: %w", rec.ID, err)
	}

	switch rec.EntityType {
	case models.EntityTransaction:
		ok, err := s.resolveRef(ctx, body, "customerLocalId", "customerId", models.EntityCustomer)
		if err != nil || !ok {
			return nil, false, err
		}
		items, _ := body["items"].([]interface{})
		for _, raw := range items {
			line, isMap := raw.(map[string]interface{})
			if !isMap {
				continue
			}
			ok, err := s.resolveRef(ctx, line, "itemLocalId", "itemId", models.EntityInventory)
			if err != nil || !ok {
				return nil, false, err
			}
		}
	case models.EntityPayment:
		ok, err := s.resolveRef(ctx, body, "customerLocalId", "customerId", models.EntityCustomer)
		if err != nil || !ok {
			return nil, false, err
		}
		if _, present := body["transactionLocalId"]; present {
			ok, err := s.resolveRef(ctx, body, "transactionLocalId", "transactionId", models.EntityTransaction)
			if err != nil || !ok {
				return nil, false, err
			}
		}
	case models.EntityMilling:
		for _, pair := range [][2]string{
			{"paddyItemLocalId", "paddyItemId"},
			{"riceItemLocalId", "riceItemId"},
		} {
			ok, err := s.resolveRef(ctx, body, pair[0], pair[1], models.EntityInventory)
			if err != nil || !ok {
				return nil, false, err
			}
		}
	}

	resolved, err := json.Marshal(body)
	if err != nil {
		return nil, false, err
	}
	return resolved, true, nil
}

// resolveRef replaces body[localKey] with the referenced entity's server id
// under serverKey. ok=false when the reference has no server id yet.
func (s *LedgerStore) resolveRef(ctx context.Context, body map[string]interface{}, localKey, serverKey string, t models.EntityType) (bool, error) {
	raw, present := body[localKey]
	if !present || raw == nil {
		return true, nil
	}
	num, isNum := raw.(float64)
	if !isNum || num == 0 {
		return true, nil
	}
	serverID, err := s.serverIDOf(ctx, t, uint(num))
	if err != nil {
		return false, err
	}
	if serverID == nil {
		return false, nil
	}
	body[serverKey] = *serverID
	return true, nil
}

// ApplyServerResult stamps the acked server identity on the entity row and
// merges the server's canonical field values out of the ack body. The row is
// only flagged fully synced, and its fields only overwritten, when no further
// open mutation covers it; a newer local edit outranks the ack echo.
func (s *LedgerStore) ApplyServerResult(ctx context.Context, rec *models.MutationRecord, serverID int64, data json.RawMessage, now time.Time) error {
	model, err := entityFor(rec.EntityType)
	if err != nil {
		return err
	}

	var openCount int64
	if err := s.db.WithContext(ctx).Model(&models.MutationRecord{}).
		Where("entity_type = ? AND entity_id = ? AND id <> ? AND status IN ?",
			rec.EntityType, rec.EntityID, rec.ID,
			[]models.MutationStatus{models.MutationPending, models.MutationSyncing}).
		Count(&openCount).Error; err != nil {
		return err
	}

	updates := map[string]interface{}{
		"server_id":      serverID,
		"last_synced_at": now,
	}
	if openCount == 0 {
		updates["is_synced"] = true
		updates["sync_status"] = string(models.MutationSynced)
		if len(data) > 0 {
			cols, err := canonicalColumns(rec.EntityType, data)
			if err != nil {
				s.log.WithError(err).WithField("mutation", rec.ID).Warn("undecodable ack body, keeping local values")
			} else {
				for k, v := range cols {
					updates[k] = v
				}
			}
		}
	}
	return s.db.WithContext(ctx).Model(model).
		Where("local_id = ?", rec.EntityID).
		Updates(updates).Error
}

// canonicalColumns decodes the server's canonical view of an entity into the
// columns this device accepts back. Stock totals and movement history never
// appear here: the local ledger stays the source of truth for them.
func canonicalColumns(t models.EntityType, data json.RawMessage) (map[string]interface{}, error) {
	cols := make(map[string]interface{})
	switch t {
	case models.EntityCustomer:
		var c models.Customer
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, err
		}
		cols["name"] = c.Name
		cols["phone"] = c.Phone
		cols["address"] = c.Address
		cols["balance"] = c.Balance
	case models.EntityInventory:
		var item models.InventoryItem
		if err := json.Unmarshal(data, &item); err != nil {
			return nil, err
		}
		cols["name"] = item.Name
		cols["category"] = item.Category
	case models.EntityUser:
		var u models.User
		if err := json.Unmarshal(data, &u); err != nil {
			return nil, err
		}
		cols["display_name"] = u.DisplayName
		cols["role"] = u.Role
		cols["is_active"] = u.IsActive
	case models.EntityTransaction:
		// Only server-side settlement fields merge back; the stock effect
		// stays exactly as this device recorded it.
		var txn models.Transaction
		if err := json.Unmarshal(data, &txn); err != nil {
			return nil, err
		}
		cols["status"] = txn.Status
		cols["paid_amount"] = txn.PaidAmount
	}
	return cols, nil
}

// FinalizeDelete hard-removes the tombstoned row once the server confirmed
// the delete.
func (s *LedgerStore) FinalizeDelete(ctx context.Context, rec *models.MutationRecord) error {
	model, err := entityFor(rec.EntityType)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Where("local_id = ?", rec.EntityID).Delete(model).Error
}

// UnsyncedEntities lists dirty, non-deleted rows across all synced tables.
func (s *LedgerStore) UnsyncedEntities(ctx context.Context) ([]sync.EntityRef, error) {
	var refs []sync.EntityRef
	for _, t := range []models.EntityType{
		models.EntityCustomer, models.EntityInventory, models.EntityTransaction,
		models.EntityPayment, models.EntityMilling, models.EntityUser,
	} {
		model, err := entityFor(t)
		if err != nil {
			return nil, err
		}
		var ids []uint
		err = s.db.WithContext(ctx).Model(model).
			Where("is_synced = ? AND is_deleted = ?", false, false).
			Pluck("local_id", &ids).Error
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			refs = append(refs, sync.EntityRef{Type: t, LocalID: id})
		}
	}
	return refs, nil
}

// SnapshotPayload captures the current row for a reconciliation mutation.
func (s *LedgerStore) SnapshotPayload(ctx context.Context, ref sync.EntityRef) (json.RawMessage, models.MutationOp, error) {
	model, err := entityFor(ref.Type)
	if err != nil {
		return nil, "", err
	}
	q := s.db.WithContext(ctx)
	if ref.Type == models.EntityTransaction {
		q = q.Preload("Items")
	}
	if err := q.First(model, "local_id = ?", ref.LocalID).Error; err != nil {
		return nil, "", err
	}
	payload, err := json.Marshal(model)
	if err != nil {
		return nil, "", err
	}

	op := models.OpUpdate
	if rec, isLocal := model.(models.LocalRecord); isLocal && rec.GetServerID() == nil {
		op = models.OpCreate
	}
	return payload, op, nil
}

// ApplyRemote merges one pulled change with last-writer-wins. The remote
// version applies only when it is newer than the local row and no unsettled
// local mutation exists; otherwise the local state stands and the next push
// carries it to the server.
func (s *LedgerStore) ApplyRemote(ctx context.Context, change remote.PullResult) error {
	t := models.EntityType(change.EntityType)
	switch t {
	case models.EntityCustomer, models.EntityInventory, models.EntityUser, models.EntityTransaction:
	case models.EntityPayment, models.EntityMilling:
		// Push-owned records: this device is their source of truth.
		return nil
	default:
		return fmt.Errorf("unknown entity type %q in pull feed", change.EntityType)
	}

	remoteUpdated, err := time.Parse(time.RFC3339, change.UpdatedAt)
	if err != nil {
		return fmt.Errorf("bad updatedAt %q: %w", change.UpdatedAt, err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model, err := entityFor(t)
		if err != nil {
			return err
		}
		err = tx.First(model, "server_id = ?", change.ServerID).Error
		notFound := errors.Is(err, gorm.ErrRecordNotFound)
		if err != nil && !notFound {
			return err
		}

		if notFound {
			if change.Deleted {
				return nil
			}
			return s.insertRemote(tx, t, change)
		}

		rec := model.(models.LocalRecord)
		var openCount int64
		if err := tx.Model(&models.MutationRecord{}).
			Where("entity_type = ? AND entity_id = ? AND status IN ?",
				t, rec.GetLocalID(),
				[]models.MutationStatus{models.MutationPending, models.MutationSyncing}).
			Count(&openCount).Error; err != nil {
			return err
		}
		if openCount > 0 {
			// Local intent outranks the pull; the push path will settle it.
			return nil
		}

		localUpdated := updatedAtOf(model)
		if !remoteUpdated.After(localUpdated) {
			return nil
		}

		if change.Deleted {
			return tx.Where("local_id = ?", rec.GetLocalID()).Delete(model).Error
		}
		return s.updateFromRemote(tx, t, rec.GetLocalID(), change)
	})
}

func updatedAtOf(model interface{}) time.Time {
	switch m := model.(type) {
	case *models.Customer:
		return m.UpdatedAt
	case *models.InventoryItem:
		return m.UpdatedAt
	case *models.Transaction:
		return m.UpdatedAt
	case *models.User:
		return m.UpdatedAt
	}
	return time.Time{}
}

// insertRemote creates a local row for an entity first seen via pull.
func (s *LedgerStore) insertRemote(tx *gorm.DB, t models.EntityType, change remote.PullResult) error {
	now := time.Now()
	switch t {
	case models.EntityCustomer:
		var c models.Customer
		if err := json.Unmarshal(change.Data, &c); err != nil {
			return err
		}
		c.LocalID = 0
		c.MarkSynced(change.ServerID, now)
		return tx.Create(&c).Error
	case models.EntityInventory:
		var item models.InventoryItem
		if err := json.Unmarshal(change.Data, &item); err != nil {
			return err
		}
		item.LocalID = 0
		item.MarkSynced(change.ServerID, now)
		return tx.Create(&item).Error
	case models.EntityUser:
		var u models.User
		if err := json.Unmarshal(change.Data, &u); err != nil {
			return err
		}
		u.LocalID = 0
		u.MarkSynced(change.ServerID, now)
		return tx.Create(&u).Error
	case models.EntityTransaction:
		// Transactions originate on devices; a pull can only update ones
		// we already know. An unknown one is logged and skipped.
		s.log.WithField("serverId", change.ServerID).Warn("pull feed carries unknown transaction, skipping")
		return nil
	}
	return nil
}

// updateFromRemote overwrites the merge-safe columns of an existing row.
func (s *LedgerStore) updateFromRemote(tx *gorm.DB, t models.EntityType, localID uint, change remote.PullResult) error {
	model, err := entityFor(t)
	if err != nil {
		return err
	}
	cols, err := canonicalColumns(t, change.Data)
	if err != nil {
		return err
	}
	cols["is_synced"] = true
	cols["sync_status"] = string(models.MutationSynced)
	cols["last_synced_at"] = time.Now()
	return tx.Model(model).Where("local_id = ?", localID).Updates(cols).Error
}

// LastPulledAt reads the pull watermark.
func (s *LedgerStore) LastPulledAt(ctx context.Context) (string, error) {
	var state models.SyncState
	err := s.db.WithContext(ctx).First(&state, "key = ?", models.StateLastPulledAt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return state.Value, nil
}

// SetLastPulledAt advances the pull watermark.
func (s *LedgerStore) SetLastPulledAt(ctx context.Context, watermark string) error {
	state := models.SyncState{Key: models.StateLastPulledAt, Value: watermark}
	return s.db.WithContext(ctx).Save(&state).Error
}
