package sync

import (
	"testing"
	"time"

	"github.com/shwemill/millsync/internal/models"
)

func pendingRecord(id string, entityType models.EntityType, entityID uint, priority models.SyncPriority, createdAt time.Time) models.MutationRecord {
	return models.MutationRecord{
		ID:         id,
		EntityType: entityType,
		EntityID:   entityID,
		Operation:  models.OpCreate,
		Status:     models.MutationPending,
		Priority:   priority,
		MaxRetries: models.DefaultMaxRetries,
		CreatedAt:  createdAt,
	}
}

func TestSelectBatchPriorityOrder(t *testing.T) {
	now := time.Now()
	open := []models.MutationRecord{
		pendingRecord("low", models.EntityCustomer, 1, models.PriorityLow, now.Add(-3*time.Hour)),
		pendingRecord("critical", models.EntityPayment, 2, models.PriorityCritical, now.Add(-1*time.Hour)),
		pendingRecord("normal", models.EntityInventory, 3, models.PriorityNormal, now.Add(-2*time.Hour)),
	}

	batch := SelectBatch(open, 0, now)
	if len(batch) != 3 {
		t.Fatalf("got %d records, want 3", len(batch))
	}
	want := []string{"critical", "normal", "low"}
	for i, id := range want {
		if batch[i].ID != id {
			t.Errorf("batch[%d] = %s, want %s", i, batch[i].ID, id)
		}
	}
}

func TestSelectBatchCreatedAtBreaksTies(t *testing.T) {
	now := time.Now()
	open := []models.MutationRecord{
		pendingRecord("younger", models.EntityCustomer, 1, models.PriorityNormal, now.Add(-1*time.Hour)),
		pendingRecord("older", models.EntityCustomer, 2, models.PriorityNormal, now.Add(-2*time.Hour)),
	}

	batch := SelectBatch(open, 0, now)
	if len(batch) != 2 {
		t.Fatalf("got %d records, want 2", len(batch))
	}
	if batch[0].ID != "older" || batch[1].ID != "younger" {
		t.Errorf("order = [%s, %s], want [older, younger]", batch[0].ID, batch[1].ID)
	}
}

func TestSelectBatchSerializesPerEntity(t *testing.T) {
	now := time.Now()
	// Two mutations against the same customer: only the older may ship,
	// even though the younger carries a higher priority.
	open := []models.MutationRecord{
		pendingRecord("first", models.EntityCustomer, 7, models.PriorityNormal, now.Add(-2*time.Hour)),
		pendingRecord("second", models.EntityCustomer, 7, models.PriorityCritical, now.Add(-1*time.Hour)),
	}

	batch := SelectBatch(open, 0, now)
	if len(batch) != 1 {
		t.Fatalf("got %d records, want 1", len(batch))
	}
	if batch[0].ID != "first" {
		t.Errorf("selected %s, want first", batch[0].ID)
	}
}

func TestSelectBatchBlockedHeadBlocksEntity(t *testing.T) {
	now := time.Now()
	head := pendingRecord("head", models.EntityTransaction, 4, models.PriorityNormal, now.Add(-2*time.Hour))
	backoff := now.Add(10 * time.Minute)
	head.NextRetryAt = &backoff // still backing off

	open := []models.MutationRecord{
		head,
		pendingRecord("tail", models.EntityTransaction, 4, models.PriorityNormal, now.Add(-1*time.Hour)),
		pendingRecord("other", models.EntityCustomer, 5, models.PriorityNormal, now.Add(-1*time.Hour)),
	}

	batch := SelectBatch(open, 0, now)
	if len(batch) != 1 {
		t.Fatalf("got %d records, want 1", len(batch))
	}
	if batch[0].ID != "other" {
		t.Errorf("selected %s, want other", batch[0].ID)
	}
}

func TestSelectBatchHonorsLimit(t *testing.T) {
	now := time.Now()
	open := []models.MutationRecord{
		pendingRecord("a", models.EntityCustomer, 1, models.PriorityCritical, now.Add(-3*time.Hour)),
		pendingRecord("b", models.EntityCustomer, 2, models.PriorityNormal, now.Add(-2*time.Hour)),
		pendingRecord("c", models.EntityCustomer, 3, models.PriorityLow, now.Add(-1*time.Hour)),
	}

	batch := SelectBatch(open, 2, now)
	if len(batch) != 2 {
		t.Fatalf("got %d records, want 2", len(batch))
	}
	if batch[0].ID != "a" || batch[1].ID != "b" {
		t.Errorf("batch = [%s, %s], want [a, b]", batch[0].ID, batch[1].ID)
	}
}

func TestSelectBatchSkipsInFlightRecords(t *testing.T) {
	now := time.Now()
	inFlight := pendingRecord("inflight", models.EntityCustomer, 1, models.PriorityNormal, now.Add(-2*time.Hour))
	inFlight.Status = models.MutationSyncing

	open := []models.MutationRecord{
		inFlight,
		pendingRecord("queued", models.EntityCustomer, 1, models.PriorityNormal, now.Add(-1*time.Hour)),
	}

	// The in-flight head blocks its entity entirely.
	if batch := SelectBatch(open, 0, now); len(batch) != 0 {
		t.Fatalf("got %d records, want 0", len(batch))
	}
}
