package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shwemill/millsync/internal/models"
	"github.com/shwemill/millsync/internal/remote"
)

// fakeQueue is an in-memory QueueStore.
type fakeQueue struct {
	records map[string]*models.MutationRecord
}

func newFakeQueue(recs ...*models.MutationRecord) *fakeQueue {
	q := &fakeQueue{records: make(map[string]*models.MutationRecord)}
	for _, r := range recs {
		clone := *r
		q.records[r.ID] = &clone
	}
	return q
}

func (q *fakeQueue) Enqueue(ctx context.Context, rec *models.MutationRecord) error {
	clone := *rec
	q.records[rec.ID] = &clone
	return nil
}

func (q *fakeQueue) Save(ctx context.Context, rec *models.MutationRecord) error {
	clone := *rec
	q.records[rec.ID] = &clone
	return nil
}

func (q *fakeQueue) Get(ctx context.Context, id string) (*models.MutationRecord, error) {
	rec, ok := q.records[id]
	if !ok {
		return nil, fmt.Errorf("mutation %s not found", id)
	}
	clone := *rec
	return &clone, nil
}

func (q *fakeQueue) LoadOpen(ctx context.Context) ([]models.MutationRecord, error) {
	var open []models.MutationRecord
	for _, rec := range q.records {
		if rec.Status == models.MutationPending || rec.Status == models.MutationSyncing {
			open = append(open, *rec)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].CreatedAt.Before(open[j].CreatedAt) })
	return open, nil
}

func (q *fakeQueue) FindOpenFor(ctx context.Context, entityType models.EntityType, entityID uint, op models.MutationOp) (*models.MutationRecord, error) {
	var newest *models.MutationRecord
	for _, rec := range q.records {
		if rec.EntityType != entityType || rec.EntityID != entityID || rec.Operation != op {
			continue
		}
		if rec.Status != models.MutationPending && rec.Status != models.MutationSyncing {
			continue
		}
		if newest == nil || rec.CreatedAt.After(newest.CreatedAt) {
			newest = rec
		}
	}
	if newest == nil {
		return nil, nil
	}
	clone := *newest
	return &clone, nil
}

func (q *fakeQueue) HasOpen(ctx context.Context, entityType models.EntityType, entityID uint) (bool, error) {
	for _, rec := range q.records {
		if rec.EntityType == entityType && rec.EntityID == entityID &&
			(rec.Status == models.MutationPending || rec.Status == models.MutationSyncing) {
			return true, nil
		}
	}
	return false, nil
}

func (q *fakeQueue) PendingCount(ctx context.Context) (int64, error) {
	var n int64
	for _, rec := range q.records {
		if rec.Status == models.MutationPending {
			n++
		}
	}
	return n, nil
}

func (q *fakeQueue) FailedRecords(ctx context.Context) ([]models.MutationRecord, error) {
	var out []models.MutationRecord
	for _, rec := range q.records {
		if rec.Status == models.MutationFailed || rec.Status == models.MutationConflict {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (q *fakeQueue) PurgeSynced(ctx context.Context, olderThan time.Time) (int64, error) {
	var n int64
	for id, rec := range q.records {
		if rec.Status == models.MutationSynced && rec.UpdatedAt.Before(olderThan) {
			delete(q.records, id)
			n++
		}
	}
	return n, nil
}

// fakeLedger is an in-memory EntityLedger. parentOf maps a mutation id to
// the entity whose server id must exist before that mutation may ship.
type fakeLedger struct {
	serverIDs map[EntityRef]int64
	parentOf  map[string]EntityRef

	stamped   []string // mutation ids passed to ApplyServerResult
	finalized []string // mutation ids passed to FinalizeDelete
	merged    []remote.PullResult

	dirty     []EntityRef
	snapshots map[EntityRef]models.MutationOp

	watermark string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		serverIDs: make(map[EntityRef]int64),
		parentOf:  make(map[string]EntityRef),
		snapshots: make(map[EntityRef]models.MutationOp),
	}
}

func (l *fakeLedger) ResolvePayload(ctx context.Context, rec *models.MutationRecord) (json.RawMessage, bool, error) {
	if parent, gated := l.parentOf[rec.ID]; gated {
		if _, ok := l.serverIDs[parent]; !ok {
			return nil, false, nil
		}
	}
	return json.RawMessage(rec.Payload), true, nil
}

func (l *fakeLedger) ServerID(ctx context.Context, ref EntityRef) (*int64, error) {
	id, ok := l.serverIDs[ref]
	if !ok {
		return nil, nil
	}
	return &id, nil
}

func (l *fakeLedger) ApplyServerResult(ctx context.Context, rec *models.MutationRecord, serverID int64, data json.RawMessage, now time.Time) error {
	l.serverIDs[EntityRef{Type: rec.EntityType, LocalID: rec.EntityID}] = serverID
	l.stamped = append(l.stamped, rec.ID)
	return nil
}

func (l *fakeLedger) FinalizeDelete(ctx context.Context, rec *models.MutationRecord) error {
	l.finalized = append(l.finalized, rec.ID)
	return nil
}

func (l *fakeLedger) ApplyRemote(ctx context.Context, change remote.PullResult) error {
	l.merged = append(l.merged, change)
	return nil
}

func (l *fakeLedger) UnsyncedEntities(ctx context.Context) ([]EntityRef, error) {
	return l.dirty, nil
}

func (l *fakeLedger) SnapshotPayload(ctx context.Context, ref EntityRef) (json.RawMessage, models.MutationOp, error) {
	op, ok := l.snapshots[ref]
	if !ok {
		return nil, "", fmt.Errorf("no snapshot for %v", ref)
	}
	return json.RawMessage(`{}`), op, nil
}

func (l *fakeLedger) LastPulledAt(ctx context.Context) (string, error) {
	return l.watermark, nil
}

func (l *fakeLedger) SetLastPulledAt(ctx context.Context, watermark string) error {
	l.watermark = watermark
	return nil
}

// fakeAPI is an in-memory remote.API. Unset error fields mean success.
type fakeAPI struct {
	nextServerID int64

	batchErr   error
	singleErr  error
	putErrOnce error // consumed by the first Put only
	healthErr  error

	batchCalls  []string // collection paths
	putPaths    []string
	deletePaths []string

	pullChanges []remote.PullResult
	pullErr     error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{nextServerID: 100}
}

func (a *fakeAPI) Post(ctx context.Context, path string, body interface{}) (*remote.Response, error) {
	if a.singleErr != nil {
		return nil, a.singleErr
	}
	a.nextServerID++
	data, _ := json.Marshal(map[string]int64{"id": a.nextServerID})
	return &remote.Response{Success: true, StatusCode: 201, Data: data}, nil
}

func (a *fakeAPI) Put(ctx context.Context, path string, body interface{}) (*remote.Response, error) {
	a.putPaths = append(a.putPaths, path)
	if a.putErrOnce != nil {
		err := a.putErrOnce
		a.putErrOnce = nil
		return nil, err
	}
	if a.singleErr != nil {
		return nil, a.singleErr
	}
	return &remote.Response{Success: true, StatusCode: 200}, nil
}

func (a *fakeAPI) Delete(ctx context.Context, path string) (*remote.Response, error) {
	a.deletePaths = append(a.deletePaths, path)
	if a.singleErr != nil {
		return nil, a.singleErr
	}
	return &remote.Response{Success: true, StatusCode: 200}, nil
}

func (a *fakeAPI) BatchSync(ctx context.Context, plural string, records []json.RawMessage) ([]remote.BatchAck, error) {
	a.batchCalls = append(a.batchCalls, plural)
	if a.batchErr != nil {
		return nil, a.batchErr
	}
	acks := make([]remote.BatchAck, 0, len(records))
	for _, raw := range records {
		var body struct {
			LocalID uint `json:"localId"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, err
		}
		a.nextServerID++
		acks = append(acks, remote.BatchAck{LocalID: body.LocalID, ServerID: a.nextServerID})
	}
	return acks, nil
}

func (a *fakeAPI) PullChanges(ctx context.Context, since string) ([]remote.PullResult, error) {
	if a.pullErr != nil {
		return nil, a.pullErr
	}
	return a.pullChanges, nil
}

func (a *fakeAPI) Health(ctx context.Context) error {
	return a.healthErr
}
