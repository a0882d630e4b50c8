package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shwemill/millsync/internal/models"
	"github.com/shwemill/millsync/internal/remote"
)

// Orchestrator drains the mutation queue against the remote API and merges
// pulled remote changes back into the ledger. It never returns an error for
// a single record's failure: every outcome lands in that record's state.
type Orchestrator struct {
	queue     QueueStore
	ledger    EntityLedger
	api       remote.API
	batchSize int
	log       *logrus.Entry
}

// NewOrchestrator wires the queue, ledger and remote API together.
// batchSize caps how many records one selection round may transmit;
// 0 means no cap.
func NewOrchestrator(queue QueueStore, ledger EntityLedger, api remote.API, batchSize int, log *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		queue:     queue,
		ledger:    ledger,
		api:       api,
		batchSize: batchSize,
		log:       log.WithField("component", "orchestrator"),
	}
}

// errAuthAbort signals that the whole pass must stop: every remaining record
// would hit the same expired token.
var errAuthAbort = errors.New("sync pass aborted on auth failure")

// RunSyncPass performs one full push pass. It selects eligible records in
// rounds, so a child deferred on a missing parent id gets another chance in
// the same pass once its parent is acked. Interrupted records (context
// cancelled, auth abort) go back to pending with no backoff.
func (o *Orchestrator) RunSyncPass(ctx context.Context) *PassResult {
	res := &PassResult{Timestamp: time.Now()}
	defer func() { res.Duration = time.Since(res.Timestamp) }()

	open, err := o.queue.LoadOpen(ctx)
	if err != nil {
		o.log.WithError(err).Error("loading open mutations")
		return res
	}

	// Records stuck in syncing mean the previous process died mid-pass.
	for i := range open {
		if open[i].Status == models.MutationSyncing {
			open[i].MarkInterrupted()
			if err := o.queue.Save(ctx, &open[i]); err != nil {
				o.log.WithError(err).WithField("mutation", open[i].ID).Error("recovering interrupted record")
			}
		}
	}

	settled := make(map[string]models.MutationStatus)
	deferredIDs := make(map[string]bool)

	for {
		// A record settled short of synced (backing off, failed, conflicted)
		// still blocks its entity for the rest of the pass: shipping a
		// younger sibling past it would reorder that entity's mutations on
		// the server.
		blocked := make(map[entityKey]bool)
		for i := range open {
			if st, done := settled[open[i].ID]; done && st != models.MutationSynced {
				blocked[entityKey{open[i].EntityType, open[i].EntityID}] = true
			}
		}
		remaining := make([]models.MutationRecord, 0, len(open))
		for i := range open {
			if _, done := settled[open[i].ID]; done {
				continue
			}
			if blocked[entityKey{open[i].EntityType, open[i].EntityID}] {
				continue
			}
			remaining = append(remaining, open[i])
		}
		batch := SelectBatch(remaining, o.batchSize, time.Now())
		if len(batch) == 0 {
			break
		}

		succeededThisRound := 0
		err := o.processRound(ctx, batch, res, settled, deferredIDs, &succeededThisRound)
		if err != nil {
			res.Aborted = true
			break
		}
		// A round with no successes cannot unblock anything deferred, and
		// everything attempted is settled, so a further round is pointless.
		if succeededThisRound == 0 {
			break
		}
	}

	for id := range deferredIDs {
		if _, done := settled[id]; !done {
			res.Deferred++
		}
	}

	o.log.WithFields(logrus.Fields{
		"attempted":  res.Attempted,
		"succeeded":  res.Succeeded,
		"retried":    res.Retried,
		"failed":     res.Failed,
		"conflicted": res.Conflicted,
		"deferred":   res.Deferred,
		"aborted":    res.Aborted,
	}).Info("sync pass finished")
	return res
}

// processRound transmits one selected batch. Creates for the same entity
// type go out as one batch call; updates and deletes go out individually.
// Returns errAuthAbort (or a context error) when the pass must stop.
func (o *Orchestrator) processRound(ctx context.Context, batch []models.MutationRecord, res *PassResult, settled map[string]models.MutationStatus, deferredIDs map[string]bool, succeeded *int) error {
	creates := make(map[models.EntityType][]*models.MutationRecord)
	singles := make([]*models.MutationRecord, 0, len(batch))

	for i := range batch {
		rec := &batch[i]
		if rec.Operation == models.OpCreate {
			creates[rec.EntityType] = append(creates[rec.EntityType], rec)
		} else {
			singles = append(singles, rec)
		}
	}

	for entityType, recs := range creates {
		if err := o.sendCreateBatch(ctx, entityType, recs, res, settled, deferredIDs, succeeded); err != nil {
			return err
		}
	}
	for _, rec := range singles {
		if err := o.sendSingle(ctx, rec, res, settled, deferredIDs, succeeded); err != nil {
			return err
		}
	}
	return nil
}

// sendCreateBatch ships all creates of one entity type in a single call and
// fans the per-record acks back out.
func (o *Orchestrator) sendCreateBatch(ctx context.Context, entityType models.EntityType, recs []*models.MutationRecord, res *PassResult, settled map[string]models.MutationStatus, deferredIDs map[string]bool, succeeded *int) error {
	inFlight := make([]*models.MutationRecord, 0, len(recs))
	payloads := make([]json.RawMessage, 0, len(recs))

	for _, rec := range recs {
		payload, ok, err := o.ledger.ResolvePayload(ctx, rec)
		if err != nil {
			o.log.WithError(err).WithField("mutation", rec.ID).Error("resolving payload")
			settled[rec.ID] = rec.Status
			continue
		}
		if !ok {
			deferredIDs[rec.ID] = true
			continue
		}
		now := time.Now()
		if err := rec.MarkSyncing(now); err != nil {
			settled[rec.ID] = rec.Status
			continue
		}
		if err := o.queue.Save(ctx, rec); err != nil {
			o.log.WithError(err).WithField("mutation", rec.ID).Error("persisting syncing state")
			settled[rec.ID] = rec.Status
			continue
		}
		inFlight = append(inFlight, rec)
		payloads = append(payloads, payload)
		res.Attempted++
	}

	if len(inFlight) == 0 {
		return nil
	}

	acks, err := o.api.BatchSync(ctx, collectionPath(entityType), payloads)
	if err != nil {
		return o.settleBatchFailure(ctx, inFlight, err, res, settled)
	}

	ackByLocal := make(map[uint]remote.BatchAck, len(acks))
	for _, ack := range acks {
		ackByLocal[ack.LocalID] = ack
	}

	for _, rec := range inFlight {
		ack, found := ackByLocal[rec.EntityID]
		if !found {
			// The server accepted the batch but skipped this record.
			o.settleOutcome(ctx, rec, 0, nil,
				&remote.Failure{Kind: remote.FailureServer, Message: "record missing from batch ack"},
				res, settled, succeeded)
			continue
		}
		o.settleOutcome(ctx, rec, ack.ServerID, ack.Data, nil, res, settled, succeeded)
	}
	return nil
}

// sendSingle ships one update or delete.
func (o *Orchestrator) sendSingle(ctx context.Context, rec *models.MutationRecord, res *PassResult, settled map[string]models.MutationStatus, deferredIDs map[string]bool, succeeded *int) error {
	payload, ok, err := o.ledger.ResolvePayload(ctx, rec)
	if err != nil {
		o.log.WithError(err).WithField("mutation", rec.ID).Error("resolving payload")
		settled[rec.ID] = rec.Status
		return nil
	}
	if !ok {
		deferredIDs[rec.ID] = true
		return nil
	}

	// Updates and deletes address the entity by server id. The ordering
	// rule guarantees the create was acked first, but the id may still be
	// missing when the create synced on another pass that crashed before
	// stamping, so defer rather than fail.
	serverID, err := o.ledger.ServerID(ctx, EntityRef{Type: rec.EntityType, LocalID: rec.EntityID})
	if err != nil {
		o.log.WithError(err).WithField("mutation", rec.ID).Error("looking up server id")
		settled[rec.ID] = rec.Status
		return nil
	}
	if serverID == nil {
		deferredIDs[rec.ID] = true
		return nil
	}

	now := time.Now()
	if err := rec.MarkSyncing(now); err != nil {
		settled[rec.ID] = rec.Status
		return nil
	}
	if err := o.queue.Save(ctx, rec); err != nil {
		o.log.WithError(err).WithField("mutation", rec.ID).Error("persisting syncing state")
		settled[rec.ID] = rec.Status
		return nil
	}
	res.Attempted++

	path := fmt.Sprintf("/api/v1/%s/%d", collectionPath(rec.EntityType), *serverID)
	var resp *remote.Response
	var callErr error
	switch rec.Operation {
	case models.OpUpdate:
		resp, callErr = o.api.Put(ctx, path, json.RawMessage(payload))
	case models.OpDelete:
		resp, callErr = o.api.Delete(ctx, path)
	default:
		callErr = fmt.Errorf("unsupported operation %q", rec.Operation)
	}

	if callErr != nil {
		return o.settleSingleFailure(ctx, rec, callErr, res, settled)
	}
	o.settleOutcome(ctx, rec, extractServerID(resp, *serverID), resp.Data, nil, res, settled, succeeded)
	return nil
}

// settleOutcome applies a terminal call result to one in-flight record. The
// record's resulting status lands in settled so later rounds know whether its
// entity is clear or must stay blocked.
func (o *Orchestrator) settleOutcome(ctx context.Context, rec *models.MutationRecord, serverID int64, data json.RawMessage, callErr error, res *PassResult, settled map[string]models.MutationStatus, succeeded *int) {
	now := time.Now()
	defer func() { settled[rec.ID] = rec.Status }()

	if callErr == nil {
		if err := rec.MarkSynced(serverID, now); err != nil {
			o.log.WithError(err).WithField("mutation", rec.ID).Error("completing record")
		} else {
			if rec.Operation == models.OpDelete {
				if err := o.ledger.FinalizeDelete(ctx, rec); err != nil {
					o.log.WithError(err).WithField("mutation", rec.ID).Error("finalizing delete")
				}
			} else {
				if err := o.ledger.ApplyServerResult(ctx, rec, serverID, data, now); err != nil {
					o.log.WithError(err).WithField("mutation", rec.ID).Error("stamping server identity")
				}
			}
			res.Succeeded++
			*succeeded++
		}
		if err := o.queue.Save(ctx, rec); err != nil {
			o.log.WithError(err).WithField("mutation", rec.ID).Error("persisting synced state")
		}
		return
	}

	o.applyFailure(ctx, rec, callErr, res)
}

// settleBatchFailure handles a batch-level error: every in-flight record of
// the batch shares the outcome.
func (o *Orchestrator) settleBatchFailure(ctx context.Context, inFlight []*models.MutationRecord, callErr error, res *PassResult, settled map[string]models.MutationStatus) error {
	if abort := o.passAbortCause(callErr); abort != nil {
		for _, rec := range inFlight {
			rec.MarkInterrupted()
			if err := o.queue.Save(ctx, rec); err != nil {
				o.log.WithError(err).WithField("mutation", rec.ID).Error("persisting interrupted record")
			}
		}
		return abort
	}
	for _, rec := range inFlight {
		o.applyFailure(ctx, rec, callErr, res)
		settled[rec.ID] = rec.Status
	}
	return nil
}

func (o *Orchestrator) settleSingleFailure(ctx context.Context, rec *models.MutationRecord, callErr error, res *PassResult, settled map[string]models.MutationStatus) error {
	if abort := o.passAbortCause(callErr); abort != nil {
		rec.MarkInterrupted()
		if err := o.queue.Save(ctx, rec); err != nil {
			o.log.WithError(err).WithField("mutation", rec.ID).Error("persisting interrupted record")
		}
		return abort
	}
	o.applyFailure(ctx, rec, callErr, res)
	settled[rec.ID] = rec.Status
	return nil
}

// passAbortCause returns a non-nil error when the failure must stop the
// whole pass instead of settling one record: cancellation and auth failures
// apply to everything still in the queue and consume no retry budget.
func (o *Orchestrator) passAbortCause(callErr error) error {
	if errors.Is(callErr, context.Canceled) || errors.Is(callErr, context.DeadlineExceeded) {
		return callErr
	}
	var f *remote.Failure
	if errors.As(callErr, &f) && f.Kind == remote.FailureAuth {
		o.log.Warn("auth failure, aborting pass")
		return errAuthAbort
	}
	return nil
}

// applyFailure routes a per-record failure into retry or conflict state.
func (o *Orchestrator) applyFailure(ctx context.Context, rec *models.MutationRecord, callErr error, res *PassResult) {
	now := time.Now()
	var f *remote.Failure
	semantic := errors.As(callErr, &f) && !f.Transient()

	if semantic {
		if err := rec.MarkConflict(callErr, now); err != nil {
			o.log.WithError(err).WithField("mutation", rec.ID).Error("marking conflict")
		} else {
			res.Conflicted++
		}
	} else {
		if err := rec.MarkRetry(callErr, now); err != nil {
			o.log.WithError(err).WithField("mutation", rec.ID).Error("marking retry")
		} else if rec.Status == models.MutationFailed {
			res.Failed++
		} else {
			res.Retried++
		}
	}

	if err := o.queue.Save(ctx, rec); err != nil {
		o.log.WithError(err).WithField("mutation", rec.ID).Error("persisting failure state")
	}
}

// PullRemoteChanges fetches server-side changes since the stored watermark
// and merges them. Per-change merge errors are logged and skipped so one bad
// record cannot wedge the feed; the watermark only advances past changes
// that merged cleanly or were deliberately skipped by the merge policy.
func (o *Orchestrator) PullRemoteChanges(ctx context.Context) (int, error) {
	since, err := o.ledger.LastPulledAt(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading pull watermark: %w", err)
	}

	changes, err := o.api.PullChanges(ctx, since)
	if err != nil {
		return 0, err
	}

	applied := 0
	watermark := since
	for _, change := range changes {
		if err := o.ledger.ApplyRemote(ctx, change); err != nil {
			o.log.WithError(err).WithFields(logrus.Fields{
				"entityType": change.EntityType,
				"serverId":   change.ServerID,
			}).Error("merging pulled change")
			continue
		}
		applied++
		if change.UpdatedAt > watermark {
			watermark = change.UpdatedAt
		}
	}

	if watermark != since {
		if err := o.ledger.SetLastPulledAt(ctx, watermark); err != nil {
			return applied, fmt.Errorf("advancing pull watermark: %w", err)
		}
	}
	return applied, nil
}

// Reconcile re-enqueues mutations for dirty entity rows that have no open
// queue record. This self-heals the invariant that every unsynced entity is
// covered by a mutation, which a crash between the entity write and the
// enqueue can briefly break.
func (o *Orchestrator) Reconcile(ctx context.Context) (int, error) {
	refs, err := o.ledger.UnsyncedEntities(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing unsynced entities: %w", err)
	}

	requeued := 0
	for _, ref := range refs {
		covered, err := o.queue.HasOpen(ctx, ref.Type, ref.LocalID)
		if err != nil {
			return requeued, err
		}
		if covered {
			continue
		}
		payload, op, err := o.ledger.SnapshotPayload(ctx, ref)
		if err != nil {
			o.log.WithError(err).WithFields(logrus.Fields{
				"entityType": ref.Type,
				"localId":    ref.LocalID,
			}).Error("snapshotting dirty entity")
			continue
		}
		rec := models.NewMutationRecord(ref.Type, ref.LocalID, op, payload, models.PriorityNormal)
		if err := o.queue.Enqueue(ctx, rec); err != nil {
			return requeued, err
		}
		requeued++
	}

	if requeued > 0 {
		o.log.WithField("count", requeued).Warn("reconciled uncovered dirty entities")
	}
	return requeued, nil
}

// extractServerID pulls the server id out of a single-call response body,
// falling back to the id the request addressed.
func extractServerID(resp *remote.Response, fallback int64) int64 {
	if resp == nil || len(resp.Data) == 0 {
		return fallback
	}
	var body struct {
		ID       int64 `json:"id"`
		ServerID int64 `json:"serverId"`
	}
	if err := json.Unmarshal(resp.Data, &body); err != nil {
		return fallback
	}
	if body.ServerID != 0 {
		return body.ServerID
	}
	if body.ID != 0 {
		return body.ID
	}
	return fallback
}
