package sync

import (
	"sort"
	"time"

	"github.com/shwemill/millsync/internal/models"
)

type entityKey struct {
	entityType models.EntityType
	entityID   uint
}

// SelectBatch picks the records to transmit this pass from the open queue.
//
// Rules:
//   - mutations for the same entity ship strictly in creation order, so only
//     the oldest open record per entity is ever a candidate
//   - a candidate must be pending and past its backoff window
//   - candidates are ordered by priority (high first), then creation time
//   - at most limit records are returned; limit <= 0 means no cap
//
// A blocked head (still backing off, or mid-flight) blocks its entire entity:
// nothing younger for that entity is considered.
func SelectBatch(open []models.MutationRecord, limit int, now time.Time) []models.MutationRecord {
	heads := make(map[entityKey]*models.MutationRecord)
	for i := range open {
		rec := &open[i]
		key := entityKey{rec.EntityType, rec.EntityID}
		head, exists := heads[key]
		if !exists || rec.CreatedAt.Before(head.CreatedAt) {
			heads[key] = rec
		}
	}

	candidates := make([]models.MutationRecord, 0, len(heads))
	for _, head := range heads {
		if head.Eligible(now) {
			candidates = append(candidates, *head)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}
