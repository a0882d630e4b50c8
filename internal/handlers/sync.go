package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shwemill/millsync/internal/models"
	"github.com/shwemill/millsync/internal/sync"
)

// SyncHandler exposes the engine's status and the manual queue controls.
type SyncHandler struct {
	engine *sync.Engine
	queue  sync.QueueStore
}

func NewSyncHandler(engine *sync.Engine, queue sync.QueueStore) *SyncHandler {
	return &SyncHandler{engine: engine, queue: queue}
}

// Status returns the engine snapshot.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Status(r.Context()))
}

// Trigger runs one pass immediately and returns its result.
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	result := h.engine.SyncNow(r.Context())
	writeJSON(w, http.StatusOK, result)
}

// Pending returns how many mutations await transmission.
func (h *SyncHandler) Pending(w http.ResponseWriter, r *http.Request) {
	count, err := h.queue.PendingCount(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"pending": count})
}

// Failed lists records parked in failed or conflict, so the UI can show
// what needs operator attention.
func (h *SyncHandler) Failed(w http.ResponseWriter, r *http.Request) {
	recs, err := h.queue.FailedRecords(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// Conflicts lists only the records parked on semantic rejections.
func (h *SyncHandler) Conflicts(w http.ResponseWriter, r *http.Request) {
	recs, err := h.queue.FailedRecords(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	conflicts := make([]models.MutationRecord, 0)
	for _, rec := range recs {
		if rec.Status == models.MutationConflict {
			conflicts = append(conflicts, rec)
		}
	}
	writeJSON(w, http.StatusOK, conflicts)
}

// Reset returns one failed or conflicted record to the queue with a fresh
// retry budget, then kicks a pass.
func (h *SyncHandler) Reset(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := h.queue.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "mutation not found")
		return
	}
	if err := rec.ResetForRetry(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err := h.queue.Save(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.engine.RequestSync("manual reset")
	writeJSON(w, http.StatusOK, rec)
}
