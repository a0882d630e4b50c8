package handlers

import (
	"net/http"

	"github.com/shwemill/millsync/internal/ledger"
)

// MillingHandler serves the paddy-to-rice conversion endpoints.
type MillingHandler struct {
	svc *ledger.Service
}

func NewMillingHandler(svc *ledger.Service) *MillingHandler {
	return &MillingHandler{svc: svc}
}

func (h *MillingHandler) List(w http.ResponseWriter, r *http.Request) {
	runs, err := h.svc.ListMillings(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *MillingHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input ledger.MillingInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	run, err := h.svc.RecordMilling(r.Context(), input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}
