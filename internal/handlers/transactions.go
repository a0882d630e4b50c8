package handlers

import (
	"net/http"
	"strconv"

	"github.com/shwemill/millsync/internal/ledger"
)

// TransactionHandler serves buy, sell and cancellation endpoints.
type TransactionHandler struct {
	svc *ledger.Service
}

func NewTransactionHandler(svc *ledger.Service) *TransactionHandler {
	return &TransactionHandler{svc: svc}
}

func (h *TransactionHandler) List(w http.ResponseWriter, r *http.Request) {
	var customerID uint
	if raw := r.URL.Query().Get("customerId"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid customerId")
			return
		}
		customerID = uint(parsed)
	}
	txns, err := h.svc.ListTransactions(r.Context(), customerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txns)
}

func (h *TransactionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	txn, err := h.svc.GetTransaction(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

func (h *TransactionHandler) Buy(w http.ResponseWriter, r *http.Request) {
	var input ledger.TransactionInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	txn, err := h.svc.CreateBuyTransaction(r.Context(), input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

func (h *TransactionHandler) Sell(w http.ResponseWriter, r *http.Request) {
	var input ledger.TransactionInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	txn, err := h.svc.CreateSellTransaction(r.Context(), input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

func (h *TransactionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	txn, err := h.svc.CancelTransaction(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}
