package handlers

import (
	"net/http"
	"strconv"

	"github.com/shwemill/millsync/internal/ledger"
)

// PaymentHandler serves the settlement endpoints.
type PaymentHandler struct {
	svc *ledger.Service
}

func NewPaymentHandler(svc *ledger.Service) *PaymentHandler {
	return &PaymentHandler{svc: svc}
}

func (h *PaymentHandler) List(w http.ResponseWriter, r *http.Request) {
	var customerID uint
	if raw := r.URL.Query().Get("customerId"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid customerId")
			return
		}
		customerID = uint(parsed)
	}
	payments, err := h.svc.ListPayments(r.Context(), customerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

func (h *PaymentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input ledger.PaymentInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	payment, err := h.svc.RecordPayment(r.Context(), input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}
