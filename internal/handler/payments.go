package handler

import (
	"io"
	"net/http"

	"github.com/exjam-alumni/eventreg/internal/model"
	"github.com/exjam-alumni/eventreg/internal/payment"
	"github.com/go-chi/chi/v5"
)

const maxWebhookBytes = 1 << 20

// PaymentWebhook handles POST /webhooks/payment
// The signature covers the raw body, so it is read unparsed. Duplicates
// are answered 200 so the gateway stops retrying; store failures are
// answered 500 so it redelivers.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "could not read body")
		return
	}

	res, err := h.reconciler.HandleWebhook(r.Context(), body, r.Header.Get(payment.SignatureHeader))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// ResolvePayment handles POST /admin/payments/{reference}/resolve
func (h *Handler) ResolvePayment(w http.ResponseWriter, r *http.Request) {
	var req model.ResolvePaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body: "+err.Error())
		return
	}

	p, err := h.reconciler.ResolveFlagged(r.Context(), identity(r).UserID, chi.URLParam(r, "reference"), req.Approve)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}
