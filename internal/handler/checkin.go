package handler

import (
	"net/http"
	"time"

	"github.com/exjam-alumni/eventreg/internal/model"
)

// CheckIn handles POST /check-in
func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req model.CheckInRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body: "+err.Error())
		return
	}

	res, err := h.checkIn.CheckIn(r.Context(), identity(r).UserID, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

type checkInStatus struct {
	CheckedIn    bool                `json:"checkedIn"`
	CheckInTime  *time.Time          `json:"checkInTime,omitempty"`
	Location     string              `json:"location,omitempty"`
	Registration *model.Registration `json:"registration"`
}

// CheckInStatus handles GET /check-in?registrationId=|ticketId=
func (h *Handler) CheckInStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	reg, err := h.checkIn.Status(r.Context(), q.Get("registrationId"), q.Get("ticketId"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, checkInStatus{
		CheckedIn:    reg.CheckedInAt != nil,
		CheckInTime:  reg.CheckedInAt,
		Location:     reg.CheckInLocation,
		Registration: reg,
	})
}
