package http

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/ticket-commerce/internal/domain"
)

type errorResponse struct {
	Error     string     `json:"error"`
	Code      string     `json:"code"`
	TicketID  *uuid.UUID `json:"ticket_id,omitempty"`
	Requested int        `json:"requested,omitempty"`
	Available *int       `json:"available,omitempty"`
}

var errorStatuses = []struct {
	target error
	status int
	code   string
}{
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrValidation, http.StatusBadRequest, "validation_error"},
	{domain.ErrEmptyCart, http.StatusBadRequest, "empty_cart"},
	{domain.ErrInsufficientInventory, http.StatusConflict, "insufficient_inventory"},
	{domain.ErrIllegalTransition, http.StatusConflict, "illegal_transition"},
	{domain.ErrIllegalState, http.StatusConflict, "illegal_state"},
	{domain.ErrAlreadyTerminal, http.StatusConflict, "already_terminal"},
	{domain.ErrSerializationFailure, http.StatusConflict, "serialization_failure"},
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	for _, e := range errorStatuses {
		if !errors.Is(err, e.target) {
			continue
		}
		resp := errorResponse{Error: err.Error(), Code: e.code}
		if e.target == domain.ErrSerializationFailure {
			resp.Error = "conflict, try again"
		}
		var insufficient *domain.InsufficientInventoryError
		if errors.As(err, &insufficient) {
			resp.TicketID = &insufficient.TicketID
			resp.Requested = insufficient.Requested
			resp.Available = &insufficient.Available
		}
		writeJSON(w, e.status, resp)
		return
	}

	LoggerFrom(r.Context(), h.logger).WithError(err).Error("request failed")
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Code: "internal"})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Code: "validation_error"})
}
