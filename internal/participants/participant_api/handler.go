package participant_api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-attendance/internal/logger"
	"ms-attendance/internal/models"
	"ms-attendance/internal/participants"
	"ms-attendance/internal/utils"
)

type ParticipantService interface {
	Create(ctx context.Context, req participants.CreateRequest) (*models.Participant, error)
	Autolink(ctx context.Context, ids []int64) (models.LinkReport, error)
	AutolinkAll(ctx context.Context, eventID int64) (models.LinkReport, error)
	Unlink(ctx context.Context, ids []int64) (int, error)
}

type Handler struct {
	Service ParticipantService
	Logger  *logger.Logger
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.CreateParticipant)
	r.Post("/autolink", h.Autolink)
	r.Post("/unlink", h.Unlink)
}

func (h *Handler) CreateParticipant(w http.ResponseWriter, r *http.Request) {
	var req participants.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	p, err := h.Service.Create(r.Context(), req)
	if err != nil {
		utils.WriteError(w, "Failed to create participant", err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Participant created", p))
}

// bulkRequest selects participants by id; an empty id list with autolink
// means every unlinked participant, optionally of one event.
type bulkRequest struct {
	IDs     []int64 `json:"ids"`
	EventID int64   `json:"event_id,omitempty"`
}

func (h *Handler) Autolink(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	var (
		report models.LinkReport
		err    error
	)
	if len(req.IDs) > 0 {
		report, err = h.Service.Autolink(r.Context(), req.IDs)
	} else {
		report, err = h.Service.AutolinkAll(r.Context(), req.EventID)
	}
	if err != nil {
		utils.WriteError(w, "Autolink failed", err)
		return
	}
	msg := fmt.Sprintf("%d linked, %d skipped", report.Linked, report.Skipped)
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse(msg, report))
}

func (h *Handler) Unlink(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}
	if len(req.IDs) == 0 {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Nothing to unlink", "ids must not be empty"))
		return
	}

	n, err := h.Service.Unlink(r.Context(), req.IDs)
	if err != nil {
		utils.WriteError(w, "Unlink failed", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse(fmt.Sprintf("%d participant(s) unlinked", n), map[string]int{"unlinked": n}))
}
