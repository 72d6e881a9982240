package event_api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-attendance/internal/clock"
	"ms-attendance/internal/logger"
	"ms-attendance/internal/models"
	"ms-attendance/internal/utils"
)

type DBLayer interface {
	ListEventStats(ctx context.Context) ([]models.EventStats, error)
	ListAvailableEvents(ctx context.Context, from time.Time) ([]models.Event, error)
	DeleteEvent(ctx context.Context, id int64) error
}

type Handler struct {
	DB     DBLayer
	Clock  clock.Clock
	Logger *logger.Logger
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.ListEvents)
	r.Get("/available", h.ListAvailable)
	r.Delete("/{id}", h.DeleteEvent)
}

// ListEvents returns every event with its ticket and participant counts.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	stats, err := h.DB.ListEventStats(r.Context())
	if err != nil {
		utils.WriteError(w, "Failed to list events", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Events", stats))
}

func (h *Handler) ListAvailable(w http.ResponseWriter, r *http.Request) {
	events, err := h.DB.ListAvailableEvents(r.Context(), clock.Today(h.Clock))
	if err != nil {
		utils.WriteError(w, "Failed to list events", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Available events", events))
}

func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid event id", chi.URLParam(r, "id")))
		return
	}
	if err := h.DB.DeleteEvent(r.Context(), id); err != nil {
		utils.WriteError(w, "Failed to delete event", err)
		return
	}
	h.Logger.LogDatabase("DELETE", "events", "deleted event "+strconv.FormatInt(id, 10))
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Event deleted", nil))
}
