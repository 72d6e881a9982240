package ticket_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-attendance/internal/clock"
	"ms-attendance/internal/logger"
	"ms-attendance/internal/models"
	"ms-attendance/internal/participation"
	"ms-attendance/internal/utils"
)

type Importer interface {
	Import(ctx context.Context, r io.Reader, source string) (models.ImportResult, error)
}

type TicketLister interface {
	ListTickets(ctx context.Context, filter models.TicketFilter) ([]models.TicketListItem, int, error)
}

type EventFinder interface {
	FindEventOnDate(ctx context.Context, day time.Time) (*models.Event, error)
}

type ParticipationService interface {
	OverviewForTicket(ctx context.Context, ticketUUID string) (*participation.Overview, error)
	Confirm(ctx context.Context, ticketUUID string, sel participation.Selection) (int, error)
	Quote(ctx context.Context, ticketUUID string, sel participation.Selection) (participation.Quote, error)
}

type QRRenderer interface {
	PNG(ticketUUID string) ([]byte, error)
}

type Handler struct {
	Importer      Importer
	Tickets       TicketLister
	Events        EventFinder
	Participation ParticipationService
	QR            QRRenderer
	Clock         clock.Clock
	Logger        *logger.Logger
	MaxUploadSize int64
}

// Routes registers the ticket endpoints on r. All of them are staff
// operations, including participation confirmation.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/import", h.ImportTickets)
	r.Get("/", h.ListTickets)
	r.Route("/{uuid}", func(r chi.Router) {
		r.Get("/participation", h.GetParticipation)
		r.Post("/participation", h.ConfirmParticipation)
		r.Post("/participation/quote", h.QuoteParticipation)
		r.Get("/qr", h.TicketQR)
	})
}

// ImportTickets accepts the export either as multipart field "file" or as
// the raw request body.
func (h *Handler) ImportTickets(w http.ResponseWriter, r *http.Request) {
	if h.MaxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadSize)
	}

	var (
		body   io.Reader = r.Body
		source           = "request body"
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid upload", "multipart field 'file' is required"))
			return
		}
		defer file.Close()
		if !strings.HasSuffix(strings.ToLower(header.Filename), ".csv") {
			utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid upload", "only .csv files are accepted"))
			return
		}
		body, source = file, header.Filename
	}

	result, err := h.Importer.Import(r.Context(), body, source)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.WriteJSON(w, http.StatusRequestEntityTooLarge, utils.ErrorResponse("Import failed", "file too large"))
			return
		}
		utils.WriteError(w, "Import failed", err)
		return
	}

	msg := fmt.Sprintf("Import finished: %d created, %d updated, %d deleted, %d skipped",
		result.Created, result.Updated, result.Deleted, result.Skipped)
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse(msg, result))
}

type ticketPage struct {
	Tickets []models.TicketListItem `json:"tickets"`
	Total   int                     `json:"total"`
	Page    int                     `json:"page"`
	EventID int64                   `json:"event_id,omitempty"`
}

// ListTickets filters by ?event=<id>&q=<text>&page=<n>. Without an event
// parameter the list shows today's event, if there is one.
func (h *Handler) ListTickets(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := models.TicketFilter{Query: query.Get("q"), PerPage: 10}

	if raw := query.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid page", raw))
			return
		}
		filter.Page = page
	}

	if query.Has("event") {
		if raw := query.Get("event"); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid event", raw))
				return
			}
			filter.EventID = id
		}
	} else {
		event, err := h.Events.FindEventOnDate(r.Context(), clock.Today(h.Clock))
		switch {
		case err == nil:
			filter.EventID = event.ID
		case !errors.Is(err, models.ErrEventNotFound):
			utils.WriteError(w, "Failed to list tickets", err)
			return
		}
	}

	tickets, total, err := h.Tickets.ListTickets(r.Context(), filter)
	if err != nil {
		h.Logger.Error("HTTP", fmt.Sprintf("list tickets: %v", err))
		utils.WriteError(w, "Failed to list tickets", err)
		return
	}
	if filter.Page == 0 {
		filter.Page = 1
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Tickets", ticketPage{
		Tickets: tickets,
		Total:   total,
		Page:    filter.Page,
		EventID: filter.EventID,
	}))
}

func (h *Handler) GetParticipation(w http.ResponseWriter, r *http.Request) {
	ov, err := h.Participation.OverviewForTicket(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		utils.WriteError(w, "Failed to load participation", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Participation overview", ov))
}

func decodeSelection(r *http.Request) (participation.Selection, error) {
	var sel participation.Selection
	if err := json.NewDecoder(r.Body).Decode(&sel); err != nil && !errors.Is(err, io.EOF) {
		return sel, err
	}
	return sel, nil
}

func (h *Handler) ConfirmParticipation(w http.ResponseWriter, r *http.Request) {
	sel, err := decodeSelection(r)
	if err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	n, err := h.Participation.Confirm(r.Context(), chi.URLParam(r, "uuid"), sel)
	if err != nil {
		h.Logger.Error("PARTICIPATION", fmt.Sprintf("confirm for %s after %d item(s): %v", chi.URLParam(r, "uuid"), n, err))
		utils.WriteError(w, "Failed to confirm participation", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse(fmt.Sprintf("%d participation(s) saved", n), map[string]int{"saved": n}))
}

func (h *Handler) QuoteParticipation(w http.ResponseWriter, r *http.Request) {
	sel, err := decodeSelection(r)
	if err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	q, err := h.Participation.Quote(r.Context(), chi.URLParam(r, "uuid"), sel)
	if err != nil {
		utils.WriteError(w, "Failed to quote participation", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Quote", q))
}

func (h *Handler) TicketQR(w http.ResponseWriter, r *http.Request) {
	png, err := h.QR.PNG(chi.URLParam(r, "uuid"))
	if err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid ticket", err.Error()))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}
