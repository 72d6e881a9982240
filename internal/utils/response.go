package utils

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"ms-attendance/internal/models"
)

type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Details   interface{} `json:"details,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func SuccessResponse(message string, data interface{}) APIResponse {
	return APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	}
}

func ErrorResponse(message, error string) APIResponse {
	return APIResponse{
		Success:   false,
		Message:   message,
		Error:     error,
		Timestamp: time.Now(),
	}
}

func WriteJSON(w http.ResponseWriter, status int, body APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// RowErrorDetails is the machine-readable part of a rejected import row.
type RowErrorDetails struct {
	Line  int    `json:"line"`
	Field string `json:"field"`
	Value string `json:"value,omitempty"`
}

// StatusFor maps domain errors to HTTP status codes.
func StatusFor(err error) int {
	var (
		encErr *models.EncodingError
		fmtErr *models.FormatError
		rowErr *models.RowError
		intErr *models.IntegrityError
		valErr *models.ValidationError
	)
	switch {
	case errors.Is(err, models.ErrTicketNotFound),
		errors.Is(err, models.ErrEventNotFound),
		errors.Is(err, models.ErrParticipantNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrImportInProgress), errors.As(err, &intErr):
		return http.StatusConflict
	case errors.As(err, &encErr), errors.As(err, &fmtErr), errors.As(err, &rowErr), errors.As(err, &valErr):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// WriteError renders err with the status StatusFor picks. Internal errors
// are not echoed to the client.
func WriteError(w http.ResponseWriter, message string, err error) int {
	status := StatusFor(err)
	resp := ErrorResponse(message, err.Error())
	if status == http.StatusInternalServerError {
		resp.Error = "internal error"
		var importErr *models.ImportError
		if errors.As(err, &importErr) {
			resp.Error = "unexpected import failure"
		}
	}
	var rowErr *models.RowError
	if errors.As(err, &rowErr) {
		resp.Details = RowErrorDetails{Line: rowErr.Line, Field: rowErr.Field, Value: rowErr.Value}
	}
	WriteJSON(w, status, resp)
	return status
}
