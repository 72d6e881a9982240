package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-attendance/internal/models"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.ErrTicketNotFound, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", models.ErrEventNotFound), http.StatusNotFound},
		{&models.ImportError{Err: models.ErrImportInProgress}, http.StatusConflict},
		{&models.ImportError{Err: &models.IntegrityError{Entity: "ticket", Key: "x"}}, http.StatusConflict},
		{&models.ImportError{Err: &models.EncodingError{}}, http.StatusUnprocessableEntity},
		{&models.ImportError{Err: &models.FormatError{Msg: "empty"}}, http.StatusUnprocessableEntity},
		{&models.ImportError{Err: &models.RowError{Line: 3, Field: "Status"}}, http.StatusUnprocessableEntity},
		{&models.ValidationError{Field: "email"}, http.StatusUnprocessableEntity},
		{&models.ImportError{Err: errors.New("disk on fire")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}

func TestWriteErrorIncludesRowDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	status := WriteError(rec, "import failed", &models.ImportError{
		Err: &models.RowError{Line: 7, Field: "E-Mail", Value: "nope", Msg: "invalid email"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	var body struct {
		Success bool            `json:"success"`
		Error   string          `json:"error"`
		Details RowErrorDetails `json:"details"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.False(t, body.Success)
	assert.Contains(t, body.Error, "line 7")
	assert.Equal(t, RowErrorDetails{Line: 7, Field: "E-Mail", Value: "nope"}, body.Details)
}

func TestWriteErrorHidesInternalErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, "import failed", &models.ImportError{Err: errors.New("pq: password authentication failed")})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
	assert.Contains(t, rec.Body.String(), "unexpected import failure")
}
