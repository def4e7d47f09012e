package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avshalomt/event-seat-booking/internal/repository"
)

func respond(t *testing.T, err error) (int, map[string]any) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, respondError(c, err))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestRespondErrorMapsTaxonomy(t *testing.T) {
	code, body := respond(t, repository.NewSeatUnavailableError([]uint64{9, 3}))
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "seats_unavailable", body["error"])
	assert.Equal(t, []any{float64(3), float64(9)}, body["seat_ids"])

	code, body = respond(t, &repository.InsufficientInventoryError{CategoryID: 10, Requested: 4, Available: 1})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "insufficient_inventory", body["error"])
	assert.Equal(t, float64(1), body["available"])

	code, body = respond(t, &repository.StoreError{Kind: repository.ErrValidation, Err: errors.New("bad input")})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_request", body["error"])

	code, body = respond(t, repository.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", body["error"])

	code, body = respond(t, repository.ErrForbidden)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "forbidden", body["error"])

	code, body = respond(t, repository.ErrNotHolder)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "forbidden", body["error"])

	code, body = respond(t, repository.ErrCancellationWindow)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "cancellation_window_closed", body["error"])

	code, body = respond(t, repository.ErrConflict)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "conflict", body["error"])

	code, body = respond(t, errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "internal_error", body["error"])
}

func TestRespondErrorTransientSetsRetryAfter(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, respondError(c, repository.ErrTransient))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []uint64{4, 5, 9}, dedupe([]uint64{4, 0, 5, 4, 9, 5}))
	assert.Empty(t, dedupe([]uint64{0, 0}))
	assert.Empty(t, dedupe(nil))
}
