// Package handlers implements the HTTP endpoints of the ledger API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dvloznov/finance-ledger/internal/api/middleware"
	"github.com/dvloznov/finance-ledger/internal/catalog"
	"github.com/dvloznov/finance-ledger/internal/dates"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/logger"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// decode reads a JSON body into v, rejecting unknown fields.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// writeServiceError maps a service error onto a status code. Unexpected
// errors are logged and hidden from the caller.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		middleware.WriteFieldError(w, http.StatusBadRequest, verr.Field, verr.Message)
	case errors.Is(err, domain.ErrForbidden):
		middleware.WriteError(w, http.StatusForbidden, "Forbidden")
	case errors.Is(err, domain.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrVersionConflict):
		middleware.WriteError(w, http.StatusConflict, "The account changed concurrently, retry the request")
	case errors.Is(err, domain.ErrDuplicate):
		middleware.WriteError(w, http.StatusConflict, "Already exists")
	default:
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg(msg)
		middleware.WriteError(w, http.StatusInternalServerError, msg)
	}
}

func workspaceID(r *http.Request) string {
	return chi.URLParam(r, "ws")
}

func caller(r *http.Request) catalog.User {
	p, _ := middleware.PrincipalFromContext(r.Context())
	return catalog.User{ID: p.UserID, Email: p.Email}
}

// dateParam parses an optional date query parameter.
func dateParam(r *http.Request, name string, loc *time.Location) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := dates.ParseDate(raw, loc)
	if err != nil {
		return nil, domain.Invalid(name, err.Error())
	}
	return &t, nil
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, domain.Invalid(name, "must be a non-negative integer")
	}
	return n, nil
}

// Health handles GET /health
func Health(now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   now().Format(time.RFC3339),
		})
	}
}
