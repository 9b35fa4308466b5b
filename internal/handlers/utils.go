package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/secure-ingress-home/apiserver/internal/services"
	"github.com/secure-ingress-home/apiserver/internal/store"
	"github.com/secure-ingress-home/apiserver/types"
	"go.uber.org/zap"
)

type contextKey string

const (
	contextSubjectKey contextKey = "sub"
	contextCallerKey  contextKey = "caller"
)

// ErrorResponse is a simple error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageResponse acknowledges an operation without returning a record.
type MessageResponse struct {
	Message string `json:"message"`
}

// Healthz reports that the process is serving requests.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func userIDFromContext(ctx context.Context) (uuid.UUID, error) {
	subject, ok := ctx.Value(contextSubjectKey).(string)
	if !ok {
		return uuid.Nil, errors.New("missing subject")
	}
	id, err := uuid.Parse(strings.TrimSpace(subject))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, errors.New("invalid subject")
	}
	return id, nil
}

func callerFromContext(ctx context.Context) (types.User, bool) {
	user, ok := ctx.Value(contextCallerKey).(types.User)
	return user, ok
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrConflict), errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, services.ErrResourceExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, services.ErrEmailDispatch):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError maps a service error to its HTTP status. Server-side
// failures are logged and answered with fallback instead of the error text.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error, fallback string) {
	status := statusForError(err)
	switch status {
	case http.StatusInternalServerError:
		logger.Error(fallback, zap.Error(err))
		writeError(w, status, fallback)
	case http.StatusBadGateway:
		logger.Error(fallback, zap.Error(err))
		writeError(w, status, "failed to send verification email")
	default:
		writeError(w, status, err.Error())
	}
}
