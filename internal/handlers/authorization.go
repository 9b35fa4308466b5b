package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/secure-ingress-home/apiserver/internal/services"
	"github.com/secure-ingress-home/apiserver/types"
	"go.uber.org/zap"
)

// The authorization routes share one path segment. It carries a user id on
// create, an access code on lookup and an authorization id on validate and
// delete, so chi sees a single parameter name.
const authorizationKeyParam = "key"

// AuthorizationHandler provides HTTP handlers for access authorizations.
type AuthorizationHandler struct {
	service *services.AuthorizationService
	logger  *zap.Logger
}

func NewAuthorizationHandler(service *services.AuthorizationService, logger *zap.Logger) *AuthorizationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthorizationHandler{service: service, logger: logger}
}

// AuthorizationRouter registers authorization routes on the given router.
func AuthorizationRouter(r chi.Router, service *services.AuthorizationService, gate *Gate, logger *zap.Logger) {
	handler := NewAuthorizationHandler(service, logger)

	r.With(gate.Require(types.RoleAdmin, types.RoleSecurity, types.RoleSuperAdmin)).Get("/", handler.ListAuthorizations)
	r.With(gate.Require(types.RoleAdmin, types.RoleOwner, types.RoleSuperAdmin)).Get("/user/{userID}", handler.ListUserAuthorizations)
	r.Route("/{"+authorizationKeyParam+"}", func(r chi.Router) {
		r.With(gate.Require(types.RoleAdmin, types.RoleOwner, types.RoleSuperAdmin)).Post("/", handler.CreateAuthorization)
		r.With(gate.Require(types.RoleAdmin, types.RoleSecurity, types.RoleSuperAdmin)).Get("/", handler.GetAuthorization)
		r.With(gate.Require(types.RoleAdmin, types.RoleSecurity, types.RoleSuperAdmin)).Put("/", handler.ValidateAuthorization)
		r.With(gate.Require(types.RoleAdmin, types.RoleSuperAdmin)).Delete("/", handler.DeleteAuthorization)
	})
}

// CreateAuthorization issues an authorization on behalf of the user in the
// path. Owners may only issue authorizations for themselves.
func (h *AuthorizationHandler) CreateAuthorization(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, authorizationKeyParam))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if !canActFor(r, userID) {
		writeError(w, http.StatusForbidden, "owners may only manage their own authorizations")
		return
	}

	var req types.AuthorizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	auth, err := h.service.Create(r.Context(), userID, req)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to create authorization")
		return
	}
	writeJSON(w, http.StatusCreated, auth)
}

func (h *AuthorizationHandler) ListAuthorizations(w http.ResponseWriter, r *http.Request) {
	auths, err := h.service.List(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to list authorizations")
		return
	}
	writeJSON(w, http.StatusOK, auths)
}

func (h *AuthorizationHandler) ListUserAuthorizations(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if !canActFor(r, userID) {
		writeError(w, http.StatusForbidden, "owners may only manage their own authorizations")
		return
	}

	auths, err := h.service.ListByUser(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to list authorizations")
		return
	}
	writeJSON(w, http.StatusOK, auths)
}

// GetAuthorization looks an authorization up by the access code a visitor
// presents at the gate.
func (h *AuthorizationHandler) GetAuthorization(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(strings.TrimSpace(chi.URLParam(r, authorizationKeyParam)))
	if err != nil || code < 0 {
		writeError(w, http.StatusBadRequest, "invalid access code")
		return
	}

	auth, err := h.service.GetByCode(r.Context(), code)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to load authorization")
		return
	}
	writeJSON(w, http.StatusOK, auth)
}

func (h *AuthorizationHandler) ValidateAuthorization(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, authorizationKeyParam))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid authorization id")
		return
	}

	var req types.ValidationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	// Without an explicit guard the validating caller is the guard.
	if req.GuardID == uuid.Nil {
		if caller, ok := callerFromContext(r.Context()); ok {
			req.GuardID = caller.ID
		}
	}

	result, err := h.service.Validate(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to validate authorization")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *AuthorizationHandler) DeleteAuthorization(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, authorizationKeyParam))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid authorization id")
		return
	}

	if _, err := h.service.Delete(r.Context(), id, r.URL.Query().Get("code")); err != nil {
		writeServiceError(w, h.logger, err, "failed to delete authorization")
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "authorization deleted"})
}

// canActFor restricts owners to their own user id. Other roles that passed
// the gate may act for anyone.
func canActFor(r *http.Request, userID uuid.UUID) bool {
	caller, ok := callerFromContext(r.Context())
	if !ok {
		return false
	}
	if !strings.EqualFold(caller.Role, types.RoleOwner) {
		return true
	}
	return caller.ID == userID
}
