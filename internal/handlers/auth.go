package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/secure-ingress-home/apiserver/internal/services"
	"github.com/secure-ingress-home/apiserver/internal/store"
	"github.com/secure-ingress-home/apiserver/types"
	"go.uber.org/zap"
)

// AccessTokenIssuer signs bearer tokens for authenticated users.
type AccessTokenIssuer interface {
	IssueAccessToken(subject string) (string, error)
}

// AuthHandler provides account and JWT authentication endpoints.
type AuthHandler struct {
	userService *services.UserService
	registrar   *services.AccountRegistrar
	tokens      AccessTokenIssuer
	logger      *zap.Logger
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(
	userService *services.UserService,
	registrar *services.AccountRegistrar,
	tokens AccessTokenIssuer,
	logger *zap.Logger,
) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{
		userService: userService,
		registrar:   registrar,
		tokens:      tokens,
		logger:      logger,
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, handler *AuthHandler, gate *Gate) {
	r.Post("/register", handler.Register)
	r.Post("/login", handler.Login)
	r.Post("/google", handler.GoogleSignIn)
	r.With(gate.Authenticate).Get("/me", handler.Me)
}

// EmailRouter registers the email verification route.
func EmailRouter(r chi.Router, handler *AuthHandler) {
	r.Get("/validate/{token}", handler.VerifyEmail)
}

// Register creates a new account and sends its verification email. The
// account is not kept when the email cannot be sent.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req types.RegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	ack, err := h.registrar.Register(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to create user")
		return
	}
	writeJSON(w, http.StatusCreated, ack)
}

// Login verifies credentials and returns a JWT.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing credentials")
		return
	}

	user, err := h.userService.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.logger.Error("failed to authenticate", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to authenticate")
		return
	}

	token, err := h.tokens.IssueAccessToken(user.ID.String())
	if err != nil {
		h.logger.Error("failed to create token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}

	writeJSON(w, http.StatusOK, AuthResponse{Token: token, User: user})
}

// GoogleSignIn is reserved for federated sign-in, which this deployment does
// not offer.
func (h *AuthHandler) GoogleSignIn(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotImplemented, "google sign-in is not supported")
}

// Me returns the current authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.userService.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		h.logger.Error("failed to load user", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// VerifyEmail confirms the address carried by a verification link.
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	if err := h.registrar.VerifyEmail(r.Context(), chi.URLParam(r, "token")); err != nil {
		writeServiceError(w, h.logger, err, "failed to verify email")
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "email verified"})
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token string     `json:"token"`
	User  types.User `json:"user"`
}
