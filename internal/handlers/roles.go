package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/secure-ingress-home/apiserver/internal/store"
	"github.com/secure-ingress-home/apiserver/types"
	"go.uber.org/zap"
)

// Allowed reports whether any of the caller's roles is among required.
// Comparison is case-insensitive. An empty required list allows nobody.
func Allowed(callerRoles []string, required ...string) bool {
	for _, have := range callerRoles {
		for _, want := range required {
			if strings.EqualFold(strings.TrimSpace(have), want) {
				return true
			}
		}
	}
	return false
}

// TokenVerifier validates bearer tokens and returns their subject.
type TokenVerifier interface {
	ParseAccessToken(token string) (string, error)
}

// CallerLoader resolves the authenticated subject to an account.
type CallerLoader interface {
	GetByID(ctx context.Context, id uuid.UUID) (types.User, error)
}

// Gate authenticates bearer tokens and applies role checks at the HTTP
// boundary.
type Gate struct {
	tokens TokenVerifier
	users  CallerLoader
	logger *zap.Logger
}

func NewGate(tokens TokenVerifier, users CallerLoader, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{tokens: tokens, users: users, logger: logger}
}

// Authenticate enforces a valid bearer token and injects the subject into
// the request context.
func (g *Gate) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := bearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		subject, err := g.tokens.ParseAccessToken(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		ctx := context.WithValue(r.Context(), contextSubjectKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Require authenticates the request and admits it only when the caller holds
// one of roles.
func (g *Gate) Require(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return g.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := userIDFromContext(r.Context())
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			user, err := g.users.GetByID(r.Context(), userID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					writeError(w, http.StatusUnauthorized, "unauthorized")
					return
				}
				g.logger.Error("failed to load caller", zap.Stringer("user", userID), zap.Error(err))
				writeError(w, http.StatusInternalServerError, "failed to load user")
				return
			}

			if !Allowed([]string{user.Role}, roles...) {
				writeError(w, http.StatusForbidden, "insufficient role")
				return
			}

			ctx := context.WithValue(r.Context(), contextCallerKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		}))
	}
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
