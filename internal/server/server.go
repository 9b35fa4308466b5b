package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/secure-ingress-home/apiserver/config"
	"github.com/secure-ingress-home/apiserver/internal/auth"
	"github.com/secure-ingress-home/apiserver/internal/db"
	"github.com/secure-ingress-home/apiserver/internal/handlers"
	"github.com/secure-ingress-home/apiserver/internal/logging"
	"github.com/secure-ingress-home/apiserver/internal/mailer"
	"github.com/secure-ingress-home/apiserver/internal/mq"
	"github.com/secure-ingress-home/apiserver/internal/services"
	"github.com/secure-ingress-home/apiserver/internal/store"
	"go.uber.org/zap"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
)

type userStore interface {
	services.AccountStore
	services.UserRepository
}

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	logger     *zap.Logger
	closers    []io.Closer
}

// New constructs a Server from cfg, opening the configured store, number
// sequence, mailer and event bus.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (srv *Server, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{logger: logger}
	defer func() {
		if err != nil {
			_ = s.closeAll()
		}
	}()

	issuer, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.VerificationTTL)
	if err != nil {
		return nil, err
	}
	hasher, err := auth.NewHasher(cfg.Auth.HashAlgorithm)
	if err != nil {
		return nil, err
	}

	var (
		dbConn *sql.DB
		auths  services.AuthorizationRepository
		users  userStore
	)
	switch cfg.StoreBackend {
	case BackendPostgres:
		dbConn, err = db.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, dbConn)
		auths = store.NewAuthorizationRepository(dbConn)
		users = store.NewUserRepository(dbConn)
	case BackendMemory:
		auths = store.NewMemoryAuthorizationRepository()
		users = store.NewMemoryUserRepository()
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	sequence, err := s.openSequence(ctx, cfg, dbConn)
	if err != nil {
		return nil, err
	}

	generator, err := services.NewCredentialGenerator(
		auths,
		sequence,
		cfg.Authorization.CodeMin,
		cfg.Authorization.CodeMax,
		cfg.Authorization.MaxCodeAttempts,
	)
	if err != nil {
		return nil, err
	}

	mail, err := mailer.New(cfg.Email, logger)
	if err != nil {
		return nil, err
	}

	bus, err := mq.Open(ctx, cfg.Events)
	if err != nil {
		return nil, err
	}
	var events services.AuthorizationPublisher
	if bus != nil {
		s.closers = append(s.closers, bus)
		events = bus
	}

	authorizationService := services.NewAuthorizationService(auths, users, generator, cfg.Authorization, events, logger)
	userService := services.NewUserService(users, hasher)
	registrar := services.NewAccountRegistrar(users, hasher, issuer, mail, cfg.Auth.HostName, cfg.Email.Timeout, logger)

	gate := handlers.NewGate(issuer, users, logger)
	authHandler := handlers.NewAuthHandler(userService, registrar, issuer, logger)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		logging.RequestLogger(logger),
		middleware.Recoverer,
		middleware.Timeout(60*time.Second),
		cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/authorizations", func(r chi.Router) {
		handlers.AuthorizationRouter(r, authorizationService, gate, logger)
	})
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, authHandler, gate)
	})
	router.Route("/email", func(r chi.Router) {
		handlers.EmailRouter(r, authHandler)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	s.router = router
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// openSequence picks the authorization number source. An empty backend
// follows the store backend.
func (s *Server) openSequence(ctx context.Context, cfg config.Config, dbConn *sql.DB) (services.NumberSequence, error) {
	backend := cfg.Authorization.SequenceBackend
	if backend == "" {
		backend = cfg.StoreBackend
	}

	switch backend {
	case BackendPostgres:
		if dbConn == nil {
			return nil, errors.New("postgres sequence requires STORE_BACKEND=postgres")
		}
		return store.NewPostgresSequence(dbConn), nil
	case BackendRedis:
		seq, err := store.NewRedisSequence(cfg.Redis.URL, cfg.Redis.SequenceKey)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, seq)
		if err := seq.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return seq, nil
	case BackendMemory:
		return store.NewMemorySequence(), nil
	default:
		return nil, fmt.Errorf("unknown sequence backend %q", backend)
	}
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.logger.Info("listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and releases the backing resources.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	return errors.Join(err, s.closeAll())
}

func (s *Server) closeAll() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
