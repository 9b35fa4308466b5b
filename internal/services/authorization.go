package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/secure-ingress-home/apiserver/config"
	"github.com/secure-ingress-home/apiserver/internal/mq"
	"github.com/secure-ingress-home/apiserver/internal/store"
	"github.com/secure-ingress-home/apiserver/types"
	"go.uber.org/zap"
)

const defaultAuthorizationTTL = 2 * time.Hour

// AuthorizationRepository defines persistence operations for authorizations.
type AuthorizationRepository interface {
	Create(ctx context.Context, auth types.Authorization) (types.Authorization, error)
	List(ctx context.Context) ([]types.Authorization, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]types.Authorization, error)
	GetByID(ctx context.Context, id uuid.UUID) (types.Authorization, error)
	GetByCode(ctx context.Context, code int, at time.Time) (types.Authorization, error)
	ActiveCodes(ctx context.Context, at time.Time) ([]int, error)
	MarkUsed(ctx context.Context, id, guardID uuid.UUID, usedAt time.Time) (types.Authorization, error)
	Delete(ctx context.Context, id uuid.UUID) (types.Authorization, error)
}

// UserLookup resolves the owner of a new authorization.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (types.User, error)
}

// AuthorizationPublisher receives lifecycle events. Publishing is best
// effort; a failure never fails the operation that produced the event.
type AuthorizationPublisher interface {
	PublishAuthorization(ctx context.Context, channel string, auth types.Authorization) error
}

// ValidationStatus is the outcome of a gate validation.
type ValidationStatus string

const (
	ValidationValidated   ValidationStatus = "validated"
	ValidationExpired     ValidationStatus = "expired"
	ValidationAlreadyUsed ValidationStatus = "already_used"
)

// ValidationResult is returned by Validate for every outcome that is not an
// error.
type ValidationResult struct {
	Status        ValidationStatus    `json:"status"`
	Message       string              `json:"message"`
	Authorization types.Authorization `json:"authorization"`
}

// AuthorizationService encapsulates the authorization lifecycle.
type AuthorizationService struct {
	repo         AuthorizationRepository
	users        UserLookup
	generator    *CredentialGenerator
	events       AuthorizationPublisher
	logger       *zap.Logger
	ttl          time.Duration
	maxAttempts  int
	revalidation string
	now          func() time.Time
}

// NewAuthorizationService wires the service. events may be nil when no
// broker is configured.
func NewAuthorizationService(
	repo AuthorizationRepository,
	users UserLookup,
	generator *CredentialGenerator,
	cfg config.AuthorizationConfig,
	events AuthorizationPublisher,
	logger *zap.Logger,
) *AuthorizationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultAuthorizationTTL
	}
	attempts := cfg.MaxCodeAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &AuthorizationService{
		repo:         repo,
		users:        users,
		generator:    generator,
		events:       events,
		logger:       logger.Named("authorizations"),
		ttl:          ttl,
		maxAttempts:  attempts,
		revalidation: cfg.RevalidationPolicy,
		now:          time.Now,
	}
}

// Create issues a new authorization for userID. The access code is retried
// with a fresh draw when a concurrent creation claimed it first.
func (s *AuthorizationService) Create(ctx context.Context, userID uuid.UUID, req types.AuthorizationRequest) (types.Authorization, error) {
	req, err := normalizeAuthorizationRequest(req)
	if err != nil {
		return types.Authorization{}, err
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return types.Authorization{}, fmt.Errorf("lookup user %s: %w", userID, err)
	}

	number, err := s.generator.NextNumber(ctx)
	if err != nil {
		return types.Authorization{}, err
	}

	now := s.now()
	auth := types.Authorization{
		ID:             uuid.New(),
		Number:         number,
		UserID:         userID,
		Type:           req.Type,
		Name:           req.Name,
		Document:       req.Document,
		ShipmentNumber: req.ShipmentNumber,
		DateGenerated:  now,
		ExpirationTime: now.Add(s.ttl),
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		code, err := s.generator.NextCode(ctx, now)
		if err != nil {
			return types.Authorization{}, err
		}
		auth.AccessCode = code

		created, err := s.repo.Create(ctx, auth)
		if errors.Is(err, store.ErrCodeInUse) {
			s.logger.Debug("access code taken concurrently, retrying",
				zap.Int("code", code), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return types.Authorization{}, fmt.Errorf("create authorization: %w", err)
		}

		s.logger.Info("authorization created",
			zap.Stringer("id", created.ID),
			zap.Int64("number", created.Number),
			zap.String("type", string(created.Type)),
			zap.Stringer("user", created.UserID))
		s.publish(ctx, mq.ChannelAuthorizationCreated, created)
		return created, nil
	}
	return types.Authorization{}, fmt.Errorf("%w: no access code could be reserved after %d attempts",
		ErrResourceExhausted, s.maxAttempts)
}

func (s *AuthorizationService) List(ctx context.Context) ([]types.Authorization, error) {
	return s.repo.List(ctx)
}

func (s *AuthorizationService) ListByUser(ctx context.Context, userID uuid.UUID) ([]types.Authorization, error) {
	return s.repo.ListByUser(ctx, userID)
}

func (s *AuthorizationService) GetByID(ctx context.Context, id uuid.UUID) (types.Authorization, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByCode returns the authorization currently holding code. When the code
// was reused, the pending authorization is preferred over historical ones.
func (s *AuthorizationService) GetByCode(ctx context.Context, code int) (types.Authorization, error) {
	return s.repo.GetByCode(ctx, code, s.now())
}

// Validate records the guard admitting the bearer of authorization id. An
// authorization is validated at most once; expired authorizations are
// reported and left untouched.
func (s *AuthorizationService) Validate(ctx context.Context, id uuid.UUID, req types.ValidationRequest) (ValidationResult, error) {
	if req.GuardID == uuid.Nil {
		return ValidationResult{}, fmt.Errorf("%w: guardId is required", ErrInvalidArgument)
	}

	auth, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return ValidationResult{}, err
	}
	if auth.Used() {
		return s.alreadyUsed(auth)
	}

	now := s.now()
	if auth.Expired(now) {
		s.logger.Info("expired authorization presented",
			zap.Stringer("id", auth.ID), zap.Stringer("guard", req.GuardID))
		return ValidationResult{
			Status:        ValidationExpired,
			Message:       "authorization expired",
			Authorization: auth,
		}, nil
	}

	updated, err := s.repo.MarkUsed(ctx, id, req.GuardID, now)
	if errors.Is(err, store.ErrAlreadyUsed) {
		current, getErr := s.repo.GetByID(ctx, id)
		if getErr != nil {
			return ValidationResult{}, getErr
		}
		return s.alreadyUsed(current)
	}
	if err != nil {
		return ValidationResult{}, fmt.Errorf("validate authorization: %w", err)
	}

	s.logger.Info("authorization validated",
		zap.Stringer("id", updated.ID), zap.Stringer("guard", req.GuardID))
	s.publish(ctx, mq.ChannelAuthorizationValidated, updated)
	return ValidationResult{
		Status:        ValidationValidated,
		Message:       "authorization validated",
		Authorization: updated,
	}, nil
}

// Delete removes authorization id. code is what the caller presented and is
// only recorded in the log.
func (s *AuthorizationService) Delete(ctx context.Context, id uuid.UUID, code string) (types.Authorization, error) {
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return types.Authorization{}, err
	}
	s.logger.Info("authorization deleted",
		zap.Stringer("id", deleted.ID), zap.String("presented_code", code))
	s.publish(ctx, mq.ChannelAuthorizationDeleted, deleted)
	return deleted, nil
}

func (s *AuthorizationService) alreadyUsed(auth types.Authorization) (ValidationResult, error) {
	if s.revalidation == config.RevalidationConflict {
		return ValidationResult{}, fmt.Errorf("%w: authorization %d was already used", ErrConflict, auth.Number)
	}
	return ValidationResult{
		Status:        ValidationAlreadyUsed,
		Message:       "authorization already used",
		Authorization: auth,
	}, nil
}

func (s *AuthorizationService) publish(ctx context.Context, channel string, auth types.Authorization) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishAuthorization(ctx, channel, auth); err != nil {
		s.logger.Warn("publish authorization event",
			zap.String("channel", channel), zap.Stringer("id", auth.ID), zap.Error(err))
	}
}

func normalizeAuthorizationRequest(req types.AuthorizationRequest) (types.AuthorizationRequest, error) {
	req.Type = types.AuthorizationType(strings.ToLower(strings.TrimSpace(string(req.Type))))
	req.Name = strings.TrimSpace(req.Name)
	req.ShipmentNumber = strings.TrimSpace(req.ShipmentNumber)

	if !req.Type.Valid() {
		return req, fmt.Errorf("%w: type must be %q or %q", ErrInvalidArgument, types.AuthorizationGuest, types.AuthorizationDelivery)
	}

	switch req.Type {
	case types.AuthorizationGuest:
		if req.Document == nil || *req.Document <= 0 {
			return req, fmt.Errorf("%w: document is required for guest authorizations", ErrInvalidArgument)
		}
	case types.AuthorizationDelivery:
		if req.ShipmentNumber == "" {
			return req, fmt.Errorf("%w: shipmentNumber is required for delivery authorizations", ErrInvalidArgument)
		}
	}
	return req, nil
}
