package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/secure-ingress-home/apiserver/internal/store"
	"github.com/secure-ingress-home/apiserver/types"
	"go.uber.org/zap"
)

const (
	defaultEmailTimeout = 10 * time.Second
	minPasswordLength   = 8

	verificationSubject = "Verify your SIH account"
)

// PasswordHasher derives and checks password digests.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, digest string) bool
}

// VerificationSigner issues and checks email verification tokens.
type VerificationSigner interface {
	SignEmailVerification(email string) (string, error)
	ParseEmailVerification(token string) (string, error)
}

// Mailer delivers a single message. Implementations should honour ctx.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// AccountStore is the persistence the registrar needs. WithinTx must discard
// every write made by fn when fn returns an error.
type AccountStore interface {
	GetByUsername(ctx context.Context, username string) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	WithinTx(ctx context.Context, fn func(ctx context.Context, users store.UserWriter) error) error
	MarkVerified(ctx context.Context, email string) error
}

// RegistrationAck is the response to a successful registration.
type RegistrationAck struct {
	Message string `json:"message"`
}

// AccountRegistrar creates accounts and sends the verification email inside
// the same unit of work, so an account only exists if its email went out.
type AccountRegistrar struct {
	accounts     AccountStore
	hasher       PasswordHasher
	signer       VerificationSigner
	mailer       Mailer
	hostName     string
	emailTimeout time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

func NewAccountRegistrar(
	accounts AccountStore,
	hasher PasswordHasher,
	signer VerificationSigner,
	mailer Mailer,
	hostName string,
	emailTimeout time.Duration,
	logger *zap.Logger,
) *AccountRegistrar {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emailTimeout <= 0 {
		emailTimeout = defaultEmailTimeout
	}
	return &AccountRegistrar{
		accounts:     accounts,
		hasher:       hasher,
		signer:       signer,
		mailer:       mailer,
		hostName:     strings.TrimRight(hostName, "/"),
		emailTimeout: emailTimeout,
		logger:       logger.Named("registrar"),
		now:          time.Now,
	}
}

// Register creates the account and emails a verification link. If the email
// cannot be sent within the configured timeout the account is rolled back and
// the error wraps ErrEmailDispatch.
func (r *AccountRegistrar) Register(ctx context.Context, req types.RegistrationRequest) (RegistrationAck, error) {
	req, err := normalizeRegistration(req)
	if err != nil {
		return RegistrationAck{}, err
	}

	if err := r.ensureAvailable(ctx, req); err != nil {
		return RegistrationAck{}, err
	}

	digest, err := r.hasher.Hash(req.Password)
	if err != nil {
		return RegistrationAck{}, fmt.Errorf("hash password: %w", err)
	}

	err = r.accounts.WithinTx(ctx, func(ctx context.Context, users store.UserWriter) error {
		user, err := users.Create(ctx, types.User{
			Username:     req.Username,
			Email:        req.Email,
			Name:         req.Name,
			LastName:     req.LastName,
			Role:         types.RoleOwner,
			PasswordHash: digest,
			LastLogin:    r.now(),
		})
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}

		token, err := r.signer.SignEmailVerification(user.Email)
		if err != nil {
			return fmt.Errorf("sign verification token: %w", err)
		}
		body := verificationBody(user.FullName(), r.hostName+"/email/validate/"+token)
		if err := r.send(ctx, user.Email, verificationSubject, body); err != nil {
			return fmt.Errorf("%w: %w", ErrEmailDispatch, err)
		}
		return nil
	})
	if err != nil {
		r.logger.Warn("registration rolled back",
			zap.String("username", req.Username), zap.Error(err))
		return RegistrationAck{}, err
	}

	r.logger.Info("user registered", zap.String("username", req.Username))
	return RegistrationAck{Message: "user created successfully"}, nil
}

// VerifyEmail marks the account named by a verification token as verified.
func (r *AccountRegistrar) VerifyEmail(ctx context.Context, token string) error {
	email, err := r.signer.ParseEmailVerification(token)
	if err != nil {
		return fmt.Errorf("%w: invalid verification token", ErrInvalidArgument)
	}
	if err := r.accounts.MarkVerified(ctx, email); err != nil {
		return err
	}
	r.logger.Info("email verified", zap.String("email", email))
	return nil
}

func (r *AccountRegistrar) ensureAvailable(ctx context.Context, req types.RegistrationRequest) error {
	_, err := r.accounts.GetByUsername(ctx, req.Username)
	switch {
	case err == nil:
		return fmt.Errorf("%w: username already taken", ErrConflict)
	case !errors.Is(err, store.ErrNotFound):
		return err
	}

	_, err = r.accounts.GetByEmail(ctx, req.Email)
	switch {
	case err == nil:
		return fmt.Errorf("%w: email already registered", ErrConflict)
	case !errors.Is(err, store.ErrNotFound):
		return err
	}
	return nil
}

// send bounds the mailer by emailTimeout even when the implementation ignores
// its context. A panicking mailer is reported as a failed send.
func (r *AccountRegistrar) send(ctx context.Context, to, subject, body string) error {
	ctx, cancel := context.WithTimeout(ctx, r.emailTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("mailer panic: %v", p)
			}
		}()
		done <- r.mailer.Send(ctx, to, subject, body)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func normalizeRegistration(req types.RegistrationRequest) (types.RegistrationRequest, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	if req.Name == "" || req.LastName == "" {
		return req, fmt.Errorf("%w: name and lastName are required", ErrInvalidArgument)
	}
	if req.Username == "" {
		return req, fmt.Errorf("%w: username is required", ErrInvalidArgument)
	}
	// Only a bare address is accepted; display names and comments would
	// otherwise slip past the unique email check.
	addr, err := mail.ParseAddress(req.Email)
	if err != nil || !strings.EqualFold(addr.Address, req.Email) {
		return req, fmt.Errorf("%w: email is invalid", ErrInvalidArgument)
	}
	req.Email = strings.ToLower(addr.Address)
	if len(req.Password) < minPasswordLength {
		return req, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidArgument, minPasswordLength)
	}
	return req, nil
}

func verificationBody(name, link string) string {
	return fmt.Sprintf(`Hello %s,

Welcome to SIH - Secure Ingress Home.

Please confirm your email address by opening the link below:

%s

If you did not create this account you can ignore this message.
`, name, link)
}
