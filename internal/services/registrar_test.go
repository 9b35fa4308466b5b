package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/secure-ingress-home/apiserver/internal/auth"
	"github.com/secure-ingress-home/apiserver/internal/store"
	"github.com/secure-ingress-home/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

type sentMail struct {
	to, subject, body string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	send func(ctx context.Context) error
}

func (m *fakeMailer) Send(ctx context.Context, to, subject, body string) error {
	if m.send != nil {
		if err := m.send(ctx); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

type registrarFixture struct {
	registrar *AccountRegistrar
	users     *store.MemoryUserRepository
	mailer    *fakeMailer
	hasher    PasswordHasher
	issuer    *auth.TokenIssuer
}

func newRegistrarFixture(t *testing.T, timeout time.Duration) registrarFixture {
	t.Helper()

	issuer, err := auth.NewTokenIssuer("test-secret", time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	users := store.NewMemoryUserRepository()
	mailer := &fakeMailer{}
	hasher := auth.BcryptHasher{Cost: bcrypt.MinCost}
	return registrarFixture{
		registrar: NewAccountRegistrar(users, hasher, issuer, mailer, "https://sih.example.com/", timeout, nil),
		users:     users,
		mailer:    mailer,
		hasher:    hasher,
		issuer:    issuer,
	}
}

func registration() types.RegistrationRequest {
	return types.RegistrationRequest{
		Name:     "Ana",
		LastName: "Gomez",
		Email:    "Ana.Gomez@Example.com",
		Username: "agomez",
		Password: "s3cure-pass",
	}
}

func TestRegisterCreatesUserAndSendsEmail(t *testing.T) {
	f := newRegistrarFixture(t, time.Second)
	ctx := context.Background()

	ack, err := f.registrar.Register(ctx, registration())
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if ack.Message != "user created successfully" {
		t.Fatalf("unexpected ack %q", ack.Message)
	}
	if f.users.Count() != 1 {
		t.Fatalf("expected one user, got %d", f.users.Count())
	}

	user, err := f.users.GetByUsername(ctx, "agomez")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.PasswordHash == "s3cure-pass" || !f.hasher.Verify("s3cure-pass", user.PasswordHash) {
		t.Fatalf("expected a password digest")
	}
	if user.Role != types.RoleOwner {
		t.Fatalf("expected owner role, got %q", user.Role)
	}
	if user.Email != "ana.gomez@example.com" {
		t.Fatalf("expected normalized email, got %q", user.Email)
	}
	if user.Verified {
		t.Fatalf("new users start unverified")
	}

	if len(f.mailer.sent) != 1 {
		t.Fatalf("expected one email, got %d", len(f.mailer.sent))
	}
	mail := f.mailer.sent[0]
	if mail.to != user.Email {
		t.Fatalf("email sent to %q", mail.to)
	}
	if !strings.Contains(mail.body, "https://sih.example.com/email/validate/") {
		t.Fatalf("expected verification link in body:\n%s", mail.body)
	}
}

func TestRegisterRollsBackWhenEmailFails(t *testing.T) {
	f := newRegistrarFixture(t, time.Second)
	f.mailer.send = func(context.Context) error { return errors.New("smtp unavailable") }

	_, err := f.registrar.Register(context.Background(), registration())
	if !errors.Is(err, ErrEmailDispatch) {
		t.Fatalf("expected ErrEmailDispatch, got %v", err)
	}
	if f.users.Count() != 0 {
		t.Fatalf("expected rollback, found %d users", f.users.Count())
	}
}

func TestRegisterRollsBackWhenEmailTimesOut(t *testing.T) {
	f := newRegistrarFixture(t, 20*time.Millisecond)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	f.mailer.send = func(context.Context) error {
		<-release
		return nil
	}

	_, err := f.registrar.Register(context.Background(), registration())
	if !errors.Is(err, ErrEmailDispatch) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected timed out dispatch, got %v", err)
	}
	if f.users.Count() != 0 {
		t.Fatalf("expected rollback, found %d users", f.users.Count())
	}
}

func TestRegisterRollsBackWhenMailerPanics(t *testing.T) {
	f := newRegistrarFixture(t, time.Second)
	f.mailer.send = func(context.Context) error { panic("mailer exploded") }

	_, err := f.registrar.Register(context.Background(), registration())
	if !errors.Is(err, ErrEmailDispatch) {
		t.Fatalf("expected ErrEmailDispatch, got %v", err)
	}
	if f.users.Count() != 0 {
		t.Fatalf("expected rollback, found %d users", f.users.Count())
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	f := newRegistrarFixture(t, time.Second)
	ctx := context.Background()
	if _, err := f.registrar.Register(ctx, registration()); err != nil {
		t.Fatalf("register: %v", err)
	}

	sameUsername := registration()
	sameUsername.Email = "other@example.com"
	if _, err := f.registrar.Register(ctx, sameUsername); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for username, got %v", err)
	}

	sameEmail := registration()
	sameEmail.Username = "other"
	if _, err := f.registrar.Register(ctx, sameEmail); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for email, got %v", err)
	}
	if len(f.mailer.sent) != 1 {
		t.Fatalf("rejected registrations must not send email")
	}
}

func TestRegisterValidatesInput(t *testing.T) {
	f := newRegistrarFixture(t, time.Second)

	cases := map[string]func(*types.RegistrationRequest){
		"missing name":   func(r *types.RegistrationRequest) { r.Name = " " },
		"missing user":   func(r *types.RegistrationRequest) { r.Username = "" },
		"bad email":      func(r *types.RegistrationRequest) { r.Email = "not-an-email" },
		"display name":   func(r *types.RegistrationRequest) { r.Email = "Someone <ana@example.com>" },
		"comment":        func(r *types.RegistrationRequest) { r.Email = "ana@example.com (Ana)" },
		"short password": func(r *types.RegistrationRequest) { r.Password = "short" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := registration()
			mutate(&req)
			if _, err := f.registrar.Register(context.Background(), req); !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
	if f.users.Count() != 0 {
		t.Fatalf("invalid registrations must not persist")
	}
}

func TestRegisterEmailIsUniqueAcrossForms(t *testing.T) {
	f := newRegistrarFixture(t, time.Second)
	ctx := context.Background()
	if _, err := f.registrar.Register(ctx, registration()); err != nil {
		t.Fatalf("register: %v", err)
	}

	for i, email := range []string{"  ANA.GOMEZ@example.com ", "Someone <ana.gomez@example.com>"} {
		req := registration()
		req.Username = fmt.Sprintf("ana%d", i)
		req.Email = email
		if _, err := f.registrar.Register(ctx, req); err == nil {
			t.Fatalf("%q: expected registration to be rejected", email)
		}
	}

	if f.users.Count() != 1 {
		t.Fatalf("expected one user, found %d", f.users.Count())
	}
	if len(f.mailer.sent) != 1 || f.mailer.sent[0].to != "ana.gomez@example.com" {
		t.Fatalf("unexpected mail %+v", f.mailer.sent)
	}
}

var tokenPattern = regexp.MustCompile(`/email/validate/(\S+)`)

func TestVerifyEmail(t *testing.T) {
	f := newRegistrarFixture(t, time.Second)
	ctx := context.Background()
	if _, err := f.registrar.Register(ctx, registration()); err != nil {
		t.Fatalf("register: %v", err)
	}

	match := tokenPattern.FindStringSubmatch(f.mailer.sent[0].body)
	if match == nil {
		t.Fatalf("no token in email body")
	}
	if err := f.registrar.VerifyEmail(ctx, match[1]); err != nil {
		t.Fatalf("verify: %v", err)
	}

	user, _ := f.users.GetByUsername(ctx, "agomez")
	if !user.Verified {
		t.Fatalf("expected user to be verified")
	}

	if err := f.registrar.VerifyEmail(ctx, "garbage"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
