package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	audienceAccess = "sih-api"
	audienceVerify = "sih-email-verification"
)

// TokenIssuer signs bearer tokens and email verification tokens with a
// shared HMAC secret.
type TokenIssuer struct {
	secret          []byte
	accessTTL       time.Duration
	verificationTTL time.Duration
	now             func() time.Time
}

func NewTokenIssuer(secret string, accessTTL, verificationTTL time.Duration) (*TokenIssuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	return &TokenIssuer{
		secret:          []byte(secret),
		accessTTL:       accessTTL,
		verificationTTL: verificationTTL,
		now:             time.Now,
	}, nil
}

type verificationClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// IssueAccessToken returns a bearer token whose subject is the user id.
func (t *TokenIssuer) IssueAccessToken(subject string) (string, error) {
	now := t.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Audience:  jwt.ClaimStrings{audienceAccess},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.accessTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// ParseAccessToken validates a bearer token and returns its subject.
func (t *TokenIssuer) ParseAccessToken(tokenString string) (string, error) {
	claims := jwt.RegisteredClaims{}
	if err := t.parse(tokenString, &claims, audienceAccess); err != nil {
		return "", err
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("missing subject")
	}
	return claims.Subject, nil
}

// SignEmailVerification signs the {email} payload sent in the verification link.
func (t *TokenIssuer) SignEmailVerification(email string) (string, error) {
	now := t.now()
	claims := verificationClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{audienceVerify},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.verificationTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// ParseEmailVerification returns the email carried by a verification token.
func (t *TokenIssuer) ParseEmailVerification(tokenString string) (string, error) {
	claims := verificationClaims{}
	if err := t.parse(tokenString, &claims, audienceVerify); err != nil {
		return "", err
	}
	if strings.TrimSpace(claims.Email) == "" {
		return "", errors.New("missing email")
	}
	return claims.Email, nil
}

func (t *TokenIssuer) parse(tokenString string, claims jwt.Claims, audience string) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return t.secret, nil
	}, jwt.WithAudience(audience), jwt.WithTimeFunc(t.now))
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("invalid token")
	}
	return nil
}
