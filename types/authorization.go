package types

import (
	"time"

	"github.com/google/uuid"
)

// AuthorizationType classifies who an authorization admits.
type AuthorizationType string

const (
	AuthorizationGuest    AuthorizationType = "guest"
	AuthorizationDelivery AuthorizationType = "delivery"
)

// Valid reports whether t is one of the known authorization types.
func (t AuthorizationType) Valid() bool {
	switch t {
	case AuthorizationGuest, AuthorizationDelivery:
		return true
	default:
		return false
	}
}

// Authorization is a time-bounded access credential issued on behalf of a
// resident for a guest or a delivery.
type Authorization struct {
	// ID is the unique identifier of the authorization.
	ID uuid.UUID `json:"id" db:"id"`

	// Number is the human-facing sequence number.
	Number int64 `json:"number" db:"number"`

	// UserID references the account that requested the authorization.
	UserID uuid.UUID `json:"user" db:"user_id"`

	Type           AuthorizationType `json:"type" db:"type"`
	Name           string            `json:"name" db:"name"`
	Document       *int64            `json:"document" db:"document"`
	ShipmentNumber string            `json:"shipmentNumber" db:"shipment_number"`

	// AccessCode is the numeric code presented at the gate. It is unique
	// among active authorizations only.
	AccessCode int `json:"accessCode" db:"access_code"`

	DateGenerated  time.Time `json:"dateGenerated" db:"date_generated"`
	ExpirationTime time.Time `json:"expirationTime" db:"expiration_time"`

	// GuardID and DateUsed are set together when a guard validates the
	// authorization.
	GuardID  *uuid.UUID `json:"guardId" db:"guard_id"`
	DateUsed *time.Time `json:"dateUsed" db:"date_used"`
}

// Used reports whether the authorization has already been validated.
func (a Authorization) Used() bool {
	return a.DateUsed != nil
}

// Expired reports whether the authorization's window has passed at t.
func (a Authorization) Expired(t time.Time) bool {
	return t.After(a.ExpirationTime)
}

// Active reports whether the authorization can still be validated at t.
func (a Authorization) Active(t time.Time) bool {
	return !a.Used() && !a.Expired(t)
}

// AuthorizationRequest is the payload used to create an authorization.
type AuthorizationRequest struct {
	Type           AuthorizationType `json:"type"`
	Name           string            `json:"name"`
	Document       *int64            `json:"document"`
	ShipmentNumber string            `json:"shipmentNumber"`
}

// ValidationRequest identifies the guard validating an authorization.
type ValidationRequest struct {
	GuardID uuid.UUID `json:"guardId"`
}
