package services

import "errors"

var (
	// ErrInvalidArgument marks caller input the service rejects.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConflict marks a request that conflicts with the record's state.
	ErrConflict = errors.New("conflict")

	// ErrResourceExhausted is returned when no free access code remains.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrEmailDispatch wraps failures of the verification email.
	ErrEmailDispatch = errors.New("email dispatch failed")
)
