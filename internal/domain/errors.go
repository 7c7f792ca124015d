package domain

import (
	"errors"
	"fmt"
)

// Error types for consistent error handling across the client.
// Stores never leak these across their boundary: every public operation
// normalizes them to a human-readable message via Message.

// ErrValidation indicates bad input, caught before any network call
// where feasible.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrUnauthorized indicates invalid credentials or an expired/invalid
// token. It always resolves the owning session to Unauthenticated.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrNetwork indicates an unreachable backend, a timeout, or a response
// body that could not be decoded into the expected schema.
type ErrNetwork struct {
	Op  string
	Err error
}

func (e *ErrNetwork) Error() string {
	return fmt.Sprintf("network error [%s]: %v", e.Op, e.Err)
}

func (e *ErrNetwork) Unwrap() error {
	return e.Err
}

// ErrNotFound indicates a resource was not found (e.g. a selected
// account that no longer exists).
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// Message normalizes any error to the single human-readable string a
// store exposes in its Err field.
func Message(err error) string {
	if err == nil {
		return ""
	}

	var validation *ErrValidation
	var unauthorized *ErrUnauthorized
	var network *ErrNetwork
	var notFound *ErrNotFound

	switch {
	case errors.As(err, &validation):
		return validation.Message
	case errors.As(err, &unauthorized):
		return unauthorized.Error()
	case errors.As(err, &notFound):
		return err.Error()
	case errors.As(err, &network):
		return "Could not reach the server. Check your connection and try again."
	default:
		return err.Error()
	}
}
