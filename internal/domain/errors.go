package domain

import "fmt"

// ValidationError rejects missing or malformed input before any state is read.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// AuthError covers missing or invalid caller credentials, including webhook
// signature failures. No mutation has been performed when it is returned.
type AuthError struct {
	Msg string
}

func (e *AuthError) Error() string { return e.Msg }

// NotFoundError means an order or correlation id did not resolve.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Key)
}

// ConflictError means an invariant-guarding precondition failed. State is left
// unchanged; the reason names the violated invariant.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }

// UpstreamError means the payment gateway or carrier failed or timed out on a
// call whose outcome the caller depends on.
type UpstreamError struct {
	System string
	Op     string
	Err    error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.System, e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
