package service

import "errors"

// Failure taxonomy shared by the REST handlers. Handlers map these to
// status codes; anything else is a persistence failure and surfaces as 500.
var (
	ErrValidation = errors.New("validation failed")
	ErrForbidden  = errors.New("forbidden")
	ErrNotFound   = errors.New("not found")
)
