package model

import (
	"errors"
	"fmt"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrPersistence     = errors.New("message store unavailable")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrTransport       = errors.New("transport fault")
	ErrBadRequest      = errors.New("bad request")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Error codes carried by the outbound error event.
const (
	CodeValidation  = "validation"
	CodePersistence = "persistence"
	CodeBadRequest  = "bad_request"
	CodeInternal    = "internal"
)

// ErrorCode maps an error onto the code reported to clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrPersistence):
		return CodePersistence
	case errors.Is(err, ErrBadRequest):
		return CodeBadRequest
	default:
		return CodeInternal
	}
}
