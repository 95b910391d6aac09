package service

import (
	"errors"

	"github.com/sdhr-guard/sdhr/internal/model"
)

// ServiceError codes.
const (
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeInternal        = "INTERNAL"
)

// ServiceError wraps an error with a code for API response mapping.
type ServiceError struct {
	Code    string
	Message string
	Err     error
}

func (e *ServiceError) Error() string { return e.Message }
func (e *ServiceError) Unwrap() error { return e.Err }

func invalidArg(msg string) *ServiceError {
	return &ServiceError{Code: CodeInvalidArgument, Message: msg}
}

func notFound(msg string) *ServiceError {
	return &ServiceError{Code: CodeNotFound, Message: msg}
}

func conflict(msg string) *ServiceError {
	return &ServiceError{Code: CodeConflict, Message: msg}
}

func internal(msg string, err error) *ServiceError {
	return &ServiceError{Code: CodeInternal, Message: msg, Err: err}
}

// classify maps a component error onto a ServiceError code.
func classify(err error) *ServiceError {
	if err == nil {
		return nil
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	switch {
	case errors.Is(err, model.ErrNotFound):
		return &ServiceError{Code: CodeNotFound, Message: err.Error(), Err: err}
	case errors.Is(err, model.ErrConflict), errors.Is(err, model.ErrSwitchInProgress):
		return &ServiceError{Code: CodeConflict, Message: err.Error(), Err: err}
	case errors.Is(err, model.ErrInvalid):
		return &ServiceError{Code: CodeInvalidArgument, Message: err.Error(), Err: err}
	default:
		return internal(err.Error(), err)
	}
}
