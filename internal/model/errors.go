package model

import (
	"errors"
	"fmt"
)

// Kind classifies control-plane failures.
type Kind string

const (
	KindController Kind = "controller"
	KindConfig     Kind = "config"
	KindSync       Kind = "sync"
	KindScheduler  Kind = "scheduler"
	KindSwitch     Kind = "switch"
)

// Error implements error so a Kind can be matched with errors.Is.
func (k Kind) Error() string { return string(k) + " error" }

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrInvalid          = errors.New("invalid argument")
	ErrSwitchInProgress = errors.New("switch in progress")
)

// Error is a classified failure. errors.Is(err, KindSync) matches any Error
// with Kind == KindSync; Unwrap exposes the cause.
type Error struct {
	Kind         Kind
	Op           string
	ControllerID string
	Err          error
}

func (e *Error) Error() string {
	msg := string(e.Kind) + ": " + e.Op
	if e.ControllerID != "" {
		msg += " [" + e.ControllerID + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the error's Kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// Errorf builds a classified error with a formatted cause.
func Errorf(kind Kind, op, controllerID, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, ControllerID: controllerID, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err. It returns nil when err is nil.
func Wrap(kind Kind, op, controllerID string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, ControllerID: controllerID, Err: err}
}
