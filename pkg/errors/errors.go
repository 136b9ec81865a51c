// Package errors wraps errors with context as they travel up the stack, and
// distinguishes errors meant to be shown to users as-is.
package errors

import (
	stderrors "errors"
	"fmt"
)

// New returns an error with the given message.
func New(msg string) error {
	return stderrors.New(msg)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

type contextError struct {
	context string
	err     error
}

// WithContext annotates err with a short description of what was being
// attempted. It returns nil if err is nil.
func WithContext(err error, context string) error {
	if err == nil {
		return nil
	}
	return contextError{context: context, err: err}
}

func (err contextError) Error() string {
	return fmt.Sprintf("%s: %s", err.context, err.err)
}

func (err contextError) Unwrap() error {
	return err.err
}

// RootCause strips all the context added by WithContext and returns the
// original error.
func RootCause(err error) error {
	for {
		ctxErr, ok := err.(contextError)
		if !ok {
			return err
		}
		err = ctxErr.err
	}
}

// FriendlyError is an error whose message is written for end users. It is
// printed without any of the context that wraps it.
type FriendlyError struct {
	template string
	args     []interface{}
}

// NewFriendlyError creates a FriendlyError from a format string.
func NewFriendlyError(template string, args ...interface{}) error {
	return FriendlyError{template: template, args: args}
}

func (err FriendlyError) Error() string {
	return err.FriendlyMessage()
}

// FriendlyMessage returns the user-facing message.
func (err FriendlyError) FriendlyMessage() string {
	return fmt.Sprintf(err.template, err.args...)
}

type friendlyMessager interface {
	FriendlyMessage() string
}

// GetPrintableMessage returns the friendly message of err's root cause if it
// has one, and the full error message otherwise.
func GetPrintableMessage(err error) string {
	if friendly, ok := RootCause(err).(friendlyMessager); ok {
		return friendly.FriendlyMessage()
	}
	return err.Error()
}
