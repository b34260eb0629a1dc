package main

import (
	"errors"
	"fmt"

	"github.com/vansante/snapctl/replicate"
)

// invalidArgsError marks a CLI-level argument/flag mistake (exit code 2),
// as opposed to a failure while talking to the filesystem (exit code 1).
type invalidArgsError struct {
	msg string
}

func (e *invalidArgsError) Error() string { return e.msg }

func invalidArgsf(format string, args ...interface{}) error {
	return &invalidArgsError{msg: fmt.Sprintf(format, args...)}
}

// refusalError marks a deliberate refusal to act (exit code 3): the
// operation is well-formed but the engine declined to perform it.
type refusalError struct {
	msg string
}

func (e *refusalError) Error() string { return e.msg }

func refusalf(format string, args ...interface{}) error {
	return &refusalError{msg: fmt.Sprintf(format, args...)}
}

func isInvalidArgs(err error) bool {
	var e *invalidArgsError
	return errors.As(err, &e)
}

func isRefusal(err error) bool {
	var e *refusalError
	if errors.As(err, &e) {
		return true
	}
	return errors.Is(err, replicate.ErrNotInitialized) || errors.Is(err, replicate.ErrDiverged)
}
