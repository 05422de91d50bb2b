package errors

import (
	"fmt"
	"runtime"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// New returns an error with the supplied message and the caller stack.
func New(message string) error {
	return pkgerrors.New(message)
}

// Errorf formats according to a format specifier and records the caller stack.
func Errorf(format string, args ...interface{}) error {
	return pkgerrors.Errorf(format, args...)
}

// Wrap annotates err with message and the caller stack. Wrap(nil) is nil.
func Wrap(err error, message string) error {
	return pkgerrors.Wrap(err, message)
}

// Wrapf is Wrap with a format specifier.
func Wrapf(err error, format string, args ...interface{}) error {
	return pkgerrors.Wrapf(err, format, args...)
}

// WithStack annotates err with the caller stack only.
func WithStack(err error) error {
	return pkgerrors.WithStack(err)
}

// WithMessage annotates err with message but keeps the original stack.
func WithMessage(err error, message string) error {
	return pkgerrors.WithMessage(err, message)
}

func Is(err, target error) bool {
	return pkgerrors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return pkgerrors.As(err, target)
}

func Cause(err error) error {
	return pkgerrors.Cause(err)
}

// NewWithReport is New plus a report to every registered Reporter.
func NewWithReport(message string) error {
	err := pkgerrors.New(message)
	report(err)
	return err
}

// ErrorfAndReport is Errorf plus a report to every registered Reporter.
func ErrorfAndReport(format string, args ...interface{}) error {
	err := pkgerrors.Errorf(format, args...)
	report(err)
	return err
}

// WrapAndReport is Wrap plus a report to every registered Reporter.
func WrapAndReport(err error, message string) error {
	if err == nil {
		return nil
	}
	wrapped := pkgerrors.Wrap(err, message)
	report(wrapped)
	return wrapped
}

// WrapfAndReport is Wrapf plus a report to every registered Reporter.
func WrapfAndReport(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	wrapped := pkgerrors.Wrapf(err, format, args...)
	report(wrapped)
	return wrapped
}

// WithStackAndReport is WithStack plus a report to every registered Reporter.
func WithStackAndReport(err error) error {
	if err == nil {
		return nil
	}
	wrapped := pkgerrors.WithStack(err)
	report(wrapped)
	return wrapped
}

// WithMessageAndReport is WithMessage plus a report to every registered Reporter.
func WithMessageAndReport(err error, message string) error {
	if err == nil {
		return nil
	}
	wrapped := pkgerrors.WithMessage(err, message)
	report(wrapped)
	return wrapped
}

// Report sends an already built error to the reporters.
func Report(err error) {
	report(err)
}

type stack []uintptr

const maxStackDepth = 32

func callers() *stack {
	var pcs [maxStackDepth]uintptr
	n := runtime.Callers(3, pcs[:])
	var st stack = pcs[0:n]
	return &st
}

// fullStack renders "function file:line" per frame, innermost first.
func (s *stack) fullStack() []string {
	frames := runtime.CallersFrames(*s)
	lines := make([]string, 0, len(*s))
	for {
		frame, more := frames.Next()
		if frame.Function != "" {
			lines = append(lines, fmt.Sprintf("%s %s:%d", trimFunction(frame.Function), frame.File, frame.Line))
		}
		if !more {
			break
		}
	}
	return lines
}

// stackKey picks the frame used to group reports of the same origin.
func stackKey(stacks []string) string {
	switch {
	case len(stacks) > 2:
		return stacks[2]
	case len(stacks) > 0:
		return stacks[len(stacks)-1]
	default:
		return "unknown"
	}
}

func trimFunction(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 {
		return fn[i+1:]
	}
	return fn
}
