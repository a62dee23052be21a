package plugin

import (
	"context"
	"errors"
	"fmt"
)

const (
	ErrorSpawn         = "spawn"
	ErrorTimeout       = "timeout"
	ErrorExitStatus    = "exit_status"
	ErrorEmptyOutput   = "empty_output"
	ErrorInvalidOutput = "invalid_output"
	ErrorPlugin        = "plugin_error"
	ErrorIO            = "io_error"
)

// Error is a categorized plugin invocation failure.
type Error struct {
	Category string
	Detail   string
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Detail == "" {
		return e.Category
	}
	return e.Detail
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(category string, err error, format string, args ...any) error {
	detail := fmt.Sprintf(format, args...)
	if err != nil {
		detail = fmt.Sprintf("%s: %v", detail, err)
	}
	return &Error{Category: category, Detail: detail, Err: err}
}

// CategoryFromError returns the stable category for an error when available.
func CategoryFromError(err error) string {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	return ErrorIO
}
