package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Error categories reported back to the model in tool results.
const (
	ErrorInvalidPath      = "invalid_path"
	ErrorOutsideWorkspace = "outside_workspace"
	ErrorForbiddenPath    = "forbidden_path"
	ErrorPathNotFound     = "path_not_found"
	ErrorPermissionDenied = "permission_denied"
	ErrorIO               = "io_error"
	ErrorAmbiguousEdit    = "ambiguous_edit"
	ErrorEditNotFound     = "edit_not_found"
)

// Error is a categorized file tool failure.
type Error struct {
	Category string
	Detail   string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Detail == "" {
		return e.Category
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Detail)
}

func NewError(category, detail string) error {
	return &Error{Category: category, Detail: detail}
}

// CategoryFromError returns the category of err, falling back to the os
// error class and then ErrorIO.
func CategoryFromError(err error) string {
	if err == nil {
		return ""
	}

	var categorized *Error
	switch {
	case errors.As(err, &categorized):
		return categorized.Category
	case errors.Is(err, fs.ErrNotExist):
		return ErrorPathNotFound
	case errors.Is(err, fs.ErrPermission):
		return ErrorPermissionDenied
	default:
		return ErrorIO
	}
}

// NormalizeIOError converts an os error into a categorized one without
// leaking absolute paths.
func NormalizeIOError(err error, detail string) error {
	if err == nil {
		return nil
	}

	switch category := CategoryFromError(err); category {
	case ErrorPathNotFound:
		return NewError(category, "path does not exist")
	case ErrorPermissionDenied:
		return NewError(category, "operation not permitted")
	default:
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			return NewError(category, pathErr.Err.Error())
		}
		if detail == "" {
			detail = err.Error()
		}
		return NewError(category, detail)
	}
}
