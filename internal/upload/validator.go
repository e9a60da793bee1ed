package upload

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
)

// Error is a client-facing rejection. Its Status is passed through to the
// HTTP response unchanged.
type Error struct {
	Status int
	Detail string
}

func (e *Error) Error() string {
	return e.Detail
}

// Extension returns the lower-cased text after the last dot. A name without
// a dot yields the whole name.
func Extension(filename string) string {
	return strings.ToLower(filename[strings.LastIndex(filename, ".")+1:])
}

func ValidateExtension(filename string, allowed []string) error {
	ext := Extension(filename)
	if slices.ContainsFunc(allowed, func(a string) bool { return strings.EqualFold(a, ext) }) {
		return nil
	}
	return &Error{
		Status: http.StatusBadRequest,
		Detail: fmt.Sprintf("Invalid file type. Allowed: %s", strings.Join(allowed, ", ")),
	}
}

// ValidateSize rejects a declared size above limit. Unknown sizes (<= 0) pass;
// the store re-checks after reading the body.
func ValidateSize(size, limit int64) error {
	if size > 0 && size > limit {
		return TooLarge(limit)
	}
	return nil
}

func TooLarge(limit int64) *Error {
	return &Error{
		Status: http.StatusBadRequest,
		Detail: fmt.Sprintf("File too large. Max size: %.1fMB", float64(limit)/(1024*1024)),
	}
}
