// Package validate holds the explicit input checks run before any state change.
package validate

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

const DateLayout = "2006-01-02"

// Error is a client input problem. It maps to 400.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func Errorf(field, format string, args ...any) *Error {
	return &Error{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err carries a *Error.
func IsValidation(err error) bool {
	var v *Error
	return errors.As(err, &v)
}

func UUID(field, raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, Errorf(field, "is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, Errorf(field, "must be a valid UUID")
	}
	return id, nil
}

// Date parses YYYY-MM-DD into midnight UTC.
func Date(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, Errorf(field, "is required")
	}
	d, err := time.Parse(DateLayout, raw)
	if err != nil {
		return time.Time{}, Errorf(field, "must be formatted as YYYY-MM-DD")
	}
	return d, nil
}

func Email(field, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", Errorf(field, "is required")
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", Errorf(field, "must be a valid email address")
	}
	return strings.ToLower(raw), nil
}

// OTPCode accepts exactly six ASCII digits.
func OTPCode(field, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) != 6 {
		return "", Errorf(field, "must be 6 digits")
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return "", Errorf(field, "must be 6 digits")
		}
	}
	return raw, nil
}

// Page clamps limit to (0,100] with a default of 20 and offset to >= 0.
func Page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
