package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error taxonomy shared by the session and check-in subsystem.
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("forbidden")
	ErrNotAMember      = errors.New("no member profile linked to this account")
	ErrMalformedToken  = errors.New("malformed check-in token")
	ErrTokenExpired    = errors.New("check-in token expired")
	ErrWeekdayMismatch = errors.New("class does not meet on this date")
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrStorage         = errors.New("storage unavailable")
)

// Code is the stable machine-readable error code sent to clients.
type Code string

const (
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeForbidden       Code = "FORBIDDEN"
	CodeNotAMember      Code = "NOT_A_MEMBER"
	CodeMalformedToken  Code = "MALFORMED_TOKEN"
	CodeTokenExpired    Code = "TOKEN_EXPIRED"
	CodeWeekdayMismatch Code = "WEEKDAY_MISMATCH"
	CodeNotFound        Code = "NOT_FOUND"
	CodeInvalidInput    Code = "INVALID_INPUT"
	CodeInternal        Code = "INTERNAL_ERROR"
)

type mapping struct {
	target error
	status int
	code   Code
}

var mappings = []mapping{
	{ErrUnauthenticated, http.StatusUnauthorized, CodeUnauthenticated},
	{ErrForbidden, http.StatusForbidden, CodeForbidden},
	{ErrNotAMember, http.StatusForbidden, CodeNotAMember},
	{ErrMalformedToken, http.StatusBadRequest, CodeMalformedToken},
	{ErrTokenExpired, http.StatusBadRequest, CodeTokenExpired},
	{ErrWeekdayMismatch, http.StatusBadRequest, CodeWeekdayMismatch},
	{ErrNotFound, http.StatusNotFound, CodeNotFound},
	{ErrInvalidInput, http.StatusBadRequest, CodeInvalidInput},
}

// HTTPStatus maps an error to its response status. Anything outside the
// taxonomy, ErrStorage included, is a 500.
func HTTPStatus(err error) int {
	for _, m := range mappings {
		if errors.Is(err, m.target) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// CodeOf returns the client-facing code for err.
func CodeOf(err error) Code {
	for _, m := range mappings {
		if errors.Is(err, m.target) {
			return m.code
		}
	}
	return CodeInternal
}

// IsInternal reports whether err must be hidden from clients. A nil error
// is not internal.
func IsInternal(err error) bool {
	return err != nil && HTTPStatus(err) == http.StatusInternalServerError
}

// Storage wraps a persistence failure so callers can tell it apart from
// "not found" or "unauthenticated".
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
