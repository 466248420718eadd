package httpapi

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"academyportal/internal/apperr"
	"academyportal/internal/httpmiddleware"
)

var messages = map[apperr.Code]string{
	apperr.CodeUnauthenticated: "Please log in to continue.",
	apperr.CodeForbidden:       "You are not allowed to do that.",
	apperr.CodeNotAMember:      "Your account is not linked to a member profile. Ask the front desk to link it.",
	apperr.CodeMalformedToken:  "This check-in code is not valid.",
	apperr.CodeTokenExpired:    "This check-in code has expired. Ask your instructor to show a new one.",
	apperr.CodeWeekdayMismatch: "This class does not meet on that date.",
	apperr.CodeNotFound:        "Class or record not found.",
	apperr.CodeInternal:        "Something went wrong. Please try again.",
}

type errorBody struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
}

// fail writes the error envelope. Internal errors are logged with the trace
// id and never leak detail to the client.
func fail(c *gin.Context, err error) {
	code := apperr.CodeOf(err)
	status := apperr.HTTPStatus(err)
	_ = c.Error(err)

	msg := messages[code]
	switch {
	case apperr.IsInternal(err):
		log.Error().Err(err).
			Str("trace_id", httpmiddleware.TraceID(c)).
			Str("path", c.FullPath()).
			Msg("request failed")
	case code == apperr.CodeInvalidInput:
		msg = inputMessage(err)
	}

	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   errorBody{Code: code, Message: msg},
	})
}

// inputMessage keeps only the validation detail of an ErrInvalidInput.
func inputMessage(err error) string {
	msg := err.Error()
	prefix := apperr.ErrInvalidInput.Error() + ": "
	if i := strings.Index(msg, prefix); i >= 0 {
		return msg[i+len(prefix):]
	}
	return msg
}
