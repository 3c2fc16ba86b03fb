package bare

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// Kind identifies a domain error independent of its HTTP status/body
// rendering (§7 of the spec).
type Kind string

const (
	KindMissingHeader     Kind = "MISSING_BARE_HEADER"
	KindInvalidHeader     Kind = "INVALID_BARE_HEADER"
	KindForbiddenHeader   Kind = "FORBIDDEN_BARE_HEADER"
	KindHostNotFound      Kind = "HOST_NOT_FOUND"
	KindConnectionRefused Kind = "CONNECTION_REFUSED"
	KindConnectionReset   Kind = "CONNECTION_RESET"
	KindConnectionTimeout Kind = "CONNECTION_TIMEOUT"
	KindUpgradeUnexpected Kind = "UPGRADE_UNEXPECTED"
	KindRateLimited       Kind = "CONNECTION_LIMIT_EXCEEDED"
	KindUnknown           Kind = "UNKNOWN"
)

// Error is the single error type the server core and version handlers
// funnel exceptions through. It carries the HTTP status to respond with and
// enough detail to render the {code, id, message, stack} body of §7.
type Error struct {
	Status  int
	Code    Kind
	ID      string
	Message string
	stack   error // non-nil only for Wrap(Unknown)
}

func (e *Error) Error() string {
	if e.Message != "" {
		return string(e.Code) + ": " + e.Message
	}

	return string(e.Code)
}

// New builds a BareError with the given status/kind/id/message.
func New(status int, code Kind, id, message string) *Error {
	return &Error{Status: status, Code: code, ID: id, Message: message}
}

// MissingHeader builds the MISSING_BARE_HEADER error for header name.
func MissingHeader(name string) *Error {
	return New(http.StatusBadRequest, KindMissingHeader, "request.headers."+name, "header "+name+" is required")
}

// InvalidHeader builds the INVALID_BARE_HEADER error for header name.
func InvalidHeader(name, reason string) *Error {
	return New(http.StatusBadRequest, KindInvalidHeader, "request.headers."+name, reason)
}

// ForbiddenHeader builds the FORBIDDEN_BARE_HEADER error for header name.
func ForbiddenHeader(name string) *Error {
	return New(http.StatusBadRequest, KindForbiddenHeader, "request.headers."+name, "header "+name+" is forbidden")
}

// ErrInvalidBareHeader is a sentinel usable with errors.Is/fmt.Errorf %w
// from packages that don't want to import net/http for the status code.
var ErrInvalidBareHeader = New(http.StatusBadRequest, KindInvalidHeader, "request.headers.x-bare-headers", "malformed x-bare-headers")

// Wrap turns an arbitrary error into an UNKNOWN BareError, capturing a
// stack trace via github.com/pkg/errors the first time it's wrapped so the
// optional §7 "stack" field reflects where the failure actually originated.
func Wrap(err error) *Error {
	if be, ok := err.(*Error); ok {
		return be
	}

	return &Error{
		Status:  http.StatusInternalServerError,
		Code:    KindUnknown,
		ID:      "error.Unknown",
		Message: err.Error(),
		stack:   errors.WithStack(err),
	}
}

// TransportError maps a lower-level dial/transport error into one of the
// HOST_NOT_FOUND/CONNECTION_REFUSED/CONNECTION_RESET/CONNECTION_TIMEOUT
// kinds, falling back to UNKNOWN.
func TransportError(err error) *Error {
	msg := err.Error()

	switch {
	case containsAny(msg, "no such host", "ENOTFOUND"):
		return New(http.StatusInternalServerError, KindHostNotFound, "error.HostNotFound", msg)
	case containsAny(msg, "connection refused", "ECONNREFUSED"):
		return New(http.StatusInternalServerError, KindConnectionRefused, "error.ConnectionRefused", msg)
	case containsAny(msg, "connection reset", "ECONNRESET"):
		return New(http.StatusInternalServerError, KindConnectionReset, "error.ConnectionReset", msg)
	case containsAny(msg, "timeout", "i/o timeout", "ETIMEDOUT"):
		return New(http.StatusInternalServerError, KindConnectionTimeout, "error.ConnectionTimeout", msg)
	default:
		return Wrap(err)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}

	return false
}

// body renders the JSON error body shape: {code, id, message?, stack?}.
type body struct {
	Code    Kind   `json:"code"`
	ID      string `json:"id"`
	Message string `json:"message,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

// WriteJSON writes the standard error body to w, optionally including the
// captured stack trace when logErrors is enabled for UNKNOWN errors.
func (e *Error) WriteJSON(w http.ResponseWriter, logErrors bool) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)

	b := body{Code: e.Code, ID: e.ID, Message: e.Message}

	if logErrors && e.Code == KindUnknown && e.stack != nil {
		b.Stack = fmt.Sprintf("%+v", e.stack)
	}

	_ = json.NewEncoder(w).Encode(b)
}
