package errors

import "github.com/ashgrovegames/invoicecore/internal/platform/errors/i18n"

// Domain is the error domain for invoicecore errors.
const Domain = "github.com/ashgrovegames/invoicecore"

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Internal message (for logs/telemetry)
	Metadata map[string]string // Additional context for templating
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a simple domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WithMetadata creates a domain error with metadata for i18n templating.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Metadata: metadata,
	}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WrapWithMetadata creates a domain error with both metadata and a cause.
func WrapWithMetadata(code Code, message string, metadata map[string]string, cause error) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Metadata: metadata,
		Cause:    cause,
	}
}

// LocalizedMessage renders the user-facing message for this error in the
// given locale, falling back to en-US, via the error i18n catalog.
func (e *Error) LocalizedMessage(locale string) string {
	if e == nil {
		return ""
	}
	return i18n.GetCatalog(locale).Format(string(e.Code), e.Metadata)
}

// ToFrame renders this error as a WebSocket error frame of the given type.
// Metadata keys become top-level frame fields so identifiers such as
// invoiceNumber travel with the frame without re-marshalling.
func (e *Error) ToFrame(frameType, locale string) map[string]any {
	frame := map[string]any{
		"type":    frameType,
		"status":  "error",
		"message": e.LocalizedMessage(locale),
	}
	for key, value := range e.Metadata {
		if _, taken := frame[key]; !taken {
			frame[key] = value
		}
	}
	return frame
}
