package events

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnrecognizedEnumeration is recovered locally by substituting the
	// Unknown member and is never returned to a caller.
	CodeUnrecognizedEnumeration Code = "UNRECOGNIZED_ENUMERATION"
	// CodeMalformedPayload marks text that is not a valid event object.
	CodeMalformedPayload Code = "MALFORMED_PAYLOAD"
)

// ErrMalformedPayload matches any malformed payload error with errors.Is.
var ErrMalformedPayload = &Error{Code: CodeMalformedPayload, Message: "malformed payload"}

type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

func malformed(message string, cause error) *Error {
	return &Error{Code: CodeMalformedPayload, Message: message, Cause: cause}
}
