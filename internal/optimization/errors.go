package optimization

import "fmt"

// Error is a configuration or engine error carrying the component and
// operation that produced it. Evaluation failures never surface as an
// Error; they are absorbed by the Evaluator per the failure rule.
type Error struct {
	// Message describes what went wrong.
	Message string
	// Op is the operation that failed, e.g. "validate".
	Op string
	// Component is the engine or package the error came from.
	Component string
	// Err is the wrapped cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var prefix string
	switch {
	case e.Component != "" && e.Op != "":
		prefix = fmt.Sprintf("%s: %s", e.Component, e.Op)
	case e.Component != "":
		prefix = e.Component
	case e.Op != "":
		prefix = e.Op
	}

	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if prefix != "" {
		return fmt.Sprintf("%s: %s", prefix, msg)
	}
	return msg
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WithOperation tags the error with the failing operation.
func (e *Error) WithOperation(op string) *Error {
	e.Op = op
	return e
}

// WithComponent tags the error with its originating component.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// NewError creates an error with the given message.
func NewError(message string) *Error {
	return &Error{Message: message}
}

// NewErrorf creates an error with a formatted message.
func NewErrorf(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps a cause with additional context. Returns nil for a nil
// cause.
func WrapError(err error, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Message: message, Err: err}
}
