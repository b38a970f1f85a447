package sessiondto

import "errors"

// Error codes shared with the presentation layer.
const (
	CodeValidation = "validation"
	CodeNotFound   = "not_found"
	CodeTransient  = "transient"
)

type DomainError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "session coordination error"
}

func Validation(msg string) DomainError { return DomainError{Code: CodeValidation, Message: msg} }

func NotFound(msg string) DomainError { return DomainError{Code: CodeNotFound, Message: msg} }

func Transient(msg string) DomainError {
	return DomainError{Code: CodeTransient, Message: msg, Retryable: true}
}

// IsValidation reports whether err was a local rejection that never reached the store.
func IsValidation(err error) bool {
	var de DomainError
	return errors.As(err, &de) && de.Code == CodeValidation
}

func IsNotFound(err error) bool {
	var de DomainError
	return errors.As(err, &de) && de.Code == CodeNotFound
}

// IsRetryable reports whether the caller may retry the same action unchanged.
func IsRetryable(err error) bool {
	var de DomainError
	return errors.As(err, &de) && de.Retryable
}
