package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport mapping and retry decisions.
type Kind int

const (
	// KindUnknown covers errors that carry no classification.
	KindUnknown Kind = iota
	// KindValidation marks rejected input (bad ids, out-of-range values).
	KindValidation
	// KindNotFound marks lookups that matched nothing.
	KindNotFound
	// KindTransientStore marks key-value or document store connectivity
	// failures that are safe to retry.
	KindTransientStore
	// KindTransientBroker marks message bus connectivity failures and
	// publish rejections.
	KindTransientBroker
	// KindHandlerFailure marks background job handler errors.
	KindHandlerFailure
	// KindInconsistency marks index verification findings.
	KindInconsistency
)

// Error is a classified error. Use the constructors below; the zero Kind
// behaves like a plain wrapped error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newf(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// Validationf builds a validation error.
func Validationf(format string, args ...interface{}) *Error {
	return newf(KindValidation, nil, format, args...)
}

// NotFoundf builds a not-found error.
func NotFoundf(format string, args ...interface{}) *Error {
	return newf(KindNotFound, nil, format, args...)
}

// TransientStore wraps a store connectivity failure.
func TransientStore(cause error, format string, args ...interface{}) *Error {
	return newf(KindTransientStore, cause, format, args...)
}

// TransientBroker wraps a message bus failure.
func TransientBroker(cause error, format string, args ...interface{}) *Error {
	return newf(KindTransientBroker, cause, format, args...)
}

// HandlerFailure wraps a background job handler error.
func HandlerFailure(cause error, format string, args ...interface{}) *Error {
	return newf(KindHandlerFailure, cause, format, args...)
}

// Inconsistencyf builds an index inconsistency error.
func Inconsistencyf(format string, args ...interface{}) *Error {
	return newf(KindInconsistency, nil, format, args...)
}

// KindOf extracts the classification from err, unwrapping as needed.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return Is(err, KindNotFound)
}

// IsTransient reports whether err is retryable (store or broker).
func IsTransient(err error) bool {
	k := KindOf(err)
	return k == KindTransientStore || k == KindTransientBroker
}

// HTTPStatus maps an error to its transport status code. Validation maps to
// 400, not-found to 404, transient failures to 503, everything else to 500.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindTransientStore, KindTransientBroker:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
