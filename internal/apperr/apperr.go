// Package apperr is the typed error taxonomy shared by the ingestion gate,
// the aggregator and every transport that reports their failures.
package apperr

import (
	"errors"
	"net/http"
)

type Kind string

const (
	KindInvalidPayload   Kind = "invalid_payload"
	KindUnauthorized     Kind = "unauthorized"
	KindStoreUnavailable Kind = "store_unavailable"
	KindCorruptRecord    Kind = "corrupt_record"
	KindNotFound         Kind = "not_found"
)

// Error carries a caller-safe message. Err holds the underlying cause for
// logs and is never rendered to clients.
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

func (e *Error) Unwrap() error { return e.Err }

func InvalidPayload(msg string) error {
	return &Error{Kind: KindInvalidPayload, Msg: msg}
}

func Unauthorized(msg string) error {
	return &Error{Kind: KindUnauthorized, Msg: msg}
}

func NotFound(msg string) error {
	return &Error{Kind: KindNotFound, Msg: msg}
}

// StoreUnavailable wraps a store failure. The message is what the caller
// sees, so it names the operation and not the store.
func StoreUnavailable(op string, err error) error {
	return &Error{Kind: KindStoreUnavailable, Msg: op + " failed, retry later", Err: err}
}

func CorruptRecord(msg string) error {
	return &Error{Kind: KindCorruptRecord, Msg: msg}
}

// KindOf returns the kind of the first *Error in err's chain. Unclassified
// errors are treated as store failures so they stay retryable.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStoreUnavailable
}

// Message returns the caller-safe message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "internal error"
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidPayload:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
