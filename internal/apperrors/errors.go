package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure so the transport can map it to a response.
type Kind string

const (
	KindMissingFile      Kind = "missing_file"
	KindInvalidImage     Kind = "invalid_image"
	KindInvalidRequest   Kind = "invalid_request"
	KindForbidden        Kind = "forbidden"
	KindPayloadTooLarge  Kind = "payload_too_large"
	KindStorage          Kind = "storage_error"
	KindDetectionFailure Kind = "detection_failure"
	KindInternal         Kind = "internal"
)

// Error annotates a cause with its kind and the operation that produced it.
type Error struct {
	Kind      Kind
	Op        string
	RequestID string
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	prefix := string(e.Kind)
	if e.Op != "" {
		prefix = e.Op + " [" + string(e.Kind) + "]"
	}
	if e.RequestID != "" {
		prefix += " (request_id=" + e.RequestID + ")"
	}
	if e.Err == nil {
		return prefix
	}
	return fmt.Sprintf("%s: %v", prefix, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New wraps err with the given kind and operation. A nil err still produces
// an error, since some kinds (MissingFile) have no underlying cause.
func New(kind Kind, op, requestID string, err error) error {
	return &Error{Kind: kind, Op: op, RequestID: requestID, Err: err}
}

// KindOf returns the kind of the outermost classified error in the chain.
// Unclassified errors are reported as KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// StatusCode maps a kind to its HTTP status.
func StatusCode(kind Kind) int {
	switch kind {
	case KindMissingFile, KindInvalidImage, KindInvalidRequest:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the text placed in the response "error" field. Server
// side kinds never include the cause.
func PublicMessage(kind Kind) string {
	switch kind {
	case KindMissingFile:
		return "No file part"
	case KindInvalidImage:
		return "Image could not be loaded. Make sure it is in a supported format."
	case KindInvalidRequest:
		return "Invalid request"
	case KindForbidden:
		return "Child does not belong to the authenticated parent"
	case KindPayloadTooLarge:
		return "Uploaded file is too large"
	case KindStorage:
		return "Failed to store uploaded image"
	case KindDetectionFailure:
		return "Bead detection failed"
	default:
		return "Unexpected error occurred. Please try again later."
	}
}
