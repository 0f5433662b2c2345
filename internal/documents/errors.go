package documents

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"docseal/portal/portal-backend/pkg/qr"
	"docseal/portal/portal-backend/pkg/security"
)

var (
	ErrNotFound           = errors.New("document not found")
	ErrInvalidInput       = security.ErrInvalidInput
	ErrMissingField       = qr.ErrMissingField
	ErrEncoding           = qr.ErrEncoding
	ErrStorage            = errors.New("storage failure")
	ErrAlreadySigned      = errors.New("document already signed")
	ErrSigningInProgress  = errors.New("document is being signed")
	ErrForbidden          = errors.New("document belongs to another owner")
	ErrAccessCodeRequired = errors.New("access code required")
	ErrBatchCancelled     = errors.New("batch cancelled")
)

// StorageError wraps a failing call to the record or artifact store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// PartialFailureError lists the artifact keys that could not be removed.
type PartialFailureError struct {
	Failed map[string]error
}

func (e *PartialFailureError) Error() string {
	keys := make([]string, 0, len(e.Failed))
	for k, err := range e.Failed {
		keys = append(keys, fmt.Sprintf("%s (%v)", k, err))
	}
	return "failed to delete artifacts: " + strings.Join(keys, ", ")
}

func (e *PartialFailureError) Is(target error) bool {
	return target == ErrStorage
}

// StatusCode maps a service error onto an HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrMissingField):
		return http.StatusBadRequest
	case errors.Is(err, ErrEncoding):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrAccessCodeRequired):
		return http.StatusUnauthorized
	case errors.Is(err, ErrAlreadySigned), errors.Is(err, ErrSigningInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrStorage):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
