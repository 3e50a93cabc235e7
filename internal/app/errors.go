package app

import (
	"fmt"
	"net/http"
)

// Error codes returned in the "code" field of error responses.
const (
	CodeInvalidBody         = "INVALID_BODY"
	CodeInvalidPath         = "INVALID_PATH"
	CodeValidation          = "VALIDATION_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeCycle               = "CYCLE"
	CodePageTrashed         = "PAGE_TRASHED"
	CodeNotInTrash          = "NOT_IN_TRASH"
	CodeAlreadySynced       = "ALREADY_SYNCED"
	CodeNotSyncedReference  = "NOT_SYNCED_REFERENCE"
	CodeVersionNotFound     = "VERSION_NOT_FOUND"
	CodeInvalidPageID       = "INVALID_PAGE_ID"
	CodeUnsupportedFormat   = "UNSUPPORTED_FORMAT"
	CodeExportUnavailable   = "EXPORT_UNAVAILABLE"
	CodeRealtimeUnavailable = "REALTIME_UNAVAILABLE"
	CodeServerError         = "SERVER_ERROR"
)

// DomainError is a failure the HTTP layer reports as-is: Status and Code
// go on the wire, Details is optional structured context.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches another DomainError by code, so callers can test
// errors.Is(err, &DomainError{Code: CodeCycle}).
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && e != nil && t.Code == e.Code
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, CodeValidation, message, details)
}
