package app

import (
	"errors"
	"fmt"
	"net/http"

	"audiolibri/api/internal/catalog"
	"audiolibri/api/internal/export"
	"audiolibri/api/internal/reconcile"
	"audiolibri/api/internal/session"
	"audiolibri/api/internal/store"
	"audiolibri/api/internal/tabular"
)

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

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var errSessionNotFound = domainError(http.StatusNotFound, "NOT_FOUND", "Session not found", nil)

func mapError(err error) (status int, code, message string, details any) {
	var (
		domainErr     *DomainError
		validationErr *catalog.ValidationError
		noOpErr       *catalog.NoOpError
		fetchErr      *catalog.RemoteFetchError
		submitErr     *catalog.SubmitError
		importErr     *catalog.ImportError
	)
	switch {
	case errors.As(err, &domainErr):
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	case errors.As(err, &validationErr):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", validationErr.Error(), map[string]any{"field": validationErr.Field}
	case errors.As(err, &noOpErr):
		var details any
		if len(noOpErr.Skipped) > 0 {
			details = map[string]any{"skipped": noOpErr.Skipped}
		}
		return http.StatusConflict, "NO_CHANGES", "No actual changes detected", details
	case errors.As(err, &fetchErr):
		return http.StatusBadGateway, "REMOTE_FETCH_FAILED", "Could not read the catalog", map[string]any{"status": fetchErr.Status}
	case errors.As(err, &submitErr):
		return http.StatusBadGateway, "SUBMIT_FAILED", submitErr.Message(), map[string]any{"status": submitErr.Status, "op": submitErr.Op}
	case errors.As(err, &importErr):
		return http.StatusBadGateway, "IMPORT_FAILED", importErr.Error(), nil
	case errors.Is(err, reconcile.ErrSubmissionInFlight), errors.Is(err, tabular.ErrSaveInFlight):
		return http.StatusConflict, "SUBMIT_IN_FLIGHT", "A submission is already in progress", nil
	case errors.Is(err, tabular.ErrUnsavedChanges):
		return http.StatusConflict, "UNSAVED_CHANGES", "Unsaved changes would be lost", nil
	case errors.Is(err, session.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, export.ErrArchiveNotConfigured):
		return http.StatusServiceUnavailable, "ARCHIVE_UNAVAILABLE", "Export archive not configured", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF export requires Chrome or Chromium", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
