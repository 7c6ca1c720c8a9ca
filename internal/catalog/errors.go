package catalog

import (
	"fmt"
	"net/http"
)

// ValidationError rejects malformed submission metadata or a field value.
// It is raised before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NoOpError reports that every pending value already matches the fresh
// remote document.
type NoOpError struct {
	Skipped []string
}

func (e *NoOpError) Error() string {
	return "no actual changes detected"
}

// RemoteFetchError wraps a failure reading the catalog or its fingerprint.
type RemoteFetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *RemoteFetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *RemoteFetchError) Unwrap() error { return e.Err }

// SubmitError wraps a failure on the branch/commit/pull-request path.
type SubmitError struct {
	Status int
	Op     string
	Err    error
}

func (e *SubmitError) Error() string {
	msg := SubmitMessage(e.Status)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SubmitError) Unwrap() error { return e.Err }

// Message is the user-facing text for the upstream status.
func (e *SubmitError) Message() string {
	return SubmitMessage(e.Status)
}

// SubmitMessage maps a status from the pull-request path to the message the
// editor shows.
func SubmitMessage(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "GitHub authentication failed"
	case http.StatusForbidden:
		return "Access denied, check the repository permissions"
	case http.StatusNotFound:
		return "Repository or file not found"
	case http.StatusUnprocessableEntity:
		return "Branch already exists or validation error"
	default:
		return "Failed to submit changes"
	}
}

// ImportError reports an unavailable importer or unparsable metadata.
type ImportError struct {
	URL string
	Err error
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("import %s: %v", e.URL, e.Err)
}

func (e *ImportError) Unwrap() error { return e.Err }
