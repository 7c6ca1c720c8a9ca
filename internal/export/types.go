// Package export renders catalog items to downloadable files and can
// archive the result in an S3-compatible bucket.
package export

import (
	"errors"
	"fmt"
	"strings"

	"audiolibri/api/internal/catalog"
	"audiolibri/api/internal/selection"
)

// Format represents the export output format
type Format string

const (
	FormatJSON    Format = "json"
	FormatCSV     Format = "csv"
	FormatXML     Format = "xml"
	FormatParquet Format = "parquet"
	FormatPDF     Format = "pdf"
)

// Scope selects which items are exported.
type Scope string

const (
	ScopeAll      Scope = "all"
	ScopeFiltered Scope = "filtered"
	ScopeModified Scope = "modified"
)

func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case FormatJSON, FormatCSV, FormatXML, FormatParquet, FormatPDF:
		return f, nil
	case "":
		return FormatJSON, nil
	}
	return "", catalog.NewValidationError("format", fmt.Sprintf("unsupported export format %q", raw))
}

func ParseScope(raw string) (Scope, error) {
	switch s := Scope(strings.ToLower(strings.TrimSpace(raw))); s {
	case ScopeAll, ScopeFiltered, ScopeModified:
		return s, nil
	case "":
		return ScopeAll, nil
	}
	return "", catalog.NewValidationError("scope", fmt.Sprintf("unsupported export scope %q", raw))
}

// Request contains parameters for an export operation
type Request struct {
	Format Format
	Scope  Scope
	Query  selection.Query
	Upload bool
}

// Change is one pending field edit shown in reports.
type Change struct {
	Field    catalog.Field
	Original any
	Current  any
}

// Row is one exported item with its effective values.
type Row struct {
	ID      string
	Item    *catalog.Item
	Pending bool
	Added   bool
	Changes []Change
}

// Result contains the export output
type Result struct {
	Data      []byte
	Filename  string
	MimeType  string
	ItemCount int
	ObjectKey string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrArchiveNotConfigured is returned when an upload is requested without a bucket.
	ErrArchiveNotConfigured = errors.New("export archive not configured")
)
