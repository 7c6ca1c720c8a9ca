package export

import (
	"context"
	"fmt"
	"time"
)

// Service provides catalog export functionality
type Service struct {
	archiver *Archiver
	now      func() time.Time
}

// NewService creates a new export service. archiver may be nil when no
// bucket is configured.
func NewService(archiver *Archiver) *Service {
	return &Service{archiver: archiver, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Service) CanArchive() bool {
	return s.archiver != nil
}

// Export renders rows in the requested format and uploads the file when
// req.Upload is set.
func (s *Service) Export(ctx context.Context, req Request, rows []Row) (*Result, error) {
	if req.Upload && s.archiver == nil {
		return nil, ErrArchiveNotConfigured
	}
	now := s.now()
	name := fileStem(fmt.Sprintf("audiolibri-%s-%s", req.Scope, now.Format("20060102-150405")))

	var result *Result
	if req.Format == FormatPDF {
		html, err := RenderReportHTML(reportData("Audiolibri per genere: "+string(req.Scope), rows, now))
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		if result, err = renderPDF(ctx, html, name); err != nil {
			return nil, err
		}
	} else {
		data, ext, mime, err := encode(req.Format, rows)
		if err != nil {
			return nil, err
		}
		result = &Result{Data: data, Filename: name + ext, MimeType: mime}
	}
	result.ItemCount = len(rows)

	if req.Upload {
		key, err := s.archiver.Upload(ctx, result)
		if err != nil {
			return nil, err
		}
		result.ObjectKey = key
	}
	return result, nil
}

func encode(format Format, rows []Row) ([]byte, string, string, error) {
	var (
		data []byte
		err  error
	)
	switch format {
	case FormatJSON, "":
		data, err = encodeJSON(rows)
		return data, ".json", "application/json", err
	case FormatCSV:
		data, err = encodeCSV(rows)
		return data, ".csv", "text/csv; charset=utf-8", err
	case FormatXML:
		data, err = encodeXML(rows)
		return data, ".xml", "application/xml", err
	case FormatParquet:
		data, err = encodeParquet(rows)
		return data, ".parquet", "application/vnd.apache.parquet", err
	}
	return nil, "", "", fmt.Errorf("unsupported format: %s", format)
}
