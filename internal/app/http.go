package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"audiolibri/api/internal/catalog"
	"audiolibri/api/internal/export"
	"audiolibri/api/internal/importer"
	"audiolibri/api/internal/ledger"
	"audiolibri/api/internal/reconcile"
	"audiolibri/api/internal/selection"
	"audiolibri/api/internal/session"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	isRead := r.Method == http.MethodGet || r.Method == http.MethodHead

	if isRead && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":               true,
			"status":           "OK",
			"timestamp":        time.Now().UTC(),
			"backend":          s.service.cfg.Backend,
			"githubConfigured": s.service.cfg.GitHubReady(),
			"ytDlpAvailable":   s.service.ImporterAvailable(),
		})
		return
	}

	if isRead && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{}
		for name, err := range s.service.Readiness(ctx) {
			if err != nil {
				status = "not_ready"
				statusCode = http.StatusServiceUnavailable
				checks[name] = map[string]any{"status": "error", "error": err.Error()}
				continue
			}
			checks[name] = map[string]any{"status": "ok"}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if isRead && r.URL.Path == "/metrics" {
		s.service.Metrics().Handler().ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/data" {
		doc, err := s.service.Data(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(doc.Raw)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/data-hash" {
		fp, err := s.service.Fingerprint(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, fp)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		seq, _ := strconv.ParseUint(r.URL.Query().Get("seq"), 10, 64)
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		resp, err := s.service.Search(r.Context(), r.URL.Query().Get("query"), seq, limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/submit" {
		var body struct {
			reconcile.Request
			SessionID string `json:"sessionId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		body.Changes = normalizeDiff(body.Changes)
		result, err := s.service.Submit(r.Context(), body.SessionID, body.Request)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, submitResponse{Success: true, Message: "Pull request created", Result: result})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/data/save" {
		var changes catalog.Diff
		if err := decodeBody(r, &changes); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.Save(r.Context(), "", normalizeDiff(changes))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, submitResponse{Success: true, Message: "Changes saved", Result: result})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/import/video" {
		var body importBody
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		imported, err := s.service.ImportVideo(r.Context(), body.request())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "item": imported.Item, "id": imported.ID})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/import/playlist" {
		var body importBody
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		playlist, err := s.service.ImportPlaylist(r.Context(), body.request())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		ids := make([]string, 0, len(playlist.Items))
		for _, item := range playlist.Items {
			ids = append(ids, item.ID)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":        true,
			"items":          playlist.Items,
			"ids":            ids,
			"playlist_title": playlist.Title,
			"series_id":      playlist.SeriesID,
		})
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "submissions" {
		s.handleSubmissions(w, r, parts)
		return
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "sessions" {
		if len(parts) == 2 {
			if r.Method != http.MethodPost {
				writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
				return
			}
			var body struct {
				ID string `json:"id"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			view, err := s.service.OpenSession(r.Context(), body.ID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, view)
			return
		}
		s.handleSession(w, r, parts[2], parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

type submitResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	reconcile.Result
}

// importBody accepts both snake_case and camelCase content type keys.
type importBody struct {
	importer.Request
	ContentTypeCamel  string `json:"contentType"`
	CreateSeriesCamel *bool  `json:"createSeries"`
	Kind              string `json:"kind"`
}

func (b importBody) request() importer.Request {
	req := b.Request
	if req.ContentType == "" {
		req.ContentType = b.ContentTypeCamel
	}
	if b.CreateSeriesCamel != nil {
		req.CreateSeries = *b.CreateSeriesCamel
	}
	return req
}

func normalizeDiff(changes catalog.Diff) catalog.Diff {
	for _, fields := range changes {
		for name, value := range fields {
			fields[name] = catalog.Normalize(value)
		}
	}
	return changes
}

func (s *HTTPServer) handleSubmissions(w http.ResponseWriter, r *http.Request, parts []string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	if len(parts) == 2 {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		items, err := s.service.Submissions(r.Context(), r.URL.Query().Get("session"), limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
		return
	}
	if len(parts) == 3 {
		sub, edits, err := s.service.Submission(r.Context(), parts[2])
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"submission": sub, "history": edits})
		return
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request, sessionID string, rest []string) {
	ctx := r.Context()

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			view, err := s.service.SessionState(ctx, sessionID)
			respond(w, view, err)
		case http.MethodDelete:
			err := s.service.DiscardSession(ctx, sessionID)
			respond(w, map[string]any{"ok": true}, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	switch rest[0] {
	case "edits":
		s.handleEdits(w, r, sessionID, rest[1:])
		return

	case "items":
		if r.Method != http.MethodGet {
			break
		}
		q, err := parseQuery(r)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		page, err := s.service.Items(ctx, sessionID, q)
		respond(w, page, err)
		return

	case "history":
		if len(rest) == 1 && r.Method == http.MethodGet {
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			records, err := s.service.History(ctx, sessionID, ledger.Filter{
				Text:  r.URL.Query().Get("q"),
				Field: catalog.Field(r.URL.Query().Get("field")),
				Limit: limit,
			})
			respond(w, map[string]any{"items": records}, err)
			return
		}
		if len(rest) == 2 && r.Method == http.MethodDelete {
			record, err := s.service.UndoRecord(ctx, sessionID, rest[1])
			respond(w, map[string]any{"ok": true, "record": record}, err)
			return
		}

	case "search":
		if r.Method != http.MethodGet {
			break
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		resp, stale, err := s.service.SessionSearch(ctx, sessionID, r.URL.Query().Get("query"), limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"stale": stale, "result": resp})
		return

	case "selection":
		if r.Method != http.MethodPost {
			break
		}
		var body struct {
			Action string   `json:"action"`
			IDs    []string `json:"ids"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		selected, err := s.service.Select(ctx, sessionID, body.Action, body.IDs)
		respond(w, map[string]any{"selected": selected}, err)
		return

	case "bulk":
		if r.Method != http.MethodPost {
			break
		}
		var body struct {
			IDs   []string      `json:"ids"`
			Field catalog.Field `json:"field"`
			Value any           `json:"value"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		changed, err := s.service.BulkEdit(ctx, sessionID, body.IDs, body.Field, body.Value)
		respond(w, map[string]any{"changesCount": changed}, err)
		return

	case "genres":
		s.handleGenres(w, r, sessionID, rest[1:])
		return

	case "submit":
		if r.Method != http.MethodPost {
			break
		}
		var body SubmitMeta
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.SubmitSession(ctx, sessionID, body)
		respond(w, submitResponse{Success: true, Message: "Pull request created", Result: result}, err)
		return

	case "save":
		if r.Method != http.MethodPost {
			break
		}
		result, err := s.service.SaveSession(ctx, sessionID)
		respond(w, submitResponse{Success: true, Message: "Changes saved", Result: result}, err)
		return

	case "preferences":
		if r.Method != http.MethodPut {
			break
		}
		var prefs session.Preferences
		if err := decodeBody(r, &prefs); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		saved, err := s.service.SetPreferences(ctx, sessionID, prefs)
		respond(w, saved, err)
		return

	case "export":
		if r.Method != http.MethodGet {
			break
		}
		s.handleExport(w, r, sessionID)
		return

	case "imports":
		if r.Method != http.MethodPost {
			break
		}
		var body importBody
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		kind := body.Kind
		if kind == "" {
			kind = ImportVideo
		}
		result, err := s.service.ImportIntoSession(ctx, sessionID, kind, body.request())
		respond(w, result, err)
		return

	case "cells":
		s.handleCells(w, r, sessionID, rest[1:])
		return

	case "monitor":
		if r.Method == http.MethodGet {
			check := r.URL.Query().Get("check") == "1" || r.URL.Query().Get("check") == "true"
			status, err := s.service.MonitorStatus(ctx, sessionID, check)
			respond(w, status, err)
			return
		}
		if r.Method == http.MethodPut {
			var body struct {
				Active bool `json:"active"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			status, err := s.service.SetMonitoring(ctx, sessionID, body.Active)
			respond(w, status, err)
			return
		}

	case "reload":
		if r.Method != http.MethodPost {
			break
		}
		var body struct {
			Confirm bool `json:"confirm"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err := s.service.Reload(ctx, sessionID, body.Confirm)
		respond(w, view, err)
		return

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleEdits(w http.ResponseWriter, r *http.Request, sessionID string, rest []string) {
	ctx := r.Context()
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		var body EditInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.RecordEdit(ctx, sessionID, body)
		respond(w, result, err)
	case len(rest) == 0 && r.Method == http.MethodDelete:
		err := s.service.ClearEdits(ctx, sessionID)
		respond(w, map[string]any{"ok": true}, err)
	case len(rest) == 1 && r.Method == http.MethodDelete:
		reverted, err := s.service.RevertItem(ctx, sessionID, rest[0])
		respond(w, map[string]any{"reverted": reverted}, err)
	case len(rest) == 2 && r.Method == http.MethodDelete:
		reverted, err := s.service.RevertField(ctx, sessionID, rest[0], catalog.Field(rest[1]))
		respond(w, map[string]any{"reverted": reverted}, err)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleGenres(w http.ResponseWriter, r *http.Request, sessionID string, rest []string) {
	ctx := r.Context()
	if len(rest) == 0 && r.Method == http.MethodGet {
		report, err := s.service.Genres(ctx, sessionID)
		respond(w, report, err)
		return
	}
	if len(rest) != 1 || r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	var body struct {
		From    string   `json:"from"`
		To      string   `json:"to"`
		Sources []string `json:"sources"`
		Target  string   `json:"target"`
		Name    string   `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	var (
		changed int
		err     error
	)
	switch rest[0] {
	case "rename":
		changed, err = s.service.RenameGenre(ctx, sessionID, body.From, body.To)
	case "merge":
		changed, err = s.service.MergeGenres(ctx, sessionID, body.Sources, body.Target)
	case "delete":
		changed, err = s.service.DeleteGenre(ctx, sessionID, body.Name)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	respond(w, map[string]any{"changesCount": changed}, err)
}

func (s *HTTPServer) handleCells(w http.ResponseWriter, r *http.Request, sessionID string, rest []string) {
	ctx := r.Context()
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		q, err := parseQuery(r)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		page, err := s.service.Cells(ctx, sessionID, q)
		respond(w, page, err)
	case len(rest) == 0 && r.Method == http.MethodPost:
		var body CellInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.EditCell(ctx, sessionID, body)
		respond(w, result, err)
	case len(rest) == 1 && rest[0] == "undo" && r.Method == http.MethodPost:
		result, err := s.service.UndoCell(ctx, sessionID)
		respond(w, result, err)
	case len(rest) == 1 && rest[0] == "save" && r.Method == http.MethodPost:
		result, err := s.service.SaveCells(ctx, sessionID)
		respond(w, submitResponse{Success: true, Message: "Changes saved", Result: result}, err)
	case len(rest) == 1 && rest[0] == "columns" && r.Method == http.MethodGet:
		columns, err := s.service.Columns(ctx, sessionID)
		respond(w, columns, err)
	case len(rest) == 1 && rest[0] == "columns" && r.Method == http.MethodPut:
		var body struct {
			Visible []catalog.Field `json:"visible"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		columns, err := s.service.SetColumns(ctx, sessionID, body.Visible)
		respond(w, columns, err)
	case len(rest) == 1 && rest[0] == "bulk" && r.Method == http.MethodPost:
		var body BulkCellInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.BulkEditCells(ctx, sessionID, body)
		respond(w, result, err)
	case len(rest) == 1 && rest[0] == "rows" && r.Method == http.MethodPost:
		row, err := s.service.AddRow(ctx, sessionID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, row)
	case len(rest) == 1 && rest[0] == "export" && r.Method == http.MethodGet:
		page, err := s.service.ExportPage(ctx, sessionID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", page.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(page.Data)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, sessionID string) {
	params := r.URL.Query()
	format, err := export.ParseFormat(params.Get("format"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	scope, err := export.ParseScope(params.Get("scope"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	q, err := parseQuery(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	upload := params.Get("upload") == "1" || params.Get("upload") == "true"

	result, err := s.service.Export(r.Context(), sessionID, export.Request{Format: format, Scope: scope, Query: q, Upload: upload})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if upload {
		writeJSON(w, http.StatusOK, map[string]any{
			"filename":  result.Filename,
			"objectKey": result.ObjectKey,
			"itemCount": result.ItemCount,
		})
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

// parseQuery reads the selection query parameters.
func parseQuery(r *http.Request) (selection.Query, error) {
	params := r.URL.Query()
	status, err := selection.ParseStatus(params.Get("status"))
	if err != nil {
		return selection.Query{}, err
	}
	page, _ := strconv.Atoi(params.Get("page"))
	pageSize, _ := strconv.Atoi(params.Get("pageSize"))
	desc, _ := strconv.ParseBool(params.Get("desc"))
	return selection.Query{
		Text:        params.Get("q"),
		Column:      catalog.Field(params.Get("column")),
		ColumnValue: params.Get("value"),
		Status:      status,
		SortBy:      catalog.Field(params.Get("sort")),
		Descending:  desc,
		Page:        page,
		PageSize:    pageSize,
	}, nil
}

func respond(w http.ResponseWriter, payload any, err error) {
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func writeServiceError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway && status != http.StatusServiceUnavailable {
		log.Printf("app: request failed: %v", err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"success": false,
		"code":    code,
		"error":   message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
