package app

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"audiolibri/api/internal/catalog"
	"audiolibri/api/internal/config"
	"audiolibri/api/internal/export"
	"audiolibri/api/internal/importer"
	"audiolibri/api/internal/ledger"
	"audiolibri/api/internal/metrics"
	"audiolibri/api/internal/reconcile"
	"audiolibri/api/internal/search"
	"audiolibri/api/internal/session"
	"audiolibri/api/internal/store"
	"audiolibri/api/internal/tabular"
)

// catalogSource reads the authoritative catalog document.
type catalogSource interface {
	Fetch(ctx context.Context) (catalog.Document, error)
}

// auditStore records submissions and archives the edit log they published.
type auditStore interface {
	Ping(ctx context.Context) error
	InsertSubmission(ctx context.Context, sub store.Submission) (store.Submission, error)
	ArchiveHistory(ctx context.Context, submissionID, sessionID string, records []ledger.Record) error
	ListSubmissions(ctx context.Context, sessionID string, limit int) ([]store.Submission, error)
	GetSubmission(ctx context.Context, id string) (store.Submission, error)
	ArchivedHistory(ctx context.Context, submissionID, itemID string, limit int) ([]store.ArchivedEdit, error)
}

type importerCLI interface {
	Available() bool
	ImportVideo(ctx context.Context, req importer.Request) (importer.Imported, error)
	ImportPlaylist(ctx context.Context, req importer.Request) (importer.Playlist, error)
}

// Deps are the collaborators of a Service. Audit and Importer may be nil.
type Deps struct {
	Source   catalogSource
	Flow     *reconcile.Flow
	Sessions session.Store
	Audit    auditStore
	Search   *search.Service
	Exports  *export.Service
	Importer importerCLI
	Metrics  *metrics.Metrics
}

type Service struct {
	cfg      config.Config
	source   catalogSource
	flow     *reconcile.Flow
	store    session.Store
	audit    auditStore
	search   *search.Service
	exports  *export.Service
	importer importerCLI
	metrics  *metrics.Metrics
	now      func() time.Time

	// ctx outlives requests; monitors and deferred saves run under it.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*editorSession
	pending  map[string]int
}

func New(cfg config.Config, deps Deps) *Service {
	if deps.Sessions == nil {
		deps.Sessions = session.NewMemoryStore()
	}
	if deps.Search == nil {
		deps.Search = search.NewService(nil)
	}
	if deps.Exports == nil {
		deps.Exports = export.NewService(nil)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:      cfg,
		source:   deps.Source,
		flow:     deps.Flow,
		store:    deps.Sessions,
		audit:    deps.Audit,
		search:   deps.Search,
		exports:  deps.Exports,
		importer: deps.Importer,
		metrics:  deps.Metrics,
		now:      func() time.Time { return time.Now().UTC() },
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*editorSession),
		pending:  make(map[string]int),
	}
}

// Close stops every session's poller and auto-saver.
func (s *Service) Close() {
	s.cancel()
	s.mu.Lock()
	open := make([]*editorSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()
	for _, sess := range open {
		sess.stop()
	}
}

func (s *Service) Metrics() *metrics.Metrics { return s.metrics }

// Ping checks the audit database and the session store.
func (s *Service) Ping(ctx context.Context) error {
	if s.audit != nil {
		if err := s.audit.Ping(ctx); err != nil {
			return err
		}
	}
	return s.store.Ping(ctx)
}

// Readiness reports the state of every backing service by name.
func (s *Service) Readiness(ctx context.Context) map[string]error {
	checks := map[string]error{"sessions": s.store.Ping(ctx)}
	if s.audit != nil {
		checks["database"] = s.audit.Ping(ctx)
	}
	return checks
}

func (s *Service) fetch(ctx context.Context) (catalog.Document, error) {
	doc, err := s.source.Fetch(ctx)
	if err != nil {
		s.metrics.FetchFailed()
		var fetchErr *catalog.RemoteFetchError
		if errors.As(err, &fetchErr) {
			return catalog.Document{}, err
		}
		return catalog.Document{}, &catalog.RemoteFetchError{Err: err}
	}
	if !s.search.IndexedFor(doc) {
		s.search.ReindexAsync(doc)
	}
	return doc, nil
}

// Data returns the current remote catalog.
func (s *Service) Data(ctx context.Context) (catalog.Document, error) {
	return s.fetch(ctx)
}

// Fingerprint describes the remote document for change polling. Sources
// that can fingerprint cheaply are asked directly.
func (s *Service) Fingerprint(ctx context.Context) (catalog.Fingerprint, error) {
	if fp, ok := s.source.(tabular.FingerprintSource); ok {
		result, err := fp.Fingerprint(ctx)
		if err != nil {
			s.metrics.FetchFailed()
		}
		return result, err
	}
	doc, err := s.fetch(ctx)
	if err != nil {
		return catalog.Fingerprint{}, err
	}
	return doc.Fingerprint(s.now()), nil
}

// Search runs a stateless search against a fresh copy of the catalog.
func (s *Service) Search(ctx context.Context, text string, seq uint64, limit int) (search.Response, error) {
	doc, err := s.fetch(ctx)
	if err != nil {
		return search.Response{}, err
	}
	resp := s.search.Search(ctx, doc, search.Query{Text: text, Seq: seq, Limit: limit})
	s.metrics.ObserveSearch(string(resp.Backend))
	return resp, nil
}

// Submit publishes changes with caller-supplied metadata. sessionID may be
// empty for stateless callers.
func (s *Service) Submit(ctx context.Context, sessionID string, req reconcile.Request) (reconcile.Result, error) {
	return s.publish(ctx, store.KindSubmit, sessionID, req, nil)
}

// Save publishes changes with generated metadata.
func (s *Service) Save(ctx context.Context, sessionID string, changes catalog.Diff) (reconcile.Result, error) {
	return s.publish(ctx, store.KindSave, sessionID, reconcile.SaveRequest(changes, s.now()), nil)
}

func (s *Service) publish(ctx context.Context, kind, sessionID string, req reconcile.Request, history []ledger.Record) (reconcile.Result, error) {
	started := time.Now()
	result, err := s.flow.Submit(ctx, req)
	elapsed := time.Since(started)
	outcome := reconcile.Outcome(err)
	s.metrics.ObserveSubmission(kind, outcome, elapsed)
	if !errors.Is(err, reconcile.ErrSubmissionInFlight) {
		s.recordSubmission(ctx, kind, sessionID, req, result, err, elapsed, history)
	}
	return result, err
}

func (s *Service) recordSubmission(ctx context.Context, kind, sessionID string, req reconcile.Request, result reconcile.Result, err error, elapsed time.Duration, history []ledger.Record) {
	if s.audit == nil {
		return
	}
	sub := store.Submission{
		SessionID:     sessionID,
		Kind:          kind,
		Outcome:       reconcile.Outcome(err),
		Branch:        req.BranchName,
		PRNumber:      result.PRNumber,
		PRURL:         result.PRURL,
		ChangesCount:  result.ChangesCount,
		FieldsChanged: result.FieldsChanged,
		ItemsAdded:    result.ItemsAdded,
		Skipped:       result.Skipped,
		DataHash:      result.DataHash,
		DurationMS:    elapsed.Milliseconds(),
	}
	if err != nil {
		sub.Error = err.Error()
		if sub.ChangesCount == 0 {
			sub.ChangesCount = len(req.Changes)
		}
	}
	// The request may have been cancelled; the audit row should still land.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	saved, insertErr := s.audit.InsertSubmission(ctx, sub)
	if insertErr != nil {
		log.Printf("app: record submission: %v", insertErr)
		return
	}
	if err == nil && len(history) > 0 {
		if archiveErr := s.audit.ArchiveHistory(ctx, saved.ID, sessionID, history); archiveErr != nil {
			log.Printf("app: archive history for %s: %v", saved.ID, archiveErr)
		}
	}
}

func (s *Service) Submissions(ctx context.Context, sessionID string, limit int) ([]store.Submission, error) {
	if s.audit == nil {
		return []store.Submission{}, nil
	}
	return s.audit.ListSubmissions(ctx, sessionID, limit)
}

func (s *Service) Submission(ctx context.Context, id string) (store.Submission, []store.ArchivedEdit, error) {
	if s.audit == nil {
		return store.Submission{}, nil, store.ErrNotFound
	}
	sub, err := s.audit.GetSubmission(ctx, id)
	if err != nil {
		return store.Submission{}, nil, err
	}
	edits, err := s.audit.ArchivedHistory(ctx, id, "", 0)
	if err != nil {
		return store.Submission{}, nil, err
	}
	return sub, edits, nil
}

func (s *Service) ImportVideo(ctx context.Context, req importer.Request) (importer.Imported, error) {
	if s.importer == nil {
		return importer.Imported{}, &catalog.ImportError{URL: req.URL, Err: importer.ErrUnavailable}
	}
	imported, err := s.importer.ImportVideo(ctx, req)
	s.metrics.ObserveImport("video", err)
	return imported, err
}

func (s *Service) ImportPlaylist(ctx context.Context, req importer.Request) (importer.Playlist, error) {
	if s.importer == nil {
		return importer.Playlist{}, &catalog.ImportError{URL: req.URL, Err: importer.ErrUnavailable}
	}
	playlist, err := s.importer.ImportPlaylist(ctx, req)
	s.metrics.ObserveImport("playlist", err)
	return playlist, err
}

func (s *Service) ImporterAvailable() bool {
	return s.importer != nil && s.importer.Available()
}
