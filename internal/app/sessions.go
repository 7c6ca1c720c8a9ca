package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"audiolibri/api/internal/catalog"
	"audiolibri/api/internal/export"
	"audiolibri/api/internal/importer"
	"audiolibri/api/internal/ledger"
	"audiolibri/api/internal/reconcile"
	"audiolibri/api/internal/search"
	"audiolibri/api/internal/selection"
	"audiolibri/api/internal/session"
	"audiolibri/api/internal/store"
	"audiolibri/api/internal/tabular"
	"audiolibri/api/internal/util"
)

// editorSession is one user's working copy: the fetched snapshot, the
// single-item editor's ledger and the tabular editor's cell ledger. mu
// guards every field; it is held across a submission so the ledger that
// gets cleared is the one that was published.
type editorSession struct {
	id string
	mu sync.Mutex

	doc         catalog.Document
	ledger      *ledger.Ledger
	grid        *tabular.CellLedger
	columns     tabular.Columns
	view        *selection.View
	gridView    *selection.View
	seq         selection.Sequencer
	selected    *selection.Set
	prefs       session.Preferences
	savePending bool
	closed      bool

	autosave    *tabular.AutoSaver
	monitor     *tabular.Monitor
	lastSavedAt time.Time
	lastSaveErr string
}

func (sess *editorSession) stop() {
	sess.autosave.Stop()
	sess.monitor.Stop()
}

func (sess *editorSession) gridPending() bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return !sess.closed && sess.grid.Pending()
}

// foldPublishedLocked applies a successful publish to the session snapshot
// and rebuilds the ledger on it, so the published values stay visible until
// the next reload. With keep set the remaining ledger entries survive the
// rebase; the ones the publish covered are pruned.
func (sess *editorSession) foldPublishedLocked(changes catalog.Diff, additions map[string]*catalog.Item, keep bool) {
	applied := reconcile.Apply(sess.doc.Snapshot, changes, additions)
	rebased := ledger.New(applied.Document)
	if keep {
		rebased.Restore(sess.ledger.State())
	}
	sess.doc.Snapshot = applied.Document
	sess.ledger = rebased
}

func (sess *editorSession) autoSaved(err error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err != nil {
		sess.lastSaveErr = err.Error()
		return
	}
	sess.lastSaveErr = ""
}

type SessionView struct {
	ID            string                `json:"id"`
	DataHash      string                `json:"dataHash"`
	ItemCount     int                   `json:"itemCount"`
	PendingItems  int                   `json:"pendingItems"`
	PendingFields int                   `json:"pendingFields"`
	Changes       catalog.Diff          `json:"changes"`
	Additions     []string              `json:"additions"`
	HistoryCount  int                   `json:"historyCount"`
	Selected      []string              `json:"selected"`
	Query         selection.Query       `json:"query"`
	Preferences   session.Preferences   `json:"preferences"`
	SavePending   bool                  `json:"savePending"`
	Grid          GridView              `json:"grid"`
	Monitor       tabular.MonitorStatus `json:"monitor"`
}

type GridView struct {
	Rows              int        `json:"rows"`
	Cells             int        `json:"cells"`
	CanUndo           bool       `json:"canUndo"`
	AutoSaveScheduled bool       `json:"autoSaveScheduled"`
	LastSavedAt       *time.Time `json:"lastSavedAt,omitempty"`
	LastError         string     `json:"lastError,omitempty"`
}

func (sess *editorSession) viewLocked() SessionView {
	additions := sess.ledger.AdditionIDs()
	if additions == nil {
		additions = []string{}
	}
	grid := GridView{
		Rows:              sess.grid.Len(),
		Cells:             sess.grid.CellCount(),
		CanUndo:           sess.grid.CanUndo(),
		AutoSaveScheduled: sess.autosave.Scheduled(),
		LastError:         sess.lastSaveErr,
	}
	if !sess.lastSavedAt.IsZero() {
		saved := sess.lastSavedAt
		grid.LastSavedAt = &saved
	}
	return SessionView{
		ID:            sess.id,
		DataHash:      catalog.HashBytes(sess.doc.Raw),
		ItemCount:     sess.doc.Snapshot.Len(),
		PendingItems:  sess.ledger.Len(),
		PendingFields: sess.ledger.FieldCount(),
		Changes:       sess.ledger.ToDiffPayload(),
		Additions:     additions,
		HistoryCount:  sess.ledger.History().Len(),
		Selected:      sess.selected.IDs(),
		Query:         sess.view.Query(),
		Preferences:   sess.prefs,
		SavePending:   sess.savePending,
		Grid:          grid,
		Monitor:       sess.monitor.Status(),
	}
}

// OpenSession returns the session with id, loading it from the session
// store or creating it when unknown. An empty id creates a new session.
func (s *Service) OpenSession(ctx context.Context, id string) (SessionView, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = util.NewID("ses")
	}
	sess, err := s.session(ctx, id, true)
	if err != nil {
		return SessionView{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.viewLocked(), nil
}

// session finds an open session, rehydrating it from the store when this
// instance has not seen it yet.
func (s *Service) session(ctx context.Context, id string, create bool) (*editorSession, error) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if ok {
		return sess, nil
	}

	state, err := s.store.Load(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		if !create {
			return nil, errSessionNotFound
		}
		state = session.State{Preferences: session.DefaultPreferences(s.cfg.PageSize, s.cfg.PollMinutes)}
	} else if err != nil {
		return nil, err
	}

	sess, err = s.newSession(ctx, id, state)
	if err != nil {
		return nil, err
	}
	return s.register(sess, state.SavePending), nil
}

func (s *Service) newSession(ctx context.Context, id string, state session.State) (*editorSession, error) {
	doc, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	l := ledger.New(doc.Snapshot)
	l.Restore(state.Ledger())

	prefs := state.Preferences
	if prefs.Validate() != nil {
		prefs = session.DefaultPreferences(s.cfg.PageSize, s.cfg.PollMinutes)
	}
	sess := &editorSession{
		id:          id,
		doc:         doc,
		ledger:      l,
		grid:        tabular.NewCellLedger(doc.Snapshot, tabular.NewValidator()),
		columns:     tabular.ExtractColumns(doc.Snapshot),
		view:        selection.NewView(prefs.ItemsPerPage),
		gridView:    selection.NewView(prefs.ItemsPerPage),
		selected:    selection.NewSet(),
		prefs:       prefs,
		savePending: state.SavePending,
	}
	sess.autosave = tabular.NewAutoSaver(s.cfg.AutoSaveQuiet, sess.gridPending, func(ctx context.Context) error {
		_, err := s.saveGrid(ctx, sess)
		return err
	}, sess.autoSaved)
	sess.monitor = tabular.NewMonitor(s, catalog.HashBytes(doc.Raw), func(catalog.Fingerprint) {
		s.metrics.RemoteChanged()
	})
	return sess, nil
}

// register publishes sess unless another request won the race, in which
// case the earlier session is kept.
func (s *Service) register(sess *editorSession, resumeSave bool) *editorSession {
	s.mu.Lock()
	if existing, ok := s.sessions[sess.id]; ok {
		s.mu.Unlock()
		sess.stop()
		return existing
	}
	s.sessions[sess.id] = sess
	s.pending[sess.id] = sess.ledger.Len()
	s.updateGaugesLocked()
	s.mu.Unlock()

	sess.monitor.Start(s.ctx, time.Duration(sess.prefs.MonitorIntervalMinutes)*time.Minute)
	if resumeSave {
		go s.resumeSave(sess)
	}
	return sess
}

// resumeSave finishes a save that was requested but never completed,
// typically because the server stopped mid-request.
func (s *Service) resumeSave(sess *editorSession) {
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Minute)
	defer cancel()
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed || !sess.savePending {
		return
	}
	if sess.ledger.Empty() {
		sess.savePending = false
		s.persist(ctx, sess)
		return
	}
	log.Printf("app: resuming interrupted save for session %s", sess.id)
	if _, err := s.saveLedger(ctx, sess); err != nil {
		log.Printf("app: resumed save for session %s failed: %v", sess.id, err)
	}
}

func (s *Service) updateGaugesLocked() {
	total := 0
	for _, n := range s.pending {
		total += n
	}
	s.metrics.SetSessions(len(s.sessions), total)
}

// persist writes the session state. Failures are logged; the in-memory
// session stays authoritative. The caller holds sess.mu.
func (s *Service) persist(ctx context.Context, sess *editorSession) {
	if sess.closed {
		return
	}
	state := session.FromLedger(sess.ledger.State())
	state.SavePending = sess.savePending
	state.Preferences = sess.prefs
	state.UpdatedAt = s.now()

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.store.Save(saveCtx, sess.id, state); err != nil {
		log.Printf("app: persist session %s: %v", sess.id, err)
	}

	s.mu.Lock()
	if _, ok := s.sessions[sess.id]; ok {
		s.pending[sess.id] = sess.ledger.Len()
		s.updateGaugesLocked()
	}
	s.mu.Unlock()
}

// withSession runs fn with the session locked.
func (s *Service) withSession(ctx context.Context, id string, fn func(sess *editorSession) error) error {
	sess, err := s.session(ctx, id, false)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return errSessionNotFound
	}
	return fn(sess)
}

func (s *Service) SessionState(ctx context.Context, id string) (SessionView, error) {
	var view SessionView
	err := s.withSession(ctx, id, func(sess *editorSession) error {
		view = sess.viewLocked()
		return nil
	})
	return view, err
}

// DiscardSession drops the session everywhere, pending edits included.
func (s *Service) DiscardSession(ctx context.Context, id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	delete(s.pending, id)
	s.updateGaugesLocked()
	s.mu.Unlock()

	if ok {
		sess.mu.Lock()
		sess.closed = true
		sess.stop()
		sess.mu.Unlock()
	}
	return s.store.Delete(ctx, id)
}

// Watch subscribes to session writes from other instances and reloads the
// matching open sessions. It returns once the subscription is set up; events
// are handled until ctx ends.
func (s *Service) Watch(ctx context.Context) error {
	return s.store.Subscribe(ctx, func(event session.Event) {
		s.mu.Lock()
		sess, ok := s.sessions[event.SessionID]
		s.mu.Unlock()
		if !ok {
			return
		}
		state, err := s.store.Load(ctx, event.SessionID)
		if err != nil {
			log.Printf("app: reload session %s: %v", event.SessionID, err)
			return
		}
		sess.mu.Lock()
		defer sess.mu.Unlock()
		if sess.closed {
			return
		}
		sess.ledger.Restore(state.Ledger())
		sess.savePending = state.SavePending
		if state.Preferences.Validate() == nil {
			sess.prefs = state.Preferences
		}
		s.mu.Lock()
		s.pending[sess.id] = sess.ledger.Len()
		s.updateGaugesLocked()
		s.mu.Unlock()
	})
}

type EditInput struct {
	ItemID string        `json:"itemId"`
	Field  catalog.Field `json:"field"`
	Value  any           `json:"value"`
}

type EditResult struct {
	Changed bool          `json:"changed"`
	ItemID  string        `json:"itemId"`
	Field   catalog.Field `json:"field"`
	Value   any           `json:"value"`
	Pending bool          `json:"pending"`
}

func (s *Service) RecordEdit(ctx context.Context, id string, input EditInput) (EditResult, error) {
	if strings.TrimSpace(input.ItemID) == "" {
		return EditResult{}, catalog.NewValidationError("itemId", "item id is required")
	}
	if strings.TrimSpace(string(input.Field)) == "" {
		return EditResult{}, catalog.NewValidationError("field", "field is required")
	}
	var result EditResult
	err := s.withSession(ctx, id, func(sess *editorSession) error {
		changed := sess.ledger.RecordEdit(input.ItemID, input.Field, catalog.Normalize(input.Value))
		if changed {
			s.persist(ctx, sess)
		}
		result = EditResult{
			Changed: changed,
			ItemID:  input.ItemID,
			Field:   input.Field,
			Value:   sess.ledger.Effective(input.ItemID, input.Field),
			Pending: sess.ledger.HasPending(input.ItemID),
		}
		return nil
	})
	return result, err
}

func (s *Service) ClearEdits(ctx context.Context, id string) error {
	return s.withSession(ctx, id, func(sess *editorSession) error {
		sess.ledger.ClearAll()
		sess.savePending = false
		s.persist(ctx, sess)
		return nil
	})
}

func (s *Service) RevertItem(ctx context.Context, id, itemID string) (bool, error) {
	var reverted bool
	err := s.withSession(ctx, id, func(sess *editorSession) error {
		if reverted = sess.ledger.RevertItem(itemID); reverted {
			s.persist(ctx, sess)
		}
		return nil
	})
	return reverted, err
}

func (s *Service) RevertField(ctx context.Context, id, itemID string, field catalog.Field) (bool, error) {
	var reverted bool
	err := s.withSession(ctx, id, func(sess *editorSession) error {
		if reverted = sess.ledger.RevertField(itemID, field); reverted {
			s.persist(ctx, sess)
		}
		return nil
	})
	return reverted, err
}

func (s *Service) History(ctx context.Context, id string, filter ledger.Filter) ([]ledger.Record, error) {
	var records []ledger.Record
	err := s.withSession(ctx, id, func(sess *editorSession) error {
		records = sess.ledger.History().Query(filter)
		return nil
	})
	return records, err
}

// UndoRecord reverts the field a history record touched.
func (s *Service) UndoRecord(ctx context.Context, id, recordID string) (ledger.Record, error) {
	var record ledger.Record
	err := s.withSession(ctx, id, func(sess *editorSession) error {
		found, ok := sess.ledger.History().Find(recordID)
		if !ok {
			return domainError(http.StatusNotFound, "NOT_FOUND", "History record not found", nil)
		}
		record = found
		if sess.ledger.RevertField(found.ItemID, found.Field) {
			s.persist(ctx, sess)
		}
		return nil
	})
	return record, err
}

// Items pages over the effective catalog. Changing any filter resets the
// page to 1.
func (s *Service) Items(ctx context.Context, id string, q selection.Query) (selection.Page, error) {
	var page selection.Page
	err := s.withSession(ctx, id, func(sess *editorSession) error {
		page = selection.Select(sess.ledger, sess.view.Update(q))
		return nil
	})
	return page, err
}

// Selection actions.
const (
	SelectAdd    = "add"
	SelectRemove = "remove"
	SelectToggle = "toggle"
	SelectSet    = "set"
	SelectClear  = "clear"
)

func (s *Service) Select(ctx context.Context, id, action string, ids []string) ([]string, error) {
	var selected []string
	err := s.withSession(ctx, id, func(sess *editorSession) error {
		switch action {
		case SelectAdd:
			for _, itemID := range ids {
				sess.selected.Add(itemID)
			}
		case SelectRemove:
			for _, itemID := range ids {
				sess.selected.Remove(itemID)
			}
		case SelectToggle:
			for _, itemID := range ids {
				sess.selected.Toggle(itemID)
			}
		case SelectSet:
			sess.selected.Clear()
			for _, itemID := range ids {
				sess.selected.Add(itemID)
			}
		case SelectClear:
			sess.selected.Clear()
		default:
			return catalog.NewValidationError("action", "unknown selection action")
		}
		selected = sess.selected.IDs()
		return nil
	})
	return selected, err
}

// BulkEdit applies value to every id, or to the current selection when ids
// is empty, and clears the selection.
func (s *Service) BulkEdit(ctx context.Context, id string, ids []string, field catalog.Field, value any) (int, error) {
	if strings.TrimSpace(string(field)) == "" {
		return 0, catalog.NewValidationError("field", "field is required")
	}
	var changed int
	err := s.withSession(ctx, id, func(sess *editorSession) error {
		targets := ids
		if len(targets) == 0 {
			targets = sess.selected.IDs()
		}
		if len(targets) == 0 {
			return catalog.NewValidationError("ids", "no items selected")
		}
		changed = sess.ledger.BulkEdit(targets, field, catalog.Normalize(value))
		sess.selected.Clear()
		if changed > 0 {
			s.persist(ctx, sess)
		}
		return nil
	})
	return changed, err
}

type GenreReport struct {
	Genres     []catalog.GenreStat `json:"genres"`
	Suspicious []string            `json:"suspicious"`
	Suggested  string              `json:"suggestedTarget,omitempty"`
}

func (s *Service) Genres(ctx context.Context, id string) (GenreReport, error) {
	var report GenreReport
	err := s.withSession(ctx, id, func(sess *editorSession) error {
		stats := sess.ledger.Genres()
		names := make([]string, 0, len(stats))
		for _, stat := range stats {
			names = append(names, stat.Name)
		}
		suspicious := catalog.SuspiciousGenres(names)
		report = GenreReport{Genres: stats, Suspicious: suspicious}
		if len(suspicious) > 0 {
			report.Suggested = catalog.SuggestMergeTarget(stats, suspicious)
		}
		return nil
	})
	return report, err
}

// genreEdit runs one of the ledger's genre operations and persists when it
// changed anything.
func (s *Service) genreEdit(ctx context.Context, id string, op func(l *ledger.Ledger) (int, error)) (int, error) {
	var changed int
	err := s.withSession(ctx, id, func(sess *editorSession) error {
		n, err := op(sess.ledger)
		if err != nil {
			return err
		}
		changed = n
		if n > 0 {
			s.persist(ctx, sess)
		}
		return nil
	})
	return changed, err
}

func (s *Service) RenameGenre(ctx context.Context, id, from, to string) (int, error) {
	return s.genreEdit(ctx, id, func(l *ledger.Ledger) (int, error) { return l.RenameGenre(from, to) })
}

func (s *Service) MergeGenres(ctx context.Context, id string, sources []string, target string) (int, error) {
	return s.genreEdit(ctx, id, func(l *ledger.Ledger) (int, error) { return l.MergeGenres(sources, target) })
}

func (s *Service) DeleteGenre(ctx context.Context, id, name string) (int, error) {
	return s.genreEdit(ctx, id, func(l *ledger.Ledger) (int, error) { return l.DeleteGenre(name) })
}

// SubmitMeta is the user-supplied part of a submission.
type SubmitMeta struct {
	BranchName    string `json:"branchName"`
	CommitMessage string `json:"commitMessage"`
	PRTitle       string `json:"prTitle"`
	PRDescription string `json:"prDescription"`
}

// SubmitSession publishes the session's pending edits and additions. The
// ledger is cleared only on success.
func (s *Service) SubmitSession(ctx context.Context, id string, meta SubmitMeta) (reconcile.Result, error) {
	var result reconcile.Result
	err := s.withSession(ctx, id, func(sess *editorSession) error {
		req := reconcile.Request{
			Changes:       sess.ledger.ToDiffPayload(),
			Additions:     sess.ledger.Additions(),
			BranchName:    meta.BranchName,
			CommitMessage: meta.CommitMessage,
			PRTitle:       meta.PRTitle,
			PRDescription: meta.PRDescription,
		}
		res, err := s.publish(ctx, store.KindSubmit, sess.id, req, sess.ledger.History().Records())
		if err != nil {
			return err
		}
		result = res
		sess.foldPublishedLocked(req.Changes, req.Additions, false)
		if !sess.grid.Pending() {
			sess.grid.Reset(sess.doc.Snapshot)
		}
		sess.savePending = false
		s.persist(ctx, sess)
		return nil
	})
	return result, err
}

// SaveSession publishes the pending edits with generated metadata. The
// save flag is persisted first so an interrupted save resumes on the next
// load.
func (s *Service) SaveSession(ctx context.Context, id string) (reconcile.Result, error) {
	var result reconcile.Result
	err := s.withSession(ctx, id, func(sess *editorSession) error {
		if sess.ledger.Empty() {
			return catalog.NewValidationError("changes", "no changes to submit")
		}
		sess.savePending = true
		s.persist(ctx, sess)
		res, err := s.saveLedger(ctx, sess)
		result = res
		return err
	})
	return result, err
}

// saveLedger runs with sess.mu held.
func (s *Service) saveLedger(ctx context.Context, sess *editorSession) (reconcile.Result, error) {
	req := reconcile.SaveRequest(sess.ledger.ToDiffPayload(), s.now())
	req.Additions = sess.ledger.Additions()
	result, err := s.publish(ctx, store.KindSave, sess.id, req, sess.ledger.History().Records())
	sess.savePending = false
	if err == nil {
		sess.foldPublishedLocked(req.Changes, req.Additions, false)
		if !sess.grid.Pending() {
			sess.grid.Reset(sess.doc.Snapshot)
		}
	}
	s.persist(ctx, sess)
	return result, err
}

func (s *Service) SetPreferences(ctx context.Context, id string, prefs session.Preferences) (session.Preferences, error) {
	if err := prefs.Validate(); err != nil {
		return session.Preferences{}, err
	}
	err := s.withSession(ctx, id, func(sess *editorSession) error {
		previous := sess.prefs
		sess.prefs = prefs
		if prefs.ItemsPerPage != previous.ItemsPerPage {
			q := sess.view.Query()
			q.PageSize = prefs.ItemsPerPage
			sess.view.Update(q)
			gq := sess.gridView.Query()
			gq.PageSize = prefs.ItemsPerPage
			sess.gridView.Update(gq)
		}
		if prefs.MonitorIntervalMinutes != previous.MonitorIntervalMinutes && sess.monitor.Interval() > 0 {
			sess.monitor.Start(s.ctx, time.Duration(prefs.MonitorIntervalMinutes)*time.Minute)
		}
		s.persist(ctx, sess)
		return nil
	})
	return prefs, err
}

// Export renders the requested scope. The filtered scope uses the session's
// current query when req.Query carries no filter.
func (s *Service) Export(ctx context.Context, id string, req export.Request) (*export.Result, error) {
	var rows []export.Row
	err := s.withSession(ctx, id, func(sess *editorSession) error {
		q := req.Query
		if q == (selection.Query{}) {
			q = sess.view.Query()
		}
		rows = export.Collect(sess.ledger, req.Scope, q)
		return nil
	})
	if err != nil {
		return nil, err
	}
	result, err := s.exports.Export(ctx, req, rows)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveExport(string(req.Format))
	return result, nil
}

// Import kinds.
const (
	ImportVideo    = "video"
	ImportPlaylist = "playlist"
)

type ImportResult struct {
	Kind          string              `json:"kind"`
	Items         []importer.Imported `json:"items"`
	IDs           []string            `json:"ids"`
	PlaylistTitle string              `json:"playlistTitle,omitempty"`
	SeriesID      string              `json:"seriesId,omitempty"`
	Added         int                 `json:"added"`
}

// ImportIntoSession runs the importer and adds the items to the session as
// pending additions.
func (s *Service) ImportIntoSession(ctx context.Context, id, kind string, req importer.Request) (ImportResult, error) {
	if _, err := s.session(ctx, id, false); err != nil {
		return ImportResult{}, err
	}
	result := ImportResult{Kind: kind}
	switch kind {
	case ImportVideo:
		imported, err := s.ImportVideo(ctx, req)
		if err != nil {
			return ImportResult{}, err
		}
		result.Items = []importer.Imported{imported}
	case ImportPlaylist:
		playlist, err := s.ImportPlaylist(ctx, req)
		if err != nil {
			return ImportResult{}, err
		}
		result.Items = playlist.Items
		result.PlaylistTitle = playlist.Title
		result.SeriesID = playlist.SeriesID
	default:
		return ImportResult{}, catalog.NewValidationError("kind", "import kind must be video or playlist")
	}

	err := s.withSession(ctx, id, func(sess *editorSession) error {
		for _, imported := range result.Items {
			result.IDs = append(result.IDs, imported.ID)
			if sess.ledger.Add(imported.ID, imported.Item) {
				result.Added++
			}
		}
		if result.Added > 0 {
			s.persist(ctx, sess)
		}
		return nil
	})
	return result, err
}

// SessionSearch searches the session's snapshot. stale is true when a newer
// search for the same session finished first; its result must be dropped.
func (s *Service) SessionSearch(ctx context.Context, id, text string, limit int) (resp search.Response, stale bool, err error) {
	sess, err := s.session(ctx, id, false)
	if err != nil {
		return search.Response{}, false, err
	}
	seq := sess.seq.Next()
	sess.mu.Lock()
	doc := sess.doc
	sess.mu.Unlock()

	resp = s.search.Search(ctx, doc, search.Query{Text: text, Seq: seq, Limit: limit})
	s.metrics.ObserveSearch(string(resp.Backend))
	if !sess.seq.Accept(seq) {
		return search.Response{Query: text, Seq: seq, Backend: resp.Backend}, true, nil
	}
	return resp, false, nil
}
