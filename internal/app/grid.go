package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"audiolibri/api/internal/catalog"
	"audiolibri/api/internal/ledger"
	"audiolibri/api/internal/reconcile"
	"audiolibri/api/internal/selection"
	"audiolibri/api/internal/store"
	"audiolibri/api/internal/tabular"
	"audiolibri/api/internal/util"
)

// CellInput edits one grid cell. Text is parsed the way a typed cell is;
// Value is used as-is when Text is absent.
type CellInput struct {
	Row    string        `json:"row"`
	Column catalog.Field `json:"column"`
	Text   *string       `json:"text,omitempty"`
	Value  any           `json:"value,omitempty"`
}

type CellResult struct {
	Changed bool          `json:"changed"`
	Row     string        `json:"row,omitempty"`
	Column  catalog.Field `json:"column,omitempty"`
	Value   any           `json:"value"`
	Cells   int           `json:"cells"`
	CanUndo bool          `json:"canUndo"`
	Rows    int           `json:"rows,omitempty"`
}

type GridPage struct {
	selection.Page
	Changes []tabular.CellChange `json:"changes"`
}

// Cells pages over the grid. Moving to another page clears the selection.
func (s *Service) Cells(ctx context.Context, id string, q selection.Query) (GridPage, error) {
	var out GridPage
	err := s.withSession(ctx, id, func(sess *editorSession) error {
		before := sess.gridView.Query()
		query := sess.gridView.Update(q)
		if query.Page != before.Page {
			sess.selected.Clear()
		}
		out = GridPage{Page: selection.Select(sess.grid, query), Changes: sess.grid.Changes()}
		return nil
	})
	return out, err
}

// EditCell validates and records a cell edit, then restarts the auto-save
// quiet period.
func (s *Service) EditCell(ctx context.Context, id string, input CellInput) (CellResult, error) {
	if input.Row == "" || input.Column == "" {
		return CellResult{}, catalog.NewValidationError("column", "row and column are required")
	}
	var result CellResult
	err := s.withSession(ctx, id, func(sess *editorSession) error {
		var (
			changed bool
			err     error
		)
		if input.Text != nil {
			changed, err = sess.grid.EditText(input.Row, input.Column, *input.Text)
		} else {
			changed, err = sess.grid.Edit(input.Row, input.Column, catalog.Normalize(input.Value))
		}
		if err != nil {
			return err
		}
		if changed {
			sess.autosave.Touch()
		}
		result = CellResult{
			Changed: changed,
			Row:     input.Row,
			Column:  input.Column,
			Value:   sess.grid.Value(tabular.Cell{Row: input.Row, Column: input.Column}),
			Cells:   sess.grid.CellCount(),
			CanUndo: sess.grid.CanUndo(),
		}
		return nil
	})
	return result, err
}

func (s *Service) UndoCell(ctx context.Context, id string) (CellResult, error) {
	var result CellResult
	err := s.withSession(ctx, id, func(sess *editorSession) error {
		cell, ok := sess.grid.Undo()
		if ok {
			if sess.grid.Pending() {
				sess.autosave.Touch()
			} else {
				sess.autosave.Cancel()
			}
			result = CellResult{Changed: true, Row: cell.Row, Column: cell.Column, Value: sess.grid.Value(cell)}
		}
		result.Cells = sess.grid.CellCount()
		result.CanUndo = sess.grid.CanUndo()
		return nil
	})
	return result, err
}

// SaveCells saves the grid now instead of waiting for the auto-save.
func (s *Service) SaveCells(ctx context.Context, id string) (reconcile.Result, error) {
	var result reconcile.Result
	err := s.withSession(ctx, id, func(sess *editorSession) error {
		res, err := s.saveGridLocked(ctx, sess)
		result = res
		return err
	})
	return result, err
}

func (s *Service) saveGrid(ctx context.Context, sess *editorSession) (reconcile.Result, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return reconcile.Result{}, nil
	}
	return s.saveGridLocked(ctx, sess)
}

// saveGridLocked publishes the grid diff and the rows added in the grid. On
// success the saved values become the grid's new baseline, the single-item
// editor sees them too, and the returned data hash becomes the monitor's.
func (s *Service) saveGridLocked(ctx context.Context, sess *editorSession) (reconcile.Result, error) {
	diff := sess.grid.Diff()
	req := reconcile.SaveRequest(diff, s.now())
	req.Additions = sess.grid.Additions()
	result, err := s.publish(ctx, store.KindSave, sess.id, req, nil)
	if err != nil {
		sess.lastSaveErr = err.Error()
		return reconcile.Result{}, err
	}
	applied := reconcile.Apply(sess.grid.Snapshot(), diff, req.Additions)
	sess.grid.Reset(applied.Document)
	sess.foldPublishedLocked(diff, req.Additions, true)
	s.persist(ctx, sess)
	sess.autosave.Cancel()
	sess.monitor.SetBaseline(result.DataHash)
	sess.lastSavedAt = s.now()
	sess.lastSaveErr = ""
	return result, nil
}

// MonitorStatus returns the remote polling state, checking first when
// check is set. A failed check is reported in the status, not as an error.
func (s *Service) MonitorStatus(ctx context.Context, id string, check bool) (tabular.MonitorStatus, error) {
	sess, err := s.session(ctx, id, false)
	if err != nil {
		return tabular.MonitorStatus{}, err
	}
	if check {
		status, _ := sess.monitor.Check(ctx)
		return status, nil
	}
	return sess.monitor.Status(), nil
}

// SetMonitoring starts or stops remote polling for the session.
func (s *Service) SetMonitoring(ctx context.Context, id string, active bool) (tabular.MonitorStatus, error) {
	var status tabular.MonitorStatus
	err := s.withSession(ctx, id, func(sess *editorSession) error {
		if active {
			sess.monitor.Start(s.ctx, time.Duration(sess.prefs.MonitorIntervalMinutes)*time.Minute)
		} else {
			sess.monitor.Stop()
		}
		status = sess.monitor.Status()
		return nil
	})
	return status, err
}

// Reload refetches the catalog. Pending grid cells block the reload unless
// confirm is set, in which case they are discarded. Ledger edits survive
// and are rebased on the new snapshot.
func (s *Service) Reload(ctx context.Context, id string, confirm bool) (SessionView, error) {
	var view SessionView
	err := s.withSession(ctx, id, func(sess *editorSession) error {
		if err := sess.grid.ConfirmDiscard(confirm); err != nil {
			return err
		}
		doc, err := s.fetch(ctx)
		if err != nil {
			return err
		}
		state := sess.ledger.State()
		rebased := ledger.New(doc.Snapshot)
		rebased.Restore(state)

		sess.doc = doc
		sess.ledger = rebased
		sess.grid.Reset(doc.Snapshot)
		columns := tabular.ExtractColumns(doc.Snapshot)
		// A layout naming columns that no longer exist falls back to the default.
		_ = columns.SetVisible(sess.columns.Visible)
		sess.columns = columns
		sess.autosave.Cancel()
		sess.selected.Clear()
		sess.monitor.SetBaseline(catalog.HashBytes(doc.Raw))
		s.persist(ctx, sess)
		view = sess.viewLocked()
		return nil
	})
	return view, err
}

// Columns returns the grid's column layout.
func (s *Service) Columns(ctx context.Context, id string) (tabular.Columns, error) {
	var columns tabular.Columns
	err := s.withSession(ctx, id, func(sess *editorSession) error {
		columns = sess.columns
		return nil
	})
	return columns, err
}

// SetColumns replaces the visible grid columns, in display order.
func (s *Service) SetColumns(ctx context.Context, id string, visible []catalog.Field) (tabular.Columns, error) {
	var columns tabular.Columns
	err := s.withSession(ctx, id, func(sess *editorSession) error {
		if err := sess.columns.SetVisible(visible); err != nil {
			return err
		}
		columns = sess.columns
		return nil
	})
	return columns, err
}

// BulkCellInput sets one column on many rows. Rows defaults to the current
// selection.
type BulkCellInput struct {
	Rows   []string      `json:"rows"`
	Column catalog.Field `json:"column"`
	Text   *string       `json:"text,omitempty"`
	Value  any           `json:"value,omitempty"`
}

// BulkEditCells validates the value once, applies it to every target row
// and clears the selection.
func (s *Service) BulkEditCells(ctx context.Context, id string, input BulkCellInput) (CellResult, error) {
	if input.Column == "" {
		return CellResult{}, catalog.NewValidationError("column", "column is required")
	}
	var result CellResult
	err := s.withSession(ctx, id, func(sess *editorSession) error {
		rows := input.Rows
		if len(rows) == 0 {
			rows = sess.selected.IDs()
		}
		if len(rows) == 0 {
			return catalog.NewValidationError("rows", "no rows selected")
		}
		value := catalog.Normalize(input.Value)
		if input.Text != nil {
			value = tabular.ParseValue(input.Column, *input.Text)
		}
		changed, err := sess.grid.BulkEdit(rows, input.Column, value)
		if err != nil {
			return err
		}
		sess.selected.Clear()
		if changed > 0 {
			sess.autosave.Touch()
		}
		result = CellResult{
			Changed: changed > 0,
			Column:  input.Column,
			Value:   value,
			Cells:   sess.grid.CellCount(),
			CanUndo: sess.grid.CanUndo(),
			Rows:    changed,
		}
		return nil
	})
	return result, err
}

type NewRow struct {
	Row     string          `json:"row"`
	Columns []catalog.Field `json:"columns"`
}

// AddRow inserts an empty row with the visible columns set to null. It is
// saved with the next grid save as a new catalog item.
func (s *Service) AddRow(ctx context.Context, id string) (NewRow, error) {
	var row NewRow
	err := s.withSession(ctx, id, func(sess *editorSession) error {
		rowID := strconv.FormatInt(s.now().UnixMilli(), 10)
		if err := sess.grid.AddRow(rowID, sess.columns.Visible); err != nil {
			rowID = util.NewID("")
			if err := sess.grid.AddRow(rowID, sess.columns.Visible); err != nil {
				return err
			}
		}
		row = NewRow{Row: rowID, Columns: sess.columns.Visible}
		return nil
	})
	return row, err
}

type PageExport struct {
	Filename string
	Data     []byte
	Rows     int
}

// ExportPage renders the grid's current page as JSON, keeping only the
// visible columns.
func (s *Service) ExportPage(ctx context.Context, id string) (PageExport, error) {
	var out PageExport
	err := s.withSession(ctx, id, func(sess *editorSession) error {
		page := selection.Select(sess.grid, sess.gridView.Query())
		items := make([]*catalog.Item, 0, len(page.Rows))
		for _, row := range page.Rows {
			items = append(items, sess.columns.Project(row.ID, row.Item))
		}
		data, err := json.MarshalIndent(items, "", "  ")
		if err != nil {
			return fmt.Errorf("encode page: %w", err)
		}
		out = PageExport{
			Filename: fmt.Sprintf("audiolibri-page-%d.json", page.Page),
			Data:     append(data, '\n'),
			Rows:     len(items),
		}
		return nil
	})
	return out, err
}
