package tabular

import (
	"errors"
	"log"
	"sort"

	"audiolibri/api/internal/catalog"
)

// ErrUnsavedChanges is returned by ConfirmDiscard when pending cells would
// be lost and the caller did not confirm.
var ErrUnsavedChanges = errors.New("unsaved changes would be lost")

// Cell addresses one value of the grid.
type Cell struct {
	Row    string        `json:"row"`
	Column catalog.Field `json:"column"`
}

// Change is the pending state of one cell. Original is the snapshot value.
type Change struct {
	Original any `json:"original"`
	Current  any `json:"current"`
}

type undoStep struct {
	cell   Cell
	before any
}

// CellLedger tracks pending cell edits keyed directly by (row, column), and
// rows added in the grid that are not in the snapshot yet. It is not safe
// for concurrent use.
type CellLedger struct {
	snapshot  *catalog.Snapshot
	validator *Validator
	changes   map[Cell]*Change
	rows      map[string]int
	added     map[string]*catalog.Item
	addOrder  []string
	undo      []undoStep
}

func NewCellLedger(snapshot *catalog.Snapshot, validator *Validator) *CellLedger {
	if snapshot == nil {
		snapshot = catalog.NewSnapshot()
	}
	if validator == nil {
		validator = NewValidator()
	}
	return &CellLedger{
		snapshot:  snapshot,
		validator: validator,
		changes:   make(map[Cell]*Change),
		rows:      make(map[string]int),
		added:     make(map[string]*catalog.Item),
	}
}

func (l *CellLedger) Snapshot() *catalog.Snapshot { return l.snapshot }

func (l *CellLedger) item(row string) (*catalog.Item, bool) {
	if item, ok := l.added[row]; ok {
		return item, true
	}
	return l.snapshot.Item(row)
}

// EditText parses raw for the cell's column and records it.
func (l *CellLedger) EditText(row string, column catalog.Field, raw string) (bool, error) {
	return l.Edit(row, column, ParseValue(column, raw))
}

// Edit records value for the cell. A value that fails validation is
// rejected with a *catalog.ValidationError and leaves the ledger untouched.
// Unknown rows and unchanged values are no-ops.
func (l *CellLedger) Edit(row string, column catalog.Field, value any) (bool, error) {
	if column == ColumnID {
		return false, catalog.NewValidationError(string(column), "the id column is read-only")
	}
	item, ok := l.item(row)
	if !ok {
		log.Printf("tabular: edit on unknown row %q ignored", row)
		return false, nil
	}
	value = catalog.Normalize(value)
	if err := l.validator.Validate(column, value); err != nil {
		return false, err
	}

	cell := Cell{Row: row, Column: column}
	before := l.Value(cell)
	if catalog.Equal(before, value) {
		return false, nil
	}
	l.undo = append(l.undo, undoStep{cell: cell, before: before})
	l.set(cell, item.Value(column), value)
	return true, nil
}

// Undo reverts the most recent accepted edit, restoring the value the cell
// had before it.
func (l *CellLedger) Undo() (Cell, bool) {
	if len(l.undo) == 0 {
		return Cell{}, false
	}
	step := l.undo[len(l.undo)-1]
	l.undo = l.undo[:len(l.undo)-1]

	item, ok := l.item(step.cell.Row)
	if !ok {
		return step.cell, false
	}
	l.set(step.cell, item.Value(step.cell.Column), step.before)
	return step.cell, true
}

func (l *CellLedger) set(cell Cell, original, value any) {
	change, exists := l.changes[cell]
	if catalog.Equal(original, value) {
		if exists {
			delete(l.changes, cell)
			if l.rows[cell.Row]--; l.rows[cell.Row] == 0 {
				delete(l.rows, cell.Row)
			}
		}
		return
	}
	if exists {
		change.Current = value
		return
	}
	l.changes[cell] = &Change{Original: original, Current: value}
	l.rows[cell.Row]++
}

// Value is the effective value of cell.
func (l *CellLedger) Value(cell Cell) any {
	if change, ok := l.changes[cell]; ok {
		return change.Current
	}
	if item, ok := l.item(cell.Row); ok {
		return item.Value(cell.Column)
	}
	return nil
}

// BulkEdit sets column to value on every listed row. The value is validated
// once; when it fails no row is touched. It returns how many rows changed.
func (l *CellLedger) BulkEdit(rows []string, column catalog.Field, value any) (int, error) {
	if column == ColumnID {
		return 0, catalog.NewValidationError(string(column), "the id column is read-only")
	}
	value = catalog.Normalize(value)
	if err := l.validator.Validate(column, value); err != nil {
		return 0, err
	}
	changed := 0
	for _, row := range rows {
		ok, err := l.Edit(row, column, value)
		if err != nil {
			return changed, err
		}
		if ok {
			changed++
		}
	}
	return changed, nil
}

// AddRow inserts an empty row with the given columns set to null. New rows
// are listed before the snapshot rows, newest first.
func (l *CellLedger) AddRow(row string, columns []catalog.Field) error {
	if row == "" {
		return catalog.NewValidationError("row", "row id is required")
	}
	if _, exists := l.item(row); exists {
		return catalog.NewValidationError("row", "row "+row+" already exists")
	}
	item := catalog.NewItem()
	for _, column := range columns {
		if column != ColumnID {
			item.Set(column, nil)
		}
	}
	l.added[row] = item
	l.addOrder = append(l.addOrder, row)
	return nil
}

// Additions returns the rows added in the grid with their edits applied.
func (l *CellLedger) Additions() map[string]*catalog.Item {
	if len(l.added) == 0 {
		return nil
	}
	out := make(map[string]*catalog.Item, len(l.added))
	for row := range l.added {
		out[row], _ = l.EffectiveItem(row)
	}
	return out
}

// Len counts rows with at least one pending cell, added rows included.
func (l *CellLedger) Len() int {
	n := len(l.rows)
	for row := range l.added {
		if l.rows[row] == 0 {
			n++
		}
	}
	return n
}

// Pending reports whether anything would be saved.
func (l *CellLedger) Pending() bool { return len(l.changes) > 0 || len(l.added) > 0 }

// CellCount counts pending cells.
func (l *CellLedger) CellCount() int { return len(l.changes) }

func (l *CellLedger) CanUndo() bool { return len(l.undo) > 0 }

// Changes lists pending cells ordered by row then column.
func (l *CellLedger) Changes() []CellChange {
	out := make([]CellChange, 0, len(l.changes))
	for cell, change := range l.changes {
		out = append(out, CellChange{Cell: cell, Change: *change})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Row != out[j].Row {
			return out[i].Row < out[j].Row
		}
		return out[i].Column < out[j].Column
	})
	return out
}

type CellChange struct {
	Cell
	Change
}

// Diff flattens the pending cells of snapshot rows to the save payload.
// Added rows travel through Additions.
func (l *CellLedger) Diff() catalog.Diff {
	diff := make(catalog.Diff, len(l.rows))
	for cell, change := range l.changes {
		if _, ok := l.added[cell.Row]; ok {
			continue
		}
		fields := diff[cell.Row]
		if fields == nil {
			fields = make(map[string]any)
			diff[cell.Row] = fields
		}
		fields[string(cell.Column)] = change.Current
	}
	return diff
}

// Clear drops every pending cell, the added rows and the undo stack.
func (l *CellLedger) Clear() {
	l.changes = make(map[Cell]*Change)
	l.rows = make(map[string]int)
	l.added = make(map[string]*catalog.Item)
	l.addOrder = nil
	l.undo = nil
}

// ConfirmDiscard reports whether a reload may throw the pending cells away.
func (l *CellLedger) ConfirmDiscard(confirm bool) error {
	if l.Len() > 0 && !confirm {
		return ErrUnsavedChanges
	}
	return nil
}

// Reset replaces the snapshot and discards all pending cells.
func (l *CellLedger) Reset(snapshot *catalog.Snapshot) {
	if snapshot != nil {
		l.snapshot = snapshot
	}
	l.Clear()
}

// AllIDs, EffectiveItem and HasPending let the selection engine page over
// the grid.
func (l *CellLedger) AllIDs() []string {
	if len(l.addOrder) == 0 {
		return l.snapshot.IDs()
	}
	ids := make([]string, 0, len(l.addOrder)+l.snapshot.Len())
	for i := len(l.addOrder) - 1; i >= 0; i-- {
		ids = append(ids, l.addOrder[i])
	}
	return append(ids, l.snapshot.IDs()...)
}

func (l *CellLedger) EffectiveItem(id string) (*catalog.Item, bool) {
	item, ok := l.item(id)
	if !ok {
		return nil, false
	}
	out := item.Clone()
	if l.rows[id] == 0 {
		return out, true
	}
	for cell, change := range l.changes {
		if cell.Row == id {
			out.Set(cell.Column, change.Current)
		}
	}
	return out, true
}

func (l *CellLedger) HasPending(id string) bool {
	if _, ok := l.added[id]; ok {
		return true
	}
	return l.rows[id] > 0
}
