// Package ledger tracks pending per-field edits against an immutable catalog
// snapshot, together with the chronological edit history used for undo.
package ledger

import (
	"log"
	"sort"
	"time"

	"audiolibri/api/internal/catalog"
	"audiolibri/api/internal/util"
)

// Entry is the pending state of one (item, field) pair. Original is the
// snapshot value and never changes after the entry is created.
type Entry struct {
	Original any `json:"original"`
	Current  any `json:"current"`
}

// Ledger holds at most one Entry per (item, field). An item is present only
// while at least one of its fields differs from the snapshot.
//
// Ledger is not safe for concurrent use; the owning session serializes access.
type Ledger struct {
	snapshot  *catalog.Snapshot
	entries   map[string]map[catalog.Field]*Entry
	additions map[string]*catalog.Item
	addOrder  []string
	history   *History

	now   func() time.Time
	newID func() string
}

func New(snapshot *catalog.Snapshot) *Ledger {
	if snapshot == nil {
		snapshot = catalog.NewSnapshot()
	}
	return &Ledger{
		snapshot:  snapshot,
		entries:   make(map[string]map[catalog.Field]*Entry),
		additions: make(map[string]*catalog.Item),
		history:   NewHistory(nil),
		now:       time.Now,
		newID:     func() string { return util.NewID("") },
	}
}

func (l *Ledger) Snapshot() *catalog.Snapshot { return l.snapshot }

func (l *Ledger) History() *History { return l.history }

// RecordEdit sets field to value on itemID. It returns false when the value
// equals the current effective value or the item is unknown.
func (l *Ledger) RecordEdit(itemID string, field catalog.Field, value any) bool {
	if added, ok := l.additions[itemID]; ok {
		return l.editAddition(itemID, added, field, value)
	}
	item, ok := l.snapshot.Item(itemID)
	if !ok {
		log.Printf("ledger: edit on unknown item %q ignored", itemID)
		return false
	}

	before := l.Effective(itemID, field)
	if catalog.Equal(before, value) {
		return false
	}
	value = catalog.Normalize(value)

	fields := l.entries[itemID]
	entry, exists := fields[field]
	if !exists {
		if fields == nil {
			fields = make(map[catalog.Field]*Entry)
			l.entries[itemID] = fields
		}
		entry = &Entry{Original: item.Value(field), Current: value}
		fields[field] = entry
	} else {
		entry.Current = value
	}
	if catalog.Equal(entry.Current, entry.Original) {
		l.dropEntry(itemID, field)
	}

	l.history.Append(Record{
		ID:        l.newID(),
		ItemID:    itemID,
		ItemTitle: l.title(itemID),
		Field:     field,
		OldValue:  before,
		NewValue:  value,
		Timestamp: l.now().UTC(),
	})
	return true
}

func (l *Ledger) editAddition(itemID string, item *catalog.Item, field catalog.Field, value any) bool {
	before := item.Value(field)
	if catalog.Equal(before, value) {
		return false
	}
	item.Set(field, value)
	l.history.Append(Record{
		ID:        l.newID(),
		ItemID:    itemID,
		ItemTitle: item.DisplayTitle("Untitled"),
		Field:     field,
		OldValue:  before,
		NewValue:  catalog.Normalize(value),
		Timestamp: l.now().UTC(),
	})
	return true
}

// RevertField drops the pending entry for (itemID, field) and the latest
// history record for it. The history record is removed even when the entry
// was already pruned, so an edit walked back to its original value can
// still be undone record by record.
func (l *Ledger) RevertField(itemID string, field catalog.Field) bool {
	if !l.snapshot.Has(itemID) && l.additions[itemID] == nil {
		log.Printf("ledger: revert on unknown item %q ignored", itemID)
		return false
	}
	_, hadEntry := l.entries[itemID][field]
	l.dropEntry(itemID, field)
	removed := l.history.RemoveLatest(itemID, field)
	return hadEntry || removed
}

// RevertItem drops every pending entry and history record of itemID. A
// pending addition is discarded entirely.
func (l *Ledger) RevertItem(itemID string) bool {
	_, hadEntries := l.entries[itemID]
	_, wasAdded := l.additions[itemID]
	if !hadEntries && !wasAdded && !l.snapshot.Has(itemID) {
		log.Printf("ledger: revert on unknown item %q ignored", itemID)
		return false
	}
	delete(l.entries, itemID)
	if wasAdded {
		l.removeAddition(itemID)
	}
	removed := l.history.RemoveItem(itemID)
	return hadEntries || wasAdded || removed > 0
}

// ClearAll empties the ledger, the pending additions and the history.
func (l *Ledger) ClearAll() {
	l.entries = make(map[string]map[catalog.Field]*Entry)
	l.additions = make(map[string]*catalog.Item)
	l.addOrder = nil
	l.history.Clear()
}

// Add registers a new item that is not part of the snapshot yet.
func (l *Ledger) Add(itemID string, item *catalog.Item) bool {
	if itemID == "" || item == nil {
		return false
	}
	if l.snapshot.Has(itemID) {
		log.Printf("ledger: addition %q already exists in snapshot, ignored", itemID)
		return false
	}
	if _, exists := l.additions[itemID]; !exists {
		l.addOrder = append(l.addOrder, itemID)
	}
	l.additions[itemID] = item.Clone()
	return true
}

// Additions returns copies of the pending new items; AdditionIDs gives
// their insertion order.
func (l *Ledger) Additions() map[string]*catalog.Item {
	out := make(map[string]*catalog.Item, len(l.additions))
	for id, item := range l.additions {
		out[id] = item.Clone()
	}
	return out
}

func (l *Ledger) AdditionIDs() []string {
	return append([]string(nil), l.addOrder...)
}

func (l *Ledger) removeAddition(itemID string) {
	delete(l.additions, itemID)
	for i, id := range l.addOrder {
		if id == itemID {
			l.addOrder = append(l.addOrder[:i], l.addOrder[i+1:]...)
			break
		}
	}
}

func (l *Ledger) dropEntry(itemID string, field catalog.Field) {
	fields, ok := l.entries[itemID]
	if !ok {
		return
	}
	delete(fields, field)
	if len(fields) == 0 {
		delete(l.entries, itemID)
	}
}

// Effective is the value a reader should see: the pending value when one
// exists, otherwise the snapshot value.
func (l *Ledger) Effective(itemID string, field catalog.Field) any {
	if entry, ok := l.entries[itemID][field]; ok {
		return entry.Current
	}
	if added, ok := l.additions[itemID]; ok {
		return added.Value(field)
	}
	if item, ok := l.snapshot.Item(itemID); ok {
		return item.Value(field)
	}
	return nil
}

// EffectiveItem returns a copy of the item with pending values applied.
func (l *Ledger) EffectiveItem(itemID string) (*catalog.Item, bool) {
	if added, ok := l.additions[itemID]; ok {
		return added.Clone(), true
	}
	item, ok := l.snapshot.Item(itemID)
	if !ok {
		return nil, false
	}
	out := item.Clone()
	for field, entry := range l.entries[itemID] {
		out.Set(field, entry.Current)
	}
	return out, true
}

// Entry returns the pending entry for (itemID, field).
func (l *Ledger) Entry(itemID string, field catalog.Field) (Entry, bool) {
	entry, ok := l.entries[itemID][field]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Fields returns the pending fields of itemID, sorted.
func (l *Ledger) Fields(itemID string) []catalog.Field {
	fields := make([]catalog.Field, 0, len(l.entries[itemID]))
	for field := range l.entries[itemID] {
		fields = append(fields, field)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })
	return fields
}

func (l *Ledger) HasPending(itemID string) bool {
	if _, ok := l.additions[itemID]; ok {
		return true
	}
	_, ok := l.entries[itemID]
	return ok
}

// PendingIDs returns edited item ids, sorted, followed by additions.
func (l *Ledger) PendingIDs() []string {
	ids := make([]string, 0, len(l.entries)+len(l.addOrder))
	for id := range l.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return append(ids, l.addOrder...)
}

// Len counts items with pending edits or additions.
func (l *Ledger) Len() int {
	return len(l.entries) + len(l.additions)
}

// FieldCount counts pending (item, field) entries.
func (l *Ledger) FieldCount() int {
	n := 0
	for _, fields := range l.entries {
		n += len(fields)
	}
	return n
}

func (l *Ledger) Empty() bool {
	return l.Len() == 0
}

// ToDiffPayload flattens the ledger to {item: {field: current}}. Fields that
// match the snapshot are checked again and left out.
func (l *Ledger) ToDiffPayload() catalog.Diff {
	diff := make(catalog.Diff, len(l.entries))
	for itemID, fields := range l.entries {
		item, ok := l.snapshot.Item(itemID)
		if !ok {
			continue
		}
		changed := make(map[string]any, len(fields))
		for field, entry := range fields {
			if catalog.Equal(entry.Current, item.Value(field)) {
				continue
			}
			changed[string(field)] = entry.Current
		}
		if len(changed) > 0 {
			diff[itemID] = changed
		}
	}
	return diff
}

// AllIDs lists snapshot ids in document order followed by pending additions.
func (l *Ledger) AllIDs() []string {
	return append(l.snapshot.IDs(), l.addOrder...)
}

func (l *Ledger) title(itemID string) string {
	title := catalog.Stringify(l.Effective(itemID, catalog.FieldRealTitle))
	if title == "" {
		title = catalog.Stringify(l.Effective(itemID, catalog.FieldTitle))
	}
	if title == "" {
		return "Untitled"
	}
	return title
}

// State is the persisted form of a ledger.
type State struct {
	Pending   map[string]map[catalog.Field]Entry `json:"pending"`
	Additions map[string]*catalog.Item           `json:"additions,omitempty"`
	AddOrder  []string                           `json:"addOrder,omitempty"`
	History   []Record                           `json:"history"`
}

func (l *Ledger) State() State {
	pending := make(map[string]map[catalog.Field]Entry, len(l.entries))
	for itemID, fields := range l.entries {
		copied := make(map[catalog.Field]Entry, len(fields))
		for field, entry := range fields {
			copied[field] = *entry
		}
		pending[itemID] = copied
	}
	return State{
		Pending:   pending,
		Additions: l.Additions(),
		AddOrder:  l.AdditionIDs(),
		History:   l.history.Records(),
	}
}

// Restore replaces the ledger contents with state, rebased on the current
// snapshot: originals are re-read from the snapshot, entries that now match
// it are pruned and entries for vanished items are dropped.
func (l *Ledger) Restore(state State) {
	l.entries = make(map[string]map[catalog.Field]*Entry)
	l.additions = make(map[string]*catalog.Item)
	l.addOrder = nil

	for itemID, fields := range state.Pending {
		item, ok := l.snapshot.Item(itemID)
		if !ok {
			log.Printf("ledger: dropping pending edits for missing item %q", itemID)
			continue
		}
		for field, entry := range fields {
			original := item.Value(field)
			if catalog.Equal(entry.Current, original) {
				continue
			}
			if l.entries[itemID] == nil {
				l.entries[itemID] = make(map[catalog.Field]*Entry)
			}
			l.entries[itemID][field] = &Entry{Original: original, Current: catalog.Normalize(entry.Current)}
		}
	}

	order := state.AddOrder
	if len(order) == 0 {
		for id := range state.Additions {
			order = append(order, id)
		}
		sort.Strings(order)
	}
	for _, id := range order {
		if item, ok := state.Additions[id]; ok {
			l.Add(id, item)
		}
	}
	l.history = NewHistory(state.History)
}
