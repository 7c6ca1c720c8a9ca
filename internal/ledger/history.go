package ledger

import (
	"strings"
	"time"

	"audiolibri/api/internal/catalog"
)

// Record is one field-level edit as it happened. Records are kept in the
// order they were made and are never rewritten, only removed.
type Record struct {
	ID        string        `json:"id"`
	ItemID    string        `json:"itemId"`
	ItemTitle string        `json:"itemTitle"`
	Field     catalog.Field `json:"field"`
	OldValue  any           `json:"oldValue"`
	NewValue  any           `json:"newValue"`
	Timestamp time.Time     `json:"timestamp"`
}

// History is the append-only edit log behind the edit-log view and
// per-entry undo. It plays no part in diff computation.
type History struct {
	records []Record
}

func NewHistory(records []Record) *History {
	return &History{records: append([]Record(nil), records...)}
}

func (h *History) Append(record Record) {
	h.records = append(h.records, record)
}

func (h *History) Len() int {
	return len(h.records)
}

// Records returns the log oldest first.
func (h *History) Records() []Record {
	return append([]Record(nil), h.records...)
}

// Find returns the record with the given id.
func (h *History) Find(id string) (Record, bool) {
	for _, record := range h.records {
		if record.ID == id {
			return record, true
		}
	}
	return Record{}, false
}

// RemoveLatest drops the most recent record for (itemID, field).
func (h *History) RemoveLatest(itemID string, field catalog.Field) bool {
	for i := len(h.records) - 1; i >= 0; i-- {
		if h.records[i].ItemID == itemID && h.records[i].Field == field {
			h.records = append(h.records[:i], h.records[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveItem drops every record that references itemID.
func (h *History) RemoveItem(itemID string) int {
	kept := h.records[:0]
	removed := 0
	for _, record := range h.records {
		if record.ItemID == itemID {
			removed++
			continue
		}
		kept = append(kept, record)
	}
	h.records = kept
	return removed
}

func (h *History) Clear() {
	h.records = nil
}

// Filter narrows the edit log for display.
type Filter struct {
	Text  string
	Field catalog.Field
	Limit int
}

// Query returns matching records newest first.
func (h *History) Query(filter Filter) []Record {
	needle := strings.ToLower(strings.TrimSpace(filter.Text))
	out := make([]Record, 0)
	for i := len(h.records) - 1; i >= 0; i-- {
		record := h.records[i]
		if filter.Field != "" && record.Field != filter.Field {
			continue
		}
		if needle != "" && !recordMatches(record, needle) {
			continue
		}
		out = append(out, record)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

func recordMatches(record Record, needle string) bool {
	haystack := []string{
		record.ItemTitle,
		record.ItemID,
		string(record.Field),
		catalog.Label(record.Field),
		catalog.Stringify(record.OldValue),
		catalog.Stringify(record.NewValue),
	}
	for _, text := range haystack {
		if strings.Contains(strings.ToLower(text), needle) {
			return true
		}
	}
	return false
}
