// Package selection derives the filtered, sorted and paginated view of the
// catalog shown to an editor.
package selection

import (
	"log"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"audiolibri/api/internal/catalog"
)

const DefaultPageSize = 50

type Status string

const (
	StatusAll         Status = ""
	StatusProcessed   Status = "processed"
	StatusUnprocessed Status = "pending"
	StatusModified    Status = "modified"
)

func ParseStatus(raw string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusAll, "all":
		return StatusAll, nil
	case StatusProcessed:
		return StatusProcessed, nil
	case StatusUnprocessed, "unprocessed":
		return StatusUnprocessed, nil
	case StatusModified:
		return StatusModified, nil
	}
	return StatusAll, catalog.NewValidationError("status", "unknown status filter")
}

// Query describes one view of the catalog. Page is 1-based.
type Query struct {
	Text        string        `json:"text,omitempty"`
	Column      catalog.Field `json:"column,omitempty"`
	ColumnValue string        `json:"columnValue,omitempty"`
	Status      Status        `json:"status,omitempty"`
	SortBy      catalog.Field `json:"sortBy,omitempty"`
	Descending  bool          `json:"descending,omitempty"`
	Page        int           `json:"page,omitempty"`
	PageSize    int           `json:"pageSize,omitempty"`
}

// sameFilter reports whether q and other select the same rows.
func (q Query) sameFilter(other Query) bool {
	return q.Text == other.Text &&
		q.Column == other.Column &&
		q.ColumnValue == other.ColumnValue &&
		q.Status == other.Status &&
		q.PageSize == other.PageSize
}

// Source is what the engine reads items from. The ledger satisfies it, so
// rows carry effective (pending) values.
type Source interface {
	AllIDs() []string
	EffectiveItem(id string) (*catalog.Item, bool)
	HasPending(id string) bool
}

type Row struct {
	ID      string        `json:"id"`
	Item    *catalog.Item `json:"item"`
	Pending bool          `json:"pending"`
}

type Page struct {
	Rows     []Row `json:"rows"`
	Total    int   `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Pages    int   `json:"pages"`
	Empty    bool  `json:"empty"`
}

// Select filters, orders and paginates src. Filtering is a strict AND of the
// text query, the column filter and the status filter.
func Select(src Source, q Query) Page {
	rows := Filter(src, q)
	Sort(rows, q.SortBy, q.Descending)
	return Paginate(rows, q.Page, q.PageSize)
}

// Filter returns matching rows in source order.
func Filter(src Source, q Query) []Row {
	fold := cases.Fold()
	needle := fold.String(strings.TrimSpace(q.Text))
	columnNeedle := fold.String(strings.TrimSpace(q.ColumnValue))
	columnSeen := q.Column == ""

	rows := make([]Row, 0)
	for _, id := range src.AllIDs() {
		item, ok := src.EffectiveItem(id)
		if !ok {
			continue
		}
		pending := src.HasPending(id)
		if !matchesStatus(item, pending, q.Status) {
			continue
		}
		if q.Column != "" && columnNeedle != "" {
			value, present := item.Get(q.Column)
			if present {
				columnSeen = true
			}
			if !present || !containsFolded(fold, value, columnNeedle) {
				continue
			}
		}
		if needle != "" && !matchesText(fold, item, needle) {
			continue
		}
		rows = append(rows, Row{ID: id, Item: item, Pending: pending})
	}
	if !columnSeen && columnNeedle != "" {
		log.Printf("selection: column %q not present in any item", q.Column)
	}
	return rows
}

func matchesStatus(item *catalog.Item, pending bool, status Status) bool {
	switch status {
	case StatusProcessed:
		return isProcessed(item.Value(catalog.FieldProcessed))
	case StatusUnprocessed:
		return !isProcessed(item.Value(catalog.FieldProcessed))
	case StatusModified:
		return pending
	}
	return true
}

func isProcessed(v any) bool {
	switch value := v.(type) {
	case bool:
		return value
	case string:
		return strings.EqualFold(value, "true")
	}
	return false
}

func matchesText(fold cases.Caser, item *catalog.Item, needle string) bool {
	for _, field := range item.Fields() {
		if containsFolded(fold, item.Value(field), needle) {
			return true
		}
	}
	return false
}

func containsFolded(fold cases.Caser, value any, needle string) bool {
	for _, text := range catalog.Flatten(value) {
		if strings.Contains(fold.String(text), needle) {
			return true
		}
	}
	return false
}

// Sort orders rows by field. Numbers compare numerically, everything else
// with Italian collation ignoring case; nulls always go last. With no field
// the rows are stably partitioned so pending items come first.
func Sort(rows []Row, field catalog.Field, descending bool) {
	if field == "" {
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].Pending && !rows[j].Pending
		})
		return
	}

	col := collate.New(language.Italian, collate.IgnoreCase)
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].Item.Value(field), rows[j].Item.Value(field)
		if catalog.IsNull(a) || catalog.IsNull(b) {
			return !catalog.IsNull(a) && catalog.IsNull(b)
		}
		cmp := compareValues(col, a, b)
		if descending {
			return cmp > 0
		}
		return cmp < 0
	})
}

func compareValues(col *collate.Collator, a, b any) int {
	an, aNum := catalog.Number(a)
	bn, bNum := catalog.Number(b)
	if aNum && bNum {
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		}
		return 0
	}
	return col.CompareString(catalog.Stringify(a), catalog.Stringify(b))
}

// Paginate slices rows. Out-of-range pages are clamped.
func Paginate(rows []Row, page, pageSize int) Page {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	total := len(rows)
	pages := (total + pageSize - 1) / pageSize
	if pages == 0 {
		pages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > pages {
		page = pages
	}
	start := (page - 1) * pageSize
	end := min(start+pageSize, total)
	return Page{
		Rows:     rows[start:end],
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		Pages:    pages,
		Empty:    total == 0,
	}
}
