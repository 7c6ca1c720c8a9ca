package export

import (
	"slices"
	"strings"

	"audiolibri/api/internal/catalog"
	"audiolibri/api/internal/ledger"
	"audiolibri/api/internal/selection"
)

// Collect resolves scope against the ledger's effective view. The filtered
// scope applies q's filters and sort but not its pagination.
func Collect(l *ledger.Ledger, scope Scope, q selection.Query) []Row {
	var rows []selection.Row
	switch scope {
	case ScopeFiltered:
		rows = selection.Filter(l, q)
		selection.Sort(rows, q.SortBy, q.Descending)
	case ScopeModified:
		rows = selection.Filter(l, selection.Query{Status: selection.StatusModified})
	default:
		rows = selection.Filter(l, selection.Query{})
	}

	additions := l.AdditionIDs()
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		r := Row{ID: row.ID, Item: row.Item, Pending: row.Pending}
		if slices.Contains(additions, row.ID) {
			r.Added = true
		}
		for _, field := range l.Fields(row.ID) {
			entry, ok := l.Entry(row.ID, field)
			if !ok {
				continue
			}
			r.Changes = append(r.Changes, Change{Field: field, Original: entry.Original, Current: entry.Current})
		}
		out = append(out, r)
	}
	return out
}

// columns lists every field present in rows, in order of first appearance.
func columns(rows []Row) []string {
	seen := map[string]struct{}{}
	var cols []string
	for _, row := range rows {
		for _, field := range row.Item.Fields() {
			name := string(field)
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			cols = append(cols, name)
		}
	}
	return cols
}

// cellText renders a value for flat formats; arrays are joined with "; ".
func cellText(v any) string {
	if arr, ok := v.([]any); ok {
		parts := make([]string, 0, len(arr))
		for _, elem := range arr {
			parts = append(parts, catalog.Stringify(elem))
		}
		return strings.Join(parts, "; ")
	}
	return catalog.Stringify(v)
}
