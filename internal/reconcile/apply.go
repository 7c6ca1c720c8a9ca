package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"audiolibri/api/internal/catalog"
)

// Applied is the outcome of replaying a diff on a fresh document.
type Applied struct {
	Document *catalog.Snapshot
	// Changed lists, per item, the fields whose value was actually written.
	Changed map[string][]catalog.Field
	Added   []string
	Skipped []string
}

func (a Applied) Empty() bool {
	return len(a.Changed) == 0 && len(a.Added) == 0
}

// ItemsChanged counts edited items plus added ones.
func (a Applied) ItemsChanged() int {
	return len(a.Changed) + len(a.Added)
}

func (a Applied) FieldsChanged() int {
	n := 0
	for _, fields := range a.Changed {
		n += len(fields)
	}
	return n
}

// Apply writes every pending value that differs from fresh into a copy of
// fresh. Items missing from fresh are skipped; additions already present in
// fresh are treated as edits of that item. fresh is not modified.
func Apply(fresh *catalog.Snapshot, changes catalog.Diff, additions map[string]*catalog.Item) Applied {
	out := Applied{
		Document: fresh.Clone(),
		Changed:  make(map[string][]catalog.Field),
	}

	for _, itemID := range changes.ItemIDs() {
		current, ok := out.Document.Item(itemID)
		if !ok {
			out.Skipped = append(out.Skipped, itemID)
			continue
		}
		fields := changes[itemID]
		for _, name := range catalog.SortedFields(fields) {
			field := catalog.Field(name)
			if catalog.Equal(fields[name], current.Value(field)) {
				continue
			}
			current.Set(field, fields[name])
			out.Changed[itemID] = append(out.Changed[itemID], field)
		}
	}

	addIDs := make([]string, 0, len(additions))
	for id := range additions {
		addIDs = append(addIDs, id)
	}
	sort.Strings(addIDs)
	for _, id := range addIDs {
		item := additions[id]
		if item == nil {
			continue
		}
		existing, ok := out.Document.Item(id)
		if !ok {
			out.Document.Put(id, item.Clone())
			out.Added = append(out.Added, id)
			continue
		}
		for _, field := range item.Fields() {
			value := item.Value(field)
			if catalog.Equal(value, existing.Value(field)) {
				continue
			}
			existing.Set(field, value)
			out.Changed[id] = append(out.Changed[id], field)
		}
	}
	return out
}

const defaultIntro = "This PR updates the audiolibri data with new changes."

// Describe renders the pull request body: the user's description (or a
// default sentence) followed by one line per changed item.
func Describe(description string, fresh *catalog.Snapshot, changes catalog.Diff, applied Applied) string {
	var b strings.Builder
	if intro := strings.TrimSpace(description); intro != "" {
		b.WriteString(intro)
	} else {
		b.WriteString(defaultIntro)
	}
	b.WriteString("\n\n### Modified Items:\n\n")

	ids := make([]string, 0, len(applied.Changed))
	for id := range applied.Changed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		title := itemTitle(id, fresh, changes)
		labels := catalog.Labels(applied.Changed[id])
		if len(labels) == 0 {
			fmt.Fprintf(&b, "- **%s** - Modified\n", title)
			continue
		}
		fmt.Fprintf(&b, "- **%s** - %s updated\n", title, strings.Join(labels, ", "))
	}
	for _, id := range applied.Added {
		item, _ := applied.Document.Item(id)
		fmt.Fprintf(&b, "- **%s** - Added\n", item.DisplayTitle("No Title"))
	}
	return b.String()
}

func itemTitle(id string, fresh *catalog.Snapshot, changes catalog.Diff) string {
	if pending := strings.TrimSpace(catalog.Stringify(changes[id][string(catalog.FieldRealTitle)])); pending != "" {
		return pending
	}
	if item, ok := fresh.Item(id); ok {
		return item.DisplayTitle("No Title")
	}
	return "No Title"
}

// SaveRequest builds the request used by the tabular editor's save, which
// carries no user-supplied metadata.
func SaveRequest(changes catalog.Diff, now time.Time) Request {
	items := len(changes)
	stamp := now.UnixMilli()
	return Request{
		Changes:       changes,
		BranchName:    fmt.Sprintf("json-editor-update-%d", stamp),
		CommitMessage: fmt.Sprintf("Update audiolibri data via JSON Editor (%d items modified)", items),
		PRTitle:       fmt.Sprintf("Aggiorna dati audiolibri via Editor JSON (%d elementi)", items),
		PRDescription: fmt.Sprintf(
			"Questa PR aggiorna i dati degli audiolibri tramite l'Editor JSON completo.\n\n"+
				"**Statistiche:**\n- %d elementi modificati\n- %d campi totali modificati\n"+
				"- Modifiche effettuate tramite Editor JSON Completo\n\n"+
				"Revisiona attentamente le modifiche prima del merge.",
			items, changes.FieldCount()),
	}
}

// Save submits changes with generated branch, commit and PR metadata.
func (f *Flow) Save(ctx context.Context, changes catalog.Diff) (Result, error) {
	return f.Submit(ctx, SaveRequest(changes, f.now()))
}
