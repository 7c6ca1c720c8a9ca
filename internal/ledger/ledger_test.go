package ledger

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"audiolibri/api/internal/catalog"
)

const testDoc = `{
  "42": {"title": "Upload 42", "real_title": "Old", "real_genre": "Horror"},
  "7": {"title": "Upload 7", "real_title": "Seven", "real_genre": "Fantasy", "processed": true},
  "9": {"title": "Upload 9", "real_genre": "Giallo"},
  "10": {"title": "Upload 10", "real_genre": "fantasy"}
}`

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	snapshot, err := catalog.ParseSnapshot([]byte(testDoc))
	if err != nil {
		t.Fatalf("ParseSnapshot() error = %v", err)
	}
	l := New(snapshot)
	n := 0
	l.newID = func() string {
		n++
		return fmt.Sprintf("rec-%d", n)
	}
	l.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, n, 0, time.UTC) }
	return l
}

func TestRecordEditKeepsFirstOriginal(t *testing.T) {
	l := newTestLedger(t)
	for _, v := range []string{"A", "B", "C"} {
		if !l.RecordEdit("42", catalog.FieldRealTitle, v) {
			t.Fatalf("RecordEdit(%q) = false", v)
		}
	}
	entry, ok := l.Entry("42", catalog.FieldRealTitle)
	if !ok {
		t.Fatal("expected pending entry")
	}
	if entry.Original != "Old" || entry.Current != "C" {
		t.Fatalf("entry = %+v, want original Old current C", entry)
	}
	if l.History().Len() != 3 {
		t.Fatalf("history len = %d, want 3", l.History().Len())
	}
	last := l.History().Records()[2]
	if last.OldValue != "B" || last.NewValue != "C" || last.ItemTitle != "C" {
		t.Fatalf("last record = %+v", last)
	}
}

func TestRecordEditSameValueIsNoOp(t *testing.T) {
	l := newTestLedger(t)
	if l.RecordEdit("42", catalog.FieldRealTitle, "Old") {
		t.Fatal("expected no-op for unchanged value")
	}
	if !l.Empty() || l.History().Len() != 0 {
		t.Fatal("expected ledger and history untouched")
	}
}

func TestRevertFieldAfterSingleEditEmptiesLedger(t *testing.T) {
	l := newTestLedger(t)
	l.RecordEdit("42", catalog.FieldRealTitle, "New")
	if !l.HasPending("42") {
		t.Fatal("expected pending item")
	}
	if !l.RevertField("42", catalog.FieldRealTitle) {
		t.Fatal("RevertField() = false")
	}
	if l.HasPending("42") || !l.Empty() {
		t.Fatal("expected item removed from ledger")
	}
	if l.History().Len() != 0 {
		t.Fatalf("history len = %d, want 0", l.History().Len())
	}
}

func TestEditBackToOriginal(t *testing.T) {
	l := newTestLedger(t)
	l.RecordEdit("42", catalog.FieldRealTitle, "New")
	l.RecordEdit("42", catalog.FieldRealTitle, "Old")

	if !l.Empty() {
		t.Fatalf("ledger len = %d, want empty", l.Len())
	}
	records := l.History().Query(Filter{Field: catalog.FieldRealTitle})
	if len(records) != 2 {
		t.Fatalf("history records = %d, want 2", len(records))
	}
	for i := 0; i < 2; i++ {
		if !l.RevertField("42", catalog.FieldRealTitle) {
			t.Fatalf("revert %d = false", i+1)
		}
	}
	if l.History().Len() != 0 || !l.Empty() {
		t.Fatal("expected both records removed and ledger empty")
	}
	if l.RevertField("42", catalog.FieldRealTitle) {
		t.Fatal("third revert should report nothing removed")
	}
}

func TestDiffPayloadExcludesOriginalValues(t *testing.T) {
	l := newTestLedger(t)
	l.RecordEdit("42", catalog.FieldRealTitle, "New")
	l.RecordEdit("42", catalog.FieldRealGenre, "Thriller")
	l.RecordEdit("42", catalog.FieldRealGenre, "Horror")
	l.RecordEdit("7", catalog.FieldProcessed, false)
	l.RecordEdit("9", catalog.FieldRealPublishedYear, 1984)

	diff := l.ToDiffPayload()
	if len(diff) != 3 {
		t.Fatalf("diff items = %d, want 3: %v", len(diff), diff)
	}
	if _, ok := diff["42"]["real_genre"]; ok {
		t.Fatal("genre walked back to original must not be submitted")
	}
	if diff["42"]["real_title"] != "New" || diff["7"]["processed"] != false {
		t.Fatalf("diff = %v", diff)
	}
	if got := diff["9"]["real_published_year"]; got != json.Number("1984") {
		t.Fatalf("year = %#v", got)
	}
	for itemID, fields := range diff {
		item, _ := l.Snapshot().Item(itemID)
		for field, value := range fields {
			if catalog.Equal(value, item.Value(catalog.Field(field))) {
				t.Fatalf("%s.%s equals snapshot value", itemID, field)
			}
		}
	}
}

func TestUnknownItemIsNoOp(t *testing.T) {
	l := newTestLedger(t)
	if l.RecordEdit("missing", catalog.FieldRealTitle, "x") {
		t.Fatal("expected RecordEdit on unknown item to be ignored")
	}
	if l.RevertField("missing", catalog.FieldRealTitle) || l.RevertItem("missing") {
		t.Fatal("expected reverts on unknown item to be ignored")
	}
	if !l.Empty() || l.History().Len() != 0 {
		t.Fatal("expected no state change")
	}
}

func TestRevertItemDropsEntriesAndHistory(t *testing.T) {
	l := newTestLedger(t)
	l.RecordEdit("42", catalog.FieldRealTitle, "New")
	l.RecordEdit("42", catalog.FieldRealGenre, "Thriller")
	l.RecordEdit("7", catalog.FieldRealTitle, "Eight")

	if !l.RevertItem("42") {
		t.Fatal("RevertItem() = false")
	}
	if l.HasPending("42") {
		t.Fatal("expected item 42 reverted")
	}
	for _, record := range l.History().Records() {
		if record.ItemID == "42" {
			t.Fatalf("unexpected history record %+v", record)
		}
	}
	if l.Len() != 1 || l.History().Len() != 1 {
		t.Fatalf("len = %d history = %d", l.Len(), l.History().Len())
	}
	if got := l.Effective("42", catalog.FieldRealTitle); got != "Old" {
		t.Fatalf("Effective() = %v, want Old", got)
	}
}

func TestBulkEditCountsOnlyRealChanges(t *testing.T) {
	l := newTestLedger(t)
	changed := l.BulkEdit([]string{"42", "7", "9"}, catalog.FieldRealGenre, "Fantasy")
	if changed != 2 {
		t.Fatalf("BulkEdit() = %d, want 2", changed)
	}
	if l.FieldCount() != 2 || l.HasPending("7") {
		t.Fatalf("field count = %d, pending 7 = %v", l.FieldCount(), l.HasPending("7"))
	}
}

func TestGenreOperationsGoThroughLedger(t *testing.T) {
	l := newTestLedger(t)
	n, err := l.MergeGenres([]string{"fantasy", "Fantasy"}, "Fantasy")
	if err != nil {
		t.Fatalf("MergeGenres() error = %v", err)
	}
	if n != 1 || !l.HasPending("10") {
		t.Fatalf("MergeGenres() = %d, pending 10 = %v", n, l.HasPending("10"))
	}

	if _, err := l.RenameGenre("Horror", "x"); err == nil {
		t.Fatal("expected invalid target genre to be rejected")
	}
	n, err = l.RenameGenre("Giallo", "Thriller")
	if err != nil || n != 1 {
		t.Fatalf("RenameGenre() = %d, %v", n, err)
	}
	n, err = l.DeleteGenre("Horror")
	if err != nil || n != 1 {
		t.Fatalf("DeleteGenre() = %d, %v", n, err)
	}
	if got := l.Effective("42", catalog.FieldRealGenre); got != "" {
		t.Fatalf("deleted genre = %v", got)
	}

	stats := l.Genres()
	if stats[0].Name != "Fantasy" || stats[0].Count != 2 {
		t.Fatalf("Genres()[0] = %+v", stats[0])
	}
	l.RevertField("10", catalog.FieldRealGenre)
	if l.HasPending("10") {
		t.Fatal("expected merge to be undoable per field")
	}
}

func TestAdditionsAreTrackedSeparately(t *testing.T) {
	l := newTestLedger(t)
	item := catalog.NewItem()
	item.Set(catalog.FieldTitle, "Imported")
	if !l.Add("new-1", item) {
		t.Fatal("Add() = false")
	}
	if l.Add("42", item) {
		t.Fatal("expected addition of an existing id to be refused")
	}
	if !l.RecordEdit("new-1", catalog.FieldRealTitle, "Imported Title") {
		t.Fatal("expected edit on addition to apply")
	}
	if len(l.ToDiffPayload()) != 0 {
		t.Fatal("additions are not part of the field diff")
	}
	added := l.Additions()["new-1"]
	if added.Text(catalog.FieldRealTitle) != "Imported Title" {
		t.Fatalf("addition = %v", added)
	}
	ids := l.AllIDs()
	if ids[len(ids)-1] != "new-1" {
		t.Fatalf("AllIDs() = %v", ids)
	}
	l.RevertItem("new-1")
	if !l.Empty() {
		t.Fatal("expected addition discarded")
	}
}

func TestStateRestoreRebasesOnSnapshot(t *testing.T) {
	l := newTestLedger(t)
	l.RecordEdit("42", catalog.FieldRealTitle, "New")
	l.RecordEdit("7", catalog.FieldRealTitle, "Eight")
	l.RecordEdit("9", catalog.FieldRealTitle, "Nine")

	raw, err := json.Marshal(l.State())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	moved, err := catalog.ParseSnapshot([]byte(`{
  "42": {"title": "Upload 42", "real_title": "Remote"},
  "7": {"title": "Upload 7", "real_title": "Eight"}
}`))
	if err != nil {
		t.Fatalf("ParseSnapshot() error = %v", err)
	}
	restored := New(moved)
	restored.Restore(state)

	entry, ok := restored.Entry("42", catalog.FieldRealTitle)
	if !ok || entry.Original != "Remote" || entry.Current != "New" {
		t.Fatalf("entry = %+v, %v", entry, ok)
	}
	if restored.HasPending("7") {
		t.Fatal("entry matching the new snapshot should be pruned")
	}
	if restored.HasPending("9") {
		t.Fatal("entry for vanished item should be dropped")
	}
	if restored.History().Len() != 3 {
		t.Fatalf("history len = %d, want 3", restored.History().Len())
	}
}

func TestHistoryQueryNewestFirst(t *testing.T) {
	l := newTestLedger(t)
	l.RecordEdit("42", catalog.FieldRealTitle, "New")
	l.RecordEdit("7", catalog.FieldRealGenre, "Sci-fi")
	l.RecordEdit("42", catalog.FieldRealGenre, "Noir")

	all := l.History().Query(Filter{})
	if len(all) != 3 || all[0].NewValue != "Noir" {
		t.Fatalf("Query() = %+v", all)
	}
	genre := l.History().Query(Filter{Field: catalog.FieldRealGenre, Text: "sci"})
	if len(genre) != 1 || genre[0].ItemID != "7" {
		t.Fatalf("filtered = %+v", genre)
	}
	if got := l.History().Query(Filter{Text: "new"}); len(got) != 2 {
		t.Fatalf("text query = %d records, want 2", len(got))
	}
}
