package selection

import (
	"strings"
	"testing"

	"audiolibri/api/internal/catalog"
	"audiolibri/api/internal/ledger"
)

const selectionDoc = `{
  "1": {"title": "alpha", "real_author": "Verga", "processed": true, "real_published_year": 1881, "tags": ["verismo", "Sicilia"]},
  "2": {"title": "Beta", "real_author": "Manzoni", "processed": false, "real_published_year": 1827},
  "3": {"title": "àbaco", "real_author": "Anonimo"},
  "4": {"title": "delta", "real_author": "Verga", "processed": true, "real_published_year": 1890}
}`

func newSource(t *testing.T) *ledger.Ledger {
	t.Helper()
	snapshot, err := catalog.ParseSnapshot([]byte(selectionDoc))
	if err != nil {
		t.Fatalf("ParseSnapshot() error = %v", err)
	}
	return ledger.New(snapshot)
}

func rowIDs(rows []Row) string {
	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	return strings.Join(ids, ",")
}

func TestFilterIsStrictAnd(t *testing.T) {
	src := newSource(t)
	tests := []struct {
		name  string
		query Query
		want  string
	}{
		{"text only", Query{Text: "verga"}, "1,4"},
		{"array element", Query{Text: "SICILIA"}, "1"},
		{"text and status", Query{Text: "verga", Status: StatusProcessed}, "1,4"},
		{"unprocessed includes missing flag", Query{Status: StatusUnprocessed}, "2,3"},
		{"column and text", Query{Text: "verga", Column: catalog.FieldTitle, ColumnValue: "DEL"}, "4"},
		{"no match", Query{Text: "verga", Status: StatusUnprocessed}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rowIDs(Filter(src, tt.query)); got != tt.want {
				t.Fatalf("Filter() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFilterSeesPendingValues(t *testing.T) {
	src := newSource(t)
	src.RecordEdit("2", catalog.FieldRealAuthor, "Verga")
	if got := rowIDs(Filter(src, Query{Text: "verga"})); got != "1,2,4" {
		t.Fatalf("Filter() = %q", got)
	}
	if got := rowIDs(Filter(src, Query{Status: StatusModified})); got != "2" {
		t.Fatalf("modified filter = %q", got)
	}
}

func TestMissingColumnMatchesNothing(t *testing.T) {
	src := newSource(t)
	page := Select(src, Query{Column: "no_such_column", ColumnValue: "x"})
	if !page.Empty || page.Total != 0 || len(page.Rows) != 0 {
		t.Fatalf("page = %+v, want empty", page)
	}
}

func TestDefaultOrderPutsPendingFirst(t *testing.T) {
	src := newSource(t)
	src.RecordEdit("4", catalog.FieldRealAuthor, "G. Verga")
	src.RecordEdit("2", catalog.FieldRealAuthor, "A. Manzoni")
	page := Select(src, Query{})
	if got := rowIDs(page.Rows); got != "2,4,1,3" {
		t.Fatalf("default order = %q, want pending first in document order", got)
	}
	if !page.Rows[0].Pending || page.Rows[2].Pending {
		t.Fatal("expected pending flags on rows")
	}
}

func TestSortNumericWithNullsLast(t *testing.T) {
	src := newSource(t)
	asc := Select(src, Query{SortBy: catalog.FieldRealPublishedYear})
	if got := rowIDs(asc.Rows); got != "2,1,4,3" {
		t.Fatalf("ascending = %q", got)
	}
	desc := Select(src, Query{SortBy: catalog.FieldRealPublishedYear, Descending: true})
	if got := rowIDs(desc.Rows); got != "4,1,2,3" {
		t.Fatalf("descending = %q", got)
	}
}

func TestSortIgnoresCaseAndAccents(t *testing.T) {
	src := newSource(t)
	page := Select(src, Query{SortBy: catalog.FieldTitle})
	if got := rowIDs(page.Rows); got != "3,1,2,4" {
		t.Fatalf("title order = %q, want àbaco alpha Beta delta", got)
	}
}

func TestPaginate(t *testing.T) {
	src := newSource(t)
	page := Select(src, Query{PageSize: 3, Page: 2})
	if page.Pages != 2 || page.Total != 4 || rowIDs(page.Rows) != "4" {
		t.Fatalf("page 2 = %+v", page)
	}
	clamped := Select(src, Query{PageSize: 3, Page: 9})
	if clamped.Page != 2 {
		t.Fatalf("clamped page = %d, want 2", clamped.Page)
	}
	empty := Paginate(nil, 1, 10)
	if !empty.Empty || empty.Pages != 1 || len(empty.Rows) != 0 {
		t.Fatalf("empty = %+v", empty)
	}
}

func TestViewResetsPageWhenFilterChanges(t *testing.T) {
	v := NewView(10)
	v.SetPage(3)
	q := v.Query()
	q.SortBy = catalog.FieldTitle
	if got := v.Update(q); got.Page != 3 {
		t.Fatalf("sort change page = %d, want 3", got.Page)
	}
	q = v.Query()
	q.Text = "verga"
	if got := v.Update(q); got.Page != 1 {
		t.Fatalf("filter change page = %d, want 1", got.Page)
	}
	v.SetPage(2)
	q = v.Query()
	q.Status = StatusModified
	if got := v.Update(q); got.Page != 1 {
		t.Fatalf("status change page = %d, want 1", got.Page)
	}
}

func TestSequencerDiscardsStaleResponses(t *testing.T) {
	var seq Sequencer
	first := seq.Next()
	second := seq.Next()
	if !seq.Accept(second) {
		t.Fatal("expected newest response to be accepted")
	}
	if seq.Accept(first) {
		t.Fatal("expected stale response to be discarded")
	}
	if !seq.Accept(seq.Next()) {
		t.Fatal("expected next response to be accepted")
	}
}

func TestSetKeepsSelectionOrder(t *testing.T) {
	s := NewSet("b", "a", "b")
	if s.Toggle("c") != true || s.Toggle("a") != false {
		t.Fatal("unexpected toggle result")
	}
	if got := strings.Join(s.IDs(), ","); got != "b,c" {
		t.Fatalf("IDs() = %q", got)
	}
	s.Clear()
	if s.Len() != 0 {
		t.Fatal("expected empty set")
	}
}

func TestParseStatus(t *testing.T) {
	if status, err := ParseStatus("Unprocessed"); err != nil || status != StatusUnprocessed {
		t.Fatalf("ParseStatus() = %q, %v", status, err)
	}
	if _, err := ParseStatus("bogus"); err == nil {
		t.Fatal("expected error")
	}
}
