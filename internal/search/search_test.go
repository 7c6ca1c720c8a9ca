package search

import (
	"context"
	"errors"
	"slices"
	"testing"

	"audiolibri/api/internal/catalog"
)

const catalogJSON = `{
  "a1": {"title": "Il Nome della Rosa", "real_author": "Umberto Eco", "real_genre": "Giallo", "categories": ["Classici"]},
  "b2": {"title": "Upload", "real_title": "Rosa Candida", "tags": ["islanda", "ROMANZO"]},
  "c3": {"title": "Podcast 3", "content_type": "podcast", "real_genre": "Storia"},
  "d4": {"title": "Altro", "description": "una rosa tra le spine"}
}`

func parseDoc(t *testing.T, raw string) catalog.Document {
	t.Helper()
	doc, err := catalog.ParseDocument([]byte(raw))
	if err != nil {
		t.Fatalf("ParseDocument() error = %v", err)
	}
	return doc
}

type fakeEngine struct {
	healthy bool
	rankFn  func(text string) ([]string, error)
	indexed []ItemRecord
	deleted []string
}

func (f *fakeEngine) Healthy() bool { return f.healthy }

func (f *fakeEngine) Rank(_ context.Context, text string, _ int) ([]string, error) {
	return f.rankFn(text)
}

func (f *fakeEngine) IndexItems(_ context.Context, records []ItemRecord) error {
	f.indexed = append(f.indexed, records...)
	return nil
}

func (f *fakeEngine) DeleteItems(_ context.Context, ids []string) error {
	f.deleted = append(f.deleted, ids...)
	return nil
}

func TestMatchSnapshot(t *testing.T) {
	doc := parseDoc(t, catalogJSON)
	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"a1", "b2", "c3", "d4"}},
		{"rosa", []string{"a1", "b2", "d4"}},
		{"ECO", []string{"a1"}},
		{"classici", []string{"a1"}},
		{"romanzo", []string{"b2"}},
		{"podcast", []string{"c3"}},
		{"nothing here", []string{}},
	}
	for _, tt := range tests {
		got := MatchSnapshot(doc.Snapshot, tt.query)
		if !slices.Equal(got, tt.want) {
			t.Errorf("MatchSnapshot(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}

func TestServiceWithoutEngineUsesDocumentOrder(t *testing.T) {
	svc := NewService(nil)
	doc := parseDoc(t, catalogJSON)

	resp := svc.Search(context.Background(), doc, Query{Text: "rosa", Seq: 7, Limit: 2})
	if resp.Backend != BackendMemory || resp.Seq != 7 || resp.Total != 3 {
		t.Fatalf("resp = %+v", resp)
	}
	if !slices.Equal(resp.IDs, []string{"a1", "b2"}) || resp.Snapshot.Len() != 2 {
		t.Fatalf("ids = %v, len = %d", resp.IDs, resp.Snapshot.Len())
	}
}

func TestServiceRanksOnlyExactMatches(t *testing.T) {
	engine := &fakeEngine{healthy: true, rankFn: func(string) ([]string, error) {
		// c3 is a typo-tolerant hit that is not a substring match.
		return []string{"d4", "c3", "b2"}, nil
	}}
	svc := NewService(engine)
	doc := parseDoc(t, catalogJSON)

	if err := svc.Reindex(context.Background(), doc); err != nil {
		t.Fatalf("Reindex() error = %v", err)
	}
	if len(engine.indexed) != 4 || !svc.IndexedFor(doc) {
		t.Fatalf("indexed = %d", len(engine.indexed))
	}

	resp := svc.Search(context.Background(), doc, Query{Text: "rosa"})
	if resp.Backend != BackendMeili {
		t.Fatalf("backend = %s", resp.Backend)
	}
	if want := []string{"d4", "b2", "a1"}; !slices.Equal(resp.IDs, want) {
		t.Fatalf("ids = %v, want %v", resp.IDs, want)
	}
}

func TestServiceFallsBackWhenIndexIsStale(t *testing.T) {
	engine := &fakeEngine{healthy: true, rankFn: func(string) ([]string, error) {
		t.Fatal("Rank must not be called for a stale index")
		return nil, nil
	}}
	svc := NewService(engine)
	if err := svc.Reindex(context.Background(), parseDoc(t, catalogJSON)); err != nil {
		t.Fatalf("Reindex() error = %v", err)
	}

	moved := parseDoc(t, `{"a1": {"title": "Rosa"}}`)
	resp := svc.Search(context.Background(), moved, Query{Text: "rosa"})
	if resp.Backend != BackendMemory || !slices.Equal(resp.IDs, []string{"a1"}) {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestServiceFallsBackOnEngineError(t *testing.T) {
	engine := &fakeEngine{healthy: true, rankFn: func(string) ([]string, error) {
		return nil, errors.New("boom")
	}}
	svc := NewService(engine)
	doc := parseDoc(t, catalogJSON)
	if err := svc.Reindex(context.Background(), doc); err != nil {
		t.Fatalf("Reindex() error = %v", err)
	}
	resp := svc.Search(context.Background(), doc, Query{Text: "rosa"})
	if resp.Backend != BackendMemory || resp.Total != 3 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestReindexDeletesVanishedItems(t *testing.T) {
	engine := &fakeEngine{healthy: true}
	svc := NewService(engine)
	if err := svc.Reindex(context.Background(), parseDoc(t, catalogJSON)); err != nil {
		t.Fatalf("Reindex() error = %v", err)
	}
	if err := svc.Reindex(context.Background(), parseDoc(t, `{"a1": {"title": "x"}, "b2": {"title": "y"}}`)); err != nil {
		t.Fatalf("Reindex() error = %v", err)
	}
	slices.Sort(engine.deleted)
	if !slices.Equal(engine.deleted, []string{"c3", "d4"}) {
		t.Fatalf("deleted = %v", engine.deleted)
	}
}

func TestRecordFor(t *testing.T) {
	doc := parseDoc(t, catalogJSON)
	item, _ := doc.Snapshot.Item("b2")
	record := RecordFor("b2", item)
	if record.RealTitle != "Rosa Candida" || !slices.Equal(record.Tags, []string{"islanda", "ROMANZO"}) {
		t.Fatalf("record = %+v", record)
	}
}
