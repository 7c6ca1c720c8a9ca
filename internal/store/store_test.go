package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"audiolibri/api/internal/catalog"
	"audiolibri/api/internal/ledger"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, "sqlite:"+filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("ApplyMigrations() error = %v", err)
	}
	return NewSQLStore(db)
}

func TestRebind(t *testing.T) {
	pg := &DB{dialect: DialectPostgres}
	got := pg.Rebind(`SELECT * FROM t WHERE a=? AND b='?' AND c=?`)
	if want := `SELECT * FROM t WHERE a=$1 AND b='?' AND c=$2`; got != want {
		t.Fatalf("Rebind() = %q, want %q", got, want)
	}
	lite := &DB{dialect: DialectSQLite}
	if got := lite.Rebind(`a=?`); got != `a=?` {
		t.Fatalf("Rebind() sqlite = %q", got)
	}
}

func TestOpenRejectsUnknownURL(t *testing.T) {
	if _, err := Open(context.Background(), "mysql://nope"); err == nil {
		t.Fatal("expected error for unsupported url")
	}
}

func TestSubmissionsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	first, err := s.InsertSubmission(ctx, Submission{
		SessionID: "s1", Kind: KindSubmit, Outcome: "success", Branch: "edit-42",
		PRNumber: 12, PRURL: "https://github.com/o/r/pull/12", ChangesCount: 2, FieldsChanged: 3,
		Skipped: []string{"404"}, DataHash: "abc", CreatedAt: base,
	})
	if err != nil {
		t.Fatalf("InsertSubmission() error = %v", err)
	}
	if first.ID == "" {
		t.Fatal("expected generated id")
	}
	if _, err := s.InsertSubmission(ctx, Submission{
		SessionID: "s2", Kind: KindSave, Outcome: "noop", Error: "no changes", CreatedAt: base.Add(time.Minute),
	}); err != nil {
		t.Fatalf("InsertSubmission() error = %v", err)
	}

	got, err := s.GetSubmission(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetSubmission() error = %v", err)
	}
	if got.PRNumber != 12 || len(got.Skipped) != 1 || got.Skipped[0] != "404" || !got.CreatedAt.Equal(base) {
		t.Fatalf("GetSubmission() = %+v", got)
	}

	all, err := s.ListSubmissions(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListSubmissions() error = %v", err)
	}
	if len(all) != 2 || all[0].SessionID != "s2" {
		t.Fatalf("ListSubmissions() = %+v", all)
	}
	mine, err := s.ListSubmissions(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("ListSubmissions() error = %v", err)
	}
	if len(mine) != 1 || mine[0].ID != first.ID {
		t.Fatalf("ListSubmissions(s1) = %+v", mine)
	}

	if _, err := s.GetSubmission(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetSubmission() error = %v, want ErrNotFound", err)
	}
}

func TestArchiveHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sub, err := s.InsertSubmission(ctx, Submission{Kind: KindSubmit, Outcome: "success"})
	if err != nil {
		t.Fatalf("InsertSubmission() error = %v", err)
	}

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	records := []ledger.Record{
		{ID: "r1", ItemID: "42", ItemTitle: "Rosa", Field: catalog.FieldRealTitle, OldValue: "Old", NewValue: "New", Timestamp: at},
		{ID: "r2", ItemID: "42", ItemTitle: "Rosa", Field: catalog.FieldRealPublishedYear, OldValue: nil, NewValue: 1984, Timestamp: at.Add(time.Second)},
	}
	if err := s.ArchiveHistory(ctx, sub.ID, "s1", records); err != nil {
		t.Fatalf("ArchiveHistory() error = %v", err)
	}

	got, err := s.ArchivedHistory(ctx, sub.ID, "", 0)
	if err != nil {
		t.Fatalf("ArchivedHistory() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ArchivedHistory() len = %d", len(got))
	}
	if got[0].NewValue != "New" || got[1].OldValue != nil || got[1].NewValue != json.Number("1984") {
		t.Fatalf("ArchivedHistory() = %+v", got)
	}
	if !got[0].EditedAt.Equal(at) || got[0].SessionID != "s1" {
		t.Fatalf("ArchivedHistory()[0] = %+v", got[0])
	}

	byItem, err := s.ArchivedHistory(ctx, "", "7", 0)
	if err != nil {
		t.Fatalf("ArchivedHistory() error = %v", err)
	}
	if len(byItem) != 0 {
		t.Fatalf("ArchivedHistory(item 7) = %+v", byItem)
	}
}
