package catalog

import (
	"bytes"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
)

const sampleDoc = `{
  "42": {"title": "Old upload", "real_title": "Old", "real_genre": "Fantasy", "real_published_year": 1984, "tags": ["a", "b"], "custom_note": "keep <me> & me"},
  "7": {"title": "Other", "processed": true, "view_count": 1200, "nested": {"x": 1}},
  "x1": {"real_title": null}
}`

func TestSnapshotRoundTripIsSymmetric(t *testing.T) {
	snapshot, err := ParseSnapshot([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("ParseSnapshot() error = %v", err)
	}
	if got := strings.Join(snapshot.IDs(), ","); got != "42,7,x1" {
		t.Fatalf("IDs() = %s, want document order", got)
	}

	encoded, err := snapshot.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	if !bytes.Contains(encoded, []byte("keep <me> & me")) {
		t.Fatalf("expected HTML characters to survive unescaped:\n%s", encoded)
	}

	again, err := ParseSnapshot(encoded)
	if err != nil {
		t.Fatalf("ParseSnapshot(encoded) error = %v", err)
	}
	reencoded, err := again.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	if !bytes.Equal(encoded, reencoded) {
		t.Fatalf("round trip changed document:\n%s\n---\n%s", encoded, reencoded)
	}

	item, _ := again.Item("42")
	if got := strings.Join(fieldNames(item.Fields()), ","); got != "title,real_title,real_genre,real_published_year,tags,custom_note" {
		t.Fatalf("field order = %s", got)
	}
	if _, ok := item.Extra()["custom_note"]; !ok {
		t.Fatal("expected unknown field in Extra")
	}
	if _, ok := again.Item("x1"); !ok {
		t.Fatal("expected x1")
	}
	x1, _ := again.Item("x1")
	if _, present := x1.Get(FieldRealTitle); !present {
		t.Fatal("expected explicit null to stay present")
	}
}

func fieldNames(fields []Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}
	return out
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"strings", "Old", "Old", true},
		{"string vs number", "1984", 1984, false},
		{"number forms", 1984, 1984.0, true},
		{"null and nil", nil, nil, true},
		{"null vs empty", nil, "", false},
		{"arrays typed and generic", []string{"a", "b"}, []any{"a", "b"}, true},
		{"arrays order", []string{"a", "b"}, []string{"b", "a"}, false},
		{"bools", true, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Equal(tt.a, tt.b); got != tt.want {
				t.Fatalf("Equal(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestFingerprintDetectsAnyChange(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a := NewFingerprint([]byte(sampleDoc), 3, now)
	b := NewFingerprint([]byte(sampleDoc+" "), 3, now)
	if len(a.Hash) != 16 {
		t.Fatalf("hash length = %d", len(a.Hash))
	}
	if !a.Changed(b) {
		t.Fatal("expected trailing byte to change the fingerprint")
	}
	if a.Changed(NewFingerprint([]byte(sampleDoc), 3, now.Add(time.Hour))) {
		t.Fatal("timestamp must not affect the hash")
	}
}

func TestSimilarGenres(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"Fantasy", "fantasy", true},
		{"Thriller", "Thrillers", true},
		{"Classici", "Classico", true},
		{"Storia", "Storio", true},
		{"Gialli", "Giallo", true},
		{"Horror", "Romance", false},
		{"Fantascienza", "Saggistica", false},
		{"Poesia", "Poesia epica", false},
	}
	for _, tt := range tests {
		if got := SimilarGenres(tt.a, tt.b); got != tt.want {
			t.Errorf("SimilarGenres(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestCollectGenresAndSuggestTarget(t *testing.T) {
	genres := map[string]string{"1": "Fantasy", "2": "fantasy", "3": "Fantasy", "4": "Horror", "5": ""}
	stats := CollectGenres([]string{"1", "2", "3", "4", "5"}, func(id string) string { return genres[id] })
	if len(stats) != 3 {
		t.Fatalf("len(stats) = %d, want 3", len(stats))
	}
	if stats[0].Name != "Fantasy" || stats[0].Count != 2 || !stats[0].Suspicious {
		t.Fatalf("stats[0] = %+v", stats[0])
	}
	if got := SuggestMergeTarget(stats, []string{"fantasy", "Fantasy"}); got != "Fantasy" {
		t.Fatalf("SuggestMergeTarget() = %q", got)
	}
}

func TestValidateGenre(t *testing.T) {
	for _, bad := range []string{"", "  ", "ab", "Genre 2024", "#tag", "<b>Bold</b>"} {
		if err := ValidateGenre(bad); err == nil {
			t.Errorf("ValidateGenre(%q) expected error", bad)
		}
	}
	if err := ValidateGenre("Fantascienza"); err != nil {
		t.Fatalf("ValidateGenre() error = %v", err)
	}
	var validationErr *ValidationError
	if !errors.As(ValidateGenre("x"), &validationErr) {
		t.Fatal("expected ValidationError")
	}
}

func TestSubmitErrorMessages(t *testing.T) {
	tests := map[int]string{
		http.StatusUnauthorized:        "GitHub authentication failed",
		http.StatusForbidden:           "Access denied, check the repository permissions",
		http.StatusNotFound:            "Repository or file not found",
		http.StatusUnprocessableEntity: "Branch already exists or validation error",
		http.StatusInternalServerError: "Failed to submit changes",
	}
	for status, want := range tests {
		err := &SubmitError{Status: status}
		if err.Message() != want {
			t.Errorf("status %d message = %q, want %q", status, err.Message(), want)
		}
	}
}

func TestLabelsKeepsPullRequestOrder(t *testing.T) {
	got := Labels([]Field{FieldRealLanguage, "custom", FieldRealTitle})
	if strings.Join(got, ", ") != "Title, Language, custom" {
		t.Fatalf("Labels() = %v", got)
	}
}
