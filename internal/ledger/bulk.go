package ledger

import (
	"strings"

	"audiolibri/api/internal/catalog"
)

// BulkEdit applies value to field on every id and returns how many items
// actually changed. Items that already hold value are skipped.
func (l *Ledger) BulkEdit(ids []string, field catalog.Field, value any) int {
	changed := 0
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if l.RecordEdit(id, field, value) {
			changed++
		}
	}
	return changed
}

// Genres reports genre usage over the effective values of every item.
func (l *Ledger) Genres() []catalog.GenreStat {
	return catalog.CollectGenres(l.AllIDs(), l.genreOf)
}

func (l *Ledger) genreOf(id string) string {
	return catalog.Stringify(l.Effective(id, catalog.FieldRealGenre))
}

func (l *Ledger) idsWithGenre(names ...string) []string {
	want := make(map[string]bool, len(names))
	for _, name := range names {
		want[strings.TrimSpace(name)] = true
	}
	var ids []string
	for _, id := range l.AllIDs() {
		if want[strings.TrimSpace(l.genreOf(id))] {
			ids = append(ids, id)
		}
	}
	return ids
}

// RenameGenre moves every item with genre from to genre to.
func (l *Ledger) RenameGenre(from, to string) (int, error) {
	to = strings.TrimSpace(to)
	if strings.TrimSpace(from) == "" {
		return 0, catalog.NewValidationError("from", "genre to rename is required")
	}
	if err := catalog.ValidateGenre(to); err != nil {
		return 0, err
	}
	return l.BulkEdit(l.idsWithGenre(from), catalog.FieldRealGenre, to), nil
}

// MergeGenres moves every item whose genre is one of sources to target.
func (l *Ledger) MergeGenres(sources []string, target string) (int, error) {
	target = strings.TrimSpace(target)
	if len(sources) == 0 {
		return 0, catalog.NewValidationError("sources", "at least one genre to merge is required")
	}
	if err := catalog.ValidateGenre(target); err != nil {
		return 0, err
	}
	return l.BulkEdit(l.idsWithGenre(sources...), catalog.FieldRealGenre, target), nil
}

// DeleteGenre clears the genre of every item that has it.
func (l *Ledger) DeleteGenre(name string) (int, error) {
	if strings.TrimSpace(name) == "" {
		return 0, catalog.NewValidationError("genre", "genre to delete is required")
	}
	return l.BulkEdit(l.idsWithGenre(name), catalog.FieldRealGenre, ""), nil
}
