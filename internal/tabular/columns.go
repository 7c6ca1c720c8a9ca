package tabular

import (
	"fmt"
	"slices"
	"sort"

	"audiolibri/api/internal/catalog"
)

// ColumnID is the row key shown as a column. Items carry their id as the
// document key, not as a field.
const ColumnID catalog.Field = "id"

// maxDefaultColumns caps how many columns start visible.
const maxDefaultColumns = 15

var (
	priorityColumns = []catalog.Field{
		ColumnID, catalog.FieldRealTitle, catalog.FieldRealAuthor, catalog.FieldRealGenre,
		catalog.FieldContentType, catalog.FieldRealLanguage, catalog.FieldRealPublishedYear, catalog.FieldRealNarrator,
	}
	importantColumns = []catalog.Field{catalog.FieldTitle, catalog.FieldChannelName, catalog.FieldRealSynopsis}

	hiddenByDefault = []catalog.Field{
		catalog.FieldProcessed, catalog.FieldViewCount, catalog.FieldLikeCount, catalog.FieldDuration,
		catalog.FieldUploadDate, catalog.FieldThumbnail, catalog.FieldURL, catalog.FieldAudioFile,
		catalog.FieldSummary, catalog.FieldCategories, catalog.FieldTags, catalog.FieldDescription,
		"transcript",
	}
)

// Columns is the grid layout: every column found in the data, split into
// the visible ones (in display order) and the hidden ones.
type Columns struct {
	All     []catalog.Field `json:"all"`
	Visible []catalog.Field `json:"visible"`
	Hidden  []catalog.Field `json:"hidden"`
}

// ExtractColumns collects the column names of every item, sorted, and picks
// the default layout: priority columns first, then the important ones, then
// the remaining columns that are not hidden by default, up to
// maxDefaultColumns.
func ExtractColumns(snapshot *catalog.Snapshot) Columns {
	seen := map[catalog.Field]bool{ColumnID: true}
	if snapshot != nil {
		for _, id := range snapshot.IDs() {
			item, _ := snapshot.Item(id)
			for _, field := range item.Fields() {
				seen[field] = true
			}
		}
	}
	all := make([]catalog.Field, 0, len(seen))
	for field := range seen {
		all = append(all, field)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })

	var visible []catalog.Field
	for _, group := range [][]catalog.Field{priorityColumns, importantColumns} {
		for _, field := range group {
			if seen[field] && !slices.Contains(visible, field) {
				visible = append(visible, field)
			}
		}
	}
	for _, field := range all {
		if len(visible) >= maxDefaultColumns {
			break
		}
		if slices.Contains(visible, field) || slices.Contains(hiddenByDefault, field) {
			continue
		}
		visible = append(visible, field)
	}
	return Columns{All: all, Visible: visible, Hidden: hiddenOf(all, visible)}
}

// SetVisible replaces the visible columns, keeping the given order. Unknown
// or repeated columns are rejected and the layout is left unchanged.
func (c *Columns) SetVisible(visible []catalog.Field) error {
	if len(visible) == 0 {
		return catalog.NewValidationError("visible", "at least one column must stay visible")
	}
	seen := make(map[catalog.Field]bool, len(visible))
	for _, field := range visible {
		if !slices.Contains(c.All, field) {
			return catalog.NewValidationError("visible", fmt.Sprintf("unknown column %q", field))
		}
		if seen[field] {
			return catalog.NewValidationError("visible", fmt.Sprintf("column %q listed twice", field))
		}
		seen[field] = true
	}
	c.Visible = slices.Clone(visible)
	c.Hidden = hiddenOf(c.All, c.Visible)
	return nil
}

// Project keeps only the visible columns of item, in display order. The id
// column is filled from rowID.
func (c Columns) Project(rowID string, item *catalog.Item) *catalog.Item {
	out := catalog.NewItem()
	for _, field := range c.Visible {
		if field == ColumnID {
			out.Set(ColumnID, rowID)
			continue
		}
		out.Set(field, item.Value(field))
	}
	return out
}

func hiddenOf(all, visible []catalog.Field) []catalog.Field {
	hidden := make([]catalog.Field, 0, len(all))
	for _, field := range all {
		if !slices.Contains(visible, field) {
			hidden = append(hidden, field)
		}
	}
	return hidden
}
