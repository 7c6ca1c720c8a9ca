// Package search answers the catalog search box: a case-insensitive
// substring match over the searchable item fields. Meilisearch ranks the
// hits when it is reachable and indexed; the in-memory matcher is always
// the source of truth for which items match.
package search

import (
	"context"
	"strings"

	"golang.org/x/text/cases"

	"audiolibri/api/internal/catalog"
)

// Backend names the engine that ordered a response.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendMeili  Backend = "meilisearch"
)

// Query describes a search request. Seq is echoed back so callers can drop
// responses that arrive after a newer one.
type Query struct {
	Text  string
	Seq   uint64
	Limit int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	IDs      []string          `json:"ids"`
	Snapshot *catalog.Snapshot `json:"data"`
	Total    int               `json:"total"`
	Query    string            `json:"query"`
	Seq      uint64            `json:"seq"`
	Backend  Backend           `json:"backend"`
}

// Ranker orders candidate ids by relevance for a query.
type Ranker interface {
	Rank(ctx context.Context, text string, limit int) ([]string, error)
	Healthy() bool
}

// Indexer pushes catalog items into an external index.
type Indexer interface {
	IndexItems(ctx context.Context, records []ItemRecord) error
	DeleteItems(ctx context.Context, ids []string) error
}

// ItemRecord is the data we index for a catalog item.
type ItemRecord struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	RealTitle    string   `json:"real_title"`
	RealAuthor   string   `json:"real_author"`
	RealGenre    string   `json:"real_genre"`
	RealSynopsis string   `json:"real_synopsis"`
	RealNarrator string   `json:"real_narrator"`
	ChannelName  string   `json:"channel_name"`
	Description  string   `json:"description"`
	Summary      string   `json:"summary"`
	ContentType  string   `json:"content_type"`
	RealLanguage string   `json:"real_language"`
	AudioFile    string   `json:"audio_file"`
	Categories   []string `json:"categories"`
	Tags         []string `json:"tags"`
}

// RecordFor projects an item onto its indexed fields.
func RecordFor(id string, item *catalog.Item) ItemRecord {
	return ItemRecord{
		ID:           id,
		Title:        item.Text(catalog.FieldTitle),
		RealTitle:    item.Text(catalog.FieldRealTitle),
		RealAuthor:   item.Text(catalog.FieldRealAuthor),
		RealGenre:    item.Text(catalog.FieldRealGenre),
		RealSynopsis: item.Text(catalog.FieldRealSynopsis),
		RealNarrator: item.Text(catalog.FieldRealNarrator),
		ChannelName:  item.Text(catalog.FieldChannelName),
		Description:  item.Text(catalog.FieldDescription),
		Summary:      item.Text(catalog.FieldSummary),
		ContentType:  item.Text(catalog.FieldContentType),
		RealLanguage: item.Text(catalog.FieldRealLanguage),
		AudioFile:    item.Text(catalog.FieldAudioFile),
		Categories:   catalog.Flatten(item.Value(catalog.FieldCategories)),
		Tags:         catalog.Flatten(item.Value(catalog.FieldTags)),
	}
}

// Matches reports whether any searchable field of item contains text,
// ignoring case. An empty text matches everything.
func Matches(item *catalog.Item, text string) bool {
	needle := strings.TrimSpace(text)
	if needle == "" {
		return true
	}
	fold := cases.Fold()
	needle = fold.String(needle)
	fields := append(append([]catalog.Field{}, catalog.SearchFields...), catalog.FieldCategories, catalog.FieldTags)
	for _, field := range fields {
		for _, fragment := range catalog.Flatten(item.Value(field)) {
			if strings.Contains(fold.String(fragment), needle) {
				return true
			}
		}
	}
	return false
}

// MatchSnapshot returns the ids of matching items in document order.
func MatchSnapshot(snapshot *catalog.Snapshot, text string) []string {
	ids := []string{}
	for _, id := range snapshot.IDs() {
		item, ok := snapshot.Item(id)
		if !ok {
			continue
		}
		if Matches(item, text) {
			ids = append(ids, id)
		}
	}
	return ids
}
