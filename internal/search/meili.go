package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxItems = "audiolibri_items"

var meiliIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,511}$`)

// Meili implements Ranker and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the items index.
// The returned value is usable even when the server is down; Healthy
// reports false until the background check sees it recover.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxItems,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxItems, err)
	}

	index := m.client.Index(idxItems)
	filterable := []interface{}{"real_genre", "content_type", "real_language"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxItems, err)
	}
	searchable := []string{
		"title", "real_title", "real_author", "real_genre", "real_synopsis", "real_narrator",
		"channel_name", "description", "summary", "content_type", "real_language", "audio_file",
		"categories", "tags",
	}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxItems, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Rank returns item ids in Meilisearch relevance order.
func (m *Meili) Rank(_ context.Context, text string, limit int) ([]string, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}
	if limit <= 0 {
		limit = 1000
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID:             idxItems,
			Query:                text,
			Limit:                int64(limit),
			AttributesToRetrieve: []string{"id"},
		}},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var ids []string
	for _, sr := range resp.Results {
		for _, hit := range sr.Hits {
			if id := decodeString(hit, "id"); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// IndexItems adds or updates items. Ids Meilisearch cannot store are
// skipped; those items are still found by the in-memory matcher.
func (m *Meili) IndexItems(_ context.Context, records []ItemRecord) error {
	valid := make([]ItemRecord, 0, len(records))
	for _, record := range records {
		if !meiliIDPattern.MatchString(record.ID) {
			log.Printf("search: skipping item %q, id not indexable", record.ID)
			continue
		}
		valid = append(valid, record)
	}
	if len(valid) == 0 {
		return nil
	}
	_, err := m.client.Index(idxItems).AddDocuments(valid, nil)
	return err
}

func (m *Meili) DeleteItems(_ context.Context, ids []string) error {
	index := m.client.Index(idxItems)
	for _, id := range ids {
		if !meiliIDPattern.MatchString(id) {
			continue
		}
		if _, err := index.DeleteDocument(id, nil); err != nil {
			return fmt.Errorf("delete item %s: %w", id, err)
		}
	}
	return nil
}
