package search

import (
	"context"
	"log"
	"sync"

	"audiolibri/api/internal/catalog"
)

// Engine is an external index that can both store and rank items.
type Engine interface {
	Ranker
	Indexer
}

// Service is the facade that lets Meilisearch order results when it holds
// the current document, and falls back to document order otherwise.
type Service struct {
	engine Engine

	mu          sync.Mutex
	indexedHash string
	indexedIDs  map[string]struct{}
}

// NewService creates a search service. engine may be nil if Meilisearch is
// not configured.
func NewService(engine Engine) *Service {
	return &Service{engine: engine, indexedIDs: map[string]struct{}{}}
}

// Search matches q against doc. The match set always comes from the
// in-memory matcher; the engine only decides the order.
func (s *Service) Search(ctx context.Context, doc catalog.Document, q Query) Response {
	matches := MatchSnapshot(doc.Snapshot, q.Text)
	ordered, backend := s.order(ctx, doc, q, matches)

	total := len(ordered)
	if q.Limit > 0 && len(ordered) > q.Limit {
		ordered = ordered[:q.Limit]
	}
	return Response{
		IDs:      ordered,
		Snapshot: doc.Snapshot.Subset(ordered),
		Total:    total,
		Query:    q.Text,
		Seq:      q.Seq,
		Backend:  backend,
	}
}

func (s *Service) order(ctx context.Context, doc catalog.Document, q Query, matches []string) ([]string, Backend) {
	if s.engine == nil || q.Text == "" || len(matches) < 2 || !s.engine.Healthy() {
		return matches, BackendMemory
	}
	if !s.IndexedFor(doc) {
		return matches, BackendMemory
	}
	ranked, err := s.engine.Rank(ctx, q.Text, len(matches)*2)
	if err != nil {
		log.Printf("search: meilisearch error, falling back to document order: %v", err)
		return matches, BackendMemory
	}

	matchSet := make(map[string]struct{}, len(matches))
	for _, id := range matches {
		matchSet[id] = struct{}{}
	}
	ordered := make([]string, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, id := range ranked {
		if _, ok := matchSet[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, id)
	}
	for _, id := range matches {
		if _, ok := seen[id]; !ok {
			ordered = append(ordered, id)
		}
	}
	return ordered, BackendMeili
}

// IndexedFor reports whether the engine holds exactly doc.
func (s *Service) IndexedFor(doc catalog.Document) bool {
	hash := catalog.HashBytes(doc.Raw)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexedHash != "" && s.indexedHash == hash
}

// Reindex pushes doc into the engine and removes items that disappeared
// since the previous reindex.
func (s *Service) Reindex(ctx context.Context, doc catalog.Document) error {
	if s.engine == nil || !s.engine.Healthy() {
		return nil
	}
	hash := catalog.HashBytes(doc.Raw)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexedHash == hash {
		return nil
	}

	records := make([]ItemRecord, 0, doc.Snapshot.Len())
	current := make(map[string]struct{}, doc.Snapshot.Len())
	for _, id := range doc.Snapshot.IDs() {
		item, _ := doc.Snapshot.Item(id)
		records = append(records, RecordFor(id, item))
		current[id] = struct{}{}
	}
	if err := s.engine.IndexItems(ctx, records); err != nil {
		return err
	}

	var stale []string
	for id := range s.indexedIDs {
		if _, ok := current[id]; !ok {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		if err := s.engine.DeleteItems(ctx, stale); err != nil {
			return err
		}
	}
	s.indexedHash = hash
	s.indexedIDs = current
	return nil
}

// ReindexAsync runs Reindex in the background (fire-and-forget).
func (s *Service) ReindexAsync(doc catalog.Document) {
	if s.engine == nil || !s.engine.Healthy() {
		return
	}
	go func() {
		if err := s.Reindex(context.Background(), doc); err != nil {
			log.Printf("search: reindex: %v", err)
		}
	}()
}
