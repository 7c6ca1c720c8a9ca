package selection

import (
	"sync"
)

// View remembers the last query of an editor so that changing any filter
// sends the user back to the first page.
type View struct {
	query Query
}

func NewView(pageSize int) *View {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &View{query: Query{Page: 1, PageSize: pageSize}}
}

func (v *View) Query() Query { return v.query }

// Update replaces the current query. When next filters differently from the
// current query the page is reset to 1.
func (v *View) Update(next Query) Query {
	if next.PageSize <= 0 {
		next.PageSize = v.query.PageSize
	}
	if !next.sameFilter(v.query) || next.Page < 1 {
		next.Page = 1
	}
	v.query = next
	return v.query
}

// SetPage moves to page without touching the filters.
func (v *View) SetPage(page int) Query {
	if page < 1 {
		page = 1
	}
	v.query.Page = page
	return v.query
}

// Sequencer hands out increasing request numbers and rejects responses that
// arrive after a newer one was applied.
type Sequencer struct {
	mu      sync.Mutex
	issued  uint64
	applied uint64
}

func (s *Sequencer) Next() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	return s.issued
}

// Accept reports whether a response for seq may be applied and, if so,
// marks it as the newest applied one.
func (s *Sequencer) Accept(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.applied {
		return false
	}
	s.applied = seq
	if seq > s.issued {
		s.issued = seq
	}
	return true
}

// Set is the transient selection used by bulk operations. It keeps the
// order in which ids were selected.
type Set struct {
	order []string
	ids   map[string]struct{}
}

func NewSet(ids ...string) *Set {
	s := &Set{ids: make(map[string]struct{})}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

func (s *Set) Add(id string) {
	if _, ok := s.ids[id]; ok || id == "" {
		return
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
}

func (s *Set) Remove(id string) {
	if _, ok := s.ids[id]; !ok {
		return
	}
	delete(s.ids, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Toggle flips membership and reports whether id is now selected.
func (s *Set) Toggle(id string) bool {
	if s.Has(id) {
		s.Remove(id)
		return false
	}
	s.Add(id)
	return s.Has(id)
}

func (s *Set) Has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *Set) Len() int { return len(s.order) }

func (s *Set) IDs() []string { return append([]string(nil), s.order...) }

func (s *Set) Clear() {
	s.order = nil
	s.ids = make(map[string]struct{})
}
