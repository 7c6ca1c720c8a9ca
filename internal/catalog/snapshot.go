package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Snapshot is the catalog document as last fetched: item id -> Item, in
// document order. It is the baseline every pending edit is diffed against and
// is not mutated by the editor after it is fetched.
type Snapshot struct {
	order     []string
	items     map[string]*Item
	FetchedAt time.Time
}

func NewSnapshot() *Snapshot {
	return &Snapshot{items: make(map[string]*Item)}
}

// ParseSnapshot decodes a catalog document.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	snapshot := NewSnapshot()
	if err := json.Unmarshal(data, snapshot); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return snapshot, nil
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// IDs returns item ids in document order.
func (s *Snapshot) IDs() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.order...)
}

func (s *Snapshot) Item(id string) (*Item, bool) {
	if s == nil {
		return nil, false
	}
	item, ok := s.items[id]
	return item, ok
}

func (s *Snapshot) Has(id string) bool {
	_, ok := s.Item(id)
	return ok
}

// Put inserts or replaces an item. New ids are appended to the order.
func (s *Snapshot) Put(id string, item *Item) {
	if s.items == nil {
		s.items = make(map[string]*Item)
	}
	if _, ok := s.items[id]; !ok {
		s.order = append(s.order, id)
	}
	s.items[id] = item
}

func (s *Snapshot) Remove(id string) {
	if _, ok := s.items[id]; !ok {
		return
	}
	delete(s.items, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *Snapshot) Clone() *Snapshot {
	clone := &Snapshot{
		order:     append([]string(nil), s.order...),
		items:     make(map[string]*Item, len(s.items)),
		FetchedAt: s.FetchedAt,
	}
	for id, item := range s.items {
		clone.items[id] = item.Clone()
	}
	return clone
}

// Subset returns a snapshot restricted to ids, keeping document order.
func (s *Snapshot) Subset(ids []string) *Snapshot {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	subset := NewSnapshot()
	subset.FetchedAt = s.FetchedAt
	for _, id := range s.order {
		if _, ok := want[id]; ok {
			subset.Put(id, s.items[id])
		}
	}
	return subset
}

// Bytes encodes the document with two-space indentation.
func (s *Snapshot) Bytes() ([]byte, error) {
	compact, err := s.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact, "", "  "); err != nil {
		return nil, fmt.Errorf("indent catalog: %w", err)
	}
	return out.Bytes(), nil
}

func (s *Snapshot) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range s.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := encodeCompact(id)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		item, err := s.items[id].MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("encode item %s: %w", id, err)
		}
		buf.Write(item)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	s.order = nil
	s.items = make(map[string]*Item)

	dec := json.NewDecoder(bytes.NewReader(data))
	if err := expectDelim(dec, '{'); err != nil {
		return err
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("read item id: %w", err)
		}
		id, ok := tok.(string)
		if !ok {
			return fmt.Errorf("item id is %T, want string", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("read item %s: %w", id, err)
		}
		item := NewItem()
		if err := item.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("decode item %s: %w", id, err)
		}
		s.Put(id, item)
	}
	return expectDelim(dec, '}')
}

// Diff is the minimal change set handed to reconciliation:
// item id -> field -> pending value.
type Diff map[string]map[string]any

// ItemIDs returns the diff's item ids sorted for deterministic processing.
func (d Diff) ItemIDs() []string {
	ids := make([]string, 0, len(d))
	for id := range d {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// FieldCount is the number of (item, field) pairs in the diff.
func (d Diff) FieldCount() int {
	total := 0
	for _, fields := range d {
		total += len(fields)
	}
	return total
}

// SortedFields returns the field names of one item sorted.
func SortedFields(fields map[string]any) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
