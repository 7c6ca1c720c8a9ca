package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore keeps sessions in process memory. It is used when no Redis
// URL is configured; nothing survives a restart.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]byte)}
}

func (s *MemoryStore) Save(_ context.Context, id string, state State) error {
	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = encoded
	return nil
}

func (s *MemoryStore) Load(_ context.Context, id string) (State, error) {
	s.mu.Lock()
	encoded, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return State{}, ErrNotFound
	}
	var state State
	if err := decodeJSON(encoded, &state); err != nil {
		return State{}, fmt.Errorf("decode session: %w", err)
	}
	return state, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Subscribe is a no-op: a single process has no other writers.
func (s *MemoryStore) Subscribe(context.Context, func(Event)) error { return nil }

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
