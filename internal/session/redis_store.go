package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"audiolibri/api/internal/ledger"
	"audiolibri/api/internal/util"
)

const (
	defaultTTL    = 30 * 24 * time.Hour
	eventsChannel = "audiolibri:session-events"
)

// RedisStore keeps each session under four keys: the pending map, the
// history list, the save flag and the preferences.
type RedisStore struct {
	client *redis.Client
	prefix string
	origin string
	ttl    time.Duration
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "audiolibri:session:",
		origin: util.NewID("inst"),
		ttl:    defaultTTL,
	}
}

func (s *RedisStore) key(id, part string) string {
	return s.prefix + id + ":" + part
}

func (s *RedisStore) Save(ctx context.Context, id string, state State) error {
	pending, err := json.Marshal(State{
		Pending:   state.Pending,
		Additions: state.Additions,
		AddOrder:  state.AddOrder,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal pending changes: %w", err)
	}
	prefs, err := json.Marshal(state.Preferences)
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}
	history := make([]any, 0, len(state.History))
	for _, record := range state.History {
		encoded, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal history record: %w", err)
		}
		history = append(history, encoded)
	}

	historyKey := s.key(id, "history")
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(id, "pending"), pending, s.ttl)
		pipe.Set(ctx, s.key(id, "preferences"), prefs, s.ttl)
		pipe.Del(ctx, historyKey)
		if len(history) > 0 {
			pipe.RPush(ctx, historyKey, history...)
			pipe.Expire(ctx, historyKey, s.ttl)
		}
		if state.SavePending {
			pipe.Set(ctx, s.key(id, "save_pending"), "1", s.ttl)
		} else {
			pipe.Del(ctx, s.key(id, "save_pending"))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	event, _ := json.Marshal(Event{SessionID: id, Origin: s.origin, At: time.Now().UTC()})
	if err := s.client.Publish(ctx, eventsChannel, event).Err(); err != nil {
		log.Printf("session: publish change event failed: %v", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (State, error) {
	raw, err := s.client.Get(ctx, s.key(id, "pending")).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, ErrNotFound
	}
	if err != nil {
		return State{}, fmt.Errorf("load pending changes: %w", err)
	}

	var state State
	if err := decodeJSON(raw, &state); err != nil {
		return State{}, fmt.Errorf("decode pending changes: %w", err)
	}

	records, err := s.client.LRange(ctx, s.key(id, "history"), 0, -1).Result()
	if err != nil {
		return State{}, fmt.Errorf("load history: %w", err)
	}
	for _, encoded := range records {
		var record ledger.Record
		if err := decodeJSON([]byte(encoded), &record); err != nil {
			return State{}, fmt.Errorf("decode history record: %w", err)
		}
		state.History = append(state.History, record)
	}

	prefs, err := s.client.Get(ctx, s.key(id, "preferences")).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return State{}, fmt.Errorf("load preferences: %w", err)
	default:
		if err := decodeJSON(prefs, &state.Preferences); err != nil {
			return State{}, fmt.Errorf("decode preferences: %w", err)
		}
	}

	flag, err := s.client.Exists(ctx, s.key(id, "save_pending")).Result()
	if err != nil {
		return State{}, fmt.Errorf("load save flag: %w", err)
	}
	state.SavePending = flag > 0
	return state, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	keys := []string{s.key(id, "pending"), s.key(id, "history"), s.key(id, "preferences"), s.key(id, "save_pending")}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	event, _ := json.Marshal(Event{SessionID: id, Origin: s.origin, At: time.Now().UTC()})
	if err := s.client.Publish(ctx, eventsChannel, event).Err(); err != nil {
		log.Printf("session: publish change event failed: %v", err)
	}
	return nil
}

// Subscribe listens for writes by other instances. It returns once the
// subscription is established; delivery stops when ctx is cancelled.
func (s *RedisStore) Subscribe(ctx context.Context, fn func(Event)) error {
	sub := s.client.Subscribe(ctx, eventsChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe to session events: %w", err)
	}
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					log.Printf("session: bad change event: %v", err)
					continue
				}
				if event.Origin == s.origin {
					continue
				}
				fn(event)
			}
		}
	}()
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
