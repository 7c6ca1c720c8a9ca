package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"audiolibri/api/internal/catalog"
	"audiolibri/api/internal/ledger"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, s
}

func sampleState() State {
	item := catalog.NewItem()
	item.Set(catalog.FieldTitle, "Imported")
	return State{
		Pending: map[string]map[catalog.Field]ledger.Entry{
			"42": {catalog.FieldRealTitle: {Original: "Old", Current: "New"}},
			"7":  {catalog.FieldRealPublishedYear: {Original: nil, Current: 1984}},
		},
		Additions: map[string]*catalog.Item{"new-1": item},
		AddOrder:  []string{"new-1"},
		History: []ledger.Record{
			{ID: "r1", ItemID: "42", Field: catalog.FieldRealTitle, OldValue: "Old", NewValue: "Mid", Timestamp: time.Unix(10, 0).UTC()},
			{ID: "r2", ItemID: "42", Field: catalog.FieldRealTitle, OldValue: "Mid", NewValue: "New", Timestamp: time.Unix(20, 0).UTC()},
		},
		SavePending: true,
		Preferences: Preferences{ItemsPerPage: 25, MonitorIntervalMinutes: 10, DontShowWelcome: true},
	}
}

func TestNewRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestNewRedisStoreBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url"); err == nil {
		t.Fatal("expected error for invalid url")
	}
}

func TestSaveAndLoadSession(t *testing.T) {
	store, mr := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Save(ctx, "s1", sampleState()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	for _, key := range []string{"pending", "history", "preferences", "save_pending"} {
		if !mr.Exists("audiolibri:session:s1:" + key) {
			t.Fatalf("expected key %s", key)
		}
	}
	if got, _ := mr.List("audiolibri:session:s1:history"); len(got) != 2 {
		t.Fatalf("history list len = %d, want 2", len(got))
	}

	loaded, err := store.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Pending["42"][catalog.FieldRealTitle].Current != "New" {
		t.Fatalf("pending = %+v", loaded.Pending)
	}
	if got := loaded.Pending["7"][catalog.FieldRealPublishedYear].Current; got != json.Number("1984") {
		t.Fatalf("year = %#v, want json.Number", got)
	}
	if len(loaded.History) != 2 || loaded.History[1].NewValue != "New" {
		t.Fatalf("history = %+v", loaded.History)
	}
	if !loaded.SavePending || loaded.Preferences.MonitorIntervalMinutes != 10 || !loaded.Preferences.DontShowWelcome {
		t.Fatalf("flags = %+v", loaded)
	}
	if loaded.Additions["new-1"].Text(catalog.FieldTitle) != "Imported" {
		t.Fatalf("additions = %+v", loaded.Additions)
	}
	if loaded.UpdatedAt.IsZero() {
		t.Fatal("expected UpdatedAt")
	}
}

func TestSaveClearsRemovedHistoryAndFlag(t *testing.T) {
	store, mr := setupTestRedis(t)
	ctx := context.Background()

	state := sampleState()
	if err := store.Save(ctx, "s1", state); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	state.History = nil
	state.SavePending = false
	if err := store.Save(ctx, "s1", state); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if mr.Exists("audiolibri:session:s1:history") || mr.Exists("audiolibri:session:s1:save_pending") {
		t.Fatal("expected history and save flag removed")
	}
	loaded, err := store.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded.History) != 0 || loaded.SavePending {
		t.Fatalf("loaded = %+v", loaded)
	}
}

func TestLoadMissingSession(t *testing.T) {
	store, _ := setupTestRedis(t)
	if _, err := store.Load(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load() error = %v, want ErrNotFound", err)
	}
}

func TestDeleteSession(t *testing.T) {
	store, mr := setupTestRedis(t)
	ctx := context.Background()
	if err := store.Save(ctx, "s1", sampleState()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("keys left = %v", mr.Keys())
	}
}

func TestSessionTTL(t *testing.T) {
	store, mr := setupTestRedis(t)
	if err := store.Save(context.Background(), "s1", sampleState()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	mr.FastForward(defaultTTL + time.Second)
	if _, err := store.Load(context.Background(), "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load() after TTL error = %v, want ErrNotFound", err)
	}
}

func TestSubscribeSeesOtherInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	first := NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	second := NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() {
		first.Close()
		second.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan Event, 4)
	if err := first.Subscribe(ctx, func(e Event) { events <- e }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := first.Save(ctx, "own", sampleState()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := second.Save(ctx, "shared", sampleState()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	select {
	case e := <-events:
		if e.SessionID != "shared" {
			t.Fatalf("event = %+v, want only the other instance's write", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Load(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load() error = %v", err)
	}
	if err := store.Save(ctx, "s1", sampleState()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := store.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded.History) != 2 || !loaded.SavePending {
		t.Fatalf("loaded = %+v", loaded)
	}
	_ = store.Delete(ctx, "s1")
	if _, err := store.Load(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatal("expected session deleted")
	}
}

func TestPreferencesValidate(t *testing.T) {
	if err := DefaultPreferences(0, 7).Validate(); err != nil {
		t.Fatalf("DefaultPreferences().Validate() error = %v", err)
	}
	if DefaultPreferences(0, 7).MonitorIntervalMinutes != 5 {
		t.Fatal("expected fallback interval 5")
	}
	bad := Preferences{ItemsPerPage: 20, MonitorIntervalMinutes: 4}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected invalid interval error")
	}
}
