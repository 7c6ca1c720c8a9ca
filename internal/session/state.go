// Package session persists editor sessions (pending edits, edit history,
// the post-redirect save flag and display preferences) so they survive a
// restart and can be picked up by another server instance.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"slices"
	"time"

	"audiolibri/api/internal/catalog"
	"audiolibri/api/internal/ledger"
)

var ErrNotFound = errors.New("session not found")

// MonitorIntervals are the allowed remote polling intervals, in minutes.
var MonitorIntervals = []int{3, 5, 10, 15, 30}

type Preferences struct {
	ItemsPerPage           int  `json:"itemsPerPage"`
	MonitorIntervalMinutes int  `json:"monitorIntervalMinutes"`
	DontShowWelcome        bool `json:"dontShowWelcome"`
}

func DefaultPreferences(pageSize, pollMinutes int) Preferences {
	if pageSize <= 0 {
		pageSize = 50
	}
	if !slices.Contains(MonitorIntervals, pollMinutes) {
		pollMinutes = 5
	}
	return Preferences{ItemsPerPage: pageSize, MonitorIntervalMinutes: pollMinutes}
}

func (p Preferences) Validate() error {
	if p.ItemsPerPage < 1 || p.ItemsPerPage > 500 {
		return catalog.NewValidationError("itemsPerPage", "items per page must be between 1 and 500")
	}
	if !slices.Contains(MonitorIntervals, p.MonitorIntervalMinutes) {
		return catalog.NewValidationError("monitorIntervalMinutes", "monitoring interval must be one of 3, 5, 10, 15 or 30 minutes")
	}
	return nil
}

// State is everything persisted for one session.
type State struct {
	Pending     map[string]map[catalog.Field]ledger.Entry `json:"pending"`
	Additions   map[string]*catalog.Item                  `json:"additions,omitempty"`
	AddOrder    []string                                  `json:"addOrder,omitempty"`
	History     []ledger.Record                           `json:"history"`
	SavePending bool                                      `json:"savePending"`
	Preferences Preferences                               `json:"preferences"`
	UpdatedAt   time.Time                                 `json:"updatedAt"`
}

func FromLedger(state ledger.State) State {
	return State{
		Pending:   state.Pending,
		Additions: state.Additions,
		AddOrder:  state.AddOrder,
		History:   state.History,
	}
}

func (s State) Ledger() ledger.State {
	return ledger.State{
		Pending:   s.Pending,
		Additions: s.Additions,
		AddOrder:  s.AddOrder,
		History:   s.History,
	}
}

// Event announces that a session was written by some instance.
type Event struct {
	SessionID string    `json:"sessionId"`
	Origin    string    `json:"origin"`
	At        time.Time `json:"at"`
}

// Store is a session persistence backend.
type Store interface {
	Load(ctx context.Context, id string) (State, error)
	Save(ctx context.Context, id string, state State) error
	Delete(ctx context.Context, id string) error
	// Subscribe calls fn for writes made by other instances until ctx ends.
	Subscribe(ctx context.Context, fn func(Event)) error
	Ping(ctx context.Context) error
	Close() error
}

// decodeJSON keeps numbers as json.Number so values round-trip exactly.
func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
