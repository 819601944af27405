// Package realtime defines the change-feed and broadcast-channel contracts the
// client consumes, and an in-process implementation of both.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrClosed = errors.New("realtime: closed")

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
	EventAll    EventType = "*"
)

// Change is one row-level change on a table. Record holds the new row for
// inserts and updates, OldRecord the previous row for updates and deletes.
type Change struct {
	Table           string          `json:"table"`
	Type            EventType       `json:"type"`
	Record          json.RawMessage `json:"record,omitempty"`
	OldRecord       json.RawMessage `json:"old_record,omitempty"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

// Row returns the row the change is about: the old row for deletes, the new
// row otherwise.
func (c Change) Row() json.RawMessage {
	if c.Type == EventDelete {
		return c.OldRecord
	}
	return c.Record
}

// RowID extracts the "id" column of Row.
func (c Change) RowID() (string, error) {
	var row struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(c.Row(), &row); err != nil {
		return "", fmt.Errorf("decoding change row: %w", err)
	}
	if row.ID == "" {
		return "", errors.New("change row has no id")
	}
	return row.ID, nil
}

// Filter selects changes on one table, optionally restricted to an event type
// and to rows whose Column equals Value.
type Filter struct {
	Table  string    `json:"table"`
	Event  EventType `json:"event,omitempty"`
	Column string    `json:"column,omitempty"`
	Value  string    `json:"value,omitempty"`
}

func (f Filter) String() string {
	event := f.Event
	if event == "" {
		event = EventAll
	}
	if f.Column == "" {
		return fmt.Sprintf("%s:%s", f.Table, event)
	}
	return fmt.Sprintf("%s:%s:%s=eq.%s", f.Table, event, f.Column, f.Value)
}

func (f Filter) Matches(c Change) bool {
	if f.Table != c.Table {
		return false
	}
	if f.Event != "" && f.Event != EventAll && f.Event != c.Type {
		return false
	}
	if f.Column == "" {
		return true
	}
	var row map[string]any
	if err := json.Unmarshal(c.Row(), &row); err != nil {
		return false
	}
	v, ok := row[f.Column]
	if !ok || v == nil {
		return false
	}
	return fmt.Sprint(v) == f.Value
}

type ChangeHandler func(Change)

// BroadcastHandler receives one message published on a broadcast channel.
type BroadcastHandler func(event string, payload json.RawMessage)

// Subscription is returned by every subscribe/join call. Unsubscribe is
// idempotent; once it returns no new handler invocation starts.
type Subscription interface {
	Unsubscribe()
}

// ChangeFeed delivers row-level changes matching a filter.
type ChangeFeed interface {
	Subscribe(ctx context.Context, filter Filter, handler ChangeHandler) (Subscription, error)
}

// Broadcaster is ephemeral pub/sub keyed by channel name. Nothing is
// persisted; delivery is best-effort while joined.
type Broadcaster interface {
	Join(ctx context.Context, channel string, handler BroadcastHandler) (Subscription, error)
	Send(ctx context.Context, channel, event string, payload any) error
}

// SubscriptionFunc adapts a function to Subscription.
type SubscriptionFunc func()

func (f SubscriptionFunc) Unsubscribe() { f() }

// NewChange encodes record and old (either may be nil) into a Change.
func NewChange(table string, typ EventType, record, old any, at time.Time) (Change, error) {
	c := Change{Table: table, Type: typ, CommitTimestamp: at}
	if record != nil {
		data, err := json.Marshal(record)
		if err != nil {
			return Change{}, fmt.Errorf("encoding %s record: %w", table, err)
		}
		c.Record = data
	}
	if old != nil {
		data, err := json.Marshal(old)
		if err != nil {
			return Change{}, fmt.Errorf("encoding %s old record: %w", table, err)
		}
		c.OldRecord = data
	}
	return c, nil
}
