// Package realtime carries row-change notifications from the server to
// subscribed clients: an in-process or Redis bus between server instances,
// and a websocket hub/feed pair between server and client.
package realtime

import (
	"context"
	"encoding/json"
	"time"
)

type Kind string

const (
	KindInsert Kind = "INSERT"
	KindUpdate Kind = "UPDATE"
	KindDelete Kind = "DELETE"
)

// CollectionSyncedBlocks is the collection synced block changes are
// published on.
const CollectionSyncedBlocks = "synced_blocks"

// ChangeEvent describes one changed row. Record holds the row's new state
// for inserts and updates.
type ChangeEvent struct {
	Collection string          `json:"collection"`
	Kind       Kind            `json:"kind"`
	ID         string          `json:"id"`
	UserID     string          `json:"userId,omitempty"`
	Record     json.RawMessage `json:"record,omitempty"`
	At         time.Time       `json:"at"`
}

// NewEvent marshals record into a ChangeEvent.
func NewEvent(collection string, kind Kind, id, userID string, record any) (ChangeEvent, error) {
	evt := ChangeEvent{Collection: collection, Kind: kind, ID: id, UserID: userID, At: time.Now().UTC()}
	if record != nil {
		raw, err := json.Marshal(record)
		if err != nil {
			return ChangeEvent{}, err
		}
		evt.Record = raw
	}
	return evt, nil
}

type Handler func(ChangeEvent)

type Subscription interface {
	Close() error
}

// Feed delivers events for one collection, or every collection when
// collection is "".
type Feed interface {
	Subscribe(ctx context.Context, collection string, fn Handler) (Subscription, error)
}

type Bus interface {
	Feed
	Publish(ctx context.Context, evt ChangeEvent) error
	Close() error
}

func matches(collection string, evt ChangeEvent) bool {
	return collection == "" || collection == evt.Collection
}

type subscriptionFunc func() error

func (f subscriptionFunc) Close() error { return f() }
