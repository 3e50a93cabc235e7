package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	evt, err := NewEvent(CollectionSyncedBlocks, KindUpdate, "sb_1", "u1", map[string]string{"title": "x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"x"}`, string(evt.Record))
	assert.False(t, evt.At.IsZero())

	evt, err = NewEvent(CollectionSyncedBlocks, KindDelete, "sb_1", "", nil)
	require.NoError(t, err)
	assert.Nil(t, evt.Record)
}

func TestLocalBusFiltersByCollection(t *testing.T) {
	bus := NewLocalBus()
	ctx := context.Background()
	var got []string
	sub, err := bus.Subscribe(ctx, CollectionSyncedBlocks, func(evt ChangeEvent) { got = append(got, evt.ID) })
	require.NoError(t, err)
	var all int
	_, err = bus.Subscribe(ctx, "", func(ChangeEvent) { all++ })
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, ChangeEvent{Collection: CollectionSyncedBlocks, ID: "a"}))
	require.NoError(t, bus.Publish(ctx, ChangeEvent{Collection: "pages", ID: "b"}))
	require.NoError(t, sub.Close())
	require.NoError(t, bus.Publish(ctx, ChangeEvent{Collection: CollectionSyncedBlocks, ID: "c"}))

	assert.Equal(t, []string{"a"}, got)
	assert.Equal(t, 3, all)
}

func TestRedisBusRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	bus, err := NewRedisBus(ctx, "redis://"+mr.Addr()+"/0", "test:changes", nil)
	require.NoError(t, err)
	defer bus.Close()

	got := make(chan ChangeEvent, 4)
	sub, err := bus.Subscribe(ctx, CollectionSyncedBlocks, func(evt ChangeEvent) { got <- evt })
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, bus.Publish(ctx, ChangeEvent{Collection: "pages", ID: "skip"}))
	require.NoError(t, bus.Publish(ctx, ChangeEvent{Collection: CollectionSyncedBlocks, Kind: KindInsert, ID: "sb_1"}))

	select {
	case evt := <-got:
		assert.Equal(t, "sb_1", evt.ID)
		assert.Equal(t, KindInsert, evt.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for redis event")
	}
}

func TestRedisBusBadURL(t *testing.T) {
	_, err := NewRedisBus(context.Background(), "://bad", "", nil)
	require.Error(t, err)
}

func newHubServer(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(nil, "*")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, r.Header.Get("X-User-ID"))
	}))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url, user string) *WSFeed {
	t.Helper()
	header := http.Header{}
	header.Set("X-User-ID", user)
	feed, err := DialFeed(context.Background(), url, header, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = feed.Close() })
	return feed
}

func TestHubDeliversToSubscribedUser(t *testing.T) {
	hub, url := newHubServer(t)
	feed := dial(t, url, "u1")

	got := make(chan ChangeEvent, 4)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sub, err := feed.Subscribe(ctx, CollectionSyncedBlocks, func(evt ChangeEvent) { got <- evt })
	require.NoError(t, err)

	hub.Broadcast(ChangeEvent{Collection: CollectionSyncedBlocks, ID: "other-user", UserID: "u2"})
	hub.Broadcast(ChangeEvent{Collection: "pages", ID: "other-collection"})
	hub.Broadcast(ChangeEvent{Collection: CollectionSyncedBlocks, ID: "mine", UserID: "u1"})

	select {
	case evt := <-got:
		assert.Equal(t, "mine", evt.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
}

func TestHubRunForwardsBus(t *testing.T) {
	hub, url := newHubServer(t)
	bus := NewLocalBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx, bus) }()

	feed := dial(t, url, "u1")
	got := make(chan ChangeEvent, 1)
	subCtx, subCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer subCancel()
	_, err := feed.Subscribe(subCtx, CollectionSyncedBlocks, func(evt ChangeEvent) {
		select {
		case got <- evt:
		default:
		}
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_ = bus.Publish(context.Background(), ChangeEvent{Collection: CollectionSyncedBlocks, ID: "sb"})
		select {
		case evt := <-got:
			return evt.ID == "sb"
		default:
			return false
		}
	}, 2*time.Second, 20*time.Millisecond)
}

func TestFeedClosedRejectsSubscribe(t *testing.T) {
	_, url := newHubServer(t)
	feed := dial(t, url, "u1")
	require.NoError(t, feed.Close())
	_, err := feed.Subscribe(context.Background(), CollectionSyncedBlocks, func(ChangeEvent) {})
	require.ErrorIs(t, err, ErrFeedClosed)
}

func TestWebSocketURL(t *testing.T) {
	u, err := WebSocketURL("https://example.com/base/")
	require.NoError(t, err)
	assert.Equal(t, "wss://example.com/base/api/realtime", u)

	u, err = WebSocketURL("http://localhost:8787")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8787/api/realtime", u)
}
