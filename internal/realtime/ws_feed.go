package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"distill/api/internal/logger"
)

var ErrFeedClosed = errors.New("realtime feed closed")

// WSFeed is the client side of the hub: one websocket connection carrying
// any number of collection subscriptions.
type WSFeed struct {
	conn *websocket.Conn
	log  *logger.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	nextID   int
	handlers map[string]map[int]Handler
	acks     map[string][]chan struct{}
	closed   bool

	done chan struct{}
}

// WebSocketURL rewrites an http(s) base URL into the realtime endpoint.
func WebSocketURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path += "/api/realtime"
	return u.String(), nil
}

func DialFeed(ctx context.Context, wsURL string, header http.Header, log *logger.Logger) (*WSFeed, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial realtime feed: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("dial realtime feed: %w", err)
	}
	f := &WSFeed{
		conn:     conn,
		log:      logger.OrNop(log).With("component", "WSFeed"),
		handlers: make(map[string]map[int]Handler),
		acks:     make(map[string][]chan struct{}),
		done:     make(chan struct{}),
	}
	go f.readLoop()
	return f, nil
}

// Done is closed when the connection ends.
func (f *WSFeed) Done() <-chan struct{} { return f.done }

// Subscribe registers fn for collection. The first handler for a
// collection sends the subscribe request and waits for the server's ack.
func (f *WSFeed) Subscribe(ctx context.Context, collection string, fn Handler) (Subscription, error) {
	if collection == "" {
		return nil, fmt.Errorf("collection required")
	}
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrFeedClosed
	}
	id := f.nextID
	f.nextID++
	first := len(f.handlers[collection]) == 0
	if first {
		f.handlers[collection] = make(map[int]Handler)
	}
	f.handlers[collection][id] = fn
	var ack chan struct{}
	if first {
		ack = make(chan struct{})
		f.acks[collection] = append(f.acks[collection], ack)
	}
	f.mu.Unlock()

	sub := &feedSubscription{feed: f, collection: collection, id: id}
	if !first {
		return sub, nil
	}
	if err := f.send(controlMessage{Op: opSubscribe, Collection: collection}); err != nil {
		_ = sub.Close()
		return nil, err
	}
	select {
	case <-ack:
		return sub, nil
	case <-f.done:
		return nil, ErrFeedClosed
	case <-ctx.Done():
		_ = sub.Close()
		return nil, ctx.Err()
	}
}

func (f *WSFeed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	f.writeMu.Lock()
	_ = f.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	f.writeMu.Unlock()
	err := f.conn.Close()
	<-f.done
	return err
}

func (f *WSFeed) send(msg controlMessage) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if err := f.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("send %s %s: %w", msg.Op, msg.Collection, err)
	}
	return nil
}

func (f *WSFeed) readLoop() {
	defer close(f.done)
	defer func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
	}()
	for {
		var msg wireMessage
		if err := f.conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				f.log.Debug("realtime feed ended", "error", err)
			}
			return
		}
		switch msg.Type {
		case typeAck:
			if msg.Op == opSubscribe {
				f.releaseAck(msg.Collection)
			}
		case typeEvent:
			if msg.Event != nil {
				f.dispatch(*msg.Event)
			}
		}
	}
}

func (f *WSFeed) releaseAck(collection string) {
	f.mu.Lock()
	waiting := f.acks[collection]
	delete(f.acks, collection)
	f.mu.Unlock()
	for _, ch := range waiting {
		close(ch)
	}
}

func (f *WSFeed) dispatch(evt ChangeEvent) {
	f.mu.Lock()
	handlers := make([]Handler, 0, len(f.handlers[evt.Collection]))
	for _, h := range f.handlers[evt.Collection] {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(evt)
	}
}

type feedSubscription struct {
	feed       *WSFeed
	collection string
	id         int
	once       sync.Once
}

func (s *feedSubscription) Close() error {
	var err error
	s.once.Do(func() {
		f := s.feed
		f.mu.Lock()
		delete(f.handlers[s.collection], s.id)
		last := len(f.handlers[s.collection]) == 0
		if last {
			delete(f.handlers, s.collection)
		}
		closed := f.closed
		f.mu.Unlock()
		if last && !closed {
			err = f.send(controlMessage{Op: opUnsubscribe, Collection: s.collection})
		}
	})
	return err
}
