// Package synced keeps a client-side cache of synced blocks, content that
// is stored once and shown wherever it is referenced, and keeps that cache
// current from the realtime change feed.
package synced

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"distill/api/internal/event"
	"distill/api/internal/logger"
	"distill/api/internal/realtime"
)

// Item is one content entry of a synced block; Content is inline markup.
type Item struct {
	Type       string         `json:"type"`
	Content    string         `json:"content"`
	Properties map[string]any `json:"properties,omitempty"`
}

type Block struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title,omitempty"`
	Content   []Item    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Reference is a block that transcludes a synced block.
type Reference struct {
	BlockID   string `json:"blockId"`
	PageID    string `json:"pageId"`
	PageTitle string `json:"pageTitle"`
}

type Detail struct {
	Block
	References []Reference `json:"references"`
}

// Update carries the fields to change; a nil Title leaves it untouched.
type Update struct {
	Title   *string `json:"title,omitempty"`
	Content []Item  `json:"content"`
}

type Remote interface {
	ListSyncedBlocks(ctx context.Context) ([]Block, error)
	GetSyncedBlock(ctx context.Context, id string) (Detail, error)
	CreateSyncedBlock(ctx context.Context, title string, content []Item) (Block, error)
	UpdateSyncedBlock(ctx context.Context, id string, update Update) (Block, error)
	DeleteSyncedBlock(ctx context.Context, id string) error
	ConvertToSynced(ctx context.Context, blockID string) (Block, error)
	LinkSyncedBlock(ctx context.Context, syncedBlockID, blockID string) error
	UnlinkSyncedBlock(ctx context.Context, blockID string) error
	SyncedBlockReferences(ctx context.Context, id string) ([]Reference, error)
}

type Service struct {
	remote Remote
	feed   realtime.Feed
	log    *logger.Logger

	mu      sync.Mutex
	cache   map[string]Block
	order   []string
	tracked map[string]int
	// seen is the newest UpdatedAt observers were told about, per block,
	// so a local write and its feed echo notify once.
	seen    map[string]time.Time
	updates event.Emitter[Block]

	// subMu guards sub. Feed callbacks only ever take mu.
	subMu sync.Mutex
	sub   realtime.Subscription
}

func NewService(remote Remote, feed realtime.Feed, log *logger.Logger) *Service {
	return &Service{
		remote:  remote,
		feed:    feed,
		log:     logger.OrNop(log).With("component", "synced"),
		cache:   make(map[string]Block),
		tracked: make(map[string]int),
		seen:    make(map[string]time.Time),
	}
}

// List fetches the user's synced blocks and replaces the list cache.
func (s *Service) List(ctx context.Context) ([]Block, error) {
	list, err := s.remote.ListSyncedBlocks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list synced blocks: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = s.order[:0]
	for _, b := range list {
		s.cache[b.ID] = b
		s.order = append(s.order, b.ID)
	}
	return append([]Block(nil), list...), nil
}

// Cached returns the cached list, newest first.
func (s *Service) Cached() []Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Block, 0, len(s.order))
	for _, id := range s.order {
		if b, ok := s.cache[id]; ok {
			out = append(out, b)
		}
	}
	return out
}

func (s *Service) Lookup(id string) (Block, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.cache[id]
	return b, ok
}

func (s *Service) Get(ctx context.Context, id string) (Detail, error) {
	detail, err := s.remote.GetSyncedBlock(ctx, id)
	if err != nil {
		return Detail{}, fmt.Errorf("get synced block %s: %w", id, err)
	}
	s.mu.Lock()
	s.cache[id] = detail.Block
	s.mu.Unlock()
	return detail, nil
}

func (s *Service) Create(ctx context.Context, title string, content []Item) (Block, error) {
	b, err := s.remote.CreateSyncedBlock(ctx, title, content)
	if err != nil {
		return Block{}, fmt.Errorf("create synced block: %w", err)
	}
	s.insert(b)
	return b, nil
}

// Update writes new content. Observers of the block are notified
// immediately; other clients learn about it from the feed. The feed's echo
// of this write is not delivered again.
func (s *Service) Update(ctx context.Context, id string, update Update) (Block, error) {
	b, err := s.remote.UpdateSyncedBlock(ctx, id, update)
	if err != nil {
		return Block{}, fmt.Errorf("update synced block %s: %w", id, err)
	}
	s.mu.Lock()
	s.cache[b.ID] = b
	fresh := s.markSeenLocked(b)
	s.mu.Unlock()
	if fresh {
		s.updates.Emit(b)
	}
	return b, nil
}

// Delete removes a synced block. Blocks still referencing it are left for
// the server to resolve.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.remote.DeleteSyncedBlock(ctx, id); err != nil {
		return fmt.Errorf("delete synced block %s: %w", id, err)
	}
	s.remove(id)
	return nil
}

// Convert turns an existing block into a reference to a new synced block
// holding the block's content, in a single round trip.
func (s *Service) Convert(ctx context.Context, blockID string) (Block, error) {
	b, err := s.remote.ConvertToSynced(ctx, blockID)
	if err != nil {
		return Block{}, fmt.Errorf("convert block %s: %w", blockID, err)
	}
	s.insert(b)
	return b, nil
}

func (s *Service) Link(ctx context.Context, syncedBlockID, blockID string) error {
	if err := s.remote.LinkSyncedBlock(ctx, syncedBlockID, blockID); err != nil {
		return fmt.Errorf("link block %s to %s: %w", blockID, syncedBlockID, err)
	}
	return nil
}

// Unlink drops a block's reference. The synced block itself survives even
// when no references remain.
func (s *Service) Unlink(ctx context.Context, blockID string) error {
	if err := s.remote.UnlinkSyncedBlock(ctx, blockID); err != nil {
		return fmt.Errorf("unlink block %s: %w", blockID, err)
	}
	return nil
}

func (s *Service) References(ctx context.Context, id string) ([]Reference, error) {
	refs, err := s.remote.SyncedBlockReferences(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("synced block references %s: %w", id, err)
	}
	return refs, nil
}

// Track marks id as displayed so remote updates to it reach observers.
// The returned func releases the mark; ids are reference counted.
func (s *Service) Track(id string) func() {
	s.mu.Lock()
	s.tracked[id]++
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.tracked[id]--; s.tracked[id] <= 0 {
				delete(s.tracked, id)
			}
		})
	}
}

// OnUpdate registers an observer of updates to displayed synced blocks.
func (s *Service) OnUpdate(fn func(Block)) func() {
	return s.updates.On(fn)
}

// Subscribe opens the feed subscription. Calling it while subscribed is a
// no-op.
func (s *Service) Subscribe(ctx context.Context) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.sub != nil {
		return nil
	}
	if s.feed == nil {
		return fmt.Errorf("subscribe synced blocks: no realtime feed configured")
	}
	sub, err := s.feed.Subscribe(ctx, realtime.CollectionSyncedBlocks, s.handle)
	if err != nil {
		return fmt.Errorf("subscribe synced blocks: %w", err)
	}
	s.sub = sub
	return nil
}

// Unsubscribe closes the feed subscription; it is safe to call repeatedly.
func (s *Service) Unsubscribe() error {
	s.subMu.Lock()
	sub := s.sub
	s.sub = nil
	s.subMu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.Close()
}

func (s *Service) Subscribed() bool {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return s.sub != nil
}

func (s *Service) handle(evt realtime.ChangeEvent) {
	switch evt.Kind {
	case realtime.KindInsert:
		b, ok := s.decode(evt)
		if !ok {
			return
		}
		s.insert(b)
	case realtime.KindUpdate:
		b, ok := s.decode(evt)
		if !ok {
			return
		}
		s.mu.Lock()
		cur, cached := s.cache[b.ID]
		if cached && !b.UpdatedAt.IsZero() && b.UpdatedAt.Before(cur.UpdatedAt) {
			s.mu.Unlock()
			return
		}
		displayed := s.tracked[b.ID] > 0
		if cached || displayed {
			s.cache[b.ID] = b
		}
		notify := displayed && s.markSeenLocked(b)
		s.mu.Unlock()
		if notify {
			s.updates.Emit(b)
		}
	case realtime.KindDelete:
		s.remove(evt.ID)
	default:
		s.log.Debug("ignoring change event", "kind", evt.Kind, "id", evt.ID)
	}
}

// markSeenLocked records b as delivered and reports whether it is newer
// than anything delivered before. Versions without a timestamp always
// count as new.
func (s *Service) markSeenLocked(b Block) bool {
	if b.UpdatedAt.IsZero() {
		return true
	}
	if last, ok := s.seen[b.ID]; ok && !b.UpdatedAt.After(last) {
		return false
	}
	s.seen[b.ID] = b.UpdatedAt
	return true
}

func (s *Service) decode(evt realtime.ChangeEvent) (Block, bool) {
	var b Block
	if len(evt.Record) == 0 {
		s.log.Warn("change event without record", "kind", evt.Kind, "id", evt.ID)
		return Block{}, false
	}
	if err := json.Unmarshal(evt.Record, &b); err != nil {
		s.log.Warn("bad synced block record", "id", evt.ID, "error", err)
		return Block{}, false
	}
	if b.ID == "" {
		b.ID = evt.ID
	}
	return b, true
}

func (s *Service) insert(b Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.cache[b.ID]
	s.cache[b.ID] = b
	if exists {
		for _, id := range s.order {
			if id == b.ID {
				return
			}
		}
	}
	s.order = append([]string{b.ID}, s.order...)
}

func (s *Service) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, id)
	delete(s.seen, id)
	out := s.order[:0]
	for _, existing := range s.order {
		if existing != id {
			out = append(out, existing)
		}
	}
	s.order = out
}
