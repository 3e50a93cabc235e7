// Package autosave persists page documents after edits settle.
package autosave

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"sync"
	"time"

	"distill/api/internal/blocks"
	"distill/api/internal/logger"
	"distill/api/internal/util"
)

type Saver interface {
	SaveBlocks(ctx context.Context, pageID string, rows []blocks.Row) error
}

const (
	DefaultDelay       = time.Second
	DefaultSettleDelay = 100 * time.Millisecond
)

// Autosaver debounces content saves per page and skips saves whose payload
// matches the last one persisted. Saves never cancel each other; the last
// one to land wins.
type Autosaver struct {
	saver   Saver
	log     *logger.Logger
	delay   time.Duration
	settle  time.Duration
	resolve func(string) string

	mu       sync.Mutex
	pending  map[string][]blocks.Row
	timers   map[string]*Debouncer
	settlers map[string]*Debouncer
	lastHash map[string]string
	lastSeq  map[string][]string
	inflight sync.WaitGroup
}

type Option func(*Autosaver)

func WithDelay(d time.Duration) Option {
	return func(a *Autosaver) { a.delay = d }
}

func WithSettleDelay(d time.Duration) Option {
	return func(a *Autosaver) { a.settle = d }
}

// WithResolver maps page ids before saving, so edits made while a page
// still carried a temporary id land on its server id.
func WithResolver(fn func(string) string) Option {
	return func(a *Autosaver) { a.resolve = fn }
}

func New(saver Saver, log *logger.Logger, opts ...Option) *Autosaver {
	a := &Autosaver{
		saver:    saver,
		log:      logger.OrNop(log).With("component", "autosave"),
		delay:    DefaultDelay,
		settle:   DefaultSettleDelay,
		resolve:  func(id string) string { return id },
		pending:  make(map[string][]blocks.Row),
		timers:   make(map[string]*Debouncer),
		settlers: make(map[string]*Debouncer),
		lastHash: make(map[string]string),
		lastSeq:  make(map[string][]string),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Schedule queues doc for saving once edits to pageID pause for the
// configured delay.
func (a *Autosaver) Schedule(pageID string, doc []*blocks.Block) {
	rows := blocks.Flatten(pageID, doc)
	a.mu.Lock()
	a.pending[pageID] = rows
	d, ok := a.timers[pageID]
	if !ok {
		d = NewDebouncer(a.delay)
		a.timers[pageID] = d
	}
	a.mu.Unlock()

	d.Trigger(func() {
		if err := a.save(context.Background(), pageID); err != nil {
			a.log.Warn("autosave failed", "page_id", pageID, "error", err)
		}
	})
}

// ObserveOrder is called whenever the editor reports a structural change.
// Once changes pause for the settle delay, read is called and the document
// is scheduled for saving only if its block order differs from the last
// observed order.
func (a *Autosaver) ObserveOrder(pageID string, read func() []*blocks.Block) {
	a.mu.Lock()
	d, ok := a.settlers[pageID]
	if !ok {
		d = NewDebouncer(a.settle)
		a.settlers[pageID] = d
	}
	a.mu.Unlock()

	d.Trigger(func() {
		doc := read()
		seq := blockOrder(doc)
		a.mu.Lock()
		prev, seen := a.lastSeq[pageID]
		a.lastSeq[pageID] = seq
		a.mu.Unlock()
		if seen && equalStrings(prev, seq) {
			return
		}
		a.Schedule(pageID, doc)
	})
}

// Flush saves every pending document immediately.
func (a *Autosaver) Flush(ctx context.Context) error {
	a.mu.Lock()
	ids := make([]string, 0, len(a.pending))
	for id := range a.pending {
		ids = append(ids, id)
	}
	for _, id := range ids {
		if d := a.timers[id]; d != nil {
			d.Stop()
		}
	}
	a.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := a.save(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.inflight.Wait()
	return firstErr
}

// Close stops all timers without saving.
func (a *Autosaver) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, d := range a.timers {
		d.Stop()
	}
	for _, d := range a.settlers {
		d.Stop()
	}
}

func (a *Autosaver) save(ctx context.Context, pageID string) error {
	a.inflight.Add(1)
	defer a.inflight.Done()

	a.mu.Lock()
	rows, ok := a.pending[pageID]
	delete(a.pending, pageID)
	a.mu.Unlock()
	if !ok {
		return nil
	}

	target := a.resolve(pageID)
	for i := range rows {
		rows[i].PageID = target
		a.resolveLink(&rows[i])
	}
	hash, err := contentHash(rows)
	if err != nil {
		return err
	}
	a.mu.Lock()
	unchanged := a.lastHash[target] == hash
	a.mu.Unlock()
	if unchanged {
		a.log.Debug("autosave skipped, content unchanged", "page_id", target)
		return nil
	}

	if err := a.saver.SaveBlocks(ctx, target, rows); err != nil {
		return fmt.Errorf("save blocks %s: %w", target, err)
	}
	a.mu.Lock()
	a.lastHash[target] = hash
	a.mu.Unlock()
	return nil
}

// resolveLink points a page-link row created against a temporary child id
// at the child's server id.
func (a *Autosaver) resolveLink(row *blocks.Row) {
	if row.Type != blocks.TypePage {
		return
	}
	id, _ := row.Properties[blocks.PropPageID].(string)
	if !util.IsTempID(id) {
		return
	}
	if serverID := a.resolve(id); serverID != id {
		props := maps.Clone(row.Properties)
		props[blocks.PropPageID] = serverID
		row.Properties = props
	}
}

// MarkSaved records rows as the persisted state of pageID, e.g. right
// after loading, so an unchanged document is not written back.
func (a *Autosaver) MarkSaved(pageID string, rows []blocks.Row) {
	hash, err := contentHash(rows)
	if err != nil {
		return
	}
	a.mu.Lock()
	a.lastHash[pageID] = hash
	a.mu.Unlock()
}

func contentHash(rows []blocks.Row) (string, error) {
	raw, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("hash blocks: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

func blockOrder(doc []*blocks.Block) []string {
	var out []string
	blocks.Walk(doc, func(b *blocks.Block, depth int) {
		out = append(out, fmt.Sprintf("%d:%s", depth, b.ID))
	})
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
