// Package engine is the client-side page store. Every mutation is applied
// to local state first, published to watchers, then committed remotely and
// either reconciled or rolled back.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"distill/api/internal/blocks"
	"distill/api/internal/event"
	"distill/api/internal/logger"
	"distill/api/internal/trash"
	"distill/api/internal/tree"
)

var (
	ErrNotFound    = tree.ErrNotFound
	ErrNotInTrash  = errors.New("page is not in trash")
	ErrDuplicating = errors.New("page is already being duplicated")
)

// Remote is the server API the store commits to.
type Remote interface {
	Tree(ctx context.Context) ([]*tree.Page, error)
	CreatePage(ctx context.Context, parentID, title string) (string, error)
	UpdatePage(ctx context.Context, id string, patch PagePatch) error
	ToggleCollapse(ctx context.Context, id string) error
	Reorder(ctx context.Context, pageIDs []string, parentID string) error
	TrashPage(ctx context.Context, id string) error
	RestorePage(ctx context.Context, id string) error
	DeletePermanent(ctx context.Context, id string) error
	EmptyTrash(ctx context.Context) error
	Trash(ctx context.Context) ([]trash.Entry, error)
	Blocks(ctx context.Context, pageID string) ([]blocks.Row, error)
	SaveBlocks(ctx context.Context, pageID string, rows []blocks.Row) error
}

// PagePatch carries the page fields to update; nil fields are untouched.
type PagePatch struct {
	Title *string `json:"title,omitempty"`
	Icon  *string `json:"icon,omitempty"`
}

// Notice is a user-facing failure report for a rejected mutation.
type Notice struct {
	Op      string
	Message string
	Err     error
}

type Notifier interface {
	Notify(Notice)
}

type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

// State is an immutable snapshot. Watchers must not modify it.
type State struct {
	Forest      *tree.Forest
	Trash       trash.Bin
	Selected    string
	Favorites   map[string]bool
	Duplicating map[string]bool
	Loaded      bool
}

func (s State) clone() State {
	out := s
	out.Forest = s.Forest.Clone()
	out.Favorites = copySet(s.Favorites)
	out.Duplicating = copySet(s.Duplicating)
	return out
}

func copySet(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		if v {
			out[k] = v
		}
	}
	return out
}

type Store struct {
	remote   Remote
	log      *logger.Logger
	notifier Notifier
	now      func() time.Time

	mu       sync.Mutex
	state    State
	aliases  map[string]string
	watchers event.Emitter[State]
	bg       sync.WaitGroup
}

type Option func(*Store)

func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(remote Remote, log *logger.Logger, opts ...Option) *Store {
	s := &Store{
		remote: remote,
		log:    logger.OrNop(log).With("component", "engine"),
		now:    time.Now,
		state: State{
			Forest:      tree.New(),
			Trash:       trash.NewBin(nil),
			Favorites:   map[string]bool{},
			Duplicating: map[string]bool{},
		},
		aliases: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Watch registers fn for every published state and returns a cancel func.
func (s *Store) Watch(fn func(State)) func() {
	return s.watchers.On(fn)
}

// Wait blocks until background syncs started by the store have finished.
func (s *Store) Wait() {
	s.bg.Wait()
}

// ResolveID maps a temporary id to its server id once known.
func (s *Store) ResolveID(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveLocked(id)
}

func (s *Store) resolveLocked(id string) string {
	for i := 0; i < 8; i++ {
		next, ok := s.aliases[id]
		if !ok {
			break
		}
		id = next
	}
	return id
}

// update applies fn to a clone of the current state and publishes the
// result. It returns the state as it was before fn ran.
func (s *Store) update(fn func(st *State) error) (State, error) {
	s.mu.Lock()
	prev := s.state
	draft := prev.clone()
	if err := fn(&draft); err != nil {
		s.mu.Unlock()
		return prev, err
	}
	s.state = draft
	s.mu.Unlock()
	s.publish()
	return prev, nil
}

func (s *Store) replace(next State) {
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
	s.publish()
}

func (s *Store) publish() {
	s.watchers.Emit(s.State())
}

func (s *Store) notify(op string, err error) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(Notice{Op: op, Message: fmt.Sprintf("Could not %s. Your change was reverted.", op), Err: err})
}

func (s *Store) background(ctx context.Context, fn func(ctx context.Context)) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		fn(ctx)
	}()
}

// command is one optimistic mutation. apply validates and edits the draft
// state; a validation error aborts before anything is published. rollback
// defaults to restoring the pre-apply snapshot.
type command[R any] struct {
	op        string
	apply     func(st *State) error
	commit    func(ctx context.Context) (R, error)
	reconcile func(st *State, result R)
	rollback  func(ctx context.Context, prev State)
	refresh   bool
}

func execute[R any](ctx context.Context, s *Store, cmd command[R]) (R, error) {
	var zero R
	prev, err := s.update(cmd.apply)
	if err != nil {
		return zero, err
	}

	result, err := cmd.commit(ctx)
	if err != nil {
		if cmd.rollback != nil {
			cmd.rollback(ctx, prev)
		} else {
			s.replace(prev)
		}
		s.log.Warn("mutation rolled back", "op", cmd.op, "error", err)
		s.notify(cmd.op, err)
		return zero, fmt.Errorf("%s: %w", cmd.op, err)
	}

	if cmd.reconcile != nil {
		_, _ = s.update(func(st *State) error {
			cmd.reconcile(st, result)
			return nil
		})
	}
	if cmd.refresh {
		if err := s.Refresh(ctx); err != nil {
			s.log.Warn("refresh after mutation failed", "op", cmd.op, "error", err)
		}
	}
	return result, nil
}
