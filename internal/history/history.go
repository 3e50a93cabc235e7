// Package history versions page content in a git repository per page.
// Every saved revision of a page's blocks becomes a commit of content.json.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"distill/api/internal/blocks"
	"distill/api/internal/logger"
)

const (
	contentFile = "content.json"
	mainBranch  = "main"
)

var (
	ErrNoHistory   = errors.New("page has no history")
	ErrInvalidPage = errors.New("invalid page id")
)

// Content is one revision of a page.
type Content struct {
	PageID string       `json:"pageId"`
	Title  string       `json:"title"`
	Blocks []blocks.Row `json:"blocks"`
}

type Commit struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
	Added     int       `json:"added"`
	Removed   int       `json:"removed"`
	Changed   int       `json:"changed"`
}

// Change summarizes the difference between two revisions.
type Change struct {
	Title   bool
	Added   []string
	Removed []string
	Changed []string
}

func (c Change) Empty() bool {
	return !c.Title && len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Changed) == 0
}

type Service struct {
	baseDir string
	log     *logger.Logger
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string, log *logger.Logger) *Service {
	return &Service{
		baseDir: baseDir,
		log:     logger.OrNop(log).With("component", "history"),
		locks:   make(map[string]*sync.Mutex),
	}
}

// Record commits content as the page's newest revision. It returns false
// without committing when nothing changed since the last revision.
func (s *Service) Record(content Content, author, message string) (Commit, bool, error) {
	path, err := s.repoPath(content.PageID)
	if err != nil {
		return Commit{}, false, err
	}
	lock := s.pageLock(content.PageID)
	lock.Lock()
	defer lock.Unlock()

	repo, created, err := openOrInit(path)
	if err != nil {
		return Commit{}, false, err
	}

	var change Change
	if !created {
		head, headCommit, err := headContent(repo)
		if err != nil && !errors.Is(err, plumbing.ErrReferenceNotFound) {
			return Commit{}, false, err
		}
		if err == nil {
			change = Diff(head, content)
			if change.Empty() {
				return toCommit(headCommit), false, nil
			}
		} else {
			change = Diff(Content{}, content)
		}
	} else {
		change = Diff(Content{}, content)
	}

	hash, err := commit(repo, content, author, message)
	if err != nil {
		return Commit{}, false, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Commit{}, false, fmt.Errorf("read commit object: %w", err)
	}
	info := toCommit(commitObj)
	info.Added, info.Removed, info.Changed = len(change.Added), len(change.Removed), len(change.Changed)
	s.log.Debug("recorded page revision", "page_id", content.PageID, "hash", info.Hash)
	return info, true, nil
}

// History lists revisions newest first, with block counts diffed against
// each revision's parent.
func (s *Service) History(pageID string, limit int) ([]Commit, error) {
	path, err := s.repoPath(pageID)
	if err != nil {
		return nil, err
	}
	lock := s.pageLock(pageID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Commit{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}
	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	var objs []*object.Commit
	err = iter.ForEach(func(c *object.Commit) error {
		objs = append(objs, c)
		if limit > 0 && len(objs) > limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}

	items := make([]Commit, 0, len(objs))
	for i, c := range objs {
		if limit > 0 && i >= limit {
			break
		}
		info := toCommit(c)
		current, err := readContent(c)
		if err != nil {
			return nil, err
		}
		var parent Content
		if i+1 < len(objs) {
			if parent, err = readContent(objs[i+1]); err != nil {
				return nil, err
			}
		}
		change := Diff(parent, current)
		info.Added, info.Removed, info.Changed = len(change.Added), len(change.Removed), len(change.Changed)
		items = append(items, info)
	}
	return items, nil
}

// ContentAt returns the revision at hash, which may be abbreviated.
func (s *Service) ContentAt(pageID, hash string) (Content, Commit, error) {
	path, err := s.repoPath(pageID)
	if err != nil {
		return Content{}, Commit{}, err
	}
	lock := s.pageLock(pageID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return Content{}, Commit{}, ErrNoHistory
	}
	if err != nil {
		return Content{}, Commit{}, fmt.Errorf("open repo: %w", err)
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return Content{}, Commit{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return Content{}, Commit{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	content, err := readContent(commitObj)
	if err != nil {
		return Content{}, Commit{}, err
	}
	return content, toCommit(commitObj), nil
}

// Remove deletes a page's history, used when the page is purged.
func (s *Service) Remove(pageID string) error {
	path, err := s.repoPath(pageID)
	if err != nil {
		return err
	}
	lock := s.pageLock(pageID)
	lock.Lock()
	defer lock.Unlock()
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove history %s: %w", pageID, err)
	}
	return nil
}

// Diff compares two revisions block by block.
func Diff(from, to Content) Change {
	change := Change{Title: from.Title != to.Title}
	before := make(map[string]blocks.Row, len(from.Blocks))
	for _, row := range from.Blocks {
		before[row.ID] = row
	}
	seen := make(map[string]bool, len(to.Blocks))
	for _, row := range to.Blocks {
		seen[row.ID] = true
		prev, ok := before[row.ID]
		switch {
		case !ok:
			change.Added = append(change.Added, row.ID)
		case !sameRow(prev, row):
			change.Changed = append(change.Changed, row.ID)
		}
	}
	for _, row := range from.Blocks {
		if !seen[row.ID] {
			change.Removed = append(change.Removed, row.ID)
		}
	}
	return change
}

func sameRow(a, b blocks.Row) bool {
	if a.Type != b.Type || a.Content != b.Content || a.Position != b.Position || a.Parent() != b.Parent() {
		return false
	}
	if len(a.Properties) == 0 && len(b.Properties) == 0 {
		return true
	}
	return reflect.DeepEqual(normalize(a.Properties), normalize(b.Properties))
}

// normalize round-trips props through JSON so numbers compare equal
// whether they came from Go values or decoded JSON.
func normalize(props map[string]any) map[string]any {
	raw, err := json.Marshal(props)
	if err != nil {
		return props
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return props
	}
	return out
}

func (s *Service) repoPath(pageID string) (string, error) {
	if pageID == "" || pageID != filepath.Base(pageID) || pageID == "." || pageID == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidPage, pageID)
	}
	return filepath.Join(s.baseDir, pageID), nil
}

func (s *Service) pageLock(pageID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[pageID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[pageID] = lock
	}
	return lock
}

func openOrInit(path string) (*git.Repository, bool, error) {
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, false, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, false, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, false, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, false, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return nil, false, fmt.Errorf("set HEAD to %s: %w", mainBranch, err)
	}
	return repo, true, nil
}

func headContent(repo *git.Repository) (Content, *object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return Content{}, nil, err
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return Content{}, nil, fmt.Errorf("load head commit: %w", err)
	}
	content, err := readContent(commitObj)
	if err != nil {
		return Content{}, nil, err
	}
	return content, commitObj, nil
}

func commit(repo *git.Repository, content Content, author, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}
	payload, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal content: %w", err)
	}
	root := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(root, contentFile), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", contentFile, err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add content: %w", err)
	}
	if author == "" {
		author = "distill"
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.distill.dev", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit content: %w", err)
	}
	return hash, nil
}

func readContent(commitObj *object.Commit) (Content, error) {
	file, err := commitObj.File(contentFile)
	if err != nil {
		return Content{}, fmt.Errorf("load %s from commit: %w", contentFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Content{}, fmt.Errorf("open content reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Content{}, fmt.Errorf("read content bytes: %w", err)
	}
	var content Content
	if err := json.Unmarshal(raw, &content); err != nil {
		return Content{}, fmt.Errorf("decode commit content: %w", err)
	}
	return content, nil
}

func toCommit(commitObj *object.Commit) Commit {
	return Commit{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
