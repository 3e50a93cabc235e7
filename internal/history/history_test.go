package history

import (
	"errors"
	"sync"
	"testing"

	"distill/api/internal/blocks"
)

func rows(contents ...string) []blocks.Row {
	out := make([]blocks.Row, 0, len(contents))
	for i, c := range contents {
		out = append(out, blocks.Row{ID: "blk_" + c, PageID: "pg_1", Type: blocks.TypeText, Content: c, Position: i})
	}
	return out
}

func TestPageHistoryLifecycle(t *testing.T) {
	svc := New(t.TempDir(), nil)

	first, changed, err := svc.Record(Content{PageID: "pg_1", Title: "Plan", Blocks: rows("a", "b")}, "Avery", "Save page")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if !changed || first.Hash == "" {
		t.Fatalf("expected first revision, got %+v changed=%v", first, changed)
	}
	if first.Added != 2 {
		t.Fatalf("expected 2 added blocks, got %d", first.Added)
	}

	same, changed, err := svc.Record(Content{PageID: "pg_1", Title: "Plan", Blocks: rows("a", "b")}, "Avery", "Save page")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if changed || same.Hash != first.Hash {
		t.Fatalf("identical content must not commit, got %+v changed=%v", same, changed)
	}

	edited := rows("a", "c")
	edited[0].Content = "a!"
	second, changed, err := svc.Record(Content{PageID: "pg_1", Title: "Plan", Blocks: edited}, "Avery", "Save page")
	if err != nil || !changed {
		t.Fatalf("Record() changed=%v error = %v", changed, err)
	}
	if second.Added != 1 || second.Removed != 1 || second.Changed != 1 {
		t.Fatalf("unexpected change counts %+v", second)
	}

	history, err := svc.History("pg_1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 revisions, got %d", len(history))
	}
	if history[0].Hash != second.Hash || history[1].Hash != first.Hash {
		t.Fatalf("history not newest first: %+v", history)
	}
	if history[1].Added != 2 || history[0].Removed != 1 {
		t.Fatalf("history diff counts wrong: %+v", history)
	}

	limited, err := svc.History("pg_1", 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("History(limit=1) = %d, %v", len(limited), err)
	}
	if limited[0].Added != 1 {
		t.Fatalf("limited history must still diff against parent: %+v", limited[0])
	}

	content, commit, err := svc.ContentAt("pg_1", first.Hash)
	if err != nil {
		t.Fatalf("ContentAt() error = %v", err)
	}
	if commit.Hash != first.Hash || len(content.Blocks) != 2 || content.Blocks[1].Content != "b" {
		t.Fatalf("unexpected content at %s: %+v", first.Hash, content)
	}

	if err := svc.Remove("pg_1"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	history, err = svc.History("pg_1", 10)
	if err != nil || len(history) != 0 {
		t.Fatalf("expected empty history after remove, got %d, %v", len(history), err)
	}
	if _, _, err := svc.ContentAt("pg_1", first.Hash); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("expected ErrNoHistory, got %v", err)
	}
}

func TestRejectsPathLikePageIDs(t *testing.T) {
	svc := New(t.TempDir(), nil)
	for _, id := range []string{"", "..", "a/b", "../x"} {
		if _, _, err := svc.Record(Content{PageID: id}, "", "x"); !errors.Is(err, ErrInvalidPage) {
			t.Fatalf("Record(%q) error = %v, want ErrInvalidPage", id, err)
		}
	}
}

func TestConcurrentRecordsSerializePerPage(t *testing.T) {
	svc := New(t.TempDir(), nil)
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			title := string(rune('a' + i))
			if _, _, err := svc.Record(Content{PageID: "pg_1", Title: title}, "Avery", "rename"); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Record() error = %v", err)
	}
	history, err := svc.History("pg_1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 8 {
		t.Fatalf("expected 8 revisions, got %d", len(history))
	}
}

func TestDiffComparesProperties(t *testing.T) {
	a := Content{Blocks: []blocks.Row{{ID: "x", Type: blocks.TypeTodo, Properties: map[string]any{"checked": false}}}}
	b := Content{Blocks: []blocks.Row{{ID: "x", Type: blocks.TypeTodo, Properties: map[string]any{"checked": true}}}}
	if got := Diff(a, b); len(got.Changed) != 1 {
		t.Fatalf("expected property change, got %+v", got)
	}
	if got := Diff(a, a); !got.Empty() {
		t.Fatalf("expected empty diff, got %+v", got)
	}
}
