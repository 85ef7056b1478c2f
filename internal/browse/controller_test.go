package browse

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"

	"gitscout/internal/git"
	"gitscout/internal/search"
)

func TestControllerPagesSequentially(t *testing.T) {
	t.Parallel()
	f := newFixtureRepo(t)
	hashes := f.commits("c1", "c2", "c3", "c4", "c5")
	c := mustController(t, f.dir, "", 2)
	ctx := context.Background()

	page1, done, err := c.NextPage(ctx)
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if done || len(page1) != 2 || page1[0].Hash != hashes[4] || page1[1].Hash != hashes[3] {
		t.Fatalf("first page = %v, done %v", page1, done)
	}

	page2, done, err := c.NextPage(ctx)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if done || len(page2) != 2 || page2[0].Hash != hashes[2] || page2[1].Hash != hashes[1] {
		t.Fatalf("second page = %v, done %v", page2, done)
	}

	page3, done, err := c.NextPage(ctx)
	if err != nil {
		t.Fatalf("third page: %v", err)
	}
	if !done || len(page3) != 1 || page3[0].Hash != hashes[0] {
		t.Fatalf("third page = %v, done %v", page3, done)
	}

	if loaded, done := c.Loaded(); loaded != 5 || !done {
		t.Fatalf("Loaded = (%d, %v), want (5, true)", loaded, done)
	}

	// Past the end the controller reports exhaustion without waiting.
	extra, done, err := c.NextPage(ctx)
	if err != nil || !done || extra != nil {
		t.Fatalf("page past the end = (%v, %v, %v)", extra, done, err)
	}
}

func TestControllerRowAccess(t *testing.T) {
	t.Parallel()
	f := newFixtureRepo(t)
	hashes := f.commits("c1", "c2")
	f.tag("v1.0", hashes[1])
	c := mustController(t, f.dir, "", 10)
	ctx := context.Background()

	if _, ok := c.Row(0); ok {
		t.Fatal("Row reported a commit before any page loaded")
	}
	if _, _, err := c.NextPage(ctx); err != nil {
		t.Fatalf("NextPage: %v", err)
	}

	head, ok := c.Row(0)
	if !ok || head.Hash != hashes[1] {
		t.Fatalf("Row(0) = (%v, %v), want head", head, ok)
	}
	if _, ok := c.Row(2); ok {
		t.Fatal("Row(2) reported a commit past the end")
	}
	if _, ok := c.Row(-1); ok {
		t.Fatal("Row(-1) reported a commit")
	}

	labels := c.RowLabels(hashes[1])
	if len(labels) == 0 || labels[0] != "HEAD -> master" {
		t.Fatalf("head labels = %v", labels)
	}
	var hasTag bool
	for _, l := range labels {
		if l == "tag: v1.0" {
			hasTag = true
		}
	}
	if !hasTag {
		t.Fatalf("head labels %v lost the tag", labels)
	}
	if labels := c.RowLabels(hashes[0]); len(labels) != 0 {
		t.Fatalf("parent labels = %v, want none", labels)
	}
}

func TestControllerEnsureLoaded(t *testing.T) {
	t.Parallel()
	f := newFixtureRepo(t)
	f.commits("c1", "c2", "c3", "c4", "c5", "c6")
	c := mustController(t, f.dir, "", 2)
	ctx := context.Background()

	ok, err := c.EnsureLoaded(ctx, 3)
	if err != nil || !ok {
		t.Fatalf("EnsureLoaded(3) = (%v, %v)", ok, err)
	}
	if loaded, _ := c.Loaded(); loaded < 4 {
		t.Fatalf("loaded %d rows, want at least 4", loaded)
	}

	ok, err = c.EnsureLoaded(ctx, 99)
	if err != nil || ok {
		t.Fatalf("EnsureLoaded(99) = (%v, %v), want (false, nil)", ok, err)
	}
	if loaded, done := c.Loaded(); loaded != 6 || !done {
		t.Fatalf("Loaded = (%d, %v) after paging to the end", loaded, done)
	}

	if ok, err := c.EnsureLoaded(ctx, -1); err != nil || ok {
		t.Fatalf("EnsureLoaded(-1) = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestControllerSearchBindsAndSteps(t *testing.T) {
	t.Parallel()
	f := newFixtureRepo(t)
	f.commits("add parser", "fix docs", "parser: handle empty input", "cleanup")
	c := mustController(t, f.dir, "", 2)
	ctx := context.Background()

	status, err := c.Search(ctx, "parser")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if status.Superseded || status.Matches != 2 || status.First != 1 {
		t.Fatalf("status = %+v, want 2 matches starting at row 1", status)
	}
	// The first match's row was paged in before Search returned.
	if row, ok := c.Row(1); !ok || row.Message != "parser: handle empty input" {
		t.Fatalf("Row(1) = (%v, %v)", row, ok)
	}

	pos, ok, err := c.NextMatch(ctx, "parser")
	if err != nil || !ok || pos != 3 {
		t.Fatalf("NextMatch = (%d, %v, %v), want (3, true, nil)", pos, ok, err)
	}
	if row, ok := c.Row(3); !ok || row.Message != "add parser" {
		t.Fatalf("Row(3) = (%v, %v)", row, ok)
	}
	pos, ok, err = c.NextMatch(ctx, "parser")
	if err != nil || !ok || pos != 1 {
		t.Fatalf("NextMatch wrap = (%d, %v, %v), want (1, true, nil)", pos, ok, err)
	}
	pos, ok, err = c.PrevMatch(ctx, "parser")
	if err != nil || !ok || pos != 3 {
		t.Fatalf("PrevMatch = (%d, %v, %v), want (3, true, nil)", pos, ok, err)
	}
}

func TestControllerSearchNoMatches(t *testing.T) {
	t.Parallel()
	f := newFixtureRepo(t)
	f.commits("c1", "c2")
	c := mustController(t, f.dir, "", 10)
	ctx := context.Background()

	status, err := c.Search(ctx, "nothing here")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if status.Superseded || status.Matches != 0 {
		t.Fatalf("status = %+v, want 0 matches", status)
	}
	if pos, ok, err := c.NextMatch(ctx, "nothing here"); err != nil || ok || pos != 0 {
		t.Fatalf("NextMatch = (%d, %v, %v), want (0, false, nil)", pos, ok, err)
	}
}

func TestControllerSearchEmptyQueryClearsSession(t *testing.T) {
	t.Parallel()
	f := newFixtureRepo(t)
	f.commits("alpha", "beta")
	c := mustController(t, f.dir, "", 10)
	ctx := context.Background()

	if _, err := c.Search(ctx, "alpha"); err != nil {
		t.Fatalf("Search: %v", err)
	}
	status, err := c.Search(ctx, "")
	if err != nil {
		t.Fatalf("empty Search: %v", err)
	}
	if status != (SearchStatus{}) {
		t.Fatalf("empty query status = %+v", status)
	}
	// The session unbound; stepping re-resolves from the top.
	if pos, ok, err := c.NextMatch(ctx, "alpha"); err != nil || !ok || pos != 1 {
		t.Fatalf("NextMatch after clear = (%d, %v, %v), want (1, true, nil)", pos, ok, err)
	}
}

func TestControllerSearchClampsQuery(t *testing.T) {
	t.Parallel()
	f := newFixtureRepo(t)
	f.commit("c1")
	c := mustController(t, f.dir, "", 10)

	status, err := c.Search(context.Background(), strings.Repeat("x", 150))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(status.Query) != maxQueryChars {
		t.Fatalf("query kept %d chars, want %d", len(status.Query), maxQueryChars)
	}
}

func TestControllerSearchSupersession(t *testing.T) {
	t.Parallel()
	f := newFixtureRepo(t)
	f.commits("alpha one", "bravo two")
	c := mustController(t, f.dir, "", 10)

	// Inject a build that parks the first search until it is canceled.
	ids := []plumbing.Hash{f.hashes[1], f.hashes[0]}
	gate := make(chan struct{})
	var builds atomic.Int32
	cache := search.NewIndexCacheWithBuild(func(ctx context.Context, key search.IndexKey) ([]plumbing.Hash, error) {
		if builds.Add(1) == 1 {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return ids, nil
	})
	c.cache = cache
	c.searcher = search.NewSearcher(cache)

	type outcome struct {
		status SearchStatus
		err    error
	}
	firstDone := make(chan outcome, 1)
	go func() {
		status, err := c.Search(context.Background(), "alpha")
		firstDone <- outcome{status, err}
	}()
	waitUntil(t, func() bool { return builds.Load() >= 1 })

	status, err := c.Search(context.Background(), "bravo")
	if err != nil {
		t.Fatalf("second Search: %v", err)
	}
	if status.Superseded || status.Matches != 1 || status.First != 0 {
		t.Fatalf("second status = %+v, want 1 match at row 0", status)
	}

	first := <-firstDone
	if first.err != nil {
		t.Fatalf("first Search: %v", first.err)
	}
	if !first.status.Superseded {
		t.Fatalf("first status = %+v, want superseded", first.status)
	}
	if got := builds.Load(); got != 2 {
		t.Fatalf("build ran %d times, want 2", got)
	}

	// The session belongs to the winner.
	if pos, ok, err := c.NextMatch(context.Background(), "bravo"); err != nil || !ok || pos != 0 {
		t.Fatalf("NextMatch = (%d, %v, %v), want (0, true, nil)", pos, ok, err)
	}
}

func TestControllerSwitchRef(t *testing.T) {
	t.Parallel()
	f := newFixtureRepo(t)
	hashes := f.commits("c1", "c2", "c3")
	f.branch("dev", hashes[0])
	c := mustController(t, f.dir, "", 10)
	ctx := context.Background()

	if _, _, err := c.NextPage(ctx); err != nil {
		t.Fatalf("NextPage: %v", err)
	}
	if loaded, _ := c.Loaded(); loaded != 3 {
		t.Fatalf("loaded %d rows on master", loaded)
	}

	if err := c.SwitchRef("dev"); err != nil {
		t.Fatalf("SwitchRef: %v", err)
	}
	if c.Ref() != "dev" {
		t.Fatalf("Ref = %q, want dev", c.Ref())
	}
	if loaded, done := c.Loaded(); loaded != 0 || done {
		t.Fatalf("Loaded = (%d, %v) right after switch", loaded, done)
	}

	commits, done, err := c.NextPage(ctx)
	if err != nil {
		t.Fatalf("NextPage on dev: %v", err)
	}
	if !done || len(commits) != 1 || commits[0].Hash != hashes[0] {
		t.Fatalf("dev page = %v, done %v", commits, done)
	}

	if err := c.SwitchRef("absent"); !errors.Is(err, git.ErrInvalidRevision) {
		t.Fatalf("SwitchRef(absent) err = %v, want ErrInvalidRevision", err)
	}
	if c.Ref() != "dev" {
		t.Fatalf("failed switch moved the ref to %q", c.Ref())
	}
}

func TestControllerReloadPicksUpNewCommits(t *testing.T) {
	t.Parallel()
	f := newFixtureRepo(t)
	f.commits("c1", "c2")
	c := mustController(t, f.dir, "", 10)
	ctx := context.Background()

	if _, done, err := c.NextPage(ctx); err != nil || !done {
		t.Fatalf("NextPage = (done %v, err %v)", done, err)
	}

	newHead := f.commit("c3")
	c.Reload()
	if loaded, done := c.Loaded(); loaded != 0 || done {
		t.Fatalf("Loaded = (%d, %v) right after reload", loaded, done)
	}

	commits, done, err := c.NextPage(ctx)
	if err != nil {
		t.Fatalf("NextPage after reload: %v", err)
	}
	if !done || len(commits) != 3 || commits[0].Hash != newHead {
		t.Fatalf("reloaded page = %v, done %v", commits, done)
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	t.Parallel()
	if _, err := New(t.TempDir(), "", 10); !errors.Is(err, git.ErrNotRepository) {
		t.Fatalf("New on a plain dir err = %v, want ErrNotRepository", err)
	}

	f := newFixtureRepo(t)
	f.commit("c1")
	if _, err := New(f.dir, "no-such-ref", 10); !errors.Is(err, git.ErrInvalidRevision) {
		t.Fatalf("New with a bad ref err = %v, want ErrInvalidRevision", err)
	}
}

func TestClampQuery(t *testing.T) {
	t.Parallel()
	if got := clampQuery("short"); got != "short" {
		t.Fatalf("clampQuery(short) = %q", got)
	}
	long := strings.Repeat("é", 150)
	got := clampQuery(long)
	if want := strings.Repeat("é", 100); got != want {
		t.Fatalf("clampQuery kept %d runes", len([]rune(got)))
	}
}
