package browse

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-git/go-git/v5/plumbing"

	"gitscout/internal/git"
	"gitscout/internal/search"
)

const (
	// maxQueryChars clamps search input so a pasted blob cannot stall the
	// scan workers.
	maxQueryChars = 100
	// pagePollSlice bounds one wait for a pager response.
	pagePollSlice = 30 * time.Millisecond
	// resultPollSlice bounds one wait for an async search result.
	resultPollSlice = 50 * time.Millisecond
	// ensureSlice and ensureAttempts bound how long EnsureLoaded keeps
	// paging toward a target row before giving up.
	ensureSlice    = 100 * time.Millisecond
	ensureAttempts = 200
)

// Controller drives the commit list. It owns the repository handle, the
// background pager for the current ref, and the search stack. One
// coordinating goroutine calls its methods; every wait is a bounded poll so
// a reload or a superseded search never wedges it. Reload alone is safe to
// call from another goroutine, which is how the file watcher uses it.
type Controller struct {
	repoPath string
	repo     *git.Repo
	pageSize int

	cache    *search.IndexCache
	searcher *search.Searcher
	session  *search.Session

	mu         sync.Mutex
	ref        string
	generation uint64
	pager      *pager
	rows       []*git.Commit
	labels     map[plumbing.Hash][]string
	done       bool

	searchMu     sync.Mutex
	searchCancel context.CancelFunc
	activeQuery  string
}

// New opens the repository, validates the ref, and starts the walk. An
// empty ref browses the checked-out branch, falling back to main and then
// HEAD.
func New(repoPath, ref string, pageSize int) (*Controller, error) {
	repo, err := git.Open(repoPath)
	if err != nil {
		return nil, err
	}
	if ref == "" {
		ref = repo.DefaultRef()
	}
	if _, err := git.NewWalker(repo, git.ForRef(ref)); err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		pageSize = git.DefaultPageSize
	}
	cache := search.NewIndexCache()
	c := &Controller{
		repoPath: repo.Path(),
		repo:     repo,
		pageSize: pageSize,
		ref:      ref,
		cache:    cache,
		searcher: search.NewSearcher(cache),
		session:  search.NewSession(),
	}
	c.pager = startPager(context.Background(), c.repoPath, ref, pageSize, c.generation)
	return c, nil
}

// Close stops the pager and any in-flight search.
func (c *Controller) Close() {
	c.cancelActiveSearch()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pager != nil {
		c.pager.stop()
		c.pager = nil
	}
}

// Repo exposes the controller's handle for metadata lookups. Only the
// coordinating goroutine may use it.
func (c *Controller) Repo() *git.Repo {
	return c.repo
}

func (c *Controller) RepoPath() string {
	return c.repoPath
}

func (c *Controller) Ref() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ref
}

// Loaded returns how many rows are in memory and whether the walk finished.
func (c *Controller) Loaded() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rows), c.done
}

// Row returns the commit at one list position, if loaded.
func (c *Controller) Row(i int) (*git.Commit, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.rows) {
		return nil, false
	}
	return c.rows[i], true
}

// RowLabels returns the ref decorations of a commit, refreshed with the
// first page of each walk.
func (c *Controller) RowLabels(h plumbing.Hash) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.labels[h]
}

// NextPage requests one more page and waits for it, returning the newly
// loaded commits. done reports walk exhaustion. A reload that supersedes
// the request returns no commits.
func (c *Controller) NextPage(ctx context.Context) ([]*git.Commit, bool, error) {
	c.mu.Lock()
	gen := c.generation
	pg := c.pager
	done := c.done
	c.mu.Unlock()
	if done || pg == nil {
		return nil, done, nil
	}

	pg.request()
	for {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		msg, ok, err := c.drainPage(ctx, pg, pagePollSlice)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return msg.commits, msg.done, nil
		}
		c.mu.Lock()
		superseded := c.generation != gen || c.pager != pg
		done := c.done
		c.mu.Unlock()
		if superseded || done {
			return nil, done, nil
		}
	}
}

// EnsureLoaded pages until the target row is in memory, the walk ends, a
// reload supersedes it, or it runs out of attempts. It reports whether the
// row is available.
func (c *Controller) EnsureLoaded(ctx context.Context, target int) (bool, error) {
	if target < 0 {
		return false, nil
	}
	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()
	for attempt := 0; attempt < ensureAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		c.mu.Lock()
		superseded := c.generation != gen
		loaded := len(c.rows)
		done := c.done
		pg := c.pager
		c.mu.Unlock()
		if superseded || pg == nil {
			return false, nil
		}
		if target < loaded {
			return true, nil
		}
		if done {
			return false, nil
		}
		pg.request()
		if _, _, err := c.drainPage(ctx, pg, ensureSlice); err != nil {
			return false, err
		}
	}
	slog.Debug("ensure loaded gave up", slog.Int("target", target))
	return false, nil
}

// drainPage waits up to wait for a pager response and folds it into the
// loaded rows. Stale-generation pages are dropped and the wait continues.
// ok is false when nothing current arrived within the wait or the channel
// closed.
func (c *Controller) drainPage(ctx context.Context, pg *pager, wait time.Duration) (page, bool, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case msg, open := <-pg.responses:
			if !open {
				return page{}, false, nil
			}
			if !c.applyPage(msg) {
				continue
			}
			if msg.err != nil {
				return page{}, false, fmt.Errorf("load commits: %w", msg.err)
			}
			if msg.first {
				c.refreshLabels()
			}
			return msg, true, nil
		case <-ctx.Done():
			return page{}, false, ctx.Err()
		case <-timer.C:
			return page{}, false, nil
		}
	}
}

// applyPage folds one pager response into the rows. It reports whether the
// page belonged to the current generation. An error page ends the walk.
func (c *Controller) applyPage(msg page) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg.generation != c.generation {
		slog.Debug("dropping stale page", slog.Uint64("generation", msg.generation))
		return false
	}
	if msg.err != nil {
		c.done = true
		return true
	}
	c.rows = append(c.rows, msg.commits...)
	if msg.done {
		c.done = true
	}
	return true
}

// refreshLabels reloads ref decorations after the first page of a walk
// lands. Runs on the coordinating goroutine, off the row lock.
func (c *Controller) refreshLabels() {
	labels, err := c.repo.BranchLabels()
	if err != nil {
		slog.Error("refresh branch labels", slog.Any("error", err))
		return
	}
	c.mu.Lock()
	c.labels = labels
	c.mu.Unlock()
}

// SearchStatus summarizes one finished search.
type SearchStatus struct {
	Query      string
	Matches    int
	First      int
	Superseded bool
}

// Search finds query in the walked history, binds the matches to the
// session, and makes sure the first match's row is loaded. A newer Search
// or a reload supersedes the call: its result is discarded and Superseded
// set. An empty query clears the session.
func (c *Controller) Search(ctx context.Context, query string) (SearchStatus, error) {
	query = clampQuery(query)
	if query == "" {
		c.cancelActiveSearch()
		c.session.Reset()
		return SearchStatus{}, nil
	}

	c.searchMu.Lock()
	if c.searchCancel != nil {
		c.searchCancel()
	}
	sctx, cancel := context.WithCancel(ctx)
	c.searchCancel = cancel
	c.activeQuery = query
	c.searchMu.Unlock()

	results := c.searcher.FindAsync(sctx, c.repoPath, c.Ref(), query)
	timer := time.NewTimer(resultPollSlice)
	defer timer.Stop()
	for {
		select {
		case res, open := <-results:
			if !open {
				// The run was canceled. When this search is still the
				// active one, the cancellation leaked out of a build
				// attempt whose starter was superseded, and a fresh run
				// retries against the unpoisoned cache.
				if err := ctx.Err(); err != nil {
					return SearchStatus{}, err
				}
				if sctx.Err() != nil || c.currentQuery() != query {
					return SearchStatus{Query: query, Superseded: true}, nil
				}
				results = c.searcher.FindAsync(sctx, c.repoPath, c.Ref(), query)
				continue
			}
			if res.Query != c.currentQuery() {
				slog.Debug("dropping superseded search result", slog.String("query", res.Query))
				return SearchStatus{Query: query, Superseded: true}, nil
			}
			if res.Err != nil {
				return SearchStatus{}, res.Err
			}
			c.session.Bind(query, res.Positions)
			status := SearchStatus{Query: query, Matches: len(res.Positions)}
			if len(res.Positions) > 0 {
				status.First = res.Positions[0]
				if _, err := c.EnsureLoaded(ctx, status.First); err != nil {
					return status, err
				}
			}
			return status, nil
		case <-ctx.Done():
			return SearchStatus{}, ctx.Err()
		case <-timer.C:
			if c.currentQuery() != query {
				return SearchStatus{Query: query, Superseded: true}, nil
			}
			timer.Reset(resultPollSlice)
		}
	}
}

// NextMatch steps the search session forward and loads the row it lands on.
// ok is false when the query has no matches.
func (c *Controller) NextMatch(ctx context.Context, query string) (int, bool, error) {
	return c.stepMatch(ctx, query, c.session.Next)
}

// PrevMatch steps backward, wrapping to the last match at the top.
func (c *Controller) PrevMatch(ctx context.Context, query string) (int, bool, error) {
	return c.stepMatch(ctx, query, c.session.Previous)
}

func (c *Controller) stepMatch(ctx context.Context, query string, step func(string, search.ResolveFunc) (int, bool, error)) (int, bool, error) {
	query = clampQuery(query)
	if query == "" {
		return 0, false, nil
	}
	resolve := func(q string) ([]int, error) {
		return c.searcher.Find(ctx, c.repoPath, c.Ref(), q)
	}
	pos, ok, err := step(query, resolve)
	if err != nil || !ok {
		return 0, false, err
	}
	if _, err := c.EnsureLoaded(ctx, pos); err != nil {
		return 0, false, err
	}
	return pos, true, nil
}

// SwitchRef restarts the walk on another ref. The session unbinds: its
// positions indexed the old ref's rows.
func (c *Controller) SwitchRef(name string) error {
	if name == "" || !c.repo.RefExists(name) {
		return fmt.Errorf("%w: %q", git.ErrInvalidRevision, name)
	}
	c.cancelActiveSearch()
	c.session.Reset()
	c.restart(name)
	return nil
}

// Reload drops the loaded rows and the cached search index and walks the
// current ref again. The watcher calls this when the repository changes on
// disk.
func (c *Controller) Reload() {
	c.cancelActiveSearch()
	c.session.Reset()
	c.cache.Invalidate()
	c.restart("")
}

// restart supersedes the current pager under a new generation. An empty ref
// keeps the current one.
func (c *Controller) restart(ref string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ref == "" {
		ref = c.ref
	}
	c.generation++
	if c.pager != nil {
		c.pager.stop()
	}
	c.ref = ref
	c.rows = nil
	c.done = false
	c.pager = startPager(context.Background(), c.repoPath, ref, c.pageSize, c.generation)
	slog.Debug("restarted commit walk",
		slog.String("ref", ref),
		slog.Uint64("generation", c.generation),
	)
}

// cancelActiveSearch flips the in-flight search's context, if any. The
// zeroed query makes any still-buffered result compare stale.
func (c *Controller) cancelActiveSearch() {
	c.searchMu.Lock()
	defer c.searchMu.Unlock()
	if c.searchCancel != nil {
		c.searchCancel()
		c.searchCancel = nil
	}
	c.activeQuery = ""
}

func (c *Controller) currentQuery() string {
	c.searchMu.Lock()
	defer c.searchMu.Unlock()
	return c.activeQuery
}

// clampQuery truncates overlong input on a rune boundary.
func clampQuery(query string) string {
	runes := []rune(query)
	if len(runes) <= maxQueryChars {
		return query
	}
	return string(runes[:maxQueryChars])
}
