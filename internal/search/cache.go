// Package search finds commits in the cached default-order index of a
// repository ref, by hash prefix or by message text, and tracks the cursor
// of an active search.
package search

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/go-git/go-git/v5/plumbing"

	"gitscout/internal/git"
)

// waitSlice bounds how long a caller blocks on an in-flight build before
// re-checking cancellation and cache state.
const waitSlice = 50 * time.Millisecond

// IndexKey identifies one commit index: a repository and the ref whose
// default walk produced it.
type IndexKey struct {
	RepoPath string
	Ref      string
}

// BuildFunc produces the ordered commit IDs for a key.
type BuildFunc func(ctx context.Context, key IndexKey) ([]plumbing.Hash, error)

// buildAttempt is one in-flight build. The builder fills the outcome fields
// and closes done; waiters of a superseded attempt retry instead.
type buildAttempt struct {
	done       chan struct{}
	ids        []plumbing.Hash
	err        error
	superseded bool
}

// IndexCache holds the commit IDs of a single repository ref in default
// walk order, the same order the commit list displays, so cached positions
// line up with rows. Concurrent callers for an absent key share one build.
type IndexCache struct {
	build BuildFunc

	mu         sync.Mutex
	key        IndexKey
	haveKey    bool
	generation uint64
	attempt    *buildAttempt
	ids        []plumbing.Hash
	haveIDs    bool
}

// NewIndexCache returns a cache that builds indices by walking the ref in
// default order.
func NewIndexCache() *IndexCache {
	return &IndexCache{build: buildDefaultOrder}
}

// NewIndexCacheWithBuild injects the build step.
func NewIndexCacheWithBuild(build BuildFunc) *IndexCache {
	return &IndexCache{build: build}
}

func buildDefaultOrder(ctx context.Context, key IndexKey) ([]plumbing.Hash, error) {
	repo, err := git.Open(key.RepoPath)
	if err != nil {
		return nil, err
	}
	walker, err := git.NewWalker(repo, git.ForRef(key.Ref))
	if err != nil {
		return nil, err
	}
	var ids []plumbing.Hash
	for {
		c, err := walker.Next(ctx)
		if err == io.EOF {
			return ids, nil
		}
		if err != nil {
			return nil, err
		}
		ids = append(ids, c.Hash)
	}
}

// GetOrBuild returns the ordered commit IDs for key, building them at most
// once no matter how many callers ask concurrently. The returned slice is
// shared and must not be mutated. A key change orphans any build still
// running for the previous key; its result is discarded when it lands.
func (c *IndexCache) GetOrBuild(ctx context.Context, key IndexKey) ([]plumbing.Hash, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c.mu.Lock()
		if !c.haveKey || c.key != key {
			c.key = key
			c.haveKey = true
			c.ids = nil
			c.haveIDs = false
			c.generation++
			c.attempt = nil
		}
		if c.haveIDs {
			ids := c.ids
			c.mu.Unlock()
			return ids, nil
		}
		if attempt := c.attempt; attempt != nil {
			c.mu.Unlock()
			ids, retry, err := c.waitForAttempt(ctx, attempt)
			if retry {
				continue
			}
			return ids, err
		}
		attempt := &buildAttempt{done: make(chan struct{})}
		c.attempt = attempt
		gen := c.generation
		c.mu.Unlock()

		started := time.Now()
		slog.Debug("building commit index",
			slog.String("repo", key.RepoPath),
			slog.String("ref", key.Ref))
		ids, err := c.build(ctx, key)

		c.mu.Lock()
		published := c.generation == gen && c.haveKey && c.key == key
		if published {
			if err == nil {
				c.ids = ids
				c.haveIDs = true
				slog.Debug("built commit index",
					slog.String("repo", key.RepoPath),
					slog.String("ref", key.Ref),
					slog.Int("commits", len(ids)),
					slog.Duration("elapsed", time.Since(started)))
			}
			attempt.ids, attempt.err = ids, err
		} else {
			attempt.superseded = true
		}
		if c.attempt == attempt {
			c.attempt = nil
		}
		close(attempt.done)
		c.mu.Unlock()

		if !published {
			continue
		}
		return ids, err
	}
}

// waitForAttempt blocks on an in-flight build in bounded slices, re-checking
// cancellation and cache state after each one. retry is true when the
// awaited attempt was superseded.
func (c *IndexCache) waitForAttempt(ctx context.Context, attempt *buildAttempt) ([]plumbing.Hash, bool, error) {
	timer := time.NewTimer(waitSlice)
	defer timer.Stop()
	for {
		select {
		case <-attempt.done:
			if attempt.superseded {
				return nil, true, nil
			}
			return attempt.ids, false, attempt.err
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-timer.C:
			c.mu.Lock()
			current := c.attempt == attempt
			c.mu.Unlock()
			if !current {
				// Either the attempt finished, in which case done is
				// closed and carries the result, or a key change
				// orphaned it mid-build.
				select {
				case <-attempt.done:
					if attempt.superseded {
						return nil, true, nil
					}
					return attempt.ids, false, attempt.err
				default:
					return nil, true, nil
				}
			}
			timer.Reset(waitSlice)
		}
	}
}

// Invalidate drops the cached index so the next GetOrBuild rebuilds it. Any
// in-flight build is orphaned. The watcher calls this when the repository
// changes on disk.
func (c *IndexCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key = IndexKey{}
	c.haveKey = false
	c.ids = nil
	c.haveIDs = false
	c.generation++
	c.attempt = nil
}
