package search

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"runtime"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-git/go-git/v5/plumbing"
	"golang.org/x/sync/errgroup"

	"gitscout/internal/git"
)

// shardTarget is the smallest commit count worth its own scan goroutine.
// Tests shrink it to exercise multi-shard scans on small repositories.
var shardTarget = 50_000

// Searcher finds commits by hash prefix or message text against the cached
// commit index of a repository ref.
type Searcher struct {
	cache *IndexCache
}

func NewSearcher(cache *IndexCache) *Searcher {
	return &Searcher{cache: cache}
}

// Find returns the positions, ascending, of every commit matching query.
// Positions index into the default walk order for ref, so they line up with
// commit list rows. A query of 7 to 40 hex digits is tried as a hash prefix
// first; any prefix hit skips the message scan entirely. An empty query has
// no matches and never touches the repository.
func (s *Searcher) Find(ctx context.Context, repoPath, ref, query string) ([]int, error) {
	queryLower := strings.ToLower(query)
	if queryLower == "" {
		return nil, nil
	}
	ids, err := s.cache.GetOrBuild(ctx, IndexKey{RepoPath: repoPath, Ref: ref})
	if err != nil {
		return nil, err
	}

	if isHexQuery(query) {
		started := time.Now()
		matches, err := hashPrefixMatches(ctx, ids, queryLower)
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 {
			slog.Debug("hash prefix search hit",
				slog.String("prefix", query),
				slog.Int("matches", len(matches)),
				slog.Duration("elapsed", time.Since(started)))
			return matches, nil
		}
	}

	started := time.Now()
	matches, err := textMatchesParallel(ctx, repoPath, ids, query, queryLower)
	if err != nil {
		return nil, err
	}
	slog.Debug("text search completed",
		slog.String("query", query),
		slog.Int("matches", len(matches)),
		slog.Duration("elapsed", time.Since(started)))
	return matches, nil
}

// Result carries one finished search back to its initiator.
type Result struct {
	Query     string
	Positions []int
	Err       error
}

// FindAsync runs Find on its own goroutine and delivers the outcome on the
// returned channel. A canceled run sends nothing; the channel is always
// closed, so receivers never block on a discarded search.
func (s *Searcher) FindAsync(ctx context.Context, repoPath, ref, query string) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		started := time.Now()
		slog.Debug("search started", slog.String("query", query))
		positions, err := s.Find(ctx, repoPath, ref, query)
		if errors.Is(err, context.Canceled) {
			slog.Debug("search cancelled", slog.String("query", query))
			return
		}
		slog.Debug("search finished",
			slog.String("query", query),
			slog.Int("matches", len(positions)),
			slog.Duration("elapsed", time.Since(started)))
		out <- Result{Query: query, Positions: positions, Err: err}
	}()
	return out
}

// isHexQuery reports whether query is plausible as a hash prefix: 7 to 40
// hex digits.
func isHexQuery(query string) bool {
	if len(query) < 7 || len(query) > 40 {
		return false
	}
	for i := 0; i < len(query); i++ {
		if hexValue(query[i]) < 0 {
			return false
		}
	}
	return true
}

func hexValue(b byte) int {
	switch {
	case b >= '0' && b <= '9':
		return int(b - '0')
	case b >= 'a' && b <= 'f':
		return int(b-'a') + 10
	case b >= 'A' && b <= 'F':
		return int(b-'A') + 10
	}
	return -1
}

// parseHexPrefix splits a hex string into whole bytes plus the trailing
// nibble of an odd-length prefix.
func parseHexPrefix(prefix string) (full []byte, nibble int, hasNibble bool) {
	full = make([]byte, 0, len(prefix)/2)
	i := 0
	for ; i+1 < len(prefix); i += 2 {
		full = append(full, byte(hexValue(prefix[i])<<4|hexValue(prefix[i+1])))
	}
	if i < len(prefix) {
		return full, hexValue(prefix[i]), true
	}
	return full, 0, false
}

func hashPrefixMatches(ctx context.Context, ids []plumbing.Hash, prefix string) ([]int, error) {
	full, nibble, hasNibble := parseHexPrefix(prefix)
	var out []int
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !bytes.HasPrefix(id[:], full) {
			continue
		}
		if hasNibble && int(id[len(full)]>>4) != nibble {
			continue
		}
		out = append(out, i)
	}
	return out, nil
}

// textMatchesParallel scans commit messages for query over contiguous index
// shards. Shard results concatenate in shard order, which keeps positions
// ascending without a sort.
func textMatchesParallel(ctx context.Context, repoPath string, ids []plumbing.Hash, query, queryLower string) ([]int, error) {
	total := len(ids)
	if total == 0 {
		return nil, nil
	}
	shards := runtime.GOMAXPROCS(0)
	if max := (total + shardTarget - 1) / shardTarget; shards > max {
		shards = max
	}
	if shards < 1 {
		shards = 1
	}
	chunk := (total + shards - 1) / shards

	asciiNeedle := ""
	if isASCII(query) {
		asciiNeedle = queryLower
	}

	results := make([][]int, shards)
	g, gctx := errgroup.WithContext(ctx)
	for shard := 0; shard < shards; shard++ {
		start := shard * chunk
		if start >= total {
			break
		}
		end := min(start+chunk, total)
		g.Go(func() error {
			// go-git object readers are not synchronized, so every
			// worker opens its own handle.
			repo, err := git.Open(repoPath)
			if err != nil {
				return err
			}
			var out []int
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				commit, err := repo.Commit(ids[i])
				if err != nil {
					return err
				}
				if matchMessage(commit.Message, asciiNeedle, queryLower) {
					out = append(out, i)
				}
			}
			results[shard] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var all []int
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}

func matchMessage(message, asciiNeedle, queryLower string) bool {
	if asciiNeedle != "" {
		return containsASCIIFold(message, asciiNeedle)
	}
	return strings.Contains(strings.ToLower(message), queryLower)
}

// containsASCIIFold reports whether haystack contains needleLower, comparing
// ASCII letters case-insensitively without allocating. needleLower must
// already be lowercase.
func containsASCIIFold(haystack, needleLower string) bool {
	n := len(needleLower)
	if n == 0 {
		return true
	}
	if len(haystack) < n {
		return false
	}
	first := needleLower[0]
	firstUpper := first
	if first >= 'a' && first <= 'z' {
		firstUpper = first - ('a' - 'A')
	}
outer:
	for i := 0; i+n <= len(haystack); i++ {
		if b := haystack[i]; b != first && b != firstUpper {
			continue
		}
		for j := 1; j < n; j++ {
			if toLowerASCII(haystack[i+j]) != needleLower[j] {
				continue outer
			}
		}
		return true
	}
	return false
}

func toLowerASCII(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
