package git

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/emirpasic/gods/trees/binaryheap"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

const DefaultPageSize = 200

// Walker yields the commits selected by a QueryOptions, filtered and in
// order. A Walker is single-use and not safe for concurrent use.
type Walker struct {
	repo *Repo
	opts QueryOptions

	roots []plumbing.Hash
	hide  []plumbing.Hash

	prepared bool
	src      commitSource
}

// NewWalker resolves every revspec eagerly; traversal state is built lazily
// on the first Next or NextPage call.
func NewWalker(repo *Repo, opts QueryOptions) (*Walker, error) {
	w := &Walker{repo: repo, opts: opts}
	specs := opts.Revspecs
	if len(specs) == 0 {
		specs = []string{"HEAD"}
	}
	for _, spec := range specs {
		if err := w.pushSpec(spec); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func (w *Walker) pushSpec(spec string) error {
	switch {
	case strings.HasPrefix(spec, "^"):
		h, err := w.repo.resolveCommit(spec[1:])
		if err != nil {
			return err
		}
		w.hide = append(w.hide, h)
	case strings.Contains(spec, "..."):
		from, to, _ := strings.Cut(spec, "...")
		fromHash, err := w.repo.resolveCommit(from)
		if err != nil {
			return err
		}
		toHash, err := w.repo.resolveCommit(to)
		if err != nil {
			return err
		}
		w.roots = append(w.roots, toHash)
		base, err := w.mergeBase(fromHash, toHash)
		if err != nil {
			return err
		}
		if base != plumbing.ZeroHash {
			w.roots = append(w.roots, base)
		}
		w.hide = append(w.hide, fromHash)
	case strings.Contains(spec, ".."):
		from, to, _ := strings.Cut(spec, "..")
		fromHash, err := w.repo.resolveCommit(from)
		if err != nil {
			return err
		}
		toHash, err := w.repo.resolveCommit(to)
		if err != nil {
			return err
		}
		w.roots = append(w.roots, toHash)
		w.hide = append(w.hide, fromHash)
	default:
		h, err := w.repo.resolveCommit(spec)
		if err != nil {
			return err
		}
		w.roots = append(w.roots, h)
	}
	return nil
}

func (w *Walker) mergeBase(a, b plumbing.Hash) (plumbing.Hash, error) {
	ca, err := w.repo.commitObject(a)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	cb, err := w.repo.commitObject(b)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	bases, err := ca.MergeBase(cb)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("merge base of %s and %s: %w", a, b, err)
	}
	if len(bases) == 0 {
		return plumbing.ZeroHash, nil
	}
	return bases[0].Hash, nil
}

// Next returns the next commit passing all filters, or io.EOF when the
// traversal is exhausted. Cancellation is checked before pulling the next
// identifier and again after resolving it.
func (w *Walker) Next(ctx context.Context) (*Commit, error) {
	if err := w.prepare(ctx); err != nil {
		return nil, err
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := w.src.next()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("iterate commits: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := w.matches(ctx, c)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		return newCommit(c), nil
	}
}

// NextPage returns up to pageSize commits. done is true only when the
// traversal is exhausted; an error mid-page fails the whole page.
func (w *Walker) NextPage(ctx context.Context, pageSize int) ([]*Commit, bool, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	commits := make([]*Commit, 0, pageSize)
	for len(commits) < pageSize {
		c, err := w.Next(ctx)
		if err == io.EOF {
			slog.Debug("walk page", slog.Int("returned", len(commits)), slog.Bool("done", true))
			return commits, true, nil
		}
		if err != nil {
			return nil, false, err
		}
		commits = append(commits, c)
	}
	slog.Debug("walk page", slog.Int("returned", len(commits)), slog.Bool("done", false))
	return commits, false, nil
}

func (w *Walker) prepare(ctx context.Context) error {
	if w.prepared {
		return nil
	}
	hidden, err := w.hiddenClosure(ctx)
	if err != nil {
		return err
	}
	roots := make([]*object.Commit, 0, len(w.roots))
	for _, h := range w.roots {
		if err := ctx.Err(); err != nil {
			return err
		}
		c, err := w.repo.commitObject(h)
		if err != nil {
			return err
		}
		roots = append(roots, c)
	}
	var src commitSource
	switch w.opts.Sort {
	case SortTime:
		src = newCtimeSource(roots, hidden)
	case SortTopological:
		order, err := topoOrder(ctx, roots, hidden)
		if err != nil {
			return err
		}
		src = &sliceSource{commits: order}
	default:
		src = newDFSSource(roots, hidden)
	}
	if w.opts.Reverse {
		var all []*object.Commit
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			c, err := src.next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return fmt.Errorf("iterate commits: %w", err)
			}
			all = append(all, c)
		}
		slices.Reverse(all)
		src = &sliceSource{commits: all}
	}
	w.src = src
	w.prepared = true
	return nil
}

// hiddenClosure walks the full ancestor set of the hide tips.
func (w *Walker) hiddenClosure(ctx context.Context) (map[plumbing.Hash]bool, error) {
	hidden := make(map[plumbing.Hash]bool, len(w.hide))
	var stack []*object.Commit
	for _, h := range w.hide {
		if hidden[h] {
			continue
		}
		c, err := w.repo.commitObject(h)
		if err != nil {
			return nil, err
		}
		hidden[h] = true
		stack = append(stack, c)
	}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for i, ph := range c.ParentHashes {
			if hidden[ph] {
				continue
			}
			hidden[ph] = true
			p, err := c.Parent(i)
			if err != nil {
				return nil, fmt.Errorf("load parent %s: %w", ph, err)
			}
			stack = append(stack, p)
		}
	}
	return hidden, nil
}

func (w *Walker) matches(ctx context.Context, c *object.Commit) (bool, error) {
	parents := c.NumParents()
	if parents < w.opts.MinParents {
		return false, nil
	}
	if w.opts.MaxParentsExclusive != nil && parents >= *w.opts.MaxParentsExclusive {
		return false, nil
	}
	if len(w.opts.Pathspecs) > 0 {
		ok, err := w.touchesPaths(ctx, c)
		if err != nil || !ok {
			return false, err
		}
	}
	if f := w.opts.AuthorContains; f != "" && !signatureContains(c.Author, f) {
		return false, nil
	}
	if f := w.opts.CommitterContains; f != "" && !signatureContains(c.Committer, f) {
		return false, nil
	}
	if f := w.opts.MessageContains; f != "" && !strings.Contains(c.Message, f) {
		return false, nil
	}
	return true, nil
}

// touchesPaths applies the path filter. A merge commit must touch a filtered
// path against every parent; a parentless commit passes when its root tree
// contains one.
func (w *Walker) touchesPaths(ctx context.Context, c *object.Commit) (bool, error) {
	tree, err := c.Tree()
	if err != nil {
		return false, fmt.Errorf("load tree of %s: %w", c.Hash, err)
	}
	if c.NumParents() == 0 {
		found := false
		err := tree.Files().ForEach(func(f *object.File) error {
			if pathMatchesAny(f.Name, w.opts.Pathspecs) {
				found = true
				return storer.ErrStop
			}
			return nil
		})
		if err != nil {
			return false, fmt.Errorf("scan tree of %s: %w", c.Hash, err)
		}
		return found, nil
	}
	for i := range c.NumParents() {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		parent, err := c.Parent(i)
		if err != nil {
			return false, fmt.Errorf("load parent of %s: %w", c.Hash, err)
		}
		parentTree, err := parent.Tree()
		if err != nil {
			return false, fmt.Errorf("load tree of %s: %w", parent.Hash, err)
		}
		changes, err := object.DiffTreeWithOptions(ctx, parentTree, tree, object.DefaultDiffTreeOptions)
		if err != nil {
			return false, fmt.Errorf("diff trees: %w", err)
		}
		if !changesTouch(changes, w.opts.Pathspecs) {
			return false, nil
		}
	}
	return true, nil
}

func changesTouch(changes object.Changes, specs []string) bool {
	for _, ch := range changes {
		if pathMatchesAny(ch.From.Name, specs) || pathMatchesAny(ch.To.Name, specs) {
			return true
		}
	}
	return false
}

// pathMatchesAny uses leading-directory semantics: "src" matches "src" and
// "src/main.go", not "srcdir".
func pathMatchesAny(path string, specs []string) bool {
	if path == "" {
		return false
	}
	for _, spec := range specs {
		spec = strings.TrimSuffix(spec, "/")
		if spec == "" || path == spec || strings.HasPrefix(path, spec+"/") {
			return true
		}
	}
	return false
}

func signatureContains(sig object.Signature, needle string) bool {
	return strings.Contains(sig.Name, needle) || strings.Contains(sig.Email, needle)
}

// commitSource yields commits in pre-filter order, io.EOF at the end.
type commitSource interface {
	next() (*object.Commit, error)
}

type sliceSource struct {
	commits []*object.Commit
	pos     int
}

func (s *sliceSource) next() (*object.Commit, error) {
	if s.pos >= len(s.commits) {
		return nil, io.EOF
	}
	c := s.commits[s.pos]
	s.pos++
	return c, nil
}

// dfsSource walks depth-first from the pushed tips, the way go-git's
// pre-order commit iterator does, generalized to multiple tips.
type dfsSource struct {
	pending []*object.Commit
	stack   []object.CommitIter
	seen    map[plumbing.Hash]bool
	hidden  map[plumbing.Hash]bool
}

func newDFSSource(roots []*object.Commit, hidden map[plumbing.Hash]bool) *dfsSource {
	return &dfsSource{
		pending: slices.Clone(roots),
		seen:    make(map[plumbing.Hash]bool),
		hidden:  hidden,
	}
}

func (s *dfsSource) next() (*object.Commit, error) {
	for {
		var c *object.Commit
		if len(s.stack) == 0 {
			if len(s.pending) == 0 {
				return nil, io.EOF
			}
			c = s.pending[0]
			s.pending = s.pending[1:]
		} else {
			top := len(s.stack) - 1
			cc, err := s.stack[top].Next()
			if err == io.EOF {
				s.stack = s.stack[:top]
				continue
			}
			if err != nil {
				return nil, err
			}
			c = cc
		}
		if s.seen[c.Hash] || s.hidden[c.Hash] {
			continue
		}
		s.seen[c.Hash] = true
		if c.NumParents() > 0 {
			s.stack = append(s.stack, c.Parents())
		}
		return c, nil
	}
}

// ctimeItem carries an insertion sequence so equal committer times pop in
// push order.
type ctimeItem struct {
	c   *object.Commit
	seq int
}

func ctimeComparator(a, b interface{}) int {
	x, y := a.(ctimeItem), b.(ctimeItem)
	if x.c.Committer.When.Equal(y.c.Committer.When) {
		return x.seq - y.seq
	}
	if x.c.Committer.When.Before(y.c.Committer.When) {
		return 1
	}
	return -1
}

// ctimeSource yields newest-committer-time first, the ordering go-git's
// CTime iterator implements with the same binary heap.
type ctimeSource struct {
	heap   *binaryheap.Heap
	seq    int
	seen   map[plumbing.Hash]bool
	hidden map[plumbing.Hash]bool
}

func newCtimeSource(roots []*object.Commit, hidden map[plumbing.Hash]bool) *ctimeSource {
	s := &ctimeSource{
		heap:   binaryheap.NewWith(ctimeComparator),
		seen:   make(map[plumbing.Hash]bool),
		hidden: hidden,
	}
	for _, c := range roots {
		s.push(c)
	}
	return s
}

func (s *ctimeSource) push(c *object.Commit) {
	s.heap.Push(ctimeItem{c: c, seq: s.seq})
	s.seq++
}

func (s *ctimeSource) next() (*object.Commit, error) {
	var c *object.Commit
	for {
		v, ok := s.heap.Pop()
		if !ok {
			return nil, io.EOF
		}
		c = v.(ctimeItem).c
		if s.seen[c.Hash] || s.hidden[c.Hash] {
			continue
		}
		s.seen[c.Hash] = true
		break
	}
	for i, ph := range c.ParentHashes {
		if s.seen[ph] || s.hidden[ph] {
			continue
		}
		p, err := c.Parent(i)
		if err != nil {
			return nil, fmt.Errorf("load parent %s: %w", ph, err)
		}
		s.push(p)
	}
	return c, nil
}

// topoOrder materializes the reachable set and emits parents only after all
// of their emitted descendants, newest committer time first among ready
// commits.
func topoOrder(ctx context.Context, roots []*object.Commit, hidden map[plumbing.Hash]bool) ([]*object.Commit, error) {
	byHash := make(map[plumbing.Hash]*object.Commit)
	stack := slices.Clone(roots)
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if hidden[c.Hash] {
			continue
		}
		if _, ok := byHash[c.Hash]; ok {
			continue
		}
		byHash[c.Hash] = c
		for i, ph := range c.ParentHashes {
			if hidden[ph] {
				continue
			}
			if _, ok := byHash[ph]; ok {
				continue
			}
			p, err := c.Parent(i)
			if err != nil {
				return nil, fmt.Errorf("load parent %s: %w", ph, err)
			}
			stack = append(stack, p)
		}
	}

	childCount := make(map[plumbing.Hash]int, len(byHash))
	for _, c := range byHash {
		for _, ph := range c.ParentHashes {
			if _, ok := byHash[ph]; ok {
				childCount[ph]++
			}
		}
	}

	var tips []*object.Commit
	for _, c := range byHash {
		if childCount[c.Hash] == 0 {
			tips = append(tips, c)
		}
	}
	slices.SortFunc(tips, func(a, b *object.Commit) int {
		if !a.Committer.When.Equal(b.Committer.When) {
			if a.Committer.When.After(b.Committer.When) {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Hash.String(), b.Hash.String())
	})

	ready := binaryheap.NewWith(ctimeComparator)
	seq := 0
	for _, c := range tips {
		ready.Push(ctimeItem{c: c, seq: seq})
		seq++
	}
	order := make([]*object.Commit, 0, len(byHash))
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, ok := ready.Pop()
		if !ok {
			break
		}
		c := v.(ctimeItem).c
		order = append(order, c)
		for _, ph := range c.ParentHashes {
			if _, ok := byHash[ph]; !ok {
				continue
			}
			childCount[ph]--
			if childCount[ph] == 0 {
				ready.Push(ctimeItem{c: byHash[ph], seq: seq})
				seq++
			}
		}
	}
	return order, nil
}
