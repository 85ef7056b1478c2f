package browse

import (
	"context"
	"log/slog"

	"gitscout/internal/git"
)

// page is one pager response. The generation ties it to the load that
// produced it so the receiver can drop pages from a superseded walk.
type page struct {
	generation uint64
	commits    []*git.Commit
	done       bool
	first      bool
	err        error
}

// pager walks one ref on its own goroutine with its own repository handle
// and emits a page per request. The response channel closes when the worker
// exits: after the final page, an error, or stop.
type pager struct {
	requests  chan struct{}
	responses chan page
	cancel    context.CancelFunc
}

func startPager(ctx context.Context, repoPath, ref string, pageSize int, generation uint64) *pager {
	ctx, cancel := context.WithCancel(ctx)
	p := &pager{
		requests:  make(chan struct{}, 1),
		responses: make(chan page, 4),
		cancel:    cancel,
	}
	go p.run(ctx, repoPath, ref, pageSize, generation)
	return p
}

// request asks for one more page. A request made while one is already
// pending coalesces with it.
func (p *pager) request() {
	select {
	case p.requests <- struct{}{}:
	default:
	}
}

func (p *pager) stop() {
	p.cancel()
}

func (p *pager) run(ctx context.Context, repoPath, ref string, pageSize int, generation uint64) {
	defer close(p.responses)
	slog.Debug("pager started",
		slog.String("ref", ref),
		slog.Uint64("generation", generation),
	)
	repo, err := git.Open(repoPath)
	if err != nil {
		p.send(ctx, page{generation: generation, err: err})
		return
	}
	walker, err := git.NewWalker(repo, git.ForRef(ref))
	if err != nil {
		p.send(ctx, page{generation: generation, err: err})
		return
	}
	first := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.requests:
		}
		commits, done, err := walker.NextPage(ctx, pageSize)
		if err != nil {
			p.send(ctx, page{generation: generation, err: err})
			return
		}
		if !p.send(ctx, page{generation: generation, commits: commits, done: done, first: first}) {
			return
		}
		first = false
		if done {
			return
		}
	}
}

func (p *pager) send(ctx context.Context, msg page) bool {
	select {
	case p.responses <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}
