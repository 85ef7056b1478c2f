package git

import (
	"fmt"
	"path/filepath"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Repo is a read-only handle on a repository. A handle is not safe for
// concurrent use; each concurrent consumer opens its own.
type Repo struct {
	repo *gitlib.Repository
	path string
}

func Open(repoPath string) (*Repo, error) {
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, err
	}
	repo, err := gitlib.PlainOpenWithOptions(abs, &gitlib.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", abs, err)
	}
	return &Repo{repo: repo, path: abs}, nil
}

func (r *Repo) Path() string {
	return r.path
}

// Root returns the worktree root, or the opened path for bare repositories.
func (r *Repo) Root() string {
	wt, err := r.repo.Worktree()
	if err != nil {
		return r.path
	}
	return wt.Filesystem.Root()
}

// DefaultRef picks the ref to browse when the caller names none: the
// checked-out branch, then "main" when it exists, then "HEAD".
func (r *Repo) DefaultRef() string {
	if branch := r.CheckedOutBranch(); branch != "" {
		return branch
	}
	if r.RefExists("main") {
		return "main"
	}
	return "HEAD"
}

// CheckedOutBranch returns the short branch name HEAD points at, or "" when
// HEAD is detached or unborn.
func (r *Repo) CheckedOutBranch() string {
	head, err := r.repo.Head()
	if err != nil || !head.Name().IsBranch() {
		return ""
	}
	return head.Name().Short()
}

func (r *Repo) RefExists(name string) bool {
	if name == "" {
		return false
	}
	_, err := r.repo.ResolveRevision(plumbing.Revision(name))
	return err == nil
}

// Commit returns the full record for one commit.
func (r *Repo) Commit(hash plumbing.Hash) (*Commit, error) {
	c, err := r.commitObject(hash)
	if err != nil {
		return nil, err
	}
	return newCommit(c), nil
}

type UpstreamInfo struct {
	Name string
	Hash plumbing.Hash
}

// Upstream returns the configured upstream of a local branch. The hash stays
// zero when the remote-tracking ref has not been fetched yet.
func (r *Repo) Upstream(branch string) (UpstreamInfo, bool, error) {
	cfg, err := r.repo.Config()
	if err != nil {
		return UpstreamInfo{}, false, fmt.Errorf("read config: %w", err)
	}
	b, ok := cfg.Branches[branch]
	if !ok || b.Remote == "" || b.Merge == "" {
		return UpstreamInfo{}, false, nil
	}
	short := b.Merge.Short()
	info := UpstreamInfo{Name: b.Remote + "/" + short}
	ref, err := r.repo.Reference(plumbing.NewRemoteReferenceName(b.Remote, short), true)
	if err != nil {
		if err == plumbing.ErrReferenceNotFound {
			return info, true, nil
		}
		return UpstreamInfo{}, false, fmt.Errorf("resolve upstream %s: %w", info.Name, err)
	}
	info.Hash = ref.Hash()
	return info, true, nil
}

// Resolve resolves a revision (hash prefix, branch, tag, "HEAD~2", ...) to
// the commit it names, peeling annotated tags. An empty spec means HEAD.
func (r *Repo) Resolve(spec string) (plumbing.Hash, error) {
	return r.resolveCommit(spec)
}

// resolveCommit resolves a single revision to a commit hash, peeling
// annotated tags.
func (r *Repo) resolveCommit(spec string) (plumbing.Hash, error) {
	if spec == "" {
		spec = "HEAD"
	}
	h, err := r.repo.ResolveRevision(plumbing.Revision(spec))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("%w: %q: %v", ErrInvalidRevision, spec, err)
	}
	peeled, ok := r.peelTagCommitHash(*h)
	if !ok {
		return plumbing.ZeroHash, fmt.Errorf("%w: %q does not point at a commit", ErrInvalidRevision, spec)
	}
	return peeled, nil
}

// peelTagCommitHash follows annotated tag chains down to a commit.
// Lightweight tags point directly at a commit; annotated tags point at a tag
// object.
func (r *Repo) peelTagCommitHash(hash plumbing.Hash) (plumbing.Hash, bool) {
	if hash == plumbing.ZeroHash {
		return plumbing.ZeroHash, false
	}
	if _, err := r.repo.CommitObject(hash); err == nil {
		return hash, true
	}
	cur := hash
	for range 8 {
		tag, err := r.repo.TagObject(cur)
		if err != nil {
			return plumbing.ZeroHash, false
		}
		switch tag.TargetType {
		case plumbing.CommitObject:
			return tag.Target, true
		case plumbing.TagObject:
			cur = tag.Target
		default:
			return plumbing.ZeroHash, false
		}
	}
	return plumbing.ZeroHash, false
}

func (r *Repo) commitObject(hash plumbing.Hash) (*object.Commit, error) {
	c, err := r.repo.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("load commit %s: %w", hash, err)
	}
	return c, nil
}
