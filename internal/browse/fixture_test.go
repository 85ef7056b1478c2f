package browse

import (
	"strconv"
	"testing"
	"time"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// fixtureRepo builds a real linear repository with go-git. Commit
// timestamps advance one minute per commit so walk order is stable.
type fixtureRepo struct {
	t      *testing.T
	dir    string
	repo   *gitlib.Repository
	wt     *gitlib.Worktree
	when   time.Time
	hashes []plumbing.Hash
}

func newFixtureRepo(t *testing.T) *fixtureRepo {
	t.Helper()
	dir := t.TempDir()
	repo, err := gitlib.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("init repo: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("worktree: %v", err)
	}
	return &fixtureRepo{
		t:    t,
		dir:  dir,
		repo: repo,
		wt:   wt,
		when: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func (f *fixtureRepo) commit(message string) plumbing.Hash {
	f.t.Helper()
	file, err := f.wt.Filesystem.Create("file.txt")
	if err != nil {
		f.t.Fatalf("create: %v", err)
	}
	if _, err := file.Write([]byte(strconv.Itoa(len(f.hashes)))); err != nil {
		file.Close()
		f.t.Fatalf("write: %v", err)
	}
	file.Close()
	if _, err := f.wt.Add("file.txt"); err != nil {
		f.t.Fatalf("add: %v", err)
	}
	f.when = f.when.Add(time.Minute)
	sig := &object.Signature{Name: "Alice Dev", Email: "alice@example.com", When: f.when}
	hash, err := f.wt.Commit(message, &gitlib.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		f.t.Fatalf("commit %q: %v", message, err)
	}
	f.hashes = append(f.hashes, hash)
	return hash
}

func (f *fixtureRepo) commits(messages ...string) []plumbing.Hash {
	f.t.Helper()
	hashes := make([]plumbing.Hash, 0, len(messages))
	for _, m := range messages {
		hashes = append(hashes, f.commit(m))
	}
	return hashes
}

// position returns the row of a commit in default walk order, newest first.
func (f *fixtureRepo) position(h plumbing.Hash) int {
	f.t.Helper()
	for i, have := range f.hashes {
		if have == h {
			return len(f.hashes) - 1 - i
		}
	}
	f.t.Fatalf("hash %s not committed by this fixture", h)
	return -1
}

func (f *fixtureRepo) branch(name string, at plumbing.Hash) {
	f.t.Helper()
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), at)
	if err := f.repo.Storer.SetReference(ref); err != nil {
		f.t.Fatalf("branch %s: %v", name, err)
	}
}

func (f *fixtureRepo) tag(name string, at plumbing.Hash) {
	f.t.Helper()
	if _, err := f.repo.CreateTag(name, at, nil); err != nil {
		f.t.Fatalf("tag %s: %v", name, err)
	}
}

// trackBranch configures an upstream for a local branch and plants the
// matching remote-tracking ref.
func (f *fixtureRepo) trackBranch(name string, at plumbing.Hash) {
	f.t.Helper()
	cfg, err := f.repo.Config()
	if err != nil {
		f.t.Fatalf("config: %v", err)
	}
	cfg.Branches[name] = &config.Branch{
		Name:   name,
		Remote: "origin",
		Merge:  plumbing.NewBranchReferenceName(name),
	}
	if err := f.repo.SetConfig(cfg); err != nil {
		f.t.Fatalf("set config: %v", err)
	}
	ref := plumbing.NewHashReference(plumbing.NewRemoteReferenceName("origin", name), at)
	if err := f.repo.Storer.SetReference(ref); err != nil {
		f.t.Fatalf("tracking ref %s: %v", name, err)
	}
}

func mustController(t *testing.T, dir, ref string, pageSize int) *Controller {
	t.Helper()
	c, err := New(dir, ref, pageSize)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached in time")
		}
		time.Sleep(time.Millisecond)
	}
}
