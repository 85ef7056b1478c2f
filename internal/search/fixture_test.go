package search

import (
	"strconv"
	"testing"
	"time"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// fixtureRepo builds a real linear repository with go-git. Commit
// timestamps advance one minute per commit so walk order is stable.
type fixtureRepo struct {
	t      *testing.T
	dir    string
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
		wt:   wt,
		when: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func (f *fixtureRepo) commit(message string) plumbing.Hash {
	f.t.Helper()
	f.write("file.txt", strconv.Itoa(len(f.hashes)))
	f.when = f.when.Add(time.Minute)
	sig := &object.Signature{Name: "Alice Dev", Email: "alice@example.com", When: f.when}
	hash, err := f.wt.Commit(message, &gitlib.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		f.t.Fatalf("commit %q: %v", message, err)
	}
	f.hashes = append(f.hashes, hash)
	return hash
}

func (f *fixtureRepo) write(path, content string) {
	f.t.Helper()
	if err := writeWorktreeFile(f.wt, path, content); err != nil {
		f.t.Fatalf("write %s: %v", path, err)
	}
	if _, err := f.wt.Add(path); err != nil {
		f.t.Fatalf("add %s: %v", path, err)
	}
}

func writeWorktreeFile(wt *gitlib.Worktree, path, content string) error {
	file, err := wt.Filesystem.Create(path)
	if err != nil {
		return err
	}
	if _, err := file.Write([]byte(content)); err != nil {
		file.Close()
		return err
	}
	return file.Close()
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

func (f *fixtureRepo) key() IndexKey {
	return IndexKey{RepoPath: f.dir, Ref: "HEAD"}
}
