package git

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// testRepo builds real repositories with go-git so the tests need no git
// binary. Commit timestamps advance one minute per commit.
type testRepo struct {
	t    *testing.T
	dir  string
	repo *gitlib.Repository
	wt   *gitlib.Worktree
	when time.Time
}

func newTestRepo(t *testing.T) *testRepo {
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
	return &testRepo{
		t:    t,
		dir:  dir,
		repo: repo,
		wt:   wt,
		when: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func (tr *testRepo) open() *Repo {
	tr.t.Helper()
	repo, err := Open(tr.dir)
	if err != nil {
		tr.t.Fatalf("open %s: %v", tr.dir, err)
	}
	return repo
}

func (tr *testRepo) write(path, content string) {
	tr.t.Helper()
	full := filepath.Join(tr.dir, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		tr.t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		tr.t.Fatalf("write %s: %v", path, err)
	}
}

func (tr *testRepo) add(path string) {
	tr.t.Helper()
	if _, err := tr.wt.Add(path); err != nil {
		tr.t.Fatalf("add %s: %v", path, err)
	}
}

func (tr *testRepo) stage(path, content string) {
	tr.write(path, content)
	tr.add(path)
}

func (tr *testRepo) commit(message string) plumbing.Hash {
	return tr.commitAs(message, "Alice Dev", "alice@example.com")
}

func (tr *testRepo) commitAs(message, name, email string) plumbing.Hash {
	tr.t.Helper()
	hash, err := tr.wt.Commit(message, tr.commitOptions(name, email))
	if err != nil {
		tr.t.Fatalf("commit %q: %v", message, err)
	}
	return hash
}

func (tr *testRepo) merge(message string, parents ...plumbing.Hash) plumbing.Hash {
	tr.t.Helper()
	opts := tr.commitOptions("Alice Dev", "alice@example.com")
	opts.Parents = parents
	hash, err := tr.wt.Commit(message, opts)
	if err != nil {
		tr.t.Fatalf("merge commit %q: %v", message, err)
	}
	return hash
}

func (tr *testRepo) emptyCommit(message string) plumbing.Hash {
	tr.t.Helper()
	opts := tr.commitOptions("Alice Dev", "alice@example.com")
	opts.AllowEmptyCommits = true
	hash, err := tr.wt.Commit(message, opts)
	if err != nil {
		tr.t.Fatalf("empty commit %q: %v", message, err)
	}
	return hash
}

func (tr *testRepo) commitOptions(name, email string) *gitlib.CommitOptions {
	tr.when = tr.when.Add(time.Minute)
	sig := &object.Signature{Name: name, Email: email, When: tr.when}
	return &gitlib.CommitOptions{Author: sig, Committer: sig}
}

// linear commits n single-file changes and returns hashes oldest first.
func (tr *testRepo) linear(n int) []plumbing.Hash {
	tr.t.Helper()
	hashes := make([]plumbing.Hash, 0, n)
	for i := range n {
		tr.stage("file.txt", string(rune('a'+i)))
		hashes = append(hashes, tr.commit("commit "+string(rune('1'+i))))
	}
	return hashes
}

func (tr *testRepo) branch(name string, at plumbing.Hash) {
	tr.t.Helper()
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), at)
	if err := tr.repo.Storer.SetReference(ref); err != nil {
		tr.t.Fatalf("create branch %s: %v", name, err)
	}
}

func (tr *testRepo) checkout(branch string, create bool) {
	tr.t.Helper()
	err := tr.wt.Checkout(&gitlib.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(branch),
		Create: create,
	})
	if err != nil {
		tr.t.Fatalf("checkout %s: %v", branch, err)
	}
}

func (tr *testRepo) detach(at plumbing.Hash) {
	tr.t.Helper()
	if err := tr.wt.Checkout(&gitlib.CheckoutOptions{Hash: at}); err != nil {
		tr.t.Fatalf("detach at %s: %v", at, err)
	}
}

func (tr *testRepo) tag(name string, at plumbing.Hash) {
	tr.t.Helper()
	if _, err := tr.repo.CreateTag(name, at, nil); err != nil {
		tr.t.Fatalf("tag %s: %v", name, err)
	}
}

func (tr *testRepo) annotatedTag(name string, at plumbing.Hash, message string) {
	tr.t.Helper()
	tr.when = tr.when.Add(time.Minute)
	_, err := tr.repo.CreateTag(name, at, &gitlib.CreateTagOptions{
		Message: message,
		Tagger:  &object.Signature{Name: "Alice Dev", Email: "alice@example.com", When: tr.when},
	})
	if err != nil {
		tr.t.Fatalf("annotated tag %s: %v", name, err)
	}
}

func hashesOf(commits []*Commit) []plumbing.Hash {
	hashes := make([]plumbing.Hash, len(commits))
	for i, c := range commits {
		hashes[i] = c.Hash
	}
	return hashes
}
