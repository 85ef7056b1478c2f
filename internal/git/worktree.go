package git

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	gitindex "github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pmezard/go-difflib/difflib"
)

// LocalChanges summarizes worktree state: edits not yet staged and edits
// staged but not committed.
type LocalChanges struct {
	HasWorktree bool
	HasStaged   bool
}

func (r *Repo) LocalChanges() (LocalChanges, error) {
	var res LocalChanges
	wt, err := r.repo.Worktree()
	if err != nil {
		return res, fmt.Errorf("open worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return res, fmt.Errorf("read status: %w", err)
	}
	for _, st := range status {
		if st.Worktree != gitlib.Unmodified && st.Worktree != gitlib.Untracked {
			res.HasWorktree = true
		}
		if st.Staging != gitlib.Unmodified && st.Staging != gitlib.Untracked {
			res.HasStaged = true
		}
		if res.HasWorktree && res.HasStaged {
			break
		}
	}
	return res, nil
}

type localChange struct {
	path string
	from *object.File
	to   *object.File
}

// WorktreeDiff renders the uncommitted changes as a unified diff: index vs
// working files when staged is false, HEAD vs index when true. Returns ""
// when nothing changed.
func (r *Repo) WorktreeDiff(staged bool) (string, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("open worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("read status: %w", err)
	}
	var headTree *object.Tree
	if staged {
		headTree, err = r.headTree()
		if err != nil && err != plumbing.ErrReferenceNotFound {
			return "", err
		}
	}
	idx, err := r.repo.Storer.Index()
	if err != nil {
		return "", fmt.Errorf("read index: %w", err)
	}
	var paths []string
	for path, st := range status {
		include := false
		if staged {
			include = st.Staging != gitlib.Unmodified
		} else {
			include = st.Worktree != gitlib.Unmodified && st.Worktree != gitlib.Untracked
		}
		if include {
			paths = append(paths, path)
		}
	}
	slices.Sort(paths)

	var changes []localChange
	for _, path := range paths {
		var from, to *object.File
		if staged {
			from, err = fileFromTree(headTree, path)
			if err != nil {
				return "", err
			}
			to, err = fileFromIndex(idx, r.repo, path)
		} else {
			from, err = fileFromIndex(idx, r.repo, path)
			if err != nil {
				return "", err
			}
			to, err = fileFromDisk(r.Root(), path)
		}
		if err != nil {
			return "", err
		}
		if from == nil && to == nil {
			continue
		}
		changes = append(changes, localChange{path: path, from: from, to: to})
	}
	if len(changes) == 0 {
		return "", nil
	}
	return renderLocalDiff(localDiffHeader(staged)+"\n", changes)
}

func localDiffHeader(staged bool) string {
	if staged {
		return "Local changes checked into index but not committed"
	}
	return "Local uncommitted changes, not checked in to index"
}

func (r *Repo) headTree() (*object.Tree, error) {
	head, err := r.repo.Head()
	if err != nil {
		return nil, err
	}
	c, err := r.commitObject(head.Hash())
	if err != nil {
		return nil, err
	}
	tree, err := c.Tree()
	if err != nil {
		return nil, fmt.Errorf("load HEAD tree: %w", err)
	}
	return tree, nil
}

func fileFromTree(tree *object.Tree, path string) (*object.File, error) {
	if tree == nil {
		return nil, nil
	}
	f, err := tree.File(path)
	if err == object.ErrFileNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func fileFromIndex(idx *gitindex.Index, repo *gitlib.Repository, path string) (*object.File, error) {
	if idx == nil {
		return nil, nil
	}
	entry, err := idx.Entry(path)
	if err == gitindex.ErrEntryNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	blob, err := object.GetBlob(repo.Storer, entry.Hash)
	if err != nil {
		return nil, err
	}
	return object.NewFile(entry.Name, entry.Mode, blob), nil
}

func fileFromDisk(root, path string) (*object.File, error) {
	fullPath := filepath.Join(root, path)
	data, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	mem := &plumbing.MemoryObject{}
	mem.SetType(plumbing.BlobObject)
	if _, err := mem.Write(data); err != nil {
		return nil, err
	}
	blob, err := object.DecodeBlob(mem)
	if err != nil {
		return nil, err
	}
	mode := filemode.Regular
	if info, err := os.Stat(fullPath); err == nil {
		if m, err := filemode.NewFromOSFileMode(info.Mode()); err == nil {
			mode = m
		}
	}
	return object.NewFile(path, mode, blob), nil
}

func renderLocalDiff(header string, changes []localChange) (string, error) {
	var b strings.Builder
	b.WriteString(header)
	for _, ch := range changes {
		fmt.Fprintf(&b, "diff --git a/%s b/%s\n", ch.path, ch.path)

		binary, err := binaryChange(ch)
		if err != nil {
			return "", err
		}
		if binary {
			b.WriteString("(binary files differ)\n")
			continue
		}

		fromLines, err := fileLines(ch.from)
		if err != nil {
			return "", err
		}
		toLines, err := fileLines(ch.to)
		if err != nil {
			return "", err
		}
		diffText, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        fromLines,
			B:        toLines,
			FromFile: fmt.Sprintf("a/%s", ch.path),
			ToFile:   fmt.Sprintf("b/%s", ch.path),
			Context:  3,
		})
		if err != nil {
			return "", err
		}
		if diffText == "" {
			b.WriteString("(no textual changes)\n")
			continue
		}
		b.WriteString(diffText)
		if !strings.HasSuffix(diffText, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

func binaryChange(ch localChange) (bool, error) {
	for _, f := range []*object.File{ch.from, ch.to} {
		if f == nil {
			continue
		}
		bin, err := f.IsBinary()
		if err != nil {
			return false, err
		}
		if bin {
			return true, nil
		}
	}
	return false, nil
}

func fileLines(f *object.File) ([]string, error) {
	if f == nil {
		return []string{}, nil
	}
	content, err := f.Contents()
	if err != nil {
		return nil, err
	}
	return difflib.SplitLines(content), nil
}
