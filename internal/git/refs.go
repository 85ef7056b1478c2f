package git

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
)

type BranchInfo struct {
	Name string
	Hash plumbing.Hash
	When time.Time
}

// TagInfo carries the peeled commit hash for annotated tags.
type TagInfo struct {
	Name string
	Hash plumbing.Hash
	When time.Time
}

func (r *Repo) Branches() ([]BranchInfo, error) {
	iter, err := r.repo.Branches()
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer iter.Close()
	var branches []BranchInfo
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		info := BranchInfo{Name: ref.Name().Short(), Hash: ref.Hash()}
		if c, err := r.repo.CommitObject(ref.Hash()); err == nil {
			info.When = c.Committer.When
		}
		branches = append(branches, info)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	slices.SortFunc(branches, func(a, b BranchInfo) int {
		return strings.Compare(a.Name, b.Name)
	})
	return branches, nil
}

// Tags lists every tag pointing at a commit, lightweight or annotated.
func (r *Repo) Tags() ([]TagInfo, error) {
	iter, err := r.repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer iter.Close()
	var tags []TagInfo
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		hash, ok := r.peelTagCommitHash(ref.Hash())
		if !ok {
			return nil
		}
		info := TagInfo{Name: ref.Name().Short(), Hash: hash}
		if c, err := r.repo.CommitObject(hash); err == nil {
			info.When = c.Committer.When
		}
		tags = append(tags, info)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	slices.SortFunc(tags, func(a, b TagInfo) int {
		return strings.Compare(a.Name, b.Name)
	})
	return tags, nil
}

// TagsByCommit maps each tagged commit to its sorted tag names.
func (r *Repo) TagsByCommit() (map[plumbing.Hash][]string, error) {
	tags, err := r.Tags()
	if err != nil {
		return nil, err
	}
	byCommit := make(map[plumbing.Hash][]string)
	for _, tag := range tags {
		byCommit[tag.Hash] = append(byCommit[tag.Hash], tag.Name)
	}
	for _, names := range byCommit {
		slices.Sort(names)
	}
	return byCommit, nil
}

// BranchLabels maps commit hashes to the decoration labels shown next to a
// row: "HEAD -> branch" first, then branches, remotes and "tag: name".
func (r *Repo) BranchLabels() (map[plumbing.Hash][]string, error) {
	labels := map[plumbing.Hash][]string{}
	refs, err := r.repo.References()
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	defer refs.Close()
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() != plumbing.HashReference {
			return nil
		}
		name := ref.Name()
		if !name.IsBranch() && !name.IsRemote() && !name.IsTag() {
			return nil
		}
		short := name.Short()
		if name.IsRemote() && strings.HasSuffix(short, "/HEAD") {
			return nil
		}
		hash := ref.Hash()
		label := short
		if name.IsTag() {
			label = fmt.Sprintf("tag: %s", short)
			if peeled, ok := r.peelTagCommitHash(hash); ok {
				hash = peeled
			}
		}
		labels[hash] = append(labels[hash], label)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	head, err := r.repo.Head()
	if err == nil && head.Hash() != plumbing.ZeroHash {
		label := "HEAD"
		if head.Name().IsBranch() {
			label = fmt.Sprintf("HEAD -> %s", head.Name().Short())
		}
		labels[head.Hash()] = append([]string{label}, labels[head.Hash()]...)
	}
	return labels, nil
}
