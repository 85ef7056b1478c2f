package git

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const mergeDiffNote = "Merge commit - showing diff against first parent\n\n"

// DiffText returns the unified patch of a commit against its first parent.
// Root commits diff against the empty tree; merge commits are prefixed with
// a note that only the first parent is shown.
func (r *Repo) DiffText(ctx context.Context, hash plumbing.Hash) (string, error) {
	c, err := r.commitObject(hash)
	if err != nil {
		return "", err
	}
	tree, err := c.Tree()
	if err != nil {
		return "", fmt.Errorf("load tree of %s: %w", hash, err)
	}
	var parentTree *object.Tree
	note := ""
	if c.NumParents() > 0 {
		parent, err := c.Parent(0)
		if err != nil {
			return "", fmt.Errorf("load parent of %s: %w", hash, err)
		}
		parentTree, err = parent.Tree()
		if err != nil {
			return "", fmt.Errorf("load tree of %s: %w", parent.Hash, err)
		}
		if c.NumParents() > 1 {
			note = mergeDiffNote
		}
	}
	changes, err := object.DiffTreeWithOptions(ctx, parentTree, tree, object.DefaultDiffTreeOptions)
	if err != nil {
		return "", fmt.Errorf("diff trees: %w", err)
	}
	if len(changes) == 0 {
		return note + "No file level changes.", nil
	}
	patch, err := changes.PatchContext(ctx)
	if err != nil {
		return "", fmt.Errorf("build patch: %w", err)
	}
	return note + patch.String(), nil
}

// Metadata returns a commit's full record together with the formatted
// header block shown above its diff.
func (r *Repo) Metadata(hash plumbing.Hash) (*Commit, string, error) {
	c, err := r.Commit(hash)
	if err != nil {
		return nil, "", err
	}
	return c, FormatCommitHeader(c), nil
}

// FormatCommitHeader renders the metadata block shown above a diff.
func FormatCommitHeader(c *Commit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "commit %s\n", c.Hash)
	appendSignatureLine(&b, "Author", c.Author)
	committer := c.Committer
	if committer.Name == "" && committer.Email == "" && committer.When.IsZero() {
		committer = c.Author
	}
	appendSignatureLine(&b, "Committer", committer)
	b.WriteString("\n")
	message := strings.TrimRight(c.Message, "\n")
	if message == "" {
		b.WriteString("    (no commit message)\n")
		return b.String()
	}
	for line := range strings.SplitSeq(message, "\n") {
		if line == "" {
			b.WriteString("\n")
			continue
		}
		fmt.Fprintf(&b, "    %s\n", line)
	}
	return b.String()
}

func appendSignatureLine(b *strings.Builder, label string, sig Signature) {
	fmt.Fprintf(b, "%s: %s <%s>", label, sig.Name, sig.Email)
	if !sig.When.IsZero() {
		fmt.Fprintf(b, "  %s", sig.When.Format("2006-01-02 15:04:05 -0700"))
	}
	b.WriteByte('\n')
}
