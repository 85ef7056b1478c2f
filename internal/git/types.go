package git

import (
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// Commit is the full record for one commit as the walker yields it.
type Commit struct {
	Hash         plumbing.Hash
	ParentHashes []plumbing.Hash
	Author       Signature
	Committer    Signature
	Message      string
}

func (c *Commit) ShortHash() string {
	return c.Hash.String()[:7]
}

// Subject returns the first line of the commit message.
func (c *Commit) Subject() string {
	return strings.SplitN(strings.TrimSpace(c.Message), "\n", 2)[0]
}

func newCommit(c *object.Commit) *Commit {
	parents := make([]plumbing.Hash, len(c.ParentHashes))
	copy(parents, c.ParentHashes)
	return &Commit{
		Hash:         c.Hash,
		ParentHashes: parents,
		Author:       newSignature(c.Author),
		Committer:    newSignature(c.Committer),
		Message:      c.Message,
	}
}

func newSignature(sig object.Signature) Signature {
	return Signature{Name: sig.Name, Email: sig.Email, When: sig.When}
}
