package git

import (
	"errors"

	gitlib "github.com/go-git/go-git/v5"
)

// ErrInvalidRevision reports a revspec that does not resolve to a commit.
var ErrInvalidRevision = errors.New("invalid revision")

// ErrNotRepository is go-git's open failure, re-exported so callers do not
// import go-git for the check.
var ErrNotRepository = gitlib.ErrRepositoryNotExists
