package git

type Sort int

const (
	// SortNone walks depth-first from the pushed tips, go-git's default
	// log order.
	SortNone Sort = iota
	// SortTopological emits every parent only after all of its emitted
	// descendants.
	SortTopological
	// SortTime emits by committer time, newest first.
	SortTime
)

// QueryOptions selects and orders the commits a Walker yields.
//
// Revspec forms: a plain spec pushes its commit, "^spec" hides the commit
// and its ancestors, "from..to" pushes to and hides from, "from...to" also
// pushes the merge base of the endpoints. An empty range endpoint means
// HEAD, and an empty Revspecs list walks from HEAD.
type QueryOptions struct {
	Revspecs  []string
	Pathspecs []string
	Sort      Sort
	Reverse   bool

	// Substring filters. Author and committer match against name or
	// email, case-sensitive. Empty means no filter.
	AuthorContains    string
	CommitterContains string
	MessageContains   string

	// Parent count bounds. MaxParentsExclusive is an exclusive upper
	// bound; nil means unbounded.
	MinParents          int
	MaxParentsExclusive *int
}

// ForRef is the default query for browsing one ref.
func ForRef(ref string) QueryOptions {
	var opts QueryOptions
	if ref != "" {
		opts.Revspecs = []string{ref}
	}
	return opts
}
