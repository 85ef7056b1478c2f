package browse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/peterh/liner"

	"gitscout/internal/git"
	"gitscout/internal/search"
)

// RunConfig carries the command-line surface into the browse runtime.
type RunConfig struct {
	RepoPath string
	Ref      string
	PageSize int

	// One-shot modes; when any is set the prompt does not start.
	Query        string
	Show         string
	ListBranches bool
	ListTags     bool

	Theme      ThemePreference
	AutoReload bool
	Syntax     bool
	Verbose    bool
}

// Run dispatches one-shot modes or starts the interactive prompt.
func Run(cfg RunConfig) error {
	if cfg.RepoPath == "" {
		cfg.RepoPath = "."
	}
	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	switch {
	case cfg.ListBranches:
		return listBranches(os.Stdout, cfg.RepoPath)
	case cfg.ListTags:
		return listTags(os.Stdout, cfg.RepoPath)
	case cfg.Show != "":
		return showRevision(os.Stdout, cfg)
	case cfg.Query != "":
		return printMatches(os.Stdout, cfg)
	}
	return runPrompt(cfg)
}

func listBranches(out io.Writer, repoPath string) error {
	repo, err := git.Open(repoPath)
	if err != nil {
		return err
	}
	branches, err := repo.Branches()
	if err != nil {
		return err
	}
	current := repo.CheckedOutBranch()
	for _, b := range branches {
		marker := "  "
		if b.Name == current {
			marker = "* "
		}
		suffix := ""
		if up, ok, err := repo.Upstream(b.Name); err == nil && ok {
			suffix = " -> " + up.Name
		}
		fmt.Fprintf(out, "%s%s  %s%s\n", marker, b.When.Format(rowTimeLayout), b.Name, suffix)
	}
	return nil
}

func listTags(out io.Writer, repoPath string) error {
	repo, err := git.Open(repoPath)
	if err != nil {
		return err
	}
	tags, err := repo.Tags()
	if err != nil {
		return err
	}
	for _, t := range tags {
		fmt.Fprintf(out, "%s  %s\n", t.When.Format(rowTimeLayout), t.Name)
	}
	return nil
}

// showRevision prints one commit's metadata and diff and exits.
func showRevision(out io.Writer, cfg RunConfig) error {
	repo, err := git.Open(cfg.RepoPath)
	if err != nil {
		return err
	}
	hash, err := repo.Resolve(cfg.Show)
	if err != nil {
		return err
	}
	_, header, err := repo.Metadata(hash)
	if err != nil {
		return err
	}
	diff, err := repo.DiffText(context.Background(), hash)
	if err != nil {
		return err
	}
	var renderer *diffRenderer
	if cfg.Syntax {
		renderer = newDiffRenderer(cfg.Theme)
	}
	fmt.Fprint(out, header)
	if line := tagLine(repo, hash); line != "" {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, renderer.Render(hash.String(), diff))
	return nil
}

// tagLine lists the tags pointing at a commit, "" when there are none.
func tagLine(repo *git.Repo, hash plumbing.Hash) string {
	byCommit, err := repo.TagsByCommit()
	if err != nil {
		slog.Debug("listing tags failed", slog.Any("error", err))
		return ""
	}
	names := byCommit[hash]
	if len(names) == 0 {
		return ""
	}
	return "Tags: " + strings.Join(names, ", ")
}

// printMatches runs one search over the ref's history and prints every
// matching row.
func printMatches(out io.Writer, cfg RunConfig) error {
	repo, err := git.Open(cfg.RepoPath)
	if err != nil {
		return err
	}
	ref := cfg.Ref
	if ref == "" {
		ref = repo.DefaultRef()
	}
	ctx := context.Background()
	cache := search.NewIndexCache()
	positions, err := search.NewSearcher(cache).Find(ctx, repo.Path(), ref, clampQuery(cfg.Query))
	if err != nil {
		return err
	}
	fmt.Fprintln(out, matchStatus(len(positions)))
	if len(positions) == 0 {
		return nil
	}
	ids, err := cache.GetOrBuild(ctx, search.IndexKey{RepoPath: repo.Path(), Ref: ref})
	if err != nil {
		return err
	}
	labels, err := repo.BranchLabels()
	if err != nil {
		return err
	}
	for _, pos := range positions {
		commit, err := repo.Commit(ids[pos])
		if err != nil {
			return err
		}
		fmt.Fprintln(out, formatRow(pos, commit, labels[commit.Hash]))
	}
	return nil
}

func runPrompt(cfg RunConfig) error {
	ctrl, err := New(cfg.RepoPath, cfg.Ref, cfg.PageSize)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	if cfg.AutoReload {
		watcher, err := NewWatcher(ctrl.Repo().Root(), func() {
			slog.Debug("repository changed, reloading")
			ctrl.Reload()
		})
		if err != nil {
			slog.Error("auto reload disabled", slog.Any("error", err))
		} else {
			defer watcher.Close()
		}
	}

	var renderer *diffRenderer
	if cfg.Syntax {
		renderer = newDiffRenderer(cfg.Theme)
	}
	r := &repl{ctrl: ctrl, renderer: renderer, out: os.Stdout}
	return r.run(context.Background())
}

// repl is the interactive command loop over one controller.
type repl struct {
	ctrl     *Controller
	renderer *diffRenderer
	out      io.Writer
	query    string // last search text, reused by next and prev
}

var promptCommands = []string{
	"more", "search", "next", "prev", "show", "branches", "tags",
	"local", "ref", "reload", "help", "quit",
}

func (r *repl) run(ctx context.Context) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(func(prefix string) []string {
		var completions []string
		lower := strings.ToLower(prefix)
		for _, cmd := range promptCommands {
			if strings.HasPrefix(cmd, lower) {
				completions = append(completions, cmd)
			}
		}
		return completions
	})

	fmt.Fprintf(r.out, "Browsing %s on %s\n", r.ctrl.RepoPath(), r.ctrl.Ref())
	fmt.Fprintln(r.out, `Type "help" for commands.`)
	r.more(ctx)

	for {
		input, err := line.Prompt("gitscout> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out)
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)
		if quit := r.exec(ctx, input); quit {
			return nil
		}
	}
}

// exec runs one command line and reports whether the loop should exit.
func (r *repl) exec(ctx context.Context, input string) bool {
	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "quit", "exit", "q":
		return true
	case "help", "?":
		r.printHelp()
	case "more", "m":
		r.more(ctx)
	case "search", "s":
		r.search(ctx, strings.TrimSpace(strings.TrimPrefix(input, parts[0])))
	case "next", "n":
		r.step(ctx, r.ctrl.NextMatch)
	case "prev", "p":
		r.step(ctx, r.ctrl.PrevMatch)
	case "show":
		r.show(ctx, args)
	case "branches":
		r.branches()
	case "tags":
		r.tags()
	case "local":
		r.local(args)
	case "ref":
		r.switchRef(ctx, args)
	case "reload":
		r.reload(ctx)
	default:
		fmt.Fprintf(r.out, "Unknown command %q (type \"help\" for commands)\n", cmd)
	}
	return false
}

func (r *repl) more(ctx context.Context) {
	commits, done, err := r.ctrl.NextPage(ctx)
	if err != nil {
		fmt.Fprintf(r.out, "Failed to load commits: %v\n", err)
		return
	}
	loaded, _ := r.ctrl.Loaded()
	start := loaded - len(commits)
	for i, c := range commits {
		fmt.Fprintln(r.out, formatRow(start+i, c, r.ctrl.RowLabels(c.Hash)))
	}
	if done {
		fmt.Fprintf(r.out, "Loaded all %s commits.\n", formatThousands(loaded))
	} else {
		fmt.Fprintf(r.out, "Loaded %s commits, more available.\n", formatThousands(loaded))
	}
}

func (r *repl) search(ctx context.Context, query string) {
	if query == "" {
		fmt.Fprintln(r.out, "Usage: search <text>")
		return
	}
	status, err := r.ctrl.Search(ctx, query)
	if err != nil {
		fmt.Fprintf(r.out, "Search failed: %v\n", err)
		return
	}
	if status.Superseded {
		return
	}
	r.query = status.Query
	fmt.Fprintln(r.out, matchStatus(status.Matches))
	if status.Matches > 0 {
		r.printRow(status.First)
	}
}

func (r *repl) step(ctx context.Context, step func(context.Context, string) (int, bool, error)) {
	if r.query == "" {
		fmt.Fprintln(r.out, "No search yet. Use: search <text>")
		return
	}
	pos, ok, err := step(ctx, r.query)
	if err != nil {
		fmt.Fprintf(r.out, "Search failed: %v\n", err)
		return
	}
	if !ok {
		fmt.Fprintln(r.out, matchStatus(0))
		return
	}
	r.printRow(pos)
}

func (r *repl) printRow(pos int) {
	c, ok := r.ctrl.Row(pos)
	if !ok {
		fmt.Fprintf(r.out, "Row %d is not loaded yet.\n", pos)
		return
	}
	fmt.Fprintln(r.out, formatRow(pos, c, r.ctrl.RowLabels(c.Hash)))
}

func (r *repl) show(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(r.out, "Usage: show <hash|row>")
		return
	}
	hash, err := r.resolveTarget(ctx, args[0])
	if err != nil {
		fmt.Fprintf(r.out, "Cannot show %q: %v\n", args[0], err)
		return
	}
	_, header, err := r.ctrl.Repo().Metadata(hash)
	if err != nil {
		fmt.Fprintf(r.out, "Cannot show %q: %v\n", args[0], err)
		return
	}
	diff, err := r.ctrl.Repo().DiffText(ctx, hash)
	if err != nil {
		fmt.Fprintf(r.out, "Unable to compute diff: %v\n", err)
		return
	}
	fmt.Fprint(r.out, header)
	if line := tagLine(r.ctrl.Repo(), hash); line != "" {
		fmt.Fprintln(r.out, line)
	}
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, r.renderer.Render(hash.String(), diff))
}

// resolveTarget accepts a loaded row number or a revision. Numbers try the
// row first, so "show 12" means the displayed line, not a hash prefix.
func (r *repl) resolveTarget(ctx context.Context, arg string) (plumbing.Hash, error) {
	if n, err := strconv.Atoi(arg); err == nil && n >= 0 {
		ok, err := r.ctrl.EnsureLoaded(ctx, n)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		if ok {
			if c, ok := r.ctrl.Row(n); ok {
				return c.Hash, nil
			}
		}
	}
	return r.ctrl.Repo().Resolve(arg)
}

func (r *repl) branches() {
	if err := listBranches(r.out, r.ctrl.RepoPath()); err != nil {
		fmt.Fprintf(r.out, "Failed to list branches: %v\n", err)
	}
}

func (r *repl) tags() {
	if err := listTags(r.out, r.ctrl.RepoPath()); err != nil {
		fmt.Fprintf(r.out, "Failed to list tags: %v\n", err)
	}
}

func (r *repl) local(args []string) {
	staged := len(args) > 0 && strings.EqualFold(args[0], "staged")
	diff, err := r.ctrl.Repo().WorktreeDiff(staged)
	if err != nil {
		fmt.Fprintf(r.out, "Unable to compute diff: %v\n", err)
		return
	}
	if strings.TrimSpace(diff) == "" {
		if lc, err := r.ctrl.Repo().LocalChanges(); err == nil {
			if !staged && lc.HasStaged {
				fmt.Fprintln(r.out, `No unstaged changes. Try "local staged".`)
				return
			}
			if staged && lc.HasWorktree {
				fmt.Fprintln(r.out, `No staged changes. Try "local".`)
				return
			}
		}
		fmt.Fprintln(r.out, "No changes.")
		return
	}
	fmt.Fprintln(r.out, r.renderer.Render("", diff))
}

func (r *repl) switchRef(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(r.out, "Usage: ref <name>")
		return
	}
	if err := r.ctrl.SwitchRef(args[0]); err != nil {
		fmt.Fprintf(r.out, "Cannot switch to %q: %v\n", args[0], err)
		return
	}
	r.query = ""
	fmt.Fprintf(r.out, "Now browsing %s.\n", args[0])
	r.more(ctx)
}

func (r *repl) reload(ctx context.Context) {
	r.ctrl.Reload()
	r.query = ""
	r.more(ctx)
}

func (r *repl) printHelp() {
	fmt.Fprintln(r.out, "Commands:")
	fmt.Fprintln(r.out, "  more                 Load and print the next page of commits")
	fmt.Fprintln(r.out, "  search <text>        Search messages, or a 7-40 digit hash prefix")
	fmt.Fprintln(r.out, "  next / n             Jump to the next match")
	fmt.Fprintln(r.out, "  prev / p             Jump to the previous match")
	fmt.Fprintln(r.out, "  show <hash|row>      Print a commit's metadata and diff")
	fmt.Fprintln(r.out, "  branches             List local branches")
	fmt.Fprintln(r.out, "  tags                 List tags")
	fmt.Fprintln(r.out, "  local [staged]       Diff of uncommitted (or staged) changes")
	fmt.Fprintln(r.out, "  ref <name>           Browse another branch or tag")
	fmt.Fprintln(r.out, "  reload               Re-read the repository")
	fmt.Fprintln(r.out, "  help                 Show this help")
	fmt.Fprintln(r.out, "  quit                 Exit")
}
