package cmd

import (
	"flag"
	"fmt"
	"os"

	"gitscout/internal/browse"
	"gitscout/internal/buildinfo"
	"gitscout/internal/git"
)

func Run() error {
	return run(os.Args[1:])
}

func run(args []string) error {
	fs := flag.NewFlagSet("gitscout", flag.ContinueOnError)
	ref := fs.String("ref", "", "branch, tag, or revision to browse (default: checked-out branch)")
	limit := fs.Int("limit", git.DefaultPageSize, "number of commits to load per page")
	query := fs.String("query", "", "print every commit matching a search and exit")
	show := fs.String("show", "", "print one commit's metadata and diff and exit")
	branches := fs.Bool("branches", false, "list local branches and exit")
	tags := fs.Bool("tags", false, "list tags and exit")
	mode := fs.String("mode", browse.ThemeAuto.String(), "color mode: auto, light, or dark")
	noWatch := fs.Bool("nowatch", false, "disable automatic reload when repository changes")
	noSyntax := fs.Bool("nosyntax", false, "disable syntax highlighting in diffs")
	verbose := fs.Bool("verbose", false, "enable verbose logging")
	showVersion := fs.Bool("version", false, "print version information and exit")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Println(buildinfo.Version())
		return nil
	}
	repoPath := "."
	remaining := fs.Args()
	if len(remaining) > 0 {
		repoPath = remaining[len(remaining)-1]
	}
	return browse.Run(browse.RunConfig{
		RepoPath:     repoPath,
		Ref:          *ref,
		PageSize:     *limit,
		Query:        *query,
		Show:         *show,
		ListBranches: *branches,
		ListTags:     *tags,
		Theme:        browse.ThemePreferenceFromString(*mode),
		AutoReload:   !*noWatch,
		Syntax:       !*noSyntax,
		Verbose:      *verbose,
	})
}
