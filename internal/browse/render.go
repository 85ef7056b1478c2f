package browse

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	lru "github.com/hashicorp/golang-lru/v2"

	"gitscout/internal/git"
)

const (
	rowTimeLayout = "Jan 02, 2006 15:04"
	// maxSubjectLen bounds one list line; longer subjects truncate with an
	// ellipsis.
	maxSubjectLen = 80
	// renderedDiffCacheSize bounds how many highlighted diffs stay around
	// for repeated shows.
	renderedDiffCacheSize = 32
)

// formatRow renders one commit list line: row number, short hash, author
// date, author, subject, then any ref decorations.
func formatRow(row int, c *git.Commit, labels []string) string {
	subject := c.Subject()
	if len(subject) > maxSubjectLen {
		subject = subject[:77] + "..."
	}
	line := fmt.Sprintf("%5d  %s  %s  %s  %s",
		row, c.ShortHash(), c.Author.When.Format(rowTimeLayout), c.Author.Name, subject)
	if len(labels) > 0 {
		line += " (" + strings.Join(labels, ", ") + ")"
	}
	return line
}

// matchStatus renders the summary printed after a search completes.
func matchStatus(matches int) string {
	switch matches {
	case 0:
		return "0 matches"
	case 1:
		return "1 match"
	default:
		return formatThousands(matches) + " matches"
	}
}

// formatThousands groups digits: 1234567 renders as "1,234,567".
func formatThousands(n int) string {
	s := strconv.Itoa(n)
	if n < 0 || len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// diffRenderer colors patch text for the terminal. A nil renderer passes
// text through untouched, which is how -nosyntax works.
type diffRenderer struct {
	style *chroma.Style
	cache *lru.Cache[string, string]
}

func newDiffRenderer(pref ThemePreference) *diffRenderer {
	style := styles.Get(styleNameForPreference(pref))
	if style == nil {
		style = styles.Fallback
	}
	cache, _ := lru.New[string, string](renderedDiffCacheSize)
	return &diffRenderer{style: style, cache: cache}
}

// Render highlights patch text. key identifies the patch in the rendered
// cache; pass "" for content that changes between calls, such as worktree
// diffs.
func (r *diffRenderer) Render(key, patch string) string {
	if r == nil || patch == "" {
		return patch
	}
	if key != "" {
		if rendered, ok := r.cache.Get(key); ok {
			return rendered
		}
	}
	rendered, err := highlightDiff(patch, r.style)
	if err != nil {
		slog.Debug("diff highlight failed", slog.Any("error", err))
		return patch
	}
	if key != "" {
		r.cache.Add(key, rendered)
	}
	return rendered
}

func highlightDiff(patch string, style *chroma.Style) (string, error) {
	lexer := lexers.Get("diff")
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)
	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}
	iterator, err := lexer.Tokenise(nil, patch)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := formatter.Format(&b, style, iterator); err != nil {
		return "", err
	}
	return b.String(), nil
}
