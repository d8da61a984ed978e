package extract

import (
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// DefaultSummaryLength is the rune limit used for entity summaries.
const DefaultSummaryLength = 150

var md = goldmark.New()

// Summary returns the plain text of markdown, whitespace collapsed and cut to
// maxLen runes with a trailing "..." when truncated. Code blocks are skipped.
func Summary(markdown string, maxLen int) string {
	if strings.TrimSpace(markdown) == "" {
		return ""
	}

	src := []byte(markdown)
	doc := md.Parser().Parse(text.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			if entering {
				b.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					b.WriteByte(' ')
				}
			}
		case *ast.String:
			if entering {
				b.Write(node.Value)
			}
		default:
			if !entering && n.Type() == ast.TypeBlock {
				b.WriteByte(' ')
			}
		}
		return ast.WalkContinue, nil
	})

	out := strings.Join(strings.Fields(b.String()), " ")
	if maxLen <= 0 || utf8.RuneCountInString(out) <= maxLen {
		return out
	}
	runes := []rune(out)
	return strings.TrimSpace(string(runes[:maxLen])) + "..."
}
