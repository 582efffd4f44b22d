// ABOUTME: Builds short plain-text previews of message content for notifications
// ABOUTME: Markdown is rendered to text with goldmark before truncating on rune boundaries

package fanout

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// PreviewLength is the maximum preview length in runes, ellipsis included.
const PreviewLength = 80

const ellipsis = "…"

var markdown = goldmark.New()

// Preview renders content as plain text and shortens it to at most max runes.
// Truncated previews end with an ellipsis.
func Preview(content string, max int) string {
	if content == "" || max <= 0 {
		return ""
	}
	plain := strings.Join(strings.Fields(plainText([]byte(content))), " ")
	if plain == "" {
		// Content that is only markup still deserves a preview.
		plain = strings.Join(strings.Fields(content), " ")
	}
	return truncate(plain, max)
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-1]) + ellipsis
}

// plainText extracts the readable text of a markdown document.
func plainText(src []byte) string {
	doc := markdown.Parser().Parse(text.NewReader(src))

	var buf bytes.Buffer
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				buf.WriteByte(' ')
			}
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Text:
			buf.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(node.Value)
		case *ast.AutoLink:
			buf.Write(node.URL(src))
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				buf.Write(seg.Value(src))
				buf.WriteByte(' ')
			}
			return ast.WalkSkipChildren, nil
		case *ast.RawHTML, *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return buf.String()
}
