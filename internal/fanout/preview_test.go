package fanout

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestPreview_PlainTextUnchanged(t *testing.T) {
	assert.Equal(t, "hello there", Preview("hello there", PreviewLength))
	assert.Equal(t, "", Preview("", PreviewLength))
}

func TestPreview_StripsMarkdown(t *testing.T) {
	assert.Equal(t, "Title some bold and code", Preview("# Title\n\nsome **bold** and `code`", PreviewLength))
	assert.Equal(t, "a link here", Preview("a [link](https://example.com) here", PreviewLength))
	assert.Equal(t, "one two", Preview("- one\n- two", PreviewLength))
}

func TestPreview_TruncatesWithEllipsis(t *testing.T) {
	long := strings.Repeat("a", 100)
	got := Preview(long, PreviewLength)

	assert.Equal(t, PreviewLength, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "…"))
	assert.Equal(t, strings.Repeat("a", PreviewLength-1), strings.TrimSuffix(got, "…"))
}

func TestPreview_ExactLengthNotTruncated(t *testing.T) {
	exact := strings.Repeat("b", PreviewLength)
	assert.Equal(t, exact, Preview(exact, PreviewLength))
}

func TestPreview_RuneSafe(t *testing.T) {
	korean := strings.Repeat("안녕하세요 ", 30)
	got := Preview(korean, PreviewLength)

	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, PreviewLength, utf8.RuneCountInString(got))
}

func TestPreview_CollapsesWhitespace(t *testing.T) {
	assert.Equal(t, "line one line two", Preview("line one\n\n\nline   two", PreviewLength))
}
