package parsers

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prk2007/ragvault/internal/catalog"
)

func TestDetectDocType(t *testing.T) {
	cases := []struct {
		name string
		want catalog.DocType
		ok   bool
	}{
		{"report.pdf", catalog.DocPDF, true},
		{"page.html", catalog.DocHTML, true},
		{"page.htm", catalog.DocHTML, true},
		{"notes.txt", catalog.DocTXT, true},
		{"notes.md", catalog.DocMD, true},
		{"notes.markdown", catalog.DocMD, true},
		{"archive.zip", "", false},
		{"noextension", "", false},
	}
	for _, c := range cases {
		got, ok := DetectDocType(c.name)
		require.Equal(t, c.ok, ok, c.name)
		require.Equal(t, c.want, got, c.name)
	}
}

func TestParseText_TrimsAndCounts(t *testing.T) {
	r, err := parseText([]byte("  hello world  \n"))
	require.NoError(t, err)
	require.Equal(t, "hello world", r.Content)
	require.Equal(t, 2, r.WordCount)
	require.Equal(t, 11, r.CharacterCount)
}

func TestParseMarkdown_ExtractsTitleFromFirstHeading(t *testing.T) {
	r, err := parseMarkdown([]byte("intro line\n\n# My Document\n\nbody text"))
	require.NoError(t, err)
	require.Equal(t, "My Document", r.Title)
}

func TestParseMarkdown_NoHeadingLeavesTitleEmpty(t *testing.T) {
	r, err := parseMarkdown([]byte("just body text, no heading"))
	require.NoError(t, err)
	require.Empty(t, r.Title)
}

func TestParseHTML_PrefersMainOverBody(t *testing.T) {
	html := `<html><head><title>Page Title</title></head>
<body>
<nav>ignored nav text</nav>
<main>kept main text</main>
<script>var x = "should be stripped";</script>
</body></html>`
	r, err := parseHTML([]byte(html))
	require.NoError(t, err)
	require.Equal(t, "Page Title", r.Title)
	require.Contains(t, r.Content, "kept main text")
	require.NotContains(t, r.Content, "should be stripped")
	require.NotContains(t, r.Content, "ignored nav text")
}

func TestParseHTML_FallsBackToArticleThenBody(t *testing.T) {
	html := `<html><body><article>article body</article></body></html>`
	r, err := parseHTML([]byte(html))
	require.NoError(t, err)
	require.Contains(t, r.Content, "article body")

	html2 := `<html><body>plain body text</body></html>`
	r2, err := parseHTML([]byte(html2))
	require.NoError(t, err)
	require.Contains(t, r2.Content, "plain body text")
}

func TestParseHTML_CollapsesWhitespace(t *testing.T) {
	html := `<body><main>one


	  two   three</main></body>`
	r, err := parseHTML([]byte(html))
	require.NoError(t, err)
	require.NotContains(t, r.Content, "\n")
	require.Contains(t, r.Content, "one two three")
}

func TestParse_UnsupportedDocTypeReturnsParseError(t *testing.T) {
	_, err := Parse("bogus", []byte("x"))
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "detect", pe.Kind)
}
