package parse

import (
	"bytes"
	"html"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prdigest/pr-digest/pkg/digest"
	"github.com/prdigest/pr-digest/pkg/models"
)

func generated(t *testing.T, entries []models.DigestEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, digest.WriteMarkdown(&buf, entries, digest.DefaultConventions()))
	return buf.Bytes()
}

func fixtureEntries() []models.DigestEntry {
	at := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	return []models.DigestEntry{
		{
			Number: 101, Title: "[Fix] Use List<T> correctly", URL: "https://github.com/dotnet/runtime/pull/101",
			Author: "alice", AuthorURL: "https://github.com/alice", CreatedAt: at, MergedAt: at,
			Labels:  []models.Label{{Name: "area-System.IO", Color: "ffcc00"}, {Name: "bug", Color: "00ff00"}},
			Summary: "#### 概要\nFixes a bug.\n\n#### 変更内容\n- `src/List.cs`: fix\n",
		},
		{
			Number: 102, Title: "Bump `System.Text.Json` version", URL: "https://github.com/dotnet/runtime/pull/102",
			Author: "dependabot[bot]", AuthorURL: "https://github.com/apps/dependabot", CreatedAt: at, MergedAt: at,
			Labels:  []models.Label{{Name: "bug", Color: "00ff00"}},
			Summary: "Dependency update :rocket:",
		},
		{
			Number: 103, Title: "Add Copilot instructions", URL: "https://github.com/dotnet/runtime/pull/103",
			Author: "Copilot", AuthorURL: "https://github.com/apps/copilot-swe-agent", CreatedAt: at, MergedAt: at,
			Summary: "なし",
		},
	}
}

func TestParseDocument_Structure(t *testing.T) {
	doc := ParseDocument(generated(t, fixtureEntries()))

	require.NotEmpty(t, doc)
	toc, ok := doc[0].(*digest.Heading)
	require.True(t, ok)
	assert.Equal(t, "table-of-contents", toc.ID)

	list, ok := doc[1].(*digest.List)
	require.True(t, ok)
	assert.True(t, list.Ordered)
	require.Len(t, list.Items, 3)

	link, ok := list.Items[0].Inlines[0].(*digest.Link)
	require.True(t, ok)
	assert.Equal(t, "#101", link.Target)

	entry, ok := doc[2].(*digest.Heading)
	require.True(t, ok)
	assert.Equal(t, "101", entry.ID)
	assert.Equal(t, 3, entry.Level)
}

func TestParseDocument_AnalyzeRoundTrip(t *testing.T) {
	doc := ParseDocument(generated(t, fixtureEntries()))

	res := digest.Analyze(doc)

	assert.Equal(t, 3, res.TotalEntryCount())
	assert.Equal(t, 2, res.BotEntryCount())
	require.Len(t, res.CommunityHeadings(), 1)
	assert.Equal(t, "101", digest.ExtractHeading(res.CommunityHeadings()[0]).AnchorID)

	assert.Equal(t, map[string]string{"area-System.IO": "#ffcc00", "bug": "#00ff00"}, res.LabelColors())
	assert.Len(t, res.HeadingsForLabel("bug"), 2)
	assert.Len(t, res.HeadingsForLabel("area-System.IO"), 1)
	assert.Equal(t, 2, res.LabelCount())

	groups := res.LabelsBySize()
	require.Len(t, groups, 2)
	assert.Equal(t, "bug", groups[0].Name)
}

func TestParseDocument_HeadingExtraction(t *testing.T) {
	doc := ParseDocument(generated(t, fixtureEntries()))
	res := digest.Analyze(doc)

	var got []digest.HeadingEntry
	for _, h := range append(res.CommunityHeadings(), res.BotHeadings()...) {
		got = append(got, digest.ExtractHeading(h))
	}

	assert.Equal(t, []digest.HeadingEntry{
		{AnchorID: "101", DisplayText: "#101 [Fix] Use List&lt;T&gt; correctly"},
		{AnchorID: "102", DisplayText: "#102 Bump `System.Text.Json` version"},
		{AnchorID: "103", DisplayText: "#103 Add Copilot instructions"},
	}, got)
}

func TestParseDocument_TitlesRoundTripVerbatim(t *testing.T) {
	titles := []string{
		"Make a*b*c faster",
		"Fix __init__ handling",
		"Use ~~old~~ API",
		`Escape \" in JSON strings`,
		"Handle &amp; entity",
		"Handle &#42; and &copy; literally",
		"Trailing backslash \\",
		"[JIT] Use List<T>.Count (not Length) #123 {fast} | 100% !",
		"Visit https://example.com/path_to?x=1&y=2",
		":rocket: emoji shortcode stays text? `code`",
	}
	at := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	for _, title := range titles {
		t.Run(title, func(t *testing.T) {
			src := generated(t, []models.DigestEntry{{
				Number: 7, Title: title, URL: "https://github.com/dotnet/runtime/pull/7",
				Author: "alice", AuthorURL: "https://github.com/alice", CreatedAt: at, MergedAt: at,
				Labels:  []models.Label{{Name: title, Color: "ffcc00"}},
				Summary: "summary",
			}})

			res := digest.Analyze(ParseDocument(src))

			require.Len(t, res.CommunityHeadings(), 1)
			assert.Equal(t, digest.HeadingEntry{AnchorID: "7", DisplayText: html.EscapeString("#7 " + title)},
				digest.ExtractHeading(res.CommunityHeadings()[0]))
			assert.Equal(t, []string{title}, res.Labels())
		})
	}
}

func TestUnescape(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{`a\*b\*c`, "a*b*c"},
		{`\\\"`, `\"`},
		{`\&amp;`, "&amp;"},
		{"&amp;", "&"},
		{"&#42;&#x41;", "*A"},
		{"&#0;", "\uFFFD"},
		{"&nosuch; & ;", "&nosuch; & ;"},
		{`\a`, `\a`},
		{`end\`, `end\`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, string(unescape([]byte(tt.in))), tt.in)
	}
}

func TestParseDocument_EmptyInput(t *testing.T) {
	assert.Empty(t, ParseDocument(nil))
	res := digest.Analyze(ParseDocument([]byte("")))
	assert.Zero(t, res.TotalEntryCount())
}

func TestParseDocument_DropsOtherBlocks(t *testing.T) {
	src := []byte("paragraph\n\n---\n\n```go\ncode\n```\n\n> quote\n\n- item\n  - nested\n")
	doc := ParseDocument(src)

	require.Len(t, doc, 1)
	list, ok := doc[0].(*digest.List)
	require.True(t, ok)
	require.Len(t, list.Items, 1)
	require.Len(t, list.Items[0].Lists, 1)
	assert.Equal(t, []digest.Inline{&digest.Literal{Text: "item"}}, list.Items[0].Inlines)
}

func TestParseDocument_InlineKinds(t *testing.T) {
	doc := ParseDocument([]byte("- a *b* `c` <span style=\"background-color: red;\">d</span> <https://x.test>\n"))

	require.Len(t, doc, 1)
	inl := doc[0].(*digest.List).Items[0].Inlines

	require.Len(t, inl, 8)
	assert.Equal(t, &digest.Literal{Text: "a b "}, inl[0])
	assert.Equal(t, &digest.Code{Text: "c"}, inl[1])
	assert.Equal(t, &digest.Literal{Text: " "}, inl[2])
	assert.Equal(t, &digest.HTMLSpan{Raw: `<span style="background-color: red;">`}, inl[3])
	assert.Equal(t, &digest.Literal{Text: "d"}, inl[4])
	assert.Equal(t, &digest.HTMLSpan{Raw: "</span>"}, inl[5])
	assert.Equal(t, &digest.Literal{Text: " "}, inl[6])
	link, ok := inl[7].(*digest.Link)
	require.True(t, ok)
	assert.Equal(t, "https://x.test", link.Target)
}

func TestRenderHTML(t *testing.T) {
	out, err := RenderHTML(generated(t, fixtureEntries()))
	require.NoError(t, err)

	assert.Contains(t, out, `id="table-of-contents"`)
	assert.Contains(t, out, `<ol>`)
	assert.Contains(t, out, `<hr`)
	assert.Contains(t, out, `id="101"`)
	assert.Contains(t, out, `<span style="background-color: #ffcc00;`)
	assert.NotContains(t, out, ":rocket:")
}

func TestRender_MatchesSeparateCalls(t *testing.T) {
	src := generated(t, fixtureEntries())

	doc, html, err := Render(src)
	require.NoError(t, err)

	want, err := RenderHTML(src)
	require.NoError(t, err)
	assert.Equal(t, want, html)
	assert.Equal(t, ParseDocument(src), doc)
}
