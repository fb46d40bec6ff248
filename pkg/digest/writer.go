package digest

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/prdigest/pr-digest/pkg/models"
)

const (
	separator = "\n---\n"

	labelSpanStyle = "color: #000000; display: inline-block; padding: 0 7px; font-size:12px; font-weight:500; " +
		"line-height:18px; border-radius:2em; border:1px solid transparent; white-space:nowrap; cursor:default;"
)

// WriteMarkdown writes the digest document for entries in the layout Analyze
// reads back: a table of contents, then one section per entry with its 4-item
// metadata list and summary.
func WriteMarkdown(w io.Writer, entries []models.DigestEntry, conv Conventions) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "### %s {#%s}\n", conv.TOCCaption, conv.TOCAnchor)
	for i, e := range entries {
		fmt.Fprintf(bw, "%d. [#%d %s](#%d)\n", i+1, e.Number, EscapeTitle(e.Title), e.Number)
	}
	bw.WriteString(separator)

	for _, e := range entries {
		fmt.Fprintf(bw, "### [#%d](%s) %s {#%d}\n", e.Number, e.URL, EscapeTitle(e.Title), e.Number)
		fmt.Fprintf(bw, "- %s: [@%s](%s)\n", conv.AuthorCaption, e.Author, e.AuthorURL)
		fmt.Fprintf(bw, "- %s: %s(UTC)\n", conv.CreatedCaption, e.CreatedAt.UTC().Format(conv.TimeLayout))
		fmt.Fprintf(bw, "- %s: %s(UTC)\n", conv.MergedCaption, e.MergedAt.UTC().Format(conv.TimeLayout))
		fmt.Fprintf(bw, "- %s: %s\n\n", conv.LabelCaption, labelText(e.Labels, conv))
		bw.WriteString(strings.TrimSpace(e.Summary))
		bw.WriteString("\n")
		bw.WriteString(separator)
	}

	return bw.Flush()
}

func labelText(labels []models.Label, conv Conventions) string {
	if len(labels) == 0 {
		return conv.NoLabelCaption
	}
	spans := make([]string, 0, len(labels))
	for _, l := range labels {
		color := strings.TrimPrefix(l.Color, "#")
		spans = append(spans, fmt.Sprintf(`<span style="background-color: #%s; %s">%s</span>`, color, labelSpanStyle, EscapeTitle(l.Name)))
	}
	return strings.Join(spans, " ")
}

// EscapeTitle backslash-escapes every ASCII punctuation character so a title
// or label name reads back verbatim from a heading, link text or label span.
func EscapeTitle(title string) string {
	if !strings.ContainsAny(title, markdownPunct) {
		return title
	}
	var b strings.Builder
	b.Grow(len(title) + 8)
	for _, r := range title {
		if strings.ContainsRune(markdownPunct, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// markdownPunct is the set CommonMark allows after a backslash escape.
const markdownPunct = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"
