package render

import (
	"fmt"
	"html"
	"strings"

	"github.com/prdigest/pr-digest/pkg/digest"
)

// labelChipStyle matches the span style the markdown writer puts on label names.
const labelChipStyle = "color: #000000; display: inline-block; padding: 0 7px; font-size: 12px; font-weight: 500; line-height: 18px; border-radius: 2em; border: 1px solid transparent;"

// Stats is the summary shown in the index stats grid.
type Stats struct {
	TotalEntries int
	BotEntries   int
	LabelCount   int
}

// StatsOf reads the headline numbers from an analysis.
func StatsOf(res *digest.AnalysisResult) Stats {
	return Stats{
		TotalEntries: res.TotalEntryCount(),
		BotEntries:   res.BotEntryCount(),
		LabelCount:   res.LabelCount(),
	}
}

// CategorizedView renders the Community/Bot grouping of a digest.
func CategorizedView(res *digest.AnalysisResult) string {
	var b strings.Builder
	b.WriteString("<h3>カテゴリ別PR一覧</h3>\n")
	writeGroup(&b, "Community PRs", res.CommunityHeadings())
	writeGroup(&b, "Bot PRs", res.BotHeadings())
	return b.String()
}

// LabelView renders one collapsible group per label, largest first.
func LabelView(res *digest.AnalysisResult) string {
	if res.LabelCount() == 0 {
		return "<p>ラベル情報がありません。</p>"
	}

	var b strings.Builder
	b.WriteString("<h3>ラベル別PR一覧</h3>\n")
	for _, g := range res.LabelsBySize() {
		style := ""
		if g.HasColor {
			style = fmt.Sprintf(` style="background-color: %s; %s"`, html.EscapeString(g.Color), labelChipStyle)
		}
		b.WriteString("<details class=\"label-group\">\n")
		fmt.Fprintf(&b, "  <summary class=\"label-group-summary\"><span%s>%s</span> <span class=\"label-pr-count\">(%d PRs)</span></summary>\n",
			style, html.EscapeString(g.Name), len(g.Headings))
		writeItems(&b, g.Headings)
		b.WriteString("</details>\n")
	}
	return b.String()
}

func writeGroup(b *strings.Builder, caption string, headings []*digest.Heading) {
	b.WriteString("<details class=\"label-group\">\n")
	fmt.Fprintf(b, "  <summary class=\"label-group-summary\">%s <span class=\"label-pr-count\">(%d PRs)</span></summary>\n", caption, len(headings))
	writeItems(b, headings)
	b.WriteString("</details>\n")
}

func writeItems(b *strings.Builder, headings []*digest.Heading) {
	b.WriteString("  <ol class=\"label-pr-list\">\n")
	for _, h := range headings {
		e := digest.ExtractHeading(h)
		// DisplayText is already escaped
		fmt.Fprintf(b, "    <li><a href=\"#%s\">%s</a></li>\n", html.EscapeString(e.AnchorID), e.DisplayText)
	}
	b.WriteString("  </ol>\n")
}
