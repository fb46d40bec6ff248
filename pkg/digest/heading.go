package digest

import (
	"html"
	"strings"
)

// HeadingEntry is the navigable form of an entry heading.
type HeadingEntry struct {
	// AnchorID is the entry number without its leading '#'.
	AnchorID string
	// DisplayText is "<number> <title>", HTML-escaped.
	DisplayText string
}

// ExtractHeading recovers the anchor and display title of an entry heading
// written as `[#<id>](<url>) <title>`. It never fails: a missing number gives
// an empty anchor, missing title content gives an empty title.
func ExtractHeading(h *Heading) HeadingEntry {
	if h == nil {
		return HeadingEntry{DisplayText: " "}
	}

	var number string
	var title strings.Builder

	for i, n := range h.Inlines {
		switch v := n.(type) {
		case *Link:
			if lit, ok := firstLiteralChild(v); ok {
				number = lit.Text
			}
		case *Literal:
			title.WriteString(v.Text)
			if i+1 < len(h.Inlines) {
				if delim, ok := h.Inlines[i+1].(*Delimiter); ok {
					title.WriteString(delim.Marker)
					for _, lit := range literals(delim.Children) {
						title.WriteString(lit.Text)
					}
				}
			}
		case *Code:
			title.WriteString(v.Text)
		}
	}

	return HeadingEntry{
		AnchorID:    strings.TrimPrefix(number, "#"),
		DisplayText: html.EscapeString(number + " " + strings.TrimSpace(title.String())),
	}
}
