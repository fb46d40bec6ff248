package digest

import "strings"

// Conventions is the fixed phrasing the digest generator writes and the
// analyzer relies on when it re-reads a document.
type Conventions struct {
	TOCCaption     string
	TOCAnchor      string
	AuthorCaption  string
	CreatedCaption string
	MergedCaption  string
	LabelCaption   string
	NoLabelCaption string
	BotSuffix      string
	CopilotMarker  string
	TimeLayout     string
}

// DefaultConventions returns the phrasing used by the published digests.
func DefaultConventions() Conventions {
	return Conventions{
		TOCCaption:     "目次",
		TOCAnchor:      "table-of-contents",
		AuthorCaption:  "作成者",
		CreatedCaption: "作成日時",
		MergedCaption:  "マージ日時",
		LabelCaption:   "ラベル",
		NoLabelCaption: "指定なし",
		BotSuffix:      "[bot]",
		CopilotMarker:  "@Copilot",
		TimeLayout:     "2006年01月02日 15:04:05",
	}
}

// isLabelCaption reports whether a literal in the labels slot is generator
// phrasing rather than a label name. The caption literal usually carries the
// column name and colon ("ラベル: "), or the whole "no labels" line.
func (c Conventions) isLabelCaption(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return true
	}
	if c.LabelCaption != "" && strings.HasPrefix(t, c.LabelCaption) {
		rest := strings.TrimSpace(strings.TrimPrefix(t, c.LabelCaption))
		rest = strings.TrimSpace(strings.TrimLeft(rest, ":："))
		return rest == "" || rest == c.NoLabelCaption
	}
	return c.NoLabelCaption != "" && t == c.NoLabelCaption
}

// isBotAuthor classifies an author token. Matching is case-insensitive; the
// Copilot marker may appear anywhere in the text.
func (c Conventions) isBotAuthor(author string) bool {
	lower := strings.ToLower(strings.TrimSpace(author))
	if c.BotSuffix != "" && strings.HasSuffix(lower, strings.ToLower(c.BotSuffix)) {
		return true
	}
	return c.CopilotMarker != "" && strings.Contains(lower, strings.ToLower(c.CopilotMarker))
}
