package site

import (
	"time"

	"github.com/prdigest/pr-digest/pkg/digest"
	"github.com/prdigest/pr-digest/pkg/models"
)

// EntryView is one navigable digest entry. DisplayText is HTML-escaped.
type EntryView struct {
	AnchorID    string `json:"anchor_id" yaml:"anchor_id"`
	DisplayText string `json:"display_text" yaml:"display_text"`
}

// LabelGroupView lists the entries carrying one label.
type LabelGroupView struct {
	Name    string      `json:"name" yaml:"name"`
	Color   string      `json:"color,omitempty" yaml:"color,omitempty"`
	Entries []EntryView `json:"entries" yaml:"entries"`
}

// AnalysisView is the serializable form of one analyzed digest.
type AnalysisView struct {
	Stats       models.DigestStats `json:"stats" yaml:"stats"`
	Community   []EntryView        `json:"community" yaml:"community"`
	Bot         []EntryView        `json:"bot" yaml:"bot"`
	LabelGroups []LabelGroupView   `json:"label_groups" yaml:"label_groups"`
}

// ViewOf builds the serializable analysis of d.
func ViewOf(d Digest, res *digest.AnalysisResult, generatedAt time.Time) AnalysisView {
	v := AnalysisView{
		Stats:       StatsFor(d, res, generatedAt),
		Community:   entryViews(res.CommunityHeadings()),
		Bot:         entryViews(res.BotHeadings()),
		LabelGroups: LabelGroupViews(res),
	}
	return v
}

// LabelGroupViews returns the label groups of res, largest first.
func LabelGroupViews(res *digest.AnalysisResult) []LabelGroupView {
	groups := res.LabelsBySize()
	out := make([]LabelGroupView, 0, len(groups))
	for _, g := range groups {
		out = append(out, LabelGroupView{Name: g.Name, Color: g.Color, Entries: entryViews(g.Headings)})
	}
	return out
}

func entryViews(headings []*digest.Heading) []EntryView {
	out := make([]EntryView, 0, len(headings))
	for _, h := range headings {
		e := digest.ExtractHeading(h)
		out = append(out, EntryView{AnchorID: e.AnchorID, DisplayText: e.DisplayText})
	}
	return out
}
