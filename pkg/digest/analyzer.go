package digest

import (
	"slices"
	"strings"
)

// Metadata list slot positions written by the generator.
const (
	slotAuthor = iota
	slotCreated
	slotMerged
	slotLabels
	metadataSlotCount
)

const backgroundColorKey = "background-color"

// AnalysisResult is the categorization recovered from one digest document.
// It is built once by Analyze and is read-only afterwards.
type AnalysisResult struct {
	totalEntryCount   int
	botEntryCount     int
	labelToHeadings   map[string][]*Heading
	labelToColor      map[string]string
	labelOrder        []string
	communityHeadings []*Heading
	botHeadings       []*Heading
}

// LabelGroup is one label with the entries carrying it.
type LabelGroup struct {
	Name     string
	Color    string
	HasColor bool
	Headings []*Heading
}

// TotalEntryCount is the number of table-of-contents items, linked or not.
func (r *AnalysisResult) TotalEntryCount() int { return r.totalEntryCount }

// BotEntryCount is the number of tracked entries classified as bot-authored.
func (r *AnalysisResult) BotEntryCount() int { return r.botEntryCount }

// LabelCount is the number of distinct labels.
func (r *AnalysisResult) LabelCount() int { return len(r.labelToHeadings) }

// CommunityHeadings returns the community entries in document order.
func (r *AnalysisResult) CommunityHeadings() []*Heading { return slices.Clone(r.communityHeadings) }

// BotHeadings returns the bot entries in document order.
func (r *AnalysisResult) BotHeadings() []*Heading { return slices.Clone(r.botHeadings) }

// Labels returns label names in first-seen document order.
func (r *AnalysisResult) Labels() []string { return slices.Clone(r.labelOrder) }

// HeadingsForLabel returns the entries carrying label, in document order.
func (r *AnalysisResult) HeadingsForLabel(label string) []*Heading {
	return slices.Clone(r.labelToHeadings[label])
}

// LabelColor returns the first color recorded for label.
func (r *AnalysisResult) LabelColor(label string) (string, bool) {
	c, ok := r.labelToColor[label]
	return c, ok
}

// LabelColors returns a copy of the label to color map.
func (r *AnalysisResult) LabelColors() map[string]string {
	out := make(map[string]string, len(r.labelToColor))
	for k, v := range r.labelToColor {
		out[k] = v
	}
	return out
}

// LabelsBySize returns every label group ordered by descending entry count.
// Equal counts keep first-seen order.
func (r *AnalysisResult) LabelsBySize() []LabelGroup {
	groups := make([]LabelGroup, 0, len(r.labelOrder))
	for _, name := range r.labelOrder {
		color, ok := r.labelToColor[name]
		groups = append(groups, LabelGroup{
			Name:     name,
			Color:    color,
			HasColor: ok,
			Headings: slices.Clone(r.labelToHeadings[name]),
		})
	}
	slices.SortStableFunc(groups, func(a, b LabelGroup) int {
		return len(b.Headings) - len(a.Headings)
	})
	return groups
}

// Analyzer re-reads generated digest documents.
type Analyzer struct {
	conv Conventions
}

// NewAnalyzer returns an Analyzer for documents written with conv.
func NewAnalyzer(conv Conventions) *Analyzer {
	return &Analyzer{conv: conv}
}

// Analyze uses the default generator conventions.
func Analyze(doc Document) *AnalysisResult {
	return NewAnalyzer(DefaultConventions()).Analyze(doc)
}

// scanState is the intermediate state of one Analyze call.
type scanState struct {
	tocSeen      bool
	knownTargets map[string]struct{}
	// pending is the tracked heading still waiting for its metadata list.
	pending *Heading
}

// Analyze scans doc once, in order, and returns the recovered classification.
// It never fails: malformed or partial input degrades to empty contributions.
func (a *Analyzer) Analyze(doc Document) *AnalysisResult {
	res := &AnalysisResult{
		labelToHeadings: make(map[string][]*Heading),
		labelToColor:    make(map[string]string),
	}
	st := &scanState{knownTargets: make(map[string]struct{})}

	for _, block := range doc {
		switch b := block.(type) {
		case *Heading:
			if b != nil && st.tocSeen {
				a.trackHeading(st, b)
			}
		case *List:
			switch {
			case b == nil:
			case !st.tocSeen:
				a.readTOC(st, res, b)
			case st.pending != nil:
				a.readMetadata(res, st.pending, b)
				st.pending = nil
			}
		}
	}
	return res
}

// readTOC consumes the table of contents.
func (a *Analyzer) readTOC(st *scanState, res *AnalysisResult, list *List) {
	for _, item := range list.Items {
		if item == nil {
			continue
		}
		res.totalEntryCount++
		if link := firstLink(item.Inlines); link != nil {
			st.knownTargets[strings.TrimSpace(link.Target)] = struct{}{}
		}
	}
	st.tocSeen = true
}

// trackHeading marks h as pending when its link text names a TOC target.
// A miss leaves any earlier pending heading in place.
func (a *Analyzer) trackHeading(st *scanState, h *Heading) {
	link := firstLink(h.Inlines)
	if link == nil {
		return
	}
	lit, ok := firstLiteralChild(link)
	if !ok {
		return
	}
	if _, known := st.knownTargets[lit.Text]; known {
		st.pending = h
	}
}

// readMetadata decodes the author and labels slots for h.
func (a *Analyzer) readMetadata(res *AnalysisResult, h *Heading, list *List) {
	slots := metadataSlots(list.Items)

	if author, ok := slots.author(); ok && a.conv.isBotAuthor(author) {
		res.botHeadings = append(res.botHeadings, h)
		res.botEntryCount++
	} else {
		res.communityHeadings = append(res.communityHeadings, h)
	}

	labels, ok := slots.at(slotLabels)
	if !ok {
		return
	}
	for _, lit := range literals(labels.Inlines) {
		if a.conv.isLabelCaption(lit.Text) {
			continue
		}
		name := strings.TrimSpace(lit.Text)
		if _, seen := res.labelToHeadings[name]; !seen {
			res.labelOrder = append(res.labelOrder, name)
		}
		res.labelToHeadings[name] = append(res.labelToHeadings[name], h)
	}
	a.readColors(res, labels.Inlines)
}

// readColors attributes each background-color span to the next literal
// sibling. The first color seen for a label is kept.
func (a *Analyzer) readColors(res *AnalysisResult, nodes []Inline) {
	for i, n := range nodes {
		span, ok := n.(*HTMLSpan)
		if !ok {
			if kids := children(n); len(kids) > 0 {
				a.readColors(res, kids)
			}
			continue
		}
		color, ok := backgroundColor(span.Raw)
		if !ok {
			continue
		}
		name, ok := nextLiteral(nodes[i+1:])
		if !ok || a.conv.isLabelCaption(name) {
			continue
		}
		if _, exists := res.labelToColor[name]; !exists {
			res.labelToColor[name] = color
		}
	}
}

// nextLiteral returns the trimmed text of the first Literal in siblings.
func nextLiteral(siblings []Inline) (string, bool) {
	for _, s := range siblings {
		if lit, ok := s.(*Literal); ok {
			return strings.TrimSpace(lit.Text), true
		}
	}
	return "", false
}

// backgroundColor extracts the value of a background-color declaration from a
// raw HTML tag.
func backgroundColor(raw string) (string, bool) {
	idx := strings.Index(raw, backgroundColorKey)
	if idx < 0 {
		return "", false
	}
	rest := raw[idx+len(backgroundColorKey):]
	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		return "", false
	}
	rest = rest[colon+1:]
	end := strings.IndexByte(rest, ';')
	if end < 0 {
		end = strings.IndexAny(rest, "\"'>")
	}
	if end >= 0 {
		rest = rest[:end]
	}
	color := strings.TrimSpace(rest)
	return color, color != ""
}

// metadataSlots gives length-checked access to the positional metadata list.
type metadataSlots []*ListItem

func (s metadataSlots) at(i int) (*ListItem, bool) {
	if i < 0 || i >= len(s) || i >= metadataSlotCount || s[i] == nil {
		return nil, false
	}
	return s[i], true
}

// author returns the second literal of the author slot; the first one is the
// generator's caption.
func (s metadataSlots) author() (string, bool) {
	item, ok := s.at(slotAuthor)
	if !ok {
		return "", false
	}
	lits := literals(item.Inlines)
	if len(lits) < 2 {
		return "", false
	}
	return lits[1].Text, true
}
