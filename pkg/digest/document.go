package digest

// Document is the ordered block sequence of one parsed digest.
// Block order is significant and is never re-sorted.
type Document []Block

// Block is a top-level node of a Document: *Heading or *List.
type Block interface {
	isBlock()
}

// Inline is a node inside a heading or list item:
// *Literal, *Link, *Code, *HTMLSpan or *Delimiter.
type Inline interface {
	isInline()
}

// Heading is a heading block. ID holds an explicit anchor attribute if the
// front end recorded one.
type Heading struct {
	Level   int
	Inlines []Inline
	ID      string
}

// List is an ordered or bullet list block.
type List struct {
	Ordered bool
	Items   []*ListItem
}

// ListItem holds the inline content of one list item. Nested lists are kept
// aside in Lists.
type ListItem struct {
	Inlines []Inline
	Lists   []*List
}

// Literal is plain text.
type Literal struct {
	Text string
}

// Link is an inline link.
type Link struct {
	Target   string
	Children []Inline
}

// Code is an inline code span.
type Code struct {
	Text string
}

// HTMLSpan is a raw inline HTML fragment, e.g. `<span style="...">`.
type HTMLSpan struct {
	Raw string
}

// Delimiter is an unresolved bracket left behind by a front end when a title
// contains escaped punctuation. Marker is its literal rendering ("[", "![").
type Delimiter struct {
	Marker   string
	Children []Inline
}

func (*Heading) isBlock() {}
func (*List) isBlock()    {}

func (*Literal) isInline()   {}
func (*Link) isInline()      {}
func (*Code) isInline()      {}
func (*HTMLSpan) isInline()  {}
func (*Delimiter) isInline() {}

// children returns the nested inlines of container nodes.
func children(n Inline) []Inline {
	switch v := n.(type) {
	case *Link:
		return v.Children
	case *Delimiter:
		return v.Children
	}
	return nil
}

// walkInlines visits nodes depth-first in document order until visit returns false.
func walkInlines(nodes []Inline, visit func(Inline) bool) bool {
	for _, n := range nodes {
		if !visit(n) {
			return false
		}
		if !walkInlines(children(n), visit) {
			return false
		}
	}
	return true
}

// literals returns every Literal descendant of nodes in document order.
func literals(nodes []Inline) []*Literal {
	var out []*Literal
	walkInlines(nodes, func(n Inline) bool {
		if lit, ok := n.(*Literal); ok {
			out = append(out, lit)
		}
		return true
	})
	return out
}

// firstLink returns the first Link descendant of nodes, or nil.
func firstLink(nodes []Inline) *Link {
	var found *Link
	walkInlines(nodes, func(n Inline) bool {
		if link, ok := n.(*Link); ok {
			found = link
			return false
		}
		return true
	})
	return found
}

// firstLiteralChild returns the first direct Literal child of a link.
func firstLiteralChild(link *Link) (*Literal, bool) {
	for _, c := range link.Children {
		if lit, ok := c.(*Literal); ok {
			return lit, true
		}
	}
	return nil, false
}
