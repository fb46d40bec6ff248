package parse

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	emoji "github.com/yuin/goldmark-emoji"
	emojiast "github.com/yuin/goldmark-emoji/ast"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	"github.com/prdigest/pr-digest/pkg/digest"
	"github.com/prdigest/pr-digest/pkg/utils"
)

// NewMarkdown returns the goldmark pipeline used for digests: GFM, emoji
// shortcodes, explicit heading attributes (`{#id}`), auto heading IDs and raw
// HTML pass-through for label spans.
func NewMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			emoji.Emoji,
		),
		goldmark.WithParserOptions(
			parser.WithAttribute(),
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			html.WithUnsafe(),
		),
	)
}

var defaultMarkdown = NewMarkdown()

// ParseDocument parses a generated digest into the block tree read by the analyzer.
// Only top-level headings and lists are kept.
func ParseDocument(src []byte) digest.Document {
	root := defaultMarkdown.Parser().Parse(text.NewReader(src))
	return convert(root, src)
}

// Render parses src once and returns both the analyzer tree and the HTML fragment.
func Render(src []byte) (digest.Document, string, error) {
	root := defaultMarkdown.Parser().Parse(text.NewReader(src))
	var buf bytes.Buffer
	if err := defaultMarkdown.Renderer().Render(&buf, src, root); err != nil {
		return nil, "", fmt.Errorf("%w: rendering markdown: %w", utils.ErrParsing, err)
	}
	return convert(root, src), buf.String(), nil
}

func convert(root ast.Node, src []byte) digest.Document {
	c := converter{src: src}

	var doc digest.Document
	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			doc = append(doc, c.heading(node))
		case *ast.List:
			doc = append(doc, c.list(node))
		}
	}
	return doc
}

// RenderHTML renders markdown to an HTML fragment.
func RenderHTML(src []byte) (string, error) {
	var buf bytes.Buffer
	if err := defaultMarkdown.Convert(src, &buf); err != nil {
		return "", fmt.Errorf("%w: rendering markdown: %w", utils.ErrParsing, err)
	}
	return buf.String(), nil
}

type converter struct {
	src []byte
}

func (c converter) heading(n *ast.Heading) *digest.Heading {
	h := &digest.Heading{Level: n.Level, Inlines: c.inlines(n)}
	if id, ok := n.AttributeString("id"); ok {
		if b, ok := id.([]byte); ok {
			h.ID = string(b)
		}
	}
	return h
}

func (c converter) list(n *ast.List) *digest.List {
	l := &digest.List{Ordered: n.IsOrdered()}
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		li, ok := child.(*ast.ListItem)
		if !ok {
			continue
		}
		item := &digest.ListItem{}
		for b := li.FirstChild(); b != nil; b = b.NextSibling() {
			switch block := b.(type) {
			case *ast.List:
				item.Lists = append(item.Lists, c.list(block))
			case *ast.Paragraph, *ast.TextBlock:
				item.Inlines = append(item.Inlines, c.inlines(block)...)
			}
		}
		l.Items = append(l.Items, item)
	}
	return l
}

// inlines converts the inline children of parent. Adjacent text is merged
// into one Literal so escapes and bracketed names like `@x[bot]` stay whole.
func (c converter) inlines(parent ast.Node) []digest.Inline {
	var out []digest.Inline
	var pending strings.Builder

	flush := func() {
		if pending.Len() > 0 {
			out = append(out, &digest.Literal{Text: string(unescape([]byte(pending.String())))})
			pending.Reset()
		}
	}

	var walk func(ast.Node)
	walk = func(parent ast.Node) {
		for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
			switch node := n.(type) {
			case *ast.Text:
				pending.Write(node.Segment.Value(c.src))
				if (node.SoftLineBreak() || node.HardLineBreak()) && node.NextSibling() != nil {
					pending.WriteByte('\n')
				}
			case *ast.String:
				pending.Write(node.Value)
			case *emojiast.Emoji:
				if node.Value != nil {
					pending.WriteString(string(node.Value.Unicode))
				}
			case *ast.Link:
				flush()
				out = append(out, &digest.Link{Target: string(node.Destination), Children: c.inlines(node)})
			case *ast.AutoLink:
				flush()
				out = append(out, &digest.Link{
					Target:   string(node.URL(c.src)),
					Children: []digest.Inline{&digest.Literal{Text: string(node.Label(c.src))}},
				})
			case *ast.CodeSpan:
				flush()
				out = append(out, &digest.Code{Text: c.rawText(node)})
			case *ast.RawHTML:
				flush()
				var raw bytes.Buffer
				for i := 0; i < node.Segments.Len(); i++ {
					seg := node.Segments.At(i)
					raw.Write(seg.Value(c.src))
				}
				out = append(out, &digest.HTMLSpan{Raw: raw.String()})
			default:
				// emphasis, strikethrough and similar wrappers
				walk(node)
			}
		}
	}

	walk(parent)
	flush()
	return out
}

func (c converter) rawText(n ast.Node) string {
	var buf bytes.Buffer
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		switch t := child.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(c.src))
		case *ast.String:
			buf.Write(t.Value)
		}
	}
	return buf.String()
}

// unescape resolves backslash escapes and character references in one pass,
// so an escaped '&' never starts an entity.
func unescape(b []byte) []byte {
	if bytes.IndexByte(b, '\\') < 0 && bytes.IndexByte(b, '&') < 0 {
		return b
	}
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		switch c := b[i]; {
		case c == '\\' && i+1 < len(b) && util.IsPunct(b[i+1]):
			out = append(out, b[i+1])
			i++
		case c == '&':
			if ref, n := charRef(b[i:]); n > 0 {
				out = append(out, ref...)
				i += n - 1
				continue
			}
			out = append(out, c)
		default:
			out = append(out, c)
		}
	}
	return out
}

// charRef decodes a numeric or named character reference at the start of b
// and returns the bytes it stands for with the length consumed.
func charRef(b []byte) ([]byte, int) {
	end := bytes.IndexByte(b, ';')
	if end < 2 || end > 33 {
		return nil, 0
	}
	name := string(b[1:end])
	if name[0] == '#' {
		digits, base := name[1:], 10
		if len(digits) > 0 && (digits[0] == 'x' || digits[0] == 'X') {
			digits, base = digits[1:], 16
		}
		if len(digits) == 0 || len(digits) > 7 {
			return nil, 0
		}
		v, err := strconv.ParseUint(digits, base, 32)
		if err != nil {
			return nil, 0
		}
		return utf8.AppendRune(nil, util.ToValidRune(rune(v))), end + 1
	}
	if e, ok := util.LookUpHTML5EntityByName(name); ok {
		return e.Characters, end + 1
	}
	return nil, 0
}
