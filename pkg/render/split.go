package render

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// SplitContent separates a rendered digest into the table of contents
// (everything up to and including the first top-level <ol>) and the entry
// details (from the first <hr> after it). Without a list the whole content is
// returned as the table of contents.
func SplitContent(fragment string) (toc, details string, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return "", "", err
	}

	nodes := doc.Find("body").Contents().Nodes
	olIdx := -1
	for i, n := range nodes {
		if n.Type == html.ElementNode && n.Data == "ol" {
			olIdx = i
			break
		}
	}
	if olIdx < 0 {
		return fragment, "", nil
	}

	start := olIdx + 1
	for i := olIdx + 1; i < len(nodes); i++ {
		if nodes[i].Type == html.ElementNode && nodes[i].Data == "hr" {
			start = i
			break
		}
	}

	if toc, err = renderNodes(nodes[:olIdx+1]); err != nil {
		return "", "", err
	}
	if details, err = renderNodes(nodes[start:]); err != nil {
		return "", "", err
	}
	return toc, details, nil
}

func renderNodes(nodes []*html.Node) (string, error) {
	var b strings.Builder
	for _, n := range nodes {
		if err := html.Render(&b, n); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}
