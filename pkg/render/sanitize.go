package render

import (
	"regexp"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policyOnce sync.Once
	policy     *bluemonday.Policy
)

// contentPolicy returns the policy applied to model-written markdown after rendering.
// It starts from UGCPolicy and adds what digests rely on: label span styles,
// heading anchors and code language classes.
func contentPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		p := bluemonday.UGCPolicy()
		p.AllowStyles(
			"background-color", "color", "display", "padding", "font-size",
			"font-weight", "line-height", "border-radius", "border", "white-space", "cursor",
		).OnElements("span")
		p.AllowAttrs("id").Matching(regexp.MustCompile(`^[\p{L}\p{N}_\-.:]+$`)).
			OnElements("h1", "h2", "h3", "h4", "h5", "h6")
		p.AllowAttrs("class").Matching(regexp.MustCompile(`^language-[\w+\-]+$`)).OnElements("code")
		p.AllowElements("details", "summary")
		p.AddTargetBlankToFullyQualifiedLinks(true)
		policy = p
	})
	return policy
}

// Sanitize strips unsafe markup from a rendered HTML fragment.
func Sanitize(fragment string) string {
	return contentPolicy().Sanitize(fragment)
}
