package summarize

import (
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"
)

// TruncatedMarker is appended to text cut down by a Budget.
const TruncatedMarker = "\n\n(以下省略)"

// Budget caps the size of free-form prompt text such as PR descriptions.
type Budget struct {
	tok       *Tokenizer
	maxTokens int
}

// NewBudget returns a budget of maxTokens measured with tok.
// A nil tokenizer falls back to counting runes.
func NewBudget(tok *Tokenizer, maxTokens int) *Budget {
	return &Budget{tok: tok, maxTokens: maxTokens}
}

func (b *Budget) length(s string) int {
	if n := b.tok.Count(s); n >= 0 {
		return n
	}
	return utf8.RuneCountInString(s)
}

// Fit returns text unchanged when it is within budget. Otherwise it keeps the
// first chunk of a recursive split on paragraph, line and word boundaries and
// appends TruncatedMarker. The second result reports whether text was cut.
func (b *Budget) Fit(text string) (string, bool, error) {
	if b == nil || b.maxTokens <= 0 || b.length(text) <= b.maxTokens {
		return text, false, nil
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(b.maxTokens),
		textsplitter.WithChunkOverlap(0),
		textsplitter.WithLenFunc(b.length),
	)
	parts, err := splitter.SplitText(text)
	if err != nil {
		return "", false, err
	}
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			return strings.TrimRight(p, " \t\r\n") + TruncatedMarker, true, nil
		}
	}
	return TruncatedMarker, true, nil
}
