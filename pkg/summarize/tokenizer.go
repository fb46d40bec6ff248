package summarize

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// Tokenizer counts tokens with a tiktoken encoding.
// Claude's tokenizer is not public; cl100k_base is a close enough approximation for budgeting.
type Tokenizer struct {
	codec    tokenizer.Codec
	encoding string
}

// NewTokenizer loads the named encoding. Empty selects cl100k_base.
func NewTokenizer(encoding string) (*Tokenizer, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}

	var enc tokenizer.Encoding
	switch encoding {
	case "cl100k_base":
		enc = tokenizer.Cl100kBase
	case "p50k_base":
		enc = tokenizer.P50kBase
	case "p50k_edit":
		enc = tokenizer.P50kEdit
	case "r50k_base":
		enc = tokenizer.R50kBase
	case "o200k_base":
		enc = tokenizer.O200kBase
	default:
		return nil, fmt.Errorf("unknown token encoding %q", encoding)
	}

	codec, err := tokenizer.Get(enc)
	if err != nil {
		return nil, fmt.Errorf("loading token encoding %q: %w", encoding, err)
	}
	return &Tokenizer{codec: codec, encoding: encoding}, nil
}

// Encoding returns the name of the loaded encoding.
func (t *Tokenizer) Encoding() string {
	return t.encoding
}

// Count returns the token count of text.
// Returns -1 for a nil tokenizer or when encoding fails, so callers can
// tell "not available" from a real zero count.
func (t *Tokenizer) Count(text string) int {
	if t == nil || t.codec == nil {
		return -1
	}
	ids, _, err := t.codec.Encode(text)
	if err != nil {
		return -1
	}
	return len(ids)
}
