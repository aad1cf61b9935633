// Package tokenizer estimates token counts using tiktoken encodings.
// The selection engine uses these estimates for expected-volume inference
// and per-candidate cost projection; exact billing counts come from
// provider responses.
package tokenizer

import (
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"github.com/tidegate/cascade/internal/provider"
)

// Tokenizer provides token counting using tiktoken encodings.
// Encodings are cached via sync.Once to avoid repeated initialization.
type Tokenizer struct {
	cl100kOnce sync.Once
	cl100kEnc  *tiktoken.Tiktoken
	cl100kErr  error

	o200kOnce sync.Once
	o200kEnc  *tiktoken.Tiktoken
	o200kErr  error
}

// modelEncodings maps model name prefixes to their tiktoken encoding.
var modelEncodings = map[string]string{
	"claude":      "cl100k_base",
	"gpt-4":       "cl100k_base",
	"gpt-4-turbo": "cl100k_base",
	"gpt-4o":      "o200k_base",
	"gpt-4o-mini": "o200k_base",
	"llama":       "cl100k_base",
	"mistral":     "cl100k_base",
	"gemini":      "cl100k_base",
}

// New creates a new Tokenizer instance.
func New() *Tokenizer {
	return &Tokenizer{}
}

// GetEncoding returns the encoding name for the given model. The longest
// matching prefix wins; unknown models default to cl100k_base.
func (t *Tokenizer) GetEncoding(model string) string {
	lower := strings.ToLower(model)
	best := ""
	enc := "cl100k_base"
	for prefix, e := range modelEncodings {
		if strings.HasPrefix(lower, prefix) && len(prefix) > len(best) {
			best = prefix
			enc = e
		}
	}
	return enc
}

// getEncoder returns the cached tiktoken encoder for the given model.
func (t *Tokenizer) getEncoder(model string) (*tiktoken.Tiktoken, error) {
	switch t.GetEncoding(model) {
	case "o200k_base":
		t.o200kOnce.Do(func() {
			t.o200kEnc, t.o200kErr = tiktoken.GetEncoding("o200k_base")
		})
		return t.o200kEnc, t.o200kErr
	default:
		t.cl100kOnce.Do(func() {
			t.cl100kEnc, t.cl100kErr = tiktoken.GetEncoding("cl100k_base")
		})
		return t.cl100kEnc, t.cl100kErr
	}
}

// CountTokens counts the number of tokens in the given text for the
// specified model.
func (t *Tokenizer) CountTokens(model, text string) int {
	enc, err := t.getEncoder(model)
	if err != nil {
		return 0
	}
	return len(enc.Encode(text, nil, nil))
}

// CountMessages counts the total tokens across the request's chat messages
// for the specified model. Each message incurs a 4-token overhead (role
// framing) and 3 tokens are added for reply priming, matching the OpenAI
// reference counting.
func (t *Tokenizer) CountMessages(model string, messages []provider.Message) int {
	enc, err := t.getEncoder(model)
	if err != nil {
		return 0
	}

	total := 0
	for _, msg := range messages {
		total += 4
		total += len(enc.Encode(msg.Role, nil, nil))
		total += len(enc.Encode(msg.Content, nil, nil))
	}
	total += 3

	return total
}
