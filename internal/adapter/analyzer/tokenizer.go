package analyzer

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenizerVersion identifies the tokenization scheme. Chunk token counts
// and hash embeddings are only comparable between identical versions.
const TokenizerVersion = "wordpunct-v1"

// Token is a byte span [Start, End) into the text it was read from.
type Token struct {
	Start int
	End   int
}

// Tokenizer splits text into word and punctuation tokens.
// A word is a maximal run of letters, digits and underscores; every other
// non-space rune is a token on its own. Whitespace separates tokens and is
// recovered by Decode from the source text.
type Tokenizer struct{}

// NewTokenizer creates a new Tokenizer.
func NewTokenizer() *Tokenizer {
	return &Tokenizer{}
}

// Version returns the tokenization scheme identifier.
func (t *Tokenizer) Version() string {
	return TokenizerVersion
}

// Encode returns the token spans of text in order.
func (t *Tokenizer) Encode(text string) []Token {
	var tokens []Token
	start := -1

	// An invalid byte decodes as RuneError with width 1, so spans always
	// stay inside text.
	for i := 0; i < len(text); {
		r, width := utf8.DecodeRuneInString(text[i:])
		next := i + width
		if isWordRune(r) {
			if start < 0 {
				start = i
			}
			i = next
			continue
		}
		if start >= 0 {
			tokens = append(tokens, Token{Start: start, End: i})
			start = -1
		}
		if !unicode.IsSpace(r) {
			tokens = append(tokens, Token{Start: i, End: next})
		}
		i = next
	}
	if start >= 0 {
		tokens = append(tokens, Token{Start: start, End: len(text)})
	}

	return tokens
}

// Decode returns the slice of text covered by tokens, including the
// whitespace between them.
func (t *Tokenizer) Decode(text string, tokens []Token) string {
	if len(tokens) == 0 {
		return ""
	}
	return text[tokens[0].Start:tokens[len(tokens)-1].End]
}

// Count returns the number of tokens in text.
func (t *Tokenizer) Count(text string) int {
	return len(t.Encode(text))
}

// Terms returns the lowercased token strings of text.
func (t *Tokenizer) Terms(text string) []string {
	tokens := t.Encode(text)
	terms := make([]string, len(tokens))
	for i, tok := range tokens {
		terms[i] = strings.ToLower(text[tok.Start:tok.End])
	}
	return terms
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}
