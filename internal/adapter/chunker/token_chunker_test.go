package chunker

import (
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"ragweb/internal/adapter/analyzer"
)

func TestTokenChunkerHelloWorld(t *testing.T) {
	tokenizer := analyzer.NewTokenizer()
	chunker, err := NewTokenChunker(3, 1, tokenizer)
	if err != nil {
		t.Fatal(err)
	}

	passages, err := chunker.Chunk("hello world, hello world")
	if err != nil {
		t.Fatal(err)
	}

	if len(passages) != 2 {
		t.Fatalf("expected 2 passages, got %d: %+v", len(passages), passages)
	}
	if passages[0].Text != "hello world," || passages[0].TokenCount != 3 {
		t.Errorf("unexpected first passage: %+v", passages[0])
	}
	if passages[1].Text != ", hello world" || passages[1].TokenCount != 3 {
		t.Errorf("unexpected second passage: %+v", passages[1])
	}
}

func TestTokenChunkerShortText(t *testing.T) {
	tokenizer := analyzer.NewTokenizer()
	chunker, err := NewTokenChunker(50, 10, tokenizer)
	if err != nil {
		t.Fatal(err)
	}

	passages, err := chunker.Chunk("A short page about Go.")
	if err != nil {
		t.Fatal(err)
	}
	if len(passages) != 1 {
		t.Fatalf("expected exactly one passage, got %d", len(passages))
	}
	if passages[0].Text != "A short page about Go." {
		t.Errorf("unexpected text: %q", passages[0].Text)
	}
	if passages[0].TokenCount != 6 {
		t.Errorf("expected 6 tokens, got %d", passages[0].TokenCount)
	}
}

func TestTokenChunkerEmpty(t *testing.T) {
	chunker, err := NewTokenChunker(10, 2, analyzer.NewTokenizer())
	if err != nil {
		t.Fatal(err)
	}

	for _, text := range []string{"", "   \n\t "} {
		passages, err := chunker.Chunk(text)
		if err != nil {
			t.Fatal(err)
		}
		if len(passages) != 0 {
			t.Errorf("expected no passages for %q, got %d", text, len(passages))
		}
	}
}

func TestTokenChunkerRejectsBadOverlap(t *testing.T) {
	tokenizer := analyzer.NewTokenizer()

	cases := []struct {
		max, overlap int
	}{
		{10, 10},
		{10, 11},
		{10, -1},
		{0, 0},
	}
	for _, c := range cases {
		if _, err := NewTokenChunker(c.max, c.overlap, tokenizer); err == nil {
			t.Errorf("expected error for max=%d overlap=%d", c.max, c.overlap)
		}
	}
}

func TestTokenChunkerCoverageAndOverlap(t *testing.T) {
	tokenizer := analyzer.NewTokenizer()
	rng := rand.New(rand.NewSource(42))
	vocab := []string{"alpha", "beta", "gamma", ",", ".", "delta", "epsilon", "42", "zeta!"}

	for iter := 0; iter < 50; iter++ {
		words := make([]string, 1+rng.Intn(200))
		for i := range words {
			words[i] = vocab[rng.Intn(len(vocab))]
		}
		text := strings.Join(words, " ")

		maxTokens := 1 + rng.Intn(20)
		overlap := rng.Intn(maxTokens)

		chunker, err := NewTokenChunker(maxTokens, overlap, tokenizer)
		if err != nil {
			t.Fatal(err)
		}
		passages, err := chunker.Chunk(text)
		if err != nil {
			t.Fatal(err)
		}

		all := tokenizer.Terms(text)
		var rebuilt []string
		for i, p := range passages {
			terms := tokenizer.Terms(p.Text)
			if len(terms) != p.TokenCount {
				t.Fatalf("passage %d: token count %d, re-tokenized %d", i, p.TokenCount, len(terms))
			}
			if p.TokenCount > maxTokens {
				t.Fatalf("passage %d exceeds max tokens: %d > %d", i, p.TokenCount, maxTokens)
			}
			if i == 0 {
				rebuilt = append(rebuilt, terms...)
				continue
			}
			prev := tokenizer.Terms(passages[i-1].Text)
			if !reflect.DeepEqual(prev[len(prev)-overlap:], terms[:overlap]) {
				t.Fatalf("passages %d and %d do not overlap by %d tokens", i-1, i, overlap)
			}
			rebuilt = append(rebuilt, terms[overlap:]...)
		}

		if !reflect.DeepEqual(all, rebuilt) {
			t.Fatalf("passages do not reconstruct the token sequence (max=%d overlap=%d)", maxTokens, overlap)
		}
	}
}
