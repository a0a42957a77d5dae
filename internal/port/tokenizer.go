package port

type Tokenizer interface {
	Count(text string) int

	Version() string
}
