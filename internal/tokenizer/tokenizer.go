package tokenizer

import "errors"

var (
	// ErrUnsupportedModel is returned for tokenizer.json files whose model is not BPE.
	ErrUnsupportedModel = errors.New("tokenizer: unsupported model")
	// ErrUnknownToken is returned when a piece has no vocabulary entry and
	// neither an unk token nor byte fallback is configured.
	ErrUnknownToken = errors.New("tokenizer: unknown token")
)

// Tokenizer defines the minimal interface used by the CLI.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
}

// Encoding is the result of encoding a single text segment.
type Encoding struct {
	IDs           []int
	Tokens        []string
	AttentionMask []int
}

// Len returns the number of tokens in the encoding.
func (e Encoding) Len() int { return len(e.IDs) }

// Flavor identifies how raw text is mapped onto BPE symbols.
type Flavor string

const (
	// ByteLevel maps every byte to a printable rune before BPE (GPT-2, Llama 3).
	ByteLevel Flavor = "byte-level"
	// SentencePiece replaces spaces with U+2581 and falls back to <0xNN> byte
	// tokens for unknown characters (Llama 2, Mistral, Phi-3).
	SentencePiece Flavor = "sentencepiece"
)

// Summary describes a loaded tokenizer for diagnostics.
type Summary struct {
	Model        string
	Flavor       Flavor
	VocabSize    int
	Merges       int
	AddedTokens  int
	ByteFallback bool
	Prefix       []int
	Suffix       []int
	UNKTokenID   int
}
