package inference

import (
	"errors"
	"fmt"

	"github.com/triandco/nexttoken/internal/kvcache"
	"github.com/triandco/nexttoken/internal/onnx"
	"github.com/triandco/nexttoken/internal/tokenizer"
)

var ErrEmptyInput = errors.New("inference: empty input")

// Batch is the complete input of one forward pass over a single sequence.
// Every token slice has the same length and is fed with shape (1, N).
type Batch struct {
	InputIDs      []int64
	AttentionMask []int64
	PositionIDs   []int64
	Cache         *kvcache.Cache
}

// NewBatch builds the model inputs for enc. The attention mask covers
// every token and positions count from zero.
func NewBatch(enc tokenizer.Encoding, cache *kvcache.Cache) (*Batch, error) {
	n := enc.Len()
	if n == 0 {
		return nil, ErrEmptyInput
	}
	if enc.AttentionMask != nil && len(enc.AttentionMask) != n {
		return nil, fmt.Errorf("attention mask has %d entries for %d tokens", len(enc.AttentionMask), n)
	}
	if cache == nil {
		return nil, errors.New("inference: batch needs a cache")
	}
	b := &Batch{
		InputIDs:      make([]int64, n),
		AttentionMask: make([]int64, n),
		PositionIDs:   make([]int64, n),
		Cache:         cache,
	}
	for i, id := range enc.IDs {
		b.InputIDs[i] = int64(id)
		b.AttentionMask[i] = 1
		b.PositionIDs[i] = int64(cache.SeqLen() + i)
	}
	return b, nil
}

func (b *Batch) Len() int { return len(b.InputIDs) }

// Feed converts b for the runtime session.
func (b *Batch) Feed() onnx.Feed {
	return onnx.Feed{
		InputIDs:      b.InputIDs,
		AttentionMask: b.AttentionMask,
		PositionIDs:   b.PositionIDs,
		Cache:         b.Cache,
	}
}
