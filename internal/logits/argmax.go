package logits

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrEmpty is returned when a selection is asked of an empty row.
	ErrEmpty = errors.New("logits: empty row")
	// ErrShape is returned when a logits tensor is not (batch, seq, vocab).
	ErrShape = errors.New("logits: unexpected shape")
)

// Candidate is one entry of a ranked logits row.
type Candidate struct {
	ID    int
	Logit float32
}

// Argmax returns the index of the maximum value in x. The last maximum
// wins on ties and NaN entries are never selected.
func Argmax(x []float32) (int, error) {
	if len(x) == 0 {
		return 0, ErrEmpty
	}
	bestI := -1
	var bestV float32
	for i, v := range x {
		if math.IsNaN(float64(v)) {
			continue
		}
		if bestI < 0 || v >= bestV {
			bestI = i
			bestV = v
		}
	}
	if bestI < 0 {
		return 0, fmt.Errorf("%w: every entry is NaN", ErrEmpty)
	}
	return bestI, nil
}

// Top returns the k largest entries of x ordered from largest to smallest.
// Ties rank later indices first, so Top(x, 1) agrees with Argmax.
// This is an O(V*K) insertion pass suitable for small k.
func Top(x []float32, k int) []Candidate {
	if k <= 0 {
		return nil
	}
	out := make([]Candidate, 0, k+1)
	for i, v := range x {
		if math.IsNaN(float64(v)) {
			continue
		}
		pos := len(out)
		for pos > 0 && out[pos-1].Logit <= v {
			pos--
		}
		if pos >= k {
			continue
		}
		out = append(out, Candidate{})
		copy(out[pos+1:], out[pos:])
		out[pos] = Candidate{ID: i, Logit: v}
		if len(out) > k {
			out = out[:k]
		}
	}
	return out
}

// LastRow returns the logits of the final sequence position of the first
// batch entry, truncated to at most limit entries. shape must be
// (batch, seq, vocab) and data row-major. A limit <= 0 keeps the full row.
func LastRow(data []float32, shape []int64, limit int) ([]float32, error) {
	if len(shape) != 3 {
		return nil, fmt.Errorf("%w: want 3 dims, got %v", ErrShape, shape)
	}
	batch, seq, vocab := shape[0], shape[1], shape[2]
	if batch < 1 || seq < 1 || vocab < 1 {
		return nil, fmt.Errorf("%w: %v", ErrShape, shape)
	}
	if int64(len(data)) != batch*seq*vocab {
		return nil, fmt.Errorf("%w: %v holds %d values, got %d", ErrShape, shape, batch*seq*vocab, len(data))
	}
	start := (seq - 1) * vocab
	n := vocab
	if limit > 0 && int64(limit) < n {
		n = int64(limit)
	}
	return data[start : start+n], nil
}
