package logits

// Tensor is a decoded logits output in row-major (batch, seq, vocab) order.
type Tensor struct {
	Data  []float32
	Shape []int64
}

// LastRow is LastRow applied to t.
func (t Tensor) LastRow(limit int) ([]float32, error) {
	return LastRow(t.Data, t.Shape, limit)
}
