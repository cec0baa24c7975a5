package inference

import (
	"context"

	"github.com/triandco/nexttoken/internal/logits"
	"github.com/triandco/nexttoken/internal/onnx"
)

// Session runs one forward pass of a decoder.
type Session interface {
	Run(ctx context.Context, batch *Batch) (logits.Tensor, error)
	Close() error
}

// ortSession adapts *onnx.Session to Session.
type ortSession struct {
	sess *onnx.Session
}

func (s ortSession) Run(ctx context.Context, batch *Batch) (logits.Tensor, error) {
	return s.sess.Run(ctx, batch.Feed())
}

func (s ortSession) Close() error { return s.sess.Close() }
