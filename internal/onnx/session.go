package onnx

import (
	"context"
	"fmt"
	"strconv"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/triandco/nexttoken/internal/backend"
	"github.com/triandco/nexttoken/internal/kvcache"
	"github.com/triandco/nexttoken/internal/logits"
	"github.com/triandco/nexttoken/internal/model"
)

// SessionOptions configures session creation.
type SessionOptions struct {
	Backend        backend.Options
	IntraOpThreads int
}

// Feed holds the token inputs of one forward pass. All three slices have
// the same length; PositionIDs is ignored when the model has no such input.
type Feed struct {
	InputIDs      []int64
	AttentionMask []int64
	PositionIDs   []int64
	Cache         *kvcache.Cache
}

// Session is a dynamic ONNX Runtime session over a decoder graph that
// requests only the logits output.
type Session struct {
	sess    *ort.DynamicAdvancedSession
	binding Binding
	inputs  []string
}

// NewSession creates a session for the model at path. A requested
// execution provider that cannot be attached is an error.
func NewSession(path string, b Binding, opts SessionOptions) (*Session, error) {
	so, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer so.Destroy()

	if opts.IntraOpThreads > 0 {
		if err := so.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("set intra-op threads: %w", err)
		}
	}
	if err := appendProvider(so, opts.Backend); err != nil {
		return nil, err
	}

	inputs := b.Config.InputNames()
	sess, err := ort.NewDynamicAdvancedSession(path, inputs, []string{b.Config.Outputs.Logits}, so)
	if err != nil {
		return nil, fmt.Errorf("create session for %s: %w", path, err)
	}
	return &Session{sess: sess, binding: b, inputs: inputs}, nil
}

func appendProvider(so *ort.SessionOptions, opts backend.Options) error {
	switch opts.Name {
	case "", backend.CPU:
		return nil
	case backend.CUDA:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return fmt.Errorf("create cuda provider options: %w", err)
		}
		defer cuda.Destroy()
		if err := cuda.Update(map[string]string{"device_id": strconv.Itoa(opts.DeviceID)}); err != nil {
			return fmt.Errorf("configure cuda provider: %w", err)
		}
		if err := so.AppendExecutionProviderCUDA(cuda); err != nil {
			return fmt.Errorf("attach cuda provider: %w", err)
		}
		return nil
	case backend.DirectML:
		if err := so.AppendExecutionProviderDirectML(opts.DeviceID); err != nil {
			return fmt.Errorf("attach directml provider on device %d: %w", opts.DeviceID, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", backend.ErrUnknownBackend, opts.Name)
	}
}

// Run executes one forward pass and returns the decoded logits.
func (s *Session) Run(ctx context.Context, feed Feed) (logits.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return logits.Tensor{}, err
	}
	cfg := s.binding.Config
	n := len(feed.InputIDs)
	if err := CheckFeed(cfg, feed); err != nil {
		return logits.Tensor{}, err
	}

	values := make(map[string]ort.Value, len(s.inputs))
	defer func() {
		for _, v := range values {
			_ = v.Destroy()
		}
	}()

	shape := ort.NewShape(1, int64(n))
	tokens := []struct {
		name string
		data []int64
	}{
		{cfg.Inputs.InputIDs, feed.InputIDs},
		{cfg.Inputs.AttentionMask, feed.AttentionMask},
		{cfg.Inputs.PositionIDs, feed.PositionIDs},
	}
	for _, in := range tokens {
		if in.name == "" {
			continue
		}
		t, err := ort.NewTensor(shape, in.data)
		if err != nil {
			return logits.Tensor{}, fmt.Errorf("create %s tensor: %w", in.name, err)
		}
		values[in.name] = t
	}
	for _, slot := range feed.Cache.Slots() {
		v, err := cacheTensor(slot)
		if err != nil {
			return logits.Tensor{}, err
		}
		values[slot.Name] = v
	}

	ordered := make([]ort.Value, len(s.inputs))
	for i, name := range s.inputs {
		v, ok := values[name]
		if !ok {
			return logits.Tensor{}, fmt.Errorf("%w: no value for input %q", ErrSignature, name)
		}
		ordered[i] = v
	}

	logitsType, err := elementType(cfg.LogitsType)
	if err != nil {
		return logits.Tensor{}, err
	}
	outShape := ort.NewShape(1, int64(n), s.binding.LogitsVocab)
	buf := make([]byte, outShape.FlattenedSize()*int64(cfg.LogitsType.Size()))
	output, err := ort.NewCustomDataTensor(outShape, buf, logitsType)
	if err != nil {
		return logits.Tensor{}, fmt.Errorf("allocate logits: %w", err)
	}
	defer output.Destroy()

	if err := s.run(ordered, []ort.Value{output}); err != nil {
		return logits.Tensor{}, err
	}

	var data []float32
	switch cfg.LogitsType {
	case model.Float16:
		data, err = logits.DecodeFloat16(output.GetData())
	default:
		data, err = logits.DecodeFloat32(output.GetData())
	}
	if err != nil {
		return logits.Tensor{}, err
	}
	return logits.Tensor{Data: data, Shape: []int64(outShape)}, nil
}

func (s *Session) run(inputs, outputs []ort.Value) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = runtimeError(rec)
		}
	}()
	if err := s.sess.Run(inputs, outputs); err != nil {
		return fmt.Errorf("run session: %w", err)
	}
	return nil
}

// cacheTensor creates an input for slot. Zero-length slots are still
// backed by one element of storage so the runtime receives a valid pointer.
func cacheTensor(slot kvcache.Slot) (ort.Value, error) {
	dt, err := elementType(slot.DType)
	if err != nil {
		return nil, fmt.Errorf("cache input %s: %w", slot.Name, err)
	}
	elems := max(slot.Elements(), 1)
	buf := make([]byte, elems*int64(slot.DType.Size()))
	v, err := ort.NewCustomDataTensor(ort.NewShape(slot.Shape[:]...), buf, dt)
	if err != nil {
		return nil, fmt.Errorf("create cache input %s: %w", slot.Name, err)
	}
	return v, nil
}

// CheckFeed validates feed against cfg before any native allocation.
func CheckFeed(cfg model.Config, feed Feed) error {
	n := len(feed.InputIDs)
	if n == 0 {
		return fmt.Errorf("%w: empty input", ErrSignature)
	}
	if len(feed.AttentionMask) != n {
		return fmt.Errorf("%w: attention mask has %d entries, want %d", ErrSignature, len(feed.AttentionMask), n)
	}
	if cfg.Inputs.PositionIDs != "" && len(feed.PositionIDs) != n {
		return fmt.Errorf("%w: position ids have %d entries, want %d", ErrSignature, len(feed.PositionIDs), n)
	}
	if feed.Cache == nil {
		return fmt.Errorf("%w: no cache", ErrSignature)
	}
	if err := feed.Cache.Check(2 * cfg.NumLayers); err != nil {
		return err
	}
	return nil
}

func runtimeError(rec any) error {
	if recErr, ok := rec.(error); ok {
		return fmt.Errorf("onnxruntime execution failed: %w", recErr)
	}
	return fmt.Errorf("onnxruntime execution failed: %v", rec)
}

// Close releases the native session.
func (s *Session) Close() error {
	if s == nil || s.sess == nil {
		return nil
	}
	err := s.sess.Destroy()
	s.sess = nil
	if err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}
	return nil
}
