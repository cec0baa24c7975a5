package model

import (
	"errors"
	"fmt"
	"strings"
)

// Phi-3 mini 4k dimensions. These are the defaults when no
// genai_config.json accompanies the model.
const (
	Phi3NumLayers     = 32
	Phi3NumKVHeads    = 32
	Phi3HeadDim       = 96
	Phi3HiddenSize    = 3072
	Phi3VocabSize     = 32064
	Phi3ContextLength = 4096
)

var ErrInvalidConfig = errors.New("model: invalid config")

// DType is the element type of a float tensor exchanged with the runtime.
type DType string

const (
	Float16 DType = "float16"
	Float32 DType = "float32"
)

// ParseDType accepts the usual spellings of the two supported float types.
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "f16", "fp16", "float16", "half":
		return Float16, nil
	case "f32", "fp32", "float32", "float":
		return Float32, nil
	default:
		return "", fmt.Errorf("unsupported dtype %q (expected float16 or float32)", s)
	}
}

// Size returns the element size in bytes.
func (d DType) Size() int {
	switch d {
	case Float16:
		return 2
	case Float32:
		return 4
	default:
		return 0
	}
}

// Inputs names the decoder graph inputs. PastKey and PastValue are
// printf templates taking the layer index.
type Inputs struct {
	InputIDs      string
	AttentionMask string
	PositionIDs   string
	PastKey       string
	PastValue     string
}

// Outputs names the decoder graph outputs.
type Outputs struct {
	Logits       string
	PresentKey   string
	PresentValue string
}

// Config describes the decoder-only model fed by the predictor.
type Config struct {
	Type          string
	Filename      string
	NumLayers     int
	NumHeads      int
	NumKVHeads    int
	HeadDim       int
	HiddenSize    int
	VocabSize     int
	ContextLength int
	BOSTokenID    int
	EOSTokenIDs   []int
	CacheType     DType
	LogitsType    DType
	Inputs        Inputs
	Outputs       Outputs
}

// Default returns the Phi-3 mini ONNX export layout.
func Default() Config {
	return Config{
		Type:          "phi3",
		Filename:      "model.onnx",
		NumLayers:     Phi3NumLayers,
		NumHeads:      Phi3NumKVHeads,
		NumKVHeads:    Phi3NumKVHeads,
		HeadDim:       Phi3HeadDim,
		HiddenSize:    Phi3HiddenSize,
		VocabSize:     Phi3VocabSize,
		ContextLength: Phi3ContextLength,
		BOSTokenID:    1,
		EOSTokenIDs:   []int{32007, 32001, 32000},
		CacheType:     Float16,
		LogitsType:    Float16,
		Inputs: Inputs{
			InputIDs:      "input_ids",
			AttentionMask: "attention_mask",
			PositionIDs:   "position_ids",
			PastKey:       "past_key_values.%d.key",
			PastValue:     "past_key_values.%d.value",
		},
		Outputs: Outputs{
			Logits:       "logits",
			PresentKey:   "present.%d.key",
			PresentValue: "present.%d.value",
		},
	}
}

// Validate reports the first structural problem with c.
func (c Config) Validate() error {
	dims := []struct {
		name string
		v    int
	}{
		{"num_layers", c.NumLayers},
		{"num_key_value_heads", c.NumKVHeads},
		{"head_dim", c.HeadDim},
		{"vocab_size", c.VocabSize},
	}
	for _, d := range dims {
		if d.v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, d.name, d.v)
		}
	}
	if c.Inputs.InputIDs == "" || c.Inputs.AttentionMask == "" {
		return fmt.Errorf("%w: input_ids and attention_mask names are required", ErrInvalidConfig)
	}
	if c.Outputs.Logits == "" {
		return fmt.Errorf("%w: logits output name is required", ErrInvalidConfig)
	}
	for _, tpl := range []string{c.Inputs.PastKey, c.Inputs.PastValue} {
		if strings.Count(tpl, "%d") != 1 || strings.Count(tpl, "%") != 1 {
			return fmt.Errorf("%w: cache name template %q must contain exactly one %%d", ErrInvalidConfig, tpl)
		}
	}
	if c.CacheType.Size() == 0 || c.LogitsType.Size() == 0 {
		return fmt.Errorf("%w: unsupported tensor types cache=%q logits=%q", ErrInvalidConfig, c.CacheType, c.LogitsType)
	}
	return nil
}

func (c Config) PastKeyName(layer int) string   { return fmt.Sprintf(c.Inputs.PastKey, layer) }
func (c Config) PastValueName(layer int) string { return fmt.Sprintf(c.Inputs.PastValue, layer) }

// InputNames lists every graph input in feed order: the token inputs
// followed by key and value cache slots per layer.
func (c Config) InputNames() []string {
	names := []string{c.Inputs.InputIDs}
	if c.Inputs.PositionIDs != "" {
		names = append(names, c.Inputs.PositionIDs)
	}
	names = append(names, c.Inputs.AttentionMask)
	for i := range c.NumLayers {
		names = append(names, c.PastKeyName(i), c.PastValueName(i))
	}
	return names
}
