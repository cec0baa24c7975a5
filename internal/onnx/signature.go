package onnx

import (
	"errors"
	"fmt"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/triandco/nexttoken/internal/model"
)

var ErrSignature = errors.New("onnx: model signature mismatch")

// TensorInfo describes one graph input or output.
type TensorInfo struct {
	Name     string  `json:"name"`
	Kind     string  `json:"kind"`
	DataType string  `json:"data_type"`
	Dims     []int64 `json:"dims"`
}

// Signature lists the inputs and outputs declared by a model file.
type Signature struct {
	Inputs  []TensorInfo `json:"inputs"`
	Outputs []TensorInfo `json:"outputs"`
}

func (s Signature) Input(name string) (TensorInfo, bool)  { return find(s.Inputs, name) }
func (s Signature) Output(name string) (TensorInfo, bool) { return find(s.Outputs, name) }

func find(list []TensorInfo, name string) (TensorInfo, bool) {
	for _, ti := range list {
		if ti.Name == name {
			return ti, true
		}
	}
	return TensorInfo{}, false
}

// Describe reads the signature of the model at path. The environment must
// already be initialized.
func Describe(path string) (Signature, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return Signature{}, fmt.Errorf("read model signature %s: %w", path, err)
	}
	return Signature{Inputs: convertInfo(inputs), Outputs: convertInfo(outputs)}, nil
}

func convertInfo(list []ort.InputOutputInfo) []TensorInfo {
	out := make([]TensorInfo, 0, len(list))
	for _, info := range list {
		kind := "tensor"
		if info.OrtValueType != ort.ONNXTypeTensor {
			kind = "other"
		}
		out = append(out, TensorInfo{
			Name:     info.Name,
			Kind:     kind,
			DataType: dataTypeName(info.DataType),
			Dims:     append([]int64(nil), info.Dimensions...),
		})
	}
	return out
}

func dataTypeName(t ort.TensorElementDataType) string {
	switch t {
	case ort.TensorElementDataTypeFloat:
		return "float32"
	case ort.TensorElementDataTypeFloat16:
		return "float16"
	case ort.TensorElementDataTypeBFloat16:
		return "bfloat16"
	case ort.TensorElementDataTypeDouble:
		return "float64"
	case ort.TensorElementDataTypeInt64:
		return "int64"
	case ort.TensorElementDataTypeInt32:
		return "int32"
	case ort.TensorElementDataTypeInt8:
		return "int8"
	case ort.TensorElementDataTypeUint8:
		return "uint8"
	case ort.TensorElementDataTypeBool:
		return "bool"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

func elementType(d model.DType) (ort.TensorElementDataType, error) {
	switch d {
	case model.Float16:
		return ort.TensorElementDataTypeFloat16, nil
	case model.Float32:
		return ort.TensorElementDataTypeFloat, nil
	default:
		return 0, fmt.Errorf("unsupported tensor type %q", d)
	}
}

// Binding is a decoder description reconciled with a model signature.
type Binding struct {
	Config model.Config
	// LogitsVocab is the vocabulary axis of the logits output, which can
	// be padded beyond Config.VocabSize.
	LogitsVocab int64
}

// Bind reconciles cfg with sig: it drops position_ids when the graph does
// not declare it, takes cache and logits element types from the graph and
// checks every other name cfg feeds is present.
func Bind(cfg model.Config, sig Signature) (Binding, error) {
	if _, ok := sig.Input(cfg.Inputs.PositionIDs); !ok {
		cfg.Inputs.PositionIDs = ""
	}
	for _, name := range cfg.InputNames() {
		ti, ok := sig.Input(name)
		if !ok {
			return Binding{}, fmt.Errorf("%w: input %q not declared by model", ErrSignature, name)
		}
		if ti.Kind != "tensor" {
			return Binding{}, fmt.Errorf("%w: input %q is not a tensor", ErrSignature, name)
		}
	}
	for _, name := range []string{cfg.Inputs.InputIDs, cfg.Inputs.AttentionMask, cfg.Inputs.PositionIDs} {
		if name == "" {
			continue
		}
		if ti, _ := sig.Input(name); ti.DataType != "int64" {
			return Binding{}, fmt.Errorf("%w: input %q is %s, want int64", ErrSignature, name, ti.DataType)
		}
	}

	if cfg.NumLayers > 0 {
		key, _ := sig.Input(cfg.PastKeyName(0))
		dt, err := model.ParseDType(key.DataType)
		if err != nil {
			return Binding{}, fmt.Errorf("%w: cache input %q: %v", ErrSignature, key.Name, err)
		}
		cfg.CacheType = dt
		if len(key.Dims) == 4 {
			if err := checkDim(key, 1, int64(cfg.NumKVHeads)); err != nil {
				return Binding{}, err
			}
			if err := checkDim(key, 3, int64(cfg.HeadDim)); err != nil {
				return Binding{}, err
			}
		}
	}

	out, ok := sig.Output(cfg.Outputs.Logits)
	if !ok {
		return Binding{}, fmt.Errorf("%w: output %q not declared by model", ErrSignature, cfg.Outputs.Logits)
	}
	dt, err := model.ParseDType(out.DataType)
	if err != nil {
		return Binding{}, fmt.Errorf("%w: output %q: %v", ErrSignature, out.Name, err)
	}
	cfg.LogitsType = dt

	vocab := int64(cfg.VocabSize)
	if len(out.Dims) == 3 && out.Dims[2] > 0 {
		vocab = out.Dims[2]
	}
	if vocab < int64(cfg.VocabSize) {
		return Binding{}, fmt.Errorf("%w: logits vocab %d smaller than %d", ErrSignature, vocab, cfg.VocabSize)
	}
	return Binding{Config: cfg, LogitsVocab: vocab}, nil
}

// checkDim tolerates symbolic (negative) dimensions.
func checkDim(ti TensorInfo, axis int, want int64) error {
	if got := ti.Dims[axis]; got > 0 && got != want {
		return fmt.Errorf("%w: %q axis %d is %d, want %d", ErrSignature, ti.Name, axis, got, want)
	}
	return nil
}
