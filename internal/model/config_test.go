package model

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate(): %v", err)
	}
	if cfg.NumLayers != 32 || cfg.NumKVHeads != 32 || cfg.HeadDim != 96 || cfg.VocabSize != 32064 {
		t.Fatalf("unexpected default dims: %+v", cfg)
	}
}

func TestCacheNames(t *testing.T) {
	t.Parallel()
	cfg := Default()
	if got := cfg.PastKeyName(0); got != "past_key_values.0.key" {
		t.Errorf("PastKeyName(0) = %q", got)
	}
	if got := cfg.PastValueName(31); got != "past_key_values.31.value" {
		t.Errorf("PastValueName(31) = %q", got)
	}
}

func TestInputNames(t *testing.T) {
	t.Parallel()
	cfg := Default()
	names := cfg.InputNames()
	if len(names) != 3+2*cfg.NumLayers {
		t.Fatalf("expected %d names, got %d", 3+2*cfg.NumLayers, len(names))
	}
	want := []string{"input_ids", "position_ids", "attention_mask", "past_key_values.0.key", "past_key_values.0.value"}
	if !slices.Equal(names[:5], want) {
		t.Fatalf("unexpected leading names: %v", names[:5])
	}
	if names[len(names)-1] != "past_key_values.31.value" {
		t.Fatalf("unexpected last name: %q", names[len(names)-1])
	}

	cfg.Inputs.PositionIDs = ""
	if slices.Contains(cfg.InputNames(), "position_ids") {
		t.Fatal("position_ids should be omitted when unnamed")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero layers", func(c *Config) { c.NumLayers = 0 }},
		{"negative heads", func(c *Config) { c.NumKVHeads = -1 }},
		{"zero head dim", func(c *Config) { c.HeadDim = 0 }},
		{"zero vocab", func(c *Config) { c.VocabSize = 0 }},
		{"missing layer verb", func(c *Config) { c.Inputs.PastKey = "past_key_values.key" }},
		{"two verbs", func(c *Config) { c.Inputs.PastValue = "past.%d.%d" }},
		{"wrong verb", func(c *Config) { c.Inputs.PastValue = "past.%s.value" }},
		{"no logits", func(c *Config) { c.Outputs.Logits = "" }},
		{"no input ids", func(c *Config) { c.Inputs.InputIDs = "" }},
		{"bad cache type", func(c *Config) { c.CacheType = "int8" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestParseDType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  DType
		size  int
	}{
		{"float16", Float16, 2},
		{"FP16", Float16, 2},
		{" half ", Float16, 2},
		{"f32", Float32, 4},
		{"float", Float32, 4},
	}
	for _, tc := range tests {
		got, err := ParseDType(tc.input)
		if err != nil {
			t.Fatalf("ParseDType(%q): %v", tc.input, err)
		}
		if got != tc.want || got.Size() != tc.size {
			t.Errorf("ParseDType(%q) = %q (size %d), want %q (size %d)", tc.input, got, got.Size(), tc.want, tc.size)
		}
	}
	if _, err := ParseDType("bfloat16"); err == nil {
		t.Fatal("expected error for bfloat16")
	}
}

func TestLoadGenAIConfig(t *testing.T) {
	t.Parallel()
	cfg, err := LoadGenAIConfig(filepath.Join("testdata", "genai_config.json"))
	if err != nil {
		t.Fatalf("LoadGenAIConfig: %v", err)
	}
	if cfg.Type != "phi3" || cfg.NumLayers != 32 || cfg.HeadDim != 96 || cfg.HiddenSize != 3072 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Filename != "phi3-mini-4k-instruct-cpu-int4-rtn-block-32-acc-level-4.onnx" {
		t.Fatalf("unexpected filename %q", cfg.Filename)
	}
	if !slices.Equal(cfg.EOSTokenIDs, []int{32007, 32001, 32000}) {
		t.Fatalf("unexpected eos ids %v", cfg.EOSTokenIDs)
	}
	if cfg.PastKeyName(3) != "past_key_values.3.key" {
		t.Fatalf("unexpected past key name %q", cfg.PastKeyName(3))
	}
}

func TestParseGenAIConfigOverlay(t *testing.T) {
	t.Parallel()
	doc := `{"model":{"type":"tiny","eos_token_id":2,"vocab_size":512,
		"decoder":{"num_hidden_layers":2,"num_attention_heads":4,"hidden_size":64,
		"inputs":{"past_key_names":"past.%d.k","past_value_names":"past.%d.v"}}}}`

	cfg, err := ParseGenAIConfig([]byte(doc))
	if err != nil {
		t.Fatalf("ParseGenAIConfig: %v", err)
	}
	if cfg.NumLayers != 2 || cfg.NumKVHeads != 4 || cfg.HeadDim != 16 || cfg.VocabSize != 512 {
		t.Fatalf("unexpected dims: %+v", cfg)
	}
	if !slices.Equal(cfg.EOSTokenIDs, []int{2}) {
		t.Fatalf("expected scalar eos id to become a list, got %v", cfg.EOSTokenIDs)
	}
	if cfg.Inputs.InputIDs != "input_ids" || cfg.Outputs.Logits != "logits" {
		t.Fatalf("expected unset names to keep defaults: %+v", cfg.Inputs)
	}
	if cfg.PastValueName(1) != "past.1.v" {
		t.Fatalf("unexpected value name %q", cfg.PastValueName(1))
	}
}

func TestParseGenAIConfigErrors(t *testing.T) {
	t.Parallel()
	if _, err := ParseGenAIConfig([]byte("{")); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
	bad := `{"model":{"decoder":{"inputs":{"past_key_names":"past.key"}}}}`
	if _, err := ParseGenAIConfig([]byte(bad)); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	_, err := LoadGenAIConfig(filepath.Join(t.TempDir(), "missing.json"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
