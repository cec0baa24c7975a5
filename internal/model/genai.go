package model

import (
	"bytes"
	"fmt"
	"os"

	json "github.com/goccy/go-json"
)

// GenAIConfigName is the file onnxruntime-genai ships next to model.onnx.
const GenAIConfigName = "genai_config.json"

type genaiFile struct {
	Model genaiModel `json:"model"`
}

type genaiModel struct {
	Type          string       `json:"type"`
	BOSTokenID    *int         `json:"bos_token_id"`
	EOSTokenID    tokenIDs     `json:"eos_token_id"`
	ContextLength int          `json:"context_length"`
	VocabSize     int          `json:"vocab_size"`
	Decoder       genaiDecoder `json:"decoder"`
}

type genaiDecoder struct {
	Filename          string       `json:"filename"`
	HeadSize          int          `json:"head_size"`
	HiddenSize        int          `json:"hidden_size"`
	NumAttentionHeads int          `json:"num_attention_heads"`
	NumHiddenLayers   int          `json:"num_hidden_layers"`
	NumKeyValueHeads  int          `json:"num_key_value_heads"`
	Inputs            genaiInputs  `json:"inputs"`
	Outputs           genaiOutputs `json:"outputs"`
}

type genaiInputs struct {
	InputIDs       string `json:"input_ids"`
	AttentionMask  string `json:"attention_mask"`
	PositionIDs    string `json:"position_ids"`
	PastKeyNames   string `json:"past_key_names"`
	PastValueNames string `json:"past_value_names"`
}

type genaiOutputs struct {
	Logits            string `json:"logits"`
	PresentKeyNames   string `json:"present_key_names"`
	PresentValueNames string `json:"present_value_names"`
}

// tokenIDs accepts either a single id or a list of ids.
type tokenIDs []int

func (t *tokenIDs) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = nil
		return nil
	}
	if data[0] == '[' {
		var ids []int
		if err := json.Unmarshal(data, &ids); err != nil {
			return err
		}
		*t = ids
		return nil
	}
	var id int
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	*t = tokenIDs{id}
	return nil
}

// LoadGenAIConfig reads path and overlays it on Default.
func LoadGenAIConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read genai config: %w", err)
	}
	cfg, err := ParseGenAIConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseGenAIConfig decodes a genai_config.json document. Fields the
// document leaves unset keep their Default values.
func ParseGenAIConfig(data []byte) (Config, error) {
	var f genaiFile
	if err := json.Unmarshal(data, &f); err != nil {
		return Config{}, fmt.Errorf("parse genai config: %w", err)
	}
	cfg := Default()
	m := f.Model
	d := m.Decoder

	setString(&cfg.Type, m.Type)
	setString(&cfg.Filename, d.Filename)
	setInt(&cfg.NumLayers, d.NumHiddenLayers)
	setInt(&cfg.NumHeads, d.NumAttentionHeads)
	setInt(&cfg.NumKVHeads, d.NumKeyValueHeads)
	setInt(&cfg.HeadDim, d.HeadSize)
	setInt(&cfg.HiddenSize, d.HiddenSize)
	setInt(&cfg.VocabSize, m.VocabSize)
	setInt(&cfg.ContextLength, m.ContextLength)
	if m.BOSTokenID != nil {
		cfg.BOSTokenID = *m.BOSTokenID
	}
	if len(m.EOSTokenID) > 0 {
		cfg.EOSTokenIDs = []int(m.EOSTokenID)
	}
	// key/value heads default to the attention head count when only the
	// latter is given
	if d.NumKeyValueHeads == 0 && d.NumAttentionHeads > 0 {
		cfg.NumKVHeads = d.NumAttentionHeads
	}
	if d.HeadSize == 0 && d.HiddenSize > 0 && cfg.NumHeads > 0 {
		cfg.HeadDim = d.HiddenSize / cfg.NumHeads
	}

	setString(&cfg.Inputs.InputIDs, d.Inputs.InputIDs)
	setString(&cfg.Inputs.AttentionMask, d.Inputs.AttentionMask)
	setString(&cfg.Inputs.PositionIDs, d.Inputs.PositionIDs)
	setString(&cfg.Inputs.PastKey, d.Inputs.PastKeyNames)
	setString(&cfg.Inputs.PastValue, d.Inputs.PastValueNames)
	setString(&cfg.Outputs.Logits, d.Outputs.Logits)
	setString(&cfg.Outputs.PresentKey, d.Outputs.PresentKeyNames)
	setString(&cfg.Outputs.PresentValue, d.Outputs.PresentValueNames)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}
