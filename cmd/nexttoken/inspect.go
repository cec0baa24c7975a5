package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/triandco/nexttoken/internal/inference"
	"github.com/triandco/nexttoken/internal/model"
	"github.com/triandco/nexttoken/internal/onnx"
	"github.com/triandco/nexttoken/internal/tokenizer"
)

type inspectReport struct {
	ModelPath string            `json:"model_path"`
	ModelSize int64             `json:"model_size"`
	Runtime   string            `json:"runtime,omitempty"`
	Tokenizer tokenizer.Summary `json:"tokenizer"`
	Config    model.Config      `json:"config"`
	Signature *onnx.Signature   `json:"signature,omitempty"`
	Binding   *bindingSummary   `json:"binding,omitempty"`
}

type bindingSummary struct {
	CacheType   model.DType `json:"cache_type"`
	LogitsType  model.DType `json:"logits_type"`
	LogitsVocab int64       `json:"logits_vocab"`
	Inputs      int         `json:"inputs"`
	Error       string      `json:"error,omitempty"`
}

func inspectCmd() *cli.Command {
	var (
		asJSON    bool
		skipModel bool
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Describe the tokenizer, decoder config and model signature",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print the report as JSON", Destination: &asJSON},
			&cli.BoolFlag{Name: "skip-model", Usage: "do not load the runtime to read the model signature", Destination: &skipModel},
		},
		Action: func(_ context.Context, c *cli.Command) error {
			cfgFile, err := loadConfig(configFile)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			applyConfig(c, cfgFile)
			log, err := setupLogger(os.Stderr)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			loader := newLoader(cfgFile, log, nil)

			report, err := buildReport(loader, skipModel)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if asJSON {
				out, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: encode report: %v", err), 1)
				}
				_, err = fmt.Fprintln(os.Stdout, string(out))
				return err
			}
			printReport(os.Stdout, report)
			return nil
		},
	}
}

func buildReport(loader inference.Loader, skipModel bool) (*inspectReport, error) {
	if err := loader.CheckAssets(); err != nil {
		return nil, err
	}
	tok, err := loader.LoadTokenizer()
	if err != nil {
		return nil, err
	}
	cfg, err := loader.LoadConfig()
	if err != nil {
		return nil, err
	}
	stat, err := os.Stat(loader.ModelPath)
	if err != nil {
		return nil, err
	}
	report := &inspectReport{
		ModelPath: loader.ModelPath,
		ModelSize: stat.Size(),
		Tokenizer: tok.Summary(),
		Config:    cfg,
	}
	if skipModel {
		return report, nil
	}

	if err := onnx.InitEnvironment(loader.LibraryPath); err != nil {
		return nil, err
	}
	defer func() { _ = onnx.DestroyEnvironment() }()
	report.Runtime = onnx.RuntimeVersion()

	sig, err := onnx.Describe(loader.ModelPath)
	if err != nil {
		return nil, err
	}
	report.Signature = &sig
	report.Binding = summarizeBinding(cfg, sig)
	return report, nil
}

// summarizeBinding reports how the decoder config maps onto sig. A
// mismatch is recorded rather than returned so the signature still prints.
func summarizeBinding(cfg model.Config, sig onnx.Signature) *bindingSummary {
	b, err := onnx.Bind(cfg, sig)
	if err != nil {
		return &bindingSummary{Error: err.Error()}
	}
	return &bindingSummary{
		CacheType:   b.Config.CacheType,
		LogitsType:  b.Config.LogitsType,
		LogitsVocab: b.LogitsVocab,
		Inputs:      len(b.Config.InputNames()),
	}
}

func printReport(w io.Writer, r *inspectReport) {
	section(w, "Model")
	row(w, "path", r.ModelPath)
	row(w, "size", formatBytes(uint64(r.ModelSize)))
	row(w, "onnxruntime", r.Runtime)

	section(w, "Tokenizer Summary")
	s := r.Tokenizer
	row(w, "model", s.Model)
	row(w, "flavor", string(s.Flavor))
	rowInt(w, "vocab_size", s.VocabSize)
	rowInt(w, "merges", s.Merges)
	rowInt(w, "added_tokens", s.AddedTokens)
	row(w, "byte_fallback", fmt.Sprintf("%v", s.ByteFallback))
	row(w, "prefix", formatIDs(s.Prefix))
	row(w, "suffix", formatIDs(s.Suffix))

	section(w, "Decoder")
	c := r.Config
	row(w, "type", c.Type)
	rowInt(w, "layers", c.NumLayers)
	rowInt(w, "attention_heads", c.NumHeads)
	rowInt(w, "kv_heads", c.NumKVHeads)
	rowInt(w, "head_dim", c.HeadDim)
	rowInt(w, "hidden_size", c.HiddenSize)
	rowInt(w, "vocab_size", c.VocabSize)
	rowInt(w, "context_length", c.ContextLength)
	row(w, "eos_token_ids", formatIDs(c.EOSTokenIDs))
	row(w, "past_key", c.Inputs.PastKey)
	row(w, "past_value", c.Inputs.PastValue)

	if r.Signature != nil {
		section(w, "Inputs")
		printTensors(w, r.Signature.Inputs)
		section(w, "Outputs")
		printTensors(w, r.Signature.Outputs)
	}
	if b := r.Binding; b != nil {
		section(w, "Binding")
		if b.Error != "" {
			row(w, "error", b.Error)
			return
		}
		row(w, "cache_type", string(b.CacheType))
		row(w, "logits_type", string(b.LogitsType))
		row(w, "logits_vocab", fmt.Sprintf("%d", b.LogitsVocab))
		rowInt(w, "inputs", b.Inputs)
	}
}

// printTensors collapses the numbered cache entries into one line per
// distinct type and shape so a 32 layer model stays readable.
func printTensors(w io.Writer, list []onnx.TensorInfo) {
	type group struct {
		name, desc string
		n          int
	}
	var groups []*group
	byKey := make(map[string]*group)
	for _, ti := range list {
		desc := ti.DataType + " " + formatShape(ti.Dims)
		name := collapseLayer(ti.Name)
		if name == ti.Name {
			row(w, ti.Name, desc)
			continue
		}
		key := name + " " + desc
		g, ok := byKey[key]
		if !ok {
			g = &group{name: name, desc: desc}
			byKey[key] = g
			groups = append(groups, g)
		}
		g.n++
	}
	for _, g := range groups {
		row(w, g.name, fmt.Sprintf("%s x%d", g.desc, g.n))
	}
}

// collapseLayer replaces the first run of digits in name with "N".
func collapseLayer(name string) string {
	start := strings.IndexAny(name, "0123456789")
	if start < 0 {
		return name
	}
	end := start
	for end < len(name) && name[end] >= '0' && name[end] <= '9' {
		end++
	}
	return name[:start] + "N" + name[end:]
}

func section(w io.Writer, title string) {
	line := strings.Repeat("-", len(title)+8)
	_, _ = fmt.Fprintf(w, "\n%s\n--- %s ---\n%s\n", line, title, line)
}

func row(w io.Writer, label, value string) {
	if value == "" {
		return
	}
	_, _ = fmt.Fprintf(w, "%-24s %s\n", label+":", value)
}

func rowInt(w io.Writer, label string, v int) {
	if v == 0 {
		return
	}
	row(w, label, fmt.Sprintf("%d", v))
}

func formatShape(shape []int64) string {
	if len(shape) == 0 {
		return "[]"
	}
	parts := make([]string, len(shape))
	for i, v := range shape {
		if v < 0 {
			parts[i] = "?"
			continue
		}
		parts[i] = fmt.Sprintf("%d", v)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func formatIDs(ids []int) string {
	if len(ids) == 0 {
		return ""
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, " ")
}

func formatBytes(b uint64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.2f GiB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.2f MiB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.2f KiB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
