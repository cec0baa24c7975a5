package inference

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/triandco/nexttoken/internal/backend"
	"github.com/triandco/nexttoken/internal/logger"
	"github.com/triandco/nexttoken/internal/metrics"
	"github.com/triandco/nexttoken/internal/model"
	"github.com/triandco/nexttoken/internal/onnx"
	"github.com/triandco/nexttoken/internal/tokenizer"
)

const (
	DefaultDataDir = "data"
	TokenizerFile  = "tokenizer.json"
	ModelFile      = "model.onnx"
)

var ErrAssetMissing = errors.New("asset missing")

// Loader locates the model assets and builds a Predictor over them.
// TokenizerConfigPath is never derived from DataDir: a tokenizer_config.json
// is applied only when named explicitly.
type Loader struct {
	DataDir             string
	TokenizerPath       string
	TokenizerConfigPath string
	ModelPath           string
	GenAIConfigPath     string
	LibraryPath         string

	Backend        backend.Options
	IntraOpThreads int
	TopK           int

	Logger  logger.Logger
	Metrics *metrics.Recorder
}

// Resolve fills unset asset paths from DataDir.
func (l Loader) Resolve() Loader {
	if l.DataDir == "" {
		l.DataDir = DefaultDataDir
	}
	if l.TokenizerPath == "" {
		l.TokenizerPath = filepath.Join(l.DataDir, TokenizerFile)
	}
	if l.ModelPath == "" {
		l.ModelPath = filepath.Join(l.DataDir, ModelFile)
	}
	if l.GenAIConfigPath == "" {
		l.GenAIConfigPath = filepath.Join(l.DataDir, model.GenAIConfigName)
	}
	if l.Logger == nil {
		l.Logger = logger.Discard()
	}
	return l
}

// CheckAssets verifies the required files exist before anything is loaded.
func (l Loader) CheckAssets() error {
	for _, p := range []string{l.TokenizerPath, l.ModelPath} {
		info, err := os.Stat(p)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("%w: %s", ErrAssetMissing, p)
			}
			return fmt.Errorf("stat %s: %w", p, err)
		}
		if info.IsDir() {
			return fmt.Errorf("%w: %s is a directory", ErrAssetMissing, p)
		}
	}
	return nil
}

// LoadTokenizer reads tokenizer.json, plus tokenizer_config.json when
// TokenizerConfigPath is set.
func (l Loader) LoadTokenizer() (*tokenizer.HFTokenizer, error) {
	stop := l.Metrics.Time(metrics.StageLoadTokenizer)
	tok, err := tokenizer.LoadHFTokenizer(l.TokenizerPath, l.TokenizerConfigPath)
	if err != nil {
		l.Metrics.RecordFailure(metrics.StageLoadTokenizer)
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	l.Logger.Debug("tokenizer loaded", "path", l.TokenizerPath, "vocab", tok.VocabSize(), "flavor", tok.Flavor(), "elapsed", stop())
	return tok, nil
}

// LoadConfig returns the decoder description: genai_config.json when it
// exists next to the model, the Phi-3 defaults otherwise.
func (l Loader) LoadConfig() (model.Config, error) {
	if _, err := os.Stat(l.GenAIConfigPath); errors.Is(err, os.ErrNotExist) {
		l.Logger.Debug("no genai config, using defaults", "path", l.GenAIConfigPath)
		return model.Default(), nil
	}
	cfg, err := model.LoadGenAIConfig(l.GenAIConfigPath)
	if err != nil {
		return model.Config{}, err
	}
	l.Logger.Debug("genai config loaded", "path", l.GenAIConfigPath, "type", cfg.Type, "layers", cfg.NumLayers)
	return cfg, nil
}

// Load checks the assets, loads the tokenizer, creates the runtime
// session and returns a ready Predictor. The Predictor owns the runtime
// environment and releases it on Close.
func (l Loader) Load(ctx context.Context) (*Predictor, error) {
	l = l.Resolve()
	if err := l.CheckAssets(); err != nil {
		return nil, err
	}
	opts, err := l.Backend.Resolve()
	if err != nil {
		return nil, err
	}
	tok, err := l.LoadTokenizer()
	if err != nil {
		return nil, err
	}
	cfg, err := l.LoadConfig()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stop := l.Metrics.Time(metrics.StageLoadSession)
	libPath := onnx.ResolveLibraryPath(l.LibraryPath, "", nil)
	if err := onnx.InitEnvironment(libPath); err != nil {
		l.Metrics.RecordFailure(metrics.StageLoadSession)
		return nil, err
	}
	sess, binding, err := l.openSession(cfg, opts)
	if err != nil {
		l.Metrics.RecordFailure(metrics.StageLoadSession)
		return nil, errors.Join(err, onnx.DestroyEnvironment())
	}
	l.Logger.Info("session ready",
		"model", l.ModelPath,
		"backend", opts.Name,
		"device", opts.DeviceID,
		"accelerated", opts.Accelerated(),
		"runtime", onnx.RuntimeVersion(),
		"cache_type", binding.Config.CacheType,
		"logits_type", binding.Config.LogitsType,
		"elapsed", stop(),
	)

	p := NewPredictor(tok, binding.Config, ortSession{sess: sess}, PredictorOptions{
		Backend: opts.Name,
		TopK:    l.TopK,
		Logger:  l.Logger,
		Metrics: l.Metrics,
	})
	p.release = onnx.DestroyEnvironment
	return p, nil
}

func (l Loader) openSession(cfg model.Config, opts backend.Options) (*onnx.Session, onnx.Binding, error) {
	sig, err := onnx.Describe(l.ModelPath)
	if err != nil {
		return nil, onnx.Binding{}, err
	}
	binding, err := onnx.Bind(cfg, sig)
	if err != nil {
		return nil, onnx.Binding{}, err
	}
	sess, err := onnx.NewSession(l.ModelPath, binding, onnx.SessionOptions{
		Backend:        opts,
		IntraOpThreads: l.IntraOpThreads,
	})
	if err != nil {
		return nil, onnx.Binding{}, err
	}
	return sess, binding, nil
}
