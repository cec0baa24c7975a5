package main

import (
	"os"
	"strings"

	"github.com/triandco/nexttoken/internal/backend"
	"github.com/triandco/nexttoken/internal/inference"
	"github.com/triandco/nexttoken/internal/logger"
	"github.com/triandco/nexttoken/internal/metrics"
	"github.com/triandco/nexttoken/internal/onnx"
)

const (
	envDataDir    = "NEXTTOKEN_DATA_DIR"
	defaultPrompt = "hello world"
)

// newLoader builds a Loader from the flag variables after applyConfig has
// merged the config file into them.
func newLoader(cfg Config, log logger.Logger, rec *metrics.Recorder) inference.Loader {
	return inference.Loader{
		DataDir:             strings.TrimSpace(dataDir),
		TokenizerPath:       strings.TrimSpace(tokenizerPath),
		TokenizerConfigPath: strings.TrimSpace(tokenizerConfigPath),
		ModelPath:           strings.TrimSpace(modelPath),
		GenAIConfigPath:     strings.TrimSpace(genaiConfigPath),
		LibraryPath:         onnx.ResolveLibraryPath(strings.TrimSpace(libraryPath), cfg.LibraryPath, os.Getenv),
		Backend: backend.Options{
			Name:     provider,
			DeviceID: int(deviceID),
		},
		IntraOpThreads: int(intraOpThreads),
		TopK:           int(topK),
		Logger:         log,
		Metrics:        rec,
	}.Resolve()
}
