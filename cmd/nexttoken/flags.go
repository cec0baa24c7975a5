package main

import (
	"github.com/urfave/cli/v3"

	"github.com/triandco/nexttoken/internal/inference"
)

var (
	configFile          string
	dataDir             string
	tokenizerPath       string
	tokenizerConfigPath string
	modelPath           string
	genaiConfigPath     string
	libraryPath         string

	prompt         string
	provider       string
	deviceID       int64
	intraOpThreads int64
	topK           int64
	showToken      bool
	metricsFile    string

	logLevel  string
	logFormat string
	debug     bool
)

// commonFlags locate the assets and are shared by every command.
func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml (default $XDG_CONFIG_HOME/nexttoken/config.yaml)",
			Destination: &configFile,
		},
		&cli.StringFlag{
			Name:        "data-dir",
			Aliases:     []string{"d"},
			Usage:       "directory holding tokenizer.json and model.onnx",
			Value:       inference.DefaultDataDir,
			Sources:     cli.EnvVars(envDataDir),
			Destination: &dataDir,
		},
		&cli.StringFlag{
			Name:        "tokenizer-json",
			Usage:       "override path to tokenizer.json",
			Destination: &tokenizerPath,
		},
		&cli.StringFlag{
			Name:        "tokenizer-config",
			Usage:       "apply add_bos_token/add_eos_token from this tokenizer_config.json (not read by default)",
			Destination: &tokenizerConfigPath,
		},
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "override path to model.onnx",
			Destination: &modelPath,
		},
		&cli.StringFlag{
			Name:        "genai-config",
			Usage:       "override path to genai_config.json",
			Destination: &genaiConfigPath,
		},
		&cli.StringFlag{
			Name:        "library-path",
			Aliases:     []string{"ort"},
			Usage:       "path to the onnxruntime shared library (falls back to $ONNXRUNTIME_SHARED_LIBRARY_PATH)",
			Destination: &libraryPath,
		},
		&cli.StringFlag{
			Name:        "prompt",
			Aliases:     []string{"p"},
			Usage:       "text to tokenize",
			Value:       defaultPrompt,
			Destination: &prompt,
		},
	}
}

func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "provider",
			Aliases:     []string{"backend"},
			Usage:       "execution provider (cpu, cuda, directml)",
			Value:       "cpu",
			Destination: &provider,
		},
		&cli.Int64Flag{
			Name:        "device-id",
			Usage:       "device index for cuda and directml",
			Destination: &deviceID,
		},
		&cli.Int64Flag{
			Name:        "threads",
			Usage:       "intra-op thread count (0 = runtime default)",
			Destination: &intraOpThreads,
		},
		&cli.Int64Flag{
			Name:        "top-k",
			Usage:       "log the k highest scoring candidates (0 = off)",
			Destination: &topK,
		},
		&cli.BoolFlag{
			Name:        "show-token",
			Usage:       "log the decoded text of the predicted token",
			Destination: &showToken,
		},
		&cli.StringFlag{
			Name:        "metrics-file",
			Usage:       "write Prometheus textfile metrics to this path",
			Destination: &metricsFile,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "warn",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (auto, pretty, json, text)",
			Value:       "auto",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}
