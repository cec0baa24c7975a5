package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/triandco/nexttoken/internal/inference"
	"github.com/triandco/nexttoken/internal/logger"
	"github.com/triandco/nexttoken/internal/metrics"
)

func runCmd() *cli.Command {
	return &cli.Command{
		Name:   "run",
		Usage:  "Print the most likely next token id for the prompt (default command)",
		Action: runAction,
	}
}

// runAction prints exactly one line on stdout, the predicted id, and only
// after every stage has succeeded. Everything else goes to stderr.
func runAction(ctx context.Context, c *cli.Command) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	applyConfig(c, cfg)

	log, err := setupLogger(os.Stderr)
	if err != nil {
		return cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	ctx = logger.WithContext(ctx, log)

	rec := metrics.New()
	defer func() {
		if err := rec.WriteTextfile(metricsFile); err != nil {
			log.Warn("metrics export failed", "path", metricsFile, "error", err)
		}
	}()

	loader := newLoader(cfg, log, rec)
	log.Debug("starting", "data_dir", loader.DataDir, "model", loader.ModelPath, "provider", loader.Backend.Name, "library", loader.LibraryPath)

	pred, err := predictOnce(ctx, loader, prompt)
	if err != nil {
		log.Error("prediction failed", "error", err)
		return cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}

	if showToken {
		log.Info("next token", "id", pred.NextTokenID, "token", pred.NextToken, "logit", pred.Logit, "eos", pred.EOS)
	}
	for i, cand := range pred.Candidates {
		log.Info("candidate", "rank", i+1, "id", cand.ID, "logit", cand.Logit)
	}
	log.Debug("timings", "tokenize", pred.Timings.Tokenize, "inference", pred.Timings.Inference)

	if err := printPrediction(os.Stdout, pred); err != nil {
		return cli.Exit(fmt.Sprintf("error: write result: %v", err), 1)
	}
	return nil
}

func predictOnce(ctx context.Context, loader inference.Loader, text string) (*inference.Prediction, error) {
	p, err := loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	cfg := p.Config()
	logger.FromContext(ctx).Debug("decoder", "type", cfg.Type, "layers", cfg.NumLayers, "vocab", cfg.VocabSize, "cache_type", cfg.CacheType)
	defer func() {
		if err := p.Close(); err != nil {
			logger.FromContext(ctx).Warn("release session", "error", err)
		}
	}()
	return p.Predict(ctx, text)
}

func printPrediction(w io.Writer, pred *inference.Prediction) error {
	_, err := fmt.Fprintln(w, pred.NextTokenID)
	return err
}
