package main

import (
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/triandco/nexttoken/internal/logger"
)

// setupLogger builds the stderr logger for one invocation and tags it
// with a fresh run id. --show-token and --top-k report at info, so they
// lift a quieter level.
func setupLogger(w io.Writer) (logger.Logger, error) {
	level := logLevel
	switch {
	case debug:
		level = "debug"
	case (showToken || topK > 0) && logger.ParseLevel(level) > slog.LevelInfo:
		level = "info"
	}
	log, err := logger.Setup(w, logFormat, level)
	if err != nil {
		return nil, err
	}
	return log.With("run_id", uuid.NewString()), nil
}
