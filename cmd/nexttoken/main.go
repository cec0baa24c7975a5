package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	app := &cli.Command{
		Name:   "nexttoken",
		Usage:  "Predict the next token of a prompt with an ONNX decoder model",
		Flags:  append(append(commonFlags(), runFlags()...), loggingFlags()...),
		Action: runAction,
		Commands: []*cli.Command{
			runCmd(),
			tokenizeCmd(),
			inspectCmd(),
			versionCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
