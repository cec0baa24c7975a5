package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/triandco/nexttoken/internal/tokenizer"
)

func tokenizeCmd() *cli.Command {
	var (
		asJSON    bool
		noSpecial bool
	)

	return &cli.Command{
		Name:  "tokenize",
		Usage: "Print the token ids of the prompt without loading the model",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print ids, tokens and attention mask as JSON", Destination: &asJSON},
			&cli.BoolFlag{Name: "no-special", Usage: "do not add the leading special token", Destination: &noSpecial},
		},
		Action: func(_ context.Context, c *cli.Command) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			applyConfig(c, cfg)
			log, err := setupLogger(os.Stderr)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			tok, err := newLoader(cfg, log, nil).LoadTokenizer()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			enc, err := tok.EncodeSpecial(prompt, !noSpecial)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: tokenize: %v", err), 1)
			}
			if err := printEncoding(os.Stdout, enc, asJSON); err != nil {
				return cli.Exit(fmt.Sprintf("error: write result: %v", err), 1)
			}
			return nil
		},
	}
}

func printEncoding(w io.Writer, enc tokenizer.Encoding, asJSON bool) error {
	if asJSON {
		out, err := json.Marshal(struct {
			IDs           []int    `json:"ids"`
			Tokens        []string `json:"tokens"`
			AttentionMask []int    `json:"attention_mask"`
		}{enc.IDs, enc.Tokens, enc.AttentionMask})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(out))
		return err
	}
	parts := make([]string, len(enc.IDs))
	for i, id := range enc.IDs {
		parts[i] = fmt.Sprintf("%d", id)
	}
	_, err := fmt.Fprintln(w, strings.Join(parts, " "))
	return err
}
