package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/triandco/nexttoken/internal/inference"
	"github.com/triandco/nexttoken/internal/logger"
	"github.com/triandco/nexttoken/internal/logits"
	"github.com/triandco/nexttoken/internal/model"
	"github.com/triandco/nexttoken/internal/onnx"
	"github.com/triandco/nexttoken/internal/tokenizer"
)

// paddedSession returns logits whose exported vocab is wider than the
// tokenizer's, with the largest values in the padding.
type paddedSession struct{ vocab int }

func (s paddedSession) Run(_ context.Context, b *inference.Batch) (logits.Tensor, error) {
	n := b.Len()
	data := make([]float32, n*s.vocab)
	last := data[(n-1)*s.vocab:]
	last[100], last[200] = 4, 4
	for i := model.Phi3VocabSize; i < s.vocab; i++ {
		last[i] = 1e4
	}
	return logits.Tensor{Data: data, Shape: []int64{1, int64(n), int64(s.vocab)}}, nil
}

func (paddedSession) Close() error { return nil }

func TestNewLoader(t *testing.T) {
	resetFlags(t)
	t.Setenv(onnx.LibraryPathEnv, "/env/libonnxruntime.so")

	dataDir = " assets "
	modelPath = "/models/phi3.onnx"
	provider = "cuda"
	deviceID = 1
	intraOpThreads = 2

	l := newLoader(Config{}, logger.Discard(), nil)
	if l.DataDir != "assets" {
		t.Fatalf("unexpected data dir %q", l.DataDir)
	}
	if l.TokenizerPath != filepath.Join("assets", "tokenizer.json") {
		t.Fatalf("unexpected tokenizer path %q", l.TokenizerPath)
	}
	if l.ModelPath != "/models/phi3.onnx" {
		t.Fatalf("model override lost: %q", l.ModelPath)
	}
	if l.LibraryPath != "/env/libonnxruntime.so" {
		t.Fatalf("expected env library path, got %q", l.LibraryPath)
	}
	if l.Backend.Name != "cuda" || l.Backend.DeviceID != 1 || l.IntraOpThreads != 2 {
		t.Fatalf("unexpected runtime options %+v", l)
	}
}

func TestNewLoaderLibraryPrecedence(t *testing.T) {
	resetFlags(t)
	t.Setenv(onnx.LibraryPathEnv, "/env/lib.so")

	if l := newLoader(Config{LibraryPath: "/conf/lib.so"}, nil, nil); l.LibraryPath != "/conf/lib.so" {
		t.Fatalf("config should beat env, got %q", l.LibraryPath)
	}
	libraryPath = "/flag/lib.so"
	if l := newLoader(Config{LibraryPath: "/conf/lib.so"}, nil, nil); l.LibraryPath != "/flag/lib.so" {
		t.Fatalf("flag should beat config, got %q", l.LibraryPath)
	}
}

func TestSetupLoggerAddsRunID(t *testing.T) {
	resetFlags(t)
	logFormat = "json"
	logLevel = "error"
	debug = true

	var buf bytes.Buffer
	log, err := setupLogger(&buf)
	if err != nil {
		t.Fatal(err)
	}
	log.Debug("probe")
	out := buf.String()
	if !strings.Contains(out, `"run_id":"`) {
		t.Fatalf("expected run_id in output, got %s", out)
	}
	if !strings.Contains(out, "probe") {
		t.Fatalf("--debug should lower the level, got %s", out)
	}

	logFormat = "xml"
	if _, err := setupLogger(&buf); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestSetupLoggerLiftsLevelForReports(t *testing.T) {
	resetFlags(t)
	showToken = true

	var buf bytes.Buffer
	log, err := setupLogger(&buf)
	if err != nil {
		t.Fatal(err)
	}
	log.Info("next token", "id", 29892)
	if !strings.Contains(buf.String(), "id=29892") {
		t.Fatalf("--show-token should surface info records, got %q", buf.String())
	}

	buf.Reset()
	showToken, logLevel = false, "error"
	topK = 3
	if log, err = setupLogger(&buf); err != nil {
		t.Fatal(err)
	}
	log.Info("candidate", "rank", 1)
	if !strings.Contains(buf.String(), "rank=1") {
		t.Fatalf("--top-k should surface info records, got %q", buf.String())
	}
}

func TestPrintedIDStaysInsideVocab(t *testing.T) {
	tok, err := tokenizer.LoadHFTokenizer(filepath.Join("..", "..", "internal", "tokenizer", "testdata", "sentencepiece.json"), "")
	if err != nil {
		t.Fatal(err)
	}
	p := inference.NewPredictor(tok, model.Default(), paddedSession{vocab: 32128}, inference.PredictorOptions{})
	defer p.Close()

	pred, err := p.Predict(context.Background(), defaultPrompt)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := printPrediction(&buf, pred); err != nil {
		t.Fatal(err)
	}
	id, err := strconv.Atoi(strings.TrimSuffix(buf.String(), "\n"))
	if err != nil {
		t.Fatalf("expected a single integer line, got %q", buf.String())
	}
	if id < 0 || id >= model.Phi3VocabSize {
		t.Fatalf("printed id %d outside [0, %d)", id, model.Phi3VocabSize)
	}
	if id != 200 {
		t.Fatalf("expected the later tied id 200, got %d", id)
	}
}

func TestPrintPrediction(t *testing.T) {
	var buf bytes.Buffer
	if err := printPrediction(&buf, &inference.Prediction{NextTokenID: 29892, NextToken: ","}); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "29892\n" {
		t.Fatalf("expected a single id line, got %q", buf.String())
	}
}

func TestPrintEncoding(t *testing.T) {
	enc := tokenizer.Encoding{IDs: []int{1, 22172, 3186}, Tokens: []string{"<s>", "▁hello", "▁world"}, AttentionMask: []int{1, 1, 1}}

	var buf bytes.Buffer
	if err := printEncoding(&buf, enc, false); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "1 22172 3186\n" {
		t.Fatalf("unexpected plain output %q", buf.String())
	}

	buf.Reset()
	if err := printEncoding(&buf, enc, true); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"ids":[1,22172,3186]`) || !strings.Contains(buf.String(), `"attention_mask":[1,1,1]`) {
		t.Fatalf("unexpected json output %q", buf.String())
	}
}
