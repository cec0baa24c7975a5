package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/triandco/nexttoken/internal/kvcache"
	"github.com/triandco/nexttoken/internal/logger"
	"github.com/triandco/nexttoken/internal/logits"
	"github.com/triandco/nexttoken/internal/metrics"
	"github.com/triandco/nexttoken/internal/model"
	"github.com/triandco/nexttoken/internal/tokenizer"
)

// Encoder is the tokenizer surface the predictor needs.
type Encoder interface {
	EncodeSpecial(text string, addSpecial bool) (tokenizer.Encoding, error)
	Decode(ids []int) (string, error)
	TokenString(id int) string
	EOSID() int
}

type PredictorOptions struct {
	// Backend labels metrics and logs.
	Backend string
	// TopK > 0 fills Prediction.Candidates.
	TopK    int
	Logger  logger.Logger
	Metrics *metrics.Recorder
}

type Timings struct {
	Tokenize  time.Duration
	Inference time.Duration
}

// Prediction is the outcome of one forward pass.
type Prediction struct {
	PromptIDs   []int
	Tokens      []string
	NextTokenID int
	NextToken   string
	Logit       float32
	EOS         bool
	Candidates  []logits.Candidate
	Timings     Timings
}

// Predictor feeds a prompt through a decoder once and selects the most
// likely next token.
type Predictor struct {
	tok     Encoder
	cfg     model.Config
	sess    Session
	opts    PredictorOptions
	stop    []int
	release func() error
}

func NewPredictor(tok Encoder, cfg model.Config, sess Session, opts PredictorOptions) *Predictor {
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	return &Predictor{
		tok:  tok,
		cfg:  cfg,
		sess: sess,
		opts: opts,
		stop: StopTokens(cfg, tok),
	}
}

func (p *Predictor) Config() model.Config { return p.cfg }

// Predict tokenizes prompt with the tokenizer's special tokens, runs the
// decoder with an empty cache and returns the arg-max of the last
// position's logits over the first VocabSize entries.
func (p *Predictor) Predict(ctx context.Context, prompt string) (*Prediction, error) {
	log := p.opts.Logger
	rec := p.opts.Metrics

	stopTok := rec.Time(metrics.StageTokenize)
	enc, err := safeEncode(p.tok, prompt)
	if err != nil {
		rec.RecordFailure(metrics.StageTokenize)
		return nil, fmt.Errorf("tokenize: %w", err)
	}
	tokenizeTime := stopTok()

	cache, err := kvcache.New(p.cfg, 1)
	if err != nil {
		return nil, err
	}
	batch, err := NewBatch(enc, cache)
	if err != nil {
		return nil, err
	}
	rec.RecordPrompt(batch.Len())
	log.Debug("prompt encoded", "prompt", prompt, "ids", enc.IDs, "tokens", enc.Tokens, "cache_slots", cache.Len())

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stopRun := rec.Time(metrics.StageInference)
	out, err := safeRun(ctx, p.sess, batch)
	if err != nil {
		rec.RecordFailure(metrics.StageInference)
		return nil, fmt.Errorf("inference: %w", err)
	}
	inferenceTime := stopRun()

	row, err := out.LastRow(p.cfg.VocabSize)
	if err != nil {
		return nil, err
	}
	id, err := logits.Argmax(row)
	if err != nil {
		return nil, err
	}
	rec.RecordPrediction(p.opts.Backend, row[id], row)

	pred := &Prediction{
		PromptIDs:   enc.IDs,
		Tokens:      enc.Tokens,
		NextTokenID: id,
		NextToken:   p.tokenText(id),
		Logit:       row[id],
		EOS:         p.isStop(id),
		Timings:     Timings{Tokenize: tokenizeTime, Inference: inferenceTime},
	}
	if p.opts.TopK > 0 {
		pred.Candidates = logits.Top(row, p.opts.TopK)
	}
	log.Debug("next token selected", "id", id, "logit", pred.Logit, "eos", pred.EOS, "inference", inferenceTime)
	return pred, nil
}

// tokenText decodes id for display. Ids in the padded tail of the logits
// have no vocabulary entry and decode to the empty string.
func (p *Predictor) tokenText(id int) string {
	text, err := p.tok.Decode([]int{id})
	if err != nil || text == "" {
		return p.tok.TokenString(id)
	}
	return text
}

func (p *Predictor) isStop(id int) bool {
	for _, s := range p.stop {
		if s == id {
			return true
		}
	}
	return false
}

// Close releases the session and, when the predictor owns it, the runtime
// environment.
func (p *Predictor) Close() error {
	var errs []error
	if p.sess != nil {
		errs = append(errs, p.sess.Close())
		p.sess = nil
	}
	if p.release != nil {
		errs = append(errs, p.release())
		p.release = nil
	}
	return errors.Join(errs...)
}

func safeEncode(tok Encoder, prompt string) (enc tokenizer.Encoding, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Encode: %v", rec)
		}
	}()
	return tok.EncodeSpecial(prompt, true)
}

func safeRun(ctx context.Context, sess Session, batch *Batch) (out logits.Tensor, err error) {
	if sess == nil {
		return logits.Tensor{}, errors.New("session is closed")
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Run: %v", rec)
		}
	}()
	return sess.Run(ctx, batch)
}
