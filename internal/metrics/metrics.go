// Package metrics records per-run timings and counters on a private
// Prometheus registry that can be exported as a node-exporter textfile.
package metrics

import (
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nexttoken"

// Stage names used with ObserveStage.
const (
	StageLoadTokenizer = "load_tokenizer"
	StageLoadSession   = "load_session"
	StageTokenize      = "tokenize"
	StageInference     = "inference"
)

// Recorder owns the registry and every collector of one process.
type Recorder struct {
	reg *prometheus.Registry

	StageDuration *prometheus.HistogramVec
	PromptTokens  prometheus.Counter
	Predictions   *prometheus.CounterVec
	Failures      *prometheus.CounterVec
	LogitMax      prometheus.Gauge
	LogitNaN      prometheus.Counter
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"stage"}),
		PromptTokens: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prompt_tokens_total",
			Help:      "Total number of prompt tokens fed to the model",
		}),
		Predictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Completed predictions by execution provider",
		}, []string{"backend"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Failed runs by stage",
		}, []string{"stage"}),
		LogitMax: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_logit_max",
			Help:      "Value of the selected logit in the last prediction",
		}),
		LogitNaN: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logit_nan_total",
			Help:      "NaN entries seen in selected logits rows",
		}),
	}
}

// Registry exposes the private registry for export and tests.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// ObserveStage records d under stage. A nil recorder is a no-op.
func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	if r == nil {
		return
	}
	r.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Time returns a func that records the elapsed time of stage when called.
func (r *Recorder) Time(stage string) func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		d := time.Since(start)
		r.ObserveStage(stage, d)
		return d
	}
}

func (r *Recorder) RecordPrompt(tokens int) {
	if r == nil {
		return
	}
	r.PromptTokens.Add(float64(tokens))
}

func (r *Recorder) RecordFailure(stage string) {
	if r == nil {
		return
	}
	r.Failures.WithLabelValues(stage).Inc()
}

// RecordPrediction notes a completed prediction and audits the row it
// was selected from.
func (r *Recorder) RecordPrediction(backend string, logit float32, row []float32) {
	if r == nil {
		return
	}
	r.Predictions.WithLabelValues(backend).Inc()
	r.LogitMax.Set(float64(logit))
	nan := 0
	for _, v := range row {
		if math.IsNaN(float64(v)) {
			nan++
		}
	}
	if nan > 0 {
		r.LogitNaN.Add(float64(nan))
	}
}

// WriteTextfile writes every metric to path in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
