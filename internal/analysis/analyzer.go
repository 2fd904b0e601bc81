// Package analysis runs the speech-understanding stage of a turn: decode the
// recording, transcribe it, fuse the emotion signals and score the result.
//
// Transcription is load-bearing: its failure fails the turn. Fusion never
// fails; a classifier outage yields a degraded decision that is scored as
// neutral.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/cho1y0/neulbom/internal/fusion"
	"github.com/cho1y0/neulbom/internal/scoring"
	"github.com/cho1y0/neulbom/pkg/audio"
	"github.com/cho1y0/neulbom/pkg/provider/stt"
	"github.com/cho1y0/neulbom/pkg/types"
)

// ErrEmptyRecording is returned for a recording with no samples.
var ErrEmptyRecording = errors.New("analysis: empty recording")

// Input is one recording to analyse.
type Input struct {
	// WAV is the raw RIFF/WAVE upload.
	WAV []byte

	// ResponseTimeSec is the measured first-word latency, if any.
	ResponseTimeSec *float64
}

// Analysis is the result of the speech-understanding stage.
type Analysis struct {
	Transcript types.Transcript  `json:"transcript"`
	Fusion     fusion.Result     `json:"-"`
	Scores     types.ScoreSet    `json:"scores"`
	Risk       scoring.RiskLevel `json:"risk"`

	// Feedback is the caregiver-facing description of the emotion score.
	Feedback string `json:"feedback"`

	// Language is the language STT detected, when it reports one.
	Language string `json:"language,omitempty"`

	// Clip is the decoded recording at 16 kHz.
	Clip audio.Clip `json:"-"`
}

// Decision returns the fusion decision, degraded or not.
func (a Analysis) Decision() types.FusionDecision { return a.Fusion.Decision }

// Analyzer runs the pipeline. It is safe for concurrent use.
type Analyzer struct {
	stt     stt.Provider
	sttCfg  stt.Config
	fusion  *fusion.Engine
	scoring *scoring.Engine
	risk    atomic.Pointer[scoring.RiskThresholds]
}

// Option configures an [Analyzer].
type Option func(*Analyzer)

// WithSTTConfig sets the language and prompt passed to the transcriber.
func WithSTTConfig(cfg stt.Config) Option {
	return func(a *Analyzer) { a.sttCfg = cfg }
}

// WithRiskThresholds overrides [scoring.DefaultRiskThresholds].
func WithRiskThresholds(t scoring.RiskThresholds) Option {
	return func(a *Analyzer) { a.risk.Store(&t) }
}

// New returns an Analyzer. All three collaborators are required.
func New(transcriber stt.Provider, fe *fusion.Engine, se *scoring.Engine, opts ...Option) (*Analyzer, error) {
	var errs []error
	if transcriber == nil {
		errs = append(errs, errors.New("analysis: stt provider is required"))
	}
	if fe == nil {
		errs = append(errs, errors.New("analysis: fusion engine is required"))
	}
	if se == nil {
		errs = append(errs, errors.New("analysis: scoring engine is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	a := &Analyzer{stt: transcriber, sttCfg: stt.Config{Language: "ko"}, fusion: fe, scoring: se}
	r := scoring.DefaultRiskThresholds()
	a.risk.Store(&r)
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// SetRiskThresholds replaces the risk thresholds for subsequent turns.
func (a *Analyzer) SetRiskThresholds(t scoring.RiskThresholds) { a.risk.Store(&t) }

// Fusion returns the fusion engine, for hot reload of its thresholds.
func (a *Analyzer) Fusion() *fusion.Engine { return a.fusion }

// Scoring returns the scoring engine, for hot reload of its bands.
func (a *Analyzer) Scoring() *scoring.Engine { return a.scoring }

// Analyze decodes in.WAV and runs it through the pipeline.
func (a *Analyzer) Analyze(ctx context.Context, in Input) (Analysis, error) {
	clip, err := audio.DecodeWAVBytes(in.WAV)
	if err != nil {
		return Analysis{}, fmt.Errorf("analysis: decode: %w", err)
	}
	return a.AnalyzeClip(ctx, clip, in.ResponseTimeSec)
}

// AnalyzeClip runs an already decoded recording through the pipeline.
func (a *Analyzer) AnalyzeClip(ctx context.Context, clip audio.Clip, responseTimeSec *float64) (Analysis, error) {
	if len(clip.Samples) == 0 || clip.SampleRate <= 0 {
		return Analysis{}, ErrEmptyRecording
	}
	clip = audio.To16k(clip)

	tr, err := a.stt.Transcribe(ctx, clip, a.sttCfg)
	if err != nil {
		return Analysis{}, fmt.Errorf("analysis: transcribe: %w", err)
	}
	transcript := NewTranscript(tr.Text, clip.Seconds(), responseTimeSec)

	res := a.fusion.Analyze(ctx, fusion.Input{Text: transcript.Text, Clip: clip})
	if res.IsDegraded() {
		slog.Warn("analysis: emotion fusion degraded", "reason", res.Reason)
	}

	scores := a.scoring.Compute(transcript, res.Decision)
	return Analysis{
		Transcript: transcript,
		Fusion:     res,
		Scores:     scores,
		Risk:       a.risk.Load().Risk(scores),
		Feedback:   scoring.Feedback(scores.Emotion),
		Language:   tr.Language,
		Clip:       clip,
	}, nil
}
