// Package fusion combines a text emotion classification, a speech emotion
// classification and a pitch-dynamics statistic into one [types.FusionDecision].
//
// The engine normalises both classifiers' labels through a [Vocabulary]
// resolved once at startup, applies three situational confidence boosts
// (pitch dynamics, positive override, masked distress), rescales the two
// scores jointly into [0, 1], and breaks close calls in favour of whichever
// side reports a negative emotion. Every adjustment is recorded in the
// decision's BoostReasons.
//
// Fuse never fails. Malformed inputs and internal panics produce a [Result]
// whose Outcome is [Degraded], carrying the fixed fallback decision, so
// callers can tell "the model said this" apart from "the model failed".
package fusion

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cho1y0/neulbom/internal/pitch"
	"github.com/cho1y0/neulbom/pkg/audio"
	"github.com/cho1y0/neulbom/pkg/provider/emotion"
	"github.com/cho1y0/neulbom/pkg/types"
)

// Outcome tags a [Result] as measured or fallen back.
type Outcome int

const (
	// OK means the decision reflects the classifiers' outputs.
	OK Outcome = iota

	// Degraded means the decision is the fixed fallback.
	Degraded
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	if o == Degraded {
		return "degraded"
	}
	return "ok"
}

// Result is the output of the engine.
type Result struct {
	Decision types.FusionDecision
	Outcome  Outcome

	// Reason explains a Degraded outcome. Empty for OK.
	Reason string
}

// IsDegraded reports whether r is the fallback decision.
func (r Result) IsDegraded() bool { return r.Outcome == Degraded }

// Thresholds holds the tunable heuristics.
type Thresholds struct {
	// HighZ and above multiplies the audio weight by HighZBoost.
	HighZ      float64 `yaml:"high_z"`
	HighZBoost float64 `yaml:"high_z_boost"`

	// Below LowZ multiplies the audio weight by LowZBoost.
	LowZ      float64 `yaml:"low_z"`
	LowZBoost float64 `yaml:"low_z_boost"`

	// PositiveConf is the text confidence at which positive text is boosted.
	PositiveConf  float64 `yaml:"positive_conf"`
	PositiveBoost float64 `yaml:"positive_boost"`

	MaskedBoost float64 `yaml:"masked_boost"`

	// Scores closer than TieMargin trigger the negative-first tie-break.
	TieMargin float64 `yaml:"tie_margin"`
	TieBoost  float64 `yaml:"tie_boost"`
}

// DefaultThresholds returns the stock heuristics.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HighZ:         2.0,
		HighZBoost:    1.3,
		LowZ:          1.0,
		LowZBoost:     0.7,
		PositiveConf:  0.8,
		PositiveBoost: 1.5,
		MaskedBoost:   1.4,
		TieMargin:     0.15,
		TieBoost:      1.2,
	}
}

// Input is everything the engine needs to analyse one utterance.
type Input struct {
	Text string
	Clip audio.Clip
}

// Engine fuses classifier outputs. It is safe for concurrent use;
// thresholds may be swapped at runtime with [Engine.SetThresholds].
type Engine struct {
	vocab      Vocabulary
	thresholds atomic.Pointer[Thresholds]

	textClf  emotion.Classifier
	audioClf emotion.Classifier
	pitch    *pitch.Analyzer
	timeout  time.Duration
}

// Option configures an [Engine].
type Option func(*Engine)

// WithThresholds overrides [DefaultThresholds].
func WithThresholds(t Thresholds) Option {
	return func(e *Engine) { e.thresholds.Store(&t) }
}

// WithClassifiers sets the classifiers used by [Engine.Analyze].
func WithClassifiers(text, audio emotion.Classifier) Option {
	return func(e *Engine) {
		e.textClf = text
		e.audioClf = audio
	}
}

// WithPitchAnalyzer overrides the default pitch analyzer.
func WithPitchAnalyzer(p *pitch.Analyzer) Option {
	return func(e *Engine) {
		if p != nil {
			e.pitch = p
		}
	}
}

// WithTimeout bounds each classifier call made by [Engine.Analyze].
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// New returns an Engine using vocab.
func New(vocab Vocabulary, opts ...Option) *Engine {
	e := &Engine{
		vocab:   vocab,
		pitch:   pitch.NewAnalyzer(pitch.DefaultSigmaMin),
		timeout: 30 * time.Second,
	}
	d := DefaultThresholds()
	e.thresholds.Store(&d)
	for _, o := range opts {
		o(e)
	}
	return e
}

// Vocabulary returns the engine's resolved vocabulary.
func (e *Engine) Vocabulary() Vocabulary { return e.vocab }

// Thresholds returns the thresholds currently in effect.
func (e *Engine) Thresholds() Thresholds { return *e.thresholds.Load() }

// SetThresholds replaces the thresholds for subsequent calls.
func (e *Engine) SetThresholds(t Thresholds) { e.thresholds.Store(&t) }

// Analyze classifies in with both classifiers and the pitch analyzer
// concurrently, then fuses the results. Classifier failures degrade the
// result rather than returning an error.
func (e *Engine) Analyze(ctx context.Context, in Input) Result {
	if e.textClf == nil || e.audioClf == nil {
		return degraded("classifiers not configured")
	}

	var (
		textOut  types.ClassifierOutput
		audioOut types.ClassifierOutput
		stat     types.PitchStat
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cctx, cancel := context.WithTimeout(gctx, e.timeout)
		defer cancel()
		out, err := e.textClf.Classify(cctx, emotion.Input{Text: in.Text})
		if err != nil {
			return fmt.Errorf("text classifier: %w", err)
		}
		textOut = out
		return nil
	})
	g.Go(func() error {
		cctx, cancel := context.WithTimeout(gctx, e.timeout)
		defer cancel()
		out, err := e.audioClf.Classify(cctx, emotion.Input{Audio: in.Clip.Samples, SampleRate: in.Clip.SampleRate})
		if err != nil {
			return fmt.Errorf("audio classifier: %w", err)
		}
		audioOut = out
		return nil
	})
	g.Go(func() error {
		stat = e.pitch.Analyze(in.Clip)
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Warn("fusion: classification failed", "err", err)
		return degraded(err.Error())
	}
	if stat.Degraded != "" {
		slog.Debug("fusion: pitch statistic degraded", "reason", stat.Degraded, "voiced_frames", stat.VoicedFrames)
	}
	return e.Fuse(textOut, audioOut, stat)
}

// Fuse combines two classifier outputs and a pitch statistic.
func (e *Engine) Fuse(text, audio types.ClassifierOutput, stat types.PitchStat) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("fusion: panic during fuse", "panic", fmt.Sprint(r))
			res = degraded(fmt.Sprintf("panic: %v", r))
		}
	}()

	if err := validate("text", text); err != nil {
		return degraded(err.Error())
	}
	if err := validate("audio", audio); err != nil {
		return degraded(err.Error())
	}
	z := stat.ZPeak
	if math.IsNaN(z) || math.IsInf(z, 0) || z < 0 {
		z = 0
	}

	th := e.Thresholds()

	// 1. Label normalisation.
	textLabel := e.vocab.Text.Table.Translate(text.Label)
	audioLabel := e.vocab.Audio.Translate(audio.Label)

	textWeight, audioWeight := 1.0, 1.0
	reasons := []string{}

	// 2. Pitch dynamics.
	switch {
	case z >= th.HighZ:
		audioWeight *= th.HighZBoost
		reasons = append(reasons, fmt.Sprintf("high pitch dynamics (z=%.2f): audio x%.1f", z, th.HighZBoost))
	case z < th.LowZ:
		audioWeight *= th.LowZBoost
		reasons = append(reasons, fmt.Sprintf("flat pitch dynamics (z=%.2f): audio x%.1f", z, th.LowZBoost))
	}

	// 3. Positive override.
	if e.vocab.isPositive(textLabel) && text.Confidence >= th.PositiveConf {
		textWeight *= th.PositiveBoost
		reasons = append(reasons, fmt.Sprintf("clear positive text (%.2f): text x%.1f", text.Confidence, th.PositiveBoost))
	}

	// 4. Masked distress.
	if e.vocab.isMasked(textLabel, audioLabel) {
		audioWeight *= th.MaskedBoost
		reasons = append(reasons, fmt.Sprintf("masked distress suspected (text=%s, audio=%s): audio x%.1f", textLabel, audioLabel, th.MaskedBoost))
	}

	// 5. Weighted scores, jointly rescaled when either exceeds 1.
	textScore := text.Confidence * textWeight
	audioScore := audio.Confidence * audioWeight
	if m := math.Max(textScore, audioScore); m > 1 {
		textScore /= m
		audioScore /= m
	}

	// 6. Safety tie-break: negative emotion wins close calls, audio first.
	if diff := math.Abs(textScore - audioScore); diff < th.TieMargin {
		switch {
		case e.vocab.isNegative(audioLabel):
			audioScore *= th.TieBoost
			reasons = append(reasons, fmt.Sprintf("close call (%.3f<%.2f): negative audio x%.1f", diff, th.TieMargin, th.TieBoost))
		case e.vocab.isNegative(textLabel):
			textScore *= th.TieBoost
			reasons = append(reasons, fmt.Sprintf("close call (%.3f<%.2f): negative text x%.1f", diff, th.TieMargin, th.TieBoost))
		}
	}

	// 7. Final selection; audio wins ties.
	d := types.FusionDecision{
		TextLabel:       textLabel,
		TextConfidence:  text.Confidence,
		AudioLabel:      audioLabel,
		AudioConfidence: audio.Confidence,
		TextScore:       textScore,
		AudioScore:      audioScore,
		ZPeak:           z,
		BoostReasons:    reasons,
		Candidates:      e.candidates(text),
	}
	if audioScore >= textScore {
		d.Source = types.SourceAudioPriority
		d.FinalLabel = audioLabel
		d.FinalConfidence = audioScore
	} else {
		d.Source = types.SourceTextPriority
		d.FinalLabel = textLabel
		d.FinalConfidence = textScore
	}
	return Result{Decision: d, Outcome: OK}
}

// candidates converts the text distribution into canonical percentages.
func (e *Engine) candidates(text types.ClassifierOutput) map[types.EmotionLabel]float64 {
	out := make(map[types.EmotionLabel]float64, len(text.Distribution))
	for native, p := range text.Distribution {
		out[e.vocab.Text.Table.Translate(native)] += p * 100
	}
	for k, v := range out {
		out[k] = math.Round(v*100) / 100
	}
	return out
}

func validate(side string, out types.ClassifierOutput) error {
	if out.Label == "" {
		return fmt.Errorf("%s classifier returned an empty label", side)
	}
	c := out.Confidence
	if math.IsNaN(c) || c < 0 || c > 1 {
		return fmt.Errorf("%s classifier confidence %v outside [0,1]", side, c)
	}
	return nil
}

// Fallback returns the decision used when fusion cannot run.
func Fallback() types.FusionDecision {
	return types.FusionDecision{
		TextLabel:       types.EmotionUnknown,
		TextConfidence:  0.5,
		AudioLabel:      types.EmotionUnknown,
		AudioConfidence: 0.5,
		TextScore:       0.5,
		AudioScore:      0.5,
		BoostReasons:    []string{},
		Source:          types.SourceError,
		FinalLabel:      types.EmotionUnknown,
		FinalConfidence: 0.5,
		Candidates:      map[types.EmotionLabel]float64{},
	}
}

func degraded(reason string) Result {
	return Result{Decision: Fallback(), Outcome: Degraded, Reason: reason}
}
