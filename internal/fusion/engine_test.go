package fusion_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/cho1y0/neulbom/internal/fusion"
	"github.com/cho1y0/neulbom/pkg/audio"
	"github.com/cho1y0/neulbom/pkg/provider/emotion/mock"
	"github.com/cho1y0/neulbom/pkg/types"
)

func newEngine(t *testing.T, textProfile string) *fusion.Engine {
	t.Helper()
	v, err := fusion.Resolve(textProfile, fusion.ProfileSpeech5)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return fusion.New(v)
}

func out(label string, conf float64) types.ClassifierOutput {
	return types.ClassifierOutput{Label: label, Confidence: conf, Distribution: map[string]float64{label: conf}}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestFuse_NoTriggersLeavesWeightsAlone(t *testing.T) {
	e := newEngine(t, fusion.ProfileGeneric7)
	res := e.Fuse(out("surprise", 0.6), out("happy", 0.3), types.PitchStat{ZPeak: 1.5})
	if res.IsDegraded() {
		t.Fatalf("unexpected degraded result: %s", res.Reason)
	}
	d := res.Decision
	if len(d.BoostReasons) != 0 {
		t.Errorf("BoostReasons = %v, want empty", d.BoostReasons)
	}
	if !approx(d.TextScore, 0.6) || !approx(d.AudioScore, 0.3) {
		t.Errorf("scores = (%v, %v), want raw confidences (0.6, 0.3)", d.TextScore, d.AudioScore)
	}
	if d.Source != types.SourceTextPriority || d.FinalLabel != types.EmotionSurprise {
		t.Errorf("final = %s via %s, want surprise via text_priority", d.FinalLabel, d.Source)
	}
}

func TestFuse_PitchModulation(t *testing.T) {
	tests := []struct {
		name      string
		z         float64
		wantAudio float64
	}{
		{"high excitation", 2.0, 0.4 * 1.3},
		{"dead zone low edge", 1.0, 0.4},
		{"dead zone", 1.99, 0.4},
		{"flat delivery", 0.99, 0.4 * 0.7},
		{"degraded pitch counts as flat", 0, 0.4 * 0.7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, fusion.ProfileGeneric7)
			res := e.Fuse(out("surprise", 0.9), out("happy", 0.4), types.PitchStat{ZPeak: tt.z})
			if !approx(res.Decision.AudioScore, tt.wantAudio) {
				t.Errorf("AudioScore = %v, want %v", res.Decision.AudioScore, tt.wantAudio)
			}
		})
	}
}

func TestFuse_PositiveOverride(t *testing.T) {
	e := newEngine(t, fusion.ProfileGeneric7)
	// Text 0.8 x 1.5 = 1.2 is rescaled to 1.0; audio 0.9 x 1.0 / 1.2 = 0.75.
	res := e.Fuse(out("happiness", 0.8), out("neutral", 0.9), types.PitchStat{ZPeak: 1.5})
	d := res.Decision
	if !approx(d.TextScore, 1.0) || !approx(d.AudioScore, 0.75) {
		t.Errorf("scores = (%v, %v), want (1.0, 0.75)", d.TextScore, d.AudioScore)
	}
	if d.FinalLabel != types.EmotionHappiness || d.Source != types.SourceTextPriority {
		t.Errorf("final = %s via %s, want happiness via text", d.FinalLabel, d.Source)
	}
	if len(d.BoostReasons) != 1 {
		t.Errorf("BoostReasons = %v, want one positive-override entry", d.BoostReasons)
	}

	// Below the confidence threshold the boost does not fire.
	res = e.Fuse(out("happiness", 0.79), out("neutral", 0.3), types.PitchStat{ZPeak: 1.5})
	if len(res.Decision.BoostReasons) != 0 {
		t.Errorf("BoostReasons = %v, want none below threshold", res.Decision.BoostReasons)
	}
}

func TestFuse_MaskedDistress(t *testing.T) {
	tests := []struct {
		name      string
		profile   string
		text      types.ClassifierOutput
		audio     types.ClassifierOutput
		wantBoost bool
	}{
		{"generic neutral text, sad voice", fusion.ProfileGeneric7, out("neutral", 0.7), out("sad", 0.5), true},
		{"generic neutral text, fearful voice reads anxiety", fusion.ProfileGeneric7, out("neutral", 0.7), out("fear", 0.5), true},
		{"generic happy text, sad voice", fusion.ProfileGeneric7, out("happy", 0.7), out("sad", 0.5), false},
		{"korean happy text, sad voice", fusion.ProfileKorean6, out("기쁨", 0.7), out("sad", 0.5), true},
		{"korean happy text, anxious voice", fusion.ProfileKorean6, out("LABEL_0", 0.7), out("2", 0.5), true},
		{"korean sad text, sad voice", fusion.ProfileKorean6, out("슬픔", 0.7), out("sad", 0.5), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, tt.profile)
			res := e.Fuse(tt.text, tt.audio, types.PitchStat{ZPeak: 1.5})
			want := tt.audio.Confidence
			if tt.wantBoost {
				want *= 1.4
			}
			got := res.Decision.AudioScore
			// The tie-break may add a further x1.2 on top; undo it for the check.
			if res.Decision.AudioScore > want+1e-9 {
				got /= 1.2
			}
			if !approx(got, want) {
				t.Errorf("AudioScore before tie-break = %v, want %v (reasons %v)", got, want, res.Decision.BoostReasons)
			}
		})
	}
}

func TestFuse_Normalisation(t *testing.T) {
	e := newEngine(t, fusion.ProfileGeneric7)
	// Audio 0.9 x 1.3 = 1.17 > 1, so both scores are divided by 1.17.
	res := e.Fuse(out("surprise", 0.585), out("happy", 0.9), types.PitchStat{ZPeak: 3})
	d := res.Decision
	if !approx(d.AudioScore, 1.0) {
		t.Errorf("AudioScore = %v, want 1.0", d.AudioScore)
	}
	if !approx(d.TextScore, 0.5) {
		t.Errorf("TextScore = %v, want 0.5", d.TextScore)
	}
	if d.FinalConfidence > 1 {
		t.Errorf("FinalConfidence = %v exceeds 1 without a tie-break", d.FinalConfidence)
	}
}

func TestFuse_TieBreakBoostsNegativeAudio(t *testing.T) {
	e := newEngine(t, fusion.ProfileGeneric7)
	res := e.Fuse(out("surprise", 0.50), out("sad", 0.60), types.PitchStat{ZPeak: 1.5})
	d := res.Decision
	if !approx(d.AudioScore, 0.72) {
		t.Fatalf("AudioScore = %v, want 0.60 x 1.2 = 0.72", d.AudioScore)
	}
	if d.FinalLabel != types.EmotionSadness || !approx(d.FinalConfidence, 0.72) {
		t.Errorf("final = %s @ %v, want sadness @ 0.72", d.FinalLabel, d.FinalConfidence)
	}
	if d.Source != types.SourceAudioPriority {
		t.Errorf("Source = %s, want audio_priority", d.Source)
	}
}

func TestFuse_TieBreakCanFlipToNegativeText(t *testing.T) {
	e := newEngine(t, fusion.ProfileGeneric7)
	// Raw audio leads 0.60 to 0.55; negative text x1.2 = 0.66 overtakes it.
	res := e.Fuse(out("sadness", 0.55), out("happy", 0.60), types.PitchStat{ZPeak: 1.5})
	d := res.Decision
	if d.FinalLabel != types.EmotionSadness || d.Source != types.SourceTextPriority {
		t.Errorf("final = %s via %s, want sadness via text_priority", d.FinalLabel, d.Source)
	}
	if !approx(d.TextScore, 0.66) {
		t.Errorf("TextScore = %v, want 0.66", d.TextScore)
	}
	// Loser retained for display.
	if d.AudioLabel != types.EmotionHappiness || d.AudioConfidence != 0.60 {
		t.Errorf("audio side lost: %s @ %v", d.AudioLabel, d.AudioConfidence)
	}
}

func TestFuse_AudioWinsExactTie(t *testing.T) {
	e := newEngine(t, fusion.ProfileGeneric7)
	res := e.Fuse(out("surprise", 0.5), out("happy", 0.5), types.PitchStat{ZPeak: 1.5})
	if res.Decision.Source != types.SourceAudioPriority {
		t.Errorf("Source = %s, want audio_priority on an exact tie", res.Decision.Source)
	}
}

func TestFuse_Candidates(t *testing.T) {
	e := newEngine(t, fusion.ProfileGeneric7)
	text := types.ClassifierOutput{
		Label:      "sad",
		Confidence: 0.6,
		Distribution: map[string]float64{
			"sad":       0.6,
			"heartache": 0.123456,
			"happy":     0.276544,
		},
	}
	res := e.Fuse(text, out("neutral", 0.4), types.PitchStat{ZPeak: 1.5})
	c := res.Decision.Candidates
	if !approx(c[types.EmotionSadness], 72.35) {
		t.Errorf("sadness candidate = %v, want 72.35 (sad + heartache)", c[types.EmotionSadness])
	}
	if !approx(c[types.EmotionHappiness], 27.65) {
		t.Errorf("happiness candidate = %v, want 27.65", c[types.EmotionHappiness])
	}
}

func TestFuse_DegradesOnMalformedInput(t *testing.T) {
	e := newEngine(t, fusion.ProfileGeneric7)
	tests := []struct {
		name  string
		text  types.ClassifierOutput
		audio types.ClassifierOutput
	}{
		{"empty text label", types.ClassifierOutput{Confidence: 0.5}, out("sad", 0.5)},
		{"audio confidence above one", out("sad", 0.5), out("sad", 1.5)},
		{"NaN confidence", out("sad", math.NaN()), out("sad", 0.5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Fuse(tt.text, tt.audio, types.PitchStat{ZPeak: 3})
			if !res.IsDegraded() {
				t.Fatal("expected degraded outcome")
			}
			d := res.Decision
			if d.FinalLabel != types.EmotionUnknown || d.Source != types.SourceError {
				t.Errorf("decision = %s via %s, want unknown via error", d.FinalLabel, d.Source)
			}
			if d.TextConfidence != 0.5 || d.AudioConfidence != 0.5 || d.FinalConfidence != 0.5 {
				t.Errorf("confidences = %v/%v/%v, want 0.5", d.TextConfidence, d.AudioConfidence, d.FinalConfidence)
			}
			if d.ZPeak != 0 || len(d.BoostReasons) != 0 {
				t.Errorf("z=%v reasons=%v, want zero and empty", d.ZPeak, d.BoostReasons)
			}
			if res.Reason == "" {
				t.Error("degraded result has no reason")
			}
		})
	}
}

func TestSetThresholds(t *testing.T) {
	e := newEngine(t, fusion.ProfileGeneric7)
	th := fusion.DefaultThresholds()
	th.TieMargin = 0
	e.SetThresholds(th)

	res := e.Fuse(out("surprise", 0.50), out("sad", 0.55), types.PitchStat{ZPeak: 1.5})
	if len(res.Decision.BoostReasons) != 0 {
		t.Errorf("tie-break fired with zero margin: %v", res.Decision.BoostReasons)
	}
	if e.Thresholds().TieMargin != 0 {
		t.Error("Thresholds did not reflect SetThresholds")
	}
}

func TestAnalyze(t *testing.T) {
	v, _ := fusion.Resolve(fusion.ProfileGeneric7, fusion.ProfileSpeech5)
	clip := audio.Clip{Samples: make([]float32, 16000), SampleRate: 16000}

	t.Run("success", func(t *testing.T) {
		textClf := &mock.Classifier{Output: out("neutral", 0.7)}
		audioClf := &mock.Classifier{Output: out("sad", 0.6)}
		e := fusion.New(v, fusion.WithClassifiers(textClf, audioClf))

		res := e.Analyze(context.Background(), fusion.Input{Text: "그냥 그래요", Clip: clip})
		if res.IsDegraded() {
			t.Fatalf("unexpected degraded result: %s", res.Reason)
		}
		if textClf.Calls[0].Input.Text != "그냥 그래요" {
			t.Errorf("text classifier got %q", textClf.Calls[0].Input.Text)
		}
		if audioClf.Calls[0].Input.SampleRate != 16000 {
			t.Errorf("audio classifier got rate %d", audioClf.Calls[0].Input.SampleRate)
		}
		// Silence gives z=0: flat x0.7, masked x1.4 → 0.588 vs 0.7, diff 0.112 → sad x1.2.
		if res.Decision.FinalLabel != types.EmotionSadness {
			t.Errorf("FinalLabel = %s, want sadness", res.Decision.FinalLabel)
		}
	})

	t.Run("classifier failure degrades", func(t *testing.T) {
		textClf := &mock.Classifier{Output: out("neutral", 0.7)}
		audioClf := &mock.Classifier{Err: errors.New("model offline")}
		e := fusion.New(v, fusion.WithClassifiers(textClf, audioClf))

		res := e.Analyze(context.Background(), fusion.Input{Text: "x", Clip: clip})
		if !res.IsDegraded() {
			t.Fatal("expected degraded outcome")
		}
		if res.Decision.FinalLabel != types.EmotionUnknown {
			t.Errorf("FinalLabel = %s, want unknown", res.Decision.FinalLabel)
		}
	})

	t.Run("no classifiers", func(t *testing.T) {
		e := fusion.New(v)
		if res := e.Analyze(context.Background(), fusion.Input{}); !res.IsDegraded() {
			t.Error("expected degraded outcome without classifiers")
		}
	})
}
