package scoring_test

import (
	"math"
	"strings"
	"testing"

	"github.com/cho1y0/neulbom/internal/scoring"
	"github.com/cho1y0/neulbom/pkg/types"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestScore(t *testing.T) {
	tests := []struct {
		name        string
		v, min, max float64
		want        float64
	}{
		{"inside band", 120, 100, 150, 100},
		{"at lower edge", 100, 100, 150, 100},
		{"at upper edge", 150, 100, 150, 100},
		{"below band", 50, 100, 150, 50},
		{"zero below band", 0, 100, 150, 0},
		{"above band", 225, 100, 150, 50},
		{"twice max", 300, 100, 150, 0},
		{"far above band floors at zero", 1000, 100, 150, 0},
		{"zero lower bound, in band", 0, 0, 2, 100},
		{"zero lower bound, negative", -1, 0, 2, 0},
		{"nan", math.NaN(), 0, 2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := scoring.Score(tt.v, tt.min, tt.max); !approx(got, tt.want) {
				t.Errorf("Score(%v, %v, %v) = %v, want %v", tt.v, tt.min, tt.max, got, tt.want)
			}
		})
	}
}

func TestScore_Bounded(t *testing.T) {
	for v := -50.0; v <= 500; v += 0.5 {
		s := scoring.Score(v, 100, 150)
		if s < 0 || s > 100 {
			t.Fatalf("Score(%v) = %v outside [0,100]", v, s)
		}
	}
}

func TestEmotionScore(t *testing.T) {
	tests := []struct {
		label types.EmotionLabel
		conf  float64
		want  float64
	}{
		{types.EmotionHappiness, 0, 80},
		{types.EmotionHappiness, 1, 100},
		{types.EmotionHappiness, 0.55, 91},
		{types.EmotionNeutral, 0.5, 75},
		{types.EmotionSadness, 0.9, 6},
		{types.EmotionAnger, 1, 0},
		{types.EmotionAnxiety, 0, 60},
		{types.EmotionUnknown, 0.5, 30},
		{"", 0, 60},
		{types.EmotionSadness, 1.7, 0},
		{types.EmotionHappiness, -3, 80},
	}
	for _, tt := range tests {
		t.Run(string(tt.label), func(t *testing.T) {
			if got := scoring.EmotionScore(tt.label, tt.conf); !approx(got, tt.want) {
				t.Errorf("EmotionScore(%s, %v) = %v, want %v", tt.label, tt.conf, got, tt.want)
			}
		})
	}
}

func TestEmotionScore_Monotonic(t *testing.T) {
	prevPos, prevNeu, prevNeg := -1.0, -1.0, 101.0
	for c := 0.0; c <= 1.0; c += 0.01 {
		pos := scoring.EmotionScore(types.EmotionHappiness, c)
		neu := scoring.EmotionScore(types.EmotionNeutral, c)
		neg := scoring.EmotionScore(types.EmotionFear, c)
		if pos < prevPos || neu < prevNeu || neg > prevNeg {
			t.Fatalf("monotonicity broken at confidence %.2f: pos=%v neu=%v neg=%v", c, pos, neu, neg)
		}
		prevPos, prevNeu, prevNeg = pos, neu, neg
	}
}

func TestCompute_Perfect(t *testing.T) {
	rt := 0.0
	tr := types.Transcript{
		Text:            "오늘은 날씨가 좋아서 공원에 산책을 다녀왔어요",
		WordCount:       6,
		DurationSec:     3,
		WPM:             120,
		AvgSilenceSec:   0,
		VPR:             5,
		TTR:             0.8,
		ResponseTimeSec: &rt,
	}
	d := types.FusionDecision{
		FinalLabel:      types.EmotionHappiness,
		AudioLabel:      types.EmotionHappiness,
		AudioConfidence: 1,
		Source:          types.SourceAudioPriority,
	}
	s := scoring.NewEngine(scoring.DefaultBands()).Compute(tr, d)
	for name, v := range map[string]float64{
		"speed": s.Speed, "duration": s.Duration, "response": s.Response,
		"word_count": s.WordCount, "vocabulary": s.Vocabulary, "silence": s.Silence,
		"emotion": s.Emotion, "vitality": s.Vitality, "average": s.Average,
	} {
		if v != 100 {
			t.Errorf("%s = %v, want 100", name, v)
		}
	}
}

func TestCompute_EmotionUsesAudioConfidence(t *testing.T) {
	d := types.FusionDecision{
		FinalLabel:      types.EmotionSadness,
		FinalConfidence: 0.4,
		AudioLabel:      types.EmotionSadness,
		AudioConfidence: 0.9,
		Source:          types.SourceAudioPriority,
	}
	s := scoring.NewEngine(scoring.DefaultBands()).Compute(types.Transcript{}, d)
	if !approx(s.Emotion, 6) {
		t.Errorf("emotion = %v, want 6", s.Emotion)
	}
}

func TestCompute_DegradedDecision(t *testing.T) {
	d := types.FusionDecision{
		FinalLabel:      types.EmotionUnknown,
		AudioConfidence: 0.5,
		Source:          types.SourceError,
	}
	s := scoring.NewEngine(scoring.DefaultBands()).Compute(types.Transcript{}, d)
	if s.Emotion != 30 {
		t.Errorf("emotion = %v, want 30", s.Emotion)
	}
	if got := scoring.DefaultRiskThresholds().Risk(s); got != scoring.RiskHigh {
		t.Errorf("risk = %s, want high for a classifier outage", got)
	}
}

func TestCompute_NilResponseTimeNotPenalised(t *testing.T) {
	s := scoring.NewEngine(scoring.DefaultBands()).Compute(types.Transcript{}, types.FusionDecision{})
	if s.Response != 100 {
		t.Errorf("response = %v, want 100", s.Response)
	}
}

func TestCompute_AverageIsUnweightedMean(t *testing.T) {
	tr := types.Transcript{WPM: 50, DurationSec: 5, WordCount: 10, TTR: 0.7, VPR: 4}
	s := scoring.NewEngine(scoring.DefaultBands()).Compute(tr, types.FusionDecision{
		FinalLabel: types.EmotionNeutral, AudioConfidence: 0.5, Source: types.SourceAudioPriority,
	})
	want := (s.Speed + s.Duration + s.Response + s.WordCount + s.Vocabulary + s.Silence + s.Emotion + s.Vitality) / 8
	if !approx(s.Average, want) {
		t.Errorf("average = %v, want %v", s.Average, want)
	}
	if !approx(s.Speed, 50) {
		t.Errorf("speed = %v, want 50", s.Speed)
	}
}

func TestEngine_SetBands(t *testing.T) {
	e := scoring.NewEngine(scoring.DefaultBands())
	b := e.Bands()
	b.Speed = scoring.Band{Min: 40, Max: 60, Weight: 1}
	e.SetBands(b)

	s := e.Compute(types.Transcript{WPM: 50}, types.FusionDecision{})
	if s.Speed != 100 {
		t.Errorf("speed after SetBands = %v, want 100", s.Speed)
	}
}

func TestBands_Validate(t *testing.T) {
	if err := scoring.DefaultBands().Validate(); err != nil {
		t.Fatalf("default bands invalid: %v", err)
	}
	b := scoring.DefaultBands()
	b.Speed.Min = 200
	b.Silence.Max = 0
	err := b.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"scoring.speed", "scoring.silence"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestBands_WithDefaults(t *testing.T) {
	b := scoring.Bands{Speed: scoring.Band{Min: 80, Max: 120}}.WithDefaults()
	if b.Speed.Min != 80 || b.Speed.Weight != 1 {
		t.Errorf("speed = %+v, want explicit range with default weight", b.Speed)
	}
	if b.Emotion != scoring.DefaultBands().Emotion {
		t.Errorf("emotion = %+v, want default", b.Emotion)
	}
}

func TestRisk(t *testing.T) {
	th := scoring.DefaultRiskThresholds()
	tests := []struct {
		name string
		s    types.ScoreSet
		want scoring.RiskLevel
	}{
		{"low", types.ScoreSet{Average: 80, Emotion: 80}, scoring.RiskLow},
		{"medium by average", types.ScoreSet{Average: 60, Emotion: 80}, scoring.RiskMedium},
		{"medium by emotion", types.ScoreSet{Average: 80, Emotion: 55}, scoring.RiskMedium},
		{"high by average", types.ScoreSet{Average: 49.9, Emotion: 80}, scoring.RiskHigh},
		{"high by emotion", types.ScoreSet{Average: 90, Emotion: 6}, scoring.RiskHigh},
		{"boundary is not high", types.ScoreSet{Average: 50, Emotion: 40}, scoring.RiskMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := th.Risk(tt.s); got != tt.want {
				t.Errorf("Risk = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRiskThresholds_Validate(t *testing.T) {
	if err := scoring.DefaultRiskThresholds().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	bad := scoring.RiskThresholds{HighAverage: 70, MediumAverage: 60, HighEmotion: 40, MediumEmotion: 120}
	if err := bad.Validate(); err == nil {
		t.Error("expected error")
	}
}

func TestFeedback(t *testing.T) {
	scores := []float64{95, 80, 75, 70, 55, 50, 35, 30, 10}
	seen := map[string]bool{}
	prev := ""
	for _, s := range scores {
		f := scoring.Feedback(s)
		if f == "" {
			t.Fatalf("Feedback(%v) empty", s)
		}
		if f != prev {
			seen[f] = true
		}
		prev = f
	}
	if len(seen) != 5 {
		t.Errorf("got %d distinct tiers, want 5", len(seen))
	}
	if scoring.Feedback(80) != scoring.Feedback(100) {
		t.Error("80 should share the top tier")
	}
	if scoring.Feedback(29.9) == scoring.Feedback(30) {
		t.Error("30 should start its own tier")
	}
}
