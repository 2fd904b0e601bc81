package fusion

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/cho1y0/neulbom/pkg/types"
)

// Rule maps any native label containing Match (case-insensitive) to Label.
type Rule struct {
	Match string
	Label types.EmotionLabel
}

// Table translates a classifier's native labels into canonical labels.
// Rules are tried in order; numeric labels ("3", "LABEL_3") then fall back
// to Index; anything else becomes Default.
type Table struct {
	Rules   []Rule
	Index   map[int]types.EmotionLabel
	Default types.EmotionLabel
}

// Translate returns the canonical label for native.
func (t Table) Translate(native string) types.EmotionLabel {
	l := strings.ToLower(strings.TrimSpace(native))
	for _, r := range t.Rules {
		if strings.Contains(l, strings.ToLower(r.Match)) {
			return r.Label
		}
	}
	if idx, ok := numericSuffix(l); ok {
		if lbl, ok := t.Index[idx]; ok {
			return lbl
		}
	}
	return t.Default
}

// numericSuffix parses labels such as "4" or "label_4".
func numericSuffix(l string) (int, bool) {
	l = strings.TrimPrefix(l, "label_")
	n, err := strconv.Atoi(l)
	if err != nil {
		return 0, false
	}
	return n, true
}

// TextProfile describes a text classifier's vocabulary and which canonical
// labels the fusion heuristics treat as positive, masking or negative.
type TextProfile struct {
	Name  string
	Table Table

	// Positive labels are protected by the positive-override boost.
	Positive []types.EmotionLabel

	// MaskedText are the text labels that can hide distress, MaskedAudio the
	// audio labels that reveal it.
	MaskedText  []types.EmotionLabel
	MaskedAudio []types.EmotionLabel

	// Negative labels win close calls in the safety tie-break.
	Negative []types.EmotionLabel
}

// Vocabulary is the resolved pair of label strategies for the configured
// text and audio models.
type Vocabulary struct {
	Text  TextProfile
	Audio Table

	// AudioName is the audio profile's registry name.
	AudioName string
}

func (v Vocabulary) isPositive(l types.EmotionLabel) bool { return slices.Contains(v.Text.Positive, l) }
func (v Vocabulary) isNegative(l types.EmotionLabel) bool { return slices.Contains(v.Text.Negative, l) }

func (v Vocabulary) isMasked(text, audio types.EmotionLabel) bool {
	return slices.Contains(v.Text.MaskedText, text) && slices.Contains(v.Text.MaskedAudio, audio)
}

// Built-in profile names.
const (
	ProfileKorean6  = "korean-6"
	ProfileGeneric7 = "generic-7"
	ProfileSpeech5  = "speech-5"
)

// korean6 covers six-class Korean text models that have no neutral class.
var korean6 = TextProfile{
	Name: ProfileKorean6,
	Table: Table{
		Rules: []Rule{
			{"기쁨", types.EmotionHappiness},
			{"행복", types.EmotionHappiness},
			{"분노", types.EmotionAnger},
			{"상처", types.EmotionHurt},
			{"불안", types.EmotionAnxiety},
			{"당황", types.EmotionEmbarrassment},
			{"슬픔", types.EmotionSadness},
			{"happ", types.EmotionHappiness},
			{"joy", types.EmotionHappiness},
			{"ang", types.EmotionAnger},
			{"hurt", types.EmotionHurt},
			{"anx", types.EmotionAnxiety},
			{"embarrass", types.EmotionEmbarrassment},
			{"sad", types.EmotionSadness},
		},
		Index: map[int]types.EmotionLabel{
			0: types.EmotionHappiness,
			1: types.EmotionAnger,
			2: types.EmotionHurt,
			3: types.EmotionAnxiety,
			4: types.EmotionEmbarrassment,
			5: types.EmotionSadness,
		},
		Default: types.EmotionNeutral,
	},
	Positive:    []types.EmotionLabel{types.EmotionHappiness},
	MaskedText:  []types.EmotionLabel{types.EmotionHappiness},
	MaskedAudio: []types.EmotionLabel{types.EmotionSadness, types.EmotionAnxiety},
	Negative: []types.EmotionLabel{
		types.EmotionAnger, types.EmotionSadness, types.EmotionAnxiety,
		types.EmotionHurt, types.EmotionEmbarrassment,
	},
}

// generic7 covers the common seven-emotion English label sets.
var generic7 = TextProfile{
	Name: ProfileGeneric7,
	Table: Table{
		Rules: []Rule{
			{"anger", types.EmotionAnger},
			{"angry", types.EmotionAnger},
			{"disgust", types.EmotionDisgust},
			{"fear", types.EmotionFear},
			{"happiness", types.EmotionHappiness},
			{"happy", types.EmotionHappiness},
			{"neutral", types.EmotionNeutral},
			{"sadness", types.EmotionSadness},
			{"sad", types.EmotionSadness},
			{"surprise", types.EmotionSurprise},
			{"embarrassed", types.EmotionEmbarrassment},
			{"heartache", types.EmotionSadness},
		},
		Index: map[int]types.EmotionLabel{
			0: types.EmotionFear,
			1: types.EmotionSurprise,
			2: types.EmotionAnger,
			3: types.EmotionSadness,
			4: types.EmotionNeutral,
			5: types.EmotionHappiness,
			6: types.EmotionDisgust,
		},
		Default: types.EmotionNeutral,
	},
	Positive:    []types.EmotionLabel{types.EmotionHappiness},
	MaskedText:  []types.EmotionLabel{types.EmotionNeutral},
	MaskedAudio: []types.EmotionLabel{types.EmotionSadness, types.EmotionAnxiety, types.EmotionFear},
	Negative: []types.EmotionLabel{
		types.EmotionAnger, types.EmotionSadness, types.EmotionAnxiety,
		types.EmotionFear, types.EmotionDisgust,
	},
}

// speech5 covers five-class speech emotion models. Vocal fear is read as
// anxiety.
var speech5 = Table{
	Rules: []Rule{
		{"angry", types.EmotionAnger},
		{"fear", types.EmotionAnxiety},
		{"happy", types.EmotionHappiness},
		{"neutral", types.EmotionNeutral},
		{"sad", types.EmotionSadness},
	},
	Index: map[int]types.EmotionLabel{
		0: types.EmotionAnger,
		1: types.EmotionHappiness,
		2: types.EmotionAnxiety,
		3: types.EmotionSadness,
		4: types.EmotionNeutral,
	},
	Default: types.EmotionNeutral,
}

var (
	textProfiles  = map[string]TextProfile{ProfileKorean6: korean6, ProfileGeneric7: generic7}
	audioProfiles = map[string]Table{ProfileSpeech5: speech5}
)

// TextProfileForModel picks a text profile from a model identifier, for
// configs that name the model but not the profile.
func TextProfileForModel(model string) string {
	if strings.Contains(model, "MelissaJ") || strings.Contains(strings.ToLower(model), "korean-6") {
		return ProfileKorean6
	}
	return ProfileGeneric7
}

// Resolve looks up the named text and audio profiles. Empty names select
// generic-7 and speech-5.
func Resolve(textProfile, audioProfile string) (Vocabulary, error) {
	if textProfile == "" {
		textProfile = ProfileGeneric7
	}
	if audioProfile == "" {
		audioProfile = ProfileSpeech5
	}
	tp, ok := textProfiles[textProfile]
	if !ok {
		return Vocabulary{}, fmt.Errorf("fusion: unknown text profile %q", textProfile)
	}
	ap, ok := audioProfiles[audioProfile]
	if !ok {
		return Vocabulary{}, fmt.Errorf("fusion: unknown audio profile %q", audioProfile)
	}
	return Vocabulary{Text: tp, Audio: ap, AudioName: audioProfile}, nil
}

// TextProfiles returns the registered text profile names, sorted.
func TextProfiles() []string {
	names := make([]string, 0, len(textProfiles))
	for n := range textProfiles {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// AudioProfiles returns the registered audio profile names, sorted.
func AudioProfiles() []string {
	names := make([]string, 0, len(audioProfiles))
	for n := range audioProfiles {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
