// Package types defines the shared types used across all neulbom packages.
//
// These types are the lingua franca between the analysis pipeline, the reply
// generator, the persistence layer and the HTTP surface. Each package keeps
// its own internal types; cross-cutting data structures live here to avoid
// circular imports.
package types

import "time"

// Transcript is the immutable result of transcribing one recorded utterance
// plus the behavioural metrics derived from it.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string `json:"text"`

	// WordCount is the number of whitespace-separated words in Text.
	WordCount int `json:"word_count"`

	// DurationSec is the length of the recording in seconds.
	DurationSec float64 `json:"duration"`

	// WPM is the speaking rate in words per minute.
	WPM float64 `json:"wpm"`

	// AvgSilenceSec is the estimated silence inside the utterance.
	AvgSilenceSec float64 `json:"avg_silence"`

	// VPR is the vocalization-to-pause ratio.
	VPR float64 `json:"vpr"`

	// TTR is the type-token ratio of the transcript tokens.
	TTR float64 `json:"ttr"`

	// ResponseTimeSec is the latency between the prompt and the speaker's
	// first word. Nil when the recording path did not measure it.
	ResponseTimeSec *float64 `json:"response_time"`
}

// EmotionLabel is a label in the canonical emotion vocabulary. Classifier
// specific labels are translated into this vocabulary before fusion.
type EmotionLabel string

const (
	EmotionHappiness     EmotionLabel = "happiness"
	EmotionNeutral       EmotionLabel = "neutral"
	EmotionAnger         EmotionLabel = "anger"
	EmotionSadness       EmotionLabel = "sadness"
	EmotionAnxiety       EmotionLabel = "anxiety"
	EmotionFear          EmotionLabel = "fear"
	EmotionDisgust       EmotionLabel = "disgust"
	EmotionSurprise      EmotionLabel = "surprise"
	EmotionEmbarrassment EmotionLabel = "embarrassment"
	EmotionHurt          EmotionLabel = "hurt"

	// EmotionUnknown is only produced by a degraded fusion result.
	EmotionUnknown EmotionLabel = "unknown"
)

// ClassifierOutput is the raw result of one emotion classifier for one
// utterance. Labels are in the classifier's native vocabulary.
type ClassifierOutput struct {
	// Label is the top-scoring native label.
	Label string `json:"label"`

	// Confidence is the probability of Label in [0, 1].
	Confidence float64 `json:"confidence"`

	// Distribution maps every native label to its probability.
	Distribution map[string]float64 `json:"distribution,omitempty"`
}

// PitchStat describes the pitch dynamics of one utterance.
type PitchStat struct {
	// ZPeak is the largest absolute z-score of any voiced F0 frame.
	ZPeak float64 `json:"z_peak"`

	// VoicedFrames is the number of frames that carried a pitch estimate.
	VoicedFrames int `json:"voiced_frames"`

	// Degraded is non-empty when ZPeak is a fallback value rather than a
	// measurement (too few voiced frames, malformed audio).
	Degraded string `json:"degraded,omitempty"`
}

// DecisionSource records which modality won the fusion.
type DecisionSource string

const (
	SourceTextPriority  DecisionSource = "text_priority"
	SourceAudioPriority DecisionSource = "audio_priority"
	SourceError         DecisionSource = "error"
)

// FusionDecision is the single resolved emotional state for an utterance.
type FusionDecision struct {
	TextLabel       EmotionLabel `json:"text_emotion"`
	TextConfidence  float64      `json:"text_conf"`
	AudioLabel      EmotionLabel `json:"audio_emotion"`
	AudioConfidence float64      `json:"audio_conf"`

	// TextScore and AudioScore are the weighted, normalised scores the final
	// selection compared.
	TextScore  float64 `json:"text_score"`
	AudioScore float64 `json:"audio_score"`

	ZPeak float64 `json:"z_peak"`

	// BoostReasons lists every adjustment applied, in order.
	BoostReasons []string `json:"boost_reasons"`

	Source          DecisionSource `json:"decision"`
	FinalLabel      EmotionLabel   `json:"final_emotion"`
	FinalConfidence float64        `json:"final_conf"`

	// Candidates maps canonical labels to the text classifier's percentage.
	Candidates map[EmotionLabel]float64 `json:"candidates"`
}

// ScoreSet holds the per-metric 0–100 scores for one utterance.
type ScoreSet struct {
	Speed      float64 `json:"speed"`
	Duration   float64 `json:"duration"`
	Response   float64 `json:"response"`
	WordCount  float64 `json:"word_count"`
	Vocabulary float64 `json:"vocabulary"`
	Silence    float64 `json:"silence"`
	Emotion    float64 `json:"emotion"`
	Vitality   float64 `json:"vitality"`

	// Average is the unweighted mean of the eight metric scores.
	Average float64 `json:"average"`
}

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string `json:"role"`

	// Content is the text content of the message.
	Content string `json:"content"`
}

// AnalysisRecord is one persisted analysis row joined with its voice log,
// as returned by history queries.
type AnalysisRecord struct {
	VoiceID      int64        `json:"voice_id"`
	SeniorID     int64        `json:"senior_id"`
	SensingID    *int64       `json:"sensing_id"`
	Text         string       `json:"text"`
	EmotionLabel EmotionLabel `json:"emotion_label"`
	ResponseTime *float64     `json:"response_time"`
	Length       float64      `json:"utterance_length"`
	CreatedAt    time.Time    `json:"created_at"`

	// Ratios holds the stored per-label candidate percentages.
	Ratios map[EmotionLabel]float64 `json:"ratios"`
}
