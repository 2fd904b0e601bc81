package api

import (
	"time"

	"github.com/cho1y0/neulbom/internal/analysis"
	"github.com/cho1y0/neulbom/internal/jobs"
	"github.com/cho1y0/neulbom/pkg/types"
)

type emotionView struct {
	Final        types.EmotionLabel             `json:"final"`
	Confidence   float64                        `json:"confidence"`
	TextEmotion  types.EmotionLabel             `json:"text_emotion"`
	AudioEmotion types.EmotionLabel             `json:"audio_emotion"`
	ZPeak        float64                        `json:"z_peak"`
	Decision     types.DecisionSource           `json:"decision"`
	BoostReasons []string                       `json:"boost_reasons,omitempty"`
	Candidates   map[types.EmotionLabel]float64 `json:"candidates,omitempty"`
	Degraded     string                         `json:"degraded,omitempty"`
}

type speechView struct {
	WordCount    int      `json:"word_count"`
	WPM          float64  `json:"wpm"`
	Duration     float64  `json:"duration"`
	ResponseTime *float64 `json:"response_time"`
	AvgSilence   float64  `json:"avg_silence"`
	TTR          float64  `json:"ttr"`
	Language     string   `json:"language,omitempty"`
}

type analysisView struct {
	Text     string         `json:"text"`
	Emotion  emotionView    `json:"emotion"`
	Scores   types.ScoreSet `json:"scores"`
	Speech   speechView     `json:"whisper"`
	Risk     string         `json:"risk"`
	Feedback string         `json:"feedback"`
}

func newAnalysisView(a *analysis.Analysis) *analysisView {
	if a == nil {
		return nil
	}
	d := a.Decision()
	return &analysisView{
		Text: a.Transcript.Text,
		Emotion: emotionView{
			Final:        d.FinalLabel,
			Confidence:   d.FinalConfidence,
			TextEmotion:  d.TextLabel,
			AudioEmotion: d.AudioLabel,
			ZPeak:        d.ZPeak,
			Decision:     d.Source,
			BoostReasons: d.BoostReasons,
			Candidates:   d.Candidates,
			Degraded:     a.Fusion.Reason,
		},
		Scores: a.Scores,
		Speech: speechView{
			WordCount:    a.Transcript.WordCount,
			WPM:          a.Transcript.WPM,
			Duration:     a.Transcript.DurationSec,
			ResponseTime: a.Transcript.ResponseTimeSec,
			AvgSilence:   a.Transcript.AvgSilenceSec,
			TTR:          a.Transcript.TTR,
			Language:     a.Language,
		},
		Risk:     string(a.Risk),
		Feedback: a.Feedback,
	}
}

// jobView is the wire form of a job.
type jobView struct {
	jobs.Job

	Found      bool          `json:"found"`
	Analysis   *analysisView `json:"analysis,omitempty"`
	QuickReply string        `json:"quick_reply,omitempty"`
	HasSpeech  bool          `json:"has_speech,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

func newJobView(j jobs.Job) jobView {
	return jobView{
		Job:       j,
		Found:     true,
		Analysis:  newAnalysisView(j.Analysis),
		HasSpeech: len(j.Speech) > 0,
		Timestamp: time.Now(),
	}
}

// acceptedView answers an async upload.
type acceptedView struct {
	JobID     string     `json:"job_id"`
	Stage     jobs.Stage `json:"stage"`
	Done      bool       `json:"done"`
	Reply     string     `json:"ai_response"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
}

// missingJob is the not-found body of the job routes.
type missingJob struct {
	Done    bool   `json:"done"`
	Found   bool   `json:"found"`
	Message string `json:"message"`
}
