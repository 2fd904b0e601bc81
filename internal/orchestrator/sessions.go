package orchestrator

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cho1y0/neulbom/internal/analysis"
	"github.com/cho1y0/neulbom/internal/reply"
	"github.com/cho1y0/neulbom/pkg/types"
)

// stableAverage is the session average at or above which a session reads as stable.
const stableAverage = 70.0

// TurnDetail is one turn in a session summary.
type TurnDetail struct {
	At       time.Time            `json:"at"`
	Text     string               `json:"text"`
	Average  float64              `json:"average"`
	Emotion  types.EmotionLabel   `json:"emotion"`
	ZPeak    float64              `json:"z_peak"`
	Decision types.DecisionSource `json:"decision"`
}

// EmotionCount is one bar of the session emotion histogram.
type EmotionCount struct {
	Label   types.EmotionLabel `json:"label"`
	Count   int                `json:"count"`
	Percent float64            `json:"percent"`
}

// Averages are per-metric means over a session.
type Averages struct {
	Average    float64 `json:"average"`
	Emotion    float64 `json:"emotion"`
	Response   float64 `json:"response"`
	Vocabulary float64 `json:"vocabulary"`
	Speed      float64 `json:"speed"`
	Silence    float64 `json:"silence"`
}

// Summary describes one session for caregivers.
type Summary struct {
	SessionID string             `json:"session_id"`
	Turns     int                `json:"turns"`
	Averages  Averages           `json:"averages"`
	Emotions  []EmotionCount     `json:"emotions"`
	Dominant  types.EmotionLabel `json:"dominant_emotion"`
	AvgZPeak  float64            `json:"avg_z_peak"`
	Details   []TurnDetail       `json:"details"`

	// Sentence is the one-line description used in caregiver reports.
	Sentence string `json:"summary"`
}

// ReportInput converts s for [reply.Generator.CaregiverReport].
func (s Summary) ReportInput() reply.ReportInput {
	return reply.ReportInput{
		Average:    s.Averages.Average,
		Emotion:    s.Averages.Emotion,
		Speed:      s.Averages.Speed,
		Vocabulary: s.Averages.Vocabulary,
		Response:   s.Averages.Response,
		Summary:    s.Sentence,
	}
}

type sessionTurn struct {
	at       time.Time
	text     string
	scores   types.ScoreSet
	decision types.FusionDecision
}

// Sessions accumulates turns per session id. It is safe for concurrent use.
type Sessions struct {
	mu    sync.Mutex
	turns map[string][]sessionTurn
	now   func() time.Time
}

// NewSessions returns an empty aggregate store.
func NewSessions() *Sessions {
	return &Sessions{turns: make(map[string][]sessionTurn), now: time.Now}
}

// Append records one analysed turn for id.
func (s *Sessions) Append(id string, a *analysis.Analysis) {
	t := sessionTurn{at: s.now(), text: a.Transcript.Text, scores: a.Scores, decision: a.Decision()}
	s.mu.Lock()
	s.turns[id] = append(s.turns[id], t)
	s.mu.Unlock()
}

// Reset forgets id.
func (s *Sessions) Reset(id string) {
	s.mu.Lock()
	delete(s.turns, id)
	s.mu.Unlock()
}

// Trim drops the oldest n turns of id, keeping anything appended since a
// summary of those n was taken. The session is forgotten once empty.
func (s *Sessions) Trim(id string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := s.turns[id]
	if n >= len(turns) {
		delete(s.turns, id)
		return
	}
	if n > 0 {
		s.turns[id] = append([]sessionTurn(nil), turns[n:]...)
	}
}

// IDs returns every session with at least one turn, sorted.
func (s *Sessions) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.turns))
	for id := range s.turns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Summary aggregates id. ok is false when the session has no turns.
func (s *Sessions) Summary(id string) (sum Summary, ok bool) {
	s.mu.Lock()
	turns := append([]sessionTurn(nil), s.turns[id]...)
	s.mu.Unlock()
	if len(turns) == 0 {
		return Summary{SessionID: id}, false
	}
	return summarize(id, turns), true
}

func summarize(id string, turns []sessionTurn) Summary {
	n := float64(len(turns))
	sum := Summary{SessionID: id, Turns: len(turns)}

	counts := map[types.EmotionLabel]int{}
	var order []types.EmotionLabel
	var zsum float64
	for _, t := range turns {
		sum.Averages.Average += t.scores.Average
		sum.Averages.Emotion += t.scores.Emotion
		sum.Averages.Response += t.scores.Response
		sum.Averages.Vocabulary += t.scores.Vocabulary
		sum.Averages.Speed += t.scores.Speed
		sum.Averages.Silence += t.scores.Silence
		zsum += t.decision.ZPeak

		l := t.decision.FinalLabel
		if counts[l] == 0 {
			order = append(order, l)
		}
		counts[l]++

		sum.Details = append(sum.Details, TurnDetail{
			At:       t.at,
			Text:     t.text,
			Average:  t.scores.Average,
			Emotion:  l,
			ZPeak:    t.decision.ZPeak,
			Decision: t.decision.Source,
		})
	}
	sum.Averages.Average /= n
	sum.Averages.Emotion /= n
	sum.Averages.Response /= n
	sum.Averages.Vocabulary /= n
	sum.Averages.Speed /= n
	sum.Averages.Silence /= n
	sum.AvgZPeak = zsum / n

	// Ties keep first-seen order.
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	for _, l := range order {
		sum.Emotions = append(sum.Emotions, EmotionCount{Label: l, Count: counts[l], Percent: float64(counts[l]) / n * 100})
	}
	sum.Dominant = order[0]

	state := "주의가 필요한"
	if sum.Averages.Average >= stableAverage {
		state = "안정적인"
	}
	sum.Sentence = fmt.Sprintf("%d턴의 대화에서 주로 '%s' 감정을 보임. 감정 안정도 %.1f점, Pitch 변화(Z-peak) 평균 %.2f, 전반적으로 %s 상태",
		sum.Turns, reply.KoreanLabel(sum.Dominant), sum.Averages.Emotion, sum.AvgZPeak, state)
	return sum
}
