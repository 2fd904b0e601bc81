package reply

import (
	"strings"

	"github.com/cho1y0/neulbom/pkg/types"
)

// Fixed lines spoken by the orchestrator around the real reply.
const (
	// Acknowledgement returned immediately when a turn is queued.
	Acknowledgement = "네, 어르신. 말씀 잘 들었어요. 잠시만요."

	// Filler replaces a reply that missed its deadline in quick mode.
	Filler = "조금 더 정확한 답을 준비 중입니다. 어르신, 제가 먼저 ‘간단 요약’으로 도와드릴까요, " +
		"아니면 ‘조금만 더 기다렸다가’ 자세히 알려드릴까요? 결정은 어르신이 하시면 됩니다."
)

const (
	quickOptions = "제가 먼저 두 가지 중에서 골라보실 수 있게 도와드릴게요. " +
		"① 간단히 정리해서 바로 답을 드릴까요? ② 아니면 몇 가지를 더 여쭤보고 정확히 도와드릴까요? " +
		"선택은 어르신이 하시면 됩니다."
	quickWaiting = "잠시만요. 더 좋은 답을 준비하고 있어요."

	// slowPaceBelow is the average score under which the speaker is invited
	// to take it slowly.
	slowPaceBelow = 60.0
)

var empathy = map[types.EmotionLabel]string{
	types.EmotionAnxiety:   "지금 걱정이 조금 느껴지세요.",
	types.EmotionAnger:     "말씀하시는 게 답답하게 느껴지실 수 있어요.",
	types.EmotionSadness:   "마음이 조금 가라앉아 보이세요.",
	types.EmotionHappiness: "기분이 좋아 보이셔서 저도 좋습니다.",
}

// QuickReply builds the rule-based reply spoken while the real one is
// generated: an empathy line for the final emotion, a pacing line for the
// average score, a two-choice offer and a waiting line.
func QuickReply(d types.FusionDecision, s types.ScoreSet) string {
	line, ok := empathy[d.FinalLabel]
	if !ok {
		line = "말씀 잘 들었어요."
	}
	pace := "지금처럼 편하게 말씀해 주세요."
	if s.Average < slowPaceBelow {
		pace = "지금은 천천히, 짧게 이야기해도 괜찮아요."
	}
	return strings.Join([]string{line, pace, quickOptions, quickWaiting}, " ")
}
