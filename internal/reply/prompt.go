// Package reply produces the companion's spoken replies.
//
// [Generator] builds a persona prompt that reflects the speaker's current
// emotion and risk level, keeps a bounded per-session conversation history,
// and calls the LLM. An LLM failure never fails a turn: the generator
// substitutes a fixed apology and reports the failure alongside it.
//
// [QuickReply] is the rule-based reply spoken while the real one is being
// generated, and [Generator.CaregiverReport] summarises a session for the
// family.
package reply

import (
	"fmt"
	"strings"

	"github.com/cho1y0/neulbom/internal/scoring"
	"github.com/cho1y0/neulbom/pkg/types"
)

// koreanLabels names each canonical emotion the way the persona talks about it.
var koreanLabels = map[types.EmotionLabel]string{
	types.EmotionHappiness:     "기쁨",
	types.EmotionNeutral:       "중립",
	types.EmotionAnger:         "분노",
	types.EmotionSadness:       "슬픔",
	types.EmotionAnxiety:       "불안",
	types.EmotionFear:          "공포",
	types.EmotionDisgust:       "혐오",
	types.EmotionSurprise:      "놀람",
	types.EmotionEmbarrassment: "당황",
	types.EmotionHurt:          "상처",
	types.EmotionUnknown:       "중립",
}

// KoreanLabel returns the Korean name of l, or l itself when it has none.
func KoreanLabel(l types.EmotionLabel) string {
	if s, ok := koreanLabels[l]; ok {
		return s
	}
	return string(l)
}

// strategies are the conversation tactics added to the prompt per emotion.
var strategies = map[types.EmotionLabel][]string{
	types.EmotionSadness: {
		"따뜻하게 위로하고 공감해주세요",
		"'괜찮아요', '제가 있잖아요' 같은 안심시키는 말을 사용하세요",
		"긍정적인 추억을 떠올리게 도와주세요",
		"너무 밝게 굴지 말고 진심으로 공감하세요",
	},
	types.EmotionAnger: {
		"차분하게 말씀을 경청하세요",
		"화를 더 돋우는 말은 피하세요",
		"'그러셨구나', '속상하셨겠어요' 같은 이해의 표현을 사용하세요",
		"천천히 진정시켜 주세요",
	},
	types.EmotionAnxiety: {
		"안심시키고 긍정적으로 격려하세요",
		"'걱정 마세요', '다 잘 될 거예요' 같은 위로를 해주세요",
		"현재에 집중하도록 도와주세요",
		"편안한 화제로 전환하세요",
	},
	types.EmotionFear: {
		"매우 부드럽고 차분하게 대화하세요",
		"'제가 옆에 있어요', '안전해요' 같은 말로 안심시키세요",
		"무서운 이야기는 피하고 평화로운 주제로 전환하세요",
	},
	types.EmotionHappiness: {
		"밝게 맞장구치며 함께 기뻐하세요",
		"'와 정말 좋으시겠어요!', '축하드려요!' 같은 긍정적 반응을 보이세요",
		"대화를 즐겁게 이어가세요",
	},
}

var defaultStrategy = []string{
	"자연스럽게 대화를 이어가세요",
	"관심 있어하실 만한 화제를 제시하세요",
	"편안한 분위기를 유지하세요",
}

// basePrompt renders the persona section.
func basePrompt(name string) string {
	return fmt.Sprintf(`당신은 20대 손녀 '%s'입니다.

【 대화 원칙 】
- 할머니/할아버지와 편안하게 대화합니다
- 친근한 반말과 존댓말을 적절히 섞어 사용합니다
- AI나 기계라는 티를 절대 내지 마세요
- 분석 결과나 점수 같은 내부 정보는 절대 말하지 마세요
- 1~2문장으로 짧고 다정하게 답합니다
- 자연스럽게 대화를 이어갑니다`, name)
}

// emotionPrompt renders the current-emotion section. Confidence is the
// speech classifier's, matching the emotion score.
func emotionPrompt(d types.FusionDecision) string {
	var b strings.Builder
	b.WriteString("【 현재 감정 상태 】\n")
	fmt.Fprintf(&b, "- 감정: %s\n", KoreanLabel(d.FinalLabel))
	fmt.Fprintf(&b, "- 확신도: %.2f\n", d.AudioConfidence)
	b.WriteString("\n【 대화 전략 】")

	lines, ok := strategies[d.FinalLabel]
	if !ok {
		lines = defaultStrategy
	}
	for _, l := range lines {
		b.WriteString("\n- ")
		b.WriteString(l)
	}
	return b.String()
}

// riskPrompt renders the escalation section, or "" for a low-risk turn.
func riskPrompt(level scoring.RiskLevel) string {
	switch level {
	case scoring.RiskHigh:
		return `【 ⚠️ 주의: 고위험 상태 감지 】
- 현재 상태가 매우 좋지 않습니다
- 더욱 세심하게 대화하세요
- 가능하면 보호자에게 알릴 필요가 있습니다
- '괜찮으세요?', '어디 불편하신 데 없으세요?' 같은 질문을 자연스럽게 섞으세요`
	case scoring.RiskMedium:
		return `【 주의: 관심 필요 】
- 평소보다 상태가 좋지 않습니다
- 더 따뜻하게 대화하세요
- 기분이 나아질 수 있도록 도와주세요`
	default:
		return ""
	}
}

// SystemPrompt assembles the full system prompt for one turn.
func SystemPrompt(name string, d types.FusionDecision, level scoring.RiskLevel) string {
	parts := []string{basePrompt(name), emotionPrompt(d)}
	if r := riskPrompt(level); r != "" {
		parts = append(parts, r)
	}
	return strings.Join(parts, "\n\n")
}
