package reply

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cho1y0/neulbom/pkg/provider/llm"
	"github.com/cho1y0/neulbom/pkg/types"
)

// ReportInput is the session data a caregiver report is written from.
type ReportInput struct {
	Average    float64
	Emotion    float64
	Speed      float64
	Vocabulary float64
	Response   float64

	// Summary is the one-line description of the session.
	Summary string
}

const (
	reportMaxTokens   = 300
	reportTemperature = 0.7
)

func reportPrompt(in ReportInput) string {
	return fmt.Sprintf(`다음은 어르신과의 대화 분석 결과입니다:

평균 점수: %.1f점
감정 점수: %.1f점
말하기 속도: %.1f점
어휘 다양성: %.1f점
반응 속도: %.1f점

요약: %s

보호자에게 전달할 간단한 리포트를 3-4문장으로 작성해주세요.
- 긍정적인 부분을 먼저 언급
- 주의가 필요한 부분이 있다면 부드럽게 제안
- 전문적이지만 따뜻한 톤`, in.Average, in.Emotion, in.Speed, in.Vocabulary, in.Response, in.Summary)
}

// CaregiverReport writes a short report for the family. It never fails: an
// LLM error yields a plain sentence built from the average and summary, and
// the error is returned alongside it.
func (g *Generator) CaregiverReport(ctx context.Context, in ReportInput) (string, error) {
	resp, err := g.llm.Complete(ctx, llm.CompletionRequest{
		Messages:    []types.Message{{Role: "user", Content: reportPrompt(in)}},
		Temperature: reportTemperature,
		MaxTokens:   reportMaxTokens,
	})
	if err == nil && resp != nil && strings.TrimSpace(resp.Content) != "" {
		return strings.TrimSpace(resp.Content), nil
	}
	if err == nil {
		err = fmt.Errorf("reply: report: empty completion")
	} else {
		err = fmt.Errorf("reply: report: %w", err)
	}
	slog.Warn("reply: caregiver report fell back", "err", err)
	return fmt.Sprintf("평균 점수 %.1f점으로 %s", in.Average, in.Summary), err
}
