// Package slack posts caregiver alerts and reports to a Slack channel.
package slack

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goslack "github.com/slack-go/slack"

	"github.com/cho1y0/neulbom/internal/notify"
	"github.com/cho1y0/neulbom/internal/reply"
)

// Config selects the bot token and destination channel.
type Config struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`

	// APIURL overrides the Slack Web API base URL. Must end in "/".
	APIURL string `yaml:"api_url"`
}

// Notifier posts to one channel.
type Notifier struct {
	api     *goslack.Client
	channel string
}

var _ notify.Notifier = (*Notifier)(nil)

// New returns a Notifier for cfg.
func New(cfg Config) (*Notifier, error) {
	var errs []error
	if cfg.Token == "" {
		errs = append(errs, errors.New("slack: token is required"))
	}
	if cfg.Channel == "" {
		errs = append(errs, errors.New("slack: channel is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	var opts []goslack.Option
	if cfg.APIURL != "" {
		opts = append(opts, goslack.OptionAPIURL(cfg.APIURL))
	}
	return &Notifier{api: goslack.New(cfg.Token, opts...), channel: cfg.Channel}, nil
}

// NotifyRisk posts a risk alert for one turn.
func (n *Notifier) NotifyRisk(ctx context.Context, a notify.Alert) error {
	title := fmt.Sprintf("⚠️ 어르신 %d 위험도 %s", a.SeniorID, riskLabel(a.Risk))
	fields := []*goslack.TextBlockObject{
		field("감정", reply.KoreanLabel(a.Emotion)),
		field("평균 점수", fmt.Sprintf("%.1f", a.Scores.Average)),
		field("감정 점수", fmt.Sprintf("%.1f", a.Scores.Emotion)),
		field("상태", a.Feedback),
	}
	blocks := []goslack.Block{
		goslack.NewHeaderBlock(goslack.NewTextBlockObject(goslack.PlainTextType, title, false, false)),
		goslack.NewSectionBlock(goslack.NewTextBlockObject(goslack.MarkdownType, quote(a.Text), false, false), fields, nil),
		goslack.NewContextBlock("", goslack.NewTextBlockObject(goslack.MarkdownType,
			fmt.Sprintf("session `%s` · job `%s`", a.SessionID, a.JobID), false, false)),
	}
	return n.post(ctx, "alert", title, blocks)
}

// SendReport posts a caregiver report.
func (n *Notifier) SendReport(ctx context.Context, r notify.Report) error {
	title := fmt.Sprintf("📋 어르신 %d 대화 리포트 (%d턴, 평균 %.1f점)", r.SeniorID, r.Turns, r.Average)
	blocks := []goslack.Block{
		goslack.NewHeaderBlock(goslack.NewTextBlockObject(goslack.PlainTextType, title, false, false)),
		goslack.NewSectionBlock(goslack.NewTextBlockObject(goslack.MarkdownType, r.Body, false, false), nil, nil),
		goslack.NewContextBlock("", goslack.NewTextBlockObject(goslack.MarkdownType,
			fmt.Sprintf("session `%s`", r.SessionID), false, false)),
	}
	return n.post(ctx, "report", title, blocks)
}

func (n *Notifier) post(ctx context.Context, kind, fallback string, blocks []goslack.Block) error {
	_, _, err := n.api.PostMessageContext(ctx, n.channel,
		goslack.MsgOptionText(fallback, false),
		goslack.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		return fmt.Errorf("slack: post %s: %w", kind, err)
	}
	return nil
}

func field(name, value string) *goslack.TextBlockObject {
	if value == "" {
		value = "-"
	}
	return goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*%s*\n%s", name, value), false, false)
}

func quote(text string) string {
	if strings.TrimSpace(text) == "" {
		return "_(발화 없음)_"
	}
	return "> " + strings.ReplaceAll(text, "\n", "\n> ")
}

func riskLabel(risk string) string {
	switch risk {
	case "high":
		return "높음"
	case "medium":
		return "보통"
	case "low":
		return "낮음"
	}
	return risk
}
