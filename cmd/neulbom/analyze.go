package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cho1y0/neulbom/internal/app"
	"github.com/cho1y0/neulbom/internal/config"
	"github.com/cho1y0/neulbom/internal/jobs"
	"github.com/cho1y0/neulbom/internal/orchestrator"
	"github.com/cho1y0/neulbom/internal/reply"
	"github.com/cho1y0/neulbom/pkg/types"
)

type analyzeFlags struct {
	seniorID     int64
	responseTime float64
	noReply      bool
	speakPath    string
}

func newAnalyzeCmd(configPath *string) *cobra.Command {
	var f analyzeFlags
	cmd := &cobra.Command{
		Use:   "analyze <recording.wav>...",
		Short: "Analyse recordings and print the emotion and wellbeing scores",
		Long: `Analyse one or more recordings as consecutive turns of a single
conversation. With several files a session summary follows the per-turn
reports.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return analyzeFiles(cmd.Context(), *configPath, args, f, cmd.OutOrStdout())
		},
	}
	cmd.Flags().Int64Var(&f.seniorID, "senior", 1, "senior id recorded with each turn")
	cmd.Flags().Float64Var(&f.responseTime, "response-time", -1, "measured response time in seconds (negative for none)")
	cmd.Flags().BoolVar(&f.noReply, "no-reply", false, "skip the companion reply")
	cmd.Flags().StringVar(&f.speakPath, "speak", "", "write the synthesized reply to this WAV file (single recording only)")
	return cmd
}

// cliSession is the session id every turn of one analyze run shares.
const cliSession = "cli"

func analyzeFiles(ctx context.Context, configPath string, paths []string, f analyzeFlags, out io.Writer) error {
	if f.speakPath != "" && len(paths) > 1 {
		return errors.New("--speak takes a single recording")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	offline(cfg)

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		return err
	}
	if f.speakPath != "" && providers.TTS == nil {
		return fmt.Errorf("--speak needs providers.tts in %s", configPath)
	}

	a, err := app.New(ctx, cfg, providers)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.Shutdown(sctx)
	}()

	var failed int
	for i, path := range paths {
		if len(paths) > 1 {
			fmt.Fprintf(out, "=== [%d/%d] %s ===\n", i+1, len(paths), filepath.Base(path))
		}
		job, err := analyzeOne(ctx, a.Orchestrator(), path, f)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			failed++
			fmt.Fprintf(out, "분석 실패: %v\n\n", err)
			continue
		}
		printAnalysis(out, job, cfg.Persona.Name)
		fmt.Fprintln(out)

		if f.speakPath != "" {
			if len(job.Speech) == 0 {
				return fmt.Errorf("no speech was synthesized: %s", strings.Join(job.Warnings, "; "))
			}
			if err := os.WriteFile(f.speakPath, job.Speech, 0o644); err != nil {
				return fmt.Errorf("write speech: %w", err)
			}
			slog.Info("reply audio written", "path", f.speakPath, "bytes", len(job.Speech))
		}
	}

	if len(paths) > 1 {
		if sum, ok := a.Orchestrator().Sessions().Summary(cliSession); ok {
			printSummary(out, sum)
		}
	}
	if failed == len(paths) {
		return fmt.Errorf("all %d recordings failed", failed)
	}
	return nil
}

func analyzeOne(ctx context.Context, o *orchestrator.Orchestrator, path string, f analyzeFlags) (jobs.Job, error) {
	wav, err := os.ReadFile(path)
	if err != nil {
		return jobs.Job{}, fmt.Errorf("read recording: %w", err)
	}
	req := orchestrator.Request{
		SeniorID:      f.seniorID,
		SessionID:     cliSession,
		WAV:           wav,
		GenerateReply: !f.noReply,
	}
	if f.responseTime >= 0 {
		rt := f.responseTime
		req.ResponseTimeSec = &rt
	}
	job, err := o.Run(ctx, req)
	if err != nil {
		return job, err
	}
	if !job.Success {
		return job, errors.New(job.Error)
	}
	return job, nil
}

// offline strips the outward-facing side effects from cfg: a local analysis
// is neither stored, archived nor reported.
func offline(cfg *config.Config) {
	cfg.Storage.Driver = config.StorageNone
	cfg.Archive.Enabled = false
	cfg.Notify.Enabled = false
	cfg.Notify.DigestSchedule = ""
}

// printAnalysis writes a human-readable report of job to w. speaker names
// the companion in the reply line.
func printAnalysis(w io.Writer, job jobs.Job, speaker string) {
	a := job.Analysis
	if a == nil {
		fmt.Fprintf(w, "job %s: no analysis (%s)\n", job.ID, job.Error)
		return
	}
	d := a.Decision()

	fmt.Fprintf(w, "발화: %s\n\n", a.Transcript.Text)
	fmt.Fprintf(w, "최종 감정: %s (%.1f%%, %s)\n", reply.KoreanLabel(d.FinalLabel), d.FinalConfidence*100, d.Source)
	fmt.Fprintf(w, "텍스트: %s %.2f / 음성: %s %.2f / z-peak %.2f\n",
		d.TextLabel, d.TextConfidence, d.AudioLabel, d.AudioConfidence, d.ZPeak)
	if a.Fusion.IsDegraded() {
		fmt.Fprintf(w, "감정 분석 불가: %s\n", a.Fusion.Reason)
	}

	if len(d.Candidates) > 0 {
		fmt.Fprintln(w, "\n감정 분포:")
		labels := make([]types.EmotionLabel, 0, len(d.Candidates))
		for l := range d.Candidates {
			labels = append(labels, l)
		}
		sort.Slice(labels, func(i, j int) bool {
			if d.Candidates[labels[i]] != d.Candidates[labels[j]] {
				return d.Candidates[labels[i]] > d.Candidates[labels[j]]
			}
			return labels[i] < labels[j]
		})
		for _, l := range labels {
			pct := d.Candidates[l]
			fmt.Fprintf(w, "  %-6s %5.1f%% %s\n", reply.KoreanLabel(l), pct, strings.Repeat("█", int(pct/5)))
		}
	}

	s := a.Scores
	fmt.Fprintln(w, "\n점수:")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, row := range []struct {
		name  string
		value float64
	}{
		{"말 속도", s.Speed},
		{"발화 길이", s.Duration},
		{"응답 시간", s.Response},
		{"단어 수", s.WordCount},
		{"어휘 다양성", s.Vocabulary},
		{"침묵", s.Silence},
		{"감정", s.Emotion},
		{"활력", s.Vitality},
		{"평균", s.Average},
	} {
		fmt.Fprintf(tw, "  %s\t%.1f\n", row.name, row.value)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n위험도: %s (%s)\n", a.Risk, a.Feedback)

	if job.Reply != "" {
		fmt.Fprintf(w, "\n%s: %s\n", speaker, job.Reply)
	}
	for _, warn := range job.Warnings {
		fmt.Fprintf(w, "경고: %s\n", warn)
	}
}

// printSummary writes the session aggregate of a multi-file run.
func printSummary(w io.Writer, sum orchestrator.Summary) {
	fmt.Fprintf(w, "세션 요약 (%d턴)\n", sum.Turns)
	for _, e := range sum.Emotions {
		fmt.Fprintf(w, "  %-6s %2d회 %5.1f%% %s\n", reply.KoreanLabel(e.Label), e.Count, e.Percent, strings.Repeat("█", int(e.Percent/5)))
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "  평균 점수\t%.1f\n", sum.Averages.Average)
	fmt.Fprintf(tw, "  감정 점수\t%.1f\n", sum.Averages.Emotion)
	fmt.Fprintf(tw, "  평균 z-peak\t%.2f\n", sum.AvgZPeak)
	tw.Flush()
	fmt.Fprintf(w, "%s\n", sum.Sentence)
}
