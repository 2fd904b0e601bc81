package jobs_test

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cho1y0/neulbom/internal/analysis"
	"github.com/cho1y0/neulbom/internal/fusion"
	"github.com/cho1y0/neulbom/internal/jobs"
	"github.com/cho1y0/neulbom/pkg/types"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func walk(t *testing.T, s *jobs.Store, id string, stages ...jobs.Stage) {
	t.Helper()
	for _, st := range stages {
		if err := s.Advance(id, st, nil); err != nil {
			t.Fatalf("Advance(%s): %v", st, err)
		}
	}
}

func TestCreateAndGet(t *testing.T) {
	s := jobs.NewStore()
	j := s.Create("senior-1", 1)
	if j.ID == "" || j.Stage != jobs.StageQueued || j.Done {
		t.Fatalf("created job = %+v", j)
	}
	got, err := s.Get(j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.SessionID != "senior-1" || got.SeniorID != 1 {
		t.Errorf("Get = %+v", got)
	}
	if other := s.Create("senior-1", 1); other.ID == j.ID {
		t.Error("job ids collide")
	}
}

func TestGet_Unknown(t *testing.T) {
	_, err := jobs.NewStore().Get("nope")
	if !errors.Is(err, jobs.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAdvance_HappyPath(t *testing.T) {
	s := jobs.NewStore()
	id := s.Create("s", 1).ID
	walk(t, s, id, jobs.StageAnalyzing, jobs.StageAnalyzed, jobs.StageLLMPending, jobs.StageDBPending)

	j, _ := s.Get(id)
	if j.Done {
		t.Fatal("done before complete")
	}
	walk(t, s, id, jobs.StageComplete)
	j, _ = s.Get(id)
	if !j.Done || !j.Success || j.Stage != jobs.StageComplete {
		t.Errorf("final job = %+v", j)
	}
}

func TestAdvance_Invalid(t *testing.T) {
	tests := []struct {
		name string
		path []jobs.Stage
		next jobs.Stage
	}{
		{"skip analysis", nil, jobs.StageAnalyzed},
		{"error after analysis", []jobs.Stage{jobs.StageAnalyzing, jobs.StageAnalyzed}, jobs.StageError},
		{"leave complete", []jobs.Stage{jobs.StageAnalyzing, jobs.StageAnalyzed, jobs.StageLLMSkipped, jobs.StageDBPending, jobs.StageComplete}, jobs.StageQueued},
		{"leave error", []jobs.Stage{jobs.StageError}, jobs.StageAnalyzing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := jobs.NewStore()
			id := s.Create("s", 1).ID
			walk(t, s, id, tt.path...)
			if err := s.Advance(id, tt.next, nil); !errors.Is(err, jobs.ErrInvalidTransition) {
				t.Errorf("err = %v, want ErrInvalidTransition", err)
			}
		})
	}
}

func TestFail(t *testing.T) {
	s := jobs.NewStore()
	id := s.Create("s", 1).ID
	walk(t, s, id, jobs.StageAnalyzing)
	if err := s.Fail(id, "transcribe: boom"); err != nil {
		t.Fatal(err)
	}
	j, _ := s.Get(id)
	if !j.Done || j.Success || j.Stage != jobs.StageError || j.Error != "transcribe: boom" {
		t.Errorf("failed job = %+v", j)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	s := jobs.NewStore()
	id := s.Create("s", 1).ID
	voice := int64(5)
	_ = s.Update(id, func(j *jobs.Job) {
		j.Warn("store: %s", "down")
		j.VoiceID = &voice
		j.Preview = &jobs.Preview{Text: "원본"}
	})

	snap, _ := s.Get(id)
	snap.Warnings[0] = "mutated"
	*snap.VoiceID = 99
	snap.Preview.Text = "mutated"
	snap.Stage = jobs.StageComplete

	again, _ := s.Get(id)
	if again.Warnings[0] != "store: down" || *again.VoiceID != 5 || again.Preview.Text != "원본" || again.Stage != jobs.StageQueued {
		t.Errorf("store observed snapshot mutation: %+v", again)
	}
}

func TestSnapshots_ShareSpeech(t *testing.T) {
	s := jobs.NewStore()
	id := s.Create("s", 1).ID
	_ = s.Update(id, func(j *jobs.Job) { j.Speech = []byte("RIFF....WAVE") })

	a, _ := s.Get(id)
	b, _ := s.Get(id)
	if string(a.Speech) != "RIFF....WAVE" {
		t.Fatalf("speech = %q", a.Speech)
	}
	if &a.Speech[0] != &b.Speech[0] {
		t.Error("each poll copied the speech bytes")
	}
}

func TestUpdate_CannotChangeStage(t *testing.T) {
	s := jobs.NewStore()
	id := s.Create("s", 1).ID
	_ = s.Update(id, func(j *jobs.Job) { j.Stage = jobs.StageComplete })
	j, _ := s.Get(id)
	if j.Stage != jobs.StageQueued {
		t.Errorf("stage = %s, want queued", j.Stage)
	}
	if err := s.Update("missing", func(*jobs.Job) {}); !errors.Is(err, jobs.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSweep(t *testing.T) {
	c := &clock{t: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
	s := jobs.NewStore(jobs.WithTTL(time.Minute), jobs.WithClock(c.now))

	finished := s.Create("s", 1).ID
	_ = s.Fail(finished, "x")
	running := s.Create("s", 1).ID

	c.advance(30 * time.Second)
	if n := s.Sweep(); n != 0 {
		t.Fatalf("swept %d before TTL", n)
	}
	c.advance(time.Minute)
	if n := s.Sweep(); n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	if _, err := s.Get(finished); !errors.Is(err, jobs.ErrNotFound) {
		t.Error("finished job survived sweep")
	}
	if _, err := s.Get(running); err != nil {
		t.Error("running job was swept")
	}
	if active, done := s.Counts(); active != 1 || done != 0 {
		t.Errorf("Counts = %d/%d, want 1/0", active, done)
	}
}

func TestConcurrentUpdates(t *testing.T) {
	s := jobs.NewStore()
	id := s.Create("s", 1).ID
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.Update(id, func(j *jobs.Job) { j.Warn("w") })
		}()
		go func() {
			defer wg.Done()
			_, _ = s.Get(id)
		}()
	}
	wg.Wait()
	j, _ := s.Get(id)
	if len(j.Warnings) != 50 {
		t.Errorf("warnings = %d, want 50", len(j.Warnings))
	}
}

func TestNewPreview(t *testing.T) {
	a := &analysis.Analysis{
		Transcript: types.Transcript{Text: strings.Repeat("가", 60)},
		Fusion:     fusion.Result{Decision: types.FusionDecision{FinalLabel: types.EmotionSadness}},
		Scores:     types.ScoreSet{Average: 72.5},
	}
	p := jobs.NewPreview(a)
	if p.Text != strings.Repeat("가", 50)+"..." || p.Emotion != "sadness" || p.Score != 72.5 {
		t.Errorf("preview = %+v", p)
	}
}
