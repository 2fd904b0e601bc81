package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/cho1y0/neulbom/pkg/audio"
	"github.com/cho1y0/neulbom/pkg/provider/stt"
	sttmock "github.com/cho1y0/neulbom/pkg/provider/stt/mock"
)

var testClip = audio.Clip{Samples: make([]float32, 1600), SampleRate: audio.SampleRate16k}

func TestSTTFallback_Transcribe_PrimarySuccess(t *testing.T) {
	primary := &sttmock.Provider{Result: stt.Transcript{Text: "안녕하세요"}}
	secondary := &sttmock.Provider{Result: stt.Transcript{Text: "secondary"}}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	tr, err := fb.Transcribe(context.Background(), testClip, stt.Config{Language: "ko"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Text != "안녕하세요" {
		t.Fatalf("text = %q, want primary result", tr.Text)
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 0 {
		t.Fatalf("calls primary=%d secondary=%d, want 1/0", primary.CallCount(), secondary.CallCount())
	}
	if primary.Calls[0].Cfg.Language != "ko" {
		t.Errorf("config not forwarded: %+v", primary.Calls[0].Cfg)
	}
}

func TestSTTFallback_Transcribe_Failover(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("whisper down")}
	secondary := &sttmock.Provider{Result: stt.Transcript{Text: "from secondary"}}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	tr, err := fb.Transcribe(context.Background(), testClip, stt.Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Text != "from secondary" {
		t.Fatalf("text = %q, want from secondary", tr.Text)
	}
}

func TestSTTFallback_Transcribe_AllFail(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("primary down")}
	secondary := &sttmock.Provider{Err: errors.New("secondary down")}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Transcribe(context.Background(), testClip, stt.Config{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestSTTFallback_Transcribe_EmptyClip(t *testing.T) {
	primary := &sttmock.Provider{}
	fb := NewSTTFallback(primary, "primary", FallbackConfig{})

	_, err := fb.Transcribe(context.Background(), audio.Clip{SampleRate: 16000}, stt.Config{})
	if !errors.Is(err, stt.ErrEmptyAudio) {
		t.Fatalf("err = %v, want ErrEmptyAudio", err)
	}
	if primary.CallCount() != 0 {
		t.Errorf("provider called %d times for an empty clip", primary.CallCount())
	}
	if st := fb.Status(); st[0].State != "closed" {
		t.Errorf("breaker state = %s, want closed", st[0].State)
	}
}
