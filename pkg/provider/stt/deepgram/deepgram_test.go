package deepgram_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cho1y0/neulbom/pkg/audio"
	"github.com/cho1y0/neulbom/pkg/provider/stt"
	"github.com/cho1y0/neulbom/pkg/provider/stt/deepgram"
)

const listenJSON = `{
  "metadata": {"duration": 1.5},
  "results": {"channels": [{"alternatives": [{
    "transcript": "무릎이 좀 아파요",
    "confidence": 0.93,
    "words": [
      {"word": "무릎이", "start": 0.1, "end": 0.5},
      {"word": "좀", "start": 0.5, "end": 0.7},
      {"word": "아파요", "start": 0.7, "end": 1.2}
    ]
  }]}]}
}`

func TestNew_EmptyKey(t *testing.T) {
	if _, err := deepgram.New(""); err == nil {
		t.Fatal("expected error for empty apiKey")
	}
}

func TestTranscribe(t *testing.T) {
	var gotAuth, gotCT, gotModel, gotLang string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCT = r.Header.Get("Content-Type")
		gotModel = r.URL.Query().Get("model")
		gotLang = r.URL.Query().Get("language")
		_, _ = io.Copy(io.Discard, r.Body)
		_, _ = io.WriteString(w, listenJSON)
	}))
	defer srv.Close()

	p, err := deepgram.New("key", deepgram.WithEndpoint(srv.URL+"/v1/listen"), deepgram.WithModel("nova-2"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	clip := audio.Clip{Samples: make([]float32, 8000), SampleRate: 16000}
	tr, err := p.Transcribe(context.Background(), clip, stt.Config{Language: "ko"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if gotAuth != "Token key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotCT != "audio/wav" {
		t.Errorf("Content-Type = %q", gotCT)
	}
	if gotModel != "nova-2" || gotLang != "ko" {
		t.Errorf("query model=%q language=%q", gotModel, gotLang)
	}
	if tr.Text != "무릎이 좀 아파요" || tr.Confidence != 0.93 {
		t.Errorf("transcript = %+v", tr)
	}
	if tr.Duration != 1500*time.Millisecond {
		t.Errorf("duration = %v, want 1.5s from metadata", tr.Duration)
	}
	if len(tr.Segments) != 3 {
		t.Errorf("segments = %d, want 3", len(tr.Segments))
	}
}

func TestTranscribe_NoAlternatives(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"metadata":{},"results":{"channels":[]}}`)
	}))
	defer srv.Close()

	p, _ := deepgram.New("key", deepgram.WithEndpoint(srv.URL))
	clip := audio.Clip{Samples: make([]float32, 16000), SampleRate: 16000}
	tr, err := p.Transcribe(context.Background(), clip, stt.Config{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "" {
		t.Errorf("text = %q, want empty", tr.Text)
	}
	if tr.Duration != time.Second {
		t.Errorf("duration = %v, want clip duration", tr.Duration)
	}
}

func TestTranscribe_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"err_code":"INVALID_AUTH"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, _ := deepgram.New("bad", deepgram.WithEndpoint(srv.URL))
	clip := audio.Clip{Samples: make([]float32, 160), SampleRate: 16000}
	if _, err := p.Transcribe(context.Background(), clip, stt.Config{}); err == nil {
		t.Fatal("expected error for 401")
	}
}
