package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/cho1y0/neulbom/pkg/audio"
	"github.com/cho1y0/neulbom/pkg/provider/tts"
)

// ---- helpers ----

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startServer runs handler for every accepted stream-input connection.
func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readMessages(conn *websocket.Conn, n int) ([]textMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	out := make([]textMessage, 0, n)
	for range n {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return out, err
		}
		var m textMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return out, err
		}
		out = append(out, m)
	}
	return out, nil
}

func writeJSON(conn *websocket.Conn, v any) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	_ = conn.Write(ctx, websocket.MessageText, data)
}

func pcmChunk(samples ...int16) string {
	return base64.StdEncoding.EncodeToString(audio.Float32ToPCM16(toFloat(samples)))
}

func toFloat(s []int16) []float32 {
	out := make([]float32, len(s))
	for i, v := range s {
		out[i] = float32(v) / 32768
	}
	return out
}

func newProvider(t *testing.T, srv *httptest.Server, opts ...Option) *Provider {
	t.Helper()
	opts = append([]Option{WithEndpoints(wsURL(srv), srv.URL)}, opts...)
	p, err := New("test-key", opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

// ---- construction ----

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		opts     []Option
		wantRate int
		wantErr  bool
	}{
		{name: "defaults", key: "k", wantRate: 16000},
		{name: "24k", key: "k", opts: []Option{WithOutputFormat("pcm_24000")}, wantRate: 24000},
		{name: "empty key", key: "", wantErr: true},
		{name: "mp3 rejected", key: "k", opts: []Option{WithOutputFormat("mp3_44100_128")}, wantErr: true},
		{name: "bad rate", key: "k", opts: []Option{WithOutputFormat("pcm_fast")}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.key, tt.opts...)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if p.sampleRate != tt.wantRate {
				t.Errorf("sampleRate = %d, want %d", p.sampleRate, tt.wantRate)
			}
		})
	}
}

func TestStreamURL(t *testing.T) {
	p, _ := New("k", WithModel("eleven_multilingual_v2"))
	got := p.streamURL("voice-abc")
	for _, want := range []string{
		"wss://api.elevenlabs.io/v1/text-to-speech/voice-abc/stream-input?",
		"model_id=eleven_multilingual_v2",
		"output_format=pcm_16000",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("streamURL = %q, missing %q", got, want)
		}
	}
}

// ---- Synthesize ----

func TestSynthesize_CollectsChunks(t *testing.T) {
	msgsCh := make(chan []textMessage, 1)
	pathCh := make(chan string, 1)
	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		pathCh <- r.URL.Path
		msgs, err := readMessages(conn, 3)
		msgsCh <- msgs
		if err != nil {
			return
		}
		writeJSON(conn, audioResponse{Audio: pcmChunk(1000, 2000)})
		writeJSON(conn, audioResponse{Audio: pcmChunk(3000)})
		writeJSON(conn, audioResponse{IsFinal: true})
	})

	p := newProvider(t, srv)
	clip, err := p.Synthesize(context.Background(), "할머니, 식사하셨어요?", tts.VoiceProfile{ID: "bomi"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if clip.SampleRate != 16000 {
		t.Errorf("sample rate = %d, want 16000", clip.SampleRate)
	}
	if len(clip.Samples) != 3 {
		t.Fatalf("samples = %d, want 3", len(clip.Samples))
	}
	if got := <-pathCh; got != "/v1/text-to-speech/bomi/stream-input" {
		t.Errorf("path = %q", got)
	}

	msgs := <-msgsCh
	if len(msgs) != 3 {
		t.Fatalf("server received %d messages, want 3", len(msgs))
	}
	if msgs[0].XiAPIKey != "test-key" || msgs[0].VoiceSettings == nil || msgs[0].Text != " " {
		t.Errorf("opening message = %+v", msgs[0])
	}
	if msgs[1].Text != "할머니, 식사하셨어요? " || msgs[1].XiAPIKey != "" {
		t.Errorf("text message = %+v", msgs[1])
	}
	if msgs[2].Text != "" {
		t.Errorf("flush message = %+v, want empty text", msgs[2])
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		if _, err := readMessages(conn, 3); err != nil {
			return
		}
		writeJSON(conn, audioResponse{Error: "quota_exceeded", Message: "out of credits"})
	})

	_, err := newProvider(t, srv).Synthesize(context.Background(), "hi", tts.VoiceProfile{ID: "v"})
	if err == nil || !strings.Contains(err.Error(), "quota_exceeded") {
		t.Errorf("err = %v, want quota_exceeded", err)
	}
}

func TestSynthesize_ClosedWithoutAudio(t *testing.T) {
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		_, _ = readMessages(conn, 3)
	})

	if _, err := newProvider(t, srv).Synthesize(context.Background(), "hi", tts.VoiceProfile{ID: "v"}); err == nil {
		t.Error("expected error when the stream closes with no audio")
	}
}

func TestSynthesize_Validation(t *testing.T) {
	p, _ := New("k")
	if _, err := p.Synthesize(context.Background(), "  ", tts.VoiceProfile{ID: "v"}); !errors.Is(err, tts.ErrEmptyText) {
		t.Errorf("empty text: err = %v, want ErrEmptyText", err)
	}
	if _, err := p.Synthesize(context.Background(), "hi", tts.VoiceProfile{}); err == nil {
		t.Error("expected error for empty voice ID")
	}
}

// ---- ListVoices ----

func TestListVoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/voices" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("xi-api-key") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"voices":[
			{"voice_id":"v1","name":"Bomi","category":"cloned","labels":{"language":"ko","gender":"female"}},
			{"voice_id":"v2","name":"Rachel","category":"premade","labels":{}}
		]}`))
	}))
	defer srv.Close()

	voices, err := newProvider(t, srv).ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("got %d voices, want 2", len(voices))
	}
	v := voices[0]
	if v.ID != "v1" || v.Name != "Bomi" || v.Language != "ko" || v.Provider != "elevenlabs" {
		t.Errorf("voices[0] = %+v", v)
	}
	if v.Metadata["category"] != "cloned" || v.Metadata["gender"] != "female" {
		t.Errorf("voices[0].Metadata = %v", v.Metadata)
	}
}

func TestListVoices_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	if _, err := newProvider(t, srv).ListVoices(context.Background()); err == nil {
		t.Error("expected error for 401")
	}
}
