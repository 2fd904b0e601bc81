// Package coqui provides a TTS provider backed by a self-hosted Coqui server.
//
// Two server flavours are supported:
//
//   - APIModeStandard (default): the stock Coqui TTS image. Synthesis is
//     GET /api/tts with query parameters; voices come from GET /details.
//   - APIModeXTTS: the XTTS v2 API server. Synthesis is POST /tts_to_audio/
//     with a JSON body; voices come from GET /studio_speakers.
//
// Both return a WAV file per request, which is decoded into an [audio.Clip].
//
//	p, _ := coqui.New("http://localhost:5002", coqui.WithLanguage("ko"))
//	clip, err := p.Synthesize(ctx, "안녕하세요, 어르신.", voice)
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cho1y0/neulbom/pkg/audio"
	"github.com/cho1y0/neulbom/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage        = "ko"
	defaultTimeout         = 30 * time.Second
	xttsEndpoint           = "/tts_to_audio/"
	studioSpeakersEndpoint = "/studio_speakers"
	apiTTSEndpoint         = "/api/tts"
	detailsEndpoint        = "/details"

	// maxWAVBytes caps a single synthesis response.
	maxWAVBytes = 32 << 20
)

// APIMode selects which Coqui server API the provider targets.
type APIMode string

const (
	APIModeXTTS     APIMode = "xtts"
	APIModeStandard APIMode = "standard"
)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language sent to the server. Defaults to "ko".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithAPIMode selects the server flavour.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.apiMode = mode }
}

// WithOutputSampleRate resamples synthesized audio to rate. Zero keeps the
// model's native rate.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) { p.outputRate = rate }
}

// Provider implements tts.Provider against a Coqui server.
type Provider struct {
	serverURL  string
	language   string
	httpClient *http.Client
	apiMode    APIMode
	outputRate int
}

// New creates a Provider targeting serverURL (e.g. "http://localhost:5002").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	switch p.apiMode {
	case APIModeStandard, APIModeXTTS:
	default:
		return nil, fmt.Errorf("coqui: unknown api mode %q", p.apiMode)
	}
	return p, nil
}

// xttsRequest is the JSON body of POST /tts_to_audio/.
type xttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// detailsResponse is the body of GET /details. Speakers is empty for
// single-speaker models.
type detailsResponse struct {
	ModelName string   `json:"model_name"`
	Language  string   `json:"language"`
	Speakers  []string `json:"speakers"`
}

// Synthesize renders text and returns the decoded clip.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (audio.Clip, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return audio.Clip{}, tts.ErrEmptyText
	}
	lang := p.language
	if voice.Language != "" {
		lang = voice.Language
	}

	var req *http.Request
	var err error
	if p.apiMode == APIModeXTTS {
		req, err = p.xttsRequest(ctx, text, voice, lang)
	} else {
		req, err = p.standardRequest(ctx, text, voice, lang)
	}
	if err != nil {
		return audio.Clip{}, err
	}

	wav, err := p.do(req)
	if err != nil {
		return audio.Clip{}, err
	}
	clip, err := audio.DecodeWAVBytes(wav)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("coqui: decode response: %w", err)
	}
	if p.outputRate > 0 && clip.SampleRate != p.outputRate {
		clip = audio.Clip{
			Samples:    audio.Resample(clip.Samples, clip.SampleRate, p.outputRate),
			SampleRate: p.outputRate,
		}
	}
	return clip, nil
}

func (p *Provider) xttsRequest(ctx context.Context, text string, voice tts.VoiceProfile, lang string) (*http.Request, error) {
	data, err := json.Marshal(xttsRequest{Text: text, SpeakerWav: voice.ID, Language: lang})
	if err != nil {
		return nil, fmt.Errorf("coqui: marshal tts request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+xttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")
	return req, nil
}

func (p *Provider) standardRequest(ctx context.Context, text string, voice tts.VoiceProfile, lang string) (*http.Request, error) {
	params := url.Values{}
	params.Set("text", text)
	if voice.ID != "" {
		params.Set("speaker_id", voice.ID)
	}
	if lang != "" {
		params.Set("language_id", lang)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")
	return req, nil
}

// do executes req and returns the body of a 200 response.
func (p *Provider) do(req *http.Request) ([]byte, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: %s %s returned status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxWAVBytes))
	if err != nil {
		return nil, fmt.Errorf("coqui: read response: %w", err)
	}
	return body, nil
}

// ---- ListVoices ----

// ListVoices returns the server's voices. In XTTS mode these are the studio
// speakers; in standard mode one profile per speaker of a multi-speaker
// model, or a single profile named after the model.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	endpoint := detailsEndpoint
	if p.apiMode == APIModeXTTS {
		endpoint = studioSpeakersEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create list-voices request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := p.do(req)
	if err != nil {
		return nil, err
	}
	if p.apiMode == APIModeXTTS {
		return parseStudioSpeakers(body)
	}
	return parseDetails(body)
}

func parseStudioSpeakers(body []byte) ([]tts.VoiceProfile, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("coqui: decode studio speakers: %w", err)
	}
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	profiles := make([]tts.VoiceProfile, 0, len(names))
	for _, name := range names {
		profiles = append(profiles, tts.VoiceProfile{
			ID:       name,
			Name:     name,
			Provider: "coqui",
			Metadata: map[string]string{"type": "studio"},
		})
	}
	return profiles, nil
}

func parseDetails(body []byte) ([]tts.VoiceProfile, error) {
	var d detailsResponse
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, fmt.Errorf("coqui: decode details response: %w", err)
	}
	if len(d.Speakers) == 0 {
		name := d.ModelName
		if name == "" {
			name = "default"
		}
		return []tts.VoiceProfile{{
			ID:       name,
			Name:     name,
			Provider: "coqui",
			Language: d.Language,
			Metadata: map[string]string{"type": "single-speaker", "model_name": name},
		}}, nil
	}

	speakers := append([]string(nil), d.Speakers...)
	sort.Strings(speakers)
	profiles := make([]tts.VoiceProfile, 0, len(speakers))
	for _, spk := range speakers {
		profiles = append(profiles, tts.VoiceProfile{
			ID:       spk,
			Name:     spk,
			Provider: "coqui",
			Language: d.Language,
			Metadata: map[string]string{"type": "speaker", "model_name": d.ModelName},
		})
	}
	return profiles, nil
}
