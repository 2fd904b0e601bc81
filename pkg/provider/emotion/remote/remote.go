// Package remote provides an emotion.Classifier backed by an HTTP inference
// endpoint speaking the Hugging Face inference API conventions.
//
// Text classifiers receive a JSON body {"inputs": "..."}. Audio classifiers
// receive the utterance as a 16-bit mono WAV file (Content-Type audio/wav),
// resampled to 16 kHz and padded or truncated to a fixed window. Both expect
// a JSON list of {"label", "score"} objects in return, optionally nested one
// level deep as text-classification pipelines do.
//
// Usage:
//
//	c, err := remote.New("http://localhost:8000/models/emotion-text",
//	    remote.Text,
//	    remote.WithAPIKey(os.Getenv("HF_TOKEN")),
//	)
//	out, err := c.Classify(ctx, emotion.Input{Text: "오늘은 기분이 좋아요"})
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cho1y0/neulbom/pkg/audio"
	"github.com/cho1y0/neulbom/pkg/provider/emotion"
	"github.com/cho1y0/neulbom/pkg/types"
)

// Modality selects which part of the input a classifier consumes.
type Modality string

const (
	Text  Modality = "text"
	Audio Modality = "audio"
)

// DefaultAudioWindow is the fixed length of audio sent to speech models.
const DefaultAudioWindow = 60 * time.Second

var _ emotion.Classifier = (*Classifier)(nil)

// Option is a functional option for configuring a Classifier.
type Option func(*Classifier)

// WithAPIKey sends key as a Bearer token on every request.
func WithAPIKey(key string) Option {
	return func(c *Classifier) {
		c.apiKey = key
	}
}

// WithHTTPClient replaces the default HTTP client (30 s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Classifier) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithAudioWindow overrides the fixed audio window. Defaults to 60 s.
func WithAudioWindow(d time.Duration) Option {
	return func(c *Classifier) {
		if d > 0 {
			c.window = d
		}
	}
}

// Classifier implements emotion.Classifier over HTTP.
type Classifier struct {
	endpoint   string
	modality   Modality
	apiKey     string
	window     time.Duration
	httpClient *http.Client
}

// New returns a Classifier posting to endpoint.
func New(endpoint string, modality Modality, opts ...Option) (*Classifier, error) {
	if endpoint == "" {
		return nil, errors.New("remote: endpoint must not be empty")
	}
	if modality != Text && modality != Audio {
		return nil, fmt.Errorf("remote: unknown modality %q", modality)
	}
	c := &Classifier{
		endpoint:   endpoint,
		modality:   modality,
		window:     DefaultAudioWindow,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Classify sends in to the inference endpoint and parses the predictions.
func (c *Classifier) Classify(ctx context.Context, in emotion.Input) (types.ClassifierOutput, error) {
	var (
		body        []byte
		contentType string
	)
	switch c.modality {
	case Text:
		if in.Text == "" {
			return types.ClassifierOutput{}, emotion.ErrEmptyInput
		}
		b, err := json.Marshal(map[string]string{"inputs": in.Text})
		if err != nil {
			return types.ClassifierOutput{}, fmt.Errorf("remote: encode request: %w", err)
		}
		body, contentType = b, "application/json"
	case Audio:
		if len(in.Audio) == 0 || in.SampleRate <= 0 {
			return types.ClassifierOutput{}, emotion.ErrEmptyInput
		}
		clip := audio.To16k(audio.Clip{Samples: in.Audio, SampleRate: in.SampleRate})
		body, contentType = audio.EncodeWAV(audio.FitWindow(clip, c.window)), "audio/wav"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return types.ClassifierOutput{}, fmt.Errorf("remote: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return types.ClassifierOutput{}, fmt.Errorf("remote: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.ClassifierOutput{}, fmt.Errorf("remote: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return types.ClassifierOutput{}, fmt.Errorf("remote: server returned HTTP %d: %s", resp.StatusCode, truncate(data, 200))
	}

	preds, err := parsePredictions(data)
	if err != nil {
		return types.ClassifierOutput{}, err
	}
	return emotion.FromPredictions(preds)
}

// parsePredictions accepts either [{...}] or [[{...}]].
func parsePredictions(data []byte) ([]emotion.Prediction, error) {
	var flat []emotion.Prediction
	if err := json.Unmarshal(data, &flat); err == nil {
		return flat, nil
	}
	var nested [][]emotion.Prediction
	if err := json.Unmarshal(data, &nested); err != nil {
		return nil, fmt.Errorf("remote: parse JSON response: %w", err)
	}
	if len(nested) == 0 {
		return nil, nil
	}
	return nested[0], nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "…"
}
