// Package tts turns assistant replies into caller audio: Twilio's built-in
// <Say> voices, ElevenLabs synthesis served as <Play> audio, or an external
// TTS server.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/agentplexus/omnivoice-receptionist/obs"
)

const (
	DefaultBaseURL = "https://api.elevenlabs.io"
	DefaultModel   = "eleven_multilingual_v2"
	DefaultVoiceID = "pqHfZKP75CvOlQylNhV4"

	// FormatMP3 is the format synthesized for <Play>.
	FormatMP3 = "mp3_22050_32"
	// FormatMuLaw is raw 8 kHz μ-law, the Media Streams wire format.
	FormatMuLaw = "ulaw_8000"
)

// ErrNoAPIKey is returned when no ElevenLabs API key is configured.
var ErrNoAPIKey = errors.New("tts: ElevenLabs API key is required")

// VoiceSettings tunes ElevenLabs delivery.
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// DefaultVoiceSettings returns the settings used for phone replies.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{
		Stability:       0.5,
		SimilarityBoost: 0.8,
		Style:           0,
		UseSpeakerBoost: true,
	}
}

// ElevenLabs is a client for the ElevenLabs text-to-speech API.
type ElevenLabs struct {
	apiKey     string
	baseURL    string
	voice      string
	model      string
	settings   VoiceSettings
	httpClient *http.Client
}

// ElevenLabsOption configures the ElevenLabs client.
type ElevenLabsOption func(*ElevenLabs)

// WithBaseURL sets the API base URL.
func WithBaseURL(url string) ElevenLabsOption {
	return func(c *ElevenLabs) {
		c.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithVoice sets the voice ID.
func WithVoice(voice string) ElevenLabsOption {
	return func(c *ElevenLabs) {
		if voice != "" {
			c.voice = voice
		}
	}
}

// WithModel sets the synthesis model.
func WithModel(model string) ElevenLabsOption {
	return func(c *ElevenLabs) {
		if model != "" {
			c.model = model
		}
	}
}

// WithVoiceSettings overrides the delivery settings.
func WithVoiceSettings(s VoiceSettings) ElevenLabsOption {
	return func(c *ElevenLabs) {
		c.settings = s
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) ElevenLabsOption {
	return func(c *ElevenLabs) {
		c.httpClient = client
	}
}

// NewElevenLabs creates an ElevenLabs client.
func NewElevenLabs(apiKey string, opts ...ElevenLabsOption) (*ElevenLabs, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	c := &ElevenLabs{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		voice:      DefaultVoiceID,
		model:      DefaultModel,
		settings:   DefaultVoiceSettings(),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// VoiceID returns the configured voice.
func (c *ElevenLabs) VoiceID() string {
	return c.voice
}

type synthesizeRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings VoiceSettings `json:"voice_settings"`
}

type errorResponse struct {
	Detail struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"detail"`
}

// Synthesize returns audio for text in the given output format.
func (c *ElevenLabs) Synthesize(ctx context.Context, text, format string) (data []byte, err error) {
	if format == "" {
		format = FormatMP3
	}
	ctx, rec := obs.Start(ctx, "tts.synthesize",
		attribute.String("voice", c.voice),
		attribute.String("format", format),
		attribute.Int("chars", len(text)),
	)
	defer func() { rec.End(err) }()

	body, err := json.Marshal(synthesizeRequest{
		Text:          text,
		ModelID:       c.model,
		VoiceSettings: c.settings,
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}

	reqURL := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s", c.baseURL, url.PathEscape(c.voice), url.QueryEscape(format))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	return c.do(req)
}

// Voice describes a voice that can be used for replies.
type Voice struct {
	ID       string
	Name     string
	Language string
	Gender   string
	Category string
	Provider string
}

type voicesResponse struct {
	Voices []struct {
		VoiceID  string            `json:"voice_id"`
		Name     string            `json:"name"`
		Category string            `json:"category"`
		Labels   map[string]string `json:"labels"`
	} `json:"voices"`
}

// Voices lists the voices available to the account.
func (c *ElevenLabs) Voices(ctx context.Context) ([]Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)

	data, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var resp voicesResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("elevenlabs: decode voices: %w", err)
	}

	voices := make([]Voice, 0, len(resp.Voices))
	for _, v := range resp.Voices {
		voices = append(voices, Voice{
			ID:       v.VoiceID,
			Name:     v.Name,
			Language: v.Labels["accent"],
			Gender:   v.Labels["gender"],
			Category: v.Category,
			Provider: "elevenlabs",
		})
	}
	return voices, nil
}

func (c *ElevenLabs) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if json.Unmarshal(data, &errResp) == nil && errResp.Detail.Message != "" {
			return nil, fmt.Errorf("elevenlabs: %s", errResp.Detail.Message)
		}
		return nil, fmt.Errorf("elevenlabs: unexpected status %d: %s", resp.StatusCode, string(data))
	}
	return data, nil
}
