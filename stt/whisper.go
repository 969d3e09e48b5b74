package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/agentplexus/omnivoice-receptionist/internal/audio"
	"github.com/agentplexus/omnivoice-receptionist/obs"
)

// ErrNoAPIKey is returned when no OpenAI API key is configured.
var ErrNoAPIKey = errors.New("stt: API key is required")

// Whisper transcribes phone audio with OpenAI's transcription API.
type Whisper struct {
	api      *openai.Client
	model    string
	language string
	logger   *zap.Logger
}

// WhisperOption configures Whisper.
type WhisperOption func(*whisperOptions)

type whisperOptions struct {
	baseURL  string
	model    string
	language string
	logger   *zap.Logger
}

// WithWhisperBaseURL points the client at a different API endpoint.
func WithWhisperBaseURL(url string) WhisperOption {
	return func(o *whisperOptions) {
		o.baseURL = url
	}
}

// WithWhisperModel sets the transcription model.
func WithWhisperModel(model string) WhisperOption {
	return func(o *whisperOptions) {
		o.model = model
	}
}

// WithWhisperLanguage sets an ISO-639-1 language hint.
func WithWhisperLanguage(language string) WhisperOption {
	return func(o *whisperOptions) {
		o.language = language
	}
}

// WithWhisperLogger sets the logger.
func WithWhisperLogger(logger *zap.Logger) WhisperOption {
	return func(o *whisperOptions) {
		o.logger = logger
	}
}

// NewWhisper creates a Whisper transcriber.
func NewWhisper(apiKey string, opts ...WhisperOption) (*Whisper, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}

	cfg := &whisperOptions{
		model:  openai.Whisper1,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	apiCfg := openai.DefaultConfig(apiKey)
	if cfg.baseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.baseURL, "/")
	}

	return &Whisper{
		api:      openai.NewClientWithConfig(apiCfg),
		model:    cfg.model,
		language: cfg.language,
		logger:   cfg.logger,
	}, nil
}

// TranscribeMuLaw transcribes raw 8 kHz μ-law frames as received from a
// Media Stream.
func (w *Whisper) TranscribeMuLaw(ctx context.Context, frames []byte) (string, error) {
	return w.TranscribeWAV(ctx, audio.WAVFromMuLaw(frames))
}

// TranscribeWAV transcribes a WAV file.
func (w *Whisper) TranscribeWAV(ctx context.Context, wav []byte) (text string, err error) {
	ctx, rec := obs.Start(ctx, "stt.transcribe",
		attribute.String("model", w.model),
		attribute.Int("bytes", len(wav)),
	)
	defer func() { rec.End(err) }()

	resp, err := w.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: "chunk.wav",
		Reader:   bytes.NewReader(wav),
		Language: w.language,
	})
	if err != nil {
		return "", fmt.Errorf("failed to transcribe audio: %w", err)
	}

	text = strings.TrimSpace(resp.Text)
	w.logger.Debug("transcribed audio", zap.Int("bytes", len(wav)), zap.Int("chars", len(text)))
	return text, nil
}
