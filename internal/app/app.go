// Package app wires configuration into a running receptionist.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/agentplexus/omnivoice-receptionist/callsystem"
	"github.com/agentplexus/omnivoice-receptionist/config"
	"github.com/agentplexus/omnivoice-receptionist/conversation"
	"github.com/agentplexus/omnivoice-receptionist/escalation"
	"github.com/agentplexus/omnivoice-receptionist/internal/client"
	"github.com/agentplexus/omnivoice-receptionist/internal/server"
	"github.com/agentplexus/omnivoice-receptionist/llm"
	"github.com/agentplexus/omnivoice-receptionist/stt"
	"github.com/agentplexus/omnivoice-receptionist/transport"
	"github.com/agentplexus/omnivoice-receptionist/tts"
)

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 15 * time.Second

// App is a fully wired receptionist.
type App struct {
	Config     *config.Config
	Engine     *conversation.Engine
	Escalation *escalation.Service
	Speaker    *tts.Speaker
	Calls      *callsystem.Provider
	Stream     *transport.Provider
	Sweeper    *conversation.Sweeper
	Server     *server.Server

	logger *zap.Logger
}

// NewTwilioClient returns the REST client, or nil when credentials are missing.
func NewTwilioClient(cfg *config.Config) *client.Client {
	c, err := client.New(&client.Config{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
	})
	if err != nil {
		return nil
	}
	return c
}

// NewElevenLabs returns the synthesizer, or nil without an API key.
func NewElevenLabs(cfg *config.Config) *tts.ElevenLabs {
	el, err := tts.NewElevenLabs(cfg.ElevenLabs.APIKey,
		tts.WithVoice(cfg.ElevenLabs.VoiceID),
		tts.WithModel(cfg.ElevenLabs.Model),
	)
	if err != nil {
		return nil
	}
	return el
}

// NewSpeaker builds the reply speaker.
func NewSpeaker(cfg *config.Config, logger *zap.Logger) (*tts.Speaker, error) {
	mode, err := tts.ParseMode(cfg.TTS.Mode)
	if err != nil {
		return nil, err
	}
	opts := []tts.SpeakerOption{
		tts.WithMode(mode),
		tts.WithSayVoice(cfg.Persona.Voice, cfg.Persona.Language),
		tts.WithPublicBaseURL(cfg.PublicBaseURL),
		tts.WithRemote(cfg.TTS.BaseURL, cfg.TTS.Path),
		tts.WithTimeout(cfg.TTS.Timeout),
		tts.WithLogger(logger.Named("tts")),
	}
	if el := NewElevenLabs(cfg); el != nil {
		opts = append(opts, tts.WithSynthesizer(el, el.VoiceID()))
	} else if mode == tts.ModeElevenLabs {
		logger.Warn("ELEVENLABS_API_KEY is not set, replies use the built-in voice")
	}
	return tts.NewSpeaker(opts...), nil
}

// New wires every component from cfg.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	twilio := NewTwilioClient(cfg)
	if twilio == nil {
		logger.Warn("Twilio credentials are not set, owner notifications are disabled")
	}

	var gen conversation.Generator
	chat, err := llm.New(cfg.OpenAI.APIKey,
		llm.WithBaseURL(cfg.OpenAI.BaseURL),
		llm.WithModel(cfg.OpenAI.Model),
		llm.WithMaxTokens(cfg.OpenAI.MaxTokens),
		llm.WithTemperature(float32(cfg.OpenAI.Temperature)),
		llm.WithLogger(logger.Named("llm")),
	)
	if err != nil {
		logger.Warn("chat model unavailable, every reply uses the fallback line", zap.Error(err))
		chatErr := err
		gen = conversation.GeneratorFunc(func(context.Context, []conversation.Turn) (string, error) {
			return "", chatErr
		})
	} else {
		gen = chat
	}

	mode, err := escalation.ParseMode(cfg.Escalation.Mode)
	if err != nil {
		return nil, err
	}
	signer, err := escalation.NewSigner([]byte(cfg.Escalation.SigningKey), cfg.Escalation.TokenTTL)
	if err != nil {
		return nil, err
	}
	var notifier escalation.Notifier
	if twilio != nil {
		notifier = twilio
	}
	esc := escalation.NewService(escalation.Config{
		Mode:      mode,
		From:      cfg.Twilio.PhoneNumber,
		To:        cfg.Escalation.MainPhoneNumber,
		BaseURL:   cfg.PublicBaseURL,
		Owner:     cfg.Persona.Owner,
		Assistant: cfg.Persona.Assistant,
	}, escalation.NewGate(cfg.Escalation.Cooldown), notifier, signer,
		escalation.WithLogger(logger.Named("escalation")),
	)

	engine, err := conversation.NewEngine(conversation.NewMemoryStore(), gen, cfg.Policy(), cfg.Persona.SystemPrompt,
		conversation.WithLogger(logger.Named("conversation")),
		conversation.WithEscalator(esc),
		conversation.WithLines(cfg.Persona.EngineLines()),
		conversation.WithChatTimeout(cfg.Conversation.ChatTimeout),
		conversation.WithEscalationTimeout(cfg.Escalation.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation engine: %w", err)
	}

	speaker, err := NewSpeaker(cfg, logger)
	if err != nil {
		return nil, err
	}

	recognizer := stt.New(
		stt.WithLanguage(cfg.Persona.Language),
		stt.WithSpeechModel(cfg.Conversation.SpeechModel),
		stt.WithEnhanced(cfg.Conversation.SpeechModel == "phone_call"),
		stt.WithTimeout(cfg.Conversation.GatherTimeout),
	)

	a := &App{
		Config:     cfg,
		Engine:     engine,
		Escalation: esc,
		Speaker:    speaker,
		logger:     logger,
	}

	callOpts := []callsystem.Option{
		callsystem.WithNotifier(esc),
		callsystem.WithRecognizer(recognizer),
		callsystem.WithPrompts(cfg.Persona.CallPrompts()),
		callsystem.WithVoicemail(cfg.VoicemailOnGiveUp),
		callsystem.WithLogger(logger.Named("callsystem")),
	}
	var serverOpts []server.Option
	if cfg.StreamMode {
		stream, err := newStream(cfg, engine, speaker, twilio, logger)
		if err != nil {
			return nil, err
		}
		a.Stream = stream
		callOpts = append(callOpts, callsystem.WithStreamURL(cfg.StreamURL()))
		serverOpts = append(serverOpts, server.WithMediaStream(stream))
	}
	a.Calls = callsystem.New(engine, speaker, callOpts...)

	if cfg.ValidateSignatures {
		serverOpts = append(serverOpts, server.WithSignatureValidation(cfg.Twilio.AuthToken, cfg.PublicBaseURL))
	}
	serverOpts = append(serverOpts, server.WithLogger(logger.Named("server")))
	a.Server = server.New(a.Calls, speaker, serverOpts...)

	a.Sweeper = conversation.NewSweeper(engine,
		conversation.WithSweepInterval(cfg.Conversation.SweepInterval),
		conversation.WithIdleTimeout(cfg.Conversation.IdleTimeout),
		conversation.WithPurger(esc.Gate()),
		conversation.WithPurger(a.Calls),
		conversation.WithSweeperLogger(logger.Named("sweeper")),
	)
	return a, nil
}

func newStream(cfg *config.Config, engine *conversation.Engine, speaker *tts.Speaker, twilio *client.Client, logger *zap.Logger) (*transport.Provider, error) {
	whisper, err := stt.NewWhisper(cfg.OpenAI.APIKey,
		stt.WithWhisperBaseURL(cfg.OpenAI.BaseURL),
		stt.WithWhisperLanguage(language(cfg.Persona.Language)),
		stt.WithWhisperLogger(logger.Named("whisper")),
	)
	if err != nil {
		return nil, fmt.Errorf("stream mode needs transcription: %w", err)
	}

	opts := []transport.Option{transport.WithLogger(logger.Named("transport"))}
	if twilio != nil {
		opts = append(opts, transport.WithCallUpdater(twilio))
	}
	return transport.New(engine, whisper, speaker, opts...), nil
}

// language reduces a BCP-47 tag like "en-GB" to the ISO-639-1 code Whisper takes.
func language(tag string) string {
	if len(tag) >= 2 {
		return tag[:2]
	}
	return tag
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	if err := a.Sweeper.Start(ctx); err != nil {
		return err
	}
	defer a.Sweeper.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Server.ListenAndServe(":" + strconv.Itoa(a.Config.Port))
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	if a.Stream != nil {
		_ = a.Stream.Close()
	}
	if err := a.Server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return <-errCh
}
