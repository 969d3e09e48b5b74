// Package config loads receptionist settings from the environment, an
// optional .env file and a persona YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/agentplexus/omnivoice-receptionist/conversation"
	"github.com/agentplexus/omnivoice-receptionist/escalation"
	"github.com/agentplexus/omnivoice-receptionist/tts"
)

// Twilio holds account credentials and the receptionist's number.
type Twilio struct {
	AccountSID  string
	AuthToken   string
	PhoneNumber string
}

// OpenAI holds chat completion and transcription settings.
type OpenAI struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

// ElevenLabs holds synthesis settings.
type ElevenLabs struct {
	APIKey  string
	VoiceID string
	Model   string
}

// TTS selects how replies are voiced.
type TTS struct {
	Mode    string
	BaseURL string
	Path    string
	Timeout time.Duration
}

// Escalation holds owner notification settings.
type Escalation struct {
	Mode            string
	MainPhoneNumber string
	Cooldown        time.Duration
	Timeout         time.Duration
	SigningKey      string
	TokenTTL        time.Duration
}

// Conversation holds turn-taking settings.
type Conversation struct {
	MinExchange   int
	MaxTurns      int
	ChatTimeout   time.Duration
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	GatherTimeout int
	SpeechModel   string
}

// Config is the complete receptionist configuration.
type Config struct {
	Port               int
	PublicBaseURL      string
	StreamMode         bool
	VoicemailOnGiveUp  bool
	ValidateSignatures bool
	LogLevel           string
	LogFormat          string
	OTelStdout         bool

	Twilio       Twilio
	OpenAI       OpenAI
	ElevenLabs   ElevenLabs
	TTS          TTS
	Escalation   Escalation
	Conversation Conversation
	Persona      *Persona
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 3000)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("OPENAI_MODEL", "gpt-4.1-nano")
	v.SetDefault("OPENAI_MAX_TOKENS", 100)
	v.SetDefault("OPENAI_TEMPERATURE", 0.8)

	v.SetDefault("ELEVENLABS_VOICE_ID", tts.DefaultVoiceID)
	v.SetDefault("ELEVENLABS_MODEL", tts.DefaultModel)

	v.SetDefault("TTS_MODE", string(tts.ModeSay))
	v.SetDefault("TTS_PATH", tts.DefaultRemotePath)
	v.SetDefault("TTS_TIMEOUT", tts.DefaultTimeout)

	v.SetDefault("ESCALATION_MODE", string(escalation.ModeVoice))
	v.SetDefault("ESCALATION_COOLDOWN", escalation.DefaultCooldown)
	v.SetDefault("ESCALATION_TIMEOUT", conversation.DefaultEscalationTimeout)
	v.SetDefault("SUMMARY_TOKEN_TTL", escalation.DefaultTokenTTL)

	v.SetDefault("MIN_EXCHANGE_TURNS", conversation.DefaultMinExchange)
	v.SetDefault("MAX_TURNS", conversation.DefaultMaxTurns)
	v.SetDefault("CHAT_TIMEOUT", conversation.DefaultChatTimeout)
	v.SetDefault("SESSION_IDLE_TIMEOUT", conversation.DefaultIdleTimeout)
	v.SetDefault("SWEEP_INTERVAL", conversation.DefaultSweepInterval)
	v.SetDefault("GATHER_TIMEOUT", 6)
}

// Load reads the configuration. Each env file that exists is loaded first
// without overriding variables already set; with no files, ".env" is tried.
func Load(envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	persona, err := LoadPersona(v.GetString("PERSONA_FILE"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:              v.GetInt("PORT"),
		PublicBaseURL:     strings.TrimRight(v.GetString("PUBLIC_BASE_URL"), "/"),
		StreamMode:        v.GetBool("STREAM_MODE"),
		VoicemailOnGiveUp: v.GetBool("VOICEMAIL_ON_GIVEUP"),
		LogLevel:          v.GetString("LOG_LEVEL"),
		LogFormat:         v.GetString("LOG_FORMAT"),
		OTelStdout:        v.GetBool("OTEL_STDOUT"),
		Twilio: Twilio{
			AccountSID:  v.GetString("TWILIO_ACCOUNT_SID"),
			AuthToken:   v.GetString("TWILIO_AUTH_TOKEN"),
			PhoneNumber: v.GetString("TWILIO_PHONE_NUMBER"),
		},
		OpenAI: OpenAI{
			APIKey:      v.GetString("OPENAI_API_KEY"),
			BaseURL:     v.GetString("OPENAI_BASE_URL"),
			Model:       v.GetString("OPENAI_MODEL"),
			MaxTokens:   v.GetInt("OPENAI_MAX_TOKENS"),
			Temperature: v.GetFloat64("OPENAI_TEMPERATURE"),
		},
		ElevenLabs: ElevenLabs{
			APIKey:  v.GetString("ELEVENLABS_API_KEY"),
			VoiceID: v.GetString("ELEVENLABS_VOICE_ID"),
			Model:   v.GetString("ELEVENLABS_MODEL"),
		},
		TTS: TTS{
			Mode:    v.GetString("TTS_MODE"),
			BaseURL: v.GetString("TTS_BASE_URL"),
			Path:    v.GetString("TTS_PATH"),
			Timeout: duration(v, "TTS_TIMEOUT"),
		},
		Escalation: Escalation{
			Mode:            v.GetString("ESCALATION_MODE"),
			MainPhoneNumber: v.GetString("MAIN_PHONE_NUMBER"),
			Cooldown:        duration(v, "ESCALATION_COOLDOWN"),
			Timeout:         duration(v, "ESCALATION_TIMEOUT"),
			SigningKey:      v.GetString("SUMMARY_SIGNING_KEY"),
			TokenTTL:        duration(v, "SUMMARY_TOKEN_TTL"),
		},
		Conversation: Conversation{
			MinExchange:   v.GetInt("MIN_EXCHANGE_TURNS"),
			MaxTurns:      v.GetInt("MAX_TURNS"),
			ChatTimeout:   duration(v, "CHAT_TIMEOUT"),
			IdleTimeout:   duration(v, "SESSION_IDLE_TIMEOUT"),
			SweepInterval: duration(v, "SWEEP_INTERVAL"),
			GatherTimeout: v.GetInt("GATHER_TIMEOUT"),
			SpeechModel:   v.GetString("SPEECH_MODEL"),
		},
		Persona: persona,
	}

	// Signatures can only be checked with an auth token, so that decides
	// the default.
	if v.IsSet("VALIDATE_SIGNATURES") {
		cfg.ValidateSignatures = v.GetBool("VALIDATE_SIGNATURES")
	} else {
		cfg.ValidateSignatures = cfg.Twilio.AuthToken != ""
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// duration reads a duration setting. A bare number is taken as seconds,
// the unit GATHER_TIMEOUT uses.
func duration(v *viper.Viper, key string) time.Duration {
	raw := strings.TrimSpace(v.GetString(key))
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(n) * time.Second
	}
	return v.GetDuration(key)
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Validate rejects settings the server cannot run with. Missing optional
// integrations are not errors; the affected step is skipped at runtime.
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port))
	}
	if err := c.Policy().Validate(); err != nil {
		errs = append(errs, err)
	}
	for _, d := range []struct {
		key   string
		value time.Duration
	}{
		{"TTS_TIMEOUT", c.TTS.Timeout},
		{"ESCALATION_COOLDOWN", c.Escalation.Cooldown},
		{"ESCALATION_TIMEOUT", c.Escalation.Timeout},
		{"SUMMARY_TOKEN_TTL", c.Escalation.TokenTTL},
		{"CHAT_TIMEOUT", c.Conversation.ChatTimeout},
		{"SESSION_IDLE_TIMEOUT", c.Conversation.IdleTimeout},
		{"SWEEP_INTERVAL", c.Conversation.SweepInterval},
	} {
		if d.value < time.Second {
			errs = append(errs, fmt.Errorf("%s must be at least 1s, got %s", d.key, d.value))
		}
	}
	if _, err := tts.ParseMode(c.TTS.Mode); err != nil {
		errs = append(errs, err)
	}
	if _, err := escalation.ParseMode(c.Escalation.Mode); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat))
	}
	if c.StreamMode && c.PublicBaseURL == "" {
		errs = append(errs, errors.New("STREAM_MODE requires PUBLIC_BASE_URL"))
	}
	if c.ValidateSignatures && c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("VALIDATE_SIGNATURES requires TWILIO_AUTH_TOKEN"))
	}
	if c.Persona == nil || strings.TrimSpace(c.Persona.SystemPrompt) == "" {
		errs = append(errs, errors.New("persona must define a system prompt"))
	}

	return errors.Join(errs...)
}

// Policy returns the turn-taking policy.
func (c *Config) Policy() conversation.Policy {
	phrases := conversation.DefaultEndPhrases
	if c.Persona != nil && len(c.Persona.EndPhrases) > 0 {
		phrases = c.Persona.EndPhrases
	}
	return conversation.Policy{
		MinExchange: c.Conversation.MinExchange,
		MaxTurns:    c.Conversation.MaxTurns,
		EndPhrases:  append([]string(nil), phrases...),
	}
}

// StreamURL returns the WebSocket URL Twilio connects Media Streams to.
func (c *Config) StreamURL() string {
	if c.PublicBaseURL == "" {
		return ""
	}
	u := c.PublicBaseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/media-stream"
}
