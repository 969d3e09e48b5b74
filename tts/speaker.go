package tts

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentplexus/omnivoice-receptionist/internal/audio"
	"github.com/agentplexus/omnivoice-receptionist/twiml"
)

// Mode selects how replies are voiced.
type Mode string

const (
	ModeSay        Mode = "say"
	ModeElevenLabs Mode = "elevenlabs"
	ModeRemote     Mode = "remote"
)

const (
	// DefaultTimeout bounds one inline synthesis.
	DefaultTimeout = 6 * time.Second

	// DefaultRemotePath is where an external TTS server renders text.
	DefaultRemotePath = "/tts"
)

var (
	// ErrUnknownMode is returned by ParseMode.
	ErrUnknownMode = errors.New("tts: unknown mode")

	// ErrNoSynthesizer is returned when audio is requested without a
	// synthesizer configured.
	ErrNoSynthesizer = errors.New("tts: no synthesizer configured")
)

// ParseMode parses a TTS_MODE value. Empty means ModeSay.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeSay, nil
	case ModeSay, ModeElevenLabs, ModeRemote:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Synthesizer renders text as audio in an ElevenLabs output format.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, format string) ([]byte, error)
}

var _ Synthesizer = (*ElevenLabs)(nil)

// Speaker renders assistant replies as TwiML verbs.
type Speaker struct {
	mode      Mode
	sayVoice  string
	sayLang   string
	synth     Synthesizer
	voiceID   string
	cache     *Cache
	publicURL string
	remoteURL string
	timeout   time.Duration
	logger    *zap.Logger
}

// SpeakerOption configures a Speaker.
type SpeakerOption func(*Speaker)

// WithMode sets the rendering mode.
func WithMode(mode Mode) SpeakerOption {
	return func(s *Speaker) {
		if mode != "" {
			s.mode = mode
		}
	}
}

// WithSayVoice sets the built-in voice and language used for <Say>.
func WithSayVoice(voice, language string) SpeakerOption {
	return func(s *Speaker) {
		if voice != "" {
			s.sayVoice = voice
		}
		if language != "" {
			s.sayLang = language
		}
	}
}

// WithSynthesizer sets the synthesizer and the voice it speaks with. The
// voice is part of the cache key.
func WithSynthesizer(synth Synthesizer, voiceID string) SpeakerOption {
	return func(s *Speaker) {
		s.synth = synth
		s.voiceID = voiceID
	}
}

// WithCache sets the audio cache.
func WithCache(cache *Cache) SpeakerOption {
	return func(s *Speaker) {
		s.cache = cache
	}
}

// WithPublicBaseURL sets the externally reachable base URL that serves
// /audio/{key}.wav.
func WithPublicBaseURL(base string) SpeakerOption {
	return func(s *Speaker) {
		s.publicURL = strings.TrimRight(base, "/")
	}
}

// WithRemote sets the external TTS server used in ModeRemote.
func WithRemote(base, path string) SpeakerOption {
	return func(s *Speaker) {
		if base == "" {
			s.remoteURL = ""
			return
		}
		if path == "" {
			path = DefaultRemotePath
		}
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		s.remoteURL = strings.TrimRight(base, "/") + path
	}
}

// WithTimeout bounds each inline synthesis.
func WithTimeout(d time.Duration) SpeakerOption {
	return func(s *Speaker) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) SpeakerOption {
	return func(s *Speaker) {
		s.logger = logger
	}
}

// NewSpeaker creates a Speaker. Without options it speaks with the
// built-in voice.
func NewSpeaker(opts ...SpeakerOption) *Speaker {
	s := &Speaker{
		mode:     ModeSay,
		sayVoice: DefaultSayVoice,
		sayLang:  DefaultSayLanguage,
		timeout:  DefaultTimeout,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = NewCache(DefaultCacheSize)
	}
	return s
}

// Mode returns the rendering mode.
func (s *Speaker) Mode() Mode {
	return s.mode
}

// Say returns a built-in <Say> for text.
func (s *Speaker) Say(text string) *twiml.Say {
	return &twiml.Say{Voice: s.sayVoice, Language: s.sayLang, Text: text}
}

// Speak returns the verb that voices text. Failures fall back to Say.
func (s *Speaker) Speak(ctx context.Context, text string) twiml.Verb {
	switch s.mode {
	case ModeElevenLabs:
		if s.synth == nil || s.publicURL == "" {
			return s.Say(text)
		}
		key, err := s.render(ctx, text)
		if err != nil {
			s.logger.Warn("synthesis failed, using built-in voice", zap.Error(err))
			return s.Say(text)
		}
		return &twiml.Play{URL: s.AudioURL(key)}
	case ModeRemote:
		if s.remoteURL == "" {
			return s.Say(text)
		}
		return &twiml.Play{URL: s.remoteURL + "?text=" + url.QueryEscape(text)}
	default:
		return s.Say(text)
	}
}

// AudioURL returns the public URL of cached audio.
func (s *Speaker) AudioURL(key string) string {
	return s.publicURL + "/audio/" + key + ".wav"
}

// Audio returns cached WAV audio by key.
func (s *Speaker) Audio(key string) ([]byte, bool) {
	return s.cache.Get(key)
}

// Render synthesizes text as a phone-ready WAV without caching it.
func (s *Speaker) Render(ctx context.Context, text string) ([]byte, error) {
	if s.synth == nil {
		return nil, ErrNoSynthesizer
	}
	mp3, err := s.synth.Synthesize(ctx, text, FormatMP3)
	if err != nil {
		return nil, err
	}
	wav, err := audio.PhoneWAVFromMP3(mp3)
	if err != nil {
		return nil, fmt.Errorf("failed to transcode audio: %w", err)
	}
	return wav, nil
}

// Stream synthesizes text as raw 8 kHz μ-law for a Media Stream.
func (s *Speaker) Stream(ctx context.Context, text string) ([]byte, error) {
	if s.synth == nil {
		return nil, ErrNoSynthesizer
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.synth.Synthesize(ctx, text, FormatMuLaw)
}

func (s *Speaker) render(ctx context.Context, text string) (string, error) {
	key := Key(s.voiceID, text)
	if _, ok := s.cache.Get(key); ok {
		return key, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	wav, err := s.Render(ctx, text)
	if err != nil {
		return "", err
	}
	s.cache.Put(key, wav)
	return key, nil
}
