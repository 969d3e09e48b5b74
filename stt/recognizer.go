// Package stt handles caller speech: Twilio <Gather> recognition for the
// webhook loop and Whisper transcription for Media Streams audio.
package stt

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/agentplexus/omnivoice-receptionist/twiml"
)

const (
	// DefaultTimeout is how many seconds <Gather> waits for speech to start.
	DefaultTimeout = 6

	// DefaultSpeechTimeout lets Twilio decide when the caller stopped talking.
	DefaultSpeechTimeout = "auto"
)

// Recognizer builds the speech <Gather> verbs used between turns.
type Recognizer struct {
	language      string
	speechModel   string
	timeout       int
	speechTimeout string
	enhanced      bool
}

// Option configures the Recognizer.
type Option func(*options)

type options struct {
	language      string
	speechModel   string
	timeout       int
	speechTimeout string
	enhanced      bool
}

// WithLanguage sets the recognition language, e.g. "en-US".
func WithLanguage(language string) Option {
	return func(o *options) {
		o.language = language
	}
}

// WithSpeechModel sets the speech recognition model.
// Options: "default", "numbers_and_commands", "phone_call", "experimental_conversations"
func WithSpeechModel(model string) Option {
	return func(o *options) {
		o.speechModel = model
	}
}

// WithTimeout sets how many seconds to wait for the caller to start.
func WithTimeout(seconds int) Option {
	return func(o *options) {
		if seconds > 0 {
			o.timeout = seconds
		}
	}
}

// WithSpeechTimeout sets the end-of-speech silence, in seconds or "auto".
func WithSpeechTimeout(timeout string) Option {
	return func(o *options) {
		if timeout != "" {
			o.speechTimeout = timeout
		}
	}
}

// WithEnhanced enables Twilio's enhanced phone_call model.
func WithEnhanced(enabled bool) Option {
	return func(o *options) {
		o.enhanced = enabled
	}
}

// New creates a Recognizer.
func New(opts ...Option) *Recognizer {
	cfg := &options{
		timeout:       DefaultTimeout,
		speechTimeout: DefaultSpeechTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Recognizer{
		language:      cfg.language,
		speechModel:   cfg.speechModel,
		timeout:       cfg.timeout,
		speechTimeout: cfg.speechTimeout,
		enhanced:      cfg.enhanced,
	}
}

// Gather returns a speech <Gather> that posts the result to action. When
// emptyResult is true Twilio calls action even if nothing was recognized.
func (r *Recognizer) Gather(action string, emptyResult bool) *twiml.Gather {
	g := &twiml.Gather{
		Input:               "speech",
		Language:            r.language,
		SpeechTimeout:       r.speechTimeout,
		Timeout:             r.timeout,
		Action:              action,
		Method:              "POST",
		ActionOnEmptyResult: emptyResult,
	}
	if r.speechModel != "" {
		g.SpeechModel = r.speechModel
		g.Enhanced = r.enhanced && r.speechModel == "phone_call"
	}
	return g
}

// Result is what Twilio recognized for one <Gather>.
type Result struct {
	Text       string
	Confidence float64
}

// Empty reports whether nothing was recognized.
func (r Result) Empty() bool {
	return strings.TrimSpace(r.Text) == ""
}

// ResultFromForm reads SpeechResult and Confidence from a webhook form.
func ResultFromForm(form url.Values) Result {
	res := Result{Text: strings.TrimSpace(form.Get("SpeechResult"))}
	if c, err := strconv.ParseFloat(form.Get("Confidence"), 64); err == nil {
		res.Confidence = c
	}
	return res
}
