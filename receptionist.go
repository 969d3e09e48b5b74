// Package receptionist answers phone calls on behalf of a single owner.
//
// Inbound calls arrive as Twilio webhooks. The assistant greets the caller,
// gathers speech, replies through a chat-completion model and, once the
// caller is done (or the call drops), notifies the owner with a voice call
// or SMS summarizing what was said.
//
// Packages:
//   - conversation: per-call transcript store and the turn-taking state machine
//   - escalation: cooldown gate and owner notification (voice call or SMS)
//   - callsystem: Twilio webhook orchestration producing TwiML
//   - transport: Twilio Media Streams endpoint driving the same state machine
//   - tts / stt: speech synthesis and recognition helpers
//   - twiml: TwiML document builder
//   - config: environment, .env and persona file loading
//   - llm: chat-completion replies
//
// # Environment Variables
//
//	TWILIO_ACCOUNT_SID  - Twilio Account SID
//	TWILIO_AUTH_TOKEN   - Twilio Auth Token
//	TWILIO_PHONE_NUMBER - number calls arrive on and notifications leave from
//	MAIN_PHONE_NUMBER   - owner's phone, receives summaries
//	OPENAI_API_KEY      - chat completion and Whisper
//	ELEVENLABS_API_KEY  - speech synthesis (optional)
//
// # Quick Start
//
//	receptionist serve --env-file .env
//	receptionist voices --builtin
//	receptionist say -o hello.wav "Hello from Zee"
package receptionist

import "strings"

// Version is the application version.
const Version = "0.1.0"

// Twilio API constants.
const (
	// DefaultAPIBaseURL is the Twilio REST API base URL.
	DefaultAPIBaseURL = "https://api.twilio.com/2010-04-01"

	// SignatureHeader carries the HMAC of a webhook request.
	SignatureHeader = "X-Twilio-Signature"
)

// Audio format constants for Media Streams and played audio.
const (
	// AudioEncodingMulaw is the μ-law encoding (8-bit, 8kHz).
	AudioEncodingMulaw = "audio/x-mulaw"

	// PhoneSampleRate is the sample rate of telephone audio (8kHz).
	PhoneSampleRate = 8000
)

// Built-in TwiML voices used when no external synthesizer is available.
const (
	VoicePollyEmma  = "Polly.Emma-Neural"
	VoiceAlice      = "alice"
	LanguageBritish = "en-GB"
	LanguageUS      = "en-US"
)

// Call status constants.
const (
	CallStatusQueued     = "queued"
	CallStatusRinging    = "ringing"
	CallStatusInProgress = "in-progress"
	CallStatusCompleted  = "completed"
	CallStatusBusy       = "busy"
	CallStatusFailed     = "failed"
	CallStatusNoAnswer   = "no-answer"
	CallStatusCanceled   = "canceled"
)

// IsTerminalStatus reports whether a call status means the call is over.
func IsTerminalStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case CallStatusCompleted, CallStatusBusy, CallStatusFailed, CallStatusNoAnswer, CallStatusCanceled:
		return true
	default:
		return false
	}
}

// IsUndelivered reports whether an outbound call never reached a person.
func IsUndelivered(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case CallStatusBusy, CallStatusFailed, CallStatusNoAnswer:
		return true
	default:
		return false
	}
}
