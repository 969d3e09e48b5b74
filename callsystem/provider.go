// Package callsystem answers Twilio voice webhooks. Each handler turns one
// webhook into the TwiML that drives the next step of the call.
package callsystem

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	receptionist "github.com/agentplexus/omnivoice-receptionist"
	"github.com/agentplexus/omnivoice-receptionist/conversation"
	"github.com/agentplexus/omnivoice-receptionist/escalation"
	"github.com/agentplexus/omnivoice-receptionist/stt"
	"github.com/agentplexus/omnivoice-receptionist/transport"
	"github.com/agentplexus/omnivoice-receptionist/tts"
	"github.com/agentplexus/omnivoice-receptionist/twiml"
)

// Webhook paths.
const (
	PathIncoming      = "/incoming"
	PathConversation  = "/conversation"
	PathStatus        = "/status"
	PathVoiceSummary  = "/voice-summary"
	PathSummaryStatus = "/summary-status"
	PathVoicemail     = "/voicemail"
	PathMediaStream   = "/media-stream"
)

const (
	// VoicemailMaxLength caps a recorded voicemail, in seconds.
	VoicemailMaxLength = 120

	// DefaultMaxCallAge is how long a call is tracked without a final
	// status callback.
	DefaultMaxCallAge = 4 * time.Hour
)

// ErrMissingCallSID is returned for webhooks without a CallSid.
var ErrMissingCallSID = errors.New("callsystem: webhook has no CallSid")

// Conversation is the turn engine behind the webhooks.
type Conversation interface {
	Greet(callID, caller string) string
	Respond(ctx context.Context, u conversation.Utterance) conversation.Outcome
	Terminate(ctx context.Context, callID, status string)
}

// Speaker voices assistant text.
type Speaker interface {
	Speak(ctx context.Context, text string) twiml.Verb
	Say(text string) *twiml.Say
}

// Notifier handles the owner-facing callbacks.
type Notifier interface {
	SummaryFromToken(token string) (string, error)
	HandleSummaryStatus(ctx context.Context, token, status string) error
	NotifyVoicemail(ctx context.Context, caller, transcript, recordingURL string) error
}

// Verify interface compliance at compile time.
var (
	_ Conversation = (*conversation.Engine)(nil)
	_ Speaker      = (*tts.Speaker)(nil)
	_ Notifier     = (*escalation.Service)(nil)

	_ conversation.Purger = (*Provider)(nil)
)

// Prompts are the fixed lines spoken around the conversation.
type Prompts struct {
	StillThere      string
	NoResponse      string
	TroubleHearing  string
	Technical       string
	VoicemailPrompt string
	VoicemailThanks string
	NoSummary       string
}

// DefaultPrompts returns the stock prompts.
func DefaultPrompts() Prompts {
	return Prompts{
		StillThere:      "Are you still there?",
		NoResponse:      "I didn't hear anything. Please call back if you need assistance. Goodbye!",
		TroubleHearing:  "I'm having trouble hearing you. Please call back. Goodbye!",
		Technical:       twiml.FallbackApology,
		VoicemailPrompt: "Please leave a message for Mario after the tone.",
		VoicemailThanks: "Thank you for your message. Mario will receive a summary shortly. Goodbye!",
		NoSummary:       "No summary available",
	}
}

// Webhook holds the fields Twilio posts to voice webhooks.
type Webhook struct {
	CallSID             string
	From                string
	To                  string
	CallStatus          string
	CallDuration        string
	Speech              stt.Result
	RecordingURL        string
	TranscriptionText   string
	TranscriptionStatus string
}

// WebhookFromForm reads a Webhook from a parsed request form.
func WebhookFromForm(form url.Values) Webhook {
	return Webhook{
		CallSID:             form.Get("CallSid"),
		From:                form.Get("From"),
		To:                  form.Get("To"),
		CallStatus:          form.Get("CallStatus"),
		CallDuration:        form.Get("CallDuration"),
		Speech:              stt.ResultFromForm(form),
		RecordingURL:        form.Get("RecordingUrl"),
		TranscriptionText:   form.Get("TranscriptionText"),
		TranscriptionStatus: form.Get("TranscriptionStatus"),
	}
}

// Call is an inbound call currently known to the provider.
type Call struct {
	ID        string
	From      string
	To        string
	Status    string
	StartTime time.Time
}

// Provider answers voice webhooks.
type Provider struct {
	conv       Conversation
	speaker    Speaker
	recognizer *stt.Recognizer
	notifier   Notifier
	prompts    Prompts
	streamURL  string
	voicemail  bool
	maxCallAge time.Duration
	logger     *zap.Logger
	now        func() time.Time

	mu    sync.RWMutex
	calls map[string]*Call
}

// Option configures the Provider.
type Option func(*Provider)

// WithNotifier sets the owner notification handler.
func WithNotifier(n Notifier) Option {
	return func(p *Provider) {
		p.notifier = n
	}
}

// WithRecognizer sets the <Gather> settings.
func WithRecognizer(r *stt.Recognizer) Option {
	return func(p *Provider) {
		if r != nil {
			p.recognizer = r
		}
	}
}

// WithPrompts overrides prompts. Empty fields keep their defaults.
func WithPrompts(pr Prompts) Option {
	return func(p *Provider) {
		fill(&p.prompts.StillThere, pr.StillThere)
		fill(&p.prompts.NoResponse, pr.NoResponse)
		fill(&p.prompts.TroubleHearing, pr.TroubleHearing)
		fill(&p.prompts.Technical, pr.Technical)
		fill(&p.prompts.VoicemailPrompt, pr.VoicemailPrompt)
		fill(&p.prompts.VoicemailThanks, pr.VoicemailThanks)
		fill(&p.prompts.NoSummary, pr.NoSummary)
	}
}

// WithStreamURL answers calls with a Media Stream to url instead of
// gathering speech.
func WithStreamURL(url string) Option {
	return func(p *Provider) {
		p.streamURL = url
	}
}

// WithVoicemail offers a voicemail recording when the caller cannot be heard.
func WithVoicemail(enabled bool) Option {
	return func(p *Provider) {
		p.voicemail = enabled
	}
}

// WithMaxCallAge sets how long a call is tracked without a final status.
func WithMaxCallAge(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.maxCallAge = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

func fill(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// New creates a webhook provider.
func New(conv Conversation, speaker Speaker, opts ...Option) *Provider {
	p := &Provider{
		conv:       conv,
		speaker:    speaker,
		recognizer: stt.New(),
		prompts:    DefaultPrompts(),
		maxCallAge: DefaultMaxCallAge,
		logger:     zap.NewNop(),
		now:        time.Now,
		calls:      make(map[string]*Call),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// StreamMode reports whether calls are answered with a Media Stream.
func (p *Provider) StreamMode() bool {
	return p.streamURL != ""
}

// HandleIncoming greets a new caller and starts listening.
func (p *Provider) HandleIncoming(ctx context.Context, wh Webhook) (*twiml.Response, error) {
	if wh.CallSID == "" {
		return nil, ErrMissingCallSID
	}
	p.track(wh)
	greeting := p.conv.Greet(wh.CallSID, wh.From)

	resp := twiml.New(p.speaker.Speak(ctx, greeting))
	if p.StreamMode() {
		resp.Append(&twiml.Connect{Stream: &twiml.Stream{
			URL:        p.streamURL,
			Parameters: []twiml.Parameter{{Name: transport.ParamCaller, Value: wh.From}},
		}})
		return resp, nil
	}

	resp.Append(
		p.recognizer.Gather(PathConversation, false),
		p.speaker.Say(p.prompts.NoResponse),
		&twiml.Hangup{},
	)
	return resp, nil
}

// HandleConversation answers one recognized utterance.
func (p *Provider) HandleConversation(ctx context.Context, wh Webhook) (*twiml.Response, error) {
	if wh.CallSID == "" {
		return nil, ErrMissingCallSID
	}
	p.track(wh)

	out := p.conv.Respond(ctx, conversation.Utterance{
		CallID:     wh.CallSID,
		Caller:     wh.From,
		Text:       wh.Speech.Text,
		Confidence: wh.Speech.Confidence,
	})
	p.logger.Debug("turn answered",
		zap.String("call_sid", wh.CallSID),
		zap.String("action", out.Action.String()),
	)

	resp := twiml.New()
	switch out.Action {
	case conversation.ActionContinue:
		resp.Append(
			p.speaker.Speak(ctx, out.Reply),
			p.recognizer.Gather(PathConversation, false),
			p.speaker.Say(p.prompts.StillThere),
			&twiml.Redirect{Method: "POST", URL: PathConversation},
		)

	case conversation.ActionRetry:
		resp.Append(
			p.speaker.Say(out.Reply),
			p.recognizer.Gather(PathConversation, true),
			p.speaker.Say(p.prompts.TroubleHearing),
			&twiml.Hangup{},
		)

	case conversation.ActionGiveUp:
		if p.voicemail {
			resp.Append(
				p.speaker.Say(p.prompts.VoicemailPrompt),
				&twiml.Record{
					Action:             PathVoicemail,
					Method:             "POST",
					MaxLength:          VoicemailMaxLength,
					Transcribe:         true,
					TranscribeCallback: PathVoicemail,
				},
			)
			break
		}
		resp.Append(p.speaker.Say(out.Reply), &twiml.Hangup{})

	default:
		if out.Reply != "" {
			resp.Append(p.speaker.Speak(ctx, out.Reply))
		}
		if out.Closing != "" {
			resp.Append(p.speaker.Say(out.Closing))
		}
		resp.Append(&twiml.Hangup{})
	}
	return resp, nil
}

// HandleStatus processes a call status callback. A terminal status closes
// the conversation and may escalate it.
func (p *Provider) HandleStatus(ctx context.Context, wh Webhook) (*twiml.Response, error) {
	if wh.CallSID == "" {
		return nil, ErrMissingCallSID
	}

	status := strings.ToLower(strings.TrimSpace(wh.CallStatus))
	if !receptionist.IsTerminalStatus(status) {
		p.mu.Lock()
		if call, ok := p.calls[wh.CallSID]; ok {
			call.Status = status
		}
		p.mu.Unlock()
		return twiml.New(), nil
	}

	p.mu.Lock()
	call, ok := p.calls[wh.CallSID]
	delete(p.calls, wh.CallSID)
	p.mu.Unlock()

	fields := []zap.Field{
		zap.String("call_sid", wh.CallSID),
		zap.String("status", status),
	}
	if ok {
		fields = append(fields, zap.Duration("duration", p.now().Sub(call.StartTime)))
	}
	p.logger.Info("call finished", fields...)

	p.conv.Terminate(ctx, wh.CallSID, status)
	return twiml.New(), nil
}

// HandleVoiceSummary reads a summary to the owner and hangs up.
func (p *Provider) HandleVoiceSummary(ctx context.Context, token string) *twiml.Response {
	summary := p.prompts.NoSummary
	if p.notifier != nil {
		s, err := p.notifier.SummaryFromToken(token)
		if err != nil {
			p.logger.Warn("summary token rejected", zap.Error(err))
		} else if s != "" {
			summary = s
		}
	}
	return twiml.New(p.speaker.Say(summary), &twiml.Hangup{})
}

// HandleSummaryStatus processes the summary call's status callback.
func (p *Provider) HandleSummaryStatus(ctx context.Context, token string, wh Webhook) *twiml.Response {
	if p.notifier != nil {
		if err := p.notifier.HandleSummaryStatus(ctx, token, wh.CallStatus); err != nil {
			p.logger.Error("summary status handling failed",
				zap.String("status", wh.CallStatus),
				zap.Error(err),
			)
		}
	}
	return twiml.New()
}

// HandleVoicemail handles both the recording action and the transcription
// callback. The caller is thanked when the recording ends; the owner is
// notified once the transcription arrives.
func (p *Provider) HandleVoicemail(ctx context.Context, wh Webhook) *twiml.Response {
	if wh.TranscriptionStatus == "" && wh.TranscriptionText == "" {
		return twiml.New(p.speaker.Say(p.prompts.VoicemailThanks), &twiml.Hangup{})
	}

	transcript := wh.TranscriptionText
	if transcript == "" {
		transcript = "No transcription available"
	}
	recording := wh.RecordingURL
	if recording == "" {
		recording = "No recording"
	}

	if p.notifier != nil {
		if err := p.notifier.NotifyVoicemail(ctx, wh.From, transcript, recording); err != nil {
			p.logger.Error("voicemail notification failed",
				zap.String("call_sid", wh.CallSID),
				zap.Error(err),
			)
		}
	}
	return twiml.New()
}

// ErrorResponse is the TwiML returned when a webhook cannot be handled.
func (p *Provider) ErrorResponse() *twiml.Response {
	return twiml.New(p.speaker.Say(p.prompts.Technical), &twiml.Hangup{})
}

// Calls returns the active inbound calls, oldest first.
func (p *Provider) Calls() []Call {
	p.mu.RLock()
	defer p.mu.RUnlock()

	calls := make([]Call, 0, len(p.calls))
	for _, c := range p.calls {
		calls = append(calls, *c)
	}
	sort.Slice(calls, func(i, j int) bool {
		return calls[i].StartTime.Before(calls[j].StartTime)
	})
	return calls
}

// Purge forgets calls whose final status never arrived.
func (p *Provider) Purge(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for id, c := range p.calls {
		if now.Sub(c.StartTime) > p.maxCallAge {
			delete(p.calls, id)
			n++
		}
	}
	return n
}

func (p *Provider) track(wh Webhook) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if call, ok := p.calls[wh.CallSID]; ok {
		call.Status = receptionist.CallStatusInProgress
		return
	}
	p.calls[wh.CallSID] = &Call{
		ID:        wh.CallSID,
		From:      wh.From,
		To:        wh.To,
		Status:    receptionist.CallStatusInProgress,
		StartTime: p.now(),
	}
}
