package callsystem_test

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentplexus/omnivoice-receptionist/callsystem"
	"github.com/agentplexus/omnivoice-receptionist/conversation"
	"github.com/agentplexus/omnivoice-receptionist/tts"
	"github.com/agentplexus/omnivoice-receptionist/twiml"
)

type escalations struct {
	mu      sync.Mutex
	reports []conversation.Report
}

func (e *escalations) Escalate(ctx context.Context, r conversation.Report) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reports = append(e.reports, r)
	return nil
}

func (e *escalations) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.reports)
}

type fakeNotifier struct {
	summary   string
	tokenErr  error
	statuses  []string
	voicemail []string
}

func (f *fakeNotifier) SummaryFromToken(token string) (string, error) {
	return f.summary, f.tokenErr
}

func (f *fakeNotifier) HandleSummaryStatus(ctx context.Context, token, status string) error {
	f.statuses = append(f.statuses, token+":"+status)
	return nil
}

func (f *fakeNotifier) NotifyVoicemail(ctx context.Context, caller, transcript, recordingURL string) error {
	f.voicemail = append(f.voicemail, caller, transcript, recordingURL)
	return nil
}

func newProvider(t *testing.T, reply string, opts ...callsystem.Option) (*callsystem.Provider, *escalations) {
	t.Helper()
	esc := &escalations{}
	policy := conversation.Policy{MinExchange: 2, MaxTurns: 20, EndPhrases: conversation.DefaultEndPhrases}
	gen := conversation.GeneratorFunc(func(context.Context, []conversation.Turn) (string, error) {
		return reply, nil
	})
	engine, err := conversation.NewEngine(conversation.NewMemoryStore(), gen, policy, "You are Zee.",
		conversation.WithEscalator(esc))
	require.NoError(t, err)
	return callsystem.New(engine, tts.NewSpeaker(), opts...), esc
}

func call(text string) callsystem.Webhook {
	wh := callsystem.Webhook{CallSID: "CA1", From: "+15551234567", To: "+15550000000"}
	wh.Speech.Text = text
	return wh
}

func TestWebhookFromForm(t *testing.T) {
	wh := callsystem.WebhookFromForm(url.Values{
		"CallSid":      {"CA1"},
		"From":         {"+15551234567"},
		"CallStatus":   {"completed"},
		"SpeechResult": {" hello "},
		"Confidence":   {"0.5"},
		"RecordingUrl": {"https://api.twilio.com/rec/RE1"},
	})
	assert.Equal(t, "CA1", wh.CallSID)
	assert.Equal(t, "completed", wh.CallStatus)
	assert.Equal(t, "hello", wh.Speech.Text)
	assert.InDelta(t, 0.5, wh.Speech.Confidence, 1e-9)
	assert.Equal(t, "https://api.twilio.com/rec/RE1", wh.RecordingURL)
}

func TestHandleIncoming_Gather(t *testing.T) {
	p, _ := newProvider(t, "ok")

	resp, err := p.HandleIncoming(context.Background(), call(""))
	require.NoError(t, err)

	verbs := resp.Verbs()
	require.Len(t, verbs, 4)
	greeting, ok := verbs[0].(*twiml.Say)
	require.True(t, ok)
	assert.Equal(t, conversation.DefaultLines().Greeting, greeting.Text)

	gather, ok := verbs[1].(*twiml.Gather)
	require.True(t, ok)
	assert.Equal(t, callsystem.PathConversation, gather.Action)
	assert.False(t, gather.ActionOnEmptyResult)

	assert.IsType(t, &twiml.Hangup{}, verbs[3])
	assert.Len(t, p.Calls(), 1)
}

func TestHandleIncoming_StreamMode(t *testing.T) {
	p, _ := newProvider(t, "ok", callsystem.WithStreamURL("wss://example.com/media-stream"))
	assert.True(t, p.StreamMode())

	resp, err := p.HandleIncoming(context.Background(), call(""))
	require.NoError(t, err)

	verbs := resp.Verbs()
	require.Len(t, verbs, 2)
	connect, ok := verbs[1].(*twiml.Connect)
	require.True(t, ok)
	require.NotNil(t, connect.Stream)
	assert.Equal(t, "wss://example.com/media-stream", connect.Stream.URL)
	assert.Equal(t, []twiml.Parameter{{Name: "caller", Value: "+15551234567"}}, connect.Stream.Parameters)
}

func TestHandlers_RequireCallSID(t *testing.T) {
	p, _ := newProvider(t, "ok")
	ctx := context.Background()

	_, err := p.HandleIncoming(ctx, callsystem.Webhook{})
	assert.ErrorIs(t, err, callsystem.ErrMissingCallSID)
	_, err = p.HandleConversation(ctx, callsystem.Webhook{})
	assert.ErrorIs(t, err, callsystem.ErrMissingCallSID)
	_, err = p.HandleStatus(ctx, callsystem.Webhook{})
	assert.ErrorIs(t, err, callsystem.ErrMissingCallSID)
}

func TestHandleConversation_Continue(t *testing.T) {
	p, esc := newProvider(t, "May I ask who's calling?")

	resp, err := p.HandleConversation(context.Background(), call("Is Mario there?"))
	require.NoError(t, err)

	verbs := resp.Verbs()
	require.Len(t, verbs, 4)
	reply, ok := verbs[0].(*twiml.Say)
	require.True(t, ok)
	assert.Equal(t, "May I ask who's calling?", reply.Text)
	assert.IsType(t, &twiml.Gather{}, verbs[1])
	still, ok := verbs[2].(*twiml.Say)
	require.True(t, ok)
	assert.Equal(t, "Are you still there?", still.Text)
	redirect, ok := verbs[3].(*twiml.Redirect)
	require.True(t, ok)
	assert.Equal(t, callsystem.PathConversation, redirect.URL)
	assert.Zero(t, esc.Len())
}

func TestHandleConversation_End(t *testing.T) {
	p, esc := newProvider(t, "Thanks, goodbye!")

	resp, err := p.HandleConversation(context.Background(), call("Tell Mario I called."))
	require.NoError(t, err)

	verbs := resp.Verbs()
	require.Len(t, verbs, 3)
	closing, ok := verbs[1].(*twiml.Say)
	require.True(t, ok)
	assert.Equal(t, conversation.DefaultLines().Closing, closing.Text)
	assert.IsType(t, &twiml.Hangup{}, verbs[2])
	assert.Equal(t, 1, esc.Len())
}

func TestHandleConversation_RetryThenGiveUp(t *testing.T) {
	p, _ := newProvider(t, "ok")
	ctx := context.Background()

	resp, err := p.HandleConversation(ctx, call(""))
	require.NoError(t, err)
	verbs := resp.Verbs()
	require.Len(t, verbs, 4)
	retry, ok := verbs[0].(*twiml.Say)
	require.True(t, ok)
	assert.Equal(t, conversation.DefaultLines().Retry, retry.Text)
	gather, ok := verbs[1].(*twiml.Gather)
	require.True(t, ok)
	assert.True(t, gather.ActionOnEmptyResult)

	resp, err = p.HandleConversation(ctx, call(""))
	require.NoError(t, err)
	verbs = resp.Verbs()
	require.Len(t, verbs, 2)
	giveUp, ok := verbs[0].(*twiml.Say)
	require.True(t, ok)
	assert.Equal(t, conversation.DefaultLines().GiveUp, giveUp.Text)
	assert.IsType(t, &twiml.Hangup{}, verbs[1])
}

func TestHandleConversation_GiveUpOffersVoicemail(t *testing.T) {
	p, _ := newProvider(t, "ok", callsystem.WithVoicemail(true))
	ctx := context.Background()

	_, err := p.HandleConversation(ctx, call(""))
	require.NoError(t, err)
	resp, err := p.HandleConversation(ctx, call(""))
	require.NoError(t, err)

	verbs := resp.Verbs()
	require.Len(t, verbs, 2)
	record, ok := verbs[1].(*twiml.Record)
	require.True(t, ok)
	assert.Equal(t, callsystem.PathVoicemail, record.Action)
	assert.True(t, record.Transcribe)
	assert.Equal(t, callsystem.PathVoicemail, record.TranscribeCallback)
}

func TestHandleStatus_TerminalEscalatesOnce(t *testing.T) {
	p, esc := newProvider(t, "Who's calling?")
	ctx := context.Background()

	_, err := p.HandleIncoming(ctx, call(""))
	require.NoError(t, err)
	_, err = p.HandleConversation(ctx, call("It's Dana about the invoice."))
	require.NoError(t, err)

	wh := call("")
	wh.CallStatus = "in-progress"
	resp, err := p.HandleStatus(ctx, wh)
	require.NoError(t, err)
	assert.Empty(t, resp.Verbs())
	assert.Zero(t, esc.Len())
	assert.Len(t, p.Calls(), 1)

	wh.CallStatus = "completed"
	_, err = p.HandleStatus(ctx, wh)
	require.NoError(t, err)
	_, err = p.HandleStatus(ctx, wh)
	require.NoError(t, err)

	assert.Equal(t, 1, esc.Len())
	assert.Empty(t, p.Calls())
}

func TestHandleVoiceSummary(t *testing.T) {
	n := &fakeNotifier{summary: "Hi Mario, this is Zee with a call summary."}
	p, _ := newProvider(t, "ok", callsystem.WithNotifier(n))

	verbs := p.HandleVoiceSummary(context.Background(), "tok").Verbs()
	require.Len(t, verbs, 2)
	say, ok := verbs[0].(*twiml.Say)
	require.True(t, ok)
	assert.Equal(t, n.summary, say.Text)
	assert.IsType(t, &twiml.Hangup{}, verbs[1])

	n.tokenErr = errors.New("expired")
	verbs = p.HandleVoiceSummary(context.Background(), "tok").Verbs()
	say, ok = verbs[0].(*twiml.Say)
	require.True(t, ok)
	assert.Equal(t, "No summary available", say.Text)
}

func TestHandleSummaryStatus(t *testing.T) {
	n := &fakeNotifier{}
	p, _ := newProvider(t, "ok", callsystem.WithNotifier(n))

	wh := call("")
	wh.CallStatus = "no-answer"
	resp := p.HandleSummaryStatus(context.Background(), "tok", wh)
	assert.Empty(t, resp.Verbs())
	assert.Equal(t, []string{"tok:no-answer"}, n.statuses)
}

func TestHandleVoicemail(t *testing.T) {
	n := &fakeNotifier{}
	p, _ := newProvider(t, "ok", callsystem.WithNotifier(n))
	ctx := context.Background()

	wh := call("")
	wh.RecordingURL = "https://api.twilio.com/rec/RE1"
	verbs := p.HandleVoicemail(ctx, wh).Verbs()
	require.Len(t, verbs, 2)
	thanks, ok := verbs[0].(*twiml.Say)
	require.True(t, ok)
	assert.Contains(t, thanks.Text, "Thank you for your message")
	assert.Empty(t, n.voicemail)

	wh.TranscriptionStatus = "failed"
	assert.Empty(t, p.HandleVoicemail(ctx, wh).Verbs())
	assert.Equal(t, []string{"+15551234567", "No transcription available", "https://api.twilio.com/rec/RE1"}, n.voicemail)
}

func TestErrorResponse(t *testing.T) {
	p, _ := newProvider(t, "ok")
	doc := p.ErrorResponse().String()
	assert.Contains(t, doc, "technical difficulties")
	assert.Contains(t, doc, "<Hangup")
}

func TestPurge(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	p, _ := newProvider(t, "ok",
		callsystem.WithClock(func() time.Time { return now }),
		callsystem.WithMaxCallAge(time.Hour),
	)

	_, err := p.HandleIncoming(context.Background(), call(""))
	require.NoError(t, err)

	assert.Zero(t, p.Purge(now.Add(30*time.Minute)))
	assert.Equal(t, 1, p.Purge(now.Add(2*time.Hour)))
	assert.Empty(t, p.Calls())
}
