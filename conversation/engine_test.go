package conversation_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentplexus/omnivoice-receptionist/conversation"
)

type recordingEscalator struct {
	mu      sync.Mutex
	reports []conversation.Report
	ctxErrs []error
	err     error
}

func (r *recordingEscalator) Escalate(ctx context.Context, report conversation.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	return r.err
}

func (r *recordingEscalator) Reports() []conversation.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]conversation.Report(nil), r.reports...)
}

func replies(texts ...string) conversation.GeneratorFunc {
	var mu sync.Mutex
	i := 0
	return func(_ context.Context, _ []conversation.Turn) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(texts) {
			return texts[len(texts)-1], nil
		}
		r := texts[i]
		i++
		return r, nil
	}
}

func newEngine(t *testing.T, gen conversation.Generator, policy conversation.Policy, opts ...conversation.Option) (*conversation.Engine, *conversation.MemoryStore) {
	t.Helper()
	store := conversation.NewMemoryStore()
	engine, err := conversation.NewEngine(store, gen, policy, "You are Zee.", opts...)
	require.NoError(t, err)
	return engine, store
}

func shortPolicy() conversation.Policy {
	return conversation.Policy{MinExchange: 2, MaxTurns: 20, EndPhrases: []string{"goodbye"}}
}

func TestNewEngine_Validates(t *testing.T) {
	store := conversation.NewMemoryStore()
	gen := replies("ok")

	_, err := conversation.NewEngine(nil, gen, conversation.DefaultPolicy(), "sys")
	assert.Error(t, err)
	_, err = conversation.NewEngine(store, nil, conversation.DefaultPolicy(), "sys")
	assert.Error(t, err)
	_, err = conversation.NewEngine(store, gen, conversation.Policy{MaxTurns: 0}, "sys")
	assert.Error(t, err)
}

func TestEngine_GreetDoesNotAddTurn(t *testing.T) {
	engine, store := newEngine(t, replies("ok"), conversation.DefaultPolicy())

	greeting := engine.Greet("CA1", "+15551234567")
	assert.Equal(t, conversation.DefaultLines().Greeting, greeting)

	s, ok := store.Get("CA1")
	require.True(t, ok)
	assert.Equal(t, []conversation.Turn{conversation.System("You are Zee.")}, s.Turns())
}

func TestEngine_RespondContinues(t *testing.T) {
	var seen []conversation.Turn
	gen := conversation.GeneratorFunc(func(_ context.Context, turns []conversation.Turn) (string, error) {
		seen = turns
		return "How can I help?", nil
	})
	engine, store := newEngine(t, gen, conversation.DefaultPolicy())

	out := engine.Respond(context.Background(), conversation.Utterance{CallID: "CA1", Caller: "+1", Text: "  hi  "})

	assert.Equal(t, conversation.ActionContinue, out.Action)
	assert.Equal(t, "How can I help?", out.Reply)
	assert.Equal(t, []conversation.Turn{conversation.System("You are Zee."), conversation.User("hi")}, seen)

	s, _ := store.Get("CA1")
	assert.Equal(t, 3, s.Len())
}

func TestEngine_EndEscalatesOnce(t *testing.T) {
	esc := &recordingEscalator{}
	engine, store := newEngine(t, replies("Got it. Goodbye!"), shortPolicy(), conversation.WithEscalator(esc))

	out := engine.Respond(context.Background(), conversation.Utterance{CallID: "CA1", Caller: "+15551234567", Text: "Tell Mario the boiler broke"})

	assert.Equal(t, conversation.ActionEnd, out.Action)
	assert.Equal(t, "Got it. Goodbye!", out.Reply)
	assert.Equal(t, conversation.DefaultLines().Closing, out.Closing)
	assert.Equal(t, 0, store.Len())

	engine.Terminate(context.Background(), "CA1", "completed")

	reports := esc.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, conversation.ReasonEnded, reports[0].Reason)
	assert.Equal(t, "+15551234567", reports[0].Caller)
	assert.Equal(t, []string{"Tell Mario the boiler broke"}, reports[0].UserMessages())
}

func TestEngine_MaxTurnsEnds(t *testing.T) {
	policy := conversation.Policy{MinExchange: 2, MaxTurns: 4, EndPhrases: []string{"goodbye"}}
	engine, _ := newEngine(t, replies("Sure, what else?"), policy)

	ctx := context.Background()
	out := engine.Respond(ctx, conversation.Utterance{CallID: "CA1", Text: "one"})
	assert.Equal(t, conversation.ActionContinue, out.Action)

	out = engine.Respond(ctx, conversation.Utterance{CallID: "CA1", Text: "two"})
	assert.Equal(t, conversation.ActionEnd, out.Action)
}

func TestEngine_TerminateWithoutUserTurns(t *testing.T) {
	esc := &recordingEscalator{}
	engine, store := newEngine(t, replies("ok"), conversation.DefaultPolicy(), conversation.WithEscalator(esc))

	engine.Greet("CA1", "+15551234567")
	engine.Terminate(context.Background(), "CA1", "completed")

	assert.Empty(t, esc.Reports())
	assert.Equal(t, 0, store.Len())
}

func TestEngine_TerminateEscalatesTranscript(t *testing.T) {
	esc := &recordingEscalator{}
	engine, store := newEngine(t, replies("Can you tell me more?"), conversation.DefaultPolicy(), conversation.WithEscalator(esc))

	engine.Greet("CA1", "+15551234567")
	engine.Respond(context.Background(), conversation.Utterance{CallID: "CA1", Text: "My order is late"})
	engine.Terminate(context.Background(), "CA1", "completed")
	engine.Terminate(context.Background(), "CA1", "completed")

	reports := esc.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, conversation.ReasonHangup, reports[0].Reason)
	assert.Equal(t, "completed", reports[0].Status)
	assert.Len(t, reports[0].Turns, 3)
	assert.Equal(t, 0, store.Len())
}

func TestEngine_EmptyUtteranceRetriesThenGivesUp(t *testing.T) {
	esc := &recordingEscalator{}
	engine, store := newEngine(t, replies("ok"), conversation.DefaultPolicy(), conversation.WithEscalator(esc))
	ctx := context.Background()

	engine.Greet("CA1", "+1")

	out := engine.Respond(ctx, conversation.Utterance{CallID: "CA1", Text: ""})
	assert.Equal(t, conversation.ActionRetry, out.Action)
	assert.Equal(t, conversation.DefaultLines().Retry, out.Reply)
	assert.Equal(t, 1, store.Len())

	out = engine.Respond(ctx, conversation.Utterance{CallID: "CA1", Text: "   "})
	assert.Equal(t, conversation.ActionGiveUp, out.Action)
	assert.Equal(t, conversation.DefaultLines().GiveUp, out.Reply)
	assert.Equal(t, 0, store.Len())
	assert.Empty(t, esc.Reports())
}

func TestEngine_SpeechResetsMisses(t *testing.T) {
	esc := &recordingEscalator{}
	engine, _ := newEngine(t, replies("Okay."), conversation.DefaultPolicy(), conversation.WithEscalator(esc))
	ctx := context.Background()

	assert.Equal(t, conversation.ActionRetry, engine.Respond(ctx, conversation.Utterance{CallID: "CA1"}).Action)
	assert.Equal(t, conversation.ActionContinue, engine.Respond(ctx, conversation.Utterance{CallID: "CA1", Text: "hello"}).Action)
	assert.Equal(t, conversation.ActionRetry, engine.Respond(ctx, conversation.Utterance{CallID: "CA1"}).Action)
	assert.Equal(t, conversation.ActionGiveUp, engine.Respond(ctx, conversation.Utterance{CallID: "CA1"}).Action)

	reports := esc.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, conversation.ReasonNoSpeech, reports[0].Reason)
}

func TestEngine_GeneratorErrorFallsBack(t *testing.T) {
	gen := conversation.GeneratorFunc(func(context.Context, []conversation.Turn) (string, error) {
		return "", errors.New("quota exceeded")
	})
	engine, store := newEngine(t, gen, conversation.DefaultPolicy())

	out := engine.Respond(context.Background(), conversation.Utterance{CallID: "CA1", Text: "hi"})
	assert.Equal(t, conversation.ActionContinue, out.Action)
	assert.Equal(t, conversation.DefaultLines().Fallback, out.Reply)

	s, _ := store.Get("CA1")
	turns := s.Turns()
	assert.Equal(t, conversation.Assistant(conversation.DefaultLines().Fallback), turns[len(turns)-1])
}

func TestEngine_GeneratorTimeoutFallsBack(t *testing.T) {
	gen := conversation.GeneratorFunc(func(ctx context.Context, _ []conversation.Turn) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	engine, _ := newEngine(t, gen, conversation.DefaultPolicy(), conversation.WithChatTimeout(10*time.Millisecond))

	out := engine.Respond(context.Background(), conversation.Utterance{CallID: "CA1", Text: "hi"})
	assert.Equal(t, conversation.DefaultLines().Fallback, out.Reply)
}

func TestEngine_EscalationSurvivesCanceledRequest(t *testing.T) {
	esc := &recordingEscalator{err: errors.New("twilio down")}
	engine, _ := newEngine(t, replies("Goodbye!"), shortPolicy(), conversation.WithEscalator(esc))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := engine.Respond(ctx, conversation.Utterance{CallID: "CA1", Text: "bye"})
	assert.Equal(t, conversation.ActionEnd, out.Action)

	engine.Greet("CA2", "+1")
	engine.Respond(context.Background(), conversation.Utterance{CallID: "CA2", Text: "hello"})
	engine.Terminate(ctx, "CA2", "completed")

	require.Len(t, esc.ctxErrs, 2)
	assert.NoError(t, esc.ctxErrs[0])
	assert.NoError(t, esc.ctxErrs[1])
}

func TestEngine_ConcurrentDeliveriesKeepOrder(t *testing.T) {
	gen := conversation.GeneratorFunc(func(_ context.Context, turns []conversation.Turn) (string, error) {
		return "re: " + turns[len(turns)-1].Text, nil
	})
	policy := conversation.Policy{MinExchange: 0, MaxTurns: 1000, EndPhrases: []string{"never said"}}
	engine, store := newEngine(t, gen, policy)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			engine.Respond(context.Background(), conversation.Utterance{CallID: "CA1", Text: fmt.Sprintf("msg %d", i)})
		}(i)
	}
	wg.Wait()

	s, ok := store.Get("CA1")
	require.True(t, ok)
	turns := s.Turns()
	require.Len(t, turns, 1+2*n)
	for i := 1; i < len(turns); i += 2 {
		require.Equal(t, conversation.RoleUser, turns[i].Role)
		assert.Equal(t, conversation.Assistant("re: "+turns[i].Text), turns[i+1])
	}
}

func TestEngine_SweepIdle(t *testing.T) {
	clk := newClock()
	esc := &recordingEscalator{}
	store := conversation.NewMemoryStore(conversation.WithStoreClock(clk.Now))
	engine, err := conversation.NewEngine(store, replies("Tell me more."), conversation.DefaultPolicy(), "sys",
		conversation.WithClock(clk.Now),
		conversation.WithEscalator(esc),
	)
	require.NoError(t, err)

	engine.Greet("silent", "+1")
	engine.Respond(context.Background(), conversation.Utterance{CallID: "talker", Caller: "+2", Text: "hello"})
	clk.Advance(31 * time.Minute)

	removed := engine.SweepIdle(context.Background(), 30*time.Minute)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, store.Len())

	reports := esc.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, "talker", reports[0].CallID)
	assert.Equal(t, conversation.ReasonIdle, reports[0].Reason)
}

func TestEngine_WithLinesKeepsDefaults(t *testing.T) {
	engine, _ := newEngine(t, replies("ok"), conversation.DefaultPolicy(),
		conversation.WithLines(conversation.Lines{Greeting: "Hello there."}))

	lines := engine.Lines()
	assert.Equal(t, "Hello there.", lines.Greeting)
	assert.Equal(t, conversation.DefaultLines().Retry, lines.Retry)
}
