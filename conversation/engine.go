package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Generator produces the assistant's next reply from the full transcript.
type Generator interface {
	Generate(ctx context.Context, turns []Turn) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, turns []Turn) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, turns []Turn) (string, error) {
	return f(ctx, turns)
}

// Escalator notifies the owner about a finished conversation.
type Escalator interface {
	Escalate(ctx context.Context, report Report) error
}

// Reason says why a conversation closed.
type Reason string

const (
	ReasonEnded    Reason = "ended"
	ReasonNoSpeech Reason = "no_speech"
	ReasonHangup   Reason = "hangup"
	ReasonIdle     Reason = "idle"
)

// Report is the transcript handed to the Escalator.
type Report struct {
	CallID string
	Caller string
	Status string
	Reason Reason
	Turns  []Turn
}

// UserMessages returns what the caller said, in order.
func (r Report) UserMessages() []string {
	return UserMessages(r.Turns)
}

// Utterance is one recognized caller input.
type Utterance struct {
	CallID     string
	Caller     string
	Text       string
	Confidence float64
}

// Action tells the webhook layer what to render.
type Action int

const (
	// ActionContinue speaks the reply and gathers again.
	ActionContinue Action = iota
	// ActionEnd speaks the reply and the closing line, then hangs up.
	ActionEnd
	// ActionRetry asks the caller to repeat and gathers again.
	ActionRetry
	// ActionGiveUp apologizes and hangs up.
	ActionGiveUp
)

// String returns the action name.
func (a Action) String() string {
	switch a {
	case ActionContinue:
		return "continue"
	case ActionEnd:
		return "end"
	case ActionRetry:
		return "retry"
	case ActionGiveUp:
		return "give_up"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Outcome is the result of one caller turn.
type Outcome struct {
	Action  Action
	Reply   string
	Closing string
}

// Lines are the fixed phrases the engine speaks.
type Lines struct {
	Greeting string
	Retry    string
	GiveUp   string
	Fallback string
	Closing  string
}

// DefaultLines returns the stock phrases.
func DefaultLines() Lines {
	return Lines{
		Greeting: "Hello! This is Zee, Mario's personal assistant. How may I help you today?",
		Retry:    "I didn't catch that. Could you repeat?",
		GiveUp:   "I'm sorry, I still couldn't hear you. Mario will get back to you soon. Goodbye!",
		Fallback: "I'm sorry, I'm having trouble processing that right now. Could you please repeat what you need help with?",
		Closing:  "Mario will get back to you soon. Have a great day!",
	}
}

// maxMisses is the number of consecutive empty utterances before giving up.
const maxMisses = 2

const (
	DefaultChatTimeout       = 8 * time.Second
	DefaultEscalationTimeout = 10 * time.Second
)

// Option configures an Engine.
type Option func(*options)

type options struct {
	logger            *zap.Logger
	now               func() time.Time
	escalator         Escalator
	lines             Lines
	chatTimeout       time.Duration
	escalationTimeout time.Duration
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithEscalator sets who is notified when a conversation closes.
func WithEscalator(e Escalator) Option {
	return func(o *options) {
		o.escalator = e
	}
}

// WithLines overrides the stock phrases. Empty fields keep their defaults.
func WithLines(l Lines) Option {
	return func(o *options) {
		if l.Greeting != "" {
			o.lines.Greeting = l.Greeting
		}
		if l.Retry != "" {
			o.lines.Retry = l.Retry
		}
		if l.GiveUp != "" {
			o.lines.GiveUp = l.GiveUp
		}
		if l.Fallback != "" {
			o.lines.Fallback = l.Fallback
		}
		if l.Closing != "" {
			o.lines.Closing = l.Closing
		}
	}
}

// WithChatTimeout bounds each Generator call.
func WithChatTimeout(d time.Duration) Option {
	return func(o *options) {
		o.chatTimeout = d
	}
}

// WithEscalationTimeout bounds each Escalator call.
func WithEscalationTimeout(d time.Duration) Option {
	return func(o *options) {
		o.escalationTimeout = d
	}
}

// Engine runs the turn-taking state machine for every call.
type Engine struct {
	store  Store
	gen    Generator
	policy Policy
	system string

	logger            *zap.Logger
	now               func() time.Time
	escalator         Escalator
	lines             Lines
	chatTimeout       time.Duration
	escalationTimeout time.Duration
}

// NewEngine creates an Engine. system is the instruction every transcript
// starts with.
func NewEngine(store Store, gen Generator, policy Policy, system string, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("conversation: store is required")
	}
	if gen == nil {
		return nil, fmt.Errorf("conversation: generator is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	cfg := &options{
		logger:            zap.NewNop(),
		now:               time.Now,
		lines:             DefaultLines(),
		chatTimeout:       DefaultChatTimeout,
		escalationTimeout: DefaultEscalationTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Engine{
		store:             store,
		gen:               gen,
		policy:            policy,
		system:            system,
		logger:            cfg.logger,
		now:               cfg.now,
		escalator:         cfg.escalator,
		lines:             cfg.lines,
		chatTimeout:       cfg.chatTimeout,
		escalationTimeout: cfg.escalationTimeout,
	}, nil
}

// Lines returns the phrases in use.
func (e *Engine) Lines() Lines {
	return e.lines
}

// Policy returns the decision policy in use.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Store returns the session store.
func (e *Engine) Store() Store {
	return e.store
}

// Greet opens the session for a new call and returns the greeting. The
// greeting is spoken by the platform and is not part of the transcript.
func (e *Engine) Greet(callID, caller string) string {
	e.store.GetOrCreate(callID, caller, System(e.system))
	e.logger.Info("call started", zap.String("call_sid", callID), zap.String("caller", caller))
	return e.lines.Greeting
}

// Respond processes one caller utterance.
func (e *Engine) Respond(ctx context.Context, u Utterance) Outcome {
	log := e.logger.With(zap.String("call_sid", u.CallID))
	sess := e.store.GetOrCreate(u.CallID, u.Caller, System(e.system))

	sess.mu.Lock()
	if sess.closed.Load() {
		sess.mu.Unlock()
		log.Info("utterance for closed session")
		return Outcome{Action: ActionEnd, Closing: e.lines.Closing}
	}

	text := strings.TrimSpace(u.Text)
	if text == "" {
		sess.misses++
		if misses := sess.misses; misses < maxMisses {
			sess.touch(e.now())
			sess.mu.Unlock()
			log.Info("no speech recognized", zap.Int("misses", misses))
			return Outcome{Action: ActionRetry, Reply: e.lines.Retry}
		}
		report, escalate := e.finishLocked(sess, "", ReasonNoSpeech)
		sess.mu.Unlock()

		log.Info("giving up after repeated silence")
		if escalate {
			e.escalate(ctx, report)
		}
		return Outcome{Action: ActionGiveUp, Reply: e.lines.GiveUp}
	}

	sess.misses = 0
	sess.turns = append(sess.turns, User(text))
	reply := e.generate(ctx, log, sess.snapshot())
	sess.turns = append(sess.turns, Assistant(reply))
	sess.touch(e.now())

	decision := e.policy.Decide(reply, sess.turns)
	log.Debug("turn decided",
		zap.String("decision", decision.String()),
		zap.Int("turns", len(sess.turns)),
	)
	if decision == Continue {
		sess.mu.Unlock()
		return Outcome{Action: ActionContinue, Reply: reply}
	}

	report, escalate := e.finishLocked(sess, "", ReasonEnded)
	sess.mu.Unlock()

	log.Info("conversation ended", zap.Int("turns", len(report.Turns)))
	if escalate {
		e.escalate(ctx, report)
	}
	return Outcome{Action: ActionEnd, Reply: reply, Closing: e.lines.Closing}
}

// Terminate handles a call that ended on the platform side. The session is
// removed and, when the caller said anything, escalated exactly once.
func (e *Engine) Terminate(ctx context.Context, callID, status string) {
	sess, ok := e.store.Delete(callID)
	if !ok {
		return
	}

	sess.mu.Lock()
	report, escalate := e.finishLocked(sess, status, ReasonHangup)
	sess.mu.Unlock()

	e.logger.Info("call terminated",
		zap.String("call_sid", callID),
		zap.String("status", status),
		zap.Int("turns", len(report.Turns)),
	)
	if escalate {
		e.escalate(ctx, report)
	}
}

// SweepIdle closes sessions untouched for longer than idle and returns how
// many were removed.
func (e *Engine) SweepIdle(ctx context.Context, idle time.Duration) int {
	removed := e.store.Sweep(idle, e.now())
	for _, sess := range removed {
		sess.mu.Lock()
		report, escalate := e.finishLocked(sess, "", ReasonIdle)
		sess.mu.Unlock()

		e.logger.Info("idle session removed", zap.String("call_sid", sess.callID))
		if escalate {
			e.escalate(ctx, report)
		}
	}
	return len(removed)
}

// finishLocked removes the session from the store and claims the single
// escalation for it. It must be called with sess.mu held.
func (e *Engine) finishLocked(sess *Session, status string, reason Reason) (Report, bool) {
	if !sess.closed.Load() {
		e.store.Delete(sess.callID)
	}

	report := Report{
		CallID: sess.callID,
		Caller: sess.caller,
		Status: status,
		Reason: reason,
		Turns:  sess.snapshot(),
	}
	if sess.escalated || !hasUserTurn(sess.turns) {
		return report, false
	}
	sess.escalated = true
	return report, true
}

func (e *Engine) generate(ctx context.Context, log *zap.Logger, turns []Turn) string {
	ctx, cancel := context.WithTimeout(ctx, e.chatTimeout)
	defer cancel()

	reply, err := e.gen.Generate(ctx, turns)
	if err != nil {
		log.Warn("chat completion failed, using fallback", zap.Error(err))
		return e.lines.Fallback
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		log.Warn("chat completion returned empty reply, using fallback")
		return e.lines.Fallback
	}
	return reply
}

// escalate runs the Escalator detached from the request's cancellation.
// Failures are logged and never reach the caller.
func (e *Engine) escalate(ctx context.Context, report Report) {
	if e.escalator == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.escalationTimeout)
	defer cancel()

	if err := e.escalator.Escalate(ctx, report); err != nil {
		e.logger.Error("escalation failed",
			zap.String("call_sid", report.CallID),
			zap.String("reason", string(report.Reason)),
			zap.Error(err),
		)
	}
}
