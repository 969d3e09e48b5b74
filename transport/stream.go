// Package transport serves Twilio Media Streams. Caller audio arrives over a
// WebSocket, is transcribed in chunks and fed to the conversation engine;
// replies are synthesized as μ-law and streamed back on the same socket.
package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	receptionist "github.com/agentplexus/omnivoice-receptionist"
	"github.com/agentplexus/omnivoice-receptionist/conversation"
	"github.com/agentplexus/omnivoice-receptionist/internal/client"
	"github.com/agentplexus/omnivoice-receptionist/twiml"
)

const (
	// DefaultChunkFrames is how many 20 ms media frames are buffered before
	// transcription, about three seconds of speech.
	DefaultChunkFrames = 150

	// ParamCaller is the <Stream> custom parameter carrying the caller number.
	ParamCaller = "caller"

	chunkQueue = 4
	outQueue   = 32
)

// Conversation is the turn engine driven by the stream.
type Conversation interface {
	Respond(ctx context.Context, u conversation.Utterance) conversation.Outcome
	Terminate(ctx context.Context, callID, status string)
}

// Transcriber converts buffered μ-law audio to text.
type Transcriber interface {
	TranscribeMuLaw(ctx context.Context, frames []byte) (string, error)
}

// Voice renders replies as μ-law audio, with a built-in <Say> for the
// closing line spoken while hanging up.
type Voice interface {
	Stream(ctx context.Context, text string) ([]byte, error)
	Say(text string) *twiml.Say
}

// CallUpdater redirects a live call to new TwiML.
type CallUpdater interface {
	UpdateCall(ctx context.Context, callSID string, params *client.UpdateCallParams) (*client.Call, error)
}

// Verify interface compliance at compile time.
var (
	_ Conversation = (*conversation.Engine)(nil)
	_ CallUpdater  = (*client.Client)(nil)
	_ http.Handler = (*Provider)(nil)
)

// Provider accepts Media Stream connections from Twilio.
type Provider struct {
	conv        Conversation
	stt         Transcriber
	voice       Voice
	calls       CallUpdater
	chunkFrames int
	logger      *zap.Logger
	upgrader    websocket.Upgrader

	mu          sync.RWMutex
	connections map[*Connection]struct{}
}

// Option configures the Provider.
type Option func(*Provider)

// WithCallUpdater sets the client used to hang up once a conversation ends.
// Without it the socket is simply closed.
func WithCallUpdater(calls CallUpdater) Option {
	return func(p *Provider) {
		p.calls = calls
	}
}

// WithChunkFrames sets how many media frames make one transcription chunk.
func WithChunkFrames(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.chunkFrames = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// New creates a Media Streams provider.
func New(conv Conversation, stt Transcriber, voice Voice, opts ...Option) *Provider {
	p := &Provider{
		conv:        conv,
		stt:         stt,
		voice:       voice,
		chunkFrames: DefaultChunkFrames,
		logger:      zap.NewNop(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		connections: make(map[*Connection]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ServeHTTP upgrades the request and runs the stream until Twilio stops it.
func (p *Provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := &Connection{
		provider: p,
		wsConn:   wsConn,
		logger:   p.logger,
		out:      make(chan outboundMessage, outQueue),
		chunks:   make(chan []byte, chunkQueue),
		done:     make(chan struct{}),
	}

	p.mu.Lock()
	p.connections[conn] = struct{}{}
	p.mu.Unlock()

	conn.run(r.Context())

	p.mu.Lock()
	delete(p.connections, conn)
	p.mu.Unlock()
}

// Len returns the number of open streams.
func (p *Provider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.connections)
}

// Close shuts down every open stream.
func (p *Provider) Close() error {
	p.mu.RLock()
	conns := make([]*Connection, 0, len(p.connections))
	for c := range p.connections {
		conns = append(conns, c)
	}
	p.mu.RUnlock()

	for _, c := range conns {
		_ = c.Close()
	}
	return nil
}

// Connection is one Media Stream.
type Connection struct {
	provider *Provider
	wsConn   *websocket.Conn
	logger   *zap.Logger

	mu        sync.RWMutex
	streamSID string
	callSID   string
	caller    string
	endMark   string
	closing   string

	ending    atomic.Bool
	out       chan outboundMessage
	chunks    chan []byte
	done      chan struct{}
	closeOnce sync.Once

	buf    []byte
	frames int
}

// StreamSID returns the stream identifier.
func (c *Connection) StreamSID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.streamSID
}

// CallSID returns the associated call SID.
func (c *Connection) CallSID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.callSID
}

// Close closes the connection.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.wsConn.Close()
	})
	return nil
}

// Twilio Media Streams message types.
type mediaMessage struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid,omitempty"`
	Start     *startMessage `json:"start,omitempty"`
	Media     *mediaPayload `json:"media,omitempty"`
	Mark      *markMessage  `json:"mark,omitempty"`
	Stop      *stopMessage  `json:"stop,omitempty"`
	DTMF      *dtmfMessage  `json:"dtmf,omitempty"`
}

type startMessage struct {
	StreamSID    string            `json:"streamSid"`
	AccountSID   string            `json:"accountSid"`
	CallSID      string            `json:"callSid"`
	Tracks       []string          `json:"tracks"`
	MediaFormat  mediaFormat       `json:"mediaFormat"`
	CustomParams map[string]string `json:"customParameters"`
}

type mediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type mediaPayload struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"` // base64 μ-law
}

type markMessage struct {
	Name string `json:"name"`
}

type stopMessage struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

type dtmfMessage struct {
	Digit string `json:"digit"`
}

type outboundMessage struct {
	Event     string         `json:"event"`
	StreamSID string         `json:"streamSid"`
	Media     *outboundMedia `json:"media,omitempty"`
	Mark      *markMessage   `json:"mark,omitempty"`
}

type outboundMedia struct {
	Payload string `json:"payload"`
}

func (c *Connection) run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()
	go func() {
		defer wg.Done()
		for chunk := range c.chunks {
			c.handleChunk(ctx, chunk)
		}
	}()

	c.readLoop(ctx)

	close(c.chunks)
	_ = c.Close()
	wg.Wait()

	if callSID := c.CallSID(); callSID != "" {
		c.provider.conv.Terminate(ctx, callSID, receptionist.CallStatusCompleted)
	}
}

// readLoop reads messages until the stream stops or the socket fails.
func (c *Connection) readLoop(ctx context.Context) {
	for {
		_, data, err := c.wsConn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.logger.Warn("media stream read failed", zap.String("call_sid", c.CallSID()), zap.Error(err))
				}
			}
			return
		}

		var msg mediaMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Event {
		case "connected":
			c.logger.Debug("media stream connected")

		case "start":
			if msg.Start != nil {
				c.mu.Lock()
				c.streamSID = msg.Start.StreamSID
				c.callSID = msg.Start.CallSID
				c.caller = msg.Start.CustomParams[ParamCaller]
				c.mu.Unlock()

				c.logger.Info("media stream started",
					zap.String("call_sid", msg.Start.CallSID),
					zap.String("stream_sid", msg.Start.StreamSID),
				)
			}

		case "media":
			if msg.Media != nil && msg.Media.Payload != "" {
				frame, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
				if err != nil {
					continue
				}
				c.buffer(frame)
			}

		case "mark":
			if msg.Mark == nil {
				continue
			}
			c.mu.RLock()
			final := c.endMark != "" && msg.Mark.Name == c.endMark
			c.mu.RUnlock()
			if final {
				c.hangUp(ctx)
			}

		case "dtmf":
			if msg.DTMF != nil {
				c.logger.Debug("dtmf received", zap.String("digit", msg.DTMF.Digit))
			}

		case "stop":
			c.logger.Info("media stream stopped", zap.String("call_sid", c.CallSID()))
			return
		}
	}
}

// buffer collects inbound frames and hands full chunks to the worker.
func (c *Connection) buffer(frame []byte) {
	if c.ending.Load() {
		return
	}
	c.buf = append(c.buf, frame...)
	c.frames++
	if c.frames < c.provider.chunkFrames {
		return
	}

	chunk := c.buf
	c.buf = nil
	c.frames = 0

	select {
	case c.chunks <- chunk:
	default:
		c.logger.Warn("transcription backlog full, dropping audio", zap.String("call_sid", c.CallSID()))
	}
}

func (c *Connection) handleChunk(ctx context.Context, chunk []byte) {
	if c.ending.Load() {
		return
	}

	c.mu.RLock()
	callSID, caller := c.callSID, c.caller
	c.mu.RUnlock()
	log := c.logger.With(zap.String("call_sid", callSID))

	text, err := c.provider.stt.TranscribeMuLaw(ctx, chunk)
	if err != nil {
		log.Warn("transcription failed", zap.Error(err))
		return
	}
	if text == "" {
		return
	}

	// The caller is talking; drop whatever is still queued for playback.
	c.send(outboundMessage{Event: "clear"})

	out := c.provider.conv.Respond(ctx, conversation.Utterance{
		CallID: callSID,
		Caller: caller,
		Text:   text,
	})

	spoken := c.speak(ctx, log, out.Reply)

	switch out.Action {
	case conversation.ActionEnd, conversation.ActionGiveUp:
		c.ending.Store(true)
		mark := "end-" + uuid.NewString()
		c.mu.Lock()
		c.endMark = mark
		c.closing = out.Closing
		c.mu.Unlock()

		if !spoken {
			c.hangUp(ctx)
			return
		}
		c.send(outboundMessage{Event: "mark", Mark: &markMessage{Name: mark}})
	}
}

func (c *Connection) speak(ctx context.Context, log *zap.Logger, text string) bool {
	if text == "" {
		return false
	}
	audio, err := c.provider.voice.Stream(ctx, text)
	if err != nil {
		log.Warn("reply synthesis failed", zap.Error(err))
		return false
	}
	c.send(outboundMessage{
		Event: "media",
		Media: &outboundMedia{Payload: base64.StdEncoding.EncodeToString(audio)},
	})
	return true
}

// hangUp speaks the closing line through the call's TwiML and ends the call.
func (c *Connection) hangUp(ctx context.Context) {
	c.mu.Lock()
	callSID, closing := c.callSID, c.closing
	c.endMark = ""
	c.mu.Unlock()

	calls := c.provider.calls
	if calls == nil {
		_ = c.Close()
		return
	}

	resp := twiml.New()
	if closing != "" {
		resp.Append(c.provider.voice.Say(closing))
	}
	resp.Append(&twiml.Hangup{})

	if _, err := calls.UpdateCall(ctx, callSID, &client.UpdateCallParams{Twiml: resp.String()}); err != nil {
		c.logger.Warn("failed to hang up call", zap.String("call_sid", callSID), zap.Error(err))
		_ = c.Close()
	}
}

// send queues a message for the writer.
func (c *Connection) send(msg outboundMessage) {
	msg.StreamSID = c.StreamSID()
	select {
	case c.out <- msg:
	case <-c.done:
	}
}

// writeLoop is the socket's only writer.
func (c *Connection) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.out:
			if err := c.wsConn.WriteJSON(msg); err != nil {
				c.logger.Warn("media stream write failed", zap.Error(err))
				_ = c.Close()
				return
			}
		}
	}
}
