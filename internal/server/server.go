// Package server exposes the receptionist over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/agentplexus/omnivoice-receptionist/callsystem"
	"github.com/agentplexus/omnivoice-receptionist/tts"
	"github.com/agentplexus/omnivoice-receptionist/twiml"
)

// Audio serves synthesized speech.
type Audio interface {
	Audio(key string) ([]byte, bool)
	Render(ctx context.Context, text string) ([]byte, error)
}

var _ Audio = (*tts.Speaker)(nil)

// Server routes Twilio webhooks and audio requests.
type Server struct {
	calls     *callsystem.Provider
	audio     Audio
	stream    http.Handler
	validator *signatureValidator
	logger    *zap.Logger
	now       func() time.Time

	router *mux.Router
	http   *http.Server
}

// Option configures the Server.
type Option func(*Server)

// WithMediaStream serves Media Streams at /media-stream.
func WithMediaStream(h http.Handler) Option {
	return func(s *Server) {
		s.stream = h
	}
}

// WithSignatureValidation rejects webhooks whose X-Twilio-Signature does
// not match authToken. publicBaseURL is the externally visible origin
// Twilio signs; when empty it is derived from the request.
func WithSignatureValidation(authToken, publicBaseURL string) Option {
	return func(s *Server) {
		s.validator = newSignatureValidator(authToken, publicBaseURL)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithClock sets the time source used for health responses.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// New creates a Server.
func New(calls *callsystem.Provider, audio Audio, opts ...Option) *Server {
	s := &Server{
		calls:  calls,
		audio:  audio,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestID, s.recoverer)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/audio/{key:[0-9a-f]+}.wav", s.handleAudio).Methods(http.MethodGet)
	r.HandleFunc("/tts", s.handleTTS).Methods(http.MethodGet)
	if s.stream != nil {
		r.Handle(callsystem.PathMediaStream, s.stream).Methods(http.MethodGet)
	}

	hooks := r.NewRoute().Subrouter()
	if s.validator != nil {
		hooks.Use(s.validator.middleware(s.logger))
	}
	hooks.HandleFunc(callsystem.PathIncoming, s.twimlHandler(s.calls.HandleIncoming)).Methods(http.MethodPost)
	hooks.HandleFunc(callsystem.PathConversation, s.twimlHandler(s.calls.HandleConversation)).Methods(http.MethodPost)
	hooks.HandleFunc(callsystem.PathStatus, s.twimlHandler(s.calls.HandleStatus)).Methods(http.MethodPost)
	hooks.HandleFunc(callsystem.PathVoiceSummary, s.handleVoiceSummary).Methods(http.MethodGet, http.MethodPost)
	hooks.HandleFunc(callsystem.PathSummaryStatus, s.handleSummaryStatus).Methods(http.MethodPost)
	hooks.HandleFunc(callsystem.PathVoicemail, s.handleVoicemail).Methods(http.MethodPost)

	return r
}

type webhookFunc func(ctx context.Context, wh callsystem.Webhook) (*twiml.Response, error)

func (s *Server) twimlHandler(fn webhookFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			s.fail(w, r, err)
			return
		}
		resp, err := fn(r.Context(), callsystem.WebhookFromForm(r.Form))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeTwiML(w, resp)
	}
}

func (s *Server) handleVoiceSummary(w http.ResponseWriter, r *http.Request) {
	writeTwiML(w, s.calls.HandleVoiceSummary(r.Context(), r.FormValue("token")))
}

func (s *Server) handleSummaryStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.fail(w, r, err)
		return
	}
	token := r.URL.Query().Get("token")
	writeTwiML(w, s.calls.HandleSummaryStatus(r.Context(), token, callsystem.WebhookFromForm(r.Form)))
}

func (s *Server) handleVoicemail(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.fail(w, r, err)
		return
	}
	writeTwiML(w, s.calls.HandleVoicemail(r.Context(), callsystem.WebhookFromForm(r.Form)))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":       "ok",
		"timestamp":    s.now().UTC().Format(time.RFC3339),
		"active_calls": len(s.calls.Calls()),
	})
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	data, ok := s.audio.Audio(mux.Vars(r)["key"])
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeWAV(w, data)
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("text")
	if text == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}

	data, err := s.audio.Render(r.Context(), text)
	switch {
	case errors.Is(err, tts.ErrNoSynthesizer):
		http.Error(w, "speech synthesis is not configured", http.StatusServiceUnavailable)
		return
	case err != nil:
		s.logger.Warn("on-demand synthesis failed", zap.Error(err))
		http.Error(w, "speech synthesis failed", http.StatusBadGateway)
		return
	}
	writeWAV(w, data)
}

// fail answers a webhook that could not be handled. Twilio still gets
// valid TwiML so the caller hears an apology instead of an error tone.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("webhook failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", RequestID(r.Context())),
		zap.Error(err),
	)
	writeTwiML(w, s.calls.ErrorResponse())
}

func writeTwiML(w http.ResponseWriter, resp *twiml.Response) {
	w.Header().Set("Content-Type", twiml.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(resp.String()))
}

func writeWAV(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(data)
}

// ListenAndServe serves on addr until Shutdown is called.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("listening", zap.String("addr", ln.Addr().String()))
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight webhooks.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
