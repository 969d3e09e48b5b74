package server

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	twilioclient "github.com/twilio/twilio-go/client"
	"go.uber.org/zap"

	receptionist "github.com/agentplexus/omnivoice-receptionist"
)

// RequestIDHeader carries the request ID in requests and responses.
const RequestIDHeader = "X-Request-Id"

type ctxKey struct{}

// RequestID returns the request ID stored in ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				s.logger.Error("panic in handler",
					zap.String("path", r.URL.Path),
					zap.String("request_id", RequestID(r.Context())),
					zap.Any("panic", v),
					zap.ByteString("stack", debug.Stack()),
				)
				writeTwiML(w, s.calls.ErrorResponse())
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type signatureValidator struct {
	validator twilioclient.RequestValidator
	baseURL   string
}

func newSignatureValidator(authToken, baseURL string) *signatureValidator {
	return &signatureValidator{
		validator: twilioclient.NewRequestValidator(authToken),
		baseURL:   strings.TrimRight(baseURL, "/"),
	}
}

// url rebuilds the URL Twilio signed.
func (v *signatureValidator) url(r *http.Request) string {
	if v.baseURL != "" {
		return v.baseURL + r.URL.RequestURI()
	}
	scheme := "https"
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	} else if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func (v *signatureValidator) valid(r *http.Request) bool {
	params := map[string]string{}
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			return false
		}
		for k, vals := range r.PostForm {
			if len(vals) > 0 {
				params[k] = vals[0]
			}
		}
	}
	return v.validator.Validate(v.url(r), params, r.Header.Get(receptionist.SignatureHeader))
}

func (v *signatureValidator) middleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !v.valid(r) {
				logger.Warn("rejected webhook with invalid signature",
					zap.String("path", r.URL.Path),
					zap.String("request_id", RequestID(r.Context())),
				)
				http.Error(w, "invalid signature", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
