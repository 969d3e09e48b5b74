package escalation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	receptionist "github.com/agentplexus/omnivoice-receptionist"
	"github.com/agentplexus/omnivoice-receptionist/conversation"
	"github.com/agentplexus/omnivoice-receptionist/internal/client"
	"github.com/agentplexus/omnivoice-receptionist/obs"
)

// Mode selects how the owner is notified.
type Mode string

const (
	// ModeVoice places a call that reads the summary aloud.
	ModeVoice Mode = "voice"
	// ModeSMS sends the summary as a text message.
	ModeSMS Mode = "sms"
)

// ParseMode validates a configured mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeVoice:
		return ModeVoice, nil
	case ModeSMS:
		return ModeSMS, nil
	default:
		return "", fmt.Errorf("escalation: unknown mode %q", s)
	}
}

// SummaryRingTimeout is how long the summary call rings before giving up.
const SummaryRingTimeout = 20

// ErrNotConfigured is returned when the phone numbers needed to notify
// the owner are missing.
var ErrNotConfigured = errors.New("escalation: notification numbers are not configured")

// Notifier is the telephony API used for notifications.
type Notifier interface {
	MakeCall(ctx context.Context, params *client.MakeCallParams) (*client.Call, error)
	SendMessage(ctx context.Context, params *client.SendMessageParams) (*client.Message, error)
}

// Verify interface compliance at compile time.
var (
	_ Notifier               = (*client.Client)(nil)
	_ conversation.Escalator = (*Service)(nil)
)

// Config holds the notification settings.
type Config struct {
	Mode      Mode
	From      string
	To        string
	BaseURL   string
	Owner     string
	Assistant string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock sets the time source used by the gate.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service notifies the owner about finished conversations.
type Service struct {
	cfg      Config
	gate     *Gate
	notifier Notifier
	signer   *Signer
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a Service.
func NewService(cfg Config, gate *Gate, notifier Notifier, signer *Signer, opts ...Option) *Service {
	if cfg.Mode == "" {
		cfg.Mode = ModeVoice
	}
	if cfg.Owner == "" {
		cfg.Owner = "Mario"
	}
	if cfg.Assistant == "" {
		cfg.Assistant = "Zee"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	s := &Service{
		cfg:      cfg,
		gate:     gate,
		notifier: notifier,
		signer:   signer,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Gate returns the cooldown gate.
func (s *Service) Gate() *Gate {
	return s.gate
}

func (s *Service) configured() bool {
	return s.notifier != nil && s.cfg.From != "" && s.cfg.To != ""
}

// Escalate sends the owner a summary of report, unless the caller said
// nothing, the numbers are not configured, or the caller was escalated
// within the cooldown window.
func (s *Service) Escalate(ctx context.Context, report conversation.Report) error {
	log := s.logger.With(zap.String("call_sid", report.CallID), zap.String("caller", report.Caller))

	messages := report.UserMessages()
	if len(messages) == 0 {
		return nil
	}
	if !s.configured() {
		log.Warn("skipping escalation", zap.Error(ErrNotConfigured))
		return nil
	}
	if !s.gate.ShouldEscalate(gateKey(report), s.now()) {
		log.Info("escalation suppressed by cooldown", zap.Duration("cooldown", s.gate.Cooldown()))
		return nil
	}

	summary := Summary(s.cfg.Owner, s.cfg.Assistant, report.Caller, messages)

	ctx, rec := obs.Start(ctx, "escalation.notify",
		attribute.String("mode", string(s.cfg.Mode)),
		attribute.String("reason", string(report.Reason)),
	)
	err := s.notify(ctx, log, summary, report.Caller)
	rec.End(err)
	return err
}

// gateKey keys withheld numbers by call, so anonymous callers do not share
// one cooldown.
func gateKey(report conversation.Report) string {
	if report.Caller == "" {
		return "anonymous:" + report.CallID
	}
	return report.Caller
}

func (s *Service) notify(ctx context.Context, log *zap.Logger, summary, caller string) error {
	if s.cfg.Mode == ModeSMS || s.cfg.BaseURL == "" {
		if err := s.sendSMS(ctx, summary); err != nil {
			return err
		}
		log.Info("summary sent by SMS")
		return nil
	}

	err := s.call(ctx, summary, caller)
	if err == nil {
		log.Info("summary call placed")
		return nil
	}

	log.Warn("summary call failed, falling back to SMS", zap.Error(err))
	if smsErr := s.sendSMS(ctx, BackupMessage(summary)); smsErr != nil {
		return errors.Join(err, smsErr)
	}
	return nil
}

func (s *Service) call(ctx context.Context, summary, caller string) error {
	token, err := s.signer.Sign(summary, caller)
	if err != nil {
		return err
	}
	q := url.Values{"token": {token}}.Encode()

	call, err := s.notifier.MakeCall(ctx, &client.MakeCallParams{
		To:             s.cfg.To,
		From:           s.cfg.From,
		URL:            s.cfg.BaseURL + "/voice-summary?" + q,
		Method:         "POST",
		StatusCallback: s.cfg.BaseURL + "/summary-status?" + q,
		Timeout:        SummaryRingTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to place summary call: %w", err)
	}
	s.logger.Debug("summary call created", zap.String("summary_call_sid", call.SID))
	return nil
}

func (s *Service) sendSMS(ctx context.Context, body string) error {
	_, err := s.notifier.SendMessage(ctx, &client.SendMessageParams{
		To:   s.cfg.To,
		From: s.cfg.From,
		Body: body,
	})
	if err != nil {
		return fmt.Errorf("failed to send summary message: %w", err)
	}
	return nil
}

// SummaryFromToken returns the summary carried by a callback token.
func (s *Service) SummaryFromToken(token string) (string, error) {
	claims, err := s.signer.Verify(token)
	if err != nil {
		return "", err
	}
	return claims.Summary, nil
}

// HandleSummaryStatus sends the SMS backup when the summary call was not
// delivered. Other statuses, and callbacks whose token does not verify,
// are ignored.
func (s *Service) HandleSummaryStatus(ctx context.Context, token, status string) error {
	log := s.logger.With(zap.String("status", status))
	if !receptionist.IsUndelivered(status) {
		log.Debug("summary call status")
		return nil
	}
	if !s.configured() {
		log.Warn("skipping SMS backup", zap.Error(ErrNotConfigured))
		return nil
	}

	summary, err := s.SummaryFromToken(token)
	if err != nil {
		log.Warn("summary token rejected, no SMS backup sent", zap.Error(err))
		return nil
	}

	ctx, rec := obs.Start(ctx, "escalation.sms_backup", attribute.String("status", status))
	err = s.sendSMS(ctx, BackupMessage(summary))
	rec.End(err)
	if err != nil {
		return err
	}
	log.Info("SMS backup sent")
	return nil
}

// NotifyVoicemail texts the owner about a recorded voicemail.
func (s *Service) NotifyVoicemail(ctx context.Context, caller, transcript, recordingURL string) error {
	if !s.configured() {
		s.logger.Warn("skipping voicemail notification", zap.Error(ErrNotConfigured))
		return nil
	}

	ctx, rec := obs.Start(ctx, "escalation.voicemail")
	err := s.sendSMS(ctx, VoicemailMessage(caller, transcript, recordingURL))
	rec.End(err)
	if err != nil {
		return err
	}
	s.logger.Info("voicemail notification sent", zap.String("caller", caller))
	return nil
}
