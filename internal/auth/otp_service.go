// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"text/template"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/stepup/pkg/errutil"
)

var tracer = otel.Tracer("stepup/auth")

// DefaultOTPTitle is the subject line of passcode messages.
const DefaultOTPTitle = "Your verification code"

// DefaultOTPTemplate renders the passcode message body.
const DefaultOTPTemplate = `Hello {{.Name}},

Your verification code for account {{.Subject}} is {{.Code}}.
It expires in {{.TTLMinutes}} minutes. If you did not request it, ignore this message.
`

// OTPConfig holds the passcode lifetime and retry policy.
type OTPConfig struct {
	TTL    time.Duration
	Policy RetryPolicy
}

// DefaultOTPConfig returns the default passcode configuration.
func DefaultOTPConfig() OTPConfig {
	return OTPConfig{
		TTL:    DefaultOTPTTL,
		Policy: DefaultRetryPolicy(),
	}
}

// otpMessageData is the template input for passcode messages.
type otpMessageData struct {
	Name       string
	Subject    string
	Code       string
	TTLMinutes int
}

// OTPService manages the passcode lifecycle for a subject.
type OTPService struct {
	accounts   AccountDirectory
	otps       OTPRepository
	attempts   AttemptCache
	dispatcher *Dispatcher
	cfg        OTPConfig
	title      string
	body       *template.Template
	logger     *slog.Logger
	now        func() time.Time
}

// OTPServiceOption configures an OTPService.
type OTPServiceOption func(*OTPService)

// WithOTPConfig overrides the passcode lifetime and retry policy. Zero
// fields keep their defaults.
func WithOTPConfig(cfg OTPConfig) OTPServiceOption {
	return func(s *OTPService) {
		if cfg.TTL > 0 {
			s.cfg.TTL = cfg.TTL
		}
		if cfg.Policy.MaxAttempts > 0 {
			s.cfg.Policy.MaxAttempts = cfg.Policy.MaxAttempts
		}
		if cfg.Policy.AttemptWindow > 0 {
			s.cfg.Policy.AttemptWindow = cfg.Policy.AttemptWindow
		}
		if cfg.Policy.LockoutWindow > 0 {
			s.cfg.Policy.LockoutWindow = cfg.Policy.LockoutWindow
		}
	}
}

// WithOTPDispatcher sets the dispatcher used by SendOTP.
func WithOTPDispatcher(d *Dispatcher) OTPServiceOption {
	return func(s *OTPService) {
		s.dispatcher = d
	}
}

// WithOTPLogger sets the logger for fail-open and delivery diagnostics.
func WithOTPLogger(logger *slog.Logger) OTPServiceOption {
	return func(s *OTPService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithOTPClock sets the clock used for generation and expiry.
func WithOTPClock(now func() time.Time) OTPServiceOption {
	return func(s *OTPService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithOTPMessage overrides the message title and body template.
func WithOTPMessage(title string, body *template.Template) OTPServiceOption {
	return func(s *OTPService) {
		if title != "" {
			s.title = title
		}
		if body != nil {
			s.body = body
		}
	}
}

// NewOTPService creates a new OTPService.
func NewOTPService(
	accounts AccountDirectory,
	otps OTPRepository,
	attempts AttemptCache,
	opts ...OTPServiceOption,
) (*OTPService, error) {
	if accounts == nil {
		return nil, oops.Code("OTP_SERVICE_INVALID_CONFIG").Errorf("account directory cannot be nil")
	}
	if otps == nil {
		return nil, oops.Code("OTP_SERVICE_INVALID_CONFIG").Errorf("OTP repository cannot be nil")
	}
	if attempts == nil {
		return nil, oops.Code("OTP_SERVICE_INVALID_CONFIG").Errorf("attempt cache cannot be nil")
	}

	s := &OTPService{
		accounts: accounts,
		otps:     otps,
		attempts: attempts,
		cfg:      DefaultOTPConfig(),
		title:    DefaultOTPTitle,
		body:     template.Must(template.New("otp").Parse(DefaultOTPTemplate)),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RequestOTP returns the passcode to deliver to subject. A fresh passcode is
// generated when none is outstanding or the outstanding one expired;
// otherwise the outstanding code is reused and its timestamp refreshed.
//
// Fails with CodeAccountNotFound for unknown subjects and with
// CodeRetryLimitExceeded, carrying WaitMinutesKey, while the subject is
// locked out.
func (s *OTPService) RequestOTP(ctx context.Context, subject string) (code string, err error) {
	ctx, span := tracer.Start(ctx, "auth.otp.request",
		trace.WithAttributes(attribute.String("auth.subject", subject)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	exists, err := s.accounts.Exists(ctx, subject)
	if err != nil {
		return "", oops.Code("OTP_REQUEST_FAILED").
			With("operation", "Exists").
			With("subject", subject).
			Wrap(err)
	}
	if !exists {
		RecordOTPRequest(OutcomeUnknownAcct)
		return "", oops.Code(CodeAccountNotFound).
			With("subject", subject).
			Errorf("account not found")
	}

	now := s.now()
	record, err := s.otps.GetBySubject(ctx, subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// A lockout outlives the passcode row, which the sweeper may
			// already have removed.
			if err := s.checkRetryLimit(ctx, subject, now, now); err != nil {
				return "", err
			}
			return s.issue(ctx, subject, now)
		}
		return "", oops.Code("OTP_REQUEST_FAILED").
			With("operation", "GetBySubject").
			With("subject", subject).
			Wrap(err)
	}

	if err := s.checkRetryLimit(ctx, subject, record.GeneratedAt, now); err != nil {
		return "", err
	}

	if record.IsExpiredAt(now, s.cfg.TTL) {
		if err := s.otps.Delete(ctx, subject); err != nil {
			return "", oops.Code("OTP_REQUEST_FAILED").
				With("operation", "Delete").
				With("subject", subject).
				Wrap(err)
		}
		return s.issue(ctx, subject, now)
	}

	record.GeneratedAt = now
	if err := s.otps.Upsert(ctx, record); err != nil {
		return "", oops.Code("OTP_REQUEST_FAILED").
			With("operation", "Upsert").
			With("subject", subject).
			Wrap(err)
	}
	s.countAttempt(ctx, subject, now)
	span.SetAttributes(attribute.Bool("auth.otp.reused", true))
	RecordOTPRequest(OutcomeReused)
	return record.Code, nil
}

func (s *OTPService) issue(ctx context.Context, subject string, now time.Time) (string, error) {
	code, err := GenerateOTPCode()
	if err != nil {
		return "", err
	}
	record, err := NewOTPRecord(subject, code, now)
	if err != nil {
		return "", oops.Code("OTP_REQUEST_FAILED").
			With("operation", "NewOTPRecord").
			Wrap(err)
	}
	if err := s.otps.Upsert(ctx, record); err != nil {
		return "", oops.Code("OTP_REQUEST_FAILED").
			With("operation", "Upsert").
			With("subject", subject).
			Wrap(err)
	}
	s.countAttempt(ctx, subject, now)
	RecordOTPRequest(OutcomeIssued)
	return code, nil
}

// checkRetryLimit denies the request while the subject is locked out.
// generatedAt is the outstanding passcode's timestamp, or now when there is
// none. Attempt cache failures are logged and the request is allowed.
func (s *OTPService) checkRetryLimit(ctx context.Context, subject string, generatedAt, now time.Time) error {
	count, err := s.attempts.Get(ctx, subject)
	if err != nil {
		errutil.LogError(s.logger, "attempt cache read failed, allowing request", err)
		return nil
	}
	if count < s.cfg.Policy.MaxAttempts {
		return nil
	}

	limitAt, ok, err := s.attempts.LimitReachedAt(ctx, subject)
	if err != nil {
		errutil.LogError(s.logger, "attempt cache read failed, allowing request", err)
		return nil
	}
	if !ok {
		limitAt, err = s.attempts.MarkLimitReached(ctx, subject, now)
		if err != nil {
			errutil.LogError(s.logger, "attempt cache write failed, allowing request", err)
			return nil
		}
	}

	result := s.cfg.Policy.Check(count, limitAt, generatedAt, now)
	if result.Lapsed {
		if err := s.attempts.Reset(ctx, subject); err != nil {
			errutil.LogError(s.logger, "attempt cache reset failed", err)
		}
		return nil
	}
	if !result.Exceeded {
		return nil
	}

	wait := result.WaitMinutes()
	RecordOTPRequest(OutcomeRetryLimited)
	return oops.Code(CodeRetryLimitExceeded).
		With("subject", subject).
		With(WaitMinutesKey, wait).
		Errorf("passcode retry limit reached, try again in %d minutes", wait)
}

// countAttempt increments the attempt counter and marks the limit when it
// is reached. Failures are logged only.
func (s *OTPService) countAttempt(ctx context.Context, subject string, now time.Time) {
	count, err := s.attempts.Increment(ctx, subject)
	if err != nil {
		errutil.LogError(s.logger, "attempt cache increment failed", err)
		return
	}
	if count >= s.cfg.Policy.MaxAttempts {
		if _, err := s.attempts.MarkLimitReached(ctx, subject, now); err != nil {
			errutil.LogError(s.logger, "attempt cache write failed", err)
		}
	}
}

// VerifyOTP consumes the passcode for subject. A matching record is always
// deleted. Returns (true, nil) for a fresh match, (false, nil) for an
// expired match, and CodeInvalidOTP when nothing matches.
func (s *OTPService) VerifyOTP(ctx context.Context, subject, code string) (valid bool, err error) {
	ctx, span := tracer.Start(ctx, "auth.otp.verify",
		trace.WithAttributes(attribute.String("auth.subject", subject)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Bool("auth.otp.valid", valid))
		span.End()
	}()

	if !ValidOTPCode(code) {
		RecordOTPVerification(OutcomeInvalid)
		return false, oops.Code(CodeInvalidOTP).With("subject", subject).Errorf("invalid passcode")
	}

	record, err := s.otps.GetBySubjectAndCode(ctx, subject, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			RecordOTPVerification(OutcomeInvalid)
			return false, oops.Code(CodeInvalidOTP).With("subject", subject).Errorf("invalid passcode")
		}
		return false, oops.Code("OTP_VERIFY_FAILED").
			With("operation", "GetBySubjectAndCode").
			With("subject", subject).
			Wrap(err)
	}

	if err := s.otps.Delete(ctx, subject); err != nil {
		return false, oops.Code("OTP_VERIFY_FAILED").
			With("operation", "Delete").
			With("subject", subject).
			Wrap(err)
	}

	now := s.now()
	if record.IsExpiredAt(now, s.cfg.TTL) {
		RecordOTPVerification(OutcomeExpired)
		s.logger.DebugContext(ctx, "passcode expired",
			"code", CodeOTPExpired,
			"subject", subject,
			"generated_at", record.GeneratedAt,
		)
		return false, nil
	}

	if err := s.attempts.Reset(ctx, subject); err != nil {
		errutil.LogError(s.logger, "attempt cache reset failed", err)
	}
	RecordOTPVerification(OutcomeValid)
	return true, nil
}

// SendOTP renders the passcode message and hands it to the dispatcher. It
// returns immediately; delivery failure never affects the passcode.
func (s *OTPService) SendOTP(ctx context.Context, email, name, subject, code string) *Delivery {
	if s.dispatcher == nil {
		RecordOTPDelivery(OutcomeDropped)
		return failedDelivery(oops.Code("DISPATCH_UNAVAILABLE").Errorf("no dispatcher configured"))
	}

	var body bytes.Buffer
	data := otpMessageData{
		Name:       name,
		Subject:    subject,
		Code:       code,
		TTLMinutes: int(s.cfg.TTL / time.Minute),
	}
	if err := s.body.Execute(&body, data); err != nil {
		wrapped := oops.Code("OTP_RENDER_FAILED").With("subject", subject).Wrap(err)
		errutil.LogError(s.logger, "passcode message render failed", wrapped)
		RecordOTPDelivery(OutcomeFailed)
		return failedDelivery(wrapped)
	}

	return s.dispatcher.Dispatch(ctx, Message{
		Recipient: email,
		Name:      name,
		Title:     s.title,
		Body:      body.String(),
	})
}

// RequestAndSend requests a passcode for subject and sends it to the
// subject's contact address. Lookup and delivery failures are reported on
// the returned Delivery only.
func (s *OTPService) RequestAndSend(ctx context.Context, subject string) (*Delivery, error) {
	code, err := s.RequestOTP(ctx, subject)
	if err != nil {
		return nil, err
	}

	contact, err := s.accounts.Contact(ctx, subject)
	if err != nil {
		wrapped := oops.Code("OTP_CONTACT_LOOKUP_FAILED").With("subject", subject).Wrap(err)
		errutil.LogError(s.logger, "passcode contact lookup failed", wrapped)
		RecordOTPDelivery(OutcomeFailed)
		return failedDelivery(wrapped), nil
	}

	return s.SendOTP(ctx, contact.Email, contact.Name, subject, code), nil
}
