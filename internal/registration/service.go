// Package registration ties the code store to the delivery producer: it
// validates requests, applies the issuance cooldown, publishes tasks and
// checks submitted codes.
package registration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/jmerrifield20/mailcode/internal/delivery"
	"github.com/jmerrifield20/mailcode/internal/verification"
)

// CodeLength is the number of characters a submitted code must have.
const CodeLength = 4

var (
	// ErrInvalidEmail is returned for an empty or syntactically wrong address.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrInvalidInput is returned by VerifyCode when the email or code is malformed.
	ErrInvalidInput = errors.New("invalid email or code")
	// ErrCooldown is returned when a code was issued too recently.
	ErrCooldown = errors.New("cooldown active")
	// ErrDeliveryUnavailable is returned in strict mode when the task could not
	// be published. The code stays issued.
	ErrDeliveryUnavailable = errors.New("delivery unavailable")
)

// Publisher hands a task to the delivery channel. *delivery.Producer
// satisfies it.
type Publisher interface {
	Publish(ctx context.Context, task delivery.Task) error
}

// codeStore is the part of *verification.Store the service uses.
type codeStore interface {
	TryIssue(email string) (verification.Record, bool)
	Verify(email, code string) verification.Result
	HasPendingVerification(email string) bool
	CanRequestNewCode(email string) bool
}

// Status reports where an address stands in the verification flow.
type Status struct {
	HasPendingVerification bool `json:"hasPendingVerification"`
	CanRequestNewCode      bool `json:"canRequestNewCode"`
}

// IssueRecorder is an optional callback for issuance outcomes.
type IssueRecorder func(issued bool)

// VerifyRecorder is an optional callback receiving verification outcome labels.
type VerifyRecorder func(outcome string)

// Service implements the send/verify/status operations.
type Service struct {
	store     codeStore
	publisher Publisher
	strict    bool
	onIssue   IssueRecorder
	onVerify  VerifyRecorder
	logger    *zap.Logger
}

// NewService creates a Service. Delivery failures are logged and otherwise
// ignored until SetStrictDelivery(true) is called.
func NewService(store codeStore, publisher Publisher, logger *zap.Logger) *Service {
	return &Service{store: store, publisher: publisher, logger: logger}
}

// SetStrictDelivery makes SendCode return ErrDeliveryUnavailable when the
// task could not be published.
func (s *Service) SetStrictDelivery(strict bool) {
	s.strict = strict
}

// SetMetricsRecorders configures the metrics callbacks. Either may be nil.
func (s *Service) SetMetricsRecorders(issue IssueRecorder, verify VerifyRecorder) {
	s.onIssue = issue
	s.onVerify = verify
}

// SendCode issues a code for email and publishes it for delivery.
func (s *Service) SendCode(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if !ValidEmail(email) {
		return ErrInvalidEmail
	}

	rec, ok := s.store.TryIssue(email)
	if s.onIssue != nil {
		s.onIssue(ok)
	}
	if !ok {
		return ErrCooldown
	}

	task := delivery.NewTask(email, rec.Code, rec.IssuedAt)
	if err := s.publisher.Publish(ctx, task); err != nil {
		if s.strict {
			return fmt.Errorf("%w: %w", ErrDeliveryUnavailable, err)
		}
		s.logger.Warn("code issued but not queued for delivery",
			zap.String("email", email),
			zap.Error(err),
		)
		return nil
	}

	s.logger.Info("verification code sent", zap.String("email", email))
	return nil
}

// VerifyCode checks code against the pending record for email. The code is
// compared as submitted; only its length in characters is checked here.
func (s *Service) VerifyCode(email, code string) (verification.Result, error) {
	email = strings.TrimSpace(email)
	if !ValidEmail(email) || utf8.RuneCountInString(code) != CodeLength {
		return verification.Result{}, ErrInvalidInput
	}

	res := s.store.Verify(email, code)
	if s.onVerify != nil {
		s.onVerify(res.Outcome.String())
	}
	if res.Success() {
		s.logger.Info("email verified", zap.String("email", email))
	} else {
		s.logger.Warn("verification failed",
			zap.String("email", email),
			zap.Stringer("outcome", res.Outcome),
		)
	}
	return res, nil
}

// Status reports pending and cooldown state for email without changing it.
func (s *Service) Status(email string) (Status, error) {
	email = strings.TrimSpace(email)
	if !ValidEmail(email) {
		return Status{}, ErrInvalidEmail
	}
	return Status{
		HasPendingVerification: s.store.HasPendingVerification(email),
		CanRequestNewCode:      s.store.CanRequestNewCode(email),
	}, nil
}

// ValidEmail accepts an address with exactly one '@' that is neither the
// first nor the last character. Deliverability is the mail server's problem.
func ValidEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	return at > 0 &&
		at < len(email)-1 &&
		strings.Count(email, "@") == 1 &&
		!strings.ContainsAny(email, " \t\r\n")
}
