package registration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jmerrifield20/mailcode/internal/clock"
	"github.com/jmerrifield20/mailcode/internal/delivery"
	"github.com/jmerrifield20/mailcode/internal/verification"
)

var now = time.Date(2023, 4, 10, 18, 30, 0, 0, time.Local)

// stubPublisher records published tasks and fails with err when set.
type stubPublisher struct {
	mu    sync.Mutex
	tasks []delivery.Task
	err   error
}

func (p *stubPublisher) Publish(_ context.Context, task delivery.Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.tasks = append(p.tasks, task)
	return nil
}

func newTestService(t *testing.T) (*Service, *stubPublisher, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(now)
	store := verification.NewStore(verification.Config{}, clk, clock.NewSequence(3821))
	pub := &stubPublisher{}
	return NewService(store, pub, zap.NewNop()), pub, clk
}

func TestSendCode_PublishesTask(t *testing.T) {
	svc, pub, _ := newTestService(t)

	require.NoError(t, svc.SendCode(context.Background(), " a@b.com "))

	require.Len(t, pub.tasks, 1)
	assert.Equal(t, delivery.NewTask("a@b.com", "4821", now), pub.tasks[0])
}

func TestSendCode_Cooldown(t *testing.T) {
	svc, pub, clk := newTestService(t)
	var issued []bool
	svc.SetMetricsRecorders(func(ok bool) { issued = append(issued, ok) }, nil)

	require.NoError(t, svc.SendCode(context.Background(), "a@b.com"))
	clk.Advance(30 * time.Second)
	require.ErrorIs(t, svc.SendCode(context.Background(), "a@b.com"), ErrCooldown)
	clk.Advance(30 * time.Second)
	require.NoError(t, svc.SendCode(context.Background(), "a@b.com"))

	assert.Len(t, pub.tasks, 2)
	assert.Equal(t, []bool{true, false, true}, issued)
}

func TestSendCode_InvalidEmail(t *testing.T) {
	svc, pub, _ := newTestService(t)

	for _, email := range []string{"", "   ", "no-at-sign", "@b.com", "a@", "a@b@c", "a b@c.com"} {
		require.ErrorIs(t, svc.SendCode(context.Background(), email), ErrInvalidEmail, email)
	}
	assert.Empty(t, pub.tasks)
}

func TestSendCode_DeliveryFailureLenient(t *testing.T) {
	svc, pub, _ := newTestService(t)
	pub.err = delivery.ErrDeliveryFailed

	require.NoError(t, svc.SendCode(context.Background(), "a@b.com"))

	st, err := svc.Status("a@b.com")
	require.NoError(t, err)
	assert.True(t, st.HasPendingVerification)
}

func TestSendCode_DeliveryFailureStrict(t *testing.T) {
	svc, pub, _ := newTestService(t)
	svc.SetStrictDelivery(true)
	pub.err = delivery.ErrDeliveryFailed

	err := svc.SendCode(context.Background(), "a@b.com")
	require.ErrorIs(t, err, ErrDeliveryUnavailable)
	require.ErrorIs(t, err, delivery.ErrDeliveryFailed)

	st, err := svc.Status("a@b.com")
	require.NoError(t, err)
	assert.True(t, st.HasPendingVerification, "code stays issued")
	assert.False(t, st.CanRequestNewCode, "cooldown still applies")
}

func TestVerifyCode(t *testing.T) {
	svc, _, _ := newTestService(t)
	var outcomes []string
	svc.SetMetricsRecorders(nil, func(o string) { outcomes = append(outcomes, o) })
	require.NoError(t, svc.SendCode(context.Background(), "a@b.com"))

	res, err := svc.VerifyCode("a@b.com", "0000")
	require.NoError(t, err)
	assert.Equal(t, verification.OutcomeMismatch, res.Outcome)
	assert.Equal(t, "Invalid verification code.", res.Message())

	res, err = svc.VerifyCode("a@b.com", "4821")
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.Equal(t, "Email verified successfully!", res.Message())

	res, err = svc.VerifyCode("a@b.com", "4821")
	require.NoError(t, err)
	assert.Equal(t, verification.OutcomeNotFound, res.Outcome)

	assert.Equal(t, []string{"mismatch", "success", "not_found"}, outcomes)
}

func TestVerifyCode_InvalidInput(t *testing.T) {
	svc, _, _ := newTestService(t)

	tests := []struct{ email, code string }{
		{"", "4821"},
		{"bad", "4821"},
		{"a@b.com", ""},
		{"a@b.com", "482"},
		{"a@b.com", "48210"},
		{"a@b.com", " 4821"},
	}
	for _, tc := range tests {
		_, err := svc.VerifyCode(tc.email, tc.code)
		assert.True(t, errors.Is(err, ErrInvalidInput), "%q/%q", tc.email, tc.code)
	}
}

func TestVerifyCode_CountsCharactersNotBytes(t *testing.T) {
	svc, _, _ := newTestService(t)
	require.NoError(t, svc.SendCode(context.Background(), "a@b.com"))

	// Four characters each: they reach the store and simply do not match.
	for _, code := range []string{"４８２１", " 482"} {
		res, err := svc.VerifyCode("a@b.com", code)
		require.NoError(t, err, "%q", code)
		assert.Equal(t, verification.OutcomeMismatch, res.Outcome, "%q", code)
	}

	res, err := svc.VerifyCode("a@b.com", "4821")
	require.NoError(t, err)
	assert.True(t, res.Success())
}

func TestStatus(t *testing.T) {
	svc, _, clk := newTestService(t)

	st, err := svc.Status("a@b.com")
	require.NoError(t, err)
	assert.Equal(t, Status{HasPendingVerification: false, CanRequestNewCode: true}, st)

	require.NoError(t, svc.SendCode(context.Background(), "a@b.com"))
	st, _ = svc.Status("a@b.com")
	assert.Equal(t, Status{HasPendingVerification: true, CanRequestNewCode: false}, st)

	clk.Advance(11 * time.Minute)
	st, _ = svc.Status("a@b.com")
	assert.Equal(t, Status{HasPendingVerification: false, CanRequestNewCode: true}, st)

	_, err = svc.Status("nope")
	require.ErrorIs(t, err, ErrInvalidEmail)
}
