package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/mailcode/internal/clock"
	"github.com/jmerrifield20/mailcode/internal/delivery"
	"github.com/jmerrifield20/mailcode/internal/health"
	"github.com/jmerrifield20/mailcode/internal/queue"
	"github.com/jmerrifield20/mailcode/internal/registration"
	"github.com/jmerrifield20/mailcode/internal/verification"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ── Test environment ────────────────────────────────────────────────────

type testEnv struct {
	router *gin.Engine
	broker *queue.MemoryBroker
	clock  *clock.Fake
	svc    *registration.Service
}

func newTestEnv(t *testing.T, cfg RouterConfig) *testEnv {
	t.Helper()
	clk := clock.NewFake(time.Date(2023, 4, 10, 18, 30, 0, 0, time.Local))
	store := verification.NewStore(verification.Config{}, clk, clock.NewSequence(3821))
	broker := queue.NewMemoryBroker()
	producer := delivery.NewProducer(broker, queue.TaskQueue(""), delivery.RetryPolicy{Attempts: 1}, zap.NewNop())
	svc := registration.NewService(store, producer, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	router := NewRouter(ctx, cfg,
		NewRegistrationHandler(svc, zap.NewNop()),
		NewHealthHandler(health.New(broker, health.Config{FailThreshold: 1}, zap.NewNop())),
		zap.NewNop(),
	)
	return &testEnv{router: router, broker: broker, clock: clk, svc: svc}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var resp apiResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func expect(t *testing.T, w *httptest.ResponseRecorder, resp apiResponse, code int, msg string) {
	t.Helper()
	if w.Code != code {
		t.Errorf("status = %d, want %d (body %s)", w.Code, code, w.Body.String())
	}
	if resp.Message != msg {
		t.Errorf("message = %q, want %q", resp.Message, msg)
	}
}

// ── send-code ───────────────────────────────────────────────────────────

func TestSendCode_OK(t *testing.T) {
	env := newTestEnv(t, RouterConfig{})

	w, resp := env.do(t, http.MethodPost, "/api/registration/send-code", gin.H{"email": "a@b.com"})

	expect(t, w, resp, http.StatusOK, MsgSent)
	if !resp.Success {
		t.Error("success = false")
	}
	if n := env.broker.Ready("email_tasks"); n != 1 {
		t.Errorf("queued tasks = %d, want 1", n)
	}
	if w.Header().Get(RequestIDHeader) == "" {
		t.Error("missing request ID header")
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
}

func TestSendCode_Cooldown(t *testing.T) {
	env := newTestEnv(t, RouterConfig{})

	env.do(t, http.MethodPost, "/api/registration/send-code", gin.H{"email": "a@b.com"})
	w, resp := env.do(t, http.MethodPost, "/api/registration/send-code", gin.H{"email": "a@b.com"})

	expect(t, w, resp, http.StatusBadRequest, MsgCooldown)
	if resp.Success {
		t.Error("success = true during cooldown")
	}
}

func TestSendCode_InvalidInput(t *testing.T) {
	env := newTestEnv(t, RouterConfig{})

	for _, body := range []any{gin.H{"email": "not-an-email"}, gin.H{}, "{broken"} {
		w, resp := env.do(t, http.MethodPost, "/api/registration/send-code", body)
		expect(t, w, resp, http.StatusBadRequest, MsgInvalidEmail)
	}
}

func TestSendCode_DeliveryFailure(t *testing.T) {
	env := newTestEnv(t, RouterConfig{})
	env.broker.FailDials(queue.ErrUnavailable, queue.ErrUnavailable)

	// Lenient by default: the requester is told the code was sent.
	w, resp := env.do(t, http.MethodPost, "/api/registration/send-code", gin.H{"email": "a@b.com"})
	expect(t, w, resp, http.StatusOK, MsgSent)

	env.svc.SetStrictDelivery(true)
	w, resp = env.do(t, http.MethodPost, "/api/registration/send-code", gin.H{"email": "c@d.com"})
	expect(t, w, resp, http.StatusServiceUnavailable, MsgSendFailed)
}

// ── verify-code ─────────────────────────────────────────────────────────

func TestVerifyCode_Flow(t *testing.T) {
	env := newTestEnv(t, RouterConfig{})
	env.do(t, http.MethodPost, "/api/registration/send-code", gin.H{"email": "a@b.com"})

	w, resp := env.do(t, http.MethodPost, "/api/registration/verify-code", gin.H{"email": "a@b.com", "code": "0000"})
	expect(t, w, resp, http.StatusBadRequest, verification.MessageMismatch)

	w, resp = env.do(t, http.MethodPost, "/api/registration/verify-code", gin.H{"email": "a@b.com", "code": "4821"})
	expect(t, w, resp, http.StatusOK, verification.MessageSuccess)
	if !resp.Success {
		t.Error("success = false for correct code")
	}

	w, resp = env.do(t, http.MethodPost, "/api/registration/verify-code", gin.H{"email": "a@b.com", "code": "4821"})
	expect(t, w, resp, http.StatusBadRequest, verification.MessageNotFound)
}

func TestVerifyCode_Expired(t *testing.T) {
	env := newTestEnv(t, RouterConfig{})
	env.do(t, http.MethodPost, "/api/registration/send-code", gin.H{"email": "a@b.com"})
	env.clock.Advance(10*time.Minute + time.Second)

	w, resp := env.do(t, http.MethodPost, "/api/registration/verify-code", gin.H{"email": "a@b.com", "code": "4821"})
	expect(t, w, resp, http.StatusBadRequest, verification.MessageExpired)
}

func TestVerifyCode_InvalidInput(t *testing.T) {
	env := newTestEnv(t, RouterConfig{})

	for _, body := range []any{gin.H{"email": "a@b.com", "code": "12"}, gin.H{"email": "x", "code": "1234"}, "nope"} {
		w, resp := env.do(t, http.MethodPost, "/api/registration/verify-code", body)
		expect(t, w, resp, http.StatusBadRequest, MsgInvalidInput)
	}
}

func TestVerifyCode_NonASCIICodeIsMismatch(t *testing.T) {
	env := newTestEnv(t, RouterConfig{})
	env.do(t, http.MethodPost, "/api/registration/send-code", gin.H{"email": "a@b.com"})

	w, resp := env.do(t, http.MethodPost, "/api/registration/verify-code", gin.H{"email": "a@b.com", "code": "４８２１"})
	expect(t, w, resp, http.StatusBadRequest, verification.MessageMismatch)
}

// ── status, health, middleware ──────────────────────────────────────────

func TestStatus(t *testing.T) {
	env := newTestEnv(t, RouterConfig{})
	env.do(t, http.MethodPost, "/api/registration/send-code", gin.H{"email": "a@b.com"})

	w, resp := env.do(t, http.MethodGet, "/api/registration/status?email=a@b.com", nil)
	if w.Code != http.StatusOK || !resp.Success {
		t.Fatalf("status = %d success = %v", w.Code, resp.Success)
	}
	want := map[string]any{"hasPendingVerification": true, "canRequestNewCode": false}
	if !reflect.DeepEqual(resp.Data, want) {
		t.Errorf("data = %#v, want %#v", resp.Data, want)
	}

	w, _ = env.do(t, http.MethodGet, "/api/registration/status", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing email: status = %d, want 400", w.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, RouterConfig{})

	if w, _ := env.do(t, http.MethodGet, "/healthz", nil); w.Code != http.StatusOK {
		t.Errorf("/healthz = %d", w.Code)
	}
	if w, _ := env.do(t, http.MethodGet, "/readyz", nil); w.Code != http.StatusOK {
		t.Errorf("/readyz = %d", w.Code)
	}

	env.broker.FailDials(queue.ErrUnavailable)
	w, _ := env.do(t, http.MethodGet, "/readyz", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("/readyz with broker down = %d, want 503", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"unavailable"`) {
		t.Errorf("unexpected body %s", w.Body.String())
	}
}

func TestRateLimiter(t *testing.T) {
	env := newTestEnv(t, RouterConfig{RateLimitRPS: 1})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w, _ := env.do(t, http.MethodGet, "/healthz", nil)
		codes = append(codes, w.Code)
	}
	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	if !reflect.DeepEqual(codes, want) {
		t.Errorf("codes = %v, want %v", codes, want)
	}
}

func TestRequestID_Propagated(t *testing.T) {
	env := newTestEnv(t, RouterConfig{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if got := w.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Errorf("request ID = %q, want abc-123", got)
	}
}

func TestContainsWildcard(t *testing.T) {
	if !containsWildcard([]string{"http://a", " * "}) {
		t.Error("expected wildcard to be detected")
	}
	if containsWildcard([]string{"http://a"}) {
		t.Error("unexpected wildcard")
	}
}
